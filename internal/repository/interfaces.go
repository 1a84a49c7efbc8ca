// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/jobconnect/internal/model"
)

// UserRepository はPrincipal（認証ユーザー）の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Principal, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Principal, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// メールアドレスまたはidentityが重複する場合はErrDuplicateを返す。
	CreateWithIdentity(ctx context.Context, user *model.Principal, identity *model.Identity) error

	// UpdateMetadata はプロバイダーから受け取ったfull_name/nameを上書きする。
	UpdateMetadata(ctx context.Context, id string, metadata model.Metadata) error

	// Delete はユーザーを削除する。identities/sessions/profilesはCASCADEで消える。
	Delete(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create は既存ユーザーにidentityを追加する。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ProfileRepository はprofilesテーブルの永続化インターフェース。
type ProfileRepository interface {
	// SelectByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	SelectByID(ctx context.Context, id string) (*model.Profile, error)

	// Insert はプロフィールを作成する。既に存在する場合はErrDuplicateを返す。
	Insert(ctx context.Context, profile *model.Profile) error

	// InsertIfAbsent はプロフィールが存在しない場合のみ作成する。
	// 作成した場合はtrue、既存行があった場合はfalseを返す。
	InsertIfAbsent(ctx context.Context, profile *model.Profile) (bool, error)
}
