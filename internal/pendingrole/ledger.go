// Package pendingrole はOAuthリダイレクトをまたいで選択ロールを保持する台帳を提供する。
// 台帳はフローごとのワンタイムトークンをキーにするため、複数タブのフローが干渉しない。
package pendingrole

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/jobconnect/internal/model"
)

// DefaultTTL は保留ロールの有効期間の既定値。
const DefaultTTL = 15 * time.Minute

// ErrInvalidToken はトークンが空または形式不正の場合のエラー。
var ErrInvalidToken = errors.New("invalid flow token")

// Ledger は保留ロールの保存先インターフェース。
type Ledger interface {
	// Set はトークンにロールを保存する。既存の値は上書きされる。
	Set(ctx context.Context, token string, role model.Role) error
	// Get はトークンに対応するロールを返す。無い場合はokがfalse。
	Get(ctx context.Context, token string) (role model.Role, ok bool, err error)
	// Clear はトークンのロールを削除する。存在しなくてもエラーにしない。
	Clear(ctx context.Context, token string) error
	// Take はロールを取得して削除する。同じトークンで2回目以降はokがfalse。
	Take(ctx context.Context, token string) (role model.Role, ok bool, err error)
}

// NewToken は新しいフロートークンを生成する。
func NewToken() string {
	return uuid.NewString()
}

// ValidToken はトークンがNewTokenで生成された形式かを返す。
func ValidToken(token string) bool {
	if token == "" {
		return false
	}
	_, err := uuid.Parse(token)
	return err == nil
}
