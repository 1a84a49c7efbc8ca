// Package model はドメインモデルを定義する。
package model

import "time"

// Metadata はサインアップ時やOAuthプロバイダーから受け取ったユーザー付帯情報を表す。
// RoleはサインアップフォームでのみセットされOAuth経由では空になる。
type Metadata struct {
	FullName string
	Name     string
	Role     Role
}

// DisplayName はfull_nameを優先し、未設定の場合はnameを返す。
func (m Metadata) DisplayName() string {
	if m.FullName != "" {
		return m.FullName
	}
	return m.Name
}

// Principal は認証済みのユーザーを表す。
type Principal struct {
	ID           string
	Email        string
	PasswordHash string
	Metadata     Metadata
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity は外部IdPまたはメール/パスワードとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// IdentityProviderEmail はメール/パスワード認証のidentityに使うプロバイダー名。
const IdentityProviderEmail = "email"

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	Provider  string // サインイン手段（"email", "google" 等）
	ExpiresAt time.Time
	CreatedAt time.Time
}
