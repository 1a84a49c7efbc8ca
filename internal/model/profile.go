package model

import (
	"fmt"
	"strings"
	"time"
)

// Role はプロフィールのロールを表す。閲覧できるダッシュボードを決定する。
type Role string

const (
	RoleJobSeeker Role = "job_seeker"
	RoleEmployer  Role = "employer"
)

// ページのパス。
const (
	PathLanding           = "/"
	PathAuth              = "/auth"
	PathSeekerDashboard   = "/seeker-dashboard"
	PathEmployerDashboard = "/employer-dashboard"
)

// ParseRole は文字列をRoleに変換する。未知の値や空文字はエラーを返す。
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(s))
	if !r.Valid() {
		return "", fmt.Errorf("invalid role: %q", s)
	}
	return r, nil
}

// Valid はロールが既知の値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleJobSeeker || r == RoleEmployer
}

// DashboardPath はロールに対応するダッシュボードのパスを返す。
func (r Role) DashboardPath() string {
	if r == RoleJobSeeker {
		return PathSeekerDashboard
	}
	return PathEmployerDashboard
}

// Other はもう一方のロールを返す。
func (r Role) Other() Role {
	if r == RoleJobSeeker {
		return RoleEmployer
	}
	return RoleJobSeeker
}

// Profile はPrincipalをロールと表示名で拡張するアプリケーションレコード。
// IDはPrincipalのIDと同一で、1ユーザーにつき最大1行。
type Profile struct {
	ID        string
	Email     string
	FullName  string
	Role      Role
	CreatedAt time.Time
}
