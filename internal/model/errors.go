package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, auth, data, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation = "validation"
	CategoryAuth       = "auth"
	CategoryData       = "data"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeRoleRequired        = "ROLE_REQUIRED"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeDuplicateAccount    = "DUPLICATE_ACCOUNT"
	ErrCodeWeakPassword        = "WEAK_PASSWORD"
	ErrCodeProviderFailed      = "PROVIDER_FAILED"
	ErrCodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	ErrCodeInvalidFlow         = "INVALID_FLOW"
	ErrCodeSessionRequired     = "SESSION_REQUIRED"
	ErrCodeProfileNotFound     = "PROFILE_NOT_FOUND"
	ErrCodeProfileLookup       = "PROFILE_LOOKUP_FAILED"
	ErrCodeProfileInsert       = "PROFILE_INSERT_FAILED"
)

// IsCategory はerrがAPIErrorであり、指定カテゴリに属するかを返す。
func IsCategory(err error, category string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category == category
	}
	return false
}

// NewRoleRequiredError はロール未選択のままサインアップ/OAuthを試みた場合のエラーを生成する。
// oauthがtrueの場合はOAuthボタン向けの文言を使う。
func NewRoleRequiredError(oauth bool) *APIError {
	msg := "Please select a role"
	if oauth {
		msg = "Please select a role first"
	}
	return &APIError{
		Code:     ErrCodeRoleRequired,
		Message:  msg,
		Category: CategoryValidation,
		Action:   "Choose Job Seeker or Employer before continuing.",
	}
}

// NewInvalidInputError は必須入力が欠けている場合のエラーを生成する。
func NewInvalidInputError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("%s is required", field),
		Category: CategoryValidation,
		Action:   "Fill in every field and try again.",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードが誤っている場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid login credentials",
		Category: CategoryAuth,
		Action:   "Check your email and password.",
	}
}

// NewDuplicateAccountError は登録済みメールアドレスでサインアップした場合のエラーを生成する。
func NewDuplicateAccountError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateAccount,
		Message:  "User already registered",
		Category: CategoryAuth,
		Action:   "Sign in instead, or use a different email address.",
	}
}

// NewWeakPasswordError はパスワードが短すぎる場合のエラーを生成する。
func NewWeakPasswordError(minLen int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("Password should be at least %d characters", minLen),
		Category: CategoryAuth,
		Action:   "Choose a longer password.",
	}
}

// NewPasswordTooLongError はパスワードがbcryptの上限を超える場合のエラーを生成する。
func NewPasswordTooLongError(maxBytes int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("Password must be at most %d bytes", maxBytes),
		Category: CategoryAuth,
		Action:   "Choose a shorter password.",
	}
}

// NewProviderError はOAuthプロバイダーとのやり取りに失敗した場合のエラーを生成する。
func NewProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderFailed,
		Message:  fmt.Sprintf("Failed to sign in with %s", provider),
		Category: CategoryAuth,
		Action:   "Try again, or use email and password.",
	}
}

// NewUnsupportedProviderError は未対応または未設定のプロバイダーが指定された場合のエラーを生成する。
func NewUnsupportedProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedProvider,
		Message:  fmt.Sprintf("Unsupported provider: %s", provider),
		Category: CategoryAuth,
		Action:   "Use Google, Apple or LinkedIn.",
	}
}

// NewInvalidFlowError はOAuthのstateが不正・期限切れの場合のエラーを生成する。
func NewInvalidFlowError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFlow,
		Message:  "Sign-in link is invalid or has expired",
		Category: CategoryAuth,
		Action:   "Start the sign-in again.",
	}
}

// NewSessionRequiredError は未ログイン状態で認証が必要な操作をした場合のエラーを生成する。
func NewSessionRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionRequired,
		Message:  "Authentication required",
		Category: CategoryAuth,
		Action:   "Please sign in.",
	}
}

// NewProfileNotFoundError はプロフィールが存在しない場合のエラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "Profile not found",
		Category: CategoryData,
		Action:   "Sign up to create a profile.",
	}
}

// NewProfileLookupError はプロフィールの取得に失敗した場合のエラーを生成する。
func NewProfileLookupError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileLookup,
		Message:  "Failed to load profile",
		Category: CategoryData,
		Action:   "Please try again later.",
	}
}

// NewProfileInsertError はプロフィールの作成に失敗した場合のエラーを生成する。
func NewProfileInsertError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileInsert,
		Message:  "Failed to create profile",
		Category: CategoryData,
		Action:   "Please try again later.",
	}
}
