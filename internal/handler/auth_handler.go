// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/jobconnect/internal/auth"
	"github.com/hitoshi/jobconnect/internal/middleware"
	"github.com/hitoshi/jobconnect/internal/model"
	"github.com/hitoshi/jobconnect/internal/pendingrole"
)

const (
	tabSignIn = "signin"
	tabSignUp = "signup"

	pathSignInTab = model.PathAuth + "?tab=" + tabSignIn
	pathSignUpTab = model.PathAuth + "?tab=" + tabSignUp

	// プロフィール作成経路（メトリクスのラベル）
	profileSourceSignUp = "signup"
)

// oauthProviders はOAuthボタンの表示順。
var oauthProviders = []string{auth.ProviderGoogle, auth.ProviderApple, auth.ProviderLinkedIn}

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	ProviderEnabled(provider string) bool
	SignUp(ctx context.Context, in auth.SignUpInput) (*model.Session, *model.Principal, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, *model.Principal, error)
	SignInWithOAuth(ctx context.Context, provider, redirectTo, flowToken string) (string, error)
	CompleteOAuth(ctx context.Context, provider string, cb auth.OAuthCallback) (*model.Session, *model.Principal, string, error)
	SignOut(ctx context.Context, sessionID string) error
	DiscardSignUp(ctx context.Context, session *model.Session) error
}

// ProfileServiceInterface はプロフィールの取得と作成を行うサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context, id string, mustExist bool) (*model.Profile, error)
	EnsureProfile(ctx context.Context, principal *model.Principal, role model.Role) (*model.Profile, bool, error)
}

// SignUpRecorder はサインアップの発生を記録する。
type SignUpRecorder interface {
	RecordSignUp(role string)
	RecordProfileCreated(source string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は /auth 配下のフォームとOAuthフローのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	profiles ProfileServiceInterface
	ledger   pendingrole.Ledger
	renderer *Renderer
	recorder SignUpRecorder
	config   AuthHandlerConfig
	flash    flasher
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnilでもよい。
func NewAuthHandler(
	service AuthServiceInterface,
	profiles ProfileServiceInterface,
	ledger pendingrole.Ledger,
	renderer *Renderer,
	recorder SignUpRecorder,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		service:  service,
		profiles: profiles,
		ledger:   ledger,
		renderer: renderer,
		recorder: recorder,
		config:   config,
		flash:    flasher{secure: config.CookieSecure, domain: config.CookieDomain},
	}
}

// ShowAuth はサインイン/サインアップ画面を表示する。
// GET /auth?tab=signin|signup
func (h *AuthHandler) ShowAuth(w http.ResponseWriter, r *http.Request) {
	tab := tabSignIn
	if r.URL.Query().Get("tab") == tabSignUp {
		tab = tabSignUp
	}
	h.renderAuth(w, r, http.StatusOK, authForm{Tab: tab}, h.flash.pop(w, r))
}

// SignUp はメール/パスワードでアカウントを作成する。
// プロフィールを作成してからセッションCookieを渡し、ロールのダッシュボードへ遷移する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := authForm{
		Tab:      tabSignUp,
		Role:     model.Role(strings.TrimSpace(r.PostFormValue("role"))),
		FullName: r.PostFormValue("full_name"),
		Email:    r.PostFormValue("email"),
	}

	role, err := model.ParseRole(string(form.Role))
	if err != nil {
		fl := flashFromError(model.NewRoleRequiredError(false))
		h.renderAuth(w, r, http.StatusUnprocessableEntity, form, &fl)
		return
	}

	session, principal, err := h.service.SignUp(ctx, auth.SignUpInput{
		Email:    form.Email,
		Password: r.PostFormValue("password"),
		FullName: form.FullName,
		Role:     role,
	})
	if err != nil {
		h.fail(w, r, pathSignUpTab, err)
		return
	}

	profile, created, err := h.profiles.EnsureProfile(ctx, principal, role)
	if err != nil {
		// プロフィールの無いアカウントは残さない。残すと再登録もログインもできなくなる
		if discardErr := h.service.DiscardSignUp(ctx, session); discardErr != nil {
			slog.Error("failed to discard sign-up",
				slog.String("user_id", principal.ID),
				slog.String("error", discardErr.Error()),
			)
		}
		h.fail(w, r, pathSignUpTab, err)
		return
	}

	if h.recorder != nil {
		h.recorder.RecordSignUp(string(role))
		if created {
			h.recorder.RecordProfileCreated(profileSourceSignUp)
		}
	}

	h.setSessionCookie(w, session.ID)
	h.flash.set(w, Flash{Kind: FlashSuccess, Message: "Account created successfully!"})
	http.Redirect(w, r, profile.Role.DashboardPath(), http.StatusSeeOther)
}

// SignIn はメール/パスワードでログインする。
// プロフィールが無い場合はセッションを破棄し、/auth に留まる。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, principal, err := h.service.SignInWithPassword(ctx, r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		h.fail(w, r, pathSignInTab, err)
		return
	}

	profile, err := h.profiles.Get(ctx, principal.ID, true)
	if err != nil {
		h.revoke(ctx, session.ID)
		h.fail(w, r, pathSignInTab, err)
		return
	}

	h.setSessionCookie(w, session.ID)
	h.flash.set(w, Flash{Kind: FlashSuccess, Message: "Signed in successfully!"})
	http.Redirect(w, r, profile.Role.DashboardPath(), http.StatusSeeOther)
}

// StartOAuth は選択ロールを保留台帳に記録し、プロバイダーの認可画面へリダイレクトする。
// 台帳のトークンはリダイレクト先（/?flow=...）に載せて戻ってくる。
// POST /auth/oauth/{provider}
func (h *AuthHandler) StartOAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")

	role, err := model.ParseRole(r.PostFormValue("role"))
	if err != nil {
		h.fail(w, r, pathSignUpTab, model.NewRoleRequiredError(true))
		return
	}
	if !h.service.ProviderEnabled(provider) {
		h.fail(w, r, pathSignUpTab, model.NewUnsupportedProviderError(provider))
		return
	}

	token := pendingrole.NewToken()
	if err := h.ledger.Set(ctx, token, role); err != nil {
		slog.Error("failed to store pending role",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		h.fail(w, r, pathSignUpTab, err)
		return
	}

	authURL, err := h.service.SignInWithOAuth(ctx, provider, model.PathLanding, token)
	if err != nil {
		if clearErr := h.ledger.Clear(ctx, token); clearErr != nil {
			slog.Warn("failed to clear pending role", slog.String("error", clearErr.Error()))
		}
		h.fail(w, r, pathSignUpTab, err)
		return
	}

	slog.Info("oauth flow started",
		slog.String("provider", provider),
		slog.String("role", string(role)),
	)
	http.Redirect(w, r, authURL, http.StatusSeeOther)
}

// Callback はOAuthコールバックを処理する。
// Appleはresponse_mode=form_postのためPOSTでも受け付ける。stateは署名付きJWTで検証される。
// GET|POST /auth/{provider}/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	if idpErr := r.FormValue("error"); idpErr != "" {
		slog.Warn("oauth provider returned error",
			slog.String("provider", provider),
			slog.String("error", idpErr),
		)
		h.fail(w, r, model.PathAuth, model.NewProviderError(auth.ProviderDisplayName(provider)))
		return
	}

	session, _, redirectTo, err := h.service.CompleteOAuth(r.Context(), provider, auth.OAuthCallback{
		State: r.FormValue("state"),
		Code:  r.FormValue("code"),
		User:  r.FormValue("user"),
	})
	if err != nil {
		h.fail(w, r, model.PathAuth, err)
		return
	}

	h.setSessionCookie(w, session.ID)
	http.Redirect(w, r, redirectTo, http.StatusSeeOther)
}

// Logout はセッションを破棄してランディングページへ戻る。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionIDFromContext(r.Context())
	if sessionID == "" {
		if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
			sessionID = cookie.Value
		}
	}

	if sessionID != "" {
		if err := h.service.SignOut(r.Context(), sessionID); err != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	h.clearSessionCookie(w)
	h.flash.set(w, Flash{Kind: FlashSuccess, Message: "Signed out successfully"})
	http.Redirect(w, r, model.PathLanding, http.StatusSeeOther)
}

// meResponse は GET /auth/me のレスポンス。
type meResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// Me は現在のログインユーザーとプロフィールを返す。
// プロフィール未作成の場合、roleは空文字になる。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionRequiredError())
		return
	}

	profile, err := h.profiles.Get(r.Context(), principal.ID, false)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp := meResponse{
		ID:       principal.ID,
		Email:    principal.Email,
		FullName: principal.Metadata.DisplayName(),
	}
	if profile != nil {
		resp.FullName = profile.FullName
		resp.Role = string(profile.Role)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(resp)
}

func (h *AuthHandler) renderAuth(w http.ResponseWriter, r *http.Request, status int, form authForm, fl *Flash) {
	buttons := make([]providerButton, 0, len(oauthProviders))
	for _, name := range oauthProviders {
		buttons = append(buttons, providerButton{
			Name:    name,
			Label:   auth.ProviderDisplayName(name),
			Enabled: h.service.ProviderEnabled(name),
		})
	}

	_, authenticated := middleware.PrincipalFromContext(r.Context())
	h.renderer.Render(w, r, status, pageAuth, pageData{
		Title:         "Sign In",
		Flash:         fl,
		Authenticated: authenticated,
		Form:          form,
		Providers:     buttons,
	})
}

// fail はエラーをフラッシュに載せてtargetへリダイレクトする。
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, target string, err error) {
	if !model.IsCategory(err, model.CategoryValidation) && !model.IsCategory(err, model.CategoryAuth) {
		slog.Error("auth request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	h.flash.set(w, flashFromError(err))
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// revoke は発行済みのセッションを破棄する。失敗はログのみ。
func (h *AuthHandler) revoke(ctx context.Context, sessionID string) {
	if err := h.service.SignOut(ctx, sessionID); err != nil {
		slog.Error("failed to revoke session", slog.String("error", err.Error()))
	}
}

// setSessionCookie はセッションCookieを設定する（HTTP Only）。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
