package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// 対応するOAuthプロバイダー名。
const (
	ProviderGoogle   = "google"
	ProviderApple    = "apple"
	ProviderLinkedIn = "linkedin"
)

var providerDisplayNames = map[string]string{
	ProviderGoogle:   "Google",
	ProviderApple:    "Apple",
	ProviderLinkedIn: "LinkedIn",
}

// ProviderDisplayName はUI表示用のプロバイダー名を返す。
func ProviderDisplayName(provider string) string {
	if name, ok := providerDisplayNames[provider]; ok {
		return name
	}
	return provider
}

// OIDCConfig はOIDCプロバイダー1件分の設定。
type OIDCConfig struct {
	Name         string
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// AuthParams は認可URLに追加するパラメータ（Appleのresponse_mode等）。
	AuthParams map[string]string
	HTTPClient *http.Client // nilの場合はhttp.DefaultClient
}

// WellKnownOIDCConfig は既知プロバイダーのIssuerとスコープを埋めたOIDCConfigを返す。
// コールバックURLは{baseURL}/auth/{name}/callback。
func WellKnownOIDCConfig(name, clientID, clientSecret, baseURL string, client *http.Client) (OIDCConfig, error) {
	cfg := OIDCConfig{
		Name:         name,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  strings.TrimSuffix(baseURL, "/") + "/auth/" + name + "/callback",
		HTTPClient:   client,
	}
	switch name {
	case ProviderGoogle:
		cfg.Issuer = "https://accounts.google.com"
		cfg.Scopes = []string{gooidc.ScopeOpenID, "email", "profile"}
		cfg.AuthParams = map[string]string{"prompt": "select_account"}
	case ProviderApple:
		cfg.Issuer = "https://appleid.apple.com"
		cfg.Scopes = []string{gooidc.ScopeOpenID, "email", "name"}
		// email/nameスコープを要求する場合、Appleはform_postでのコールバックを要求する
		cfg.AuthParams = map[string]string{"response_mode": "form_post"}
	case ProviderLinkedIn:
		cfg.Issuer = "https://www.linkedin.com/oauth"
		cfg.Scopes = []string{gooidc.ScopeOpenID, "email", "profile"}
	default:
		return OIDCConfig{}, fmt.Errorf("unknown provider: %s", name)
	}
	return cfg, nil
}

// OIDCProvider はOpenID Connectによる認証を提供する。
// ディスカバリは初回利用時に行い、失敗した場合は次回呼び出しで再試行する。
type OIDCProvider struct {
	cfg OIDCConfig

	mu       sync.Mutex
	oauth    *oauth2.Config
	provider *gooidc.Provider
	verifier *gooidc.IDTokenVerifier
}

// NewOIDCProvider はOIDCProviderを生成する。
func NewOIDCProvider(cfg OIDCConfig) *OIDCProvider {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &OIDCProvider{cfg: cfg}
}

func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	return gooidc.ClientContext(ctx, p.cfg.HTTPClient)
}

// discover はIssuerのディスカバリ文書を取得し、oauth2設定とIDトークン検証器を構築する。
func (p *OIDCProvider) discover(ctx context.Context) (*oauth2.Config, *gooidc.IDTokenVerifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.oauth != nil {
		return p.oauth, p.verifier, nil
	}

	op, err := gooidc.NewProvider(p.clientContext(ctx), p.cfg.Issuer)
	if err != nil {
		return nil, nil, fmt.Errorf("oidc discovery for %s: %w", p.cfg.Name, err)
	}

	p.provider = op
	p.verifier = op.Verifier(&gooidc.Config{ClientID: p.cfg.ClientID})
	p.oauth = &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  p.cfg.RedirectURL,
		Scopes:       p.cfg.Scopes,
		Endpoint:     op.Endpoint(),
	}
	return p.oauth, p.verifier, nil
}

// AuthCodeURL はstateとnonceを含む認可URLを生成する。
func (p *OIDCProvider) AuthCodeURL(ctx context.Context, state, nonce string) (string, error) {
	conf, _, err := p.discover(ctx)
	if err != nil {
		return "", err
	}

	opts := []oauth2.AuthCodeOption{gooidc.Nonce(nonce)}
	for k, v := range p.cfg.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return conf.AuthCodeURL(state, opts...), nil
}

// idTokenClaims はIDトークンから読み取るクレーム。
type idTokenClaims struct {
	Subject       string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	GivenName     string   `json:"given_name"`
	FamilyName    string   `json:"family_name"`
	Nonce         string   `json:"nonce"`
}

// Exchange は認可コードをトークンに交換し、IDトークンを検証してユーザー情報を返す。
func (p *OIDCProvider) Exchange(ctx context.Context, code, nonce string) (*OAuthUserInfo, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}
	conf, verifier, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	cctx := p.clientContext(ctx)

	// 1. 認可コードをトークンに交換
	token, err := conf.Exchange(cctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code for token: %w", err)
	}

	// 2. IDトークンを検証
	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		return nil, errors.New("id_token missing from token response")
	}
	idToken, err := verifier.Verify(cctx, rawID)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse id_token claims: %w", err)
	}
	if nonce != "" && claims.Nonce != nonce {
		return nil, errors.New("invalid nonce")
	}

	info := &OAuthUserInfo{
		Provider:       p.cfg.Name,
		ProviderUserID: claims.Subject,
		Email:          claims.Email,
		EmailVerified:  bool(claims.EmailVerified),
		FullName:       claims.Name,
		Name:           strings.TrimSpace(claims.GivenName + " " + claims.FamilyName),
	}

	// 3. メールアドレスが無い場合はUserInfoで補完する（AppleはUserInfo非対応）
	if info.Email == "" {
		p.fillFromUserInfo(cctx, token, info)
	}

	if info.ProviderUserID == "" {
		return nil, errors.New("empty sub in id_token")
	}
	return info, nil
}

func (p *OIDCProvider) fillFromUserInfo(ctx context.Context, token *oauth2.Token, info *OAuthUserInfo) {
	p.mu.Lock()
	op := p.provider
	p.mu.Unlock()

	ui, err := op.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		slog.Warn("failed to fetch user info",
			slog.String("provider", p.cfg.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	info.Email = ui.Email
	info.EmailVerified = ui.EmailVerified

	var extra struct {
		Name string `json:"name"`
	}
	if err := ui.Claims(&extra); err == nil && info.FullName == "" {
		info.FullName = extra.Name
	}
}

// appleUserName はAppleのform_post "user" パラメータから表示名を組み立てる。
// 形式: {"name":{"firstName":"Jane","lastName":"Doe"},"email":"..."}。読めなければ空。
func appleUserName(raw string) string {
	if raw == "" {
		return ""
	}
	var u struct {
		Name struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		slog.Warn("failed to parse apple user parameter", slog.String("error", err.Error()))
		return ""
	}
	return strings.Join(strings.Fields(u.Name.FirstName+" "+u.Name.LastName), " ")
}

// flexBool は真偽値と文字列"true"/"false"の両方を受け付ける。
// Appleはemail_verifiedを文字列で返す。
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case string:
		*b = flexBool(strings.EqualFold(t, "true"))
	default:
		*b = false
	}
	return nil
}

// compile-time interface check
var _ OAuthProvider = (*OIDCProvider)(nil)
