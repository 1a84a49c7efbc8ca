package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/jobconnect/internal/auth"
	"github.com/hitoshi/jobconnect/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	providerEnabledFn    func(provider string) bool
	signUpFn             func(ctx context.Context, in auth.SignUpInput) (*model.Session, *model.Principal, error)
	signInWithPasswordFn func(ctx context.Context, email, password string) (*model.Session, *model.Principal, error)
	signInWithOAuthFn    func(ctx context.Context, provider, redirectTo, flowToken string) (string, error)
	completeOAuthFn      func(ctx context.Context, provider, state, code string) (*model.Session, *model.Principal, string, error)
	signOutFn            func(ctx context.Context, sessionID string) error
	discardSignUpFn      func(ctx context.Context, session *model.Session) error
	currentPrincipalFn   func(ctx context.Context, sessionID string) (*model.Principal, error)

	lastCallback auth.OAuthCallback
}

func (m *mockAuthService) ProviderEnabled(provider string) bool {
	if m.providerEnabledFn != nil {
		return m.providerEnabledFn(provider)
	}
	return provider == auth.ProviderGoogle
}

func (m *mockAuthService) SignUp(ctx context.Context, in auth.SignUpInput) (*model.Session, *model.Principal, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, in)
	}
	return nil, nil, nil
}

func (m *mockAuthService) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, *model.Principal, error) {
	if m.signInWithPasswordFn != nil {
		return m.signInWithPasswordFn(ctx, email, password)
	}
	return nil, nil, nil
}

func (m *mockAuthService) SignInWithOAuth(ctx context.Context, provider, redirectTo, flowToken string) (string, error) {
	if m.signInWithOAuthFn != nil {
		return m.signInWithOAuthFn(ctx, provider, redirectTo, flowToken)
	}
	return "", nil
}

func (m *mockAuthService) CompleteOAuth(ctx context.Context, provider string, cb auth.OAuthCallback) (*model.Session, *model.Principal, string, error) {
	m.lastCallback = cb
	if m.completeOAuthFn != nil {
		return m.completeOAuthFn(ctx, provider, cb.State, cb.Code)
	}
	return nil, nil, "", nil
}

func (m *mockAuthService) SignOut(ctx context.Context, sessionID string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) DiscardSignUp(ctx context.Context, session *model.Session) error {
	if m.discardSignUpFn != nil {
		return m.discardSignUpFn(ctx, session)
	}
	return nil
}

func (m *mockAuthService) CurrentPrincipal(ctx context.Context, sessionID string) (*model.Principal, error) {
	if m.currentPrincipalFn != nil {
		return m.currentPrincipalFn(ctx, sessionID)
	}
	return nil, nil
}

// OnAuthStateChange はauth.Serviceと同様にINITIAL_SESSIONを同期的に配送する。
func (m *mockAuthService) OnAuthStateChange(ctx context.Context, sessionID string, fn auth.Listener) (*auth.Subscription, error) {
	p, err := m.CurrentPrincipal(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		sessionID = ""
	}
	fn(ctx, auth.Event{Type: auth.EventInitialSession, SessionID: sessionID, Principal: p})
	return &auth.Subscription{}, nil
}

type mockProfileService struct {
	getFn           func(ctx context.Context, id string, mustExist bool) (*model.Profile, error)
	ensureProfileFn func(ctx context.Context, principal *model.Principal, role model.Role) (*model.Profile, bool, error)
}

func (m *mockProfileService) Get(ctx context.Context, id string, mustExist bool) (*model.Profile, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id, mustExist)
	}
	if mustExist {
		return nil, model.NewProfileNotFoundError()
	}
	return nil, nil
}

func (m *mockProfileService) EnsureProfile(ctx context.Context, principal *model.Principal, role model.Role) (*model.Profile, bool, error) {
	if m.ensureProfileFn != nil {
		return m.ensureProfileFn(ctx, principal, role)
	}
	return &model.Profile{ID: principal.ID, Email: principal.Email, Role: role}, true, nil
}

// mockRecorder はmetrics.MetricsCollectorを満たす記録用モック。
type mockRecorder struct {
	mu              sync.Mutex
	signUps         []string
	profilesCreated []string
	resolutions     []string
	statuses        []int
}

func (m *mockRecorder) RecordAuthEvent(string) {}

func (m *mockRecorder) RecordSignUp(role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signUps = append(m.signUps, role)
}

func (m *mockRecorder) RecordProfileCreated(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profilesCreated = append(m.profilesCreated, source)
}

func (m *mockRecorder) RecordRoleResolution(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions = append(m.resolutions, outcome)
}

func (m *mockRecorder) RecordHTTPStatus(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statusCode)
}

func (m *mockRecorder) RecordRequestLatency(time.Duration) {}

func (m *mockRecorder) RecordSessionsDeleted(int64) {}

// --- テストヘルパー ---

func testSession(id, userID string) *model.Session {
	return &model.Session{ID: id, UserID: userID, ExpiresAt: time.Now().Add(24 * time.Hour)}
}

func testPrincipal(id string) *model.Principal {
	return &model.Principal{
		ID:       id,
		Email:    id + "@example.com",
		Metadata: model.Metadata{FullName: "Jane Doe"},
	}
}

// formRequest はフォーム送信のリクエストを生成する。
func formRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// withURLParam はchiのURLパラメータをリクエストに設定する。
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// flashCookie はFlashをCookieとしてエンコードする。
func flashCookie(t *testing.T, fl Flash) *http.Cookie {
	t.Helper()
	b, err := json.Marshal(fl)
	if err != nil {
		t.Fatalf("failed to marshal flash: %v", err)
	}
	return &http.Cookie{Name: flashCookieName, Value: base64.RawURLEncoding.EncodeToString(b)}
}

// readFlash はレスポンスに設定されたフラッシュCookieを復元する。
func readFlash(t *testing.T, resp *http.Response) *Flash {
	t.Helper()
	c := findCookie(resp, flashCookieName)
	if c == nil || c.Value == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		t.Fatalf("failed to decode flash cookie: %v", err)
	}
	var fl Flash
	if err := json.Unmarshal(b, &fl); err != nil {
		t.Fatalf("failed to unmarshal flash cookie: %v", err)
	}
	return &fl
}
