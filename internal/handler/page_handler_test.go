package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/jobconnect/internal/middleware"
	"github.com/hitoshi/jobconnect/internal/model"
	"github.com/hitoshi/jobconnect/internal/pendingrole"
	"github.com/hitoshi/jobconnect/internal/resolution"
)

type pageTestEnv struct {
	handler  *PageHandler
	auth     *mockAuthService
	profiles *mockProfileService
	ledger   *pendingrole.MemoryLedger
	recorder *mockRecorder
}

func newPageTestEnv(principal *model.Principal) *pageTestEnv {
	env := &pageTestEnv{
		auth: &mockAuthService{
			currentPrincipalFn: func(ctx context.Context, sessionID string) (*model.Principal, error) {
				if sessionID == "" {
					return nil, nil
				}
				return principal, nil
			},
		},
		profiles: &mockProfileService{},
		ledger:   pendingrole.NewMemoryLedger(0),
		recorder: &mockRecorder{},
	}
	resolver := resolution.NewResolver(env.profiles, env.ledger, env.recorder)
	env.handler = NewPageHandler(env.auth, resolver, env.profiles, MustNewRenderer(), AuthHandlerConfig{})
	return env
}

// authedRequest はセッション付きのリクエストを生成する。
func authedRequest(method, target string, principal *model.Principal) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if principal == nil {
		return req
	}
	return req.WithContext(middleware.ContextWithPrincipal(req.Context(), "session-page", principal))
}

func TestPageHandler_Landing(t *testing.T) {
	t.Run("未ログインはランディングページを表示する", func(t *testing.T) {
		env := newPageTestEnv(nil)

		w := httptest.NewRecorder()
		env.handler.Landing(w, authedRequest(http.MethodGet, "/", nil))

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		body := readBody(t, resp)
		for _, want := range []string{
			"Connect Talent with Opportunity",
			"Why Choose JobConnect?",
			"Vast Network",
			"Smart Matching",
			"Easy Management",
			"Ready to Get Started?",
			`href="/auth">Get Started</a>`,
		} {
			if !strings.Contains(body, want) {
				t.Errorf("body should contain %q", want)
			}
		}
		if len(env.recorder.resolutions) != 0 {
			t.Errorf("anonymous visit should not record a resolution, got %v", env.recorder.resolutions)
		}
	})

	t.Run("プロフィールがあればロールのダッシュボードへ遷移する", func(t *testing.T) {
		principal := testPrincipal("user-existing")
		env := newPageTestEnv(principal)
		env.profiles.getFn = func(ctx context.Context, id string, mustExist bool) (*model.Profile, error) {
			return &model.Profile{ID: id, Role: model.RoleEmployer}, nil
		}

		w := httptest.NewRecorder()
		env.handler.Landing(w, authedRequest(http.MethodGet, "/", principal))

		resp := w.Result()
		if resp.StatusCode != http.StatusSeeOther {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
		}
		if loc := resp.Header.Get("Location"); loc != model.PathEmployerDashboard {
			t.Errorf("Location = %q, want %q", loc, model.PathEmployerDashboard)
		}
		// 入口が2つあっても解決は1回だけ記録される
		if len(env.recorder.resolutions) != 1 || env.recorder.resolutions[0] != string(resolution.OutcomeExisting) {
			t.Errorf("resolutions = %v, want [existing_profile]", env.recorder.resolutions)
		}
	})

	t.Run("OAuthから戻り保留ロールがあればプロフィールを作成する", func(t *testing.T) {
		principal := testPrincipal("user-oauth")
		env := newPageTestEnv(principal)
		token := pendingrole.NewToken()
		if err := env.ledger.Set(context.Background(), token, model.RoleJobSeeker); err != nil {
			t.Fatalf("failed to seed ledger: %v", err)
		}

		var ensured model.Role
		env.profiles.ensureProfileFn = func(ctx context.Context, p *model.Principal, role model.Role) (*model.Profile, bool, error) {
			ensured = role
			return &model.Profile{ID: p.ID, Role: role}, true, nil
		}

		w := httptest.NewRecorder()
		env.handler.Landing(w, authedRequest(http.MethodGet, "/?flow="+token, principal))

		resp := w.Result()
		if loc := resp.Header.Get("Location"); loc != model.PathSeekerDashboard {
			t.Errorf("Location = %q, want %q", loc, model.PathSeekerDashboard)
		}
		if ensured != model.RoleJobSeeker {
			t.Errorf("EnsureProfile role = %q, want %q", ensured, model.RoleJobSeeker)
		}
		if env.ledger.Len() != 0 {
			t.Error("pending role should be cleared after the profile is created")
		}
		if len(env.recorder.profilesCreated) != 1 || env.recorder.profilesCreated[0] != "oauth" {
			t.Errorf("profilesCreated = %v, want [oauth]", env.recorder.profilesCreated)
		}
	})

	t.Run("プロフィールも保留ロールも無ければランディングに留まる", func(t *testing.T) {
		principal := testPrincipal("user-noprofile")
		env := newPageTestEnv(principal)

		w := httptest.NewRecorder()
		env.handler.Landing(w, authedRequest(http.MethodGet, "/", principal))

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		body := readBody(t, resp)
		if strings.Contains(body, `>Get Started</a>`) {
			t.Error("Get Started should be hidden for signed-in users")
		}
	})

	t.Run("解決中のエラーはフラッシュを表示してランディングに留まる", func(t *testing.T) {
		principal := testPrincipal("user-lookup-error")
		env := newPageTestEnv(principal)
		env.profiles.getFn = func(ctx context.Context, id string, mustExist bool) (*model.Profile, error) {
			return nil, model.NewProfileLookupError()
		}

		w := httptest.NewRecorder()
		env.handler.Landing(w, authedRequest(http.MethodGet, "/", principal))

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		if body := readBody(t, resp); !strings.Contains(body, "Failed to load profile") {
			t.Error("lookup error should be shown as a flash")
		}
	})

	t.Run("購読に失敗しても即時チェックで解決する", func(t *testing.T) {
		principal := testPrincipal("user-subscribe-error")
		env := newPageTestEnv(principal)
		env.auth.currentPrincipalFn = func(ctx context.Context, sessionID string) (*model.Principal, error) {
			return nil, errors.New("session store down")
		}
		env.profiles.getFn = func(ctx context.Context, id string, mustExist bool) (*model.Profile, error) {
			return &model.Profile{ID: id, Role: model.RoleJobSeeker}, nil
		}

		w := httptest.NewRecorder()
		env.handler.Landing(w, authedRequest(http.MethodGet, "/", principal))

		if loc := w.Result().Header.Get("Location"); loc != model.PathSeekerDashboard {
			t.Errorf("Location = %q, want %q", loc, model.PathSeekerDashboard)
		}
	})

	t.Run("保留ロール付きで購読に失敗したらエラーを表示する", func(t *testing.T) {
		principal := testPrincipal("user-subscribe-flow")
		env := newPageTestEnv(principal)
		env.auth.currentPrincipalFn = func(ctx context.Context, sessionID string) (*model.Principal, error) {
			return nil, errors.New("session store down")
		}
		token := pendingrole.NewToken()
		if err := env.ledger.Set(context.Background(), token, model.RoleEmployer); err != nil {
			t.Fatalf("failed to seed ledger: %v", err)
		}

		tests := []struct {
			name      string
			target    string
			wantFlash bool
		}{
			{"flowトークンあり", "/?flow=" + token, true},
			{"flowトークンなし", "/", false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w := httptest.NewRecorder()
				env.handler.Landing(w, authedRequest(http.MethodGet, tt.target, principal))

				resp := w.Result()
				if resp.StatusCode != http.StatusOK {
					t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
				}
				body := readBody(t, resp)
				if got := strings.Contains(body, "Failed to load profile"); got != tt.wantFlash {
					t.Errorf("error flash shown = %v, want %v", got, tt.wantFlash)
				}
			})
		}
		if env.ledger.Len() != 1 {
			t.Error("pending role should be kept for the next visit")
		}
	})

	t.Run("サインアウト後のフラッシュを表示する", func(t *testing.T) {
		env := newPageTestEnv(nil)

		req := authedRequest(http.MethodGet, "/", nil)
		req.AddCookie(flashCookie(t, Flash{Kind: FlashSuccess, Message: "Signed out successfully"}))
		w := httptest.NewRecorder()
		env.handler.Landing(w, req)

		if body := readBody(t, w.Result()); !strings.Contains(body, "Signed out successfully") {
			t.Error("flash should be rendered on the landing page")
		}
	})
}

func TestPageHandler_Dashboards(t *testing.T) {
	principal := testPrincipal("user-dash")

	t.Run("未ログインは/authへリダイレクト", func(t *testing.T) {
		env := newPageTestEnv(nil)

		w := httptest.NewRecorder()
		env.handler.SeekerDashboard(w, authedRequest(http.MethodGet, "/seeker-dashboard", nil))

		if loc := w.Result().Header.Get("Location"); loc != model.PathAuth {
			t.Errorf("Location = %q, want %q", loc, model.PathAuth)
		}
	})

	t.Run("求職者ダッシュボードを表示する", func(t *testing.T) {
		env := newPageTestEnv(principal)
		env.profiles.getFn = func(ctx context.Context, id string, mustExist bool) (*model.Profile, error) {
			return &model.Profile{ID: id, FullName: "Jane Doe", Role: model.RoleJobSeeker}, nil
		}

		w := httptest.NewRecorder()
		env.handler.SeekerDashboard(w, authedRequest(http.MethodGet, "/seeker-dashboard", principal))

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		body := readBody(t, resp)
		for _, want := range []string{
			"Welcome back, Jane Doe!",
			"Find your next opportunity",
			"Browse Jobs",
			"Saved Jobs",
			"Applications",
			"Recommended for You",
			`action="/auth/logout"`,
		} {
			if !strings.Contains(body, want) {
				t.Errorf("body should contain %q", want)
			}
		}
		if n := strings.Count(body, "Apply Now"); n != 3 {
			t.Errorf("Apply Now count = %d, want 3", n)
		}
	})

	t.Run("採用担当者ダッシュボードを表示する", func(t *testing.T) {
		env := newPageTestEnv(principal)
		env.profiles.getFn = func(ctx context.Context, id string, mustExist bool) (*model.Profile, error) {
			return &model.Profile{ID: id, FullName: "Acme HR", Role: model.RoleEmployer}, nil
		}

		w := httptest.NewRecorder()
		env.handler.EmployerDashboard(w, authedRequest(http.MethodGet, "/employer-dashboard", principal))

		body := readBody(t, w.Result())
		for _, want := range []string{
			"Welcome, Acme HR!",
			"Manage your job postings and candidates",
			"Post a Job",
			"Candidates",
			"My Postings",
			"Active Job Postings",
		} {
			if !strings.Contains(body, want) {
				t.Errorf("body should contain %q", want)
			}
		}
	})

	t.Run("ロールが違うダッシュボードは正しい方へ遷移する", func(t *testing.T) {
		env := newPageTestEnv(principal)
		env.profiles.getFn = func(ctx context.Context, id string, mustExist bool) (*model.Profile, error) {
			return &model.Profile{ID: id, Role: model.RoleEmployer}, nil
		}

		w := httptest.NewRecorder()
		env.handler.SeekerDashboard(w, authedRequest(http.MethodGet, "/seeker-dashboard", principal))

		if loc := w.Result().Header.Get("Location"); loc != model.PathEmployerDashboard {
			t.Errorf("Location = %q, want %q", loc, model.PathEmployerDashboard)
		}
	})

	t.Run("プロフィールが無ければエラーを表示して/authへ戻る", func(t *testing.T) {
		env := newPageTestEnv(principal)

		w := httptest.NewRecorder()
		env.handler.EmployerDashboard(w, authedRequest(http.MethodGet, "/employer-dashboard", principal))

		resp := w.Result()
		if loc := resp.Header.Get("Location"); loc != model.PathAuth {
			t.Errorf("Location = %q, want %q", loc, model.PathAuth)
		}
		fl := readFlash(t, resp)
		if fl == nil || fl.Message != "Profile not found" {
			t.Errorf("flash = %+v, want profile not found", fl)
		}
	})

	t.Run("表示名はエスケープされる", func(t *testing.T) {
		env := newPageTestEnv(principal)
		env.profiles.getFn = func(ctx context.Context, id string, mustExist bool) (*model.Profile, error) {
			return &model.Profile{ID: id, FullName: "<script>alert(1)</script>", Role: model.RoleJobSeeker}, nil
		}

		w := httptest.NewRecorder()
		env.handler.SeekerDashboard(w, authedRequest(http.MethodGet, "/seeker-dashboard", principal))

		body := readBody(t, w.Result())
		if strings.Contains(body, "<script>alert(1)</script>") {
			t.Error("full name must be HTML-escaped")
		}
		if !strings.Contains(body, "&lt;script&gt;") {
			t.Error("escaped full name should be rendered")
		}
	})
}
