package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/jobconnect/internal/metrics"
	"github.com/hitoshi/jobconnect/internal/middleware"
	"github.com/hitoshi/jobconnect/internal/model"
	"github.com/hitoshi/jobconnect/internal/pendingrole"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	PrincipalLoader    middleware.PrincipalLoader
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Logger             *slog.Logger // nilの場合はslog.Default()

	// メトリクス（nilの場合は記録しない）
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// ヘルスチェック対象（名前 → チェッカー）
	HealthCheckers map[string]HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthEvents  AuthStateSource
	AuthConfig  AuthHandlerConfig

	// プロフィールとロール解決
	ProfileService ProfileServiceInterface
	PendingRoles   pendingrole.Ledger
	Flows          FlowFactory

	Renderer *Renderer // nilの場合は埋め込みテンプレートから生成する
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → SecurityHeaders → Session → Logging
//
// フォーム（状態変更）とページにはCSRFを重ね、資格情報を受け取るエンドポイントには
// レート制限を重ねる。OAuthコールバックは署名付きstateで保護するためCSRFの外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = MustNewRenderer()
	}

	var (
		httpRecorder   middleware.HTTPRecorder
		signUpRecorder SignUpRecorder
	)
	if deps.Metrics != nil {
		httpRecorder = deps.Metrics
		signUpRecorder = deps.Metrics
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewSessionMiddleware(deps.PrincipalLoader))
	r.Use(middleware.NewLoggingMiddleware(logger, httpRecorder))

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.AuthConfig.CookieSecure,
		CookieDomain: deps.AuthConfig.CookieDomain,
	}

	authHandler := NewAuthHandler(
		deps.AuthService, deps.ProfileService, deps.PendingRoles,
		renderer, signUpRecorder, deps.AuthConfig,
	)
	pageHandler := NewPageHandler(
		deps.AuthEvents, deps.Flows, deps.ProfileService,
		renderer, deps.AuthConfig,
	)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthCheckers))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- OAuthコールバック（Appleはform_postのためPOSTも受ける） ---
	r.Get("/auth/{provider}/callback", authHandler.Callback)
	r.Post("/auth/{provider}/callback", authHandler.Callback)

	// --- JSON API ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

		r.With(middleware.RequirePrincipal).Get("/auth/me", authHandler.Me)
		r.Options("/auth/me", preflight)
		r.Handle("/auth/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))
	})

	// --- ページとフォーム ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))

		r.Get(model.PathLanding, pageHandler.Landing)
		r.Get(model.PathSeekerDashboard, pageHandler.SeekerDashboard)
		r.Get(model.PathEmployerDashboard, pageHandler.EmployerDashboard)

		r.Get(model.PathAuth, authHandler.ShowAuth)
		r.Post("/auth/logout", authHandler.Logout)

		// 資格情報を受け取るエンドポイントはレート制限を追加
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.AuthMiddleware())
			}
			r.Post("/auth/signup", authHandler.SignUp)
			r.Post("/auth/signin", authHandler.SignIn)
			r.Post("/auth/oauth/{provider}", authHandler.StartOAuth)
		})
	})

	return r
}

// preflight は許可オリジン以外からのOPTIONSに応答する。許可オリジンはCORSミドルウェアが先に応答する。
func preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
