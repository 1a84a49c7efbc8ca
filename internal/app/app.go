package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/jobconnect/internal/auth"
	"github.com/hitoshi/jobconnect/internal/config"
	"github.com/hitoshi/jobconnect/internal/database"
	"github.com/hitoshi/jobconnect/internal/handler"
	"github.com/hitoshi/jobconnect/internal/logger"
	"github.com/hitoshi/jobconnect/internal/metrics"
	"github.com/hitoshi/jobconnect/internal/middleware"
	"github.com/hitoshi/jobconnect/internal/pendingrole"
	"github.com/hitoshi/jobconnect/internal/profile"
	"github.com/hitoshi/jobconnect/internal/repository"
	"github.com/hitoshi/jobconnect/internal/resolution"
	"github.com/hitoshi/jobconnect/internal/security"
	"github.com/hitoshi/jobconnect/internal/worker/cleanup"
)

const (
	dbPingTimeout      = 5 * time.Second
	oauthClientTimeout = 10 * time.Second
	shutdownTimeout    = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルで再設定
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)

	healthCheckers := map[string]handler.HealthChecker{"database": db}

	// 3. 保留ロール台帳
	ledger, ledgerHealth, closeLedger, err := newPendingRoleLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()
	if ledgerHealth != nil {
		healthCheckers["redis"] = ledgerHealth
	}

	// 4. 認証サービス
	providers, err := newOAuthProviders(cfg)
	if err != nil {
		return err
	}
	authService := auth.NewService(providers, userRepo, identRepo, sessionRepo, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		StateSecret:   []byte(cfg.SessionSecret),
	})

	// 5. メトリクスと認証イベントの記録
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	authService.Subscribe(func(ctx context.Context, ev auth.Event) {
		collector.RecordAuthEvent(string(ev.Type))
	})

	// 6. プロフィールとロール解決
	profileService := profile.NewService(profileRepo, security.NewNameSanitizer())
	resolver := resolution.NewResolver(profileService, ledger, collector)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		PrincipalLoader:    authService,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,
		Logger:             slog.Default(),

		Metrics:         collector,
		MetricsGatherer: prometheus.DefaultGatherer,
		HealthCheckers:  healthCheckers,

		AuthService: authService,
		AuthEvents:  authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ProfileService: profileService,
		PendingRoles:   ledger,
		Flows:          resolver,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("web server starting",
		slog.String("addr", server.Addr),
		slog.Any("oauth_providers", authService.Providers()),
	)
	if err := serveUntilDone(ctx, server); err != nil {
		return err
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップを定期実行し、/metricsを公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, slog.Default(), collector)

	// 3. メトリクスサーバー
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(prometheus.DefaultGatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cleanupJob.Start(gctx, cfg.SessionCleanupInterval)
		return nil
	})
	g.Go(func() error {
		return serveUntilDone(gctx, server)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate は未適用のマイグレーションを適用し、前後のバージョンをログに残す。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	result, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if !result.Applied() {
		slog.Info("database schema is up to date", slog.Uint64("version", uint64(result.To)))
		return nil
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("from_version", uint64(result.From)),
		slog.Uint64("to_version", uint64(result.To)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// serveUntilDone はサーバーを起動し、ctxのキャンセルでグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...", slog.String("addr", server.Addr))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// newPendingRoleLedger は保留ロール台帳を生成する。
// REDIS_URLが設定されていればRedis、無ければプロセス内メモリを使う。
// Redisの場合はヘルスチェックとクローズ関数も返す。
func newPendingRoleLedger(ctx context.Context, cfg *config.Config) (pendingrole.Ledger, handler.HealthChecker, func(), error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL is not set; pending roles are kept in process memory and are not shared between instances")
		return pendingrole.NewMemoryLedger(cfg.PendingRoleTTL), nil, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established", slog.String("addr", opts.Addr))

	ledger := pendingrole.NewRedisLedger(client, cfg.PendingRoleTTL)
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	return ledger, handler.HealthCheckFunc(ledger.Health), closeFn, nil
}

// newOAuthProviders はクライアントIDとシークレットが設定されたプロバイダーだけを構築する。
// OAUTH_SAFE_HTTPが有効な場合、IdPへの通信はSSRF対策済みのクライアントで行う。
func newOAuthProviders(cfg *config.Config) (map[string]auth.OAuthProvider, error) {
	guard := security.NewSSRFGuard()

	client := &http.Client{Timeout: oauthClientTimeout}
	if cfg.OAuthSafeHTTP {
		client = guard.NewSafeClient(oauthClientTimeout)
	}

	clients := []struct {
		name   string
		client config.OAuthClient
	}{
		{auth.ProviderGoogle, cfg.Google},
		{auth.ProviderApple, cfg.Apple},
		{auth.ProviderLinkedIn, cfg.LinkedIn},
	}

	providers := make(map[string]auth.OAuthProvider, len(clients))
	for _, c := range clients {
		if !c.client.Enabled() {
			continue
		}
		oc, err := auth.WellKnownOIDCConfig(c.name, c.client.ClientID, c.client.ClientSecret, cfg.BaseURL, client)
		if err != nil {
			return nil, err
		}
		if cfg.OAuthSafeHTTP {
			if err := guard.ValidateURL(oc.Issuer); err != nil {
				return nil, fmt.Errorf("unsafe issuer for %s: %w", c.name, err)
			}
		}
		providers[c.name] = auth.NewOIDCProvider(oc)
	}
	return providers, nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
