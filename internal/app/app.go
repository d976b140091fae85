// Package app はauthgateの起動処理とコンポーネントのワイヤリングを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/config"
	"github.com/hitoshi/authgate/internal/database"
	"github.com/hitoshi/authgate/internal/handler"
	"github.com/hitoshi/authgate/internal/logger"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 設定読み込み前はJSONログで出力し、読み込み後はLOG_LEVEL/LOG_FORMATに従って再設定する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w, logger.Options{})

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, nil
}

// connect はモードに応じたドライバでDBへ接続し、疎通を確認する。
func connect(ctx context.Context, cfg *config.Config) (database.Handle, error) {
	db, err := database.Connect(cfg.Mode, cfg.DatabaseURL, database.Options{
		HTTPEndpoint: cfg.DBHTTPEndpoint,
		HTTPTimeout:  cfg.DBHTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("driver", string(db.Driver())),
		slog.String("mode", string(cfg.Mode)),
	)
	return db, nil
}

// newProvider はDBハンドルからIdentity Providerを組み立てる。
func newProvider(cfg *config.Config, db database.Handle) *auth.Provider {
	return auth.NewProvider(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresSessionRepo(db),
		auth.NewBcryptHasher(0),
		auth.NewTokenCodec(cfg.SessionSecret, cfg.SessionMaxAge),
		auth.ProviderConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
}

// components はserveモードで起動するコンポーネント一式。
type components struct {
	router  http.Handler
	limiter *middleware.RateLimiter
	cleanup *cleanup.CleanupJob
}

func (c *components) close() {
	c.limiter.Stop()
}

// newComponents は全依存関係をワイヤリングする。
func newComponents(cfg *config.Config, db database.Handle) *components {
	provider := newProvider(cfg, db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	limiter := middleware.NewRateLimiter(middleware.SignInRateLimiterConfig(cfg.RateLimitSignIn), collector)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:   slog.Default(),
		Provider: provider,
		DB:       db,
		Cookie: handler.CookieConfig{
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
			MaxAge: cfg.SessionMaxAge,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(registry),
	})

	return &components{
		router:  router,
		limiter: limiter,
		cleanup: cleanup.NewCleanupJob(provider, slog.Default(), collector),
	}
}

// Serve はHTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func Serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting application",
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c := newComponents(cfg, db)
	defer c.close()

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	go c.cleanup.Start(jobCtx, cfg.SessionCleanupInterval)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      c.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// Migrate はデータベースマイグレーションを実行する。
// マイグレーションは常にソケット接続で行う。
func Migrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// CreateUser はメールアドレスとパスワードでユーザーを登録する。
func CreateUser(ctx context.Context, cfg *config.Config, email, name, password string) error {
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := newProvider(cfg, db).CreateUser(ctx, email, name, password); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Healthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func Healthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// パースできない場合はすべてマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
