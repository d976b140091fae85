package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/authgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger   *slog.Logger
	Provider IdentityProvider
	DB       Pinger
	Cookie   CookieConfig

	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// Metrics はnilでもよい。
	Metrics        Recorder
	MetricsHandler http.Handler
}

// Recorder はルーター全体で使うメトリクス記録インターフェース。metrics.Collectorが実装する。
type Recorder interface {
	middleware.RequestRecorder
	middleware.VerdictRecorder
	SignInRecorder
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → Gate
//
// ゲートは全ルートに適用し、/login と /api/auth 配下、/health と /metrics のみセッションなしで通す。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		reqRecorder     middleware.RequestRecorder
		verdictRecorder middleware.VerdictRecorder
		signInRecorder  SignInRecorder
	)
	if deps.Metrics != nil {
		reqRecorder, verdictRecorder, signInRecorder = deps.Metrics, deps.Metrics, deps.Metrics
	}

	publicPaths := []string{"/health"}
	if deps.MetricsHandler != nil {
		publicPaths = append(publicPaths, "/metrics")
	}
	gate := middleware.NewGate(middleware.GateConfig{
		Sessions:    deps.Provider,
		PublicPaths: publicPaths,
		Recorder:    verdictRecorder,
	})

	loginHandler := NewLoginHandler(deps.Provider, deps.Cookie, signInRecorder)
	apiHandler := NewAuthAPIHandler(deps.Provider, deps.Cookie, signInRecorder)
	homeHandler := NewHomeHandler(deps.Provider, deps.Cookie)
	csrf := middleware.NewCSRFMiddleware(middleware.CSRFConfig{
		CookieSecure: deps.Cookie.Secure,
		CookieDomain: deps.Cookie.Domain,
	})

	limit := func(next http.Handler) http.Handler { return next }
	if deps.RateLimiter != nil {
		limit = deps.RateLimiter.Middleware
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, reqRecorder))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(gate.Middleware)

	// --- インフラ ---
	if deps.DB != nil {
		r.Get("/health", Health(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- IDプロバイダーAPI ---
	r.Route("/api/auth", func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.With(limit).Post("/sign-in/email", apiHandler.SignInEmail)
		r.Get("/get-session", apiHandler.GetSession)
		r.Post("/sign-out", apiHandler.SignOut)
		r.Post("/revoke-sessions", apiHandler.RevokeSessions)
	})

	// --- HTML画面 ---
	r.Group(func(r chi.Router) {
		r.Use(csrf)
		r.Get("/login", loginHandler.Show)
		r.With(limit).Post("/login", loginHandler.Submit)
		r.Get("/", homeHandler.Home)
		r.Post("/logout", homeHandler.Logout)
	})

	return r
}
