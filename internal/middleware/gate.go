// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/authgate/internal/model"
)

// ゲートの判定結果
const (
	VerdictPublic   = "public"
	VerdictPass     = "pass"
	VerdictRedirect = "redirect"
)

// DefaultLoginPath はログインページのパス。
const DefaultLoginPath = "/login"

// DefaultPublicPrefixes はセッションなしで通過できるパスの接頭辞。
var DefaultPublicPrefixes = []string{"/api/auth"}

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var sessionContextKey = contextKey("session")

// SessionGetter はリクエストヘッダーからセッションを取得するインターフェース。
// セッションがない場合はnil, nilを返す。
type SessionGetter interface {
	GetSession(ctx context.Context, h http.Header) (*model.Session, error)
}

// VerdictRecorder はゲートの判定を記録するインターフェース。
type VerdictRecorder interface {
	RecordGateVerdict(verdict string)
}

// GateConfig はリクエストゲートの設定。
type GateConfig struct {
	Sessions SessionGetter
	// LoginPath はリダイレクト先。空の場合は "/login"。
	LoginPath string
	// PublicPrefixes は認証不要なパスの接頭辞。nilの場合はDefaultPublicPrefixes。
	PublicPrefixes []string
	// PublicPaths は完全一致で認証不要とするパス（/health など）。
	PublicPaths []string
	Recorder    VerdictRecorder
}

// Gate はすべてのリクエストを公開・保護に分類し、保護パスではセッションを要求する。
type Gate struct {
	sessions       SessionGetter
	loginPath      string
	publicPrefixes []string
	publicPaths    map[string]struct{}
	recorder       VerdictRecorder
}

// NewGate はGateを生成する。
func NewGate(config GateConfig) *Gate {
	g := &Gate{
		sessions:       config.Sessions,
		loginPath:      config.LoginPath,
		publicPrefixes: config.PublicPrefixes,
		publicPaths:    make(map[string]struct{}, len(config.PublicPaths)),
		recorder:       config.Recorder,
	}
	if g.loginPath == "" {
		g.loginPath = DefaultLoginPath
	}
	if g.publicPrefixes == nil {
		g.publicPrefixes = DefaultPublicPrefixes
	}
	for _, p := range config.PublicPaths {
		g.publicPaths[p] = struct{}{}
	}
	return g
}

// Route はパスの分類。
type Route string

const (
	RoutePublic    Route = "public"
	RouteProtected Route = "protected"
)

// Classify はパスを公開・保護に分類する。ネットワークアクセスは行わない。
func (g *Gate) Classify(path string) Route {
	if g.IsPublic(path) {
		return RoutePublic
	}
	return RouteProtected
}

// IsPublic はパスがセッションなしで通過できるかを返す。
func (g *Gate) IsPublic(path string) bool {
	if path == g.loginPath {
		return true
	}
	if _, ok := g.publicPaths[path]; ok {
		return true
	}
	for _, prefix := range g.publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Classify はデフォルト設定でパスを分類する。"/login" と "/api/auth" で始まるパスが公開。
func Classify(path string) Route {
	return defaultGate.Classify(path)
}

var defaultGate = NewGate(GateConfig{})

// Middleware はゲートをHTTPミドルウェアとして返す。
// セッション取得に失敗した場合はログに残し、セッションなしとして扱う。
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.IsPublic(r.URL.Path) {
			g.record(VerdictPublic)
			next.ServeHTTP(w, r)
			return
		}

		session, err := g.sessions.GetSession(r.Context(), r.Header)
		if err != nil {
			slog.Error("failed to get session",
				slog.String("path", r.URL.Path),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("error", err.Error()),
			)
			session = nil
		}
		if session == nil {
			g.record(VerdictRedirect)
			http.Redirect(w, r, g.loginPath, http.StatusSeeOther)
			return
		}

		g.record(VerdictPass)
		setRequestUser(r.Context(), session.UserID)
		next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
	})
}

func (g *Gate) record(verdict string) {
	if g.recorder != nil {
		g.recorder.RecordGateVerdict(verdict)
	}
}

// SessionFromContext はゲートを通過したリクエストのセッションを返す。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*model.Session)
	return s, ok && s != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// ゲートを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	s, ok := SessionFromContext(ctx)
	if !ok || s.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return s.UserID, nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}
