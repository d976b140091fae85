package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/middleware"
)

type homePage struct {
	Name      string
	Email     string
	CSRFToken string
}

// HomeHandler はゲートの内側にあるアプリケーション画面を提供する。
type HomeHandler struct {
	provider IdentityProvider
	cookie   CookieConfig
}

// NewHomeHandler はHomeHandlerを生成する。
func NewHomeHandler(provider IdentityProvider, cookie CookieConfig) *HomeHandler {
	return &HomeHandler{provider: provider, cookie: cookie}
}

// Home はサインイン中のユーザーを表示する。
// GET /
func (h *HomeHandler) Home(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, middleware.DefaultLoginPath, http.StatusSeeOther)
		return
	}

	user, err := h.provider.FindUser(r.Context(), userID)
	if err != nil {
		slog.Error("failed to find user",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		clearSessionCookie(w, h.cookie)
		http.Redirect(w, r, middleware.DefaultLoginPath, http.StatusSeeOther)
		return
	}

	render(w, homeTemplate, http.StatusOK, homePage{
		Name:      user.Name,
		Email:     user.Email,
		CSRFToken: middleware.CSRFToken(r.Context()),
	})
}

// Logout はセッションを破棄してログイン画面へ戻す。
// POST /logout
func (h *HomeHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.provider.SignOut(r.Context(), r.Header); err != nil {
		// 破棄に失敗してもCookieはクリアする
		slog.Error("failed to sign out", slog.String("error", err.Error()))
	}

	clearSessionCookie(w, h.cookie)
	http.Redirect(w, r, middleware.DefaultLoginPath, http.StatusSeeOther)
}

// Pinger はデータベースの疎通確認インターフェース。database.Handleが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health はデータベースへの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
