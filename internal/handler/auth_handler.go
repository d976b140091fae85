// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net"
	"net/http"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/model"
)

// IdentityProvider はハンドラーが必要とするIDプロバイダーのインターフェース。
// auth.Providerが実装する。
type IdentityProvider interface {
	SignIn(ctx context.Context, creds model.Credentials, client model.ClientInfo) (*model.Session, error)
	GetSession(ctx context.Context, h http.Header) (*model.Session, error)
	SignOut(ctx context.Context, h http.Header) error
	RevokeSessions(ctx context.Context, userID string) error
	FindUser(ctx context.Context, id string) (*model.User, error)
	EncodeToken(token string) (string, error)
}

// SignInRecorder はサインイン試行の結果を記録するインターフェース。
type SignInRecorder interface {
	RecordSignIn(outcome string)
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Domain string
	Secure bool
	MaxAge int // セッションCookieの有効期間（秒）
}

// setSessionCookie は署名付きトークンをHTTP Only Cookieとして設定する。
func setSessionCookie(w http.ResponseWriter, config CookieConfig, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   config.MaxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieを削除する。
func clearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientInfo はセッションに記録するクライアント情報をリクエストから取り出す。
func clientInfo(r *http.Request) model.ClientInfo {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return model.ClientInfo{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}

type nopSignInRecorder struct{}

func (nopSignInRecorder) RecordSignIn(string) {}
