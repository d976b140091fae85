package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/securecookie"
)

// SessionCookieName はセッショントークンを運ぶCookie名。
const SessionCookieName = "session_token"

// TokenCodec はセッショントークンにHMAC署名を付けて転送用の値に変換する。
// 署名にはタイムスタンプが含まれ、maxAgeを過ぎた値はDecodeで拒否される。
type TokenCodec struct {
	sc *securecookie.SecureCookie
}

// NewTokenCodec はsecretを署名鍵とするTokenCodecを生成する。
func NewTokenCodec(secret string, maxAge int) *TokenCodec {
	sc := securecookie.New([]byte(secret), nil)
	sc.SetSerializer(securecookie.NopEncoder{})
	sc.MaxAge(maxAge)
	return &TokenCodec{sc: sc}
}

// Encode はトークンを署名付きの値に変換する。
func (c *TokenCodec) Encode(token string) (string, error) {
	v, err := c.sc.Encode(SessionCookieName, []byte(token))
	if err != nil {
		return "", fmt.Errorf("failed to encode session token: %w", err)
	}
	return v, nil
}

// Decode は署名を検証してトークンを取り出す。改ざん・期限切れはエラーになる。
func (c *TokenCodec) Decode(value string) (string, error) {
	var raw []byte
	if err := c.sc.Decode(SessionCookieName, value, &raw); err != nil {
		return "", fmt.Errorf("failed to decode session token: %w", err)
	}
	return string(raw), nil
}

// TokenFromHeader はリクエストヘッダーから署名付きトークンを取り出す。
// session_token Cookieを優先し、なければ Authorization: Bearer を参照する。
func TokenFromHeader(h http.Header) string {
	r := &http.Request{Header: h}
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	scheme, value, ok := strings.Cut(h.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(value)
	}
	return ""
}

// generateToken は暗号的に安全なセッショントークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
