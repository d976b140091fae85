// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashはbcrypt形式、または旧IdPが書き込んだ "salt:key" 形式のscryptハッシュ。
type User struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Credentials はサインインフォームから受け取る一時的な入力。永続化もログ出力もしない。
type Credentials struct {
	Email    string
	Password string
}

// ClientInfo はセッション発行時に記録するクライアント情報。
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// Session はユーザーのログインセッションを表す。
// Tokenはクライアントが保持する不透明なトークンで、IDは内部の主キー。
type Session struct {
	ID        string
	Token     string
	UserID    string
	IPAddress string
	UserAgent string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はnow時点でセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
