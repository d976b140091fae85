// Package auth はメールアドレス・パスワードによるサインインとセッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/form"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// ErrInvalidCredentials はメールアドレスが未登録、またはパスワードが一致しない場合のエラー。
// 両者は区別しない。
var ErrInvalidCredentials = errors.New("invalid email or password")

// ProviderConfig はProviderの設定。
type ProviderConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Provider はサインイン・セッション参照・サインアウトを行うIDプロバイダー。
type Provider struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	hasher   PasswordHasher
	codec    *TokenCodec
	config   ProviderConfig
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewProvider はProviderを生成する。
func NewProvider(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	hasher PasswordHasher,
	codec *TokenCodec,
	config ProviderConfig,
) *Provider {
	return &Provider{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		codec:    codec,
		config:   config,
		now:      time.Now,
	}
}

// SignIn は資格情報を検証し、新しいセッションを発行する。
func (p *Provider) SignIn(ctx context.Context, creds model.Credentials, client model.ClientInfo) (*model.Session, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))

	user, err := p.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// 未登録時も検証処理を1回走らせ、応答時間から登録有無を推測されにくくする
		_, _ = p.hasher.Verify(p.dummy(), creds.Password)
		return nil, ErrInvalidCredentials
	}

	ok, err := p.hasher.Verify(user.PasswordHash, creds.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	session, err := p.createSession(ctx, user.ID, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("session_id", session.ID),
	)
	return session, nil
}

// GetSession はリクエストヘッダーのCookieまたはBearerトークンからセッションを取得する。
// トークンがない・署名が不正・未登録・期限切れの場合はnil, nilを返す。
func (p *Provider) GetSession(ctx context.Context, h http.Header) (*model.Session, error) {
	token, ok := p.tokenFromHeader(h)
	if !ok {
		return nil, nil
	}

	session, err := p.sessions.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.Expired(p.now()) {
		return nil, nil
	}
	return session, nil
}

// SignOut はリクエストに紐づくセッションを破棄する。セッションがない場合は何もしない。
func (p *Provider) SignOut(ctx context.Context, h http.Header) error {
	token, ok := p.tokenFromHeader(h)
	if !ok {
		return nil
	}

	if err := p.sessions.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user signed out")
	return nil
}

// RevokeSessions は指定ユーザーのすべてのセッションを破棄する。
func (p *Provider) RevokeSessions(ctx context.Context, userID string) error {
	if err := p.sessions.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	slog.Info("user sessions revoked", slog.String("user_id", userID))
	return nil
}

// CreateUser はユーザーを登録する。入力はログインフォームと同じルールで検証する。
func (p *Provider) CreateUser(ctx context.Context, email, name, password string) (*model.User, error) {
	in := form.LoginInput{Email: email, Password: password}.Normalize()
	if errs := form.Validate(in); errs != nil {
		return nil, errs
	}

	hash, err := p.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(in.Email),
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created", slog.String("user_id", user.ID))
	return user, nil
}

// FindUser は指定IDのユーザーを返す。
func (p *Provider) FindUser(ctx context.Context, id string) (*model.User, error) {
	user, err := p.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// EncodeToken はセッショントークンをCookieやBearerヘッダーで運ぶ署名付きの値に変換する。
func (p *Provider) EncodeToken(token string) (string, error) {
	return p.codec.Encode(token)
}

// SessionMaxAge はセッション有効期間（秒）を返す。
func (p *Provider) SessionMaxAge() int {
	return p.config.SessionMaxAge
}

// DeleteExpiredSessions は期限切れセッションを削除し、削除件数を返す。
func (p *Provider) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	n, err := p.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return n, nil
}

func (p *Provider) tokenFromHeader(h http.Header) (string, bool) {
	raw := TokenFromHeader(h)
	if raw == "" {
		return "", false
	}
	token, err := p.codec.Decode(raw)
	if err != nil {
		slog.Debug("rejected session token", slog.String("error", err.Error()))
		return "", false
	}
	return token, token != ""
}

func (p *Provider) createSession(ctx context.Context, userID string, client model.ClientInfo) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := p.now().UTC()
	session := &model.Session{
		ID:        uuid.New().String(),
		Token:     token,
		UserID:    userID,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		ExpiresAt: now.Add(time.Duration(p.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := p.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// dummy は未登録ユーザーの検証に使う使い捨てハッシュを返す。
func (p *Provider) dummy() string {
	p.dummyOnce.Do(func() {
		h, err := p.hasher.Hash("authgate-placeholder-password")
		if err != nil {
			slog.Warn("failed to prepare placeholder hash", slog.String("error", err.Error()))
			return
		}
		p.dummyHash = h
	})
	return p.dummyHash
}
