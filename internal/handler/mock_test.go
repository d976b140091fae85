package handler

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// --- モック定義 ---

type mockProvider struct {
	signInCalls atomic.Int32

	signInFn      func(ctx context.Context, creds model.Credentials, client model.ClientInfo) (*model.Session, error)
	getSessionFn  func(ctx context.Context, h http.Header) (*model.Session, error)
	signOutFn     func(ctx context.Context, h http.Header) error
	revokeFn      func(ctx context.Context, userID string) error
	findUserFn    func(ctx context.Context, id string) (*model.User, error)
	encodeTokenFn func(token string) (string, error)
}

func (m *mockProvider) SignIn(ctx context.Context, creds model.Credentials, client model.ClientInfo) (*model.Session, error) {
	m.signInCalls.Add(1)
	if m.signInFn != nil {
		return m.signInFn(ctx, creds, client)
	}
	return testSession(), nil
}

func (m *mockProvider) GetSession(ctx context.Context, h http.Header) (*model.Session, error) {
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx, h)
	}
	return nil, nil
}

func (m *mockProvider) SignOut(ctx context.Context, h http.Header) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, h)
	}
	return nil
}

func (m *mockProvider) RevokeSessions(ctx context.Context, userID string) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, userID)
	}
	return nil
}

func (m *mockProvider) FindUser(ctx context.Context, id string) (*model.User, error) {
	if m.findUserFn != nil {
		return m.findUserFn(ctx, id)
	}
	return testUser(), nil
}

func (m *mockProvider) EncodeToken(token string) (string, error) {
	if m.encodeTokenFn != nil {
		return m.encodeTokenFn(token)
	}
	return "signed." + token, nil
}

type mockSignInRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *mockSignInRecorder) RecordSignIn(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *mockSignInRecorder) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.outcomes) == 0 {
		return ""
	}
	return m.outcomes[len(m.outcomes)-1]
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.err
}

// --- compile-time interface checks ---
var _ IdentityProvider = (*mockProvider)(nil)
var _ SignInRecorder = (*mockSignInRecorder)(nil)
var _ Pinger = (*mockPinger)(nil)

func testSession() *model.Session {
	return &model.Session{
		ID:        "session-1",
		Token:     "token-1",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func testUser() *model.User {
	return &model.User{ID: "user-1", Email: "user@example.com", Name: "Test User"}
}

var testCookieConfig = CookieConfig{MaxAge: 3600}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
