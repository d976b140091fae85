package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
)

func loginRequest(email, password, formID string) *http.Request {
	form := url.Values{"email": {email}, "password": {password}}
	if formID != "" {
		form.Set("form_id", formID)
	}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("User-Agent", "login-test")
	return req
}

func TestLoginShow_RendersForm(t *testing.T) {
	h := NewLoginHandler(&mockProvider{}, testCookieConfig, nil)
	w := httptest.NewRecorder()

	h.Show(w, httptest.NewRequest(http.MethodGet, "/login", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, `name="email"`)
	assert.Contains(t, body, `name="password"`)
	assert.Contains(t, body, `name="form_id"`)
	assert.NotContains(t, body, `role="alert"`)
}

func TestLoginSubmit_Success_SetsCookieAndRedirects(t *testing.T) {
	rec := &mockSignInRecorder{}
	provider := &mockProvider{
		signInFn: func(_ context.Context, creds model.Credentials, client model.ClientInfo) (*model.Session, error) {
			assert.Equal(t, "user@example.com", creds.Email)
			assert.Equal(t, "secret1", creds.Password)
			assert.Equal(t, "192.0.2.10", client.IPAddress)
			assert.Equal(t, "login-test", client.UserAgent)
			return testSession(), nil
		},
	}
	h := NewLoginHandler(provider, testCookieConfig, rec)
	w := httptest.NewRecorder()

	h.Submit(w, loginRequest(" user@example.com ", "secret1", "form-1"))

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	cookie := findCookie(w.Result().Cookies(), auth.SessionCookieName)
	require.NotNil(t, cookie)
	assert.Equal(t, "signed.token-1", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, 3600, cookie.MaxAge)
	assert.Equal(t, metrics.OutcomeSuccess, rec.last())
}

func TestLoginSubmit_ShortPassword_422WithoutSignIn(t *testing.T) {
	provider := &mockProvider{}
	h := NewLoginHandler(provider, testCookieConfig, nil)
	w := httptest.NewRecorder()

	h.Submit(w, loginRequest("user@example.com", "12345", "form-1"))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Password must be at least 6 characters")
	assert.EqualValues(t, 0, provider.signInCalls.Load())
	assert.Nil(t, findCookie(w.Result().Cookies(), auth.SessionCookieName))
}

func TestLoginSubmit_InvalidEmail_422KeepsInput(t *testing.T) {
	provider := &mockProvider{}
	h := NewLoginHandler(provider, testCookieConfig, nil)
	w := httptest.NewRecorder()

	h.Submit(w, loginRequest("not-an-email", "secret1", "form-1"))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Please enter a valid email address")
	assert.Contains(t, body, `value="not-an-email"`)
	assert.Contains(t, body, `value="form-1"`)
	assert.EqualValues(t, 0, provider.signInCalls.Load())
}

func TestLoginSubmit_InvalidCredentials_ShowsProviderMessage(t *testing.T) {
	rec := &mockSignInRecorder{}
	provider := &mockProvider{
		signInFn: func(context.Context, model.Credentials, model.ClientInfo) (*model.Session, error) {
			return nil, auth.ErrInvalidCredentials
		},
	}
	h := NewLoginHandler(provider, testCookieConfig, rec)
	w := httptest.NewRecorder()

	h.Submit(w, loginRequest("user@example.com", "wrong-password", "form-1"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid email or password")
	assert.Nil(t, findCookie(w.Result().Cookies(), auth.SessionCookieName))
	assert.Equal(t, metrics.OutcomeInvalidCredentials, rec.last())
}

func TestLoginSubmit_UnexpectedError_ShowsGenericMessage(t *testing.T) {
	provider := &mockProvider{
		signInFn: func(context.Context, model.Credentials, model.ClientInfo) (*model.Session, error) {
			return nil, errors.New("network unreachable")
		},
	}
	h := NewLoginHandler(provider, testCookieConfig, nil)
	w := httptest.NewRecorder()

	h.Submit(w, loginRequest("user@example.com", "secret1", "form-1"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "An unexpected error occurred")
	assert.NotContains(t, body, "network unreachable")
}

func TestLoginSubmit_EncodeError(t *testing.T) {
	provider := &mockProvider{
		encodeTokenFn: func(string) (string, error) { return "", errors.New("codec broken") },
	}
	h := NewLoginHandler(provider, testCookieConfig, nil)
	w := httptest.NewRecorder()

	h.Submit(w, loginRequest("user@example.com", "secret1", "form-1"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Nil(t, findCookie(w.Result().Cookies(), auth.SessionCookieName))
}

func TestClassifySignInError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"invalid credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password"},
		{"wrapped invalid credentials", errors.Join(errors.New("ctx"), auth.ErrInvalidCredentials), http.StatusUnauthorized, "Invalid email or password"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "An unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message, _ := classifySignInError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.message, message)
		})
	}
}

// 同じフォームからの同時送信はサインインを1回だけ実行すること
func TestLoginSubmit_SameFormID_SingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	provider := &mockProvider{
		signInFn: func(context.Context, model.Credentials, model.ClientInfo) (*model.Session, error) {
			once.Do(func() { close(started) })
			<-release
			return testSession(), nil
		},
	}
	h := NewLoginHandler(provider, testCookieConfig, nil)

	const submits = 3
	codes := make([]int, submits)
	var wg sync.WaitGroup
	for i := 0; i < submits; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i > 0 {
				<-started
			}
			w := httptest.NewRecorder()
			h.Submit(w, loginRequest("user@example.com", "secret1", "same-form"))
			codes[i] = w.Code
		}(i)
	}

	<-started
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, provider.signInCalls.Load())
	for i, code := range codes {
		assert.Equal(t, http.StatusSeeOther, code, "submit %d", i)
	}
}

// 同じform_idでも資格情報が異なる送信は結果を共有しないこと
func TestLoginSubmit_SameFormIDDifferentCredentials_NotShared(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	provider := &mockProvider{
		signInFn: func(_ context.Context, creds model.Credentials, _ model.ClientInfo) (*model.Session, error) {
			if creds.Email != "alice@example.com" {
				return nil, auth.ErrInvalidCredentials
			}
			once.Do(func() { close(started) })
			<-release
			return testSession(), nil
		},
	}
	h := NewLoginHandler(provider, testCookieConfig, nil)

	alice := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Submit(alice, loginRequest("alice@example.com", "secret1", "shared-form"))
	}()
	<-started

	mallory := httptest.NewRecorder()
	h.Submit(mallory, loginRequest("mallory@example.com", "secret1", "shared-form"))

	close(release)
	<-done

	assert.EqualValues(t, 2, provider.signInCalls.Load())
	assert.Equal(t, http.StatusSeeOther, alice.Code)
	assert.NotNil(t, findCookie(alice.Result().Cookies(), auth.SessionCookieName))
	assert.Equal(t, http.StatusUnauthorized, mallory.Code)
	assert.Nil(t, findCookie(mallory.Result().Cookies(), auth.SessionCookieName))
}

func TestInflightKey(t *testing.T) {
	base := model.Credentials{Email: "user@example.com", Password: "secret1"}

	assert.Equal(t, inflightKey("f", base), inflightKey("f", model.Credentials{Email: "USER@example.com", Password: "secret1"}))
	assert.NotEqual(t, inflightKey("f", base), inflightKey("g", base))
	assert.NotEqual(t, inflightKey("f", base), inflightKey("f", model.Credentials{Email: base.Email, Password: "secret2"}))
	assert.NotContains(t, inflightKey("f", base), "secret1")
}

func TestLoginSubmit_DifferentFormIDs_Independent(t *testing.T) {
	provider := &mockProvider{}
	h := NewLoginHandler(provider, testCookieConfig, nil)

	for _, id := range []string{"form-a", "form-b"} {
		w := httptest.NewRecorder()
		h.Submit(w, loginRequest("user@example.com", "secret1", id))
		assert.Equal(t, http.StatusSeeOther, w.Code)
	}

	assert.EqualValues(t, 2, provider.signInCalls.Load())
}

// 完了後の再送信は新しいサインインとして扱うこと
func TestLoginSubmit_SequentialSameFormID_SignsInAgain(t *testing.T) {
	calls := 0
	provider := &mockProvider{
		signInFn: func(context.Context, model.Credentials, model.ClientInfo) (*model.Session, error) {
			calls++
			if calls == 1 {
				return nil, auth.ErrInvalidCredentials
			}
			return testSession(), nil
		},
	}
	h := NewLoginHandler(provider, testCookieConfig, nil)

	w := httptest.NewRecorder()
	h.Submit(w, loginRequest("user@example.com", "wrong-pass", "form-1"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	h.Submit(w, loginRequest("user@example.com", "secret1", "form-1"))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, 2, calls)
}

// 送信者が切断しても実行中のサインインは中断しないこと
func TestLoginSubmit_SignInContextNotCanceled(t *testing.T) {
	provider := &mockProvider{
		signInFn: func(ctx context.Context, _ model.Credentials, _ model.ClientInfo) (*model.Session, error) {
			assert.NoError(t, ctx.Err())
			return testSession(), nil
		},
	}
	h := NewLoginHandler(provider, testCookieConfig, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	h.Submit(w, loginRequest("user@example.com", "secret1", "form-1").WithContext(ctx))

	assert.Equal(t, http.StatusSeeOther, w.Code)
}
