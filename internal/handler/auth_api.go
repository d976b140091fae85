package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/form"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// サインインリクエストボディの上限
const maxSignInBodyBytes = 1 << 16

type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

type signInResponse struct {
	Token string        `json:"token"`
	User  *userResponse `json:"user"`
}

type getSessionResponse struct {
	Session sessionResponse `json:"session"`
	User    *userResponse   `json:"user"`
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

// AuthAPIHandler は /api/auth 配下のJSONエンドポイントを提供する。
type AuthAPIHandler struct {
	provider IdentityProvider
	cookie   CookieConfig
	recorder SignInRecorder
}

// NewAuthAPIHandler はAuthAPIHandlerを生成する。recorderはnilでもよい。
func NewAuthAPIHandler(provider IdentityProvider, cookie CookieConfig, recorder SignInRecorder) *AuthAPIHandler {
	if recorder == nil {
		recorder = nopSignInRecorder{}
	}
	return &AuthAPIHandler{provider: provider, cookie: cookie, recorder: recorder}
}

// SignInEmail はメールアドレスとパスワードでサインインする。
// POST /api/auth/sign-in/email
//
// text/plainのフォーム送信はCORSのプリフライトなしで届くため、application/json以外は415で拒否する。
func (h *AuthAPIHandler) SignInEmail(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		h.recorder.RecordSignIn(metrics.OutcomeValidationFailed)
		middleware.WriteErrorResponse(w, http.StatusUnsupportedMediaType, model.NewUnsupportedMediaTypeError())
		return
	}

	var in form.LoginInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSignInBodyBytes))
	if err := dec.Decode(&in); err != nil {
		h.recorder.RecordSignIn(metrics.OutcomeValidationFailed)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("malformed JSON body"))
		return
	}
	in = in.Normalize()

	if errs := form.Validate(in); errs != nil {
		h.recorder.RecordSignIn(metrics.OutcomeValidationFailed)
		middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity, model.NewValidationError(errs.First()))
		return
	}

	session, err := h.provider.SignIn(r.Context(), model.Credentials{Email: in.Email, Password: in.Password}, clientInfo(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.recorder.RecordSignIn(metrics.OutcomeInvalidCredentials)
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
			return
		}
		h.recorder.RecordSignIn(metrics.OutcomeError)
		slog.Error("sign-in failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	value, err := h.provider.EncodeToken(session.Token)
	if err != nil {
		h.recorder.RecordSignIn(metrics.OutcomeError)
		slog.Error("failed to encode session token", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	user, err := h.provider.FindUser(r.Context(), session.UserID)
	if err != nil {
		slog.Warn("failed to load signed-in user",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
	}

	h.recorder.RecordSignIn(metrics.OutcomeSuccess)
	setSessionCookie(w, h.cookie, value)
	writeJSON(w, http.StatusOK, signInResponse{Token: value, User: toUserResponse(user)})
}

// GetSession は現在のセッションとユーザーを返す。セッションがなければnullを返す。
// GET /api/auth/get-session
func (h *AuthAPIHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.provider.GetSession(r.Context(), r.Header)
	if err != nil {
		slog.Error("failed to get session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if session == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	user, err := h.provider.FindUser(r.Context(), session.UserID)
	if err != nil {
		slog.Error("failed to find user", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if user == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	writeJSON(w, http.StatusOK, getSessionResponse{
		Session: sessionResponse{
			ID:        session.ID,
			UserID:    session.UserID,
			ExpiresAt: session.ExpiresAt,
			IPAddress: session.IPAddress,
			UserAgent: session.UserAgent,
		},
		User: toUserResponse(user),
	})
}

// SignOut はセッションを破棄してCookieを削除する。
// POST /api/auth/sign-out
func (h *AuthAPIHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.provider.SignOut(r.Context(), r.Header); err != nil {
		slog.Error("failed to sign out", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	clearSessionCookie(w, h.cookie)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// RevokeSessions は現在のユーザーのすべてのセッションを破棄してCookieを削除する。
// POST /api/auth/revoke-sessions
func (h *AuthAPIHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	session, err := h.provider.GetSession(r.Context(), r.Header)
	if err != nil {
		slog.Error("failed to get session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if session == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.provider.RevokeSessions(r.Context(), session.UserID); err != nil {
		slog.Error("failed to revoke sessions",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	clearSessionCookie(w, h.cookie)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// isJSON はContent-Typeがapplication/jsonかどうかを返す。charsetなどのパラメータは無視する。
func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
