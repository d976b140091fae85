package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/form"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// フォームの非表示フィールド名
const formIDField = "form_id"

// loginPage はログイン画面のテンプレートデータ。
type loginPage struct {
	Email       string
	FormID      string
	CSRFToken   string
	FieldErrors form.Errors
	Error       string
}

// LoginHandler はログイン画面の表示とフォーム送信を扱う。
type LoginHandler struct {
	provider IdentityProvider
	cookie   CookieConfig
	recorder SignInRecorder
	// 同じform_idかつ同じ資格情報の送信は実行中のサインインを共有する
	inflight singleflight.Group
}

// NewLoginHandler はLoginHandlerを生成する。recorderはnilでもよい。
func NewLoginHandler(provider IdentityProvider, cookie CookieConfig, recorder SignInRecorder) *LoginHandler {
	if recorder == nil {
		recorder = nopSignInRecorder{}
	}
	return &LoginHandler{
		provider: provider,
		cookie:   cookie,
		recorder: recorder,
	}
}

// Show はログインフォームを表示する。
// GET /login
func (h *LoginHandler) Show(w http.ResponseWriter, r *http.Request) {
	render(w, loginTemplate, http.StatusOK, loginPage{
		FormID:    uuid.New().String(),
		CSRFToken: middleware.CSRFToken(r.Context()),
	})
}

// Submit はフォーム送信を処理する。
// POST /login
//
// 入力検証に失敗した場合はサインインを呼ばずに422でフォームを再表示する。
// 成功時はセッションCookieを設定して "/" へリダイレクトする。
func (h *LoginHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.recorder.RecordSignIn(metrics.OutcomeValidationFailed)
		render(w, loginTemplate, http.StatusBadRequest, loginPage{
			FormID:    uuid.New().String(),
			CSRFToken: middleware.CSRFToken(r.Context()),
			Error:     model.MessageSignInFailed,
		})
		return
	}

	in := form.LoginInput{
		Email:    r.PostFormValue(form.FieldEmail),
		Password: r.PostFormValue(form.FieldPassword),
	}.Normalize()

	page := loginPage{
		Email:     in.Email,
		FormID:    r.PostFormValue(formIDField),
		CSRFToken: middleware.CSRFToken(r.Context()),
	}
	if page.FormID == "" {
		page.FormID = uuid.New().String()
	}

	if errs := form.Validate(in); errs != nil {
		h.recorder.RecordSignIn(metrics.OutcomeValidationFailed)
		page.FieldErrors = errs
		render(w, loginTemplate, http.StatusUnprocessableEntity, page)
		return
	}

	session, err := h.signIn(r, page.FormID, model.Credentials{Email: in.Email, Password: in.Password})
	if err != nil {
		status, message, outcome := classifySignInError(err)
		if outcome == metrics.OutcomeError {
			slog.Error("sign-in failed",
				slog.String("form_id", page.FormID),
				slog.String("error", err.Error()),
			)
		}
		h.recorder.RecordSignIn(outcome)
		page.Error = message
		render(w, loginTemplate, status, page)
		return
	}

	value, err := h.provider.EncodeToken(session.Token)
	if err != nil {
		slog.Error("failed to encode session token", slog.String("error", err.Error()))
		h.recorder.RecordSignIn(metrics.OutcomeError)
		page.Error = model.MessageUnexpected
		render(w, loginTemplate, http.StatusInternalServerError, page)
		return
	}

	h.recorder.RecordSignIn(metrics.OutcomeSuccess)
	setSessionCookie(w, h.cookie, value)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// signIn は同じform_id・同じ資格情報で実行中のサインインがあればその結果を待ち、なければ新たに開始する。
// 実行中のサインインは呼び出し元の切断では中断しない。
func (h *LoginHandler) signIn(r *http.Request, formID string, creds model.Credentials) (*model.Session, error) {
	ctx := context.WithoutCancel(r.Context())
	client := clientInfo(r)

	v, err, shared := h.inflight.Do(inflightKey(formID, creds), func() (any, error) {
		return h.provider.SignIn(ctx, creds, client)
	})
	if shared {
		slog.Debug("joined in-flight sign-in", slog.String("form_id", formID))
	}
	if err != nil {
		return nil, err
	}
	return v.(*model.Session), nil
}

// inflightKey はform_idと資格情報から共有キーを作る。パスワードはハッシュ値のみを含める。
func inflightKey(formID string, creds model.Credentials) string {
	sum := sha256.Sum256([]byte(strings.ToLower(creds.Email) + "\x00" + creds.Password))
	return formID + "\x00" + hex.EncodeToString(sum[:])
}

// classifySignInError はサインインの失敗をステータス・表示メッセージ・メトリクスの結果に変換する。
// 資格情報の不一致は定型メッセージ、それ以外は汎用メッセージを表示する。
func classifySignInError(err error) (int, string, string) {
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return http.StatusUnauthorized, model.MessageInvalidCredentials, metrics.OutcomeInvalidCredentials
	}
	return http.StatusInternalServerError, model.MessageUnexpected, metrics.OutcomeError
}
