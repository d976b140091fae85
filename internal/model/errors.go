package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials = "INVALID_EMAIL_OR_PASSWORD"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUnsupportedMedia   = "UNSUPPORTED_MEDIA_TYPE"
	ErrCodeRateLimited        = "TOO_MANY_REQUESTS"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// 画面に表示する定型メッセージ
const (
	MessageInvalidCredentials = "Invalid email or password"
	MessageSignInFailed       = "Failed to sign in"
	MessageUnexpected         = "An unexpected error occurred"
)

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// メールアドレス未登録とパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  MessageInvalidCredentials,
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewValidationError は入力検証エラーを生成する。messageは最初の違反メッセージ。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を修正してから再度送信してください。",
	}
}

// NewInvalidRequestError はリクエストボディが解釈できない場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("invalid request: %s", reason),
		Category: "validation",
		Action:   "JSON形式で email と password を送信してください。",
	}
}

// NewUnsupportedMediaTypeError はContent-Typeがapplication/jsonでない場合のエラーを生成する。
func NewUnsupportedMediaTypeError() *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedMedia,
		Message:  "Content-Type must be application/json",
		Category: "validation",
		Action:   "Content-Type: application/json を指定して送信してください。",
	}
}

// NewUnauthorizedError は有効なセッションがない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "unauthorized",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewRateLimitedError はサインイン試行回数超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many sign-in attempts",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  MessageUnexpected,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
