// Package form はログインフォームの入力検証を提供する。
//
// 検証ルールはLoginInputの構造体タグ1か所にだけ定義し、
// ログイン画面・サインインAPI・ユーザー登録のすべてがValidateを通して参照する。
package form

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	FieldEmail    = "email"
	FieldPassword = "password"

	// MinPasswordLength はパスワードの最小文字数。
	MinPasswordLength = 6
)

// LoginInput はログインフォームの入力値。
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// Normalize は前後の空白を除去したメールアドレスを持つコピーを返す。パスワードは変更しない。
func (in LoginInput) Normalize() LoginInput {
	in.Email = strings.TrimSpace(in.Email)
	return in
}

// 表示順を固定するためのフィールド一覧
var fieldOrder = []string{FieldEmail, FieldPassword}

// messages は "field.tag" をキーとした表示メッセージ。タグ未登録の場合は "field" のメッセージを使う。
var messages = map[string]string{
	"email":             "Please enter a valid email address",
	"password":          "Password must be at least 6 characters",
	"password.required": "Password must be at least 6 characters",
	"password.min":      "Password must be at least 6 characters",
}

// Errors はフィールド名から表示メッセージへの対応。
type Errors map[string]string

// Error はerrorインターフェースを実装する。最初の違反メッセージを返す。
func (e Errors) Error() string {
	return e.First()
}

// First はフィールド表示順で最初の違反メッセージを返す。
func (e Errors) First() string {
	for _, f := range fieldOrder {
		if msg, ok := e[f]; ok {
			return msg
		}
	}
	return ""
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate はすべてのフィールドを検証する。問題がなければnilを返す。
func Validate(in LoginInput) Errors {
	return toErrors(validate.Struct(in))
}

func toErrors(err error) Errors {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Errors{"": err.Error()}
	}

	out := make(Errors, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := out[field]; seen {
			continue
		}
		out[field] = messageFor(field, fe.Tag())
	}
	return out
}

func messageFor(field, tag string) string {
	if msg, ok := messages[field+"."+tag]; ok {
		return msg
	}
	if msg, ok := messages[field]; ok {
		return msg
	}
	return "Invalid " + field
}
