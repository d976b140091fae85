package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

// PasswordHasher はパスワードハッシュの生成と検証を行う。
type PasswordHasher interface {
	// Hash はパスワードのハッシュを生成する。
	Hash(password string) (string, error)
	// Verify はハッシュとパスワードが一致するかを返す。不一致はエラーではない。
	Verify(hash, password string) (bool, error)
}

// 旧IdPが書き込んだscryptハッシュ（"<salt hex>:<key hex>"）のパラメータ。
// saltは16バイトのhex文字列をそのままUTF-8バイト列としてscryptに渡す。
const (
	legacyScryptN      = 16384
	legacyScryptR      = 16
	legacyScryptP      = 1
	legacyScryptKeyLen = 64
)

// MaxPasswordBytes はbcryptが扱える入力の最大バイト数。
const MaxPasswordBytes = 72

// ErrPasswordTooLong は新規ハッシュ生成時にパスワードがMaxPasswordBytesを超える場合のエラー。
var ErrPasswordTooLong = errors.New("password must be at most 72 bytes")

// ErrUnknownHashFormat は解釈できない形式のハッシュが保存されていた場合のエラー。
var ErrUnknownHashFormat = errors.New("unknown password hash format")

// BcryptHasher は新規ハッシュをbcryptで生成し、検証ではbcryptと旧scrypt形式の両方を受け付ける。
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher はBcryptHasherを生成する。costが0の場合はbcrypt.DefaultCost。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

// Hash はbcryptハッシュを生成する。
// 上限はバイト数で判定するため、非ASCII文字は72文字未満でも超えることがある。
func (h *BcryptHasher) Hash(password string) (string, error) {
	if len([]byte(password)) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Verify はハッシュ形式を判別して検証する。
func (h *BcryptHasher) Verify(hash, password string) (bool, error) {
	switch {
	case strings.HasPrefix(hash, "$2"):
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to compare bcrypt hash: %w", err)
		}
		return true, nil
	case strings.Contains(hash, ":"):
		return verifyLegacyScrypt(hash, password)
	default:
		return false, ErrUnknownHashFormat
	}
}

func verifyLegacyScrypt(hash, password string) (bool, error) {
	salt, keyHex, _ := strings.Cut(hash, ":")
	want, err := hex.DecodeString(keyHex)
	if err != nil {
		return false, fmt.Errorf("invalid scrypt key encoding: %w", err)
	}

	got, err := scrypt.Key([]byte(norm.NFKC.String(password)), []byte(salt),
		legacyScryptN, legacyScryptR, legacyScryptP, legacyScryptKeyLen)
	if err != nil {
		return false, fmt.Errorf("failed to derive scrypt key: %w", err)
	}

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

var _ PasswordHasher = (*BcryptHasher)(nil)
