// Package database はデータベース接続とマイグレーション管理を提供する。
//
// 接続はデプロイモードによって2種類のドライバから選択される。
//   - development: lib/pqによるソケット接続
//   - production, test: SQL over HTTP（サーバーレス環境向け）
//
// どちらもHandleインターフェースを実装し、呼び出し側はドライバを意識しない。
package database

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/config"
)

// ErrMissingDatabaseURL は接続文字列が空の場合の設定エラー。
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is not set")

// Driver は接続に使うドライバの種別。
type Driver string

const (
	// DriverSocket はPostgreSQLプロトコルで直接接続するドライバ。
	DriverSocket Driver = "socket"
	// DriverHTTP はHTTPでSQLを送るドライバ。
	DriverHTTP Driver = "http"
)

// Row は1行分の結果。該当行がない場合、Scanはsql.ErrNoRowsを返す。
type Row interface {
	Scan(dest ...any) error
}

// Handle はリポジトリが利用するデータベースハンドルの抽象。
type Handle interface {
	// Driver はこのハンドルのドライバ種別を返す。
	Driver() Driver
	// ExecContext は結果行を返さないクエリを実行し、影響行数を返す。
	ExecContext(ctx context.Context, query string, args ...any) (int64, error)
	// QueryRowContext は最大1行を返すクエリを実行する。
	QueryRowContext(ctx context.Context, query string, args ...any) Row
	// PingContext は接続を確認する。
	PingContext(ctx context.Context) error
	// Close はハンドルが保持する資源を解放する。
	Close() error
}

// Options はドライバ固有の設定。
type Options struct {
	// HTTPEndpoint はHTTPドライバの送信先。空の場合は接続文字列のホストから導出する。
	HTTPEndpoint string
	// HTTPTimeout はHTTPドライバの1リクエストあたりのタイムアウト。
	HTTPTimeout time.Duration
	// HTTPClient を指定するとHTTPTimeoutより優先して使用する。
	HTTPClient *http.Client
}

// DriverFor はデプロイモードに対応するドライバを返す。
// developmentのみソケット接続、それ以外はすべてHTTPドライバ。
func DriverFor(mode config.Mode) Driver {
	if mode == config.ModeDevelopment {
		return DriverSocket
	}
	return DriverHTTP
}

// Connect はモードに応じたHandleを生成する。
// リトライやプーリングは行わず、プーリングはドライバに委譲する。
// スキーマのマイグレーションも行わない。
func Connect(mode config.Mode, databaseURL string, opts Options) (Handle, error) {
	if databaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}

	switch DriverFor(mode) {
	case DriverSocket:
		return OpenSocket(databaseURL)
	default:
		client := opts.HTTPClient
		if client == nil {
			timeout := opts.HTTPTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			client = &http.Client{Timeout: timeout}
		}
		h, err := OpenHTTP(databaseURL, opts.HTTPEndpoint, client)
		if err != nil {
			return nil, fmt.Errorf("failed to open http database handle: %w", err)
		}
		return h, nil
	}
}
