package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// SocketHandle はdatabase/sqlとlib/pqによるHandle実装。
// 接続プールはdatabase/sqlが管理する。
type SocketHandle struct {
	db *sql.DB
}

// OpenSocket はPostgreSQLへのソケット接続ハンドルを開く。
// sql.Openは接続を試行しないため、実際の接続確認にはPingContextを使用すること。
func OpenSocket(databaseURL string) (*SocketHandle, error) {
	if databaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &SocketHandle{db: db}, nil
}

// Driver はDriverSocketを返す。
func (h *SocketHandle) Driver() Driver { return DriverSocket }

// DB は内部の*sql.DBを返す。
func (h *SocketHandle) DB() *sql.DB { return h.db }

// ExecContext はクエリを実行し影響行数を返す。
func (h *SocketHandle) ExecContext(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := h.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// QueryRowContext は*sql.Rowを返す。
func (h *SocketHandle) QueryRowContext(ctx context.Context, query string, args ...any) Row {
	return h.db.QueryRowContext(ctx, query, args...)
}

// PingContext は接続を確認する。
func (h *SocketHandle) PingContext(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Close は接続プールを閉じる。
func (h *SocketHandle) Close() error {
	return h.db.Close()
}

var _ Handle = (*SocketHandle)(nil)
