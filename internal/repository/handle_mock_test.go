package repository

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/hitoshi/authgate/internal/database"
)

// --- モック定義 ---

type execCall struct {
	query string
	args  []any
}

// mockHandle はdatabase.Handleのテスト用実装。
type mockHandle struct {
	execFn     func(query string, args []any) (int64, error)
	queryRowFn func(query string, args []any) database.Row
	execs      []execCall
	queries    []execCall
}

func (m *mockHandle) Driver() database.Driver { return database.DriverSocket }

func (m *mockHandle) ExecContext(_ context.Context, query string, args ...any) (int64, error) {
	m.execs = append(m.execs, execCall{query: query, args: args})
	if m.execFn != nil {
		return m.execFn(query, args)
	}
	return 1, nil
}

func (m *mockHandle) QueryRowContext(_ context.Context, query string, args ...any) database.Row {
	m.queries = append(m.queries, execCall{query: query, args: args})
	if m.queryRowFn != nil {
		return m.queryRowFn(query, args)
	}
	return errRow{err: sql.ErrNoRows}
}

func (m *mockHandle) PingContext(context.Context) error { return nil }
func (m *mockHandle) Close() error                      { return nil }

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// valuesRow はScan先に値を順番に代入する。
type valuesRow []any

func (r valuesRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("scan: got %d dest, have %d values", len(dest), len(r))
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r[i]))
	}
	return nil
}

var _ database.Handle = (*mockHandle)(nil)
