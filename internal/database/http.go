package database

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxHTTPResponseSize はHTTPドライバが読み込むレスポンスボディの上限。
const maxHTTPResponseSize = 8 << 20

// HTTPError はSQL over HTTPエンドポイントが返したエラー。
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("database http error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("database http error (status %d): %s", e.StatusCode, e.Message)
}

// HTTPHandle はSQLをHTTPS経由で送信するHandle実装。
// Neon互換のエンドポイント（POST /sql、配列モード、テキスト出力）を想定する。
// 接続の再利用はhttp.ClientのTransportに委譲する。
type HTTPHandle struct {
	endpoint   string
	connString string
	client     *http.Client
}

// OpenHTTP はHTTPドライバのハンドルを生成する。通信は行わない。
// endpointが空の場合は接続文字列のホストから https://<host>/sql を導出する。
func OpenHTTP(databaseURL, endpoint string, client *http.Client) (*HTTPHandle, error) {
	if databaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}

	if endpoint == "" {
		u, err := url.Parse(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid database url: %w", err)
		}
		if u.Hostname() == "" {
			return nil, fmt.Errorf("database url has no host")
		}
		endpoint = "https://" + u.Hostname() + "/sql"
	}

	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &HTTPHandle{
		endpoint:   endpoint,
		connString: databaseURL,
		client:     client,
	}, nil
}

// Driver はDriverHTTPを返す。
func (h *HTTPHandle) Driver() Driver { return DriverHTTP }

// Endpoint は送信先URLを返す。
func (h *HTTPHandle) Endpoint() string { return h.endpoint }

type httpQuery struct {
	Query  string `json:"query"`
	Params []any  `json:"params"`
}

type httpResult struct {
	Command  string      `json:"command"`
	RowCount *int64      `json:"rowCount"`
	Rows     [][]*string `json:"rows"`
}

type httpErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ExecContext はクエリを実行し、rowCountを返す。
func (h *HTTPHandle) ExecContext(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := h.do(ctx, query, args)
	if err != nil {
		return 0, err
	}
	if res.RowCount != nil {
		return *res.RowCount, nil
	}
	return int64(len(res.Rows)), nil
}

// QueryRowContext はクエリを実行し、先頭行を返す。エラーはScan時に返る。
func (h *HTTPHandle) QueryRowContext(ctx context.Context, query string, args ...any) Row {
	res, err := h.do(ctx, query, args)
	if err != nil {
		return &httpRow{err: err}
	}
	if len(res.Rows) == 0 {
		return &httpRow{err: sql.ErrNoRows}
	}
	return &httpRow{values: res.Rows[0]}
}

// PingContext は SELECT 1 を送信して疎通を確認する。
func (h *HTTPHandle) PingContext(ctx context.Context) error {
	var one int
	if err := h.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("failed to ping database over http: %w", err)
	}
	return nil
}

// Close はアイドル接続を閉じる。
func (h *HTTPHandle) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func (h *HTTPHandle) do(ctx context.Context, query string, args []any) (*httpResult, error) {
	params := make([]any, len(args))
	for i, a := range args {
		p, err := encodeParam(a)
		if err != nil {
			return nil, fmt.Errorf("failed to encode param $%d: %w", i+1, err)
		}
		params[i] = p
	}

	body, err := json.Marshal(httpQuery{Query: query, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Neon-Connection-String", h.connString)
	req.Header.Set("Neon-Raw-Text-Output", "true")
	req.Header.Set("Neon-Array-Mode", "true")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send query: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb httpErrorBody
		if jsonErr := json.Unmarshal(raw, &eb); jsonErr != nil || eb.Message == "" {
			eb.Message = strings.TrimSpace(string(raw))
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Code: eb.Code, Message: eb.Message}
	}

	var res httpResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &res, nil
}

// encodeParam はパラメータをPostgreSQLのテキスト表現（またはnil）に変換する。
func encodeParam(v any) (any, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil {
			return nil, err
		}
		v = dv
	}

	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return t, nil
	case []byte:
		return `\x` + hex.EncodeToString(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return nil, fmt.Errorf("unsupported param type %T", v)
	}
}

type httpRow struct {
	values []*string
	err    error
}

// Scan はテキスト表現の列値をdestに変換して格納する。
func (r *httpRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("expected %d destination arguments in Scan, not %d", len(r.values), len(dest))
	}
	for i, d := range dest {
		if err := assignText(d, r.values[i]); err != nil {
			return fmt.Errorf("failed to scan column %d: %w", i, err)
		}
	}
	return nil
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02",
}

func assignText(dest any, v *string) error {
	if s, ok := dest.(sql.Scanner); ok {
		if v == nil {
			return s.Scan(nil)
		}
		return s.Scan(*v)
	}

	switch d := dest.(type) {
	case *any:
		if v == nil {
			*d = nil
		} else {
			*d = *v
		}
		return nil
	case *[]byte:
		if v == nil {
			*d = nil
			return nil
		}
		if strings.HasPrefix(*v, `\x`) {
			b, err := hex.DecodeString((*v)[2:])
			if err != nil {
				return err
			}
			*d = b
			return nil
		}
		*d = []byte(*v)
		return nil
	}

	if v == nil {
		return fmt.Errorf("cannot scan NULL into %T", dest)
	}
	s := *v

	switch d := dest.(type) {
	case *string:
		*d = s
	case *int:
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*d = n
	case *int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*d = n
	case *bool:
		switch strings.ToLower(s) {
		case "t", "true":
			*d = true
		case "f", "false":
			*d = false
		default:
			return fmt.Errorf("invalid boolean %q", s)
		}
	case *time.Time:
		t, err := parseTimestamp(s)
		if err != nil {
			return err
		}
		*d = t
	default:
		return fmt.Errorf("unsupported scan destination %T", dest)
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

var _ Handle = (*HTTPHandle)(nil)
