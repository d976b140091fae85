// Package logger は構造化ログ(log/slog)のセットアップを提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options はロガーの出力レベルとフォーマットを指定する。
// Formatは "json" または "text"。それ以外はjsonとして扱う。
type Options struct {
	Level  string
	Format string
}

// ParseLevel はレベル名をslog.Levelに変換する。未知の値はInfo。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup はOptionsに従ったslog.Loggerを生成して返す。
func Setup(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

// SetupDefault はロガーを生成してグローバルロガーとして設定する。
// wがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer, opts Options) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	l := Setup(w, opts)
	slog.SetDefault(l)
	return l
}
