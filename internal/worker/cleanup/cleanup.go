// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// 期限切れセッションはゲートの判定では常に無視されるため、
// このジョブはストレージ上の掃除だけを担う。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はジョブの実行間隔のデフォルト値。
const DefaultInterval = time.Hour

// SessionDeleter は期限切れセッションを削除し、削除件数を返す。
type SessionDeleter interface {
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// Recorder は削除件数をメトリクスへ記録する。
type Recorder interface {
	RecordSessionsDeleted(n int64)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 削除対象がなくてもエラーにならない冪等な処理。
type CleanupJob struct {
	sessions SessionDeleter
	logger   *slog.Logger
	recorder Recorder
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(sessions SessionDeleter, logger *slog.Logger, recorder Recorder) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions: sessions,
		logger:   logger,
		recorder: recorder,
	}
}

// Run は期限切れセッションを1回削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpiredSessions(ctx)
	if err != nil {
		j.logger.Error("expired session cleanup failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsDeleted(deleted)
	}

	j.logger.Info("expired session cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降intervalごとにRunを繰り返す。
// ctxがキャンセルされるまでブロックする。Runの失敗はログに残して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
