// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// セッションの読み込みは期限切れを無視するため、削除は容量の回収だけを目的とする。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval は実行間隔の既定値。
const DefaultInterval = time.Hour

// SessionExpirer は期限切れセッションを削除する。
// repository.PostgresSessionRepo が実装する。
type SessionExpirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Recorder は削除件数を記録する。
type Recorder interface {
	RecordSessionsDeleted(count int64)
}

// CleanupJob は期限切れセッションの削除ジョブ。冪等で、削除対象が無くてもエラーにならない。
type CleanupJob struct {
	sessions SessionExpirer
	logger   *slog.Logger
	recorder Recorder
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(sessions SessionExpirer, logger *slog.Logger, recorder Recorder) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		logger:   logger,
		recorder: recorder,
	}
}

// Run は期限切れセッションを1回削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to clean up sessions: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsDeleted(deleted)
	}

	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降intervalごとに実行する。
// ctxがキャンセルされるまでブロックする。失敗しても次の周期で再実行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	j.logger.Info("session cleanup job started", slog.Duration("interval", interval))

	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session cleanup job stopped")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
