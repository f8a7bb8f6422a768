// Package cleanup は古い自動マッチ提案の失効ジョブを提供する。
// 保持期間（デフォルト30日）を超えて審査中のままの自動提案を
// 日次バッチで却下済みにする。手動マッチは対象外。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultProposalTTL は自動提案を審査中のまま保持する期間のデフォルト値。
const DefaultProposalTTL = 30 * 24 * time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Recorder は失効件数を記録する。
type Recorder interface {
	RecordProposalsExpired(count int)
}

// CleanupJob は古い自動提案を失効させるジョブ。
// 冪等で、対象がない場合もエラーにならない。
type CleanupJob struct {
	db          Executor
	logger      *slog.Logger
	recorder    Recorder
	ProposalTTL time.Duration
	now         func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder Recorder) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:          db,
		logger:      logger,
		recorder:    recorder,
		ProposalTTL: DefaultProposalTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

const expireQuery = `UPDATE matches SET status = 'rejected', updated_at = $1
WHERE match_type = 'automatic' AND status = 'pending' AND created_at < $2`

// Run はProposalTTLより前に作成された審査中の自動提案を却下済みにし、件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := j.now()
	cutoff := start.Add(-j.ProposalTTL)

	result, err := j.db.ExecContext(ctx, expireQuery, start, cutoff)
	if err != nil {
		j.logger.ErrorContext(ctx, "proposal cleanup failed",
			slog.String("error", err.Error()),
			slog.Duration("proposal_ttl", j.ProposalTTL),
		)
		return 0, fmt.Errorf("自動提案の失効処理に失敗しました: %w", err)
	}

	expired, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("失効件数の取得に失敗しました: %w", err)
	}
	if j.recorder != nil {
		j.recorder.RecordProposalsExpired(int(expired))
	}

	j.logger.InfoContext(ctx, "proposal cleanup completed",
		slog.Int64("expired_count", expired),
		slog.Time("cutoff", cutoff),
		slog.Int64("duration_ms", j.now().Sub(start).Milliseconds()),
	)
	return expired, nil
}

// Start はinterval間隔でRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
