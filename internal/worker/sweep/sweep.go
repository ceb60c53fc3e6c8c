// Package sweep は期限切れデータの掃除ジョブを提供する。
// 保持期間を超過したチャレンジの削除、放置された登録セッションの打ち切り、
// 監査ログの保持期間パージを定期バッチで行う。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/voicegate/internal/metrics"
)

// ChallengeSweeper はチャレンジの掃除インターフェース。
type ChallengeSweeper interface {
	// Sweep は保持期間を超過したチャレンジを削除し、削除件数を返す。
	Sweep(ctx context.Context) (int64, error)
}

// EnrollmentAbandoner は放置された登録セッションの打ち切りインターフェース。
type EnrollmentAbandoner interface {
	// AbandonStale は放置された収集中セッションを打ち切り、件数を返す。
	AbandonStale(ctx context.Context) (int64, error)
}

// AuditPurger は監査ログの保持期間パージのインターフェース。
type AuditPurger interface {
	// PurgeOlderThan は保持期間を超過したエントリを削除し、件数を返す。
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepJob は期限切れデータの掃除ジョブ。
// 冪等であり、複数インスタンスが同時に実行しても安全
// （削除は条件付きDELETE/UPDATEのため二重実行しても件数が重複するだけ）。
type SweepJob struct {
	challenges         ChallengeSweeper
	enrollments        EnrollmentAbandoner
	audits             AuditPurger
	collector          metrics.MetricsCollector
	logger             *slog.Logger
	AuditRetentionDays int
}

// NewSweepJob は新しいSweepJobを生成する。
func NewSweepJob(challenges ChallengeSweeper, enrollments EnrollmentAbandoner, audits AuditPurger, collector metrics.MetricsCollector, logger *slog.Logger, auditRetentionDays int) *SweepJob {
	return &SweepJob{
		challenges:         challenges,
		enrollments:        enrollments,
		audits:             audits,
		collector:          collector,
		logger:             logger,
		AuditRetentionDays: auditRetentionDays,
	}
}

// Run は掃除処理を1回実行する。
// 一部の処理が失敗しても残りの処理は続行し、最後にまとめてエラーを返す。
func (j *SweepJob) Run(ctx context.Context) error {
	start := time.Now()
	var firstErr error

	deleted, err := j.challenges.Sweep(ctx)
	if err != nil {
		j.logger.Error("チャレンジの掃除に失敗しました", slog.String("error", err.Error()))
		firstErr = fmt.Errorf("チャレンジの掃除に失敗: %w", err)
	} else if deleted > 0 {
		j.collector.RecordSweepDeleted(deleted)
	}

	abandoned, err := j.enrollments.AbandonStale(ctx)
	if err != nil {
		j.logger.Error("登録セッションの打ち切りに失敗しました", slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = fmt.Errorf("登録セッションの打ち切りに失敗: %w", err)
		}
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -j.AuditRetentionDays)
	purged, err := j.audits.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("監査ログのパージに失敗しました", slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = fmt.Errorf("監査ログのパージに失敗: %w", err)
		}
	}

	duration := time.Since(start)
	j.logger.Info("掃除ジョブが完了しました",
		slog.Int64("challenges_deleted", deleted),
		slog.Int64("enrollments_abandoned", abandoned),
		slog.Int64("audit_entries_purged", purged),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return firstErr
}

// Start は指定間隔で掃除ジョブを定期実行する。ctxのキャンセルまでブロックする。
// 起動直後に1回実行してから定期実行に入る。
func (j *SweepJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("掃除ジョブの実行に失敗しました", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("掃除ジョブの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}
