package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionWorkerInterval = time.Hour

// StartRetentionWorker runs a background goroutine that periodically prunes
// question log entries older than retention. A non-positive retention disables it.
func StartRetentionWorker(ctx context.Context, repo Repository, retention time.Duration) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(retentionWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", retentionWorkerInterval, "retention", retention)

		pruneQuestionLog(ctx, repo, retention, time.Now())
		for {
			select {
			case now := <-ticker.C:
				pruneQuestionLog(ctx, repo, retention, now)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func pruneQuestionLog(ctx context.Context, repo Repository, retention time.Duration, now time.Time) {
	deleted, err := repo.PruneQuestionLog(ctx, now.Add(-retention))
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention worker: context canceled during prune", "error", err)
			return
		}
		slog.Error("Retention worker failed to prune question log", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention worker pruned question log", "count", deleted)
	}
}
