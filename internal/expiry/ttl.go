// Package expiry sweeps idle learning sessions from the session store.
package expiry

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = 10 * time.Minute

// Sweeper is the part of the session store the TTL worker needs.
type Sweeper interface {
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)
}

// StartTTLWorker runs a background goroutine that periodically deletes
// sessions idle for longer than ttl. It stops when ctx is cancelled.
func StartTTLWorker(ctx context.Context, sweeper Sweeper, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, sweeper, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, sweeper Sweeper, ttl time.Duration) int64 {
	deleted, err := sweeper.DeleteExpired(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to delete expired sessions", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("TTL worker removed expired sessions", "count", deleted)
	}
	return deleted
}
