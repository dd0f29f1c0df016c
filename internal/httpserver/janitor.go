package httpserver

import (
	"context"
	"log/slog"
	"time"

	"pastebin-lite/internal/storage"
)

// StartJanitor launches a background goroutine that reclaims keys whose
// emulated TTL has elapsed. Backends with native expiry do not need it.
func StartJanitor(ctx context.Context, sweeper storage.Sweeper, interval time.Duration, logger *slog.Logger) {
	if sweeper == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepOnce(ctx, sweeper, logger)
			}
		}
	}()
}

func sweepOnce(ctx context.Context, sweeper storage.Sweeper, logger *slog.Logger) int {
	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	removed, err := sweeper.DeleteExpired(c, time.Now())
	if err != nil {
		if logger != nil {
			logger.Error("janitor error", "error", err)
		}
		return 0
	}
	if removed > 0 && logger != nil {
		logger.Info("janitor removed expired keys", "count", removed)
	}
	return removed
}
