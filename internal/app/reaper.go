package app

import (
	"context"
	"log/slog"
	"time"
)

const reaperInterval = 5 * time.Minute

// StartReaper runs a background goroutine that periodically closes
// sessions that have been idle longer than ttl, releasing their audio
// resources. It stops when ctx is cancelled.
func (a *App) StartReaper(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(reaperInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session reaper started", "interval", reaperInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				a.reapIdleSessions(ttl)
			case <-ctx.Done():
				slog.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (a *App) reapIdleSessions(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)

	a.mu.Lock()
	expired := make([]string, 0)
	for id, entry := range a.sessions {
		if entry.lastUsed.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	a.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	slog.Info("Session reaper found idle sessions", "count", len(expired))
	for _, id := range expired {
		a.CloseSession(id)
	}
}
