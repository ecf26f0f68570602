package room

import (
	"context"
	"log/slog"
	"time"
)

// Reap removes every room that has had no members for longer than grace.
// It returns the codes of the removed rooms.
func (r *Registry) Reap(grace time.Duration) []string {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []string
	for code, rm := range r.rooms {
		rm.mu.Lock()
		if len(rm.members) == 0 && !rm.emptySince.IsZero() && now.Sub(rm.emptySince) >= grace {
			rm.closed = true
			delete(r.rooms, code)
			reaped = append(reaped, code)
		}
		rm.mu.Unlock()
	}
	return reaped
}

// RunReaper calls Reap every interval until ctx is cancelled.
func (r *Registry) RunReaper(ctx context.Context, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Starting room reaper", "interval", interval, "grace", grace)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := r.Reap(grace); len(reaped) > 0 {
				slog.Info("Reaped empty rooms", "count", len(reaped), "live", r.Len())
			}
		}
	}
}
