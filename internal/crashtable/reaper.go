package crashtable

import (
	"context"
	"time"
)

// DefaultSweepInterval is how often a Reaper scans the table when no
// interval is given.
const DefaultSweepInterval = 30 * time.Second

// Reaper periodically evicts entries nobody has touched since their
// deadline passed.
type Reaper struct {
	store    *Store
	interval time.Duration
}

// NewReaper creates a Reaper for store. A non-positive interval selects
// DefaultSweepInterval.
func NewReaper(store *Store, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Reaper{store: store, interval: interval}
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := r.store.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.store.Sweep(r.store.clock.Now()); n > 0 {
				r.store.logger.Debug("reaper sweep", "removed", n, "remaining", r.store.Len())
			}
		}
	}
}
