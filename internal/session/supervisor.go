package session

import (
	"context"
	"log/slog"
	"time"
)

// Supervisor periodically sweeps the registry and destroys sessions whose
// idle grace period has elapsed. Destruction is idempotent and safe to race
// with rebind attempts (see Registry.SweepIdle).
type Supervisor struct {
	registry *Registry
	interval time.Duration
}

// NewSupervisor creates a Supervisor sweeping registry every interval.
func NewSupervisor(registry *Registry, interval time.Duration) *Supervisor {
	return &Supervisor{registry: registry, interval: interval}
}

// Run starts the sweep loop and blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.registry.SweepIdle(now); n > 0 {
				slog.Debug("supervisor: destroyed idle sessions", "count", n)
			}
		}
	}
}
