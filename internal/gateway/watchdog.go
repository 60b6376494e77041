package gateway

import (
	"context"
	"time"

	"github.com/halyard-io/halyard/internal/observability"
)

// watchdog polls session health on a fixed interval. A healthy tick runs the
// liveness probe; an unhealthy tick hands control to the recovery routine,
// which owns reconnection pacing and replay.
type watchdog struct {
	interval time.Duration
	log      observability.Logger

	healthy func() bool
	probe   func(ctx context.Context)
	onLoss  func(ctx context.Context)
}

func newWatchdog(interval time.Duration, log observability.Logger, healthy func() bool, probe, onLoss func(ctx context.Context)) *watchdog {
	return &watchdog{interval: interval, log: log, healthy: healthy, probe: probe, onLoss: onLoss}
}

func (w *watchdog) run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if w.healthy() {
				if w.probe != nil {
					w.probe(ctx)
				}
				continue
			}
			w.log.Warn("session unhealthy, starting recovery")
			w.onLoss(ctx)
		}
	}
}
