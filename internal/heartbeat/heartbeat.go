// Package heartbeat emits a periodic liveness log entry that is
// independent of any connection.
package heartbeat

import (
	"context"
	"time"

	"capsd/internal/metrics"
	"capsd/util"
)

// DefaultInterval is the time between two heartbeat entries.
const DefaultInterval = 10 * time.Second

// Emitter logs "alive" once immediately and then every Interval until
// its context is cancelled.
type Emitter struct {
	Interval time.Duration
	Logger   *util.Logger
	Metrics  *metrics.Collector // optional; adds a summary to each entry
}

// Run blocks until ctx is done.  A non-positive Interval disables the
// heartbeat and Run returns at once.
func (e *Emitter) Run(ctx context.Context) {
	if e.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		e.beat()
		select {
		case <-ctx.Done():
			e.Logger.Debug("heartbeat stopped")
			return
		case <-ticker.C:
		}
	}
}

func (e *Emitter) beat() {
	e.Metrics.RecordHeartbeat()
	if e.Metrics == nil {
		e.Logger.Info("system is alive")
		return
	}
	e.Logger.Info("system is alive: %s", e.Metrics.Snapshot().Summary())
	e.Logger.Debug("metrics %s", e.Metrics.JSON())
}
