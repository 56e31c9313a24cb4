package events

import (
	"context"
	"time"

	"switchyard.dev/common"
	"switchyard.dev/model"
)

// WatchdogStore is the audit slice the watchdog needs. Satisfied by
// *store.Store.
type WatchdogStore interface {
	FindStuckAudits(ctx context.Context, before time.Time, limit int) ([]model.EventAudit, error)
	UpdateAudit(ctx context.Context, eventID string, mutate func(*model.EventAudit)) error
}

// Watchdog promotes events that sat in PROCESSING past the stuck threshold
// to STUCK. A worker crash between claiming an event and completing it
// leaves the audit row in PROCESSING forever; the watchdog makes those rows
// visible to operators instead of letting them pose as in-flight work.
type Watchdog struct {
	store     WatchdogStore
	threshold time.Duration
	interval  time.Duration
	batchSize int
	logger    *common.ContextLogger

	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

// NewWatchdog wires the stuck-event watchdog. The threshold comes from
// pipeline configuration; zero values fall back to 5 minutes.
func NewWatchdog(store WatchdogStore, threshold time.Duration) *Watchdog {
	if threshold <= 0 {
		threshold = 5 * time.Minute
	}
	return &Watchdog{
		store:     store,
		threshold: threshold,
		interval:  time.Minute,
		batchSize: 100,
		logger:    common.ServiceLogger("watchdog"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start begins the periodic sweep.
func (w *Watchdog) Start(ctx context.Context) {
	go w.loop(ctx)
	w.logger.WithField("threshold", w.threshold.String()).Info("stuck-event watchdog started")
}

// Stop halts the sweep loop.
func (w *Watchdog) Stop() {
	close(w.stop)
	<-w.done
	w.logger.Info("stuck-event watchdog stopped")
}

func (w *Watchdog) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps one batch of overdue PROCESSING audits.
func (w *Watchdog) RunOnce(ctx context.Context) int {
	before := w.now().Add(-w.threshold)
	stuck, err := w.store.FindStuckAudits(ctx, before, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("stuck-audit query failed")
		return 0
	}

	promoted := 0
	for i := range stuck {
		audit := stuck[i]
		err := w.store.UpdateAudit(ctx, audit.EventID, func(a *model.EventAudit) {
			// Re-check under the fresh read; the event may have finished
			// between the query and this write.
			if a.Status != model.EventProcessing {
				return
			}
			a.Status = model.EventStuck
			a.Error = "processing exceeded stuck threshold"
		})
		if err != nil {
			w.logger.WithError(err).WithField("event", audit.EventID).Warn("stuck promotion failed")
			continue
		}
		promoted++
		w.logger.WithFields(map[string]interface{}{
			"event":  audit.EventID,
			"tenant": audit.TenantID,
		}).Warn("event promoted to STUCK")
	}
	return promoted
}
