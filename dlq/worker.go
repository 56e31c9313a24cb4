// Package dlq re-drives dead-letter entries on a cron cadence: claim due
// entries, reconstruct the delivery from the entry alone and either resolve
// or reschedule until the entry's own retry budget runs out.
package dlq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"switchyard.dev/common"
	"switchyard.dev/config"
	"switchyard.dev/delivery"
	"switchyard.dev/model"
)

// Store is the slice of the document store the worker uses.
// Satisfied by *store.Store.
type Store interface {
	ClaimDueDLQ(ctx context.Context, now time.Time, limit int) ([]model.DLQEntry, error)
	ResolveDLQ(ctx context.Context, id string) error
	RescheduleDLQ(ctx context.Context, id string, nextRetryAt time.Time) error
	GetIntegration(ctx context.Context, id string) (*model.IntegrationConfig, error)
}

// Deliverer executes the delivery protocol. Satisfied by *delivery.Engine.
type Deliverer interface {
	Deliver(ctx context.Context, integration *model.IntegrationConfig, event *model.Event, opts delivery.Options) *delivery.Result
}

// Worker is the cron-driven dead-letter processor.
type Worker struct {
	store     Store
	deliverer Deliverer
	cfg       config.DLQConfig
	logger    *common.ContextLogger

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
	now     func() time.Time
}

// NewWorker wires the DLQ worker.
func NewWorker(store Store, deliverer Deliverer, cfg config.DLQConfig) *Worker {
	if cfg.Cron == "" {
		cfg.Cron = "* * * * *"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{
		store:     store,
		deliverer: deliverer,
		cfg:       cfg,
		logger:    common.ServiceLogger("dlq"),
		now:       time.Now,
	}
}

// Start schedules the cron pass.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	runner := cron.New()
	if _, err := runner.AddFunc(w.cfg.Cron, func() { w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid dlq cron %q: %w", w.cfg.Cron, err)
	}
	runner.Start()
	w.cron = runner
	w.started = true
	w.logger.WithField("cron", w.cfg.Cron).Info("dlq worker started")
	return nil
}

// Stop halts the cron and waits for a running pass.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	runner := w.cron
	w.mu.Unlock()

	<-runner.Stop().Done()
	w.logger.Info("dlq worker stopped")
}

// RunOnce claims one batch of due entries and retries each.
func (w *Worker) RunOnce(ctx context.Context) {
	claimed, err := w.store.ClaimDueDLQ(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		w.logger.WithError(err).Error("dlq claim failed")
		return
	}

	for i := range claimed {
		if ctx.Err() != nil {
			return
		}
		w.processEntry(ctx, &claimed[i])
	}
}

func (w *Worker) processEntry(ctx context.Context, entry *model.DLQEntry) {
	logger := w.logger.WithFields(map[string]interface{}{
		"dlq_id":      entry.ID,
		"integration": entry.IntegrationID,
		"retry_count": entry.RetryCount,
	})

	// Inbound deliveries cannot be reconstructed from the entry; they burn
	// through their budget and abandon.
	if entry.Direction == model.DirectionInbound {
		logger.Warn("inbound dlq entries are not replayable")
		w.reschedule(ctx, entry)
		return
	}

	integration, err := w.store.GetIntegration(ctx, entry.IntegrationID)
	if err != nil {
		logger.WithError(err).Warn("integration lookup failed")
		w.reschedule(ctx, entry)
		return
	}
	if !integration.Active {
		logger.Info("integration inactive")
		w.reschedule(ctx, entry)
		return
	}

	actionIndex := -1
	if integration.IsMultiAction() {
		actionIndex = entry.ActionIndex
	}

	result := w.deliverer.Deliver(ctx, integration, w.eventFor(entry), delivery.Options{
		TraceID:     entry.TraceID,
		Trigger:     model.TriggerDLQRetry,
		ActionIndex: actionIndex,
		// Entries from the scheduled path dead-letter the payload as it
		// was transformed at schedule time.
		Pretransformed: entry.Trigger == model.TriggerScheduled,
	})

	switch result.Status {
	case model.StatusSuccess, model.StatusSkipped:
		logger.Info("dlq entry resolved")
		if err := w.store.ResolveDLQ(ctx, entry.ID); err != nil {
			logger.WithError(err).Error("resolve write failed")
		}
	default:
		logger.WithField("status", result.Status).Info("dlq retry failed")
		w.reschedule(ctx, entry)
	}
}

// eventFor rebuilds a delivery event from the entry's stored payload.
func (w *Worker) eventFor(entry *model.DLQEntry) *model.Event {
	payload := entry.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &model.Event{
		ID:        entry.EventID,
		EventType: entry.EventType,
		TenantID:  entry.TenantID,
		Payload:   payload,
	}
}

// reschedule advances the entry's retry budget; the store abandons it once
// the budget is spent. The next due time grows with the shared backoff.
func (w *Worker) reschedule(ctx context.Context, entry *model.DLQEntry) {
	next := w.now().Add(delivery.Backoff(entry.RetryCount + 1))
	if err := w.store.RescheduleDLQ(ctx, entry.ID, next); err != nil {
		w.logger.WithError(err).WithField("dlq_id", entry.ID).Error("reschedule write failed")
	}
}
