// Package scheduler drains due scheduled items: claim, deliver with the
// SCHEDULED trigger, spawn recurrence successors and reschedule retryable
// failures with the shared backoff.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"switchyard.dev/common"
	"switchyard.dev/config"
	"switchyard.dev/delivery"
	"switchyard.dev/model"
)

const leaseName = "scheduler"

// Store is the slice of the document store the worker uses.
// Satisfied by *store.Store.
type Store interface {
	ResetStuckScheduled(ctx context.Context, before time.Time) (int, error)
	ClaimDueScheduled(ctx context.Context, now time.Time, limit int) ([]model.ScheduledIntegration, error)
	CompleteScheduled(ctx context.Context, id string, status model.ScheduleStatus, failReason string) error
	SaveScheduled(ctx context.Context, item *model.ScheduledIntegration) error
	GetIntegration(ctx context.Context, id string) (*model.IntegrationConfig, error)
}

// Deliverer executes the delivery protocol. Satisfied by *delivery.Engine.
type Deliverer interface {
	Deliver(ctx context.Context, integration *model.IntegrationConfig, event *model.Event, opts delivery.Options) *delivery.Result
}

// Leaser guards a pass so a single replica claims each batch.
// Satisfied by *store.LockManager.
type Leaser interface {
	AcquireLease(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name string) error
}

// Worker is the periodic scheduled-item processor.
type Worker struct {
	store     Store
	deliverer Deliverer
	leaser    Leaser
	cfg       config.SchedulerConfig
	logger    *common.ContextLogger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
	now     func() time.Time
}

// NewWorker wires the scheduler. leaser may be nil in single-replica
// deployments; passes then run unguarded.
func NewWorker(store Store, deliverer Deliverer, leaser Leaser, cfg config.SchedulerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.StuckReset <= 0 {
		cfg.StuckReset = 10 * time.Minute
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Minute
	}
	return &Worker{
		store:     store,
		deliverer: deliverer,
		leaser:    leaser,
		cfg:       cfg,
		logger:    common.ServiceLogger("scheduler"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start launches the pass loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.loop(ctx)
	w.logger.Info("scheduler started")
}

// Stop halts the loop and waits for the current pass.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	close(w.stop)
	w.mu.Unlock()
	<-w.done
	w.logger.Info("scheduler stopped")
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.Interval)
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

// RunOnce executes a single scheduler pass: lease, stuck reset, claim,
// process.
func (w *Worker) RunOnce(ctx context.Context) {
	if w.leaser != nil {
		acquired, err := w.leaser.AcquireLease(ctx, leaseName, w.cfg.LeaseTTL)
		if err != nil {
			w.logger.WithError(err).Warn("lease check failed, skipping pass")
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := w.leaser.ReleaseLease(ctx, leaseName); err != nil {
				w.logger.WithError(err).Warn("lease release failed")
			}
		}()
	}

	now := w.now()
	if reset, err := w.store.ResetStuckScheduled(ctx, now.Add(-w.cfg.StuckReset)); err != nil {
		w.logger.WithError(err).Warn("stuck reset failed")
	} else if reset > 0 {
		w.logger.WithField("count", reset).Warn("reset stuck scheduled items")
	}

	claimed, err := w.store.ClaimDueScheduled(ctx, now, w.cfg.BatchSize)
	if err != nil {
		w.logger.WithError(err).Error("claim failed")
		return
	}

	for i := range claimed {
		if ctx.Err() != nil {
			return
		}
		w.processItem(ctx, &claimed[i])
	}
}

func (w *Worker) processItem(ctx context.Context, item *model.ScheduledIntegration) {
	logger := w.logger.WithFields(map[string]interface{}{
		"scheduled_id": item.ID,
		"integration":  item.IntegrationID,
		"tenant":       item.TenantID,
	})

	integration, err := w.store.GetIntegration(ctx, item.IntegrationID)
	if err != nil {
		logger.WithError(err).Warn("integration lookup failed")
		w.complete(ctx, item.ID, model.ScheduleFailed, "integration not found")
		return
	}
	if !integration.Active {
		logger.Info("integration inactive, cancelling item")
		w.complete(ctx, item.ID, model.ScheduleCancelled, "integration inactive")
		return
	}

	event := w.eventFor(item)
	result := w.deliverer.Deliver(ctx, integration, event, delivery.Options{
		Trigger:      model.TriggerScheduled,
		AttemptCount: item.Attempt + 1,
		// The item stores the payload transformed at schedule time.
		Pretransformed: true,
	})

	switch result.Status {
	case model.StatusSuccess, model.StatusSkipped, model.StatusPartialSuccess:
		w.complete(ctx, item.ID, model.ScheduleSent, "")
		w.spawnSuccessor(ctx, item)
	case model.StatusRetrying:
		w.reschedule(ctx, item, result)
	default:
		reason := failReason(result)
		logger.WithField("reason", reason).Warn("scheduled delivery failed")
		w.complete(ctx, item.ID, model.ScheduleFailed, reason)
	}
}

// eventFor reconstructs the delivery event from the persisted item.
func (w *Worker) eventFor(item *model.ScheduledIntegration) *model.Event {
	return &model.Event{
		ID:        item.EventID,
		EventType: item.EventType,
		TenantID:  item.TenantID,
		Payload:   item.Payload,
		Metadata: map[string]interface{}{
			"scheduledItemId": item.ID,
		},
		ReceivedAt: item.CreatedAt,
	}
}

// reschedule pushes a retryable item back to PENDING at now + backoff. The
// attempt counter persists so the delay keeps growing across passes.
func (w *Worker) reschedule(ctx context.Context, item *model.ScheduledIntegration, result *delivery.Result) {
	item.Attempt++
	item.Status = model.SchedulePending
	item.ScheduledFor = w.now().Add(delivery.Backoff(item.Attempt))
	item.ClaimedAt = nil
	item.FailReason = failReason(result)

	if err := w.store.SaveScheduled(ctx, item); err != nil {
		w.logger.WithError(err).WithField("scheduled_id", item.ID).Error("reschedule failed")
		return
	}
	w.logger.WithFields(map[string]interface{}{
		"scheduled_id": item.ID,
		"attempt":      item.Attempt,
		"next_at":      item.ScheduledFor,
	}).Info("scheduled delivery rescheduled")
}

// spawnSuccessor enqueues the next occurrence of a recurring item unless the
// recurrence is exhausted.
func (w *Worker) spawnSuccessor(ctx context.Context, item *model.ScheduledIntegration) {
	if item.Recurrence == nil {
		return
	}

	next, ok := NextOccurrence(item.ScheduledFor, item.Recurrence)
	if !ok {
		w.logger.WithField("scheduled_id", item.ID).Info("recurrence exhausted")
		return
	}

	successor := &model.ScheduledIntegration{
		IntegrationID: item.IntegrationID,
		TenantID:      item.TenantID,
		EventID:       item.EventID,
		EventType:     item.EventType,
		ScheduledFor:  next.ScheduledFor,
		Payload:       item.Payload,
		TargetURL:     item.TargetURL,
		Status:        model.SchedulePending,
		Recurrence:    next.Recurrence,
		Cancellation:  item.Cancellation,
	}
	if err := w.store.SaveScheduled(ctx, successor); err != nil {
		w.logger.WithError(err).WithField("scheduled_id", item.ID).Error("successor enqueue failed")
		return
	}
	w.logger.WithFields(map[string]interface{}{
		"scheduled_id": successor.ID,
		"occurrence":   successor.Recurrence.OccurrenceNumber,
		"next_at":      successor.ScheduledFor,
	}).Info("recurrence successor enqueued")
}

func (w *Worker) complete(ctx context.Context, id string, status model.ScheduleStatus, reason string) {
	if err := w.store.CompleteScheduled(ctx, id, status, reason); err != nil {
		w.logger.WithError(err).WithField("scheduled_id", id).Error("completion write failed")
	}
}

func failReason(result *delivery.Result) string {
	for _, outcome := range result.Outcomes {
		if outcome.ErrorMessage != "" {
			return outcome.ErrorMessage
		}
		if outcome.ErrorCode != "" {
			return string(outcome.ErrorCode)
		}
	}
	return fmt.Sprintf("delivery ended %s", result.Status)
}
