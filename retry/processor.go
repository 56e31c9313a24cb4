// Package retry re-drives delivery logs left in RETRYING state: it reloads
// the integration, enforces the attempt budget and hands due logs back to
// the delivery engine with the original log id so history coalesces.
package retry

import (
	"context"
	"sync"
	"time"

	"switchyard.dev/common"
	"switchyard.dev/config"
	"switchyard.dev/delivery"
	"switchyard.dev/model"
)

// Store is the slice of the document store the processor uses.
// Satisfied by *store.Store.
type Store interface {
	FindDueRetries(ctx context.Context, now time.Time, limit int) ([]model.DeliveryLog, error)
	GetIntegration(ctx context.Context, id string) (*model.IntegrationConfig, error)
	SaveLog(ctx context.Context, log *model.DeliveryLog) error
}

// Deliverer executes the delivery protocol. Satisfied by *delivery.Engine.
type Deliverer interface {
	Deliver(ctx context.Context, integration *model.IntegrationConfig, event *model.Event, opts delivery.Options) *delivery.Result
}

// Processor is the periodic retry driver.
type Processor struct {
	store     Store
	deliverer Deliverer
	cfg       config.RetryConfig
	logger    *common.ContextLogger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
	now     func() time.Time
}

// NewProcessor wires the retry processor.
func NewProcessor(store Store, deliverer Deliverer, cfg config.RetryConfig) *Processor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxProcessingTime <= 0 {
		cfg.MaxProcessingTime = 2 * time.Minute
	}
	return &Processor{
		store:     store,
		deliverer: deliverer,
		cfg:       cfg,
		logger:    common.ServiceLogger("retry"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start launches the pass loop.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	go p.loop(ctx)
	p.logger.Info("retry processor started")
}

// Stop halts the loop and waits for the current pass.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stop)
	p.mu.Unlock()
	<-p.done
	p.logger.Info("retry processor stopped")
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce processes one batch of due RETRYING logs, stopping early when the
// pass exceeds its time budget.
func (p *Processor) RunOnce(ctx context.Context) {
	started := p.now()

	due, err := p.store.FindDueRetries(ctx, started, p.cfg.BatchSize)
	if err != nil {
		p.logger.WithError(err).Error("due-retry query failed")
		return
	}

	for i := range due {
		if ctx.Err() != nil {
			return
		}
		if p.now().Sub(started) > p.cfg.MaxProcessingTime {
			p.logger.WithField("remaining", len(due)-i).Warn("retry pass time budget spent, stopping early")
			return
		}
		p.processLog(ctx, &due[i])
	}
}

func (p *Processor) processLog(ctx context.Context, log *model.DeliveryLog) {
	logger := p.logger.WithFields(map[string]interface{}{
		"log_id":      log.ID,
		"integration": log.IntegrationID,
		"attempt":     log.AttemptCount,
	})

	integration, err := p.store.GetIntegration(ctx, log.IntegrationID)
	if err != nil {
		logger.WithError(err).Warn("integration lookup failed, abandoning log")
		p.abandon(ctx, log, model.ErrCodeWebhookNotFound, "integration no longer exists")
		return
	}
	if !integration.Active {
		logger.Info("integration inactive, abandoning log")
		p.abandon(ctx, log, model.ErrCodeWebhookInactive, "integration deactivated")
		return
	}
	if log.AttemptCount >= integration.EffectiveMaxRetries() {
		logger.Info("attempt budget spent, abandoning log")
		p.abandon(ctx, log, log.ErrorCode, log.ErrorMessage)
		return
	}

	// The due query already filters on nextRetryAt; the floor check guards
	// rows rescheduled with a stale or missing due time.
	if !log.LastAttemptAt.IsZero() {
		floor := log.LastAttemptAt.Add(delivery.BackoffFloor(log.AttemptCount))
		if p.now().Before(floor) {
			return
		}
	}

	actionIndex := -1
	if integration.IsMultiAction() {
		actionIndex = log.ActionIndex
	}

	result := p.deliverer.Deliver(ctx, integration, p.eventFor(log), delivery.Options{
		TraceID:       log.TraceID,
		Trigger:       log.Trigger,
		AttemptCount:  log.AttemptCount + 1,
		ActionIndex:   actionIndex,
		ExistingLogID: log.ID,
		// Logs from the scheduled path carry a payload that was already
		// transformed when the item was created.
		Pretransformed: log.Trigger == model.TriggerScheduled,
	})
	logger.WithField("status", result.Status).Info("retry attempt finished")
}

// eventFor rebuilds the source event from the log's original payload.
func (p *Processor) eventFor(log *model.DeliveryLog) *model.Event {
	payload := log.OriginalPayload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &model.Event{
		ID:        log.EventID,
		EventType: log.EventType,
		TenantID:  log.TenantID,
		Payload:   payload,
	}
}

// abandon flips a log to ABANDONED in place. Dead-lettering stays with the
// engine; these logs never produced a fresh attempt to dead-letter.
func (p *Processor) abandon(ctx context.Context, log *model.DeliveryLog, code model.ErrorCode, message string) {
	log.Status = model.StatusAbandoned
	log.NextRetryAt = nil
	if code != "" {
		log.ErrorCode = code
	}
	if message != "" {
		log.ErrorMessage = message
	}
	if err := p.store.SaveLog(ctx, log); err != nil {
		p.logger.WithError(err).WithField("log_id", log.ID).Error("abandon write failed")
	}
}
