// Package events is the pipeline between source adapters and the delivery
// engine: per-event guarding, auditing, dedup, integration matching and the
// fan-out across matched integrations.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"switchyard.dev/common"
	"switchyard.dev/config"
	"switchyard.dev/model"
)

// SourceContext carries the acknowledgement callbacks a source adapter binds
// to each event. Ack confirms consumption; Nack hands the event back for
// redelivery after the given delay. Sources without redelivery pass no-ops.
type SourceContext struct {
	Ack  func()
	Nack func(delay time.Duration)
}

func (c SourceContext) ack() {
	if c.Ack != nil {
		c.Ack()
	}
}

func (c SourceContext) nack(delay time.Duration) {
	if c.Nack != nil {
		c.Nack(delay)
	}
}

// MatcherStore resolves the integrations an event fans out to and records
// per-source checkpoints. Satisfied by *store.Store.
type MatcherStore interface {
	FindIntegrations(ctx context.Context, tenantID, eventType string) ([]model.IntegrationConfig, error)
	SaveCheckpoint(ctx context.Context, cp *model.SourceCheckpoint) error
}

// Deduper answers duplicate checks; both methods are fail-open.
// Satisfied by *dedup.Checker.
type Deduper interface {
	IsDuplicate(ctx context.Context, fingerprint string) bool
	MarkProcessed(ctx context.Context, fingerprint, eventID, tenantID string)
}

// Auditor receives fire-and-forget audit operations. Satisfied by
// *audit.Writer.
type Auditor interface {
	Record(event *model.Event, fingerprint string, status model.EventStatus)
	RecordSkip(event *model.Event, fingerprint string, reason model.SkipReason)
	Update(eventID string, mutate func(*model.EventAudit))
	Complete(eventID string, status model.EventStatus, result *model.ProcessResult, errMsg string)
}

// EventProcessor fans one event out across its matched integrations.
// Satisfied by *Processor.
type EventProcessor interface {
	Process(ctx context.Context, event *model.Event, integrations []model.IntegrationConfig) (model.ProcessResult, error)
}

// Handler runs the per-event pipeline. One handler serves every source
// adapter; adapters bind their ack semantics through SourceContext.
type Handler struct {
	store     MatcherStore
	dedup     Deduper
	audit     Auditor
	processor EventProcessor
	cfg       config.PipelineConfig
	logger    *common.ContextLogger
	now       func() time.Time
}

// NewHandler wires the pipeline.
func NewHandler(store MatcherStore, dedup Deduper, auditor Auditor, processor EventProcessor, cfg config.PipelineConfig) *Handler {
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 100 * 1024
	}
	if cfg.NackDelay <= 0 {
		cfg.NackDelay = time.Minute
	}
	return &Handler{
		store:     store,
		dedup:     dedup,
		audit:     auditor,
		processor: processor,
		cfg:       cfg,
		logger:    common.ServiceLogger("events"),
		now:       time.Now,
	}
}

// Handle runs one event through guard, audit, dedup, match and process. It
// always resolves the source context exactly once: ack on every terminal
// outcome, nack only on worker errors so the source redelivers.
func (h *Handler) Handle(ctx context.Context, event *model.Event, sctx SourceContext) {
	fingerprint := common.Fingerprint(event.EventType, event.Payload, event.TenantID)
	if event.ID == "" {
		// Sources without native ids get a stable synthetic one so retries
		// and audits converge on the same row.
		event.ID = fmt.Sprintf("%s-%s", event.Source, fingerprint)
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = h.now()
	}

	log := h.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.EventType,
		"source":     string(event.Source),
	})

	if event.TenantID == "" {
		log.Warn("event has no tenant context, skipping")
		h.audit.RecordSkip(event, fingerprint, model.SkipNoEntityContext)
		sctx.ack()
		return
	}

	if size := payloadSize(event.Payload); size > h.cfg.MaxPayloadBytes {
		log.WithFields(map[string]interface{}{
			"payload_bytes": size,
			"payload_size":  humanize.Bytes(uint64(size)),
		}).Warn("payload exceeds limit, skipping")
		h.audit.RecordSkip(event, fingerprint, model.SkipPayloadTooLarge)
		sctx.ack()
		return
	}

	h.audit.Record(event, fingerprint, model.EventReceived)
	h.audit.Update(event.ID, func(row *model.EventAudit) {
		row.Status = model.EventProcessing
	})
	h.recordCheckpoint(ctx, event)

	if h.dedup.IsDuplicate(ctx, fingerprint) {
		log.Info("duplicate event suppressed")
		h.audit.Complete(event.ID, model.EventSkipped, nil, "")
		h.audit.Update(event.ID, func(row *model.EventAudit) {
			row.SkipReason = model.SkipDuplicate
		})
		sctx.ack()
		return
	}

	integrations, err := h.store.FindIntegrations(ctx, event.TenantID, event.EventType)
	if err != nil {
		log.WithError(err).Error("integration lookup failed, handing event back")
		h.audit.Complete(event.ID, model.EventFailed, nil, err.Error())
		sctx.nack(h.cfg.NackDelay)
		return
	}
	if len(integrations) == 0 {
		h.audit.Complete(event.ID, model.EventSkipped, nil, "")
		h.audit.Update(event.ID, func(row *model.EventAudit) {
			row.SkipReason = model.SkipNoWebhook
		})
		h.dedup.MarkProcessed(ctx, fingerprint, event.ID, event.TenantID)
		sctx.ack()
		return
	}

	result, err := h.processor.Process(ctx, event, integrations)
	if err != nil {
		log.WithError(err).Error("event processing failed, handing event back")
		h.audit.Complete(event.ID, model.EventFailed, &result, err.Error())
		sctx.nack(h.cfg.NackDelay)
		return
	}

	h.dedup.MarkProcessed(ctx, fingerprint, event.ID, event.TenantID)
	h.audit.Complete(event.ID, result.Terminal(), &result, "")
	log.WithFields(map[string]interface{}{
		"delivered": result.Delivered,
		"scheduled": result.Scheduled,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	}).Info("event processed")
	sctx.ack()
}

// recordCheckpoint persists the last seen source position; best-effort.
func (h *Handler) recordCheckpoint(ctx context.Context, event *model.Event) {
	position := ""
	if event.Metadata != nil {
		if p, ok := event.Metadata["position"].(string); ok {
			position = p
		}
	}
	cp := &model.SourceCheckpoint{
		TenantID:  event.TenantID,
		Source:    event.Source,
		Position:  position,
		EventID:   event.ID,
		UpdatedAt: h.now(),
	}
	if err := h.store.SaveCheckpoint(ctx, cp); err != nil {
		h.logger.WithError(err).Debug("checkpoint write failed")
	}
}

func payloadSize(payload map[string]interface{}) int {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return len(encoded)
}
