package events

import (
	"context"
	"fmt"
	"time"

	"switchyard.dev/common"
	"switchyard.dev/delivery"
	"switchyard.dev/model"
	"switchyard.dev/transform"
)

// scheduledGraceWindow tolerates due times slightly in the past; anything
// older is dropped as missed rather than delivered late.
const scheduledGraceWindow = 60 * time.Second

// Deliverer is the delivery engine surface the processor drives.
// Satisfied by *delivery.Engine.
type Deliverer interface {
	Deliver(ctx context.Context, integration *model.IntegrationConfig, event *model.Event, opts delivery.Options) *delivery.Result
}

// ScheduleStore persists future deliveries and voids them on cancellation.
// Satisfied by *store.Store.
type ScheduleStore interface {
	SaveScheduled(ctx context.Context, item *model.ScheduledIntegration) error
	CancelScheduledByMatch(ctx context.Context, tenantID string, match model.CancellationMatch) (int, error)
}

// Processor fans one event out across its matched integrations: immediate
// ones through the delivery engine, delayed and recurring ones into the
// scheduled-items collection.
type Processor struct {
	deliverer   Deliverer
	schedules   ScheduleStore
	transformer *transform.Transformer
	sandbox     *transform.Sandbox
	logger      *common.ContextLogger
	now         func() time.Time
}

// NewProcessor wires the fan-out.
func NewProcessor(deliverer Deliverer, schedules ScheduleStore, transformer *transform.Transformer, sandbox *transform.Sandbox) *Processor {
	return &Processor{
		deliverer:   deliverer,
		schedules:   schedules,
		transformer: transformer,
		sandbox:     sandbox,
		logger:      common.ServiceLogger("events"),
		now:         time.Now,
	}
}

// Process handles every matched integration and aggregates the counters the
// event audit terminal is derived from. Per-integration failures are counted,
// never propagated; the returned error is reserved for context cancellation.
func (p *Processor) Process(ctx context.Context, event *model.Event, integrations []model.IntegrationConfig) (model.ProcessResult, error) {
	var result model.ProcessResult

	for i := range integrations {
		integration := &integrations[i]

		if err := ctx.Err(); err != nil {
			return result, err
		}

		if isCancellationFor(integration, event.EventType) {
			p.cancelScheduled(ctx, integration, event, &result)
			continue
		}

		switch integration.DeliveryMode {
		case model.ModeDelayed, model.ModeRecurring:
			p.scheduleDelivery(ctx, integration, event, &result)
		case model.ModeScheduledJob:
			// Job integrations run on their own cadence, never off events.
			result.Skipped++
		default:
			p.deliverImmediate(ctx, integration, event, &result)
		}
	}

	return result, nil
}

func (p *Processor) deliverImmediate(ctx context.Context, integration *model.IntegrationConfig, event *model.Event, result *model.ProcessResult) {
	res := p.deliverer.Deliver(ctx, integration, event, delivery.Options{Trigger: model.TriggerEvent})
	result.LogIDs = append(result.LogIDs, res.LogIDs()...)

	switch res.Status {
	case model.StatusSuccess:
		result.Delivered++
	case model.StatusSkipped:
		result.Skipped++
	case model.StatusPartialSuccess:
		result.Delivered++
		result.Failed++
	default:
		result.Failed++
	}
}

// scheduleDelivery transforms the event now and stores a future delivery;
// the scheduler worker sends the stored payload verbatim when it comes due.
func (p *Processor) scheduleDelivery(ctx context.Context, integration *model.IntegrationConfig, event *model.Event, result *model.ProcessResult) {
	log := p.logger.WithFields(map[string]interface{}{
		"integration": integration.ID,
		"event_id":    event.ID,
	})

	if integration.Schedule == nil || integration.Schedule.Script == "" {
		log.Warn("scheduled integration has no scheduling script")
		result.Failed++
		return
	}

	tctx := transform.Context{
		EventType: event.EventType,
		TenantID:  event.TenantID,
		EventID:   event.ID,
	}

	transformed, err := p.transformer.Transform(ctx, integration.Transformation, integration.Lookups, event.Payload, tctx)
	if err != nil {
		log.WithError(err).Warn("scheduling transform failed")
		result.Failed++
		return
	}
	if transformed == nil {
		result.Skipped++
		return
	}

	raw, err := p.sandbox.Run(ctx, integration.Schedule.Script, event.Payload, tctx)
	if err != nil {
		log.WithError(err).Warn("scheduling script failed")
		result.Failed++
		return
	}

	plan, err := parseSchedulePlan(raw, integration.DeliveryMode)
	if err != nil {
		log.WithError(err).Warn("scheduling script returned an unusable plan")
		result.Failed++
		return
	}

	now := p.now()
	if now.Sub(plan.firstAt) > scheduledGraceWindow {
		log.WithField("scheduled_for", plan.firstAt).Info("scheduled time already passed")
		result.Skipped++
		return
	}

	item := &model.ScheduledIntegration{
		IntegrationID: integration.ID,
		TenantID:      integration.TenantID,
		EventID:       event.ID,
		EventType:     event.EventType,
		ScheduledFor:  plan.firstAt,
		Payload:       transformed,
		TargetURL:     integration.TargetURL,
		Status:        model.SchedulePending,
		Recurrence:    plan.recurrence,
		Cancellation:  cancellationFor(integration, event),
	}
	if err := p.schedules.SaveScheduled(ctx, item); err != nil {
		log.WithError(err).Error("scheduled item write failed")
		result.Failed++
		return
	}
	result.Scheduled++
}

func (p *Processor) cancelScheduled(ctx context.Context, integration *model.IntegrationConfig, event *model.Event, result *model.ProcessResult) {
	match := model.CancellationMatch{}
	if c := cancellationFor(integration, event); c != nil {
		match.MatchKey = c.MatchKey
		match.MatchVal = c.MatchVal
	}

	cancelled, err := p.schedules.CancelScheduledByMatch(ctx, integration.TenantID, match)
	if err != nil {
		p.logger.WithError(err).WithField("integration", integration.ID).Warn("cancellation sweep failed")
		result.Failed++
		return
	}
	p.logger.WithFields(map[string]interface{}{
		"integration": integration.ID,
		"cancelled":   cancelled,
	}).Info("pending scheduled items cancelled")
	result.Skipped++
}

// isCancellationFor reports whether eventType voids the integration's
// pending items instead of triggering it.
func isCancellationFor(integration *model.IntegrationConfig, eventType string) bool {
	if integration.Schedule == nil {
		return false
	}
	for _, t := range integration.Schedule.CancelOn {
		if t == eventType {
			return true
		}
	}
	return false
}

// cancellationFor builds the match record stored on (and later matched
// against) scheduled items. The key is the configured payload path, falling
// back to the event id so every item stays individually addressable.
func cancellationFor(integration *model.IntegrationConfig, event *model.Event) *model.CancellationMatch {
	key := "eventId"
	value := event.ID
	if integration.Schedule != nil && integration.Schedule.CancelMatchKey != "" {
		key = integration.Schedule.CancelMatchKey
		if v, ok := common.GetPathString(event.Payload, key); ok {
			value = v
		} else if raw, found := common.GetPath(event.Payload, key); found {
			value = fmt.Sprintf("%v", raw)
		}
	}
	return &model.CancellationMatch{MatchKey: key, MatchVal: value}
}

// schedulePlan is the parsed scheduling-script result.
type schedulePlan struct {
	firstAt    time.Time
	recurrence *model.Recurrence
}

// parseSchedulePlan interprets the script return value: a unix-ms number for
// DELAYED, a {firstOccurrence, interval, until?, count?} table for RECURRING.
func parseSchedulePlan(raw interface{}, mode model.DeliveryMode) (*schedulePlan, error) {
	if mode == model.ModeDelayed {
		ms, ok := toMillis(raw)
		if !ok {
			return nil, fmt.Errorf("expected a unix-ms timestamp, got %T", raw)
		}
		return &schedulePlan{firstAt: time.UnixMilli(ms)}, nil
	}

	table, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a recurrence table, got %T", raw)
	}
	first, ok := toMillis(table["firstOccurrence"])
	if !ok {
		return nil, fmt.Errorf("recurrence table has no firstOccurrence")
	}
	interval, ok := toMillis(table["interval"])
	if !ok || interval <= 0 {
		return nil, fmt.Errorf("recurrence table has no positive interval")
	}

	rec := &model.Recurrence{IntervalMs: interval, OccurrenceNumber: 1}
	if untilMs, ok := toMillis(table["until"]); ok {
		until := time.UnixMilli(untilMs)
		rec.Until = &until
	}
	if count, ok := toMillis(table["count"]); ok && count > 0 {
		rec.Count = int(count)
	}

	return &schedulePlan{firstAt: time.UnixMilli(first), recurrence: rec}, nil
}

func toMillis(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
