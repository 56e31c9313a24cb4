package delivery

import (
	"context"
	"net/http"
	"time"

	"switchyard.dev/model"
	"switchyard.dev/transform"
)

// deliverMulti runs every action of a multi-action integration in order.
// Each action gets its own log row; there is no parent row. The circuit is
// recorded once for the whole pass so one flapping action cannot trip the
// breaker faster than a single-action integration would.
func (e *Engine) deliverMulti(ctx context.Context, integration *model.IntegrationConfig, event *model.Event, opts Options) *Result {
	outcomes := make([]Outcome, 0, len(integration.Actions))

	for idx, raw := range integration.Actions {
		if idx > 0 {
			e.sleep(e.actionDelay(integration))
		}

		actionOpts := opts
		actionOpts.ActionIndex = idx
		actionOpts.ExistingLogID = ""

		action := integration.ResolveAction(raw)

		if action.Condition != "" && !e.sandbox.EvalCondition(ctx, action.Condition, event.Payload, transform.Context{
			EventType: event.EventType,
			TenantID:  event.TenantID,
			EventID:   event.ID,
			TraceID:   opts.TraceID,
		}) {
			outcomes = append(outcomes, e.skipAction(ctx, integration, action, event, actionOpts))
			continue
		}

		outcomes = append(outcomes, e.deliverAction(ctx, integration, action, event, actionOpts))
	}

	status := aggregateStatus(outcomes)
	switch {
	case status == model.StatusSuccess || status == model.StatusSkipped:
		e.breaker.RecordSuccess(ctx, integration.ID)
	case anyShouldTrip(outcomes):
		e.breaker.RecordFailure(ctx, integration.ID, string(model.ErrCodeActionFailure))
	}

	return &Result{Status: status, Outcomes: outcomes}
}

// anyShouldTrip reports whether at least one action failed in an
// infrastructure-class way. Passes that fail purely on client errors leave
// the breaker alone, same as the single-action path.
func anyShouldTrip(outcomes []Outcome) bool {
	for _, outcome := range outcomes {
		if outcome.shouldTrip {
			return true
		}
	}
	return false
}

// skipAction records a condition miss as its own SKIPPED row so the action's
// absence is visible in the delivery history.
func (e *Engine) skipAction(ctx context.Context, integration *model.IntegrationConfig, action model.Action, event *model.Event, opts Options) Outcome {
	state := deliveryState{
		logID:          e.logID(opts),
		status:         model.StatusSkipped,
		responseStatus: http.StatusNoContent,
		errMsg:         "condition evaluated to false",
		targetURL:      action.TargetURL,
		actionName:     action.Name,
	}
	return e.finish(ctx, integration, event, opts, state)
}

// actionDelay resolves the pause between actions: the integration's own
// value when set, including an explicit 0 to disable it, otherwise the
// process-wide default.
func (e *Engine) actionDelay(integration *model.IntegrationConfig) time.Duration {
	delayMs := e.cfg.MultiActionDelayMs
	if integration.MultiActionDelayMs != nil {
		delayMs = *integration.MultiActionDelayMs
	}
	if delayMs <= 0 {
		return 0
	}
	return time.Duration(delayMs) * time.Millisecond
}

// aggregateStatus collapses per-action outcomes: SUCCESS when every action
// that ran succeeded, SKIPPED when nothing ran, PARTIAL_SUCCESS on a mix and
// FAILED when no action succeeded.
func aggregateStatus(outcomes []Outcome) model.DeliveryStatus {
	succeeded, failed := 0, 0
	for _, outcome := range outcomes {
		switch outcome.Status {
		case model.StatusSuccess:
			succeeded++
		case model.StatusSkipped:
		default:
			failed++
		}
	}

	switch {
	case failed == 0 && succeeded == 0:
		return model.StatusSkipped
	case failed == 0:
		return model.StatusSuccess
	case succeeded == 0:
		return model.StatusFailed
	default:
		return model.StatusPartialSuccess
	}
}
