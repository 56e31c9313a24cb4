// Package delivery executes one-shot deliveries of transformed events to
// integration targets: URL guarding, transformation, auth, signing, rate
// limiting, the outbound send, outcome classification, logging, circuit
// bookkeeping and dead-lettering. Multi-action integrations run their
// actions sequentially through the same single-action core.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"switchyard.dev/auth"
	"switchyard.dev/channels"
	"switchyard.dev/common"
	"switchyard.dev/config"
	"switchyard.dev/model"
	"switchyard.dev/ratelimit"
	"switchyard.dev/signing"
	"switchyard.dev/transform"
)

// Store is the slice of the document store the engine writes through.
// Satisfied by *store.Store.
type Store interface {
	SaveLog(ctx context.Context, log *model.DeliveryLog) error
	SaveDLQ(ctx context.Context, entry *model.DLQEntry) error
}

// CircuitBreaker gates and records deliveries per integration.
type CircuitBreaker interface {
	Check(ctx context.Context, integrationID string) model.CircuitCheck
	RecordSuccess(ctx context.Context, integrationID string)
	RecordFailure(ctx context.Context, integrationID, reason string)
}

// RateLimiter answers per-integration quota checks.
type RateLimiter interface {
	Check(ctx context.Context, integrationID string, cfg *model.RateLimitConfig) (*ratelimit.Result, error)
}

// ChannelSender routes COMMUNICATION actions to channel adapters.
type ChannelSender interface {
	Send(ctx context.Context, channel, provider string, payload, settings map[string]interface{}) (*channels.SendResult, error)
}

// Options steer one delivery invocation.
type Options struct {
	TraceID string
	Trigger model.TriggerType
	// AttemptCount is 1-based; retries pass the stored count + 1.
	AttemptCount int
	// ActionIndex targets one action of a multi-action integration on the
	// retry path; -1 delivers normally.
	ActionIndex int
	// ExistingLogID coalesces retries onto the original log row.
	ExistingLogID string
	// ForceDelivery bypasses an OPEN circuit, honored only together with
	// an event replay.
	ForceDelivery bool
	// Pretransformed marks a payload that already went through the
	// integration transform, as scheduled items do at schedule time. The
	// engine sends it as stored instead of transforming again.
	Pretransformed bool
}

// Outcome is the classified result of one action delivery.
type Outcome struct {
	Status         model.DeliveryStatus
	LogID          string
	ResponseStatus int
	ErrorCode      model.ErrorCode
	ErrorMessage   string
	ActionName     string
	ActionIndex    int

	// shouldTrip marks infrastructure-class failures for the breaker.
	shouldTrip bool
}

// Result aggregates a whole delivery: one outcome for single-action
// integrations, one per action otherwise.
type Result struct {
	Status   model.DeliveryStatus
	Outcomes []Outcome
}

// LogIDs lists the log rows the delivery produced.
func (r *Result) LogIDs() []string {
	ids := make([]string, 0, len(r.Outcomes))
	for _, outcome := range r.Outcomes {
		if outcome.LogID != "" {
			ids = append(ids, outcome.LogID)
		}
	}
	return ids
}

// EngineConfig tunes the engine beyond the per-integration settings.
type EngineConfig struct {
	Delivery config.DeliveryConfig
	// DLQMaxRetries caps DLQ redelivery per entry.
	DLQMaxRetries int
	// MultiActionDelayMs is the default pause between actions; integrations
	// override it.
	MultiActionDelayMs int
}

// Engine performs deliveries. All collaborators are interfaces so callers
// (and tests) compose the slice they need.
type Engine struct {
	store       Store
	transformer *transform.Transformer
	authBuilder *auth.Builder
	limiter     RateLimiter
	breaker     CircuitBreaker
	channels    ChannelSender
	sandbox     *transform.Sandbox
	cfg         EngineConfig

	httpClient *http.Client
	logger     *common.ContextLogger
	now        func() time.Time
	sleep      func(time.Duration)
}

// NewEngine wires a delivery engine.
func NewEngine(store Store, transformer *transform.Transformer, authBuilder *auth.Builder, limiter RateLimiter, breaker CircuitBreaker, channelSender ChannelSender, sandbox *transform.Sandbox, cfg EngineConfig) *Engine {
	if cfg.Delivery.DefaultTimeout <= 0 {
		cfg.Delivery.DefaultTimeout = 10 * time.Second
	}
	if cfg.Delivery.MaxResponseBytes <= 0 {
		cfg.Delivery.MaxResponseBytes = 64 * 1024
	}
	if cfg.DLQMaxRetries <= 0 {
		cfg.DLQMaxRetries = 5
	}
	return &Engine{
		store:       store,
		transformer: transformer,
		authBuilder: authBuilder,
		limiter:     limiter,
		breaker:     breaker,
		channels:    channelSender,
		sandbox:     sandbox,
		cfg:         cfg,
		httpClient:  &http.Client{},
		logger:      common.ServiceLogger("delivery"),
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// SetHTTPClient overrides the outbound client, mainly for tests.
func (e *Engine) SetHTTPClient(client *http.Client) {
	if client != nil {
		e.httpClient = client
	}
}

// Deliver executes one delivery of event to integration: the circuit gate,
// then the single-action protocol or the multi-action orchestration.
func (e *Engine) Deliver(ctx context.Context, integration *model.IntegrationConfig, event *model.Event, opts Options) *Result {
	if opts.TraceID == "" {
		opts.TraceID = uuid.NewString()
	}
	if opts.AttemptCount < 1 {
		opts.AttemptCount = 1
	}
	if opts.Trigger == "" {
		opts.Trigger = model.TriggerEvent
	}

	check := e.breaker.Check(ctx, integration.ID)
	if check.IsOpen {
		if opts.ForceDelivery && event.IsReplay {
			e.logger.WithFields(map[string]interface{}{
				"integration": integration.ID,
				"trace_id":    opts.TraceID,
			}).Warn("open circuit bypassed by forced replay")
		} else {
			outcome := e.circuitOpenOutcome(ctx, integration, event, opts, check.Reason)
			return &Result{Status: model.StatusFailed, Outcomes: []Outcome{outcome}}
		}
	}

	if integration.IsMultiAction() && opts.ActionIndex < 0 {
		return e.deliverMulti(ctx, integration, event, opts)
	}

	action := e.resolveTargetAction(integration, opts.ActionIndex)
	if action == nil {
		outcome := e.finish(ctx, integration, event, opts, deliveryState{
			logID:   e.logID(opts),
			status:  model.StatusFailed,
			errCode: model.ErrCodeActionNotFound,
			errMsg:  fmt.Sprintf("integration has no action at index %d", opts.ActionIndex),
		})
		return &Result{Status: model.StatusFailed, Outcomes: []Outcome{outcome}}
	}

	outcome := e.deliverAction(ctx, integration, *action, event, opts)
	e.recordCircuit(ctx, integration.ID, outcome)
	return &Result{Status: outcome.Status, Outcomes: []Outcome{outcome}}
}

// resolveTargetAction picks the action a delivery addresses: the integration
// itself rendered as an action for single-action configs, or the indexed
// action on a multi-action retry.
func (e *Engine) resolveTargetAction(integration *model.IntegrationConfig, actionIndex int) *model.Action {
	if !integration.IsMultiAction() {
		action := integration.ResolveAction(model.Action{Name: integration.Name})
		return &action
	}
	if actionIndex < 0 || actionIndex >= len(integration.Actions) {
		return nil
	}
	action := integration.ResolveAction(integration.Actions[actionIndex])
	return &action
}

// recordCircuit applies one outcome to the breaker: success and skip close,
// infrastructure failures count, everything else leaves the circuit alone.
func (e *Engine) recordCircuit(ctx context.Context, integrationID string, outcome Outcome) {
	switch {
	case outcome.Status == model.StatusSuccess || outcome.Status == model.StatusSkipped:
		e.breaker.RecordSuccess(ctx, integrationID)
	case outcome.shouldTrip:
		e.breaker.RecordFailure(ctx, integrationID, string(outcome.ErrorCode))
	}
}

// deliveryState accumulates the single-action protocol before the terminal
// log write.
type deliveryState struct {
	logID          string
	status         model.DeliveryStatus
	responseStatus int
	responseBody   string
	responseTimeMs int64
	errCode        model.ErrorCode
	errMsg         string
	shouldTrip     bool
	skipDLQ        bool

	transformed map[string]interface{}
	headers     map[string]string
	targetURL   string
	actionName  string
	signingAud  *model.SigningAudit
}

func (e *Engine) logID(opts Options) string {
	if opts.ExistingLogID != "" {
		return opts.ExistingLogID
	}
	return uuid.NewString()
}

// deliverAction runs the ordered single-action protocol from URL guard to
// classification and returns the classified outcome. The action must already
// be resolved against the integration fallbacks.
func (e *Engine) deliverAction(ctx context.Context, integration *model.IntegrationConfig, action model.Action, event *model.Event, opts Options) Outcome {
	state := deliveryState{
		logID:      e.logID(opts),
		targetURL:  action.TargetURL,
		actionName: action.Name,
	}

	// 1. Target-URL validation; communication actions have no URL to guard.
	if action.Kind != model.ActionCommunication {
		if err := ValidateTargetURL(action.TargetURL, e.cfg.Delivery.AllowPrivateTargets); err != nil {
			state.status = model.StatusFailed
			state.responseStatus = http.StatusBadRequest
			state.errCode = model.ErrCodeInvalidURL
			state.errMsg = err.Error()
			return e.finish(ctx, integration, event, opts, state)
		}
	}

	// 2. Transform; a nil result is the skip signal, recorded as circuit
	// success because the target did nothing wrong. Pretransformed payloads
	// skip this step so non-idempotent scripts do not run twice.
	if opts.Pretransformed {
		state.transformed = event.Payload
	} else {
		transformed, err := e.transformer.Transform(ctx, action.Transformation, integration.Lookups, event.Payload, transform.Context{
			EventType: event.EventType,
			TenantID:  event.TenantID,
			EventID:   event.ID,
			TraceID:   opts.TraceID,
		})
		if err != nil {
			state.status = model.StatusFailed
			state.errCode = model.ErrCodeTransformation
			state.errMsg = err.Error()
			return e.finish(ctx, integration, event, opts, state)
		}
		if transformed == nil {
			state.status = model.StatusSkipped
			state.responseStatus = http.StatusNoContent
			return e.finish(ctx, integration, event, opts, state)
		}
		state.transformed = transformed
	}

	// 3. Rate limit; a denial is retryable without an attempt having been
	// made, and a local denial never counts against the circuit.
	limit, err := e.limiter.Check(ctx, integration.ID, integration.RateLimit)
	if err != nil {
		e.logger.WithError(err).WithField("integration", integration.ID).Warn("rate limit check degraded")
	}
	if limit != nil && !limit.Allowed {
		state.status = model.StatusRetrying
		state.responseStatus = http.StatusTooManyRequests
		state.errCode = model.ErrCodeRateLimit
		state.errMsg = fmt.Sprintf("integration rate limit exceeded, resets at %s", limit.ResetAt.Format(time.RFC3339))
		return e.finish(ctx, integration, event, opts, e.promoteExhausted(integration, event, opts, state))
	}

	// 4. Channel branch.
	if action.Kind == model.ActionCommunication {
		return e.deliverChannel(ctx, integration, action, event, opts, state)
	}

	// 5. HTTP branch.
	return e.deliverHTTP(ctx, integration, action, event, opts, state)
}

func (e *Engine) deliverChannel(ctx context.Context, integration *model.IntegrationConfig, action model.Action, event *model.Event, opts Options, state deliveryState) Outcome {
	if action.Channel == nil {
		state.status = model.StatusFailed
		state.errCode = model.ErrCodeCommunication
		state.errMsg = "communication action has no channel descriptor"
		return e.finish(ctx, integration, event, opts, state)
	}

	result, err := e.channels.Send(ctx, action.Channel.Channel, action.Channel.Provider, state.transformed, action.Channel.Settings)
	if err != nil {
		state.status = model.StatusFailed
		state.errCode = model.ErrCodeCommunication
		state.errMsg = err.Error()
		state.shouldTrip = true
		return e.finish(ctx, integration, event, opts, state)
	}

	state.status = model.StatusSuccess
	state.responseStatus = http.StatusOK
	state.responseBody = fmt.Sprintf(`{"messageId":%q}`, result.MessageID)
	return e.finish(ctx, integration, event, opts, state)
}

func (e *Engine) deliverHTTP(ctx context.Context, integration *model.IntegrationConfig, action model.Action, event *model.Event, opts Options, state deliveryState) Outcome {
	headers, err := e.authBuilder.Build(ctx, integration, action.Auth, auth.Request{
		Method:    action.HTTPMethod,
		TargetURL: action.TargetURL,
	})
	if err != nil {
		state.status = model.StatusFailed
		state.errCode = model.ErrCodeAuthFailed
		if authErr, ok := err.(*auth.Error); ok {
			state.errCode = authErr.Code
		}
		state.errMsg = err.Error()
		return e.finish(ctx, integration, event, opts, state)
	}

	body, err := json.Marshal(state.transformed)
	if err != nil {
		state.status = model.StatusFailed
		state.errCode = model.ErrCodeTransformation
		state.errMsg = fmt.Sprintf("transformed payload is not serializable: %v", err)
		return e.finish(ctx, integration, event, opts, state)
	}

	headers["Content-Type"] = "application/json"
	headers["X-Correlation-ID"] = opts.TraceID
	headers["X-Trace-ID"] = opts.TraceID

	if integration.SigningEnabled && len(integration.SigningSecrets) > 0 {
		sig, signErr := signing.Sign(body, integration.SigningSecrets)
		if signErr != nil {
			state.status = model.StatusFailed
			state.errCode = model.ErrCodeWorkerError
			state.errMsg = signErr.Error()
			return e.finish(ctx, integration, event, opts, state)
		}
		for name, value := range sig.Headers() {
			headers[name] = value
		}
		state.signingAud = &model.SigningAudit{
			MessageID: sig.MessageID,
			Timestamp: sig.Timestamp,
			Signature: sig.Primary,
		}
	}
	state.headers = headers

	result := e.sendHTTP(ctx, action.HTTPMethod, action.TargetURL, body, headers, integration.EffectiveTimeout(), e.cfg.Delivery.MaxResponseBytes)
	state.responseStatus = result.StatusCode
	state.responseBody = result.Body
	state.responseTimeMs = result.Duration.Milliseconds()

	e.classify(ctx, integration, event, result, &state)
	return e.finish(ctx, integration, event, opts, e.promoteExhausted(integration, event, opts, state))
}

// classify maps the raw HTTP result onto the delivery status taxonomy.
func (e *Engine) classify(ctx context.Context, integration *model.IntegrationConfig, event *model.Event, result *httpResult, state *deliveryState) {
	switch {
	case result.Err != nil:
		state.status = model.StatusRetrying
		state.shouldTrip = true
		if result.TimedOut {
			state.errCode = model.ErrCodeTimeout
			state.errMsg = fmt.Sprintf("delivery timed out after %s", integration.EffectiveTimeout())
		} else {
			state.errCode = model.ErrCodeNetworkError
			state.errMsg = result.Err.Error()
		}

	case result.StatusCode >= 200 && result.StatusCode < 300:
		if e.tokenExpiredInBody(integration, result.Body) {
			// The target answered 200 but the body says the token died.
			state.status = model.StatusRetrying
			state.errCode = model.ErrCodeAuthExpired
			state.errMsg = "response body matched a token expiration marker"
			e.authBuilder.InvalidateToken(ctx, integration)
		} else {
			state.status = model.StatusSuccess
		}

	case result.StatusCode == http.StatusUnauthorized || result.StatusCode == http.StatusForbidden:
		state.status = model.StatusRetrying
		state.errCode = model.ErrCodeAuthExpired
		state.errMsg = fmt.Sprintf("target rejected credentials with %d", result.StatusCode)
		e.authBuilder.InvalidateToken(ctx, integration)

	case result.StatusCode == http.StatusTooManyRequests:
		state.status = model.StatusRetrying
		state.errCode = model.ErrCodeRateLimit
		state.errMsg = "target rate limited the delivery"
		state.shouldTrip = true

	case result.StatusCode >= 500:
		state.status = model.StatusRetrying
		state.errCode = model.ErrCodeServerError
		state.errMsg = fmt.Sprintf("target returned %d", result.StatusCode)
		state.shouldTrip = true

	default: // remaining 4xx
		state.status = model.StatusFailed
		state.errCode = model.ErrCodeClientError
		state.errMsg = fmt.Sprintf("target returned %d", result.StatusCode)
	}

	// Test events never retry: any non-success collapses to FAILED and
	// stays out of the DLQ.
	if event.IsTest && state.status == model.StatusRetrying {
		state.status = model.StatusFailed
		state.errMsg += " (test event, not retrying)"
		state.skipDLQ = true
	}
}

// promoteExhausted turns RETRYING into ABANDONED once the attempt budget is
// spent: the final allowed attempt fails terminally, never as RETRYING.
func (e *Engine) promoteExhausted(integration *model.IntegrationConfig, event *model.Event, opts Options, state deliveryState) deliveryState {
	if state.status == model.StatusRetrying && opts.AttemptCount >= integration.EffectiveMaxRetries() {
		state.status = model.StatusAbandoned
	}
	return state
}

// tokenExpiredInBody applies the integration's body-marker configuration.
func (e *Engine) tokenExpiredInBody(integration *model.IntegrationConfig, body string) bool {
	cfg := integration.Response
	if cfg == nil || cfg.ResponseBodyPath == "" || len(cfg.ExpirationValues) == 0 {
		return false
	}

	var decoded map[string]interface{}
	if json.Unmarshal([]byte(body), &decoded) != nil {
		return false
	}
	raw, found := common.GetPath(decoded, cfg.ResponseBodyPath)
	if !found || raw == nil {
		return false
	}
	value := fmt.Sprintf("%v", raw)
	for _, marker := range cfg.ExpirationValues {
		if value == marker {
			return true
		}
	}
	return false
}

// circuitOpenOutcome records a delivery skipped by an OPEN circuit.
func (e *Engine) circuitOpenOutcome(ctx context.Context, integration *model.IntegrationConfig, event *model.Event, opts Options, reason string) Outcome {
	state := deliveryState{
		logID:          e.logID(opts),
		status:         model.StatusFailed,
		responseStatus: http.StatusServiceUnavailable,
		errCode:        model.ErrCodeCircuitOpen,
		errMsg:         "circuit open: " + reason,
		targetURL:      integration.TargetURL,
		skipDLQ:        true,
	}
	return e.finish(ctx, integration, event, opts, state)
}

// finish writes the log row and, on terminal failure, the DLQ entry, then
// renders the outcome. Log and DLQ writes are best-effort per the
// propagation policy: a store failure degrades observability, not delivery.
func (e *Engine) finish(ctx context.Context, integration *model.IntegrationConfig, event *model.Event, opts Options, state deliveryState) Outcome {
	now := e.now()

	logRow := &model.DeliveryLog{
		ID:                 state.logID,
		TraceID:            opts.TraceID,
		IntegrationID:      integration.ID,
		TenantID:           integration.TenantID,
		EventID:            event.ID,
		EventType:          event.EventType,
		Direction:          e.direction(integration),
		Trigger:            opts.Trigger,
		ActionName:         state.actionName,
		ActionIndex:        maxInt(opts.ActionIndex, 0),
		Status:             state.status,
		ResponseStatus:     state.responseStatus,
		ResponseTimeMs:     state.responseTimeMs,
		AttemptCount:       opts.AttemptCount,
		TargetURL:          state.targetURL,
		OriginalPayload:    event.Payload,
		TransformedPayload: state.transformed,
		RequestHeaders:     maskHeaders(state.headers),
		ResponseBody:       state.responseBody,
		ErrorMessage:       state.errMsg,
		ErrorCode:          state.errCode,
		Signing:            state.signingAud,
		MaxRetries:         integration.EffectiveMaxRetries(),
		LastAttemptAt:      now,
		UpdatedAt:          now,
	}
	if opts.ExistingLogID == "" {
		logRow.CreatedAt = now
	}
	if state.status == model.StatusRetrying {
		nextAt := now.Add(Backoff(opts.AttemptCount))
		logRow.NextRetryAt = &nextAt
	}

	if err := e.store.SaveLog(ctx, logRow); err != nil {
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"trace_id":    opts.TraceID,
			"integration": integration.ID,
		}).Warn("delivery log write failed")
	}

	// DLQ-triggered retries already have an entry; the DLQ worker reschedules
	// it instead of dead-lettering again.
	terminal := state.status == model.StatusFailed || state.status == model.StatusAbandoned
	if terminal && !event.IsTest && !state.skipDLQ && opts.Trigger != model.TriggerDLQRetry {
		e.writeDLQ(ctx, integration, event, opts, state, now)
	}

	return Outcome{
		Status:         state.status,
		LogID:          state.logID,
		ResponseStatus: state.responseStatus,
		ErrorCode:      state.errCode,
		ErrorMessage:   state.errMsg,
		ActionName:     state.actionName,
		ActionIndex:    maxInt(opts.ActionIndex, 0),
		shouldTrip:     state.shouldTrip,
	}
}

func (e *Engine) writeDLQ(ctx context.Context, integration *model.IntegrationConfig, event *model.Event, opts Options, state deliveryState, now time.Time) {
	entry := &model.DLQEntry{
		TraceID:       opts.TraceID,
		IntegrationID: integration.ID,
		TenantID:      integration.TenantID,
		Direction:     e.direction(integration),
		LogID:         state.logID,
		EventID:       event.ID,
		EventType:     event.EventType,
		ActionIndex:   maxInt(opts.ActionIndex, 0),
		Trigger:       opts.Trigger,
		Payload:       event.Payload,
		Error: model.DLQError{
			Message:    state.errMsg,
			Code:       state.errCode,
			StatusCode: state.responseStatus,
		},
		RetryCount:  0,
		MaxRetries:  e.cfg.DLQMaxRetries,
		NextRetryAt: now.Add(time.Minute),
		Status:      model.DLQPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.SaveDLQ(ctx, entry); err != nil {
		e.logger.WithError(err).WithField("trace_id", opts.TraceID).Warn("dlq write failed")
	}
}

func (e *Engine) direction(integration *model.IntegrationConfig) model.Direction {
	if integration.Direction == "" {
		return model.DirectionOutbound
	}
	return integration.Direction
}

// maskHeaders hides credential values before they land in a log row.
func maskHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	masked := make(map[string]string, len(headers))
	for name, value := range headers {
		switch name {
		case "Authorization", "X-Api-Key", "Proxy-Authorization":
			masked[name] = common.MaskSecret(value)
		default:
			masked[name] = value
		}
	}
	return masked
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
