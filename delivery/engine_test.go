package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchyard.dev/auth"
	"switchyard.dev/channels"
	"switchyard.dev/config"
	"switchyard.dev/model"
	"switchyard.dev/ratelimit"
	"switchyard.dev/signing"
	"switchyard.dev/transform"
)

type memDeliveryStore struct {
	mu   sync.Mutex
	logs map[string]*model.DeliveryLog
	dlq  []*model.DLQEntry
}

func newMemDeliveryStore() *memDeliveryStore {
	return &memDeliveryStore{logs: map[string]*model.DeliveryLog{}}
}

func (s *memDeliveryStore) SaveLog(_ context.Context, log *model.DeliveryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *log
	s.logs[log.ID] = &clone
	return nil
}

func (s *memDeliveryStore) SaveDLQ(_ context.Context, entry *model.DLQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *entry
	s.dlq = append(s.dlq, &clone)
	return nil
}

func (s *memDeliveryStore) logByID(id string) *model.DeliveryLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs[id]
}

type stubBreaker struct {
	mu        sync.Mutex
	open      bool
	successes int
	failures  []string
}

func (b *stubBreaker) Check(context.Context, string) model.CircuitCheck {
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.CircuitCheck{IsOpen: b.open, Reason: "test"}
}

func (b *stubBreaker) RecordSuccess(context.Context, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes++
}

func (b *stubBreaker) RecordFailure(_ context.Context, _ string, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, reason)
}

type stubLimiter struct {
	denied bool
}

func (l *stubLimiter) Check(_ context.Context, _ string, _ *model.RateLimitConfig) (*ratelimit.Result, error) {
	if l.denied {
		return &ratelimit.Result{Allowed: false, ResetAt: time.Now().Add(time.Minute)}, nil
	}
	return &ratelimit.Result{Allowed: true, Remaining: 10}, nil
}

type stubChannels struct {
	mu    sync.Mutex
	sends int
	err   error
}

func (c *stubChannels) Send(context.Context, string, string, map[string]interface{}, map[string]interface{}) (*channels.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	if c.err != nil {
		return nil, c.err
	}
	return &channels.SendResult{MessageID: "msg-1"}, nil
}

type engineFixture struct {
	engine   *Engine
	store    *memDeliveryStore
	breaker  *stubBreaker
	limiter  *stubLimiter
	channels *stubChannels
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	store := newMemDeliveryStore()
	breaker := &stubBreaker{}
	limiter := &stubLimiter{}
	channelSender := &stubChannels{}
	sandbox := transform.NewSandbox(time.Second)
	transformer := transform.New(transform.NoopLookups{}, sandbox)

	engine := NewEngine(store, transformer, auth.NewBuilder(nil), limiter, breaker, channelSender, sandbox, EngineConfig{
		Delivery: config.DeliveryConfig{AllowPrivateTargets: true},
	})
	engine.sleep = func(time.Duration) {}

	return &engineFixture{
		engine:   engine,
		store:    store,
		breaker:  breaker,
		limiter:  limiter,
		channels: channelSender,
	}
}

func testIntegration(targetURL string) *model.IntegrationConfig {
	return &model.IntegrationConfig{
		ID:         "int-1",
		Name:       "orders-hook",
		TenantID:   "org-1",
		EventTypes: []string{"order.created"},
		TargetURL:  targetURL,
		MaxRetries: 3,
		Active:     true,
	}
}

func testEvent() *model.Event {
	return &model.Event{
		ID:        "evt-1",
		EventType: "order.created",
		TenantID:  "org-1",
		Payload:   map[string]interface{}{"orderId": "o-42", "amount": 12.5},
		Source:    model.SourceHTTPPush,
	}
}

func TestDeliverSuccess(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), testIntegration(server.URL), testEvent(), Options{TraceID: "trace-1"})

	require.Equal(t, model.StatusSuccess, result.Status)
	require.Len(t, result.Outcomes, 1)
	outcome := result.Outcomes[0]
	assert.Equal(t, http.StatusOK, outcome.ResponseStatus)

	assert.Equal(t, "trace-1", gotHeaders.Get("X-Correlation-ID"))
	assert.Equal(t, "trace-1", gotHeaders.Get("X-Trace-ID"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "o-42", gotBody["orderId"])

	logRow := fx.store.logByID(outcome.LogID)
	require.NotNil(t, logRow)
	assert.Equal(t, model.StatusSuccess, logRow.Status)
	assert.Equal(t, 1, logRow.AttemptCount)
	assert.Nil(t, logRow.NextRetryAt)

	assert.Equal(t, 1, fx.breaker.successes)
	assert.Empty(t, fx.breaker.failures)
	assert.Empty(t, fx.store.dlq)
}

func TestDeliverSignsWhenEnabled(t *testing.T) {
	var gotHeaders http.Header
	var rawBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		rawBody = readAll(t, r)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	secret, err := signing.GenerateSecret()
	require.NoError(t, err)

	integration := testIntegration(server.URL)
	integration.SigningEnabled = true
	integration.SigningSecrets = []string{secret}

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), integration, testEvent(), Options{})
	require.Equal(t, model.StatusSuccess, result.Status)

	header := gotHeaders.Get(signing.HeaderSignature)
	messageID := gotHeaders.Get(signing.HeaderMessageID)
	timestamp := gotHeaders.Get(signing.HeaderTimestamp)
	require.NotEmpty(t, header)
	require.NotEmpty(t, messageID)
	require.NotEmpty(t, timestamp)

	ts := parseInt64(t, timestamp)
	assert.True(t, signing.Verify(rawBody, header, messageID, ts, integration.SigningSecrets, time.Now()))

	logRow := fx.store.logByID(result.Outcomes[0].LogID)
	require.NotNil(t, logRow)
	require.NotNil(t, logRow.Signing)
	assert.Equal(t, messageID, logRow.Signing.MessageID)
}

func TestDeliverServerErrorRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), testIntegration(server.URL), testEvent(), Options{AttemptCount: 1})

	require.Equal(t, model.StatusRetrying, result.Status)
	outcome := result.Outcomes[0]
	assert.Equal(t, model.ErrCodeServerError, outcome.ErrorCode)

	logRow := fx.store.logByID(outcome.LogID)
	require.NotNil(t, logRow)
	require.NotNil(t, logRow.NextRetryAt)
	assert.False(t, logRow.NextRetryAt.Before(time.Now().Add(BackoffFloor(1)-time.Second)))

	assert.Equal(t, []string{string(model.ErrCodeServerError)}, fx.breaker.failures)
	assert.Empty(t, fx.store.dlq, "retryable failures stay out of the dlq")
}

func TestDeliverExhaustionAbandonsAndDeadLetters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fx := newEngineFixture(t)
	integration := testIntegration(server.URL)
	result := fx.engine.Deliver(context.Background(), integration, testEvent(), Options{
		AttemptCount:  integration.MaxRetries,
		ExistingLogID: "log-7",
	})

	require.Equal(t, model.StatusAbandoned, result.Status)
	logRow := fx.store.logByID("log-7")
	require.NotNil(t, logRow)
	assert.Equal(t, model.StatusAbandoned, logRow.Status)
	assert.Equal(t, integration.MaxRetries, logRow.AttemptCount)

	require.Len(t, fx.store.dlq, 1)
	entry := fx.store.dlq[0]
	assert.Equal(t, "log-7", entry.LogID)
	assert.Equal(t, model.DLQPending, entry.Status)
	assert.Equal(t, model.ErrCodeServerError, entry.Error.Code)
}

func TestDeliverClientErrorFailsTerminally(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), testIntegration(server.URL), testEvent(), Options{})

	require.Equal(t, model.StatusFailed, result.Status)
	assert.Equal(t, model.ErrCodeClientError, result.Outcomes[0].ErrorCode)
	assert.Empty(t, fx.breaker.failures, "client errors do not trip the circuit")
	assert.Len(t, fx.store.dlq, 1)
}

func TestDeliverUnauthorizedRetriesWithoutTripping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), testIntegration(server.URL), testEvent(), Options{})

	require.Equal(t, model.StatusRetrying, result.Status)
	assert.Equal(t, model.ErrCodeAuthExpired, result.Outcomes[0].ErrorCode)
	assert.Empty(t, fx.breaker.failures)
}

func TestDeliverTokenExpiryBodyMarker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"result":{"code":"TOKEN_EXPIRED"}}`))
	}))
	defer server.Close()

	integration := testIntegration(server.URL)
	integration.Response = &model.ResponseConfig{
		ResponseBodyPath: "result.code",
		ExpirationValues: []string{"TOKEN_EXPIRED", "INVALID_TOKEN"},
	}

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), integration, testEvent(), Options{})

	require.Equal(t, model.StatusRetrying, result.Status)
	assert.Equal(t, model.ErrCodeAuthExpired, result.Outcomes[0].ErrorCode)
}

func TestDeliverTestEventNeverRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fx := newEngineFixture(t)
	event := testEvent()
	event.IsTest = true
	result := fx.engine.Deliver(context.Background(), testIntegration(server.URL), event, Options{})

	require.Equal(t, model.StatusFailed, result.Status)
	assert.Empty(t, fx.store.dlq, "test events never dead-letter")
}

func TestDeliverNullTransformSkips(t *testing.T) {
	requested := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer server.Close()

	integration := testIntegration(server.URL)
	integration.Transformation = &model.TransformationConfig{
		Mode:   model.TransformScript,
		Script: "return nil",
	}

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), integration, testEvent(), Options{})

	require.Equal(t, model.StatusSkipped, result.Status)
	assert.Equal(t, http.StatusNoContent, result.Outcomes[0].ResponseStatus)
	assert.False(t, requested, "skipped deliveries never reach the target")
	assert.Equal(t, 1, fx.breaker.successes, "a skip counts as circuit success")
	assert.Empty(t, fx.store.dlq)
}

func TestDeliverRateLimited(t *testing.T) {
	requested := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer server.Close()

	fx := newEngineFixture(t)
	fx.limiter.denied = true
	result := fx.engine.Deliver(context.Background(), testIntegration(server.URL), testEvent(), Options{})

	require.Equal(t, model.StatusRetrying, result.Status)
	outcome := result.Outcomes[0]
	assert.Equal(t, http.StatusTooManyRequests, outcome.ResponseStatus)
	assert.Equal(t, model.ErrCodeRateLimit, outcome.ErrorCode)
	assert.False(t, requested)
	assert.Empty(t, fx.breaker.failures, "a local denial is not a target failure")
}

func TestDeliverCircuitOpen(t *testing.T) {
	requested := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer server.Close()

	fx := newEngineFixture(t)
	fx.breaker.open = true
	result := fx.engine.Deliver(context.Background(), testIntegration(server.URL), testEvent(), Options{})

	require.Equal(t, model.StatusFailed, result.Status)
	outcome := result.Outcomes[0]
	assert.Equal(t, http.StatusServiceUnavailable, outcome.ResponseStatus)
	assert.Equal(t, model.ErrCodeCircuitOpen, outcome.ErrorCode)
	assert.False(t, requested)
	assert.Empty(t, fx.store.dlq, "circuit skips do not dead-letter")
}

func TestDeliverForcedReplayBypassesOpenCircuit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fx := newEngineFixture(t)
	fx.breaker.open = true

	event := testEvent()
	event.IsReplay = true
	result := fx.engine.Deliver(context.Background(), testIntegration(server.URL), event, Options{
		ForceDelivery: true,
		Trigger:       model.TriggerReplay,
	})
	require.Equal(t, model.StatusSuccess, result.Status)

	// Force without replay still honors the open circuit.
	result = fx.engine.Deliver(context.Background(), testIntegration(server.URL), testEvent(), Options{ForceDelivery: true})
	require.Equal(t, model.StatusFailed, result.Status)
	assert.Equal(t, model.ErrCodeCircuitOpen, result.Outcomes[0].ErrorCode)
}

func TestDeliverBlockedTargetURL(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.cfg.Delivery.AllowPrivateTargets = false

	result := fx.engine.Deliver(context.Background(), testIntegration("http://169.254.169.254/latest"), testEvent(), Options{})

	require.Equal(t, model.StatusFailed, result.Status)
	outcome := result.Outcomes[0]
	assert.Equal(t, model.ErrCodeInvalidURL, outcome.ErrorCode)
	assert.Equal(t, http.StatusBadRequest, outcome.ResponseStatus)
	assert.Empty(t, fx.breaker.failures)
}

func TestDeliverChannelAction(t *testing.T) {
	integration := testIntegration("")
	integration.Actions = []model.Action{{
		Name: "notify",
		Kind: model.ActionCommunication,
		Channel: &model.ChannelConfig{
			Channel:  "email",
			Provider: "email_gmail",
			Settings: map[string]interface{}{"apiKey": "k"},
		},
	}}

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), integration, testEvent(), Options{})

	require.Equal(t, model.StatusSuccess, result.Status)
	assert.Equal(t, 1, fx.channels.sends)

	logRow := fx.store.logByID(result.Outcomes[0].LogID)
	require.NotNil(t, logRow)
	assert.Contains(t, logRow.ResponseBody, "msg-1")
}

func TestDeliverMultiActionPartialSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	integration := testIntegration("")
	integration.Actions = []model.Action{
		{Name: "first", TargetURL: server.URL + "/ok"},
		{Name: "guarded", TargetURL: server.URL + "/ok", Condition: "payload.amount > 100"},
		{Name: "broken", TargetURL: server.URL + "/broken"},
	}

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), integration, testEvent(), Options{})

	require.Equal(t, model.StatusPartialSuccess, result.Status)
	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, model.StatusSuccess, result.Outcomes[0].Status)
	assert.Equal(t, model.StatusSkipped, result.Outcomes[1].Status)
	assert.Equal(t, model.StatusRetrying, result.Outcomes[2].Status)

	// One aggregate circuit record, not one per action.
	assert.Equal(t, 0, fx.breaker.successes)
	assert.Equal(t, []string{string(model.ErrCodeActionFailure)}, fx.breaker.failures)

	// Per-action rows carry their index.
	assert.Equal(t, 2, result.Outcomes[2].ActionIndex)
	logRow := fx.store.logByID(result.Outcomes[1].LogID)
	require.NotNil(t, logRow)
	assert.Equal(t, model.StatusSkipped, logRow.Status)
	assert.Equal(t, "guarded", logRow.ActionName)
}

func TestDeliverMultiActionAllSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	integration := testIntegration("")
	integration.Actions = []model.Action{
		{Name: "a", TargetURL: server.URL},
		{Name: "b", TargetURL: server.URL},
	}

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), integration, testEvent(), Options{})

	require.Equal(t, model.StatusSuccess, result.Status)
	assert.Equal(t, 1, fx.breaker.successes)
	assert.Len(t, result.LogIDs(), 2)
}

func TestDeliverMultiActionRetryTargetsOneAction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	integration := testIntegration("")
	integration.Actions = []model.Action{
		{Name: "a", TargetURL: server.URL},
		{Name: "b", TargetURL: server.URL},
	}

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), integration, testEvent(), Options{
		ActionIndex:   1,
		ExistingLogID: "log-b",
		AttemptCount:  2,
		Trigger:       model.TriggerManual,
	})

	require.Equal(t, model.StatusSuccess, result.Status)
	require.Len(t, result.Outcomes, 1, "an indexed retry runs only the addressed action")
	assert.Equal(t, "b", result.Outcomes[0].ActionName)

	logRow := fx.store.logByID("log-b")
	require.NotNil(t, logRow)
	assert.Equal(t, 2, logRow.AttemptCount)
	assert.Equal(t, model.TriggerManual, logRow.Trigger)
}

func TestDeliverMasksAuthHeadersInLog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	integration := testIntegration(server.URL)
	integration.Auth = &model.AuthConfig{Kind: model.AuthBearer, Token: "super-secret-token-value"}

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), integration, testEvent(), Options{})
	require.Equal(t, model.StatusSuccess, result.Status)

	logRow := fx.store.logByID(result.Outcomes[0].LogID)
	require.NotNil(t, logRow)
	authHeader := logRow.RequestHeaders["Authorization"]
	assert.NotEmpty(t, authHeader)
	assert.NotContains(t, authHeader, "super-secret-token-value")
}

func readAll(t *testing.T, r *http.Request) []byte {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return data
}

func parseInt64(t *testing.T, s string) int64 {
	t.Helper()
	v, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return v
}

func TestDeliverMultiActionClientErrorsLeaveCircuitClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	integration := testIntegration("")
	integration.Actions = []model.Action{
		{Name: "a", TargetURL: server.URL},
		{Name: "b", TargetURL: server.URL},
	}

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), integration, testEvent(), Options{})

	require.Equal(t, model.StatusFailed, result.Status)
	assert.Equal(t, 0, fx.breaker.successes)
	assert.Empty(t, fx.breaker.failures, "client errors never count against the circuit")
}

func TestDeliverMultiActionMixedFailureRecordsCircuit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/client":
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	integration := testIntegration("")
	integration.Actions = []model.Action{
		{Name: "client", TargetURL: server.URL + "/client"},
		{Name: "server", TargetURL: server.URL + "/server"},
	}

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), integration, testEvent(), Options{})

	require.Equal(t, model.StatusFailed, result.Status)
	assert.Equal(t, []string{string(model.ErrCodeActionFailure)}, fx.breaker.failures,
		"one record for the pass once an infrastructure failure is present")
}

func TestDeliverPretransformedSendsPayloadVerbatim(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	integration := testIntegration(server.URL)
	integration.Transformation = &model.TransformationConfig{
		Mode:   model.TransformScript,
		Script: "return {wrapped = payload}",
	}

	event := testEvent()
	event.Payload = map[string]interface{}{"wrapped": map[string]interface{}{"x": float64(1)}}

	fx := newEngineFixture(t)
	result := fx.engine.Deliver(context.Background(), integration, event, Options{
		Trigger:        model.TriggerScheduled,
		Pretransformed: true,
	})

	require.Equal(t, model.StatusSuccess, result.Status)
	assert.Equal(t, event.Payload, gotBody, "a wrapping script must not run again on the stored payload")
}

func TestActionDelayPerIntegrationOverride(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.cfg.MultiActionDelayMs = 250

	integration := testIntegration("")
	assert.Equal(t, 250*time.Millisecond, fx.engine.actionDelay(integration), "nil defers to the default")

	zero := 0
	integration.MultiActionDelayMs = &zero
	assert.Equal(t, time.Duration(0), fx.engine.actionDelay(integration), "an explicit 0 disables the pause")

	forty := 40
	integration.MultiActionDelayMs = &forty
	assert.Equal(t, 40*time.Millisecond, fx.engine.actionDelay(integration))
}
