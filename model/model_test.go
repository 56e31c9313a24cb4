package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcessResult_Status(t *testing.T) {
	tests := []struct {
		name     string
		result   ProcessResult
		status   ProcessStatus
		terminal EventStatus
	}{
		{
			name:     "AllDelivered",
			result:   ProcessResult{Delivered: 2},
			status:   ProcessCompleted,
			terminal: EventDelivered,
		},
		{
			name:     "AllScheduled",
			result:   ProcessResult{Scheduled: 3},
			status:   ProcessCompleted,
			terminal: EventDelivered,
		},
		{
			name:     "MixedSuccessAndFailure",
			result:   ProcessResult{Delivered: 1, Failed: 1},
			status:   ProcessPartialSuccess,
			terminal: EventDelivered,
		},
		{
			name:     "ScheduledWithFailure",
			result:   ProcessResult{Scheduled: 1, Failed: 2},
			status:   ProcessPartialSuccess,
			terminal: EventDelivered,
		},
		{
			name:     "OnlyFailures",
			result:   ProcessResult{Failed: 2},
			status:   ProcessFailed,
			terminal: EventFailed,
		},
		{
			name:     "OnlySkips",
			result:   ProcessResult{Skipped: 4},
			status:   ProcessSkipped,
			terminal: EventSkipped,
		},
		{
			name:     "Empty",
			result:   ProcessResult{},
			status:   ProcessSkipped,
			terminal: EventSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.result.Status())
			assert.Equal(t, tt.terminal, tt.result.Terminal())
		})
	}
}

func TestRecurrence_Exhausted(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name       string
		recurrence Recurrence
		nextAt     time.Time
		exhausted  bool
	}{
		{
			name:       "CountReached",
			recurrence: Recurrence{Count: 3, OccurrenceNumber: 3},
			nextAt:     now,
			exhausted:  true,
		},
		{
			name:       "CountRemaining",
			recurrence: Recurrence{Count: 3, OccurrenceNumber: 2},
			nextAt:     now,
			exhausted:  false,
		},
		{
			name:       "UntilPassed",
			recurrence: Recurrence{Until: &past, OccurrenceNumber: 1},
			nextAt:     now,
			exhausted:  true,
		},
		{
			name:       "UntilAhead",
			recurrence: Recurrence{Until: &future, OccurrenceNumber: 1},
			nextAt:     now,
			exhausted:  false,
		},
		{
			name:       "Unbounded",
			recurrence: Recurrence{OccurrenceNumber: 100},
			nextAt:     now,
			exhausted:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.exhausted, tt.recurrence.Exhausted(tt.nextAt))
		})
	}
}

func TestIntegrationConfig_ResolveAction(t *testing.T) {
	integration := &IntegrationConfig{
		TargetURL:  "https://hooks.example.com/main",
		HTTPMethod: "PUT",
		Auth:       &AuthConfig{Kind: AuthBearer, Token: "t"},
		Transformation: &TransformationConfig{
			Mode: TransformSimple,
		},
	}

	t.Run("EmptyActionInheritsEverything", func(t *testing.T) {
		resolved := integration.ResolveAction(Action{Name: "fallback"})
		assert.Equal(t, ActionHTTP, resolved.Kind)
		assert.Equal(t, "https://hooks.example.com/main", resolved.TargetURL)
		assert.Equal(t, "PUT", resolved.HTTPMethod)
		assert.Equal(t, integration.Auth, resolved.Auth)
		assert.Equal(t, integration.Transformation, resolved.Transformation)
	})

	t.Run("ActionOverridesKeepTheirValues", func(t *testing.T) {
		own := &AuthConfig{Kind: AuthNone}
		resolved := integration.ResolveAction(Action{
			Name:      "own",
			TargetURL: "https://other.example.com",
			Auth:      own,
		})
		assert.Equal(t, "https://other.example.com", resolved.TargetURL)
		assert.Equal(t, own, resolved.Auth)
		assert.Equal(t, "PUT", resolved.HTTPMethod, "method still inherited")
	})
}

func TestIntegrationConfig_Defaults(t *testing.T) {
	c := &IntegrationConfig{}
	assert.Equal(t, 10*time.Second, c.EffectiveTimeout())
	assert.Equal(t, "POST", c.EffectiveMethod())
	assert.False(t, c.IsMultiAction())

	c.TimeoutMs = 2500
	c.HTTPMethod = "PATCH"
	c.Actions = []Action{{Name: "a"}}
	assert.Equal(t, 2500*time.Millisecond, c.EffectiveTimeout())
	assert.Equal(t, "PATCH", c.EffectiveMethod())
	assert.True(t, c.IsMultiAction())
}

func TestIntegrationConfig_MatchesEventType(t *testing.T) {
	c := &IntegrationConfig{EventTypes: []string{"order.created", "order.updated"}}
	assert.True(t, c.MatchesEventType("order.created"))
	assert.False(t, c.MatchesEventType("order.deleted"))
}

func TestErrorCode_Retryable(t *testing.T) {
	retryable := []ErrorCode{ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout, ErrCodeNetworkError, ErrCodeAuthExpired}
	for _, code := range retryable {
		assert.True(t, code.Retryable(), string(code))
	}

	final := []ErrorCode{ErrCodeInvalidURL, ErrCodeTransformation, ErrCodeClientError, ErrCodeCommunication, ErrCodeActionNotFound, ErrCodeWorkerError}
	for _, code := range final {
		assert.False(t, code.Retryable(), string(code))
	}
}

func TestDeliveryStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusAbandoned.IsTerminal())
	assert.True(t, StatusSkipped.IsTerminal())
	assert.False(t, StatusRetrying.IsTerminal())
}
