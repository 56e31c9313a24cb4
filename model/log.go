package model

import "time"

// DeliveryStatus is the terminal (or retryable) state of one delivery log
type DeliveryStatus string

const (
	StatusSuccess   DeliveryStatus = "SUCCESS"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusRetrying  DeliveryStatus = "RETRYING"
	StatusAbandoned DeliveryStatus = "ABANDONED"
	StatusSkipped   DeliveryStatus = "SKIPPED"
	// StatusPartialSuccess only appears on multi-action aggregates, never on
	// a per-action row.
	StatusPartialSuccess DeliveryStatus = "PARTIAL_SUCCESS"
)

// IsTerminal reports whether no further attempt will occur for this status
func (s DeliveryStatus) IsTerminal() bool {
	return s != StatusRetrying
}

// TriggerType records what initiated a delivery attempt
type TriggerType string

const (
	TriggerEvent     TriggerType = "EVENT"
	TriggerScheduled TriggerType = "SCHEDULED"
	TriggerReplay    TriggerType = "REPLAY"
	TriggerManual    TriggerType = "MANUAL"
	TriggerDLQRetry  TriggerType = "DLQ_RETRY"
)

// SigningAudit preserves the signing inputs of an attempt so a receiver
// dispute can be settled from the log alone.
type SigningAudit struct {
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// DeliveryLog is one row per delivery attempt. Retries reuse the row id so a
// delivery's history coalesces onto a single document; attempt count and
// status advance in place.
type DeliveryLog struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`

	TraceID       string      `json:"traceId"`
	IntegrationID string      `json:"integrationId"`
	TenantID      string      `json:"orgId"`
	EventID       string      `json:"eventId,omitempty"`
	EventType     string      `json:"eventType,omitempty"`
	Direction     Direction   `json:"direction,omitempty"`
	Trigger       TriggerType `json:"triggerType"`

	// Multi-action bookkeeping; zero values on single-action rows.
	ActionName  string `json:"actionName,omitempty"`
	ActionIndex int    `json:"actionIndex,omitempty"`

	Status         DeliveryStatus `json:"status"`
	ResponseStatus int            `json:"responseStatus,omitempty"`
	ResponseTimeMs int64          `json:"responseTimeMs,omitempty"`
	AttemptCount   int            `json:"attemptCount"`

	TargetURL          string                 `json:"targetUrl,omitempty"`
	OriginalPayload    map[string]interface{} `json:"originalPayload,omitempty"`
	TransformedPayload map[string]interface{} `json:"transformedPayload,omitempty"`
	RequestHeaders     map[string]string      `json:"requestHeaders,omitempty"`
	ResponseBody       string                 `json:"responseBody,omitempty"`

	ErrorMessage string    `json:"errorMessage,omitempty"`
	ErrorCode    ErrorCode `json:"errorCode,omitempty"`

	Signing *SigningAudit `json:"signing,omitempty"`

	// NextRetryAt is set while Status is RETRYING; the retry processor picks
	// up rows whose due time has passed.
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
	MaxRetries  int        `json:"maxRetries,omitempty"`

	LastAttemptAt time.Time `json:"lastAttemptAt,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}
