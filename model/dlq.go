package model

import "time"

// DLQStatus mirrors the store's lowercase wire form
type DLQStatus string

const (
	DLQPending   DLQStatus = "pending"
	DLQRetrying  DLQStatus = "retrying"
	DLQResolved  DLQStatus = "resolved"
	DLQAbandoned DLQStatus = "abandoned"
)

// DLQError captures the failure that sent a delivery to the dead-letter queue
type DLQError struct {
	Message    string    `json:"message"`
	Code       ErrorCode `json:"code"`
	StatusCode int       `json:"statusCode,omitempty"`
}

// DLQEntry is a final-failure record, retried on a fixed cadence until it
// resolves or exhausts its retries. It carries enough of the original attempt
// to reconstruct the delivery without the source event.
type DLQEntry struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`

	TraceID       string    `json:"traceId"`
	IntegrationID string    `json:"integrationId"`
	TenantID      string    `json:"orgId"`
	Direction     Direction `json:"direction,omitempty"`
	LogID         string    `json:"logId,omitempty"`
	EventID       string    `json:"eventId,omitempty"`
	EventType     string    `json:"eventType,omitempty"`
	ActionIndex   int       `json:"actionIndex,omitempty"`
	// Trigger records what started the failed delivery. Scheduled entries
	// carry a payload that was already transformed at schedule time.
	Trigger TriggerType `json:"trigger,omitempty"`

	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   DLQError               `json:"error"`

	RetryCount  int        `json:"retryCount"`
	MaxRetries  int        `json:"maxRetries"`
	NextRetryAt time.Time  `json:"nextRetryAt"`
	Status      DLQStatus  `json:"status"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
