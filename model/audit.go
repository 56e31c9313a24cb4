package model

import "time"

// EventAudit is the per-event trail written by the handler. Writes are
// fire-and-forget through a bounded queue; a dropped audit row never blocks
// or fails a delivery.
type EventAudit struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`

	EventID     string      `json:"eventId"`
	EventType   string      `json:"eventType"`
	TenantID    string      `json:"orgId,omitempty"`
	Source      SourceName  `json:"source"`
	Fingerprint string      `json:"fingerprint"`
	Status      EventStatus `json:"status"`
	SkipReason  SkipReason  `json:"skipReason,omitempty"`
	Error       string      `json:"error,omitempty"`

	// PayloadSummary holds a short digest line; Payload the full body, only
	// when under the configured snapshot limit.
	PayloadSummary string                 `json:"payloadSummary,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	PayloadSize    int                    `json:"payloadSize,omitempty"`

	Result *ProcessResult `json:"result,omitempty"`

	ReceivedAt  time.Time  `json:"receivedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt,omitempty"`
}

// ProcessedEvent is the durable dedup record consulted alongside the
// in-memory cache; presence within the window marks an event duplicate.
type ProcessedEvent struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`

	Fingerprint string    `json:"fingerprint"`
	EventID     string    `json:"eventId"`
	TenantID    string    `json:"orgId,omitempty"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// SourceCheckpoint records the last position seen per source for gap
// detection; one document per (tenant, source).
type SourceCheckpoint struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`

	TenantID  string     `json:"orgId"`
	Source    SourceName `json:"source"`
	Position  string     `json:"position"`
	EventID   string     `json:"eventId,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
