package model

import "time"

// ScheduleStatus is the lifecycle of a scheduled delivery item
type ScheduleStatus string

const (
	SchedulePending    ScheduleStatus = "PENDING"
	ScheduleProcessing ScheduleStatus = "PROCESSING"
	ScheduleSent       ScheduleStatus = "SENT"
	ScheduleFailed     ScheduleStatus = "FAILED"
	ScheduleCancelled  ScheduleStatus = "CANCELLED"
)

// Recurrence describes a repeating schedule. OccurrenceNumber counts from 1;
// a successor is spawned on SENT until Count is reached or Until passes.
type Recurrence struct {
	IntervalMs       int64      `json:"interval"`
	Until            *time.Time `json:"until,omitempty"`
	Count            int        `json:"count,omitempty"`
	OccurrenceNumber int        `json:"occurrenceNumber"`
}

// Exhausted reports whether the occurrence that just completed was the last
func (r *Recurrence) Exhausted(nextAt time.Time) bool {
	if r.Count > 0 && r.OccurrenceNumber >= r.Count {
		return true
	}
	if r.Until != nil && nextAt.After(*r.Until) {
		return true
	}
	return false
}

// CancellationMatch keys a pending item so later cancellation events can
// locate and void it without knowing the item id.
type CancellationMatch struct {
	EventType string `json:"eventType,omitempty"`
	MatchKey  string `json:"matchKey,omitempty"`
	MatchVal  string `json:"matchValue,omitempty"`
}

// ScheduledIntegration is a persisted future delivery claimed atomically by
// the scheduler worker (PENDING → PROCESSING transitions via CAS).
type ScheduledIntegration struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`

	IntegrationID string `json:"integrationId"`
	TenantID      string `json:"orgId"`
	EventID       string `json:"eventId,omitempty"`
	EventType     string `json:"eventType,omitempty"`

	ScheduledFor time.Time              `json:"scheduledFor"`
	Payload      map[string]interface{} `json:"payload"`
	TargetURL    string                 `json:"targetUrl,omitempty"`

	Status  ScheduleStatus `json:"status"`
	Attempt int            `json:"attempt,omitempty"`

	Recurrence   *Recurrence        `json:"recurrence,omitempty"`
	Cancellation *CancellationMatch `json:"cancellation,omitempty"`

	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	FailReason  string     `json:"failReason,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
