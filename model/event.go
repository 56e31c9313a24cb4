// Package model defines the persisted documents and tagged variants shared by
// the gateway pipeline: events, integration configs, delivery logs, scheduled
// items, DLQ entries and source configurations.
//
// Enum-like types are typed strings whose constant values are the wire form
// stored in the document store. Existing deployments depend on these exact
// strings; renaming a constant is a data migration, not a refactor.
package model

import "time"

// SourceName identifies the adapter family an event arrived through
type SourceName string

const (
	SourceMySQL    SourceName = "mysql"
	SourceKafka    SourceName = "kafka"
	SourceAMQP     SourceName = "amqp"
	SourceHTTPPush SourceName = "http_push"
)

// EventStatus is the lifecycle state of a received event
type EventStatus string

const (
	EventReceived   EventStatus = "RECEIVED"
	EventProcessing EventStatus = "PROCESSING"
	EventDelivered  EventStatus = "DELIVERED"
	EventSkipped    EventStatus = "SKIPPED"
	EventFailed     EventStatus = "FAILED"
	// EventStuck marks events reclaimed by the watchdog after sitting in
	// PROCESSING beyond the stuck threshold. Terminal.
	EventStuck EventStatus = "STUCK"
)

// SkipReason categorizes why an event was skipped without delivery
type SkipReason string

const (
	SkipNoEntityContext    SkipReason = "NO_ENTITY_CONTEXT"
	SkipPayloadTooLarge    SkipReason = "PAYLOAD_TOO_LARGE"
	SkipDuplicate          SkipReason = "DUPLICATE"
	SkipNoWebhook          SkipReason = "NO_WEBHOOK"
	SkipScheduledTimePast  SkipReason = "SCHEDULED_TIME_PASSED"
	SkipTransformedToNull  SkipReason = "TRANSFORMED_NULL"
	SkipConditionNotMet    SkipReason = "CONDITION_NOT_MET"
	SkipIntegrationPaused  SkipReason = "INTEGRATION_INACTIVE"
)

// Event is the normalized unit received from any source adapter. The payload
// stays an opaque decoded JSON tree; typed access happens through dot paths.
type Event struct {
	ID        string                 `json:"eventId"`
	EventType string                 `json:"eventType"`
	TenantID  string                 `json:"orgId"`
	Payload   map[string]interface{} `json:"payload"`
	Source    SourceName             `json:"source"`
	// Metadata carries source specifics: table/offset for polls, topic and
	// partition for streams, remote address for pushes.
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	ReceivedAt time.Time              `json:"receivedAt"`
	Attempt    int                    `json:"attempt,omitempty"`
	IsReplay   bool                   `json:"isReplay,omitempty"`
	// IsTest short-circuits retry classification: test deliveries never retry
	// and never reach the DLQ.
	IsTest bool `json:"isTest,omitempty"`
}

// ProcessStatus summarizes one process-event pass across all matched integrations
type ProcessStatus string

const (
	ProcessCompleted      ProcessStatus = "COMPLETED"
	ProcessPartialSuccess ProcessStatus = "PARTIAL_SUCCESS"
	ProcessFailed         ProcessStatus = "FAILED"
	ProcessSkipped        ProcessStatus = "SKIPPED"
)

// ProcessResult aggregates the per-integration outcomes of one event
type ProcessResult struct {
	Delivered int      `json:"delivered"`
	Scheduled int      `json:"scheduled"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	LogIDs    []string `json:"logIds,omitempty"`
}

// Status collapses the counters: COMPLETED when everything that ran succeeded
// or was scheduled, PARTIAL_SUCCESS on a mix, FAILED when nothing succeeded,
// SKIPPED when no integration attempted a delivery at all.
func (r ProcessResult) Status() ProcessStatus {
	succeeded := r.Delivered + r.Scheduled
	switch {
	case succeeded > 0 && r.Failed == 0:
		return ProcessCompleted
	case succeeded > 0 && r.Failed > 0:
		return ProcessPartialSuccess
	case r.Failed > 0:
		return ProcessFailed
	default:
		return ProcessSkipped
	}
}

// Terminal maps the aggregate onto the event audit terminal: any delivery or
// scheduled item counts as DELIVERED, failures without any success are FAILED,
// everything else is SKIPPED.
func (r ProcessResult) Terminal() EventStatus {
	switch r.Status() {
	case ProcessCompleted, ProcessPartialSuccess:
		return EventDelivered
	case ProcessFailed:
		return EventFailed
	default:
		return EventSkipped
	}
}
