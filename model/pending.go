package model

import "time"

// PendingStatus is the claim state of a durable intake row
type PendingStatus string

const (
	PendingQueued     PendingStatus = "PENDING"
	PendingProcessing PendingStatus = "PROCESSING"
)

// PendingDelivery is the durable intake row used by sources that cannot
// redeliver on their own: push events are persisted before the 202 ack, and
// replays enter here too. Workers claim rows atomically (PENDING →
// PROCESSING); a nack moves NotBefore forward and returns the row to PENDING,
// success deletes it.
type PendingDelivery struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`

	Event  Event         `json:"event"`
	Status PendingStatus `json:"status"`

	NotBefore time.Time  `json:"notBefore"`
	Attempts  int        `json:"attempts"`
	ClaimedAt *time.Time `json:"claimedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
