package model

import "time"

// BreakerState is the circuit position for an integration
type BreakerState string

const (
	CircuitClosed   BreakerState = "CLOSED"
	CircuitOpen     BreakerState = "OPEN"
	CircuitHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitState is the durable per-integration breaker document. Transitions
// happen through compare-and-swap on the revision so concurrent workers agree
// on a single state; losers of a CAS race re-read and retry.
type CircuitState struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`

	IntegrationID string       `json:"integrationId"`
	State         BreakerState `json:"state"`
	Failures      int          `json:"consecutiveFailures"`
	OpenedAt      *time.Time   `json:"openedAt,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	CooldownUntil *time.Time   `json:"cooldownUntil,omitempty"`
	// ProbeInFlight serializes HALF_OPEN: one winner sends the probe, other
	// workers treat the circuit as still open.
	ProbeInFlight bool      `json:"probeInFlight,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// CircuitCheck is the read-side answer handed to the delivery engine
type CircuitCheck struct {
	IsOpen bool         `json:"isOpen"`
	State  BreakerState `json:"state"`
	Reason string       `json:"reason,omitempty"`
	// Probe is true when the caller won the single HALF_OPEN probe slot and
	// must report the outcome.
	Probe bool `json:"probe,omitempty"`
}
