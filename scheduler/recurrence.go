package scheduler

import (
	"time"

	"switchyard.dev/model"
)

// Occurrence is one computed step of a recurring schedule.
type Occurrence struct {
	ScheduledFor time.Time
	Recurrence   *model.Recurrence
}

// NextOccurrence computes the successor of the occurrence that ran at
// current. The second return is false when the recurrence is exhausted by
// its count or until bound, or when the interval is unusable.
func NextOccurrence(current time.Time, rec *model.Recurrence) (Occurrence, bool) {
	if rec == nil || rec.IntervalMs <= 0 {
		return Occurrence{}, false
	}

	next := current.Add(time.Duration(rec.IntervalMs) * time.Millisecond)
	if rec.Exhausted(next) {
		return Occurrence{}, false
	}

	successor := *rec
	successor.OccurrenceNumber++
	return Occurrence{ScheduledFor: next, Recurrence: &successor}, true
}
