package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchyard.dev/model"
)

type fakeWatchdogStore struct {
	stuck     []model.EventAudit
	findErr   error
	updateErr map[string]error
	audits    map[string]*model.EventAudit
	cutoffs   []time.Time
}

func (f *fakeWatchdogStore) FindStuckAudits(_ context.Context, before time.Time, _ int) ([]model.EventAudit, error) {
	f.cutoffs = append(f.cutoffs, before)
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.stuck, nil
}

func (f *fakeWatchdogStore) UpdateAudit(_ context.Context, eventID string, mutate func(*model.EventAudit)) error {
	if err := f.updateErr[eventID]; err != nil {
		return err
	}
	audit, ok := f.audits[eventID]
	if !ok {
		return nil
	}
	mutate(audit)
	return nil
}

func processingAudit(eventID string) model.EventAudit {
	return model.EventAudit{
		EventID:  eventID,
		TenantID: "org-1",
		Status:   model.EventProcessing,
	}
}

func TestWatchdogPromotesOverdueEvents(t *testing.T) {
	store := &fakeWatchdogStore{
		stuck: []model.EventAudit{processingAudit("evt-1"), processingAudit("evt-2")},
		audits: map[string]*model.EventAudit{
			"evt-1": {EventID: "evt-1", Status: model.EventProcessing},
			"evt-2": {EventID: "evt-2", Status: model.EventProcessing},
		},
	}
	w := NewWatchdog(store, 5*time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	promoted := w.RunOnce(context.Background())

	assert.Equal(t, 2, promoted)
	assert.Equal(t, model.EventStuck, store.audits["evt-1"].Status)
	assert.Equal(t, model.EventStuck, store.audits["evt-2"].Status)
	assert.Equal(t, "processing exceeded stuck threshold", store.audits["evt-1"].Error)
	require.Len(t, store.cutoffs, 1)
	assert.Equal(t, now.Add(-5*time.Minute), store.cutoffs[0])
}

func TestWatchdogLeavesCompletedEventsAlone(t *testing.T) {
	// The event finished between the query and the CAS write.
	store := &fakeWatchdogStore{
		stuck: []model.EventAudit{processingAudit("evt-1")},
		audits: map[string]*model.EventAudit{
			"evt-1": {EventID: "evt-1", Status: model.EventDelivered},
		},
	}
	w := NewWatchdog(store, 5*time.Minute)

	w.RunOnce(context.Background())

	assert.Equal(t, model.EventDelivered, store.audits["evt-1"].Status)
	assert.Empty(t, store.audits["evt-1"].Error)
}

func TestWatchdogSurvivesQueryError(t *testing.T) {
	store := &fakeWatchdogStore{findErr: fmt.Errorf("store down")}
	w := NewWatchdog(store, 5*time.Minute)

	assert.Equal(t, 0, w.RunOnce(context.Background()))
}

func TestWatchdogContinuesPastUpdateFailure(t *testing.T) {
	store := &fakeWatchdogStore{
		stuck: []model.EventAudit{processingAudit("evt-1"), processingAudit("evt-2")},
		audits: map[string]*model.EventAudit{
			"evt-2": {EventID: "evt-2", Status: model.EventProcessing},
		},
		updateErr: map[string]error{"evt-1": fmt.Errorf("conflict")},
	}
	w := NewWatchdog(store, time.Minute)

	promoted := w.RunOnce(context.Background())

	assert.Equal(t, 1, promoted)
	assert.Equal(t, model.EventStuck, store.audits["evt-2"].Status)
}

func TestWatchdogDefaultThreshold(t *testing.T) {
	w := NewWatchdog(&fakeWatchdogStore{}, 0)
	assert.Equal(t, 5*time.Minute, w.threshold)
}
