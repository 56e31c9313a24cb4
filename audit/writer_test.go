package audit

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchyard.dev/model"
)

type memAuditStore struct {
	mu      sync.Mutex
	rows    map[string]*model.EventAudit
	inserts int
}

func newMemAuditStore() *memAuditStore {
	return &memAuditStore{rows: map[string]*model.EventAudit{}}
}

func (s *memAuditStore) InsertAudit(_ context.Context, audit *model.EventAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *audit
	s.rows[audit.EventID] = &clone
	s.inserts++
	return nil
}

func (s *memAuditStore) UpdateAudit(_ context.Context, eventID string, mutate func(*model.EventAudit)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[eventID]
	if !ok {
		row = &model.EventAudit{EventID: eventID}
		s.rows[eventID] = row
	}
	mutate(row)
	return nil
}

func (s *memAuditStore) row(eventID string) *model.EventAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[eventID]; ok {
		clone := *row
		return &clone
	}
	return nil
}

func testAuditEvent(id string) *model.Event {
	return &model.Event{
		ID:         id,
		EventType:  "order.created",
		TenantID:   "org-1",
		Source:     model.SourceKafka,
		Payload:    map[string]interface{}{"orderId": "o-1"},
		ReceivedAt: time.Now(),
	}
}

func TestWriterRecordAndComplete(t *testing.T) {
	store := newMemAuditStore()
	writer := NewWriter(store, 16)

	writer.Record(testAuditEvent("evt-1"), "fp-1", model.EventProcessing)
	writer.Complete("evt-1", model.EventDelivered, &model.ProcessResult{Delivered: 2}, "")
	writer.Close()

	row := store.row("evt-1")
	require.NotNil(t, row)
	assert.Equal(t, model.EventDelivered, row.Status)
	assert.Equal(t, "fp-1", row.Fingerprint)
	require.NotNil(t, row.Result)
	assert.Equal(t, 2, row.Result.Delivered)
	assert.NotNil(t, row.ProcessedAt)
	assert.NotEmpty(t, row.PayloadSummary)
	assert.NotZero(t, row.PayloadSize)
}

func TestWriterRecordSkip(t *testing.T) {
	store := newMemAuditStore()
	writer := NewWriter(store, 16)

	writer.RecordSkip(testAuditEvent("evt-2"), "fp-2", model.SkipDuplicate)
	writer.Close()

	row := store.row("evt-2")
	require.NotNil(t, row)
	assert.Equal(t, model.EventSkipped, row.Status)
	assert.Equal(t, model.SkipDuplicate, row.SkipReason)
}

func TestWriterPayloadCapture(t *testing.T) {
	store := newMemAuditStore()
	writer := NewWriter(store, 16)
	writer.CapturePayloads = true

	writer.Record(testAuditEvent("evt-5"), "fp-5", model.EventReceived)
	writer.Close()

	row := store.row("evt-5")
	require.NotNil(t, row)
	assert.Equal(t, map[string]interface{}{"orderId": "o-1"}, row.Payload)
}

func TestWriterLargePayloadKeepsSummaryOnly(t *testing.T) {
	store := newMemAuditStore()
	writer := NewWriter(store, 16)
	writer.CapturePayloads = true

	event := testAuditEvent("evt-3")
	event.Payload = map[string]interface{}{"blob": strings.Repeat("x", payloadSnapshotLimit+1)}
	writer.Record(event, "fp-3", model.EventReceived)
	writer.Close()

	row := store.row("evt-3")
	require.NotNil(t, row)
	assert.Nil(t, row.Payload, "oversized payloads are not snapshotted")
	assert.Contains(t, row.PayloadSummary, "...")
	assert.Greater(t, row.PayloadSize, payloadSnapshotLimit)
}

func TestWriterDropsOnFullQueue(t *testing.T) {
	store := newMemAuditStore()
	writer := NewWriter(store, 1)

	// Saturate well past capacity; the single drain goroutine cannot keep
	// up with a tight enqueue loop, so at least one row must drop.
	for i := 0; i < 500; i++ {
		writer.Record(testAuditEvent("evt-n"), "fp", model.EventReceived)
	}
	writer.Close()

	assert.Positive(t, writer.Dropped())
}

func TestWriterEnqueueAfterCloseIsNoop(t *testing.T) {
	store := newMemAuditStore()
	writer := NewWriter(store, 16)
	writer.Close()

	writer.Record(testAuditEvent("evt-late"), "fp", model.EventReceived)
	assert.Nil(t, store.row("evt-late"))
}
