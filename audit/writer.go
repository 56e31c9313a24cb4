// Package audit writes the per-event trail asynchronously. Audit rows are
// observability, not state: the pipeline never waits on them and a full
// queue drops the row with a warning instead of applying backpressure.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"switchyard.dev/common"
	"switchyard.dev/model"
)

// Store is the slice of the document store the writer needs. Satisfied by
// *store.Store.
type Store interface {
	InsertAudit(ctx context.Context, audit *model.EventAudit) error
	UpdateAudit(ctx context.Context, eventID string, mutate func(*model.EventAudit)) error
}

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 5 * time.Second
	// payloadSnapshotLimit caps full payload capture on the audit row.
	payloadSnapshotLimit = 50 * 1024
)

type auditOp struct {
	insert *model.EventAudit
	update func(*model.EventAudit)
	// eventID keys update ops.
	eventID string
}

// Writer drains a bounded queue of audit operations into the store on a
// single background goroutine so writes keep event order per run.
type Writer struct {
	store  Store
	queue  chan auditOp
	logger *common.ContextLogger

	// CapturePayloads stores full payloads on audit rows when they fit the
	// snapshot limit. Summaries and sizes are recorded regardless.
	CapturePayloads bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}

	mu      sync.Mutex
	dropped int64
}

// NewWriter starts a writer with the given queue capacity; zero or negative
// uses the default.
func NewWriter(store Store, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	w := &Writer{
		store:   store,
		queue:   make(chan auditOp, queueSize),
		logger:  common.ServiceLogger("audit"),
		stopped: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

// Record enqueues a new audit row for event. Never blocks.
func (w *Writer) Record(event *model.Event, fingerprint string, status model.EventStatus) {
	row := &model.EventAudit{
		EventID:     event.ID,
		EventType:   event.EventType,
		TenantID:    event.TenantID,
		Source:      event.Source,
		Fingerprint: fingerprint,
		Status:      status,
		ReceivedAt:  event.ReceivedAt,
	}
	w.attachPayload(row, event.Payload)
	w.enqueue(auditOp{insert: row})
}

// RecordSkip enqueues a terminal SKIPPED row.
func (w *Writer) RecordSkip(event *model.Event, fingerprint string, reason model.SkipReason) {
	row := &model.EventAudit{
		EventID:     event.ID,
		EventType:   event.EventType,
		TenantID:    event.TenantID,
		Source:      event.Source,
		Fingerprint: fingerprint,
		Status:      model.EventSkipped,
		SkipReason:  reason,
		ReceivedAt:  event.ReceivedAt,
	}
	w.attachPayload(row, event.Payload)
	w.enqueue(auditOp{insert: row})
}

// Update enqueues a mutation of the row keyed by eventID. Never blocks.
func (w *Writer) Update(eventID string, mutate func(*model.EventAudit)) {
	w.enqueue(auditOp{eventID: eventID, update: mutate})
}

// Complete marks the event's row with its final status and result.
func (w *Writer) Complete(eventID string, status model.EventStatus, result *model.ProcessResult, errMsg string) {
	w.Update(eventID, func(row *model.EventAudit) {
		now := time.Now()
		row.Status = status
		row.Result = result
		row.Error = errMsg
		row.ProcessedAt = &now
	})
}

// Dropped reports how many operations were discarded on a full queue.
func (w *Writer) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close stops accepting operations, drains the queue and waits for the
// background writer to finish. The queue channel itself is never closed so
// a racing enqueue can never panic.
func (w *Writer) Close() {
	w.stopOnce.Do(func() {
		close(w.stopped)
	})
	w.wg.Wait()
}

func (w *Writer) enqueue(op auditOp) {
	select {
	case <-w.stopped:
		return
	default:
	}
	select {
	case w.queue <- op:
	default:
		w.mu.Lock()
		w.dropped++
		dropped := w.dropped
		w.mu.Unlock()
		w.logger.WithField("dropped_total", dropped).Warn("audit queue full, row dropped")
	}
}

func (w *Writer) drain() {
	defer w.wg.Done()
	for {
		select {
		case op := <-w.queue:
			w.write(op)
		case <-w.stopped:
			for {
				select {
				case op := <-w.queue:
					w.write(op)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(op auditOp) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	var err error
	if op.insert != nil {
		err = w.store.InsertAudit(ctx, op.insert)
	} else if op.update != nil {
		err = w.store.UpdateAudit(ctx, op.eventID, op.update)
	}
	if err != nil {
		w.logger.WithError(err).Warn("audit write failed")
	}
}

// attachPayload stores the full payload only when capture is enabled and
// the body fits the snapshot limit; a one-line summary plus the serialized
// size is recorded regardless.
func (w *Writer) attachPayload(row *model.EventAudit, payload map[string]interface{}) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		row.PayloadSummary = "payload not serializable"
		return
	}
	row.PayloadSize = len(encoded)
	if w.CapturePayloads && len(encoded) <= payloadSnapshotLimit {
		row.Payload = payload
	}
	row.PayloadSummary = summarize(encoded)
}

func summarize(encoded []byte) string {
	const limit = 200
	if len(encoded) <= limit {
		return string(encoded)
	}
	return fmt.Sprintf("%s... (%s)", encoded[:limit], humanize.Bytes(uint64(len(encoded))))
}
