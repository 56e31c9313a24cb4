package sources

import (
	"context"
	"sync"
	"time"

	"switchyard.dev/common"
	"switchyard.dev/events"
	"switchyard.dev/model"
)

// PendingStore is the durable intake queue backing push sources and replays.
// Satisfied by *store.Store.
type PendingStore interface {
	ClaimPendingDeliveries(ctx context.Context, now time.Time, limit int) ([]model.PendingDelivery, error)
	CompletePending(ctx context.Context, id, rev string) error
	NackPending(ctx context.Context, id string, delay time.Duration) error
}

// PendingWorker drains durable pending rows into the pipeline. Push events
// and replays land here first; the worker gives them the same ack semantics
// a broker source has, with the document store as the broker.
type PendingWorker struct {
	store  PendingStore
	sink   EventSink
	logger *common.ContextLogger

	interval  time.Duration
	batchSize int

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
	now     func() time.Time
}

// NewPendingWorker polls the pending collection on interval (default 5s),
// claiming up to batchSize rows (default 50) per pass.
func NewPendingWorker(store PendingStore, sink EventSink, interval time.Duration, batchSize int) *PendingWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &PendingWorker{
		store:     store,
		sink:      sink,
		logger:    common.ServiceLogger("sources").WithField("worker", "pending"),
		interval:  interval,
		batchSize: batchSize,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start launches the drain loop.
func (w *PendingWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.loop(ctx)
	w.logger.Info("pending worker started")
}

// Stop halts the loop and waits for the current pass.
func (w *PendingWorker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	close(w.stop)
	w.mu.Unlock()
	<-w.done
	w.logger.Info("pending worker stopped")
}

func (w *PendingWorker) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drainOnce(ctx)
		}
	}
}

// drainOnce claims due rows and submits each. Completion deletes the row;
// a pipeline nack pushes its NotBefore forward and releases the claim.
func (w *PendingWorker) drainOnce(ctx context.Context) {
	claimed, err := w.store.ClaimPendingDeliveries(ctx, w.now(), w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pending claim failed")
		return
	}

	for i := range claimed {
		row := claimed[i]
		event := row.Event
		sctx := events.SourceContext{
			Ack: func() {
				if err := w.store.CompletePending(ctx, row.ID, row.Rev); err != nil {
					w.logger.WithError(err).WithField("pending_id", row.ID).Warn("pending completion failed")
				}
			},
			Nack: func(delay time.Duration) {
				if err := w.store.NackPending(ctx, row.ID, delay); err != nil {
					w.logger.WithError(err).WithField("pending_id", row.ID).Warn("pending nack failed")
				}
			},
		}
		if err := w.sink.SubmitEvent(ctx, &event, sctx); err != nil {
			return
		}
	}
}
