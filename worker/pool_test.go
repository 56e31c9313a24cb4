package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchyard.dev/config"
	"switchyard.dev/events"
	"switchyard.dev/model"
)

type countingHandler struct {
	mu      sync.Mutex
	handled []string
	panicOn string
}

func (h *countingHandler) Handle(_ context.Context, event *model.Event, sctx events.SourceContext) {
	if event.ID == h.panicOn {
		panic("handler bug")
	}
	h.mu.Lock()
	h.handled = append(h.handled, event.ID)
	h.mu.Unlock()
	if sctx.Ack != nil {
		sctx.Ack()
	}
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func TestPoolProcessesSubmittedTasks(t *testing.T) {
	handler := &countingHandler{}
	pool := NewPool(handler, config.PipelineConfig{Workers: 4, QueueSize: 16})
	pool.Start(context.Background())

	var acks sync.WaitGroup
	for i := 0; i < 20; i++ {
		acks.Add(1)
		task := Task{
			Event: &model.Event{ID: "evt", TenantID: "org-1", EventType: "t"},
			Ctx:   events.SourceContext{Ack: func() { acks.Done() }},
		}
		require.NoError(t, pool.Submit(context.Background(), task))
	}
	acks.Wait()
	pool.Stop()

	assert.Equal(t, 20, handler.count())
}

func TestPoolStopDrainsQueue(t *testing.T) {
	handler := &countingHandler{}
	pool := NewPool(handler, config.PipelineConfig{Workers: 1, QueueSize: 64})
	pool.Start(context.Background())

	for i := 0; i < 30; i++ {
		require.NoError(t, pool.Submit(context.Background(), Task{Event: &model.Event{ID: "evt"}}))
	}
	pool.Stop()

	assert.Equal(t, 30, handler.count(), "stop waits for queued tasks")
}

func TestPoolSubmitAfterStop(t *testing.T) {
	handler := &countingHandler{}
	pool := NewPool(handler, config.PipelineConfig{Workers: 1})
	pool.Start(context.Background())
	pool.Stop()

	nacked := false
	err := pool.Submit(context.Background(), Task{
		Event: &model.Event{ID: "late"},
		Ctx:   events.SourceContext{Nack: func(time.Duration) { nacked = true }},
	})
	require.Error(t, err)
	assert.True(t, nacked)
}

func TestPoolRecoversFromHandlerPanic(t *testing.T) {
	handler := &countingHandler{panicOn: "bad"}
	pool := NewPool(handler, config.PipelineConfig{Workers: 1, QueueSize: 8})
	pool.Start(context.Background())

	var nackDelay time.Duration
	var nackOnce sync.WaitGroup
	nackOnce.Add(1)
	require.NoError(t, pool.Submit(context.Background(), Task{
		Event: &model.Event{ID: "bad"},
		Ctx:   events.SourceContext{Nack: func(d time.Duration) { nackDelay = d; nackOnce.Done() }},
	}))
	require.NoError(t, pool.Submit(context.Background(), Task{Event: &model.Event{ID: "good"}}))

	nackOnce.Wait()
	pool.Stop()

	assert.Equal(t, 1, handler.count(), "the pool survives a panicking task")
	assert.Equal(t, time.Minute, nackDelay)
}
