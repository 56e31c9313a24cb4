// Package worker runs the bounded pool that decouples source adapters from
// event processing: adapters submit quickly, workers drain at their own pace
// and backpressure reaches the source when the buffer fills.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"switchyard.dev/common"
	"switchyard.dev/config"
	"switchyard.dev/events"
	"switchyard.dev/model"
)

// Handler consumes one event; satisfied by *events.Handler.
type Handler interface {
	Handle(ctx context.Context, event *model.Event, sctx events.SourceContext)
}

// Task is one queued unit of work: the event plus the acknowledgement
// callbacks of the source it came from.
type Task struct {
	Event *model.Event
	Ctx   events.SourceContext
}

// Pool fans queued tasks out across a fixed set of workers.
type Pool struct {
	handler Handler
	tasks   chan Task
	workers int
	logger  *common.ContextLogger

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool sizes a pool from the pipeline configuration.
func NewPool(handler Handler, cfg config.PipelineConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Pool{
		handler: handler,
		tasks:   make(chan Task, queueSize),
		workers: workers,
		logger:  common.ServiceLogger("worker"),
	}
}

// Start launches the workers. Idempotent.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(runCtx, i)
	}
	p.logger.WithField("workers", p.workers).Info("worker pool started")
}

// Submit queues one task. It blocks when the buffer is full so sources feel
// backpressure; ctx bounds the wait. A stopped pool nacks immediately so the
// source redelivers after restart.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		nack(task, time.Minute)
		return fmt.Errorf("worker pool is stopped")
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		nack(task, time.Minute)
		return ctx.Err()
	}
}

// SubmitEvent is the source-adapter convenience over Submit.
func (p *Pool) SubmitEvent(ctx context.Context, event *model.Event, sctx events.SourceContext) error {
	return p.Submit(ctx, Task{Event: event, Ctx: sctx})
}

// Stop drains outstanding tasks and waits for workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
	p.logger.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.WithField("worker", id)

	for task := range p.tasks {
		p.handle(ctx, log, task)
	}
	log.Debug("worker drained")
}

// handle isolates one task so a panicking transform or adapter bug costs a
// single event, not the worker.
func (p *Pool) handle(ctx context.Context, log *common.ContextLogger, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprintf("%v", r)).Error("event handler panicked")
			nack(task, time.Minute)
		}
	}()
	p.handler.Handle(ctx, task.Event, task.Ctx)
}

func nack(task Task, delay time.Duration) {
	if task.Ctx.Nack != nil {
		task.Ctx.Nack(delay)
	}
}
