package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"switchyard.dev/common"
	"switchyard.dev/events"
	"switchyard.dev/model"
)

// StreamAdapter consumes a topic with consumer-group semantics. Offsets are
// committed only after the pipeline acks, so an unacked event is redelivered
// after a rebalance or restart.
type StreamAdapter struct {
	tenantID string
	cfg      model.StreamConfig
	sink     EventSink
	logger   *common.ContextLogger

	mu      sync.Mutex
	reader  *kafka.Reader
	stop    context.CancelFunc
	done    chan struct{}
	started bool
}

// NewStreamAdapter validates the minimal broker settings.
func NewStreamAdapter(tenantID string, cfg model.StreamConfig, sink EventSink) (*StreamAdapter, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("stream config requires brokers and a topic")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "switchyard-" + tenantID
	}
	return &StreamAdapter{
		tenantID: tenantID,
		cfg:      cfg,
		sink:     sink,
		logger: common.ServiceLogger("sources").WithFields(map[string]interface{}{
			"adapter": "kafka",
			"tenant":  tenantID,
			"topic":   cfg.Topic,
		}),
		done: make(chan struct{}),
	}, nil
}

// Name implements Adapter.
func (a *StreamAdapter) Name() model.SourceName { return model.SourceKafka }

// Start opens the group reader and launches the consume loop.
func (a *StreamAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	startOffset := kafka.LastOffset
	if a.cfg.FromBeginning {
		startOffset = kafka.FirstOffset
	}
	readerCfg := kafka.ReaderConfig{
		Brokers:     a.cfg.Brokers,
		Topic:       a.cfg.Topic,
		GroupID:     a.cfg.GroupID,
		StartOffset: startOffset,
		MinBytes:    1,
		MaxBytes:    10 * 1024 * 1024,
	}
	if a.cfg.SessionTimeoutMs > 0 {
		readerCfg.SessionTimeout = time.Duration(a.cfg.SessionTimeoutMs) * time.Millisecond
	}
	if a.cfg.HeartbeatMs > 0 {
		readerCfg.HeartbeatInterval = time.Duration(a.cfg.HeartbeatMs) * time.Millisecond
	}
	a.reader = kafka.NewReader(readerCfg)

	runCtx, cancel := context.WithCancel(ctx)
	a.stop = cancel
	a.started = true

	go a.loop(runCtx)
	a.logger.Info("stream consumer started")
	return nil
}

// Stop cancels the consume loop and closes the reader.
func (a *StreamAdapter) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	a.stop()
	reader := a.reader
	a.mu.Unlock()

	<-a.done
	if reader != nil {
		reader.Close()
	}
	a.logger.Info("stream consumer stopped")
}

func (a *StreamAdapter) loop(ctx context.Context) {
	defer close(a.done)

	for {
		msg, err := a.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.WithError(err).Warn("fetch failed, backing off")
			select {
			case <-time.After(2 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		a.handleMessage(ctx, msg)
	}
}

// handleMessage normalizes one record and submits it. An ack commits the
// offset; a nack leaves it uncommitted for redelivery.
func (a *StreamAdapter) handleMessage(ctx context.Context, msg kafka.Message) {
	event, err := a.decode(msg)
	if err != nil {
		// Poison messages are committed; redelivering them cannot help.
		a.logger.WithError(err).WithField("offset", msg.Offset).Warn("undecodable message dropped")
		a.commit(ctx, msg)
		return
	}

	sctx := events.SourceContext{
		Ack:  func() { a.commit(ctx, msg) },
		Nack: func(time.Duration) {},
	}
	if err := a.sink.SubmitEvent(ctx, event, sctx); err != nil && ctx.Err() == nil {
		a.logger.WithError(err).Warn("submit failed, offset left uncommitted")
	}
}

func (a *StreamAdapter) commit(ctx context.Context, msg kafka.Message) {
	if err := a.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		a.logger.WithError(err).WithField("offset", msg.Offset).Warn("offset commit failed")
	}
}

// decode expects a JSON envelope {eventType, payload, eventId?, orgId?};
// a bare JSON object becomes the payload of an untyped event keyed by the
// message key.
func (a *StreamAdapter) decode(msg kafka.Message) (*model.Event, error) {
	var envelope struct {
		EventID   string                 `json:"eventId"`
		EventType string                 `json:"eventType"`
		TenantID  string                 `json:"orgId"`
		Payload   map[string]interface{} `json:"payload"`
	}
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return nil, fmt.Errorf("message is not json: %w", err)
	}

	if envelope.EventType == "" {
		return nil, fmt.Errorf("message has no eventType")
	}
	tenantID := envelope.TenantID
	if tenantID == "" {
		tenantID = a.tenantID
	}
	payload := envelope.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	return &model.Event{
		ID:        envelope.EventID,
		EventType: envelope.EventType,
		TenantID:  tenantID,
		Payload:   payload,
		Source:    model.SourceKafka,
		Metadata: map[string]interface{}{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"position":  fmt.Sprintf("%d:%d", msg.Partition, msg.Offset),
			"key":       string(msg.Key),
		},
		ReceivedAt: time.Now(),
	}, nil
}
