package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"switchyard.dev/common"
	"switchyard.dev/events"
	"switchyard.dev/model"
)

// AMQPConnection abstracts the broker connection so tests can inject fakes.
type AMQPConnection interface {
	Channel() (AMQPChannel, error)
	Close() error
}

// AMQPChannel is the slice of the amqp channel the adapter uses.
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// AMQPDialer opens connections; injected for tests.
type AMQPDialer interface {
	Dial(url string) (AMQPConnection, error)
}

// RealAMQPDialer dials a live broker.
type RealAMQPDialer struct{}

// Dial implements AMQPDialer.
func (RealAMQPDialer) Dial(url string) (AMQPConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &realAMQPConnection{conn: conn}, nil
}

type realAMQPConnection struct {
	conn *amqp.Connection
}

func (r *realAMQPConnection) Channel() (AMQPChannel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *realAMQPConnection) Close() error { return r.conn.Close() }

// BrokerAdapter consumes a durable queue with manual acknowledgement. The
// pipeline's ack confirms the delivery; a nack requeues it on the broker.
type BrokerAdapter struct {
	tenantID string
	cfg      model.BrokerConfig
	sink     EventSink
	dialer   AMQPDialer
	logger   *common.ContextLogger

	mu      sync.Mutex
	conn    AMQPConnection
	channel AMQPChannel
	stop    context.CancelFunc
	done    chan struct{}
	started bool
}

// NewBrokerAdapter wires a queue consumer against a live broker.
func NewBrokerAdapter(tenantID string, cfg model.BrokerConfig, sink EventSink) (*BrokerAdapter, error) {
	return NewBrokerAdapterWithDialer(tenantID, cfg, sink, RealAMQPDialer{})
}

// NewBrokerAdapterWithDialer allows injecting the dialer for tests.
func NewBrokerAdapterWithDialer(tenantID string, cfg model.BrokerConfig, sink EventSink, dialer AMQPDialer) (*BrokerAdapter, error) {
	if cfg.URL == "" || cfg.Queue == "" {
		return nil, fmt.Errorf("broker config requires url and queue")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	return &BrokerAdapter{
		tenantID: tenantID,
		cfg:      cfg,
		sink:     sink,
		dialer:   dialer,
		logger: common.ServiceLogger("sources").WithFields(map[string]interface{}{
			"adapter": "amqp",
			"tenant":  tenantID,
			"queue":   cfg.Queue,
		}),
		done: make(chan struct{}),
	}, nil
}

// Name implements Adapter.
func (a *BrokerAdapter) Name() model.SourceName { return model.SourceAMQP }

// Start connects, declares the durable queue and begins consuming.
func (a *BrokerAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	conn, err := a.dialer.Dial(a.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(a.cfg.Queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := channel.Qos(a.cfg.Prefetch, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := channel.Consume(a.cfg.Queue, "switchyard-"+a.tenantID, false, false, false, false, nil)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("start consumer: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.conn = conn
	a.channel = channel
	a.stop = cancel
	a.started = true

	go a.loop(runCtx, deliveries)
	a.logger.Info("broker consumer started")
	return nil
}

// Stop cancels consumption and closes the channel and connection.
func (a *BrokerAdapter) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	a.stop()
	channel, conn := a.channel, a.conn
	a.mu.Unlock()

	<-a.done
	if channel != nil {
		channel.Close()
	}
	if conn != nil {
		conn.Close()
	}
	a.logger.Info("broker consumer stopped")
}

func (a *BrokerAdapter) loop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(a.done)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() == nil {
					a.logger.Warn("delivery channel closed by broker")
				}
				return
			}
			a.handleDelivery(ctx, d)
		}
	}
}

func (a *BrokerAdapter) handleDelivery(ctx context.Context, d amqp.Delivery) {
	event, err := a.decode(d)
	if err != nil {
		// Poison messages are dropped without requeue.
		a.logger.WithError(err).Warn("undecodable delivery rejected")
		if nackErr := d.Nack(false, false); nackErr != nil {
			a.logger.WithError(nackErr).Warn("reject failed")
		}
		return
	}

	sctx := events.SourceContext{
		Ack: func() {
			if err := d.Ack(false); err != nil {
				a.logger.WithError(err).Warn("ack failed")
			}
		},
		Nack: func(time.Duration) {
			// The broker has no native delay; requeue immediately and let
			// prefetch pacing spread redeliveries.
			if err := d.Nack(false, true); err != nil {
				a.logger.WithError(err).Warn("requeue failed")
			}
		},
	}
	if err := a.sink.SubmitEvent(ctx, event, sctx); err != nil && ctx.Err() == nil {
		a.logger.WithError(err).Warn("submit failed, delivery requeued")
	}
}

func (a *BrokerAdapter) decode(d amqp.Delivery) (*model.Event, error) {
	var envelope struct {
		EventID   string                 `json:"eventId"`
		EventType string                 `json:"eventType"`
		TenantID  string                 `json:"orgId"`
		Payload   map[string]interface{} `json:"payload"`
	}
	if err := json.Unmarshal(d.Body, &envelope); err != nil {
		return nil, fmt.Errorf("delivery is not json: %w", err)
	}
	if envelope.EventType == "" {
		return nil, fmt.Errorf("delivery has no eventType")
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
		Source:    model.SourceAMQP,
		Metadata: map[string]interface{}{
			"queue":    a.cfg.Queue,
			"exchange": d.Exchange,
			"position": fmt.Sprintf("%d", d.DeliveryTag),
		},
		ReceivedAt: time.Now(),
	}, nil
}
