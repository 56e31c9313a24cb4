package sources

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchyard.dev/model"
)

func streamFixture(t *testing.T) *StreamAdapter {
	t.Helper()
	adapter, err := NewStreamAdapter("org-1", model.StreamConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "events",
	}, &ackingSink{})
	require.NoError(t, err)
	return adapter
}

func TestNewStreamAdapterValidation(t *testing.T) {
	_, err := NewStreamAdapter("org-1", model.StreamConfig{Topic: "events"}, &ackingSink{})
	require.Error(t, err, "brokers are required")

	_, err = NewStreamAdapter("org-1", model.StreamConfig{Brokers: []string{"localhost:9092"}}, &ackingSink{})
	require.Error(t, err, "topic is required")

	adapter := streamFixture(t)
	assert.Equal(t, "switchyard-org-1", adapter.cfg.GroupID, "group id defaults from the tenant")
}

func TestStreamDecode(t *testing.T) {
	adapter := streamFixture(t)

	event, err := adapter.decode(kafka.Message{
		Topic:     "events",
		Partition: 2,
		Offset:    41,
		Key:       []byte("order-1"),
		Value:     []byte(`{"eventId":"e-1","eventType":"order.created","orgId":"org-9","payload":{"n":1}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "e-1", event.ID)
	assert.Equal(t, "order.created", event.EventType)
	assert.Equal(t, "org-9", event.TenantID)
	assert.Equal(t, model.SourceKafka, event.Source)
	assert.Equal(t, "2:41", event.Metadata["position"])
	assert.Equal(t, "order-1", event.Metadata["key"])

	// Tenant falls back to the adapter binding, payload defaults to empty.
	event, err = adapter.decode(kafka.Message{Value: []byte(`{"eventType":"x"}`)})
	require.NoError(t, err)
	assert.Equal(t, "org-1", event.TenantID)
	assert.NotNil(t, event.Payload)

	_, err = adapter.decode(kafka.Message{Value: []byte(`not json`)})
	require.Error(t, err)

	_, err = adapter.decode(kafka.Message{Value: []byte(`{"payload":{}}`)})
	require.Error(t, err, "eventType is mandatory")
}
