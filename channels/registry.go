// Package channels delivers COMMUNICATION actions over non-HTTP-target
// transports. Adapters register under (channel, provider-family) keys; the
// provider family is the configured provider truncated at its first
// underscore and lowercased, so GMAIL_OAUTH and GMAIL_SMTP share one adapter.
package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"switchyard.dev/common"
)

// SendResult carries the provider-assigned message id back into the log row.
type SendResult struct {
	MessageID string
}

// Adapter is one channel send handler.
type Adapter interface {
	// Send delivers the transformed payload with the action's channel
	// settings. An error classifies as COMMUNICATION_ERROR upstream.
	Send(ctx context.Context, payload map[string]interface{}, settings map[string]interface{}) (*SendResult, error)
}

// Registry maps (channel, provider-family) to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	logger   *common.ContextLogger
}

// NewRegistry returns a registry preloaded with the standard adapters.
func NewRegistry() *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter),
		logger:   common.ServiceLogger("channels"),
	}
	r.Register("email", "gmail", NewEmailAdapter())
	r.Register("email", "rapidmail", NewEmailAdapter())
	r.Register("email", "smtp", NewEmailAdapter())
	r.Register("sms", "twilio", NewSMSAdapter())
	r.Register("sms", "msg91", NewSMSAdapter())
	return r
}

// Register binds an adapter to a channel and provider family.
func (r *Registry) Register(channel, providerFamily string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapterKey(channel, providerFamily)] = adapter
}

// Send routes one delivery to the adapter for (channel, provider).
func (r *Registry) Send(ctx context.Context, channel, provider string, payload, settings map[string]interface{}) (*SendResult, error) {
	family := ProviderFamily(provider)

	r.mu.RLock()
	adapter, ok := r.adapters[adapterKey(channel, family)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel %q provider %q", channel, family)
	}

	result, err := adapter.Send(ctx, payload, settings)
	if err != nil {
		return nil, fmt.Errorf("%s/%s send failed: %w", channel, family, err)
	}
	r.logger.WithFields(map[string]interface{}{
		"channel":    channel,
		"provider":   family,
		"message_id": result.MessageID,
	}).Debug("channel send completed")
	return result, nil
}

// ProviderFamily reduces a configured provider to its adapter key:
// "GMAIL_OAUTH" → "gmail".
func ProviderFamily(provider string) string {
	family, _, _ := strings.Cut(provider, "_")
	return strings.ToLower(family)
}

func adapterKey(channel, providerFamily string) string {
	return strings.ToLower(channel) + ":" + providerFamily
}
