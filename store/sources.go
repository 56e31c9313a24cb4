package store

import (
	"context"
	"time"

	"switchyard.dev/model"
)

// sourceDocID keys source configs by tenant; one adapter config per tenant.
func sourceDocID(tenantID string) string {
	return "source:" + tenantID
}

// FindActiveSourceConfigs returns every active adapter config; the manager
// diffs these against running adapters on each reconciliation pass.
func (s *Store) FindActiveSourceConfigs(ctx context.Context) ([]model.EventSourceConfig, error) {
	return Find[model.EventSourceConfig](ctx, s, CollSources, MangoQuery{
		Selector: map[string]interface{}{
			"active": true,
		},
	})
}

// GetSourceConfig retrieves a tenant's adapter config.
func (s *Store) GetSourceConfig(ctx context.Context, tenantID string) (*model.EventSourceConfig, error) {
	return Get[model.EventSourceConfig](ctx, s, CollSources, sourceDocID(tenantID))
}

// SaveSourceConfig upserts a tenant's adapter config.
func (s *Store) SaveSourceConfig(ctx context.Context, cfg *model.EventSourceConfig) error {
	cfg.ID = sourceDocID(cfg.TenantID)
	cfg.UpdatedAt = time.Now()

	existing, err := Get[model.EventSourceConfig](ctx, s, CollSources, cfg.ID)
	if err == nil {
		cfg.Rev = existing.Rev
	} else if !IsNotFound(err) {
		return err
	}

	resp, err := Save(ctx, s, CollSources, *cfg)
	if err != nil {
		return err
	}
	cfg.Rev = resp.Rev
	return nil
}

// GetEventType retrieves a catalog row by event type name; missing rows are
// reported via store.IsNotFound.
func (s *Store) GetEventType(ctx context.Context, name string) (*model.EventType, error) {
	types, err := Find[model.EventType](ctx, s, CollEventTypes, MangoQuery{
		Selector: map[string]interface{}{
			"name": name,
		},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, &Error{StatusCode: 404, Op: "get", Reason: "event type " + name + " not found"}
	}
	return &types[0], nil
}

// ListEventTypes returns the whole catalog, for cancellation classification.
func (s *Store) ListEventTypes(ctx context.Context) ([]model.EventType, error) {
	return Find[model.EventType](ctx, s, CollEventTypes, MangoQuery{
		Selector: map[string]interface{}{
			"name": map[string]interface{}{"$exists": true},
		},
	})
}
