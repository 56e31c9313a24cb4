package store

import (
	"context"
	"time"

	"switchyard.dev/model"
)

// GetIntegration retrieves an integration config by id.
func (s *Store) GetIntegration(ctx context.Context, id string) (*model.IntegrationConfig, error) {
	return Get[model.IntegrationConfig](ctx, s, CollIntegrations, id)
}

// SaveIntegration writes an integration config and refreshes its revision.
func (s *Store) SaveIntegration(ctx context.Context, cfg *model.IntegrationConfig) error {
	cfg.UpdatedAt = time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}
	resp, err := Save(ctx, s, CollIntegrations, *cfg)
	if err != nil {
		return err
	}
	cfg.ID = resp.ID
	cfg.Rev = resp.Rev
	return nil
}

// FindIntegrations returns the active integrations of a tenant that trigger
// on the given event type.
func (s *Store) FindIntegrations(ctx context.Context, tenantID, eventType string) ([]model.IntegrationConfig, error) {
	return Find[model.IntegrationConfig](ctx, s, CollIntegrations, MangoQuery{
		Selector: map[string]interface{}{
			"orgId":  tenantID,
			"active": true,
			"eventTypes": map[string]interface{}{
				"$elemMatch": map[string]interface{}{"$eq": eventType},
			},
		},
	})
}

// FindScheduledJobIntegrations returns every active SCHEDULED_JOB integration
// across all tenants; the job worker registers a cron entry per result.
func (s *Store) FindScheduledJobIntegrations(ctx context.Context) ([]model.IntegrationConfig, error) {
	return Find[model.IntegrationConfig](ctx, s, CollIntegrations, MangoQuery{
		Selector: map[string]interface{}{
			"deliveryMode": string(model.ModeScheduledJob),
			"active":       true,
		},
	})
}

// UpdateTokenCache stores a freshly fetched auth token on the integration.
// Token writes are advisory: callers treat failures as a cache miss, never as
// a delivery failure.
func (s *Store) UpdateTokenCache(ctx context.Context, integrationID string, cache *model.TokenCache) error {
	_, err := UpdateCAS(ctx, s, CollIntegrations, integrationID, func(cfg *model.IntegrationConfig) (bool, error) {
		cfg.TokenCache = cache
		cfg.UpdatedAt = time.Now()
		return true, nil
	})
	return err
}

// ClearTokenCache drops the cached token after a 401/403 so the next attempt
// fetches a fresh one.
func (s *Store) ClearTokenCache(ctx context.Context, integrationID string) error {
	_, err := UpdateCAS(ctx, s, CollIntegrations, integrationID, func(cfg *model.IntegrationConfig) (bool, error) {
		if cfg.TokenCache == nil {
			return false, nil
		}
		cfg.TokenCache = nil
		cfg.UpdatedAt = time.Now()
		return true, nil
	})
	if err == ErrCASAborted {
		return nil
	}
	return err
}
