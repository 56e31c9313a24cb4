package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"switchyard.dev/model"
)

// SaveLog writes a delivery log row. New rows get a UUID; retries of an
// existing row keep their id so the attempt history coalesces.
func (s *Store) SaveLog(ctx context.Context, log *model.DeliveryLog) error {
	now := time.Now()
	log.UpdatedAt = now
	if log.CreatedAt.IsZero() {
		log.CreatedAt = now
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	resp, err := Save(ctx, s, CollLogs, *log)
	if err != nil {
		return err
	}
	log.Rev = resp.Rev
	return nil
}

// GetLog retrieves a delivery log by id.
func (s *Store) GetLog(ctx context.Context, id string) (*model.DeliveryLog, error) {
	return Get[model.DeliveryLog](ctx, s, CollLogs, id)
}

// FindDueRetries returns RETRYING logs whose next attempt is due, oldest
// first, capped at limit.
func (s *Store) FindDueRetries(ctx context.Context, now time.Time, limit int) ([]model.DeliveryLog, error) {
	return Find[model.DeliveryLog](ctx, s, CollLogs, MangoQuery{
		Selector: map[string]interface{}{
			"status": string(model.StatusRetrying),
			"nextRetryAt": map[string]interface{}{
				"$lte": now.Format(time.RFC3339Nano),
			},
		},
		Sort:  []map[string]string{{"status": "asc"}, {"nextRetryAt": "asc"}},
		Limit: limit,
	})
}

// FindLogsByEvent returns every delivery log recorded for an event.
func (s *Store) FindLogsByEvent(ctx context.Context, eventID string) ([]model.DeliveryLog, error) {
	return Find[model.DeliveryLog](ctx, s, CollLogs, MangoQuery{
		Selector: map[string]interface{}{
			"eventId": eventID,
		},
	})
}
