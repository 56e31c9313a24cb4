package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"switchyard.dev/model"
)

// SaveDLQ writes a dead-letter entry.
func (s *Store) SaveDLQ(ctx context.Context, entry *model.DLQEntry) error {
	now := time.Now()
	entry.UpdatedAt = now
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	resp, err := Save(ctx, s, CollDLQ, *entry)
	if err != nil {
		return err
	}
	entry.Rev = resp.Rev
	return nil
}

// GetDLQ retrieves a dead-letter entry by id.
func (s *Store) GetDLQ(ctx context.Context, id string) (*model.DLQEntry, error) {
	return Get[model.DLQEntry](ctx, s, CollDLQ, id)
}

// ClaimDueDLQ atomically moves up to limit pending entries whose retry time
// has passed into retrying. Entries claimed by another worker are skipped.
func (s *Store) ClaimDueDLQ(ctx context.Context, now time.Time, limit int) ([]model.DLQEntry, error) {
	candidates, err := Find[model.DLQEntry](ctx, s, CollDLQ, MangoQuery{
		Selector: map[string]interface{}{
			"status": string(model.DLQPending),
			"nextRetryAt": map[string]interface{}{
				"$lte": now.Format(time.RFC3339Nano),
			},
		},
		Sort:  []map[string]string{{"status": "asc"}, {"nextRetryAt": "asc"}},
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	claimed := make([]model.DLQEntry, 0, len(candidates))
	for _, cand := range candidates {
		entry, err := UpdateCAS(ctx, s, CollDLQ, cand.ID, func(e *model.DLQEntry) (bool, error) {
			if e.Status != model.DLQPending {
				return false, nil
			}
			e.Status = model.DLQRetrying
			return true, nil
		})
		if err != nil {
			if err == ErrCASAborted || IsConflict(err) || IsNotFound(err) {
				continue
			}
			return claimed, err
		}
		claimed = append(claimed, *entry)
	}
	return claimed, nil
}

// ResolveDLQ marks an entry resolved after a successful retry.
func (s *Store) ResolveDLQ(ctx context.Context, id string) error {
	_, err := UpdateCAS(ctx, s, CollDLQ, id, func(e *model.DLQEntry) (bool, error) {
		now := time.Now()
		e.Status = model.DLQResolved
		e.ResolvedAt = &now
		return true, nil
	})
	return err
}

// RescheduleDLQ returns an entry to pending with an advanced retry count and
// due time, or abandons it when retries are exhausted.
func (s *Store) RescheduleDLQ(ctx context.Context, id string, nextRetryAt time.Time) error {
	_, err := UpdateCAS(ctx, s, CollDLQ, id, func(e *model.DLQEntry) (bool, error) {
		e.RetryCount++
		if e.RetryCount >= e.MaxRetries {
			e.Status = model.DLQAbandoned
			return true, nil
		}
		e.Status = model.DLQPending
		e.NextRetryAt = nextRetryAt
		return true, nil
	})
	return err
}
