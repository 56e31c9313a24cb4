package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"switchyard.dev/model"
)

// EnqueuePending persists an event as a durable intake row. Push sources call
// this before acking so an accepted event survives a crash.
func (s *Store) EnqueuePending(ctx context.Context, event model.Event) (string, error) {
	now := time.Now()
	row := model.PendingDelivery{
		ID:        uuid.NewString(),
		Event:     event,
		Status:    model.PendingQueued,
		NotBefore: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	resp, err := Save(ctx, s, CollPending, row)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ClaimPendingDeliveries atomically claims up to limit rows that are due,
// oldest first. Rows lost to concurrent claimers are skipped.
func (s *Store) ClaimPendingDeliveries(ctx context.Context, now time.Time, limit int) ([]model.PendingDelivery, error) {
	candidates, err := Find[model.PendingDelivery](ctx, s, CollPending, MangoQuery{
		Selector: map[string]interface{}{
			"status": string(model.PendingQueued),
			"notBefore": map[string]interface{}{
				"$lte": now.Format(time.RFC3339Nano),
			},
		},
		Sort:  []map[string]string{{"status": "asc"}, {"notBefore": "asc"}},
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	claimed := make([]model.PendingDelivery, 0, len(candidates))
	for _, cand := range candidates {
		row, err := UpdateCAS(ctx, s, CollPending, cand.ID, func(r *model.PendingDelivery) (bool, error) {
			if r.Status != model.PendingQueued {
				return false, nil
			}
			t := time.Now()
			r.Status = model.PendingProcessing
			r.ClaimedAt = &t
			r.Attempts++
			r.UpdatedAt = t
			return true, nil
		})
		if err != nil {
			if err == ErrCASAborted || IsConflict(err) || IsNotFound(err) {
				continue
			}
			return claimed, err
		}
		claimed = append(claimed, *row)
	}
	return claimed, nil
}

// CompletePending removes a processed intake row.
func (s *Store) CompletePending(ctx context.Context, id, rev string) error {
	err := s.Delete(ctx, CollPending, id, rev)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// NackPending returns a claimed row to PENDING, pushing its due time forward
// by delay so the next claim happens after the backoff.
func (s *Store) NackPending(ctx context.Context, id string, delay time.Duration) error {
	_, err := UpdateCAS(ctx, s, CollPending, id, func(r *model.PendingDelivery) (bool, error) {
		now := time.Now()
		r.Status = model.PendingQueued
		r.ClaimedAt = nil
		r.NotBefore = now.Add(delay)
		r.UpdatedAt = now
		return true, nil
	})
	return err
}
