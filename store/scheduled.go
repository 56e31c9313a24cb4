package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"switchyard.dev/model"
)

// SaveScheduled writes a scheduled item.
func (s *Store) SaveScheduled(ctx context.Context, item *model.ScheduledIntegration) error {
	now := time.Now()
	item.UpdatedAt = now
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	resp, err := Save(ctx, s, CollScheduled, *item)
	if err != nil {
		return err
	}
	item.Rev = resp.Rev
	return nil
}

// GetScheduled retrieves a scheduled item by id.
func (s *Store) GetScheduled(ctx context.Context, id string) (*model.ScheduledIntegration, error) {
	return Get[model.ScheduledIntegration](ctx, s, CollScheduled, id)
}

// ClaimDueScheduled atomically claims up to limit PENDING items whose due
// time has passed, oldest first. Each claim is a CAS transition PENDING →
// PROCESSING; items lost to concurrent claimers are skipped, so every
// returned item belongs to this caller alone.
func (s *Store) ClaimDueScheduled(ctx context.Context, now time.Time, limit int) ([]model.ScheduledIntegration, error) {
	candidates, err := Find[model.ScheduledIntegration](ctx, s, CollScheduled, MangoQuery{
		Selector: map[string]interface{}{
			"status": string(model.SchedulePending),
			"scheduledFor": map[string]interface{}{
				"$lte": now.Format(time.RFC3339Nano),
			},
		},
		Sort:  []map[string]string{{"status": "asc"}, {"scheduledFor": "asc"}},
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	claimed := make([]model.ScheduledIntegration, 0, len(candidates))
	for _, cand := range candidates {
		item, err := UpdateCAS(ctx, s, CollScheduled, cand.ID, func(it *model.ScheduledIntegration) (bool, error) {
			if it.Status != model.SchedulePending {
				return false, nil
			}
			t := time.Now()
			it.Status = model.ScheduleProcessing
			it.ClaimedAt = &t
			return true, nil
		})
		if err != nil {
			if err == ErrCASAborted || IsConflict(err) || IsNotFound(err) {
				continue
			}
			return claimed, err
		}
		claimed = append(claimed, *item)
	}
	return claimed, nil
}

// ResetStuckScheduled returns PROCESSING items claimed before the cutoff to
// PENDING, reporting how many were reset.
func (s *Store) ResetStuckScheduled(ctx context.Context, before time.Time) (int, error) {
	stuck, err := Find[model.ScheduledIntegration](ctx, s, CollScheduled, MangoQuery{
		Selector: map[string]interface{}{
			"status": string(model.ScheduleProcessing),
			"claimedAt": map[string]interface{}{
				"$lt": before.Format(time.RFC3339Nano),
			},
		},
	})
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, item := range stuck {
		_, err := UpdateCAS(ctx, s, CollScheduled, item.ID, func(it *model.ScheduledIntegration) (bool, error) {
			if it.Status != model.ScheduleProcessing || it.ClaimedAt == nil || !it.ClaimedAt.Before(before) {
				return false, nil
			}
			it.Status = model.SchedulePending
			it.ClaimedAt = nil
			return true, nil
		})
		if err != nil {
			if err == ErrCASAborted || IsConflict(err) || IsNotFound(err) {
				continue
			}
			return reset, err
		}
		reset++
	}
	return reset, nil
}

// CompleteScheduled marks a claimed item's terminal state.
func (s *Store) CompleteScheduled(ctx context.Context, id string, status model.ScheduleStatus, failReason string) error {
	_, err := UpdateCAS(ctx, s, CollScheduled, id, func(it *model.ScheduledIntegration) (bool, error) {
		now := time.Now()
		it.Status = status
		it.CompletedAt = &now
		it.FailReason = failReason
		return true, nil
	})
	return err
}

// CancelScheduledByMatch marks the tenant's PENDING items whose cancellation
// key matches as CANCELLED, returning how many were voided.
func (s *Store) CancelScheduledByMatch(ctx context.Context, tenantID string, match model.CancellationMatch) (int, error) {
	selector := map[string]interface{}{
		"orgId":  tenantID,
		"status": string(model.SchedulePending),
	}
	if match.EventType != "" {
		selector["eventType"] = match.EventType
	}
	if match.MatchKey != "" {
		selector["cancellation.matchKey"] = match.MatchKey
	}
	if match.MatchVal != "" {
		selector["cancellation.matchValue"] = match.MatchVal
	}

	items, err := Find[model.ScheduledIntegration](ctx, s, CollScheduled, MangoQuery{Selector: selector})
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, item := range items {
		_, err := UpdateCAS(ctx, s, CollScheduled, item.ID, func(it *model.ScheduledIntegration) (bool, error) {
			if it.Status != model.SchedulePending {
				return false, nil
			}
			now := time.Now()
			it.Status = model.ScheduleCancelled
			it.CompletedAt = &now
			return true, nil
		})
		if err != nil {
			if err == ErrCASAborted || IsConflict(err) || IsNotFound(err) {
				continue
			}
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}
