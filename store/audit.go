package store

import (
	"context"
	"fmt"
	"time"

	"switchyard.dev/model"
)

// auditDocID keys audit rows by event so status updates are direct lookups.
func auditDocID(eventID string) string {
	return "audit:" + eventID
}

// InsertAudit writes the initial audit row for a received event. Replays
// reuse the event id, so an existing row is overwritten in place.
func (s *Store) InsertAudit(ctx context.Context, audit *model.EventAudit) error {
	audit.ID = auditDocID(audit.EventID)
	audit.UpdatedAt = time.Now()

	// Adopt the revision when a row for this event already exists.
	existing, err := Get[model.EventAudit](ctx, s, CollEventAudit, audit.ID)
	if err == nil {
		audit.Rev = existing.Rev
	} else if !IsNotFound(err) {
		return err
	}

	resp, err := Save(ctx, s, CollEventAudit, *audit)
	if err != nil {
		return err
	}
	audit.Rev = resp.Rev
	return nil
}

// UpdateAudit applies mutate to the event's audit row via CAS. Missing rows
// are not an error: audit writes are best-effort and the initial insert may
// have been dropped.
func (s *Store) UpdateAudit(ctx context.Context, eventID string, mutate func(*model.EventAudit)) error {
	_, err := UpdateCAS(ctx, s, CollEventAudit, auditDocID(eventID), func(a *model.EventAudit) (bool, error) {
		mutate(a)
		a.UpdatedAt = time.Now()
		return true, nil
	})
	if IsNotFound(err) {
		return nil
	}
	return err
}

// FindStuckAudits returns events sitting in PROCESSING since before the
// given cutoff, for the watchdog to reclaim.
func (s *Store) FindStuckAudits(ctx context.Context, before time.Time, limit int) ([]model.EventAudit, error) {
	return Find[model.EventAudit](ctx, s, CollEventAudit, MangoQuery{
		Selector: map[string]interface{}{
			"status": string(model.EventProcessing),
			"updatedAt": map[string]interface{}{
				"$lt": before.Format(time.RFC3339Nano),
			},
		},
		Limit: limit,
	})
}

// GetAudit retrieves the audit row for an event.
func (s *Store) GetAudit(ctx context.Context, eventID string) (*model.EventAudit, error) {
	return Get[model.EventAudit](ctx, s, CollEventAudit, auditDocID(eventID))
}

// processedDocID keys dedup records by fingerprint.
func processedDocID(fingerprint string) string {
	return "processed:" + fingerprint
}

// CheckProcessed reports whether the fingerprint was durably recorded within
// its freshness window.
func (s *Store) CheckProcessed(ctx context.Context, fingerprint string, now time.Time) (bool, error) {
	rec, err := Get[model.ProcessedEvent](ctx, s, CollProcessed, processedDocID(fingerprint))
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return rec.ExpiresAt.After(now), nil
}

// MarkProcessed records a fingerprint durably. A conflict means a concurrent
// worker already recorded it, which the caller treats as success.
func (s *Store) MarkProcessed(ctx context.Context, rec *model.ProcessedEvent) error {
	rec.ID = processedDocID(rec.Fingerprint)
	_, err := Save(ctx, s, CollProcessed, *rec)
	if IsConflict(err) {
		return nil
	}
	return err
}

// PurgeExpiredProcessed removes dedup records past their expiry, returning
// the number deleted.
func (s *Store) PurgeExpiredProcessed(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := Find[model.ProcessedEvent](ctx, s, CollProcessed, MangoQuery{
		Selector: map[string]interface{}{
			"expiresAt": map[string]interface{}{
				"$lt": now.Format(time.RFC3339Nano),
			},
		},
		Limit: limit,
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, rec := range expired {
		if err := s.Delete(ctx, CollProcessed, rec.ID, rec.Rev); err != nil {
			if IsConflict(err) || IsNotFound(err) {
				continue
			}
			return deleted, fmt.Errorf("failed to purge processed event %s: %w", rec.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// SaveCheckpoint upserts the last-seen position for a tenant/source pair.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *model.SourceCheckpoint) error {
	cp.ID = fmt.Sprintf("checkpoint:%s:%s", cp.TenantID, cp.Source)
	cp.UpdatedAt = time.Now()

	existing, err := Get[model.SourceCheckpoint](ctx, s, CollCheckpoints, cp.ID)
	if err == nil {
		cp.Rev = existing.Rev
	} else if !IsNotFound(err) {
		return err
	}

	resp, err := Save(ctx, s, CollCheckpoints, *cp)
	if err != nil {
		return err
	}
	cp.Rev = resp.Rev
	return nil
}

// GetCheckpoint retrieves the stored position for a tenant/source pair.
func (s *Store) GetCheckpoint(ctx context.Context, tenantID string, source model.SourceName) (*model.SourceCheckpoint, error) {
	return Get[model.SourceCheckpoint](ctx, s, CollCheckpoints, fmt.Sprintf("checkpoint:%s:%s", tenantID, source))
}
