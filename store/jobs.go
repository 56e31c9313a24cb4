package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"switchyard.dev/model"
)

// SaveJobLog writes a scheduled-job execution record.
func (s *Store) SaveJobLog(ctx context.Context, log *model.ScheduledJobLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	resp, err := Save(ctx, s, CollJobLogs, *log)
	if err != nil {
		return err
	}
	log.Rev = resp.Rev
	return nil
}

// FindRecentJobLogs returns the latest runs of a job, newest first.
func (s *Store) FindRecentJobLogs(ctx context.Context, jobID string, limit int) ([]model.ScheduledJobLog, error) {
	return Find[model.ScheduledJobLog](ctx, s, CollJobLogs, MangoQuery{
		Selector: map[string]interface{}{
			"jobId": jobID,
			"startedAt": map[string]interface{}{
				"$gt": time.Time{}.Format(time.RFC3339Nano),
			},
		},
		Sort:  []map[string]string{{"jobId": "desc"}, {"startedAt": "desc"}},
		Limit: limit,
	})
}
