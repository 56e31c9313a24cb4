// Package jobs runs SCHEDULED_JOB integrations: on a cron or interval
// cadence each job pulls rows from its data source, wraps them in a result
// envelope, runs the integration's transform and auth and posts the outcome
// to the target, recording a dedicated job log with data snapshots.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"switchyard.dev/auth"
	"switchyard.dev/common"
	"switchyard.dev/model"
	"switchyard.dev/transform"
)

const (
	// snapshotLimit caps fetched-data and payload snapshots on the job log.
	snapshotLimit = 50 * 1024
	// minInterval is the smallest allowed interval cadence.
	minInterval = time.Minute
	// defaultRefresh is how often the job set is reloaded from the store.
	defaultRefresh = 5 * time.Minute
)

// Store is the slice of the document store the worker uses.
// Satisfied by *store.Store.
type Store interface {
	FindScheduledJobIntegrations(ctx context.Context) ([]model.IntegrationConfig, error)
	SaveJobLog(ctx context.Context, log *model.ScheduledJobLog) error
}

// Worker owns the cron runner and the registered job set.
type Worker struct {
	store       Store
	fetcher     *Fetcher
	transformer *transform.Transformer
	authBuilder *auth.Builder
	logger      *common.ContextLogger

	refreshInterval time.Duration
	httpClient      *http.Client

	mu      sync.Mutex
	cron    *cron.Cron
	stop    chan struct{}
	done    chan struct{}
	started bool
	now     func() time.Time
}

// NewWorker wires the scheduled-job worker.
func NewWorker(store Store, fetcher *Fetcher, transformer *transform.Transformer, authBuilder *auth.Builder) *Worker {
	return &Worker{
		store:           store,
		fetcher:         fetcher,
		transformer:     transformer,
		authBuilder:     authBuilder,
		logger:          common.ServiceLogger("jobs"),
		refreshInterval: defaultRefresh,
		httpClient:      &http.Client{},
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
		now:             time.Now,
	}
}

// Start registers the current job set and begins the refresh loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.Refresh(ctx)
	go w.loop(ctx)
	w.logger.Info("job worker started")
}

// Stop halts the refresh loop and the cron runner.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	close(w.stop)
	runner := w.cron
	w.cron = nil
	w.mu.Unlock()

	<-w.done
	if runner != nil {
		<-runner.Stop().Done()
	}
	w.logger.Info("job worker stopped")
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Refresh(ctx)
		}
	}
}

// Refresh reloads the job set and rebuilds the cron runner. A failed load
// keeps the previous registrations.
func (w *Worker) Refresh(ctx context.Context) {
	integrations, err := w.store.FindScheduledJobIntegrations(ctx)
	if err != nil {
		w.logger.WithError(err).Error("job load failed, keeping current registrations")
		return
	}

	runner := cron.New()
	registered := 0
	for i := range integrations {
		integration := integrations[i]
		spec, err := cadenceSpec(integration.Schedule)
		if err != nil {
			w.logger.WithError(err).WithField("integration", integration.ID).Warn("job has no usable cadence")
			continue
		}
		if _, err := runner.AddFunc(spec, func() { w.RunJob(ctx, &integration) }); err != nil {
			w.logger.WithError(err).WithFields(map[string]interface{}{
				"integration": integration.ID,
				"cadence":     spec,
			}).Warn("job registration failed")
			continue
		}
		registered++
	}

	w.mu.Lock()
	old := w.cron
	w.cron = runner
	started := w.started
	w.mu.Unlock()

	if started {
		runner.Start()
	}
	if old != nil {
		old.Stop()
	}
	w.logger.WithField("jobs", registered).Info("job set refreshed")
}

// cadenceSpec renders a schedule as a robfig cron spec: an explicit cron
// (with optional timezone) wins over an interval; intervals are floored at
// one minute.
func cadenceSpec(schedule *model.ScheduleConfig) (string, error) {
	if schedule == nil {
		return "", fmt.Errorf("no schedule block")
	}
	if schedule.Cron != "" {
		if schedule.Timezone != "" {
			return fmt.Sprintf("CRON_TZ=%s %s", schedule.Timezone, schedule.Cron), nil
		}
		return schedule.Cron, nil
	}
	if schedule.IntervalMs > 0 {
		interval := time.Duration(schedule.IntervalMs) * time.Millisecond
		if interval < minInterval {
			interval = minInterval
		}
		return fmt.Sprintf("@every %s", interval), nil
	}
	return "", fmt.Errorf("neither cron nor interval configured")
}

// RunJob executes one job end to end and records its log row.
func (w *Worker) RunJob(ctx context.Context, integration *model.IntegrationConfig) {
	started := w.now()
	logger := w.logger.WithFields(map[string]interface{}{
		"integration": integration.ID,
		"tenant":      integration.TenantID,
		"job":         integration.Name,
	})

	jobLog := &model.ScheduledJobLog{
		JobID:     integration.ID,
		JobName:   integration.Name,
		TenantID:  integration.TenantID,
		StartedAt: started,
	}
	defer func() {
		jobLog.FinishedAt = w.now()
		jobLog.DurationMs = jobLog.FinishedAt.Sub(started).Milliseconds()
		if err := w.store.SaveJobLog(ctx, jobLog); err != nil {
			logger.WithError(err).Warn("job log write failed")
		}
	}()

	ds := dataSource(integration)
	if ds == nil {
		w.fail(jobLog, logger, "integration has no data source", nil)
		return
	}

	sub := newSubstitutor(ds.Params, started)

	jobLog.Steps = append(jobLog.Steps, "fetch")
	rows, err := w.fetcher.Fetch(ctx, ds, sub)
	if err != nil {
		w.fail(jobLog, logger, "data source failed", err)
		return
	}
	jobLog.RecordCount = len(rows)
	jobLog.FetchedData = snapshot(rows)

	envelope := model.JobResultEnvelope{
		Data: rows,
		Metadata: model.JobResultMetadata{
			JobID:       integration.ID,
			JobName:     integration.Name,
			ExecutedAt:  started,
			RecordCount: len(rows),
		},
	}
	payload, err := envelopeToMap(envelope)
	if err != nil {
		w.fail(jobLog, logger, "envelope encoding failed", err)
		return
	}

	jobLog.Steps = append(jobLog.Steps, "transform")
	transformed, err := w.transformer.Transform(ctx, integration.Transformation, integration.Lookups, payload, transform.Context{
		EventType: "scheduled.job",
		TenantID:  integration.TenantID,
		EventID:   integration.ID,
		TraceID:   uuid.NewString(),
	})
	if err != nil {
		w.fail(jobLog, logger, "transform failed", err)
		return
	}
	if transformed == nil {
		jobLog.Status = model.JobRunSkipped
		logger.Info("job skipped by transform")
		return
	}
	jobLog.TransformedPayload = snapshot(transformed)

	jobLog.Steps = append(jobLog.Steps, "deliver")
	status, err := w.deliver(ctx, integration, transformed)
	jobLog.ResponseStatus = status
	if err != nil {
		w.fail(jobLog, logger, "delivery failed", err)
		return
	}

	jobLog.Status = model.JobRunSuccess
	logger.WithFields(map[string]interface{}{
		"records":  len(rows),
		"response": status,
	}).Info("job finished")
}

func (w *Worker) deliver(ctx context.Context, integration *model.IntegrationConfig, payload map[string]interface{}) (int, error) {
	if integration.TargetURL == "" {
		return 0, fmt.Errorf("integration has no target url")
	}

	headers, err := w.authBuilder.Build(ctx, integration, integration.Auth, auth.Request{
		Method:    http.MethodPost,
		TargetURL: integration.TargetURL,
	})
	if err != nil {
		return 0, fmt.Errorf("auth failed: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, integration.EffectiveTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, integration.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("target returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (w *Worker) fail(jobLog *model.ScheduledJobLog, logger *common.ContextLogger, msg string, err error) {
	jobLog.Status = model.JobRunFailed
	if err != nil {
		jobLog.Error = fmt.Sprintf("%s: %v", msg, err)
		logger.WithError(err).Warn(msg)
		return
	}
	jobLog.Error = msg
	logger.Warn(msg)
}

func dataSource(integration *model.IntegrationConfig) *model.DataSourceConfig {
	if integration.Schedule == nil {
		return nil
	}
	return integration.Schedule.DataSource
}

func envelopeToMap(envelope model.JobResultEnvelope) (map[string]interface{}, error) {
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// snapshot renders a value as JSON truncated at the snapshot cap.
func snapshot(value interface{}) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	if len(encoded) > snapshotLimit {
		return string(encoded[:snapshotLimit])
	}
	return string(encoded)
}
