package model

import "time"

// DataSourceKind selects where a scheduled job pulls its rows from
type DataSourceKind string

const (
	DataSourceSQL      DataSourceKind = "SQL"
	DataSourceDocument DataSourceKind = "DOCUMENT"
	DataSourceHTTP     DataSourceKind = "HTTP"
)

// DataSourceConfig describes a scheduled job's input. String fields and the
// pipeline/body trees accept {{config.*}}, {{date.*}} and {{env.*}}
// placeholders, substituted recursively at execution time.
type DataSourceConfig struct {
	Kind DataSourceKind `json:"type"`

	// SQL
	Query  string `json:"query,omitempty"`
	Driver string `json:"driver,omitempty"` // "mysql" (default) or "postgres"
	// UseSharedPool selects the gateway's shared analytics pool instead of
	// dedicated credentials.
	UseSharedPool bool   `json:"useSharedPool,omitempty"`
	DSN           string `json:"dsn,omitempty"`

	// DOCUMENT
	Collection string                   `json:"collection,omitempty"`
	Pipeline   []map[string]interface{} `json:"pipeline,omitempty"`

	// HTTP
	URL     string                 `json:"url,omitempty"`
	Method  string                 `json:"method,omitempty"`
	Headers map[string]string      `json:"headers,omitempty"`
	Body    map[string]interface{} `json:"body,omitempty"`

	// Params feeds {{config.*}} substitution.
	Params map[string]interface{} `json:"params,omitempty"`
}

// JobRunStatus is the outcome of one scheduled-job execution
type JobRunStatus string

const (
	JobRunSuccess JobRunStatus = "SUCCESS"
	JobRunFailed  JobRunStatus = "FAILED"
	JobRunSkipped JobRunStatus = "SKIPPED"
)

// ScheduledJobLog records one scheduled-job execution with data snapshots
// truncated at the snapshot cap (50 KB).
type ScheduledJobLog struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`

	JobID    string `json:"jobId"`
	JobName  string `json:"jobName"`
	TenantID string `json:"orgId"`

	Status      JobRunStatus `json:"status"`
	RecordCount int          `json:"recordCount"`
	Steps       []string     `json:"steps,omitempty"`
	Error       string       `json:"error,omitempty"`

	FetchedData        string `json:"fetchedData,omitempty"`
	TransformedPayload string `json:"transformedPayload,omitempty"`
	ResponseStatus     int    `json:"responseStatus,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DurationMs int64     `json:"durationMs"`
}

// JobResultEnvelope wraps fetched rows before transformation, the shape the
// downstream transformer and target receive.
type JobResultEnvelope struct {
	Data     []map[string]interface{} `json:"data"`
	Metadata JobResultMetadata        `json:"metadata"`
}

// JobResultMetadata identifies the producing job run
type JobResultMetadata struct {
	JobID       string    `json:"jobId"`
	JobName     string    `json:"jobName"`
	ExecutedAt  time.Time `json:"executedAt"`
	RecordCount int       `json:"recordCount"`
}
