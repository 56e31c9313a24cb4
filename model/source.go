package model

import "time"

// TablePollConfig drives the mysql table-poll adapter. Table and all mapped
// column names must pass identifier validation before interpolation.
type TablePollConfig struct {
	Table string `json:"table" yaml:"table"`
	// ColumnMapping binds logical fields (eventType, payload, id, orgId,
	// createdAt) to column names.
	ColumnMapping  map[string]string `json:"columnMapping" yaml:"columnMapping"`
	PollIntervalMs int64             `json:"pollIntervalMs,omitempty" yaml:"pollIntervalMs,omitempty"` // default 5000
	BatchSize      int               `json:"batchSize,omitempty" yaml:"batchSize,omitempty"`           // default 100
	DBTimeoutMs    int64             `json:"dbTimeoutMs,omitempty" yaml:"dbTimeoutMs,omitempty"`       // default 10000

	// Either the shared pool or dedicated credentials.
	UseSharedPool bool   `json:"useSharedPool,omitempty" yaml:"useSharedPool,omitempty"`
	Host          string `json:"host,omitempty" yaml:"host,omitempty"`
	Port          int    `json:"port,omitempty" yaml:"port,omitempty"`
	User          string `json:"user,omitempty" yaml:"user,omitempty"`
	Password      string `json:"password,omitempty" yaml:"password,omitempty"`
	Database      string `json:"database,omitempty" yaml:"database,omitempty"`
}

// StreamConfig drives the kafka consumer-group adapter
type StreamConfig struct {
	Brokers          []string `json:"brokers" yaml:"brokers"`
	Topic            string   `json:"topic" yaml:"topic"`
	GroupID          string   `json:"groupId" yaml:"groupId"`
	ClientID         string   `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	FromBeginning    bool     `json:"fromBeginning,omitempty" yaml:"fromBeginning,omitempty"`
	SessionTimeoutMs int64    `json:"sessionTimeout,omitempty" yaml:"sessionTimeout,omitempty"`
	HeartbeatMs      int64    `json:"heartbeatInterval,omitempty" yaml:"heartbeatInterval,omitempty"`
}

// BrokerConfig drives the amqp queue-consumer adapter
type BrokerConfig struct {
	URL      string `json:"url" yaml:"url"`
	Queue    string `json:"queue" yaml:"queue"`
	Exchange string `json:"exchange,omitempty" yaml:"exchange,omitempty"`
	// Prefetch bounds unacked deliveries per consumer; default 10.
	Prefetch int `json:"prefetch,omitempty" yaml:"prefetch,omitempty"`
}

// PushConfig drives the passive HTTP push adapter
type PushConfig struct {
	// Path defaults to /events/{tenant}.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// AuthMode: "jwt" validates a bearer token, "secret" compares a shared
	// header value, "" accepts unauthenticated pushes (dev only).
	AuthMode     string `json:"authMode,omitempty" yaml:"authMode,omitempty"`
	SharedSecret string `json:"sharedSecret,omitempty" yaml:"sharedSecret,omitempty"`
	JWTSecret    string `json:"jwtSecret,omitempty" yaml:"jwtSecret,omitempty"`
}

// EventSourceConfig selects and configures the adapter for a tenant. Exactly
// one of the typed blocks matching Type is populated.
type EventSourceConfig struct {
	ID  string `json:"_id,omitempty" yaml:"_id,omitempty"`
	Rev string `json:"_rev,omitempty" yaml:"_rev,omitempty"`

	TenantID string     `json:"orgId" yaml:"orgId"`
	Type     SourceName `json:"type" yaml:"type"`

	TablePoll *TablePollConfig `json:"tablePoll,omitempty" yaml:"tablePoll,omitempty"`
	Stream    *StreamConfig    `json:"stream,omitempty" yaml:"stream,omitempty"`
	Broker    *BrokerConfig    `json:"broker,omitempty" yaml:"broker,omitempty"`
	Push      *PushConfig      `json:"push,omitempty" yaml:"push,omitempty"`

	Active    bool      `json:"active" yaml:"active"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// EventType is a catalog row consulted for cancellation classification.
// Catalog CRUD lives outside the pipeline; only reads happen here.
type EventType struct {
	ID  string `json:"_id,omitempty" yaml:"_id,omitempty"`
	Rev string `json:"_rev,omitempty" yaml:"_rev,omitempty"`

	Name string `json:"name" yaml:"name"`
	// Cancels lists event types whose pending scheduled items this event
	// type voids (e.g. appointment.cancelled cancels appointment.reminder).
	Cancels []string `json:"cancels,omitempty" yaml:"cancels,omitempty"`
	// MatchPath extracts the cancellation key from the payload.
	MatchPath string `json:"matchPath,omitempty" yaml:"matchPath,omitempty"`
}
