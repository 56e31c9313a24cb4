// Package store provides the document-store layer for the gateway.
//
// Every logical collection lives in its own CouchDB database, namespaced by
// the configured prefix (prefix "switchyard" yields "switchyard_execution_logs"
// and so on). The Store owns one Kivik client and a handle per collection;
// databases and the Mango indexes the workers query against are created at
// startup when create_if_missing is set.
//
// Concurrency:
//
//	CouchDB's MVCC gives single-document atomicity via revisions. Claim
//	transitions (PENDING → PROCESSING on scheduled items, pending deliveries
//	and DLQ entries) go through UpdateCAS: losers of a revision race re-read
//	and give up or retry, so exactly one worker observes each transition.
//
// Errors:
//
//	Operations return *store.Error carrying the CouchDB status code. Callers
//	branch with store.IsNotFound / store.IsConflict instead of matching
//	message text.
package store

import (
	"context"
	"fmt"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // The CouchDB driver

	"switchyard.dev/config"
)

// Collection names. These are the wire-level database suffixes; existing
// deployments depend on them.
const (
	CollIntegrations = "integration_configs"
	CollEventAudit   = "event_audit"
	CollLogs         = "execution_logs"
	CollPending      = "pending_deliveries"
	CollScheduled    = "scheduled_integrations"
	CollJobLogs      = "scheduled_job_logs"
	CollDLQ          = "dlq"
	CollProcessed    = "processed_events"
	CollSources      = "event_source_configs"
	CollEventTypes   = "event_types"
	CollCircuits     = "circuit_states"
	CollCheckpoints  = "source_checkpoints"
)

// Collections lists every database the gateway expects to exist.
var Collections = []string{
	CollIntegrations,
	CollEventAudit,
	CollLogs,
	CollPending,
	CollScheduled,
	CollJobLogs,
	CollDLQ,
	CollProcessed,
	CollSources,
	CollEventTypes,
	CollCircuits,
	CollCheckpoints,
}

// Store encapsulates the CouchDB client and one database handle per collection.
// Instances are safe for concurrent use; the Kivik client pools connections.
type Store struct {
	client *kivik.Client
	prefix string
	dbs    map[string]*kivik.DB
}

// New connects to CouchDB and prepares a handle for every collection.
// With CreateIfMissing set, missing databases are created and the standard
// indexes ensured; otherwise a missing database surfaces on first use.
func New(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	client, err := kivik.New("couch", cfg.BuildURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	s := &Store{
		client: client,
		prefix: cfg.Prefix,
		dbs:    make(map[string]*kivik.DB, len(Collections)),
	}

	for _, coll := range Collections {
		name := s.dbName(coll)
		if cfg.CreateIfMissing {
			exists, err := client.DBExists(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("failed to check database %s: %w", name, err)
			}
			if !exists {
				if err := client.CreateDB(ctx, name); err != nil {
					// A replica may have won the creation race.
					if kivik.HTTPStatus(err) != 412 {
						return nil, fmt.Errorf("failed to create database %s: %w", name, err)
					}
				}
			}
		}
		s.dbs[coll] = client.DB(name)
	}

	if cfg.CreateIfMissing {
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// dbName maps a collection to its namespaced database name.
func (s *Store) dbName(collection string) string {
	if s.prefix == "" {
		return collection
	}
	return s.prefix + "_" + collection
}

// db returns the handle for a collection. Unknown collections are a
// programmer error.
func (s *Store) db(collection string) *kivik.DB {
	d, ok := s.dbs[collection]
	if !ok {
		panic(fmt.Sprintf("store: unknown collection %q", collection))
	}
	return d
}

// Index describes a Mango index over one or more fields.
type Index struct {
	Name   string
	Fields []string
}

// standardIndexes are the indexes the workers' Mango queries lean on.
var standardIndexes = map[string][]Index{
	CollIntegrations: {
		{Name: "tenant-active", Fields: []string{"orgId", "active"}},
		{Name: "mode-active", Fields: []string{"deliveryMode", "active"}},
	},
	CollLogs: {
		{Name: "status-retry", Fields: []string{"status", "nextRetryAt"}},
		{Name: "event", Fields: []string{"eventId"}},
	},
	CollEventAudit: {
		{Name: "status-updated", Fields: []string{"status", "updatedAt"}},
		{Name: "event", Fields: []string{"eventId"}},
	},
	CollScheduled: {
		{Name: "status-due", Fields: []string{"status", "scheduledFor"}},
		{Name: "tenant-status", Fields: []string{"orgId", "status"}},
	},
	CollDLQ: {
		{Name: "status-retry", Fields: []string{"status", "nextRetryAt"}},
	},
	CollPending: {
		{Name: "status-due", Fields: []string{"status", "notBefore"}},
	},
	CollProcessed: {
		{Name: "expiry", Fields: []string{"expiresAt"}},
	},
	CollSources: {
		{Name: "tenant", Fields: []string{"orgId"}},
		{Name: "active", Fields: []string{"active"}},
	},
	CollJobLogs: {
		{Name: "job-started", Fields: []string{"jobId", "startedAt"}},
	},
}

// EnsureIndexes creates the standard Mango indexes, skipping ones that exist.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for coll, indexes := range standardIndexes {
		db := s.db(coll)
		for _, idx := range indexes {
			def := map[string]interface{}{
				"index": map[string]interface{}{
					"fields": idx.Fields,
				},
				"type": "json",
				"name": idx.Name,
			}
			if err := db.CreateIndex(ctx, "", "", def); err != nil {
				// CouchDB answers 200 for an identical existing index, so any
				// error here is real.
				return &Error{
					StatusCode: kivik.HTTPStatus(err),
					Op:         "create_index",
					Reason:     fmt.Sprintf("%s/%s: %v", coll, idx.Name, err),
				}
			}
		}
	}
	return nil
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	up, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	if !up {
		return fmt.Errorf("store is not up")
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
