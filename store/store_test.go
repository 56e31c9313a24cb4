package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBName(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		collection string
		expected   string
	}{
		{
			name:       "with prefix",
			prefix:     "switchyard",
			collection: CollLogs,
			expected:   "switchyard_execution_logs",
		},
		{
			name:       "empty prefix",
			prefix:     "",
			collection: CollDLQ,
			expected:   "dlq",
		},
		{
			name:       "custom prefix",
			prefix:     "gw",
			collection: CollScheduled,
			expected:   "gw_scheduled_integrations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Store{prefix: tt.prefix}
			assert.Equal(t, tt.expected, s.dbName(tt.collection))
		})
	}
}

func TestCollectionsCovered(t *testing.T) {
	// Every collection with a standard index must be in the Collections list.
	known := make(map[string]bool, len(Collections))
	for _, c := range Collections {
		known[c] = true
	}
	for coll := range standardIndexes {
		assert.True(t, known[coll], "indexed collection %s missing from Collections", coll)
	}
}

func TestMangoQueryToParams(t *testing.T) {
	tests := []struct {
		name     string
		query    MangoQuery
		expected map[string]interface{}
	}{
		{
			name:     "empty query",
			query:    MangoQuery{},
			expected: map[string]interface{}{},
		},
		{
			name: "full query",
			query: MangoQuery{
				Fields:   []string{"_id", "status"},
				Sort:     []map[string]string{{"status": "asc"}},
				Limit:    10,
				Skip:     5,
				UseIndex: "status-due",
			},
			expected: map[string]interface{}{
				"fields":    []string{"_id", "status"},
				"sort":      []map[string]string{{"status": "asc"}},
				"limit":     10,
				"skip":      5,
				"use_index": "status-due",
			},
		},
		{
			name:  "limit only",
			query: MangoQuery{Limit: 50},
			expected: map[string]interface{}{
				"limit": 50,
			},
		},
		{
			name:     "zero limit omitted",
			query:    MangoQuery{Limit: 0, Skip: 0},
			expected: map[string]interface{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.query.toParams())
		})
	}
}

func TestStoreError(t *testing.T) {
	tests := []struct {
		name         string
		err          *Error
		notFound     bool
		conflict     bool
		unauthorized bool
	}{
		{
			name:     "not found",
			err:      &Error{StatusCode: 404, Op: "get", Reason: "document x not found"},
			notFound: true,
		},
		{
			name:     "conflict",
			err:      &Error{StatusCode: 409, Op: "save", Reason: "document update conflict"},
			conflict: true,
		},
		{
			name:         "unauthorized",
			err:          &Error{StatusCode: 401, Op: "find", Reason: "unauthorized"},
			unauthorized: true,
		},
		{
			name: "server error",
			err:  &Error{StatusCode: 500, Op: "save", Reason: "internal"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, tt.err.IsNotFound())
			assert.Equal(t, tt.conflict, tt.err.IsConflict())
			assert.Equal(t, tt.unauthorized, tt.err.IsUnauthorized())
			assert.Contains(t, tt.err.Error(), tt.err.Op)
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	notFound := &Error{StatusCode: 404, Op: "get", Reason: "gone"}
	conflict := &Error{StatusCode: 409, Op: "save", Reason: "conflict"}

	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsNotFound(conflict))
	assert.True(t, IsConflict(conflict))
	assert.False(t, IsConflict(notFound))

	// Wrapped errors are still recognized.
	wrapped := fmt.Errorf("loading integration: %w", notFound)
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsConflict(wrapped))

	// Plain errors are neither.
	plain := errors.New("boom")
	assert.False(t, IsNotFound(plain))
	assert.False(t, IsConflict(plain))
}

func TestWithRev(t *testing.T) {
	type doc struct {
		ID     string `json:"_id,omitempty"`
		Rev    string `json:"_rev,omitempty"`
		Status string `json:"status"`
	}

	in := &doc{ID: "a", Rev: "1-abc", Status: "PENDING"}
	out, err := withRev(in, "2-def")
	require.NoError(t, err)
	assert.Equal(t, "a", out.ID)
	assert.Equal(t, "2-def", out.Rev)
	assert.Equal(t, "PENDING", out.Status)
	// Input untouched.
	assert.Equal(t, "1-abc", in.Rev)
}

func TestDocIDs(t *testing.T) {
	assert.Equal(t, "audit:evt-1", auditDocID("evt-1"))
	assert.Equal(t, "processed:abc123", processedDocID("abc123"))
	assert.Equal(t, "circuit:int-9", circuitDocID("int-9"))
	assert.Equal(t, "source:tenant-1", sourceDocID("tenant-1"))
}
