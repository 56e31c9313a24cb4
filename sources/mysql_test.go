package sources

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchyard.dev/model"
)

func testCursorStore(t *testing.T) *CursorStore {
	t.Helper()
	store, err := OpenCursorStore(filepath.Join(t.TempDir(), "cursors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func pollConfig() model.TablePollConfig {
	return model.TablePollConfig{
		Table: "outbox_events",
		ColumnMapping: map[string]string{
			"id":        "id",
			"eventType": "event_type",
			"payload":   "payload",
			"orgId":     "org_id",
		},
		Host: "db.internal", Port: 3306, User: "u", Password: "p", Database: "app",
	}
}

func TestNewTablePollAdapterValidatesIdentifiers(t *testing.T) {
	cursors := testCursorStore(t)

	cases := []struct {
		name   string
		mutate func(*model.TablePollConfig)
		ok     bool
	}{
		{name: "valid", mutate: func(*model.TablePollConfig) {}, ok: true},
		{name: "injection in table", mutate: func(c *model.TablePollConfig) { c.Table = "events; DROP TABLE users" }},
		{name: "backtick in column", mutate: func(c *model.TablePollConfig) { c.ColumnMapping["payload"] = "pay`load" }},
		{name: "leading digit", mutate: func(c *model.TablePollConfig) { c.Table = "1events" }},
		{name: "missing payload mapping", mutate: func(c *model.TablePollConfig) { delete(c.ColumnMapping, "payload") }},
		{name: "shared pool without pool", mutate: func(c *model.TablePollConfig) { c.UseSharedPool = true }},
		{name: "dollar is legal", mutate: func(c *model.TablePollConfig) { c.Table = "events$archive" }, ok: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := pollConfig()
			tc.mutate(&cfg)
			_, err := NewTablePollAdapter("org-1", cfg, nil, cursors, nil)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRowToEvent(t *testing.T) {
	cursors := testCursorStore(t)
	adapter, err := NewTablePollAdapter("org-1", pollConfig(), nil, cursors, nil)
	require.NoError(t, err)

	event, rowID, err := adapter.rowToEvent(map[string]interface{}{
		"id":         []byte("42"),
		"event_type": "order.created",
		"payload":    []byte(`{"orderId":"o-1"}`),
		"org_id":     "org-override",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", rowID)
	assert.Equal(t, "mysql-outbox_events-42", event.ID)
	assert.Equal(t, "order.created", event.EventType)
	assert.Equal(t, "org-override", event.TenantID)
	assert.Equal(t, "o-1", event.Payload["orderId"])
	assert.Equal(t, "42", event.Metadata["position"])
}

func TestRowToEventNonJSONPayload(t *testing.T) {
	cursors := testCursorStore(t)
	adapter, err := NewTablePollAdapter("org-1", pollConfig(), nil, cursors, nil)
	require.NoError(t, err)

	event, _, err := adapter.rowToEvent(map[string]interface{}{
		"id":         "7",
		"event_type": "note.added",
		"payload":    "plain text",
	})
	require.NoError(t, err)
	assert.Equal(t, "plain text", event.Payload["value"])
	assert.Equal(t, "org-1", event.TenantID, "tenant falls back to the adapter binding")
}

func TestRowToEventRejectsIncompleteRows(t *testing.T) {
	cursors := testCursorStore(t)
	adapter, err := NewTablePollAdapter("org-1", pollConfig(), nil, cursors, nil)
	require.NoError(t, err)

	_, _, err = adapter.rowToEvent(map[string]interface{}{"event_type": "x"})
	assert.Error(t, err, "row without id")

	_, rowID, err := adapter.rowToEvent(map[string]interface{}{"id": "9"})
	assert.Error(t, err, "row without event type")
	assert.Equal(t, "9", rowID, "the id still comes back so the cursor can advance past the bad row")
}

func TestAdvanceCursorMonotonic(t *testing.T) {
	cursors := testCursorStore(t)
	adapter, err := NewTablePollAdapter("org-1", pollConfig(), nil, cursors, nil)
	require.NoError(t, err)

	adapter.advanceCursor("10")
	adapter.advanceCursor("9")
	adapter.advanceCursor("11")

	stored, err := cursors.Get("org-1", "outbox_events")
	require.NoError(t, err)
	assert.Equal(t, "11", stored, "the cursor never moves backwards")
}

func TestCursorLess(t *testing.T) {
	assert.True(t, cursorLess("", "1"))
	assert.True(t, cursorLess("9", "10"), "numeric cursors compare numerically")
	assert.False(t, cursorLess("10", "9"))
	assert.True(t, cursorLess("a1", "a2"), "non-numeric cursors compare lexically")
}

func TestCursorStoreRoundTrip(t *testing.T) {
	store := testCursorStore(t)

	value, err := store.Get("org-1", "t")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, store.Put("org-1", "t", "123"))
	require.NoError(t, store.Put("org-2", "t", "456"))

	value, err = store.Get("org-1", "t")
	require.NoError(t, err)
	assert.Equal(t, "123", value)
}
