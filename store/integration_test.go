//go:build integration
// +build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"switchyard.dev/config"
	"switchyard.dev/model"
)

// setupCouchDBContainer starts a CouchDB container for testing
func setupCouchDBContainer(t *testing.T) (config.StoreConfig, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "couchdb:3.3",
		ExposedPorts: []string{"5984/tcp"},
		Env: map[string]string{
			"COUCHDB_USER":     "admin",
			"COUCHDB_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForHTTP("/_up").WithPort("5984/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start CouchDB container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5984")
	require.NoError(t, err)

	cfg := config.StoreConfig{
		URL:             fmt.Sprintf("http://%s:%s", host, port.Port()),
		Username:        "admin",
		Password:        "testpass",
		Prefix:          "swtest",
		CreateIfMissing: true,
	}

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return cfg, cleanup
}

func TestStore_Integration_LogRoundTrip(t *testing.T) {
	cfg, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	ctx := context.Background()
	s, err := New(ctx, cfg)
	require.NoError(t, err, "Failed to create store")
	defer s.Close()

	t.Run("save and get", func(t *testing.T) {
		log := &model.DeliveryLog{
			TraceID:       "trace-001",
			IntegrationID: "int-001",
			TenantID:      "tenant-1",
			EventID:       "evt-001",
			Status:        model.StatusSuccess,
			AttemptCount:  1,
			Trigger:       model.TriggerEvent,
		}

		require.NoError(t, s.SaveLog(ctx, log))
		assert.NotEmpty(t, log.ID)
		assert.NotEmpty(t, log.Rev)

		got, err := s.GetLog(ctx, log.ID)
		require.NoError(t, err)
		assert.Equal(t, "trace-001", got.TraceID)
		assert.Equal(t, model.StatusSuccess, got.Status)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := s.GetLog(ctx, "does-not-exist")
		assert.True(t, IsNotFound(err))
	})

	t.Run("stale revision conflicts", func(t *testing.T) {
		log := &model.DeliveryLog{
			TraceID:       "trace-002",
			IntegrationID: "int-001",
			TenantID:      "tenant-1",
			Status:        model.StatusRetrying,
			AttemptCount:  1,
			Trigger:       model.TriggerEvent,
		}
		require.NoError(t, s.SaveLog(ctx, log))

		stale := *log
		log.AttemptCount = 2
		require.NoError(t, s.SaveLog(ctx, log))

		stale.AttemptCount = 99
		err := s.SaveLog(ctx, &stale)
		assert.True(t, IsConflict(err), "stale revision should conflict, got %v", err)
	})
}

func TestStore_Integration_FindDueRetries(t *testing.T) {
	cfg, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	ctx := context.Background()
	s, err := New(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	now := time.Now()
	past := now.Add(-5 * time.Minute)
	future := now.Add(5 * time.Minute)

	logs := []*model.DeliveryLog{
		{TraceID: "due-1", IntegrationID: "i", TenantID: "t", Status: model.StatusRetrying, NextRetryAt: &past, Trigger: model.TriggerEvent},
		{TraceID: "due-2", IntegrationID: "i", TenantID: "t", Status: model.StatusRetrying, NextRetryAt: &past, Trigger: model.TriggerEvent},
		{TraceID: "not-due", IntegrationID: "i", TenantID: "t", Status: model.StatusRetrying, NextRetryAt: &future, Trigger: model.TriggerEvent},
		{TraceID: "done", IntegrationID: "i", TenantID: "t", Status: model.StatusSuccess, Trigger: model.TriggerEvent},
	}
	for _, l := range logs {
		require.NoError(t, s.SaveLog(ctx, l))
	}

	time.Sleep(100 * time.Millisecond)

	due, err := s.FindDueRetries(ctx, now, 50)
	require.NoError(t, err)
	require.Len(t, due, 2)
	for _, l := range due {
		assert.Equal(t, model.StatusRetrying, l.Status)
		assert.True(t, l.NextRetryAt.Before(now))
	}
}

func TestStore_Integration_ClaimDueScheduled(t *testing.T) {
	cfg, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	ctx := context.Background()
	s, err := New(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	now := time.Now()

	item := &model.ScheduledIntegration{
		IntegrationID: "int-001",
		TenantID:      "tenant-1",
		ScheduledFor:  now.Add(-time.Minute),
		Payload:       map[string]interface{}{"k": "v"},
		Status:        model.SchedulePending,
	}
	require.NoError(t, s.SaveScheduled(ctx, item))

	notDue := &model.ScheduledIntegration{
		IntegrationID: "int-002",
		TenantID:      "tenant-1",
		ScheduledFor:  now.Add(time.Hour),
		Payload:       map[string]interface{}{},
		Status:        model.SchedulePending,
	}
	require.NoError(t, s.SaveScheduled(ctx, notDue))

	time.Sleep(100 * time.Millisecond)

	t.Run("claims only due items", func(t *testing.T) {
		claimed, err := s.ClaimDueScheduled(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, item.ID, claimed[0].ID)
		assert.Equal(t, model.ScheduleProcessing, claimed[0].Status)
		require.NotNil(t, claimed[0].ClaimedAt)
	})

	t.Run("second claim finds nothing", func(t *testing.T) {
		claimed, err := s.ClaimDueScheduled(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, claimed)
	})

	t.Run("stuck reset returns item to pending", func(t *testing.T) {
		reset, err := s.ResetStuckScheduled(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, reset)

		claimed, err := s.ClaimDueScheduled(ctx, now, 10)
		require.NoError(t, err)
		assert.Len(t, claimed, 1)
	})
}

func TestStore_Integration_ProcessedEvents(t *testing.T) {
	cfg, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	ctx := context.Background()
	s, err := New(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	now := time.Now()

	t.Run("unknown fingerprint is not processed", func(t *testing.T) {
		hit, err := s.CheckProcessed(ctx, "fp-unknown", now)
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("marked fingerprint is processed until expiry", func(t *testing.T) {
		rec := &model.ProcessedEvent{
			Fingerprint: "fp-1",
			EventID:     "evt-1",
			FirstSeenAt: now,
			ExpiresAt:   now.Add(5 * time.Minute),
		}
		require.NoError(t, s.MarkProcessed(ctx, rec))

		hit, err := s.CheckProcessed(ctx, "fp-1", now)
		require.NoError(t, err)
		assert.True(t, hit)

		hit, err = s.CheckProcessed(ctx, "fp-1", now.Add(10*time.Minute))
		require.NoError(t, err)
		assert.False(t, hit, "expired record should not count as processed")
	})

	t.Run("double mark is not an error", func(t *testing.T) {
		rec := &model.ProcessedEvent{
			Fingerprint: "fp-1",
			EventID:     "evt-1",
			FirstSeenAt: now,
			ExpiresAt:   now.Add(5 * time.Minute),
		}
		assert.NoError(t, s.MarkProcessed(ctx, rec))
	})

	t.Run("purge removes expired records", func(t *testing.T) {
		old := &model.ProcessedEvent{
			Fingerprint: "fp-old",
			EventID:     "evt-old",
			FirstSeenAt: now.Add(-48 * time.Hour),
			ExpiresAt:   now.Add(-24 * time.Hour),
		}
		require.NoError(t, s.MarkProcessed(ctx, old))
		time.Sleep(100 * time.Millisecond)

		purged, err := s.PurgeExpiredProcessed(ctx, now, 100)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, purged, 1)

		hit, err := s.CheckProcessed(ctx, "fp-old", now)
		require.NoError(t, err)
		assert.False(t, hit)
	})
}

func TestStore_Integration_CircuitCAS(t *testing.T) {
	cfg, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	ctx := context.Background()
	s, err := New(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	t.Run("missing circuit reads closed", func(t *testing.T) {
		state, err := s.GetCircuit(ctx, "int-cb")
		require.NoError(t, err)
		assert.Equal(t, model.CircuitClosed, state.State)
		assert.Zero(t, state.Failures)
	})

	t.Run("first update creates the document", func(t *testing.T) {
		state, err := s.UpdateCircuit(ctx, "int-cb", func(st *model.CircuitState) (bool, error) {
			st.Failures++
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, state.Failures)
		assert.NotEmpty(t, state.Rev)
	})

	t.Run("subsequent updates go through CAS", func(t *testing.T) {
		state, err := s.UpdateCircuit(ctx, "int-cb", func(st *model.CircuitState) (bool, error) {
			st.Failures++
			if st.Failures >= 2 {
				now := time.Now()
				st.State = model.CircuitOpen
				st.OpenedAt = &now
			}
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, state.Failures)
		assert.Equal(t, model.CircuitOpen, state.State)
	})

	t.Run("aborted update leaves state untouched", func(t *testing.T) {
		_, err := s.UpdateCircuit(ctx, "int-cb", func(st *model.CircuitState) (bool, error) {
			return false, nil
		})
		assert.Equal(t, ErrCASAborted, err)

		state, err := s.GetCircuit(ctx, "int-cb")
		require.NoError(t, err)
		assert.Equal(t, 2, state.Failures)
	})
}

func TestStore_Integration_PendingDeliveries(t *testing.T) {
	cfg, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	ctx := context.Background()
	s, err := New(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	event := model.Event{
		ID:        "evt-push-1",
		EventType: "appointment.created",
		TenantID:  "tenant-1",
		Payload:   map[string]interface{}{"appointmentId": "a1"},
		Source:    model.SourceHTTPPush,
	}

	id, err := s.EnqueuePending(ctx, event)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	time.Sleep(100 * time.Millisecond)

	claimed, err := s.ClaimPendingDeliveries(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "evt-push-1", claimed[0].Event.ID)
	assert.Equal(t, model.PendingProcessing, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].Attempts)

	t.Run("nack returns the row with a delay", func(t *testing.T) {
		require.NoError(t, s.NackPending(ctx, claimed[0].ID, time.Minute))

		again, err := s.ClaimPendingDeliveries(ctx, time.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, again, "nacked row should not be due yet")

		later, err := s.ClaimPendingDeliveries(ctx, time.Now().Add(2*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, later, 1)
		assert.Equal(t, 2, later[0].Attempts)
	})

	t.Run("complete deletes the row", func(t *testing.T) {
		rows, err := Find[model.PendingDelivery](ctx, s, CollPending, MangoQuery{
			Selector: map[string]interface{}{"status": map[string]interface{}{"$exists": true}},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)

		require.NoError(t, s.CompletePending(ctx, rows[0].ID, rows[0].Rev))

		rows, err = Find[model.PendingDelivery](ctx, s, CollPending, MangoQuery{
			Selector: map[string]interface{}{"status": map[string]interface{}{"$exists": true}},
		})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestStore_Integration_TokenCache(t *testing.T) {
	cfg, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	ctx := context.Background()
	s, err := New(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	integration := &model.IntegrationConfig{
		ID:         "int-token",
		Name:       "token test",
		TenantID:   "tenant-1",
		EventTypes: []string{"x"},
		TargetURL:  "https://example.com/hook",
		Active:     true,
	}
	require.NoError(t, s.SaveIntegration(ctx, integration))

	cache := &model.TokenCache{
		Token:     "tok-123",
		ExpiresAt: time.Now().Add(time.Hour),
		FetchedAt: time.Now(),
	}
	require.NoError(t, s.UpdateTokenCache(ctx, "int-token", cache))

	got, err := s.GetIntegration(ctx, "int-token")
	require.NoError(t, err)
	require.NotNil(t, got.TokenCache)
	assert.Equal(t, "tok-123", got.TokenCache.Token)

	require.NoError(t, s.ClearTokenCache(ctx, "int-token"))

	got, err = s.GetIntegration(ctx, "int-token")
	require.NoError(t, err)
	assert.Nil(t, got.TokenCache)

	// Clearing an already clear cache is a no-op.
	assert.NoError(t, s.ClearTokenCache(ctx, "int-token"))
}
