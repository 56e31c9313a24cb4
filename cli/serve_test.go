package cli

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchyard.dev/config"
	"switchyard.dev/sources"
)

func TestNewPushServerServesHealth(t *testing.T) {
	e := newPushServer(config.ServerConfig{}, sources.NewPushGateway(nil))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestNewPushServerEnforcesBodyLimit(t *testing.T) {
	e := newPushServer(config.ServerConfig{BodyLimit: "1K"}, sources.NewPushGateway(nil))

	body := strings.NewReader(strings.Repeat("x", 2048))
	req := httptest.NewRequest(http.MethodPost, "/events/org-1", body)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestOpenSharedSQLWithoutDSN(t *testing.T) {
	db, closeDB, err := openSharedSQL(config.SharedSQLConfig{})
	require.NoError(t, err)
	assert.Nil(t, db)
	closeDB()
}

func TestRootCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"serve", "replay", "secret", "version"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}
