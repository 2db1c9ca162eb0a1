package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"rpc-gateway/config"
	"rpc-gateway/connection"
	"rpc-gateway/middleware/ratelimit/infra"
	"rpc-gateway/notes"
	"rpc-gateway/transport/websocket"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	chdir(t, t.TempDir())
	t.Setenv("RATE_STATS_ENABLED", "true")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestModule_GraphIsValid(t *testing.T) {
	assert.NoError(t, fx.ValidateApp(module(testConfig(t))))
}

func TestRouter_HealthAndStats(t *testing.T) {
	cfg := testConfig(t)
	m, err := connection.NewManager(connection.Options{Factory: notes.Factory(notes.NewStore())})
	require.NoError(t, err)
	ws, err := websocket.NewServer(websocket.Options{Manager: m, Logger: zap.NewNop()})
	require.NoError(t, err)
	stats := infra.NewMemoryStatsStore()

	h := newRouter(cfg, ws, m, prometheus.NewRegistry(), stats)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 0.0, health["connections"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"byOperation"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClassification_AppliesOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RATE_LIMIT_OPERATIONS", "getNote:critical_expensive,ping:non_critical")
	cfg, err := config.Load()
	require.NoError(t, err)

	table := classification(cfg).Table
	assert.EqualValues(t, "critical_expensive", table[notes.OpGet])
	assert.EqualValues(t, "non_critical", table["ping"])
	assert.EqualValues(t, "critical_expensive", table[notes.OpCreate])
}
