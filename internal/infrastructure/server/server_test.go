package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Server.Port = "0"
	return cfg
}

func TestNewServerServesAdminAPI(t *testing.T) {
	s, err := NewServer(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	for _, path := range []string{"/health", "/api/processes", "/api/sched/records", "/metrics", "/services"} {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
	assert.Equal(t, 6, s.Kernel().Live())
}

func TestNewServerLoadsManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boot.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
manager = "pm"

[[processes]]
name = "pm"
privileges = ["system"]

[[processes]]
name = "init"
scheduler = "kernel"
priority = 3
quantum = 50
`), 0o644))

	cfg := testConfig()
	cfg.Boot.Manifest = path
	s, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	initProc, ok := s.Kernel().Lookup("init")
	require.True(t, ok)
	assert.Equal(t, 3, initProc.Sched().Priority)
}

func TestNewServerRejectsBadManifest(t *testing.T) {
	cfg := testConfig()
	cfg.Boot.Manifest = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewServer(context.Background(), cfg)
	assert.Error(t, err)
}

func TestToolCallsShareGlobalLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.ToolsPerSecond = 1
	s, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	call := func() int {
		body := strings.NewReader(`{"tool_id":"ipc.grants","caller":"vfs"}`)
		req := httptest.NewRequest("POST", "/services/execute", body)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, call())
	assert.Equal(t, http.StatusTooManyRequests, call())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := NewServer(context.Background(), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, alive := s.Kernel().Lookup("sched")
	assert.False(t, alive)
}
