package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	s := New(Config{}, zerolog.Nop(), func() any {
		return map[string]any{"state": "Running", "generation": 12}
	})
	rec := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Running", body["state"])
	assert.Equal(t, float64(12), body["generation"])

	s = New(Config{}, zerolog.Nop(), nil)
	assert.Equal(t, http.StatusNoContent, get(t, s, "/status").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := New(Config{}, zerolog.Nop(), nil)
	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())

	rec = get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestParseAddr(t *testing.T) {
	cfg, err := ParseAddr("localhost:5510")
	require.NoError(t, err)
	assert.Equal(t, Config{Host: "localhost", Port: 5510}, cfg)
	_, err = ParseAddr("localhost")
	assert.Error(t, err)
	_, err = ParseAddr("localhost:http")
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Config{Host: "127.0.0.1", Port: 0}, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
