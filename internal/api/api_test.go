package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/quotawatch/internal/display"
	"github.com/goodtune/quotawatch/internal/monitor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu       sync.Mutex
	calls    []string
	err      error
	snapshot display.Snapshot
}

func (f *fakeController) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeController) LimitReached() error { return f.record("limit") }
func (f *fakeController) Clear() error        { return f.record("clear") }
func (f *fakeController) Refresh() error      { return f.record("refresh") }

func (f *fakeController) Snapshot(ctx context.Context) (display.Snapshot, error) {
	if err := f.record("snapshot"); err != nil {
		return display.Snapshot{}, err
	}
	return f.snapshot, nil
}

func newTestServer(controller Controller, recorder *display.Recorder) http.Handler {
	s := NewServer("127.0.0.1:0", Deps{Controller: controller, Recorder: recorder}, zerolog.Nop())
	return s.Handler()
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestActionsEnqueue(t *testing.T) {
	tests := []struct {
		path string
		call string
	}{
		{"/api/limit", "limit"},
		{"/api/clear", "clear"},
		{"/api/refresh", "refresh"},
	}

	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			fake := &fakeController{}
			h := newTestServer(fake, nil)

			rec := do(h, http.MethodPost, tt.path)
			require.Equal(t, http.StatusAccepted, rec.Code)
			assert.Equal(t, []string{tt.call}, fake.calls)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.call, body["action"])
		})
	}
}

func TestActionsRequirePost(t *testing.T) {
	fake := &fakeController{}
	h := newTestServer(fake, nil)

	rec := do(h, http.MethodGet, "/api/limit")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, fake.calls)
}

func TestActionAfterStop(t *testing.T) {
	fake := &fakeController{err: monitor.ErrStopped}
	h := newTestServer(fake, nil)

	rec := do(h, http.MethodPost, "/api/clear")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "stopped")
}

func TestStatusFromRecorder(t *testing.T) {
	fake := &fakeController{}
	recorder := display.NewRecorder()
	reset := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	recorder.Render(display.Snapshot{
		Mode:          "countdown",
		Status:        "waiting",
		RemainingText: "04:59:59",
		ResetAt:       &reset,
		ContactTarget: "+15550100",
	})
	h := newTestServer(fake, recorder)

	rec := do(h, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, fake.calls, "recorded snapshot should not hit the monitor")

	var snap display.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "waiting", snap.Status)
	assert.Equal(t, "04:59:59", snap.RemainingText)
	assert.Equal(t, "+15550100", snap.ContactTarget)
	require.NotNil(t, snap.ResetAt)
	assert.True(t, reset.Equal(*snap.ResetAt))
}

func TestStatusFallsBackToMonitor(t *testing.T) {
	fake := &fakeController{snapshot: display.Snapshot{Mode: "poll", Status: "active"}}
	h := newTestServer(fake, display.NewRecorder())

	rec := do(h, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"snapshot"}, fake.calls)
	assert.Contains(t, rec.Body.String(), `"status":"active"`)
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeController{}, nil)

	rec := do(h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
