package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronesync-desktop/internal/models"
	"dronesync-desktop/internal/services/health"
	"dronesync-desktop/internal/services/monitor"
	"dronesync-desktop/internal/services/projector"
	"dronesync-desktop/internal/services/scheduler"
)

type fakeProvider struct {
	active    bool
	progress  []projector.Progress
	runs      []models.ResyncRun
	runsErr   error
	lastLimit int
}

func (f *fakeProvider) Status() (monitor.Status, bool) {
	if !f.active {
		return monitor.Status{}, false
	}
	return monitor.Status{SessionID: "s1", Running: true, Health: health.Degraded, Mode: scheduler.Aggressive}, true
}

func (f *fakeProvider) Progress() ([]projector.Progress, bool) {
	return f.progress, f.active
}

func (f *fakeProvider) Runs(limit int) ([]models.ResyncRun, error) {
	f.lastLimit = limit
	return f.runs, f.runsErr
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Run("Should report the active session", func(t *testing.T) {
		s := NewServer(&fakeProvider{active: true}, "1.0.0")

		rec := get(t, s, "/api/health")

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "1.0.0", body["version"])
		session := body["session"].(map[string]interface{})
		assert.Equal(t, "degraded", session["health"])
		assert.Equal(t, "aggressive", session["mode"])
	})

	t.Run("Should answer without a session", func(t *testing.T) {
		s := NewServer(&fakeProvider{}, "1.0.0")

		rec := get(t, s, "/api/health")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"session":null`)
	})
}

func TestProgress(t *testing.T) {
	t.Run("Should list units with a summary", func(t *testing.T) {
		s := NewServer(&fakeProvider{active: true, progress: []projector.Progress{
			{AreaCode: "A", ProgressPct: 80, State: projector.InProgress, Queued: 20},
			{AreaCode: "C", ProgressPct: 0, State: projector.Complete},
		}}, "dev")

		rec := get(t, s, "/api/progress")

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Units   []projector.Progress `json:"units"`
			Summary projector.Summary    `json:"summary"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.Units, 2)
		assert.Equal(t, projector.Summary{Units: 2, Complete: 1, InProgress: 1, Queued: 20}, body.Summary)
	})

	t.Run("Should be unavailable without a session", func(t *testing.T) {
		rec := get(t, NewServer(&fakeProvider{}, "dev"), "/api/progress")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestRuns(t *testing.T) {
	t.Run("Should pass the limit through", func(t *testing.T) {
		p := &fakeProvider{runs: []models.ResyncRun{{ID: "r1", Status: models.RunCompleted}}}
		rec := get(t, NewServer(p, "dev"), "/api/runs?limit=5")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 5, p.lastLimit)
		assert.Contains(t, rec.Body.String(), `"r1"`)
	})

	t.Run("Should default and validate the limit", func(t *testing.T) {
		p := &fakeProvider{}
		s := NewServer(p, "dev")

		get(t, s, "/api/runs")
		assert.Equal(t, 20, p.lastLimit)

		assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/runs?limit=abc").Code)
	})

	t.Run("Should surface store errors", func(t *testing.T) {
		p := &fakeProvider{runsErr: errors.New("disk I/O error")}
		assert.Equal(t, http.StatusInternalServerError, get(t, NewServer(p, "dev"), "/api/runs").Code)
	})
}

func TestLifecycle(t *testing.T) {
	t.Run("Should serve once Start returns", func(t *testing.T) {
		s := NewServer(&fakeProvider{}, "dev")
		require.NoError(t, s.Start("127.0.0.1:0"))
		defer s.Shutdown(context.Background())

		require.NotNil(t, s.Addr())
		resp, err := http.Get(fmt.Sprintf("http://%s/api/health", s.Addr()))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Should not listen after an immediate shutdown", func(t *testing.T) {
		s := NewServer(&fakeProvider{}, "dev")
		require.NoError(t, s.Start("127.0.0.1:0"))
		addr := s.Addr().String()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, s.Shutdown(ctx))

		time.Sleep(50 * time.Millisecond)
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
		}
		assert.Error(t, err, "listener is closed")
	})

	t.Run("Should report bind failures", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		s := NewServer(&fakeProvider{}, "dev")
		assert.Error(t, s.Start(ln.Addr().String()))
		assert.Nil(t, s.Addr())
		assert.NoError(t, s.Shutdown(context.Background()))
	})
}
