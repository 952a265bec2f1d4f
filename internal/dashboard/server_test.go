package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_sentinel/internal/daemon"
)

type stubStatus struct {
	status daemon.Status
}

func (s *stubStatus) Status() daemon.Status { return s.status }

func newTestServer() (*Server, *stubStatus) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	stub := &stubStatus{status: daemon.Status{
		Running:       true,
		DryRun:        true,
		DailyPnl:      -150.5,
		TradingLocked: false,
		Rules:         []string{"max_contracts", "daily_loss"},
	}}
	return NewServer(0, stub, log), stub
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got daemon.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Running)
	assert.InDelta(t, -150.5, got.DailyPnl, 1e-9)
	assert.Equal(t, []string{"max_contracts", "daily_loss"}, got.Rules)
}
