package bot

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"upvotebot/state"
)

func TestHealthz(t *testing.T) {
	router := newAdminRouter(state.NewReconciliation(), time.Now())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestStatusReportsReconciliationState(t *testing.T) {
	rec := state.NewReconciliation()
	rec.MarkProcessed("a")
	rec.MarkProcessed("b")
	rec.SetLastBlock(1234)
	rec.RecordSnapshot(500, 3, time.Now())

	router := newAdminRouter(rec, time.Now().Add(-time.Minute))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &status))
	require.EqualValues(t, 1234, status.LastProcessedBlock)
	require.Equal(t, 2, status.ProcessedCount)
	require.EqualValues(t, 500, status.Threshold)
	require.Equal(t, 3, status.Inventory)
	require.GreaterOrEqual(t, status.UptimeSeconds, int64(59))
}

func TestMetricsEndpointServes(t *testing.T) {
	router := newAdminRouter(state.NewReconciliation(), time.Now())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}
