package bot

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"upvotebot/state"
)

// statusResponse is the read-only operational snapshot served on /status.
type statusResponse struct {
	LastProcessedBlock uint64 `json:"lastProcessedBlock"`
	ProcessedCount     int    `json:"processedCount"`
	Threshold          uint64 `json:"threshold"`
	Inventory          int    `json:"inventory"`
	UptimeSeconds      int64  `json:"uptimeSeconds"`
}

// newAdminRouter serves liveness, metrics, and a status snapshot. Handlers
// only read in-memory state; no network calls fire from this surface.
func newAdminRouter(rec *state.Reconciliation, started time.Time) http.Handler {
	router := chi.NewRouter()

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		threshold, inventory, _ := rec.LastSnapshot()
		resp := statusResponse{
			LastProcessedBlock: rec.LastBlock(),
			ProcessedCount:     rec.ProcessedCount(),
			Threshold:          threshold,
			Inventory:          inventory,
			UptimeSeconds:      int64(time.Since(started).Seconds()),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	return router
}
