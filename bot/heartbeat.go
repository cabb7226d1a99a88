package bot

import (
	"context"
	"log/slog"
	"time"

	"upvotebot/auditlog"
	"upvotebot/dispenser"
	"upvotebot/observability"
	"upvotebot/state"
)

// livenessEvery controls how many ticks pass between liveness log lines.
const livenessEvery = 10

// snapshotSource serves dispenser config snapshots within the cache's
// freshness policy.
type snapshotSource interface {
	Get(ctx context.Context) dispenser.Snapshot
}

// heartbeat periodically refreshes the dispenser config snapshot, persists
// reconciliation state, and reports liveness. It runs beside the watcher and
// only touches shared state through the mutex-guarded record.
type heartbeat struct {
	cache   snapshotSource
	store   *state.Store
	rec     *state.Reconciliation
	audit   *auditlog.Logger
	logger  *slog.Logger
	metrics *observability.BotMetrics

	interval time.Duration
}

func (h *heartbeat) run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx, tick)
		}
	}
}

func (h *heartbeat) tick(ctx context.Context, n int) {
	snapshot := h.cache.Get(ctx)
	h.metrics.RecordInventory(snapshot.Inventory())

	// Threshold drift between ticks is logged for observability only; the
	// bot's own filter keeps using its fixed configured constant.
	if prev, _, ok := h.rec.LastSnapshot(); ok && !snapshot.Stale && prev != snapshot.UpvotesRequired {
		h.logger.Warn("dispenser threshold changed",
			"previous", prev,
			"current", snapshot.UpvotesRequired,
		)
		if err := h.audit.Warn(auditlog.TypeConfigChanged, map[string]any{
			"field":    "upvotesRequired",
			"previous": prev,
			"current":  snapshot.UpvotesRequired,
		}); err != nil {
			h.logger.Warn("audit record dropped", "type", string(auditlog.TypeConfigChanged), "error", err)
		}
	}
	if !snapshot.Stale {
		h.rec.RecordSnapshot(snapshot.UpvotesRequired, snapshot.Inventory(), snapshot.FetchedAt)
	}

	if err := h.store.Save(h.rec); err != nil {
		h.logger.Warn("state persistence failed", "error", err)
	}

	if n%livenessEvery == 0 {
		h.logger.Info("heartbeat",
			"tick", n,
			"last_block", h.rec.LastBlock(),
			"processed", h.rec.ProcessedCount(),
			"inventory", snapshot.Inventory(),
			"threshold", snapshot.UpvotesRequired,
			"stale_config", snapshot.Stale,
		)
	}
}
