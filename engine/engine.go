// Package engine holds the award decision logic: given a matched upvote
// event, check inventory and dispatch the award, recording every outcome in
// the audit log.
package engine

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"upvotebot/auditlog"
	"upvotebot/dispenser"
	"upvotebot/observability"
	"upvotebot/state"
)

// TrackedEvent is one observed upvote event, already decoded and filtered.
type TrackedEvent struct {
	TxHash   common.Hash
	LogIndex uint
	Block    uint64
	User     common.Address
	Asset    common.Address
	Votes    *big.Int
}

// Key returns the event's idempotency key.
func (e TrackedEvent) Key() string {
	return state.EventKey(e.TxHash, e.LogIndex)
}

// Awarder submits the award-granting transaction.
type Awarder interface {
	AddUpvotes(ctx context.Context, user common.Address, amount *big.Int) (common.Hash, error)
}

// ConfigSource serves dispenser config snapshots within the freshness window.
type ConfigSource interface {
	Get(ctx context.Context) dispenser.Snapshot
}

// VotesReader optionally reads a user's accumulated on-chain vote balance,
// logged for observability beside each dispatch.
type VotesReader interface {
	UserUpvotes(ctx context.Context, user common.Address) (*big.Int, error)
}

// Engine decides whether a matched event results in an award.
type Engine struct {
	rec     *state.Reconciliation
	cache   ConfigSource
	awarder Awarder
	audit   *auditlog.Logger
	amount  uint64

	votes   VotesReader
	logger  *slog.Logger
	metrics *observability.BotMetrics
	now     func() time.Time
}

// Option customises the engine.
type Option func(*Engine)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics supplies the metrics registry.
func WithMetrics(m *observability.BotMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithVotesReader enables the observational per-user vote read.
func WithVotesReader(r VotesReader) Option {
	return func(e *Engine) { e.votes = r }
}

// WithClock sets the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.now = clock }
}

// New constructs the engine. amount is the fixed vote amount granted per
// award; it mirrors the bot's configured threshold, not the contract's
// dynamic one.
func New(rec *state.Reconciliation, cache ConfigSource, awarder Awarder, audit *auditlog.Logger, amount uint64, opts ...Option) *Engine {
	eng := &Engine{
		rec:     rec,
		cache:   cache,
		awarder: awarder,
		audit:   audit,
		amount:  amount,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(eng)
	}
	return eng
}

// HandleUpvote runs the award decision for one matched event. The caller has
// already marked the event's idempotency key; whatever happens here, the
// event is never reprocessed. Failures are soft: logged and swallowed so the
// watch loop keeps running.
func (e *Engine) HandleUpvote(ctx context.Context, event TrackedEvent) {
	snapshot := e.cache.Get(ctx)
	e.metrics.RecordInventory(snapshot.Inventory())

	if snapshot.Inventory() == 0 {
		e.logger.Warn("dispenser depleted, award skipped",
			"user", event.User.Hex(),
			"source_tx", event.TxHash.Hex(),
		)
		e.auditWrite(auditlog.TypeDepleted, auditlog.LevelWarn, map[string]any{
			"user":      event.User.Hex(),
			"source_tx": event.TxHash.Hex(),
			"event":     event.Key(),
			"stale":     snapshot.Stale,
		})
		e.metrics.RecordAward("depleted")
		return
	}

	if e.votes != nil {
		if balance, err := e.votes.UserUpvotes(ctx, event.User); err == nil {
			e.logger.Debug("user vote balance before award",
				"user", event.User.Hex(),
				"balance", balance.String(),
			)
		}
	}

	amount := new(big.Int).SetUint64(e.amount)
	start := e.now()
	txHash, err := e.awarder.AddUpvotes(ctx, event.User, amount)
	e.metrics.ObserveDispatch(e.now().Sub(start))
	if err != nil {
		e.logger.Error("award dispatch failed",
			"user", event.User.Hex(),
			"source_tx", event.TxHash.Hex(),
			"error", err,
		)
		e.auditWrite(auditlog.TypeAwardFailed, auditlog.LevelError, map[string]any{
			"user":      event.User.Hex(),
			"amount":    e.amount,
			"source_tx": event.TxHash.Hex(),
			"error":     err.Error(),
		})
		e.metrics.RecordAward("failed")
		return
	}

	e.logger.Info("nft award dispatched",
		"user", event.User.Hex(),
		"award_tx", txHash.Hex(),
		"source_tx", event.TxHash.Hex(),
	)
	e.auditWrite(auditlog.TypeAwarded, auditlog.LevelInfo, map[string]any{
		"user":             event.User.Hex(),
		"amount":           e.amount,
		"source_tx":        event.TxHash.Hex(),
		"award_tx":         txHash.Hex(),
		"inventory_before": snapshot.Inventory(),
	})
	e.metrics.RecordAward("awarded")
}

func (e *Engine) auditWrite(typ auditlog.Type, level string, fields map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Write(typ, level, fields); err != nil {
		e.logger.Warn("audit record dropped", "type", string(typ), "error", err)
	}
}
