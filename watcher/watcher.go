// Package watcher consumes the upvote event stream and drives the engine.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"upvotebot/auditlog"
	"upvotebot/engine"
	"upvotebot/observability"
	"upvotebot/state"
)

// upvotedSignature is the topic hash of the application contract's
// Upvoted(address indexed voter, address indexed asset, uint256 votes) event.
var upvotedSignature = gethcrypto.Keccak256Hash([]byte("Upvoted(address,address,uint256)"))

// Subscriber is the subset of the Ethereum client used to establish the log
// subscription. *ethclient.Client satisfies it.
type Subscriber interface {
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Handler receives matched events for the award decision.
type Handler interface {
	HandleUpvote(ctx context.Context, event engine.TrackedEvent)
}

// Watcher subscribes to Upvoted logs from the application contract,
// deduplicates and filters them, and hands matches to the engine. Log entries
// are processed strictly sequentially; the next entry is not touched until
// the current one's award-or-skip decision has settled.
type Watcher struct {
	client   Subscriber
	app      common.Address
	asset    common.Address
	required *big.Int
	rec      *state.Reconciliation
	handler  Handler
	audit    *auditlog.Logger
	logger   *slog.Logger
	metrics  *observability.BotMetrics
}

// Option customises the watcher.
type Option func(*Watcher)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// WithMetrics supplies the metrics registry.
func WithMetrics(m *observability.BotMetrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// New constructs a watcher for Upvoted events emitted by app, matching the
// tracked asset and the fixed required vote count.
func New(client Subscriber, app, asset common.Address, required uint64, rec *state.Reconciliation, handler Handler, audit *auditlog.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		client:   client,
		app:      app,
		asset:    asset,
		required: new(big.Int).SetUint64(required),
		rec:      rec,
		handler:  handler,
		audit:    audit,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run establishes the subscription and processes entries until the context
// is cancelled or the subscription fails. Subscription errors are returned to
// the caller; the watcher does not reconnect on its own.
func (w *Watcher) Run(ctx context.Context) error {
	logs := make(chan types.Log, 128)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{w.app},
		Topics:    [][]common.Hash{{upvotedSignature}},
	}
	sub, err := w.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("subscribe upvote logs: %w", err)
	}
	defer sub.Unsubscribe()

	w.logger.Info("watching for upvote events",
		"app", w.app.Hex(),
		"asset", w.asset.Hex(),
		"required", w.required.String(),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				return nil
			}
			return fmt.Errorf("upvote subscription terminated: %w", err)
		case entry := <-logs:
			w.Process(ctx, entry)
		}
	}
}

// Process runs the full per-entry pipeline: dedupe, decode, filter, mark,
// hand off. Exported so tests can exercise delivery without a live
// subscription.
func (w *Watcher) Process(ctx context.Context, entry types.Log) {
	w.metrics.RecordEventSeen()

	if entry.Removed {
		// Reorged-out log; nothing to act on.
		w.metrics.RecordSkip("removed")
		return
	}

	key := state.EventKey(entry.TxHash, entry.Index)
	if w.rec.Seen(key) {
		// Already handled, possibly by a prior process incarnation.
		w.metrics.RecordSkip("duplicate")
		return
	}

	event, ok := w.decode(entry)
	if !ok {
		w.metrics.RecordSkip("malformed")
		return
	}

	if event.Asset != w.asset {
		w.logger.Debug("event for untracked asset dropped", "asset", event.Asset.Hex(), "event", key)
		w.metrics.RecordSkip("asset")
		return
	}
	if event.Votes.Cmp(w.required) != 0 {
		w.logger.Debug("event with non-matching vote count dropped", "votes", event.Votes.String(), "event", key)
		w.metrics.RecordSkip("amount")
		return
	}

	// Mark before dispatch. A concurrent duplicate delivery loses this race
	// and is dropped, keeping awards at-most-once per event.
	if !w.rec.MarkProcessed(key) {
		w.metrics.RecordSkip("duplicate")
		return
	}
	w.rec.SetLastBlock(entry.BlockNumber)
	w.metrics.RecordLastBlock(entry.BlockNumber)

	if w.audit != nil {
		if err := w.audit.Info(auditlog.TypeEventSeen, map[string]any{
			"event": key,
			"user":  event.User.Hex(),
			"asset": event.Asset.Hex(),
			"votes": event.Votes.String(),
			"block": entry.BlockNumber,
		}); err != nil {
			w.logger.Warn("audit record dropped", "type", string(auditlog.TypeEventSeen), "error", err)
		}
	}

	w.handler.HandleUpvote(ctx, event)
}

// decode extracts the typed event from a raw log entry. Voter and asset are
// indexed topics; the vote count rides in the data payload.
func (w *Watcher) decode(entry types.Log) (engine.TrackedEvent, bool) {
	if len(entry.Topics) < 3 || entry.Topics[0] != upvotedSignature {
		return engine.TrackedEvent{}, false
	}
	return engine.TrackedEvent{
		TxHash:   entry.TxHash,
		LogIndex: entry.Index,
		Block:    entry.BlockNumber,
		User:     common.BytesToAddress(entry.Topics[1].Bytes()),
		Asset:    common.BytesToAddress(entry.Topics[2].Bytes()),
		Votes:    new(big.Int).SetBytes(entry.Data),
	}, true
}
