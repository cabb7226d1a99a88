package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PersistLimit caps how many processed-event keys are written to durable
// storage. The in-memory set may grow past this during a run; only the
// most-recent keys survive a restart.
const PersistLimit = 500

// EventKey derives the idempotency key for a delivered log entry. The
// transaction hash plus the log's index within the transaction is globally
// unique on the ledger.
func EventKey(txHash common.Hash, logIndex uint) string {
	return fmt.Sprintf("%s:%d", txHash.Hex(), logIndex)
}

// Reconciliation is the process-wide mutable record shared by the watcher,
// engine, and heartbeat loop: the processed-event set, the last processed
// block height, and the last remote-config snapshot observed. A single mutex
// keeps heartbeat persistence from interleaving inside an event's decision
// sequence.
type Reconciliation struct {
	mu        sync.Mutex
	processed map[string]struct{}
	order     []string
	lastBlock uint64

	threshold   uint64
	inventory   int
	snapshotAt  time.Time
	hasSnapshot bool
}

// NewReconciliation returns an empty state record.
func NewReconciliation() *Reconciliation {
	return &Reconciliation{processed: make(map[string]struct{})}
}

// MarkProcessed records the key and reports whether it was newly added.
// A false return means the event was already handled, possibly by a prior
// process incarnation.
func (r *Reconciliation) MarkProcessed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processed[key]; exists {
		return false
	}
	r.processed[key] = struct{}{}
	r.order = append(r.order, key)
	return true
}

// Seen reports whether the key has already been processed.
func (r *Reconciliation) Seen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.processed[key]
	return exists
}

// ProcessedCount returns the size of the in-memory processed set.
func (r *Reconciliation) ProcessedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processed)
}

// SetLastBlock advances the last-processed height. Heights never move
// backwards; out-of-order delivery keeps the highest seen.
func (r *Reconciliation) SetLastBlock(height uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if height > r.lastBlock {
		r.lastBlock = height
	}
}

// LastBlock returns the last-processed block height.
func (r *Reconciliation) LastBlock() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastBlock
}

// RecordSnapshot stores the most recent remote-config observation.
func (r *Reconciliation) RecordSnapshot(threshold uint64, inventory int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold = threshold
	r.inventory = inventory
	r.snapshotAt = at
	r.hasSnapshot = true
}

// LastSnapshot returns the most recent remote-config observation, if any.
func (r *Reconciliation) LastSnapshot() (threshold uint64, inventory int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold, r.inventory, r.hasSnapshot
}

// snapshot renders the persistable view: the most-recent keys up to limit,
// tip, and last block. Called with the lock held by the store.
func (r *Reconciliation) persistable(limit int, now time.Time) persistedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.order
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}
	out := persistedState{
		LastProcessed:      now.UTC().Format(time.RFC3339),
		LastProcessedBlock: r.lastBlock,
		Processed:          append([]string(nil), keys...),
	}
	if len(keys) > 0 {
		out.Tip = keys[len(keys)-1]
	}
	return out
}

// restore rehydrates the set from a persisted record.
func (r *Reconciliation) restore(p persistedState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range p.Processed {
		if _, exists := r.processed[key]; exists {
			continue
		}
		r.processed[key] = struct{}{}
		r.order = append(r.order, key)
	}
	if p.LastProcessedBlock > r.lastBlock {
		r.lastBlock = p.LastProcessedBlock
	}
}
