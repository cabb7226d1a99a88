package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// persistedState is the on-disk JSON shape. Field names are part of the
// state-file format and must not change between releases.
type persistedState struct {
	LastProcessed      string   `json:"lastProcessed"`
	Tip                string   `json:"tip"`
	LastProcessedBlock uint64   `json:"lastProcessedBlock"`
	Processed          []string `json:"processed"`
}

// Store reads and rewrites the durable state file. The file is rewritten in
// place each heartbeat tick; a torn write loses at most one tick of
// bookkeeping, which the idempotency rules tolerate.
type Store struct {
	path  string
	limit int
	now   func() time.Time
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithPersistLimit overrides the processed-key cap written to disk.
func WithPersistLimit(limit int) StoreOption {
	return func(s *Store) { s.limit = limit }
}

// WithClock sets the function used to timestamp persisted state.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) { s.now = clock }
}

// NewStore constructs a store persisting to path.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{path: path, limit: PersistLimit, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the state file and rehydrates a Reconciliation. A missing file
// yields an empty state; a corrupt file is an error so an operator can decide
// whether to discard it.
func (s *Store) Load() (*Reconciliation, error) {
	rec := NewReconciliation()
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rec, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var persisted persistedState
	if err := json.Unmarshal(raw, &persisted); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", s.path, err)
	}
	rec.restore(persisted)
	return rec, nil
}

// Save rewrites the state file from the current in-memory record.
func (s *Store) Save(rec *Reconciliation) error {
	if rec == nil {
		return errors.New("nil state record")
	}
	persisted := rec.persistable(s.limit, s.now())
	raw, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
