package dispenser

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

// Snapshot is a timestamped view of the remote dispenser configuration.
type Snapshot struct {
	UpvotesRequired uint64
	QueuedNFTs      []*big.Int
	FetchedAt       time.Time
	// Stale marks a snapshot served past its freshness window because the
	// live read failed, or the hardcoded fallback when no read ever
	// succeeded.
	Stale bool
}

// Inventory returns the queued NFT count.
func (s Snapshot) Inventory() int {
	return len(s.QueuedNFTs)
}

// Reader is the read surface of the dispenser contract the cache refreshes
// from.
type Reader interface {
	UpvotesRequired(ctx context.Context) (uint64, error)
	QueuedNFTs(ctx context.Context) ([]*big.Int, error)
}

// Cache bounds read-call volume against the dispenser contract. Get returns
// a snapshot no older than the freshness window; on refresh failure it serves
// the previous snapshot marked stale, or a conservative zero-inventory
// default when none exists, so downstream logic degrades to "no inventory"
// instead of crashing.
type Cache struct {
	reader           Reader
	ttl              time.Duration
	defaultThreshold uint64
	logger           *slog.Logger
	now              func() time.Time

	mu      sync.Mutex
	current *Snapshot
}

// CacheOption customises a Cache.
type CacheOption func(*Cache)

// WithCacheClock sets the time source, for tests.
func WithCacheClock(clock func() time.Time) CacheOption {
	return func(c *Cache) { c.now = clock }
}

// NewCache constructs a cache over reader with the given freshness window.
// defaultThreshold seeds the fallback snapshot used before any successful
// read.
func NewCache(reader Reader, ttl time.Duration, defaultThreshold uint64, logger *slog.Logger, opts ...CacheOption) *Cache {
	cache := &Cache{
		reader:           reader,
		ttl:              ttl,
		defaultThreshold: defaultThreshold,
		logger:           logger,
		now:              time.Now,
	}
	if cache.logger == nil {
		cache.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache
}

// Get returns the current snapshot, refreshing it when expired.
func (c *Cache) Get(ctx context.Context) Snapshot {
	c.mu.Lock()
	if c.current != nil && c.now().Sub(c.current.FetchedAt) < c.ttl {
		snapshot := *c.current
		c.mu.Unlock()
		return snapshot
	}
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh forces a live read regardless of snapshot age.
func (c *Cache) Refresh(ctx context.Context) Snapshot {
	var (
		wg           sync.WaitGroup
		threshold    uint64
		thresholdErr error
		queued       []*big.Int
		queuedErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		threshold, thresholdErr = c.reader.UpvotesRequired(ctx)
	}()
	go func() {
		defer wg.Done()
		queued, queuedErr = c.reader.QueuedNFTs(ctx)
	}()
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if thresholdErr != nil || queuedErr != nil {
		err := thresholdErr
		if err == nil {
			err = queuedErr
		}
		c.logger.Warn("dispenser config read failed", "error", err)
		if c.current != nil {
			stale := *c.current
			stale.Stale = true
			c.current = &stale
			return stale
		}
		fallback := Snapshot{
			UpvotesRequired: c.defaultThreshold,
			FetchedAt:       c.now(),
			Stale:           true,
		}
		return fallback
	}

	fresh := Snapshot{
		UpvotesRequired: threshold,
		QueuedNFTs:      queued,
		FetchedAt:       c.now(),
	}
	c.current = &fresh
	return fresh
}
