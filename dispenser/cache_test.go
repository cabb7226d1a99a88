package dispenser

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubReader struct {
	threshold    uint64
	queued       []*big.Int
	err          error
	thresholdGot int
	queuedGot    int
}

func (s *stubReader) UpvotesRequired(context.Context) (uint64, error) {
	s.thresholdGot++
	if s.err != nil {
		return 0, s.err
	}
	return s.threshold, nil
}

func (s *stubReader) QueuedNFTs(context.Context) ([]*big.Int, error) {
	s.queuedGot++
	if s.err != nil {
		return nil, s.err
	}
	return s.queued, nil
}

func queue(n int) []*big.Int {
	ids := make([]*big.Int, n)
	for i := range ids {
		ids[i] = big.NewInt(int64(i + 1))
	}
	return ids
}

func TestCacheServesFreshSnapshotWithoutRefetch(t *testing.T) {
	reader := &stubReader{threshold: 500, queued: queue(3)}
	now := time.Unix(1700000000, 0)
	cache := NewCache(reader, time.Minute, 420, nil, WithCacheClock(func() time.Time { return now }))

	first := cache.Get(context.Background())
	require.EqualValues(t, 500, first.UpvotesRequired)
	require.Equal(t, 3, first.Inventory())
	require.False(t, first.Stale)

	now = now.Add(30 * time.Second)
	second := cache.Get(context.Background())
	require.Equal(t, first.FetchedAt, second.FetchedAt)
	require.Equal(t, 1, reader.thresholdGot)
	require.Equal(t, 1, reader.queuedGot)
}

func TestCacheRefreshesPastWindow(t *testing.T) {
	reader := &stubReader{threshold: 500, queued: queue(3)}
	now := time.Unix(1700000000, 0)
	cache := NewCache(reader, time.Minute, 420, nil, WithCacheClock(func() time.Time { return now }))

	cache.Get(context.Background())
	reader.queued = queue(1)
	now = now.Add(61 * time.Second)

	snapshot := cache.Get(context.Background())
	require.Equal(t, 1, snapshot.Inventory())
	require.Equal(t, 2, reader.queuedGot)
}

func TestCacheFallsBackToStaleSnapshot(t *testing.T) {
	reader := &stubReader{threshold: 500, queued: queue(2)}
	now := time.Unix(1700000000, 0)
	cache := NewCache(reader, time.Minute, 420, nil, WithCacheClock(func() time.Time { return now }))

	cache.Get(context.Background())
	reader.err = errors.New("rpc down")
	now = now.Add(2 * time.Minute)

	snapshot := cache.Get(context.Background())
	require.True(t, snapshot.Stale)
	require.EqualValues(t, 500, snapshot.UpvotesRequired)
	require.Equal(t, 2, snapshot.Inventory())
}

func TestCacheDefaultsToZeroInventoryWhenNeverRead(t *testing.T) {
	reader := &stubReader{err: errors.New("rpc down")}
	cache := NewCache(reader, time.Minute, 420, nil)

	snapshot := cache.Get(context.Background())
	require.True(t, snapshot.Stale)
	require.EqualValues(t, 420, snapshot.UpvotesRequired)
	require.Equal(t, 0, snapshot.Inventory())
}
