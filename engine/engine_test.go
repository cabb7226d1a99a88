package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"upvotebot/auditlog"
	"upvotebot/dispenser"
	"upvotebot/state"
)

type stubCache struct {
	snapshot dispenser.Snapshot
}

func (s *stubCache) Get(context.Context) dispenser.Snapshot {
	return s.snapshot
}

type stubAwarder struct {
	hash     common.Hash
	err      error
	calls    int
	lastUser common.Address
	lastAmt  *big.Int
}

func (s *stubAwarder) AddUpvotes(_ context.Context, user common.Address, amount *big.Int) (common.Hash, error) {
	s.calls++
	s.lastUser = user
	s.lastAmt = amount
	if s.err != nil {
		return common.Hash{}, s.err
	}
	return s.hash, nil
}

func snapshotWithInventory(n int) dispenser.Snapshot {
	ids := make([]*big.Int, n)
	for i := range ids {
		ids[i] = big.NewInt(int64(100 + i))
	}
	return dispenser.Snapshot{UpvotesRequired: 420, QueuedNFTs: ids, FetchedAt: time.Now()}
}

func testEvent() TrackedEvent {
	return TrackedEvent{
		TxHash:   common.HexToHash("0xf1"),
		LogIndex: 2,
		Block:    3000,
		User:     common.HexToAddress("0xaa"),
		Asset:    common.HexToAddress("0xa5"),
		Votes:    big.NewInt(420),
	}
}

func readAudit(t *testing.T, dir string) []map[string]any {
	t.Helper()
	file, err := os.Open(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	defer file.Close()
	var records []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		records = append(records, record)
	}
	require.NoError(t, scanner.Err())
	return records
}

func newTestEngine(t *testing.T, cache ConfigSource, awarder Awarder, opts ...Option) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	audit, err := auditlog.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })
	return New(state.NewReconciliation(), cache, awarder, audit, 420, opts...), dir
}

func TestAwardDispatchedWhenInventoryAvailable(t *testing.T) {
	awarder := &stubAwarder{hash: common.HexToHash("0xbeef")}
	eng, dir := newTestEngine(t, &stubCache{snapshot: snapshotWithInventory(3)}, awarder)

	eng.HandleUpvote(context.Background(), testEvent())

	require.Equal(t, 1, awarder.calls)
	require.Equal(t, common.HexToAddress("0xaa"), awarder.lastUser)
	require.EqualValues(t, 420, awarder.lastAmt.Int64())

	records := readAudit(t, dir)
	require.Len(t, records, 1)
	require.Equal(t, "nft_awarded", records[0]["type"])
	require.Equal(t, common.HexToHash("0xbeef").Hex(), records[0]["award_tx"])
	require.Equal(t, common.HexToHash("0xf1").Hex(), records[0]["source_tx"])
	require.EqualValues(t, 3, records[0]["inventory_before"])
}

func TestDepletedInventorySkipsDispatch(t *testing.T) {
	awarder := &stubAwarder{}
	eng, dir := newTestEngine(t, &stubCache{snapshot: snapshotWithInventory(0)}, awarder)

	eng.HandleUpvote(context.Background(), testEvent())

	require.Equal(t, 0, awarder.calls)
	records := readAudit(t, dir)
	require.Len(t, records, 1)
	require.Equal(t, "dispenser_depleted", records[0]["type"])
	require.Equal(t, "warn", records[0]["level"])
}

func TestDispatchFailureLoggedAsSoftFailure(t *testing.T) {
	awarder := &stubAwarder{err: errors.New("execution reverted")}
	eng, dir := newTestEngine(t, &stubCache{snapshot: snapshotWithInventory(1)}, awarder)

	eng.HandleUpvote(context.Background(), testEvent())

	require.Equal(t, 1, awarder.calls)
	records := readAudit(t, dir)
	require.Len(t, records, 1)
	require.Equal(t, "award_failed", records[0]["type"])
	require.Equal(t, "error", records[0]["level"])
	require.Contains(t, records[0]["error"], "reverted")
}

func TestTwoQualifyingEventsAwardIndependently(t *testing.T) {
	awarder := &stubAwarder{hash: common.HexToHash("0x01")}
	eng, _ := newTestEngine(t, &stubCache{snapshot: snapshotWithInventory(2)}, awarder)

	first := testEvent()
	second := testEvent()
	second.TxHash = common.HexToHash("0xf2")
	eng.HandleUpvote(context.Background(), first)
	eng.HandleUpvote(context.Background(), second)

	require.Equal(t, 2, awarder.calls)
}

type stubVotes struct {
	calls int
}

func (s *stubVotes) UserUpvotes(context.Context, common.Address) (*big.Int, error) {
	s.calls++
	return big.NewInt(69), nil
}

func TestObservationalVoteReadBeforeDispatch(t *testing.T) {
	votes := &stubVotes{}
	awarder := &stubAwarder{}
	eng, _ := newTestEngine(t, &stubCache{snapshot: snapshotWithInventory(1)}, awarder, WithVotesReader(votes))

	eng.HandleUpvote(context.Background(), testEvent())
	require.Equal(t, 1, votes.calls)
}
