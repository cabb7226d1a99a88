package auditlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	file, err := os.Open(path)
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

func TestWriteAppendsNDJSON(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	logger, err := New(dir, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.Info(TypeEventSeen, map[string]any{"user": "0xabc", "votes": 420}))
	require.NoError(t, logger.Warn(TypeDepleted, map[string]any{"user": "0xabc"}))

	records := readRecords(t, filepath.Join(dir, "audit.log"))
	require.Len(t, records, 2)
	require.Equal(t, "upvote_event_seen", records[0]["type"])
	require.Equal(t, "info", records[0]["level"])
	require.Equal(t, "2025-06-01T10:00:00Z", records[0]["timestamp"])
	require.Equal(t, "0xabc", records[0]["user"])
	require.Equal(t, "dispenser_depleted", records[1]["type"])
	require.Equal(t, "warn", records[1]["level"])
}

func TestDispenserLifecycleMirroredToDedicatedFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir)
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.Info(TypeAwarded, map[string]any{"user": "0xabc"}))
	require.NoError(t, logger.Error(TypeAwardFailed, map[string]any{"user": "0xdef"}))
	require.NoError(t, logger.Info(TypeBotStarted, nil))

	dispenser := readRecords(t, filepath.Join(dir, "dispenser.log"))
	require.Len(t, dispenser, 2)
	require.Equal(t, "nft_awarded", dispenser[0]["type"])
	require.Equal(t, "award_failed", dispenser[1]["type"])

	daily := readRecords(t, filepath.Join(dir, "audit.log"))
	require.Len(t, daily, 3)
}

func TestDayRolloverRotates(t *testing.T) {
	dir := t.TempDir()
	current := time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	logger, err := New(dir, WithClock(func() time.Time { return current }))
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.Info(TypeEventSeen, nil))
	current = current.Add(2 * time.Minute) // crosses midnight
	require.NoError(t, logger.Info(TypeEventSeen, nil))

	// The active file holds only the post-rollover record; the prior day's
	// record lives in a rotated backup.
	records := readRecords(t, filepath.Join(dir, "audit.log"))
	require.Len(t, records, 1)
	require.Equal(t, "2025-06-02T00:01:00Z", records[0]["timestamp"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2)
}
