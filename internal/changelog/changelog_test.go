package changelog_test

import (
	"testing"

	"github.com/nicolagi/quixbyte/internal/changelog"
	"github.com/nicolagi/quixbyte/internal/changemap"
	"github.com/nicolagi/quixbyte/internal/qbhash"
	"github.com/nicolagi/quixbyte/internal/qbtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(b byte, millis, device uint64) changelog.Entry {
	return changelog.Entry{
		Hash:      qbhash.Compute([]byte{b}),
		Timestamp: qbtime.Timestamp{Millis: millis, DeviceID: qbtime.DeviceID(device)},
		Change:    changemap.Change{Timestamp: qbtime.Timestamp{Millis: millis, DeviceID: qbtime.DeviceID(device)}, Kind: changemap.Create},
	}
}

func TestMergeSharesCommonPrefix(t *testing.T) {
	base := changelog.New()
	common := entry(1, 1, 1)
	local := append(append([]changelog.Entry{}, base...), common, entry(2, 5, 1))
	remote := append(append([]changelog.Entry{}, base...), common, entry(3, 3, 2))

	merged, deltas, err := changelog.Merge(local, remote)
	require.NoError(t, err)
	assert.Len(t, merged, 4)
	require.Len(t, deltas, 1)
	assert.Equal(t, uint64(3), deltas[0].Timestamp.Millis)
}

func TestMergeRejectsEqualTimestampFromDistinctEntries(t *testing.T) {
	base := changelog.New()
	local := append(append([]changelog.Entry{}, base...), entry(1, 7, 1))
	remote := append(append([]changelog.Entry{}, base...), entry(2, 7, 1)) // same device+millis, distinct hash: corruption

	_, _, err := changelog.Merge(local, remote)
	assert.Error(t, err)
}

func TestPushDeduplicatesByHash(t *testing.T) {
	log := changelog.New()
	e := entry(1, 1, 1)
	log, ok := changelog.Push(log, e)
	assert.True(t, ok)
	log, ok = changelog.Push(log, e)
	assert.False(t, ok)
	assert.Len(t, log, 2)
}
