package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/coincraze/internal/domain"
)

func snapshot(total string) domain.LedgerSnapshot {
	return domain.LedgerSnapshot{
		Timestamp:  time.Unix(1_700_000_000, 0).UTC(),
		Pair:       "SOL_USD",
		Status:     domain.PositionOpen,
		TotalValue: total,
	}
}

func TestJournal_SaveAndReplay(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)

	_, ok, err := j.Latest()
	require.NoError(t, err)
	assert.False(t, ok)

	for _, total := range []string{"1000", "1000", "1025"} {
		require.NoError(t, j.Save(snapshot(total)))
	}
	assert.Equal(t, uint64(3), j.CurrentIndex())

	records, err := j.SnapshotsAfter(1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(2), records[0].Index)
	assert.Equal(t, "1025", records[1].Snapshot.TotalValue)

	none, err := j.SnapshotsAfter(3)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, j.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	latest, ok, err := reopened.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), latest.Index)
	assert.Equal(t, "1025", latest.Snapshot.TotalValue)
}

func TestJournal_RequiresPair(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	assert.Error(t, j.Save(domain.LedgerSnapshot{}))
}

func TestJournal_Nil(t *testing.T) {
	var j *Journal
	assert.Error(t, j.Save(snapshot("1")))
	assert.Equal(t, uint64(0), j.CurrentIndex())
	_, err := j.SnapshotsAfter(0)
	assert.Error(t, err)
}
