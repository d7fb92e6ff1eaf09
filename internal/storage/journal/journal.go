// Package journal keeps an append-only WAL of ledger snapshots for stream replay.
package journal

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/coincraze/internal/domain"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultDir    = "./wal/journal"
	segmentLimit  = 1000
	maxSegments   = 100
	segmentPrefix = "snapshot_"
	keyPrefix     = "ledger_snapshot_"
)

var errClosed = errors.New("ledger journal is not initialized")

// Journal appends ledger snapshots to a gowal log.
type Journal struct {
	mu  sync.RWMutex
	wal *gowal.Wal
}

// Open opens or creates the journal under dir.
func Open(dir string) (*Journal, error) {
	if dir == "" {
		dir = defaultDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           segmentPrefix,
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init ledger journal")
	}

	return &Journal{wal: wal}, nil
}

// Save appends the snapshot. The snapshot pair is required.
func (j *Journal) Save(snapshot domain.LedgerSnapshot) error {
	if j == nil || j.wal == nil {
		return errClosed
	}
	if snapshot.Pair == "" {
		return errors.New("ledger snapshot pair is required")
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "encode ledger snapshot")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Write(j.wal.CurrentIndex()+1, keyPrefix+snapshot.Pair, payload)
}

// SnapshotsAfter returns snapshots written after index, oldest first.
func (j *Journal) SnapshotsAfter(index uint64) ([]domain.LedgerSnapshotRecord, error) {
	if j == nil || j.wal == nil {
		return nil, errClosed
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	current := j.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]domain.LedgerSnapshotRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		rec, ok, err := j.read(idx)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, rec)
		}
	}

	return records, nil
}

// Latest returns the newest snapshot, if any.
func (j *Journal) Latest() (domain.LedgerSnapshotRecord, bool, error) {
	if j == nil || j.wal == nil {
		return domain.LedgerSnapshotRecord{}, false, errClosed
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for idx := j.wal.CurrentIndex(); idx > 0; idx-- {
		rec, ok, err := j.read(idx)
		if err != nil || ok {
			return rec, ok, err
		}
	}

	return domain.LedgerSnapshotRecord{}, false, nil
}

// read decodes one entry. Caller holds mu.
func (j *Journal) read(idx uint64) (domain.LedgerSnapshotRecord, bool, error) {
	key, payload, err := j.wal.Get(idx)
	if err != nil {
		return domain.LedgerSnapshotRecord{}, false, errors.Wrapf(err, "read ledger snapshot %d", idx)
	}
	// missing entries come back with an empty key
	if !strings.HasPrefix(key, keyPrefix) {
		return domain.LedgerSnapshotRecord{}, false, nil
	}

	var snapshot domain.LedgerSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return domain.LedgerSnapshotRecord{}, false, errors.Wrapf(err, "decode ledger snapshot %d", idx)
	}

	return domain.LedgerSnapshotRecord{Index: idx, Snapshot: snapshot}, true, nil
}

// CurrentIndex returns the latest WAL index stored.
func (j *Journal) CurrentIndex() uint64 {
	if j == nil || j.wal == nil {
		return 0
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	if j == nil || j.wal == nil {
		return errClosed
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}
