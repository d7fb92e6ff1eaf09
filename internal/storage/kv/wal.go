package kv

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultWALDir    = "./wal/kv"
	walSegmentLimit  = 1000
	walMaxSegments   = 100
	walSegmentPrefix = "kv_"
	walStateKey      = "kv_state"
)

// WALStore appends the full key set to a gowal log on every Set and restores the newest
// record on open. Each record is self-contained, so segment rotation never drops a key.
type WALStore struct {
	mu     sync.RWMutex
	wal    *gowal.Wal
	values map[string]string
}

// NewWALStore opens the log under dir and restores the latest state.
func NewWALStore(dir string) (*WALStore, error) {
	return openWALStore(dir, walSegmentLimit, walMaxSegments)
}

func openWALStore(dir string, segmentLimit, maxSegments int) (*WALStore, error) {
	if dir == "" {
		dir = defaultWALDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           walSegmentPrefix,
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init kv WAL")
	}

	values := make(map[string]string)
	for msg := range wal.Iterator() {
		if msg.Key != walStateKey {
			continue
		}
		next := make(map[string]string)
		if err := json.Unmarshal(msg.Value, &next); err != nil {
			_ = wal.Close()
			return nil, errors.Wrapf(err, "decode kv WAL record %d", msg.Index)
		}
		values = next
	}

	return &WALStore{wal: wal, values: values}, nil
}

func (s *WALStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

func (s *WALStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]string, len(s.values)+1)
	for k, v := range s.values {
		next[k] = v
	}
	next[key] = value

	payload, err := json.Marshal(next)
	if err != nil {
		return errors.Wrap(err, "encode kv state")
	}
	if err := s.wal.Write(s.wal.CurrentIndex()+1, walStateKey, payload); err != nil {
		return errors.Wrapf(err, "append %s", key)
	}
	s.values = next

	return nil
}

func (s *WALStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
