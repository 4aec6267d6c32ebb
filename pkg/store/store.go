// Package store persists the append-only governance history that outlives
// the in-memory engines: settled gauge weight snapshots and the structured
// event log consumed by off-chain indexers. Keys are zero-padded so
// LevelDB's lexicographic order matches epoch / sequence order.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/vortex-dex/gaugex/pkg/events"
	"github.com/vortex-dex/gaugex/pkg/gauge"
)

const (
	snapshotPrefix = "snapshot/"
	eventPrefix    = "event/"
)

// Store wraps a LevelDB instance holding snapshots and the event log.
type Store struct {
	db     *leveldb.DB
	logger *zap.Logger

	mu       sync.Mutex
	eventSeq uint64
}

// Open opens (or creates) the store at the given path and recovers the
// event sequence counter from the last persisted event.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	s := &Store{db: db, logger: logger}

	iter := db.NewIterator(util.BytesPrefix([]byte(eventPrefix)), nil)
	if iter.Last() {
		var seq uint64
		if _, err := fmt.Sscanf(string(iter.Key()), eventPrefix+"%d", &seq); err == nil {
			s.eventSeq = seq
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recover event sequence: %w", err)
	}

	logger.Info("Store opened", zap.String("path", path), zap.Uint64("event_seq", s.eventSeq))
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func snapshotKey(epoch uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", snapshotPrefix, epoch))
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", eventPrefix, seq))
}

// SaveSnapshot persists a settled epoch snapshot. Snapshots are immutable:
// writing an epoch that already exists is refused.
func (s *Store) SaveSnapshot(snap gauge.Snapshot) error {
	key := snapshotKey(snap.Epoch)
	if ok, err := s.db.Has(key, nil); err != nil {
		return fmt.Errorf("check snapshot %d: %w", snap.Epoch, err)
	} else if ok {
		return fmt.Errorf("snapshot for epoch %d already persisted", snap.Epoch)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %d: %w", snap.Epoch, err)
	}
	if err := s.db.Put(key, raw, nil); err != nil {
		return fmt.Errorf("persist snapshot %d: %w", snap.Epoch, err)
	}
	return nil
}

// Snapshot loads the snapshot for an epoch.
func (s *Store) Snapshot(epoch uint64) (gauge.Snapshot, bool, error) {
	raw, err := s.db.Get(snapshotKey(epoch), nil)
	if err == leveldb.ErrNotFound {
		return gauge.Snapshot{}, false, nil
	}
	if err != nil {
		return gauge.Snapshot{}, false, fmt.Errorf("load snapshot %d: %w", epoch, err)
	}
	var snap gauge.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return gauge.Snapshot{}, false, fmt.Errorf("decode snapshot %d: %w", epoch, err)
	}
	return snap, true, nil
}

// LatestSnapshot returns the most recently settled snapshot.
func (s *Store) LatestSnapshot() (gauge.Snapshot, bool, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(snapshotPrefix)), nil)
	return lastSnapshot(iter)
}

// LatestSnapshotBefore returns the most recently settled snapshot with an
// epoch strictly before the given one.
func (s *Store) LatestSnapshotBefore(epoch uint64) (gauge.Snapshot, bool, error) {
	iter := s.db.NewIterator(&util.Range{
		Start: []byte(snapshotPrefix),
		Limit: snapshotKey(epoch),
	}, nil)
	return lastSnapshot(iter)
}

func lastSnapshot(iter iterator.Iterator) (gauge.Snapshot, bool, error) {
	defer iter.Release()
	if !iter.Last() {
		return gauge.Snapshot{}, false, iter.Error()
	}
	var snap gauge.Snapshot
	if err := json.Unmarshal(iter.Value(), &snap); err != nil {
		return gauge.Snapshot{}, false, fmt.Errorf("decode latest snapshot: %w", err)
	}
	return snap, true, nil
}

// AppendEvent appends an event to the durable log.
func (s *Store) AppendEvent(ev events.Event) error {
	s.mu.Lock()
	s.eventSeq++
	seq := s.eventSeq
	s.mu.Unlock()

	if err := s.db.Put(eventKey(seq), ev.JSON(), nil); err != nil {
		return fmt.Errorf("persist event %d: %w", seq, err)
	}
	return nil
}

// Events returns up to limit events starting at fromSeq (1-based,
// inclusive), in sequence order.
func (s *Store) Events(fromSeq uint64, limit int) ([]events.Event, error) {
	if fromSeq == 0 {
		fromSeq = 1
	}
	out := make([]events.Event, 0, limit)
	iter := s.db.NewIterator(&util.Range{
		Start: eventKey(fromSeq),
		Limit: []byte(eventPrefix + "~"),
	}, nil)
	defer iter.Release()
	for iter.Next() {
		var ev events.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", iter.Key(), err)
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}
