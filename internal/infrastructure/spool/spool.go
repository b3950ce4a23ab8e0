// Package spool keeps audit entries whose sink delivery failed in a local
// LevelDB so they can be replayed once the sink recovers.
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
)

const keyPrefix = "audit/"

// Spool is a LevelDB-backed audit.Spool
type Spool struct {
	db     *leveldb.DB
	logger *zap.Logger

	mu  sync.Mutex
	seq uint64
}

// Open opens or creates the spool at path
func Open(path string, logger *zap.Logger) (*Spool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := leveldb.OpenFile(path, &opt.Options{NoSync: false})
	if err != nil {
		return nil, fmt.Errorf("open audit spool %s: %w", path, err)
	}
	return &Spool{db: db, logger: logger}, nil
}

// key orders entries by spool time, then arrival
func (s *Spool) key(e *audit.Entry) []byte {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	return []byte(fmt.Sprintf("%s%020d/%06d/%s", keyPrefix, time.Now().UnixNano(), seq%1000000, e.ID))
}

// Put stores entries atomically
func (s *Spool) Put(entries []*audit.Entry) error {
	batch := new(leveldb.Batch)
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode audit entry %s: %w", e.ID, err)
		}
		batch.Put(s.key(e), data)
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("write audit spool: %w", err)
	}
	return nil
}

// Len counts spooled entries
func (s *Spool) Len() (int, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer iter.Release()

	n := 0
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}

// Replay writes spooled entries to sink in spool order, batchSize at a time,
// and deletes each batch once the sink accepted it. It stops at the first
// sink error and returns how many entries were replayed.
func (s *Spool) Replay(ctx context.Context, sink audit.Sink, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	replayed := 0
	for {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		keys, entries, err := s.next(batchSize)
		if err != nil {
			return replayed, err
		}
		if len(entries) == 0 {
			return replayed, nil
		}
		if err := sink.Write(ctx, entries); err != nil {
			return replayed, fmt.Errorf("replay audit spool: %w", err)
		}

		batch := new(leveldb.Batch)
		for _, k := range keys {
			batch.Delete(k)
		}
		if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
			return replayed, fmt.Errorf("trim audit spool: %w", err)
		}
		replayed += len(entries)
	}
}

func (s *Spool) next(limit int) ([][]byte, []*audit.Entry, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer iter.Release()

	var keys [][]byte
	var entries []*audit.Entry
	for len(entries) < limit && iter.Next() {
		var e audit.Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			// an undecodable entry would block replay forever
			s.logger.Error("dropping corrupt audit spool entry",
				zap.ByteString("key", iter.Key()), zap.Error(err))
			if derr := s.db.Delete(append([]byte(nil), iter.Key()...), nil); derr != nil {
				return nil, nil, derr
			}
			continue
		}
		keys = append(keys, append([]byte(nil), iter.Key()...))
		entries = append(entries, &e)
	}
	return keys, entries, iter.Error()
}

// Run replays on an interval until ctx ends
func (s *Spool) Run(ctx context.Context, sink audit.Sink, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Replay(ctx, sink, 100)
			if n > 0 {
				s.logger.Info("audit spool replayed", zap.Int("entries", n))
			}
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("audit spool replay incomplete", zap.Error(err))
			}
		}
	}
}

// Close closes the database
func (s *Spool) Close() error {
	return s.db.Close()
}

var _ audit.Spool = (*Spool)(nil)
