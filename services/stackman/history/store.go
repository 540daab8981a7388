// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package history persists metric snapshots across restarts.
//
// BadgerDB provides the embedded store: snapshots are keyed by timestamp,
// appends are transactional (readers never observe a partial write), and
// retention eviction runs inside the append transaction so no second
// timer is needed to bound growth.
package history

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianStacks/services/stackman/datatypes"
	"github.com/AleutianAI/AleutianStacks/services/stackman/observability"
)

// keyPrefix namespaces snapshot keys; the suffix is the snapshot timestamp
// as big-endian unix nanoseconds so badger's key order is time order.
var keyPrefix = []byte("snap:")

// DefaultWindow is the retention window when none is configured.
const DefaultWindow = 24 * time.Hour

// Config holds configuration for a history store.
type Config struct {
	// Path is the directory for the badger files. Ignored when InMemory.
	Path string

	// InMemory disables disk persistence. Useful for testing.
	InMemory bool

	// Window is the retention window; snapshots older than now-Window are
	// evicted on append. Defaults to DefaultWindow.
	Window time.Duration

	// Logger receives badger's internal logging. If nil, badger logging
	// is disabled.
	Logger *slog.Logger
}

// InMemoryConfig returns a Config suited to tests: no disk I/O and a
// default retention window.
func InMemoryConfig() Config {
	return Config{InMemory: true, Window: DefaultWindow}
}

// Store is a time-bounded, append-only sequence of metric snapshots.
//
// Safe for concurrent use: the sampler appends while viewer requests read,
// and badger's transactions keep each append atomic with respect to
// readers.
type Store struct {
	db     *badger.DB
	window time.Duration
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens (or creates) the history store.
func Open(cfg Config) (*Store, error) {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("history store requires a path (or InMemory)")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	return &Store{db: db, window: cfg.Window}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores one snapshot and evicts everything older than the
// retention window in the same transaction.
func (s *Store) Append(snap datatypes.MetricSnapshot) error {
	value, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	cutoff := snap.Timestamp.Add(-s.window)

	evicted := 0
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(snapshotKey(snap.Timestamp), value); err != nil {
			return err
		}

		// Keys are time-ordered, so expired entries form a prefix of the
		// keyspace; collect them first, then delete (badger iterators do
		// not allow interleaved writes).
		var expired [][]byte
		it := txn.NewIterator(badger.IteratorOptions{Prefix: keyPrefix})
		for it.Seek(keyPrefix); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if !keyTime(key).Before(cutoff) {
				break
			}
			expired = append(expired, key)
		}
		it.Close()

		for _, key := range expired {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		evicted = len(expired)
		return nil
	})
	if err != nil {
		return fmt.Errorf("appending snapshot: %w", err)
	}

	if evicted > 0 {
		if m := observability.DefaultMetrics; m != nil {
			m.HistoryEvictions.Add(float64(evicted))
		}
	}
	return nil
}

// Query returns all retained snapshots at or after since, oldest first.
// A zero since returns the full retained window.
func (s *Store) Query(since time.Time) ([]datatypes.MetricSnapshot, error) {
	snapshots := []datatypes.MetricSnapshot{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: keyPrefix, PrefetchValues: true})
		defer it.Close()

		for it.Seek(snapshotKey(since)); it.Valid(); it.Next() {
			var snap datatypes.MetricSnapshot
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &snap)
			})
			if err != nil {
				return err
			}
			snapshots = append(snapshots, snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	return snapshots, nil
}

// Latest returns the most recent snapshot, if any.
func (s *Store) Latest() (datatypes.MetricSnapshot, bool, error) {
	var snap datatypes.MetricSnapshot
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: keyPrefix, Reverse: true})
		defer it.Close()

		// Reverse iteration starts from the largest key under the prefix.
		it.Seek(append(keyPrefix, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
		if !it.Valid() {
			return nil
		}
		found = true
		return it.Item().Value(func(value []byte) error {
			return json.Unmarshal(value, &snap)
		})
	})
	if err != nil {
		return datatypes.MetricSnapshot{}, false, fmt.Errorf("reading latest snapshot: %w", err)
	}
	return snap, found, nil
}

// snapshotKey builds the time-ordered key for a timestamp.
func snapshotKey(ts time.Time) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	var nanos uint64
	if !ts.IsZero() && ts.Unix() > 0 {
		nanos = uint64(ts.UnixNano())
	}
	binary.BigEndian.PutUint64(key[len(keyPrefix):], nanos)
	return key
}

// keyTime recovers the timestamp encoded in a snapshot key.
func keyTime(key []byte) time.Time {
	if len(key) != len(keyPrefix)+8 || !bytes.HasPrefix(key, keyPrefix) {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[len(keyPrefix):])))
}
