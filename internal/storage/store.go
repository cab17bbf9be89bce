// Package storage persists raw sensor samples in an ordered key-value store.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lowaak/cycle-computer/internal/metrics"
	"github.com/lowaak/cycle-computer/internal/sensor"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// ErrNoSessions is returned when the store holds no samples at all.
var ErrNoSessions = errors.New("no recorded sessions")

// Store is a badger backed sample store. Entries are immutable once written.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

// Open opens (or creates) the store at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		panic("Store: logger cannot be nil")
	}
	return open(badger.DefaultOptions(path), logger)
}

// OpenInMemory opens a store that lives only for the life of the process.
func OpenInMemory(logger *zap.Logger) (*Store, error) {
	if logger == nil {
		panic("Store: logger cannot be nil")
	}
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger *zap.Logger) (*Store, error) {
	opts = opts.WithLogger(newBadgerLogger(logger))
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Dir, err)
	}
	logger.Info("Store: opened", zap.String("path", opts.Dir), zap.Bool("in_memory", opts.InMemory))
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert writes one sample under the session.
func (s *Store) Insert(sessionKey uint64, sample sensor.RawSample) error {
	key := EncodeKey(sessionKey, sample.Elapsed, sample.Characteristic)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, sample.Payload)
	})
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("insert").Inc()
		return fmt.Errorf("insert sample %s@%s: %w", sample.Characteristic, sample.Elapsed, err)
	}
	metrics.SamplesStoredTotal.Inc()
	return nil
}

// Iterate calls fn for every sample of the session in ascending key order.
// Iteration stops at the first error from fn, which is returned.
func (s *Store) Iterate(sessionKey uint64, fn func(sensor.RawSample) error) error {
	prefix := sessionPrefix(sessionKey)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			_, elapsed, id, err := DecodeKey(item.Key())
			if err != nil {
				return err
			}
			payload, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read value: %w", err)
			}
			if err := fn(sensor.RawSample{Characteristic: id, Elapsed: elapsed, Payload: payload}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("iterate").Inc()
		return fmt.Errorf("iterate session %d: %w", sessionKey, err)
	}
	return nil
}

// LatestSessionKey returns the highest session key in the store.
func (s *Store) LatestSessionKey() (uint64, error) {
	var latest uint64
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		if !it.Valid() {
			return nil
		}
		key := it.Item().Key()
		if len(key) < sessionKeyLen {
			return fmt.Errorf("storage key too short: %d bytes", len(key))
		}
		latest = binary.BigEndian.Uint64(key[:sessionKeyLen])
		found = true
		return nil
	})
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("latest").Inc()
		return 0, fmt.Errorf("latest session: %w", err)
	}
	if !found {
		return 0, ErrNoSessions
	}
	return latest, nil
}

// SessionKeys lists every distinct session key in ascending order.
func (s *Store) SessionKeys() ([]uint64, error) {
	var keys []uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		for it.Valid() {
			key := it.Item().Key()
			if len(key) < sessionKeyLen {
				return fmt.Errorf("storage key too short: %d bytes", len(key))
			}
			sessionKey := binary.BigEndian.Uint64(key[:sessionKeyLen])
			keys = append(keys, sessionKey)
			if sessionKey == ^uint64(0) {
				return nil
			}
			// jump straight to the next session
			it.Seek(sessionPrefix(sessionKey + 1))
		}
		return nil
	})
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("sessions").Inc()
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return keys, nil
}

// badgerLogger routes badger's printf style logging into zap.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func newBadgerLogger(logger *zap.Logger) *badgerLogger {
	return &badgerLogger{sugar: logger.Named("badger").Sugar()}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}
