package badgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/bibsdb/bibselv/fbs"
)

const (
	recordKeyPrefix   = "rec/"
	sequenceKeyPrefix = "seq/"
	keySeparator      = "/"

	sequenceBandwidth = 64

	logMsgStoreOpened     = "embedded offline store opened"
	logMsgStoreClosed     = "embedded offline store closed"
	logMsgReleaseSeqError = "releasing a badger sequence failed"
	logAttrPath           = "path"
	logAttrError          = "error"
	logAttrFileKey        = "file_key"
)

var (
	// ErrStoreClosed occurs when an operation is attempted on a closed store.
	ErrStoreClosed = errors.New("embedded store is closed")

	// ErrEmptyFileKey occurs when an append or read is attempted without a
	// file key.
	ErrEmptyFileKey = errors.New("file key must not be empty")

	// ErrEmptyPath occurs when a persistent store is configured without a
	// directory.
	ErrEmptyPath = errors.New("store path must not be empty")
)

// Config configures the embedded store.
type Config struct {
	// Path is the directory holding the store. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory. Useful for tests; a terminal in
	// production always runs with a directory, otherwise the durability
	// contract of provisional successes would be void.
	InMemory bool

	// SyncWrites forces an fsync per append. Defaults to true for the same
	// reason; only tests should disable it.
	SyncWrites bool

	// Logger receives operational messages. Optional.
	Logger fbs.Logger
}

// Store is an embedded append-only store implementing fbs.AppendOnlyStore.
// Records under one file key form an ordered stream; ordering comes from a
// per-key badger sequence, and appends to the same key are serialized by a
// per-key mutex.
type Store struct {
	db     *badger.DB
	logger fbs.Logger

	mu        sync.Mutex
	closed    bool
	keyLocks  map[string]*sync.Mutex
	sequences map[string]*badger.Sequence
}

// NewStore opens the embedded store at cfg.Path, or purely in memory.
func NewStore(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, ErrEmptyPath
	}

	options := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{logger: cfg.Logger})

	db, err := badger.Open(options)
	if err != nil {
		return nil, err
	}

	store := &Store{
		db:        db,
		logger:    cfg.Logger,
		keyLocks:  make(map[string]*sync.Mutex),
		sequences: make(map[string]*badger.Sequence),
	}

	store.logInfo(logMsgStoreOpened, logAttrPath, cfg.Path)

	return store, nil
}

// Append durably writes one record under the given file key. It returns only
// after badger confirmed the write (an fsync when SyncWrites is on).
func (s *Store) Append(_ context.Context, fileKey string, payload []byte) error {
	if fileKey == "" {
		return ErrEmptyFileKey
	}

	keyLock, sequence, err := s.claimKey(fileKey)
	if err != nil {
		return err
	}

	keyLock.Lock()
	defer keyLock.Unlock()

	position, err := sequence.Next()
	if err != nil {
		return err
	}

	recordKey := buildRecordKey(fileKey, position)
	value := make([]byte, len(payload))
	copy(value, payload)

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey, value)
	})
}

// Entries returns the payloads recorded under the given file key in append
// order.
func (s *Store) Entries(_ context.Context, fileKey string) ([][]byte, error) {
	if fileKey == "" {
		return nil, ErrEmptyFileKey
	}

	prefix := recordKeyRange(fileKey)

	var payloads [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		iteratorOptions := badger.DefaultIteratorOptions
		iteratorOptions.Prefix = prefix

		iterator := txn.NewIterator(iteratorOptions)
		defer iterator.Close()

		for iterator.Rewind(); iterator.Valid(); iterator.Next() {
			payload, copyErr := iterator.Item().ValueCopy(nil)
			if copyErr != nil {
				return copyErr
			}

			payloads = append(payloads, payload)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return payloads, nil
}

// FileKeys returns the distinct file keys that currently hold records.
func (s *Store) FileKeys(_ context.Context) ([]string, error) {
	prefix := []byte(recordKeyPrefix)

	var keys []string

	err := s.db.View(func(txn *badger.Txn) error {
		iteratorOptions := badger.DefaultIteratorOptions
		iteratorOptions.Prefix = prefix
		iteratorOptions.PrefetchValues = false

		iterator := txn.NewIterator(iteratorOptions)
		defer iterator.Close()

		var last string

		for iterator.Rewind(); iterator.Valid(); iterator.Next() {
			fileKey, ok := fileKeyFromRecordKey(iterator.Item().Key())
			if !ok || fileKey == last {
				continue
			}

			keys = append(keys, fileKey)
			last = fileKey
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

// Purge removes every record of the given file key. The reconciliation side
// calls it after all records of a stream were replayed successfully.
func (s *Store) Purge(_ context.Context, fileKey string) error {
	if fileKey == "" {
		return ErrEmptyFileKey
	}

	prefix := recordKeyRange(fileKey)

	return s.db.Update(func(txn *badger.Txn) error {
		iteratorOptions := badger.DefaultIteratorOptions
		iteratorOptions.Prefix = prefix
		iteratorOptions.PrefetchValues = false

		iterator := txn.NewIterator(iteratorOptions)
		defer iterator.Close()

		for iterator.Rewind(); iterator.Valid(); iterator.Next() {
			if err := txn.Delete(iterator.Item().KeyCopy(nil)); err != nil {
				return err
			}
		}

		return nil
	})
}

// Close releases all sequences and closes the underlying database. The store
// must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for fileKey, sequence := range s.sequences {
		if err := sequence.Release(); err != nil {
			s.logWarn(logMsgReleaseSeqError, logAttrError, err.Error(), logAttrFileKey, fileKey)
		}
	}

	err := s.db.Close()
	s.logInfo(logMsgStoreClosed)

	return err
}

// claimKey hands out the mutex and sequence belonging to one file key,
// creating them on first use.
func (s *Store) claimKey(fileKey string) (*sync.Mutex, *badger.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrStoreClosed
	}

	keyLock, ok := s.keyLocks[fileKey]
	if !ok {
		keyLock = &sync.Mutex{}
		s.keyLocks[fileKey] = keyLock
	}

	sequence, ok := s.sequences[fileKey]
	if !ok {
		var err error

		sequence, err = s.db.GetSequence([]byte(sequenceKeyPrefix+fileKey), sequenceBandwidth)
		if err != nil {
			return nil, nil, err
		}

		s.sequences[fileKey] = sequence
	}

	return keyLock, sequence, nil
}

// recordKeyRange is the iteration prefix covering exactly one file key's
// stream. The file key is path-escaped, so a key containing the separator
// can never extend another key's range.
func recordKeyRange(fileKey string) []byte {
	return []byte(recordKeyPrefix + url.PathEscape(fileKey) + keySeparator)
}

func buildRecordKey(fileKey string, position uint64) []byte {
	prefix := recordKeyRange(fileKey)
	key := make([]byte, 0, len(prefix)+8)
	key = append(key, prefix...)

	return binary.BigEndian.AppendUint64(key, position)
}

func fileKeyFromRecordKey(recordKey []byte) (string, bool) {
	trimmed := bytes.TrimPrefix(recordKey, []byte(recordKeyPrefix))
	if len(trimmed) <= 8+len(keySeparator) {
		return "", false
	}

	// the 8 byte position and its separator sit at the end
	escaped := string(trimmed[:len(trimmed)-8-len(keySeparator)])

	fileKey, err := url.PathUnescape(escaped)
	if err != nil {
		return "", false
	}

	return fileKey, true
}

func (s *Store) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Store) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

// badgerLogger adapts fbs.Logger to badger's logging interface. Badger's
// internals are chatty on info level, so they are demoted to debug.
type badgerLogger struct {
	logger fbs.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Error(fmt.Sprintf(format, args...))
	}
}

func (b badgerLogger) Warningf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(fmt.Sprintf(format, args...))
	}
}

func (b badgerLogger) Infof(format string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(fmt.Sprintf(format, args...))
	}
}

func (b badgerLogger) Debugf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(fmt.Sprintf(format, args...))
	}
}
