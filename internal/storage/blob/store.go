// Package blob stores conversation payloads in BadgerDB, keyed by
// conversation id. Each write is a single Badger transaction, so a payload is
// either fully visible or not visible at all.
package blob

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	apperrors "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/errors"
)

const (
	keyPrefix = "conversations/"
	keySuffix = ".html"
	// headerSize is the stored-at timestamp written ahead of each payload.
	headerSize = 8
)

// ErrLocked is returned by Open when another process holds the directory.
var ErrLocked = errors.New("blob store is in use by another process")

// Store is a Badger-backed blob store.
type Store struct {
	db     *badger.DB
	now    func() time.Time
	logger *slog.Logger
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

// Open opens a store rooted at dir, creating the directory if needed. With
// inMemory set, dir is ignored and nothing touches disk.
func Open(dir string, inMemory bool) (*Store, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating blob dir %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	logger := slog.Default().With("component", "blob-store")
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		// Badger flattens the flock error into its message.
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			return nil, fmt.Errorf("opening blob store %s: %w", dir, ErrLocked)
		}
		return nil, fmt.Errorf("opening blob store: %w", err)
	}
	return &Store{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}, nil
}

// OpenMemory opens an in-memory store, mainly for tests.
func OpenMemory() (*Store, error) {
	return Open("", true)
}

// KeyFor returns the content key a conversation id is stored under.
func KeyFor(id string) string {
	return keyPrefix + id + keySuffix
}

// Store writes content under id and returns its content key.
func (s *Store) Store(ctx context.Context, id string, content []byte) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty blob id", apperrors.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := KeyFor(id)
	value := make([]byte, headerSize+len(content))
	binary.BigEndian.PutUint64(value[:headerSize], uint64(s.now().UnixNano()))
	copy(value[headerSize:], content)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return "", fmt.Errorf("%w: writing blob %s: %v", apperrors.ErrStorage, key, err)
	}
	s.logger.Debug("blob stored", "key", key, "bytes", len(content))
	return key, nil
}

// Read returns the content stored under key.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var content []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) < headerSize {
				return fmt.Errorf("blob %s is truncated", key)
			}
			content = append([]byte(nil), val[headerSize:]...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("blob %s: %w", key, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob %s: %v", apperrors.ErrStorage, key, err)
	}
	return content, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: deleting blob %s: %v", apperrors.ErrStorage, key, err)
	}
	return nil
}

// Walk calls fn for every stored key with its write time, in key order.
// Iteration stops at the first error fn returns.
func (s *Store) Walk(ctx context.Context, fn func(key string, storedAt time.Time) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.KeyCopy(nil))
			var storedAt time.Time
			err := item.Value(func(val []byte) error {
				if len(val) < headerSize {
					return fmt.Errorf("blob %s is truncated", key)
				}
				storedAt = time.Unix(0, int64(binary.BigEndian.Uint64(val[:headerSize]))).UTC()
				return nil
			})
			if err != nil {
				return err
			}
			if err := fn(key, storedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("blob store is closed")
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
