package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ashureev/mentor-labs/internal/shared"
	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "session/"

// BadgerConfig holds configuration for the badger backend.
type BadgerConfig struct {
	// Dir is the data directory. Ignored when InMemory is true.
	Dir string
	// InMemory disables disk persistence.
	InMemory bool
	// TTL is attached to every write; zero keeps documents forever.
	TTL    time.Duration
	Retry  shared.RetryPolicy
	Logger *slog.Logger
}

// BadgerStore implements Backend on an embedded badger database. Expiry is
// handled by badger's per-key TTL.
type BadgerStore struct {
	db    *badger.DB
	ttl   time.Duration
	retry shared.RetryPolicy
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
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
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadger opens a badger-backed session store.
func NewBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger: dir is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db, ttl: cfg.TTL, retry: cfg.Retry}, nil
}

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

func readDocument(txn *badger.Txn, id string) (Document, error) {
	item, err := txn.Get(badgerKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, unavailable("read session value", err)
	}
	doc := Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, unavailable("decode session document", err)
	}
	return doc, nil
}

// Load retrieves the session document.
func (b *BadgerStore) Load(_ context.Context, id string) (Document, error) {
	var doc Document
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = readDocument(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

// Update applies fn in a read-write transaction, retrying on conflicts.
func (b *BadgerStore) Update(ctx context.Context, id string, fn UpdateFunc) error {
	var fnErr error
	err := shared.Retry(ctx, b.retry, func(err error) bool { return errors.Is(err, badger.ErrConflict) }, "update session", func() error {
		fnErr = nil
		return b.db.Update(func(txn *badger.Txn) error {
			current, err := readDocument(txn, id)
			if err != nil {
				return err
			}
			next, err := fn(current.Clone())
			if err != nil {
				fnErr = err
				return err
			}
			encoded, err := json.Marshal(next)
			if err != nil {
				fnErr = fmt.Errorf("encode session document: %w", err)
				return fnErr
			}
			entry := badger.NewEntry(badgerKey(id), encoded)
			if b.ttl > 0 {
				entry = entry.WithTTL(b.ttl)
			}
			return txn.SetEntry(entry)
		})
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return unavailable("update session", err)
	}
	return nil
}

// DeleteExpired is a no-op; badger drops expired keys itself.
func (b *BadgerStore) DeleteExpired(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

// Ping fails once the database is closed.
func (b *BadgerStore) Ping(_ context.Context) error {
	if b.db.IsClosed() {
		return unavailable("ping", errClosed)
	}
	return nil
}

// Close closes the database.
func (b *BadgerStore) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close badger database: %w", err)
	}
	return nil
}
