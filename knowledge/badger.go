package knowledge

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures a BadgerBase.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives badger's internal log lines. Nil silences them.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns durable settings for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns settings for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerBase is a Base on an embedded BadgerDB.
//
// Documents are stored under "kb/<job>/<seq>" where seq is a big-endian
// counter from a badger sequence, so a prefix scan returns a job's
// documents in insertion order.
type BadgerBase struct {
	db  *badger.DB
	seq *badger.Sequence

	mu     sync.Mutex
	closed bool
}

// badgerLogger adapts slog.Logger to badger.Logger.
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

// OpenBadger opens (creating if needed) a BadgerBase.
func OpenBadger(cfg BadgerConfig) (*BadgerBase, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent knowledge base")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create knowledge base directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence([]byte("seq/kb"), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("get document sequence: %w", err)
	}
	return &BadgerBase{db: db, seq: seq}, nil
}

func jobPrefix(jobID string) []byte {
	return []byte("kb/" + jobID + "/")
}

func (b *BadgerBase) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Add implements Base.
func (b *BadgerBase) Add(ctx context.Context, jobID string, docs ...Document) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		for _, doc := range docs {
			n, err := b.seq.Next()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			value, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("marshal document: %w", err)
			}
			key := binary.BigEndian.AppendUint64(jobPrefix(jobID), n)
			if err := txn.Set(key, value); err != nil {
				return fmt.Errorf("store document: %w", err)
			}
		}
		return nil
	})
}

// Retrieve implements Base.
func (b *BadgerBase) Retrieve(ctx context.Context, jobID, query string, k int) ([]Snippet, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var docs []Document
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := jobPrefix(jobID)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 50, Prefix: prefix})
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var doc Document
				if err := json.Unmarshal(val, &doc); err != nil {
					return fmt.Errorf("unmarshal document: %w", err)
				}
				docs = append(docs, doc)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rank(docs, query, k), nil
}

// Delete implements Base.
func (b *BadgerBase) Delete(_ context.Context, jobID string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.DropPrefix(jobPrefix(jobID))
}

// Close releases the sequence and closes the database. Safe to call more
// than once.
func (b *BadgerBase) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	seqErr := b.seq.Release()
	if err := b.db.Close(); err != nil {
		return err
	}
	return seqErr
}
