package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"agridetect/internal/models"
)

const (
	pendingPrefix = "pending/"
	indexPrefix   = "idx/"
)

// BadgerStore keeps items under pending/<unix-nanos>/<id> so key order is
// capture order; idx/<id> points back at the primary key.
type BadgerStore struct {
	db *badger.DB
}

type BadgerConfig struct {
	// Path is ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   *zap.Logger
}

// badgerLogger adapts zap to BadgerDB's Logger interface.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent queue")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0700); err != nil {
			return nil, fmt.Errorf("create queue directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{s: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger queue: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func primaryKey(p *models.PendingDetection) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", pendingPrefix, p.Timestamp.UnixNano(), p.ID))
}

func indexKey(id string) []byte { return []byte(indexPrefix + id) }

func (s *BadgerStore) Add(_ context.Context, p *models.PendingDetection) error {
	if p.ID == "" {
		return errors.New("pending detection has no id")
	}
	val, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(indexKey(p.ID)); err == nil {
			return ErrDuplicate
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		pk := primaryKey(p)
		if err := txn.Set(pk, val); err != nil {
			return err
		}
		return txn.Set(indexKey(p.ID), pk)
	})
}

func (s *BadgerStore) List(_ context.Context) ([]*models.PendingDetection, error) {
	out := make([]*models.PendingDetection, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(pendingPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var p models.PendingDetection
			if err := json.Unmarshal(val, &p); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// pre-1970 timestamps would break lexical order
	sortOldestFirst(out)
	return out, nil
}

func (s *BadgerStore) Get(_ context.Context, id string) (*models.PendingDetection, error) {
	var p models.PendingDetection
	err := s.db.View(func(txn *badger.Txn) error {
		pk, err := lookup(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(pk)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &p) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Update rewrites an existing item in place; its queue position does not change.
func (s *BadgerStore) Update(_ context.Context, p *models.PendingDetection) error {
	val, err := json.Marshal(p)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		pk, err := lookup(txn, p.ID)
		if err != nil {
			return err
		}
		return txn.Set(pk, val)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *BadgerStore) Remove(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		pk, err := lookup(txn, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(pk); err != nil {
			return err
		}
		return txn.Delete(indexKey(id))
	})
}

func (s *BadgerStore) Clear(_ context.Context) error {
	if err := s.db.DropPrefix([]byte(pendingPrefix)); err != nil {
		return err
	}
	return s.db.DropPrefix([]byte(indexPrefix))
}

func (s *BadgerStore) Len(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(indexPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func lookup(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(indexKey(id))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}
