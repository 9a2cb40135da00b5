// Package bolt provides a DocumentStore on an embedded bbolt file. Each table
// is a bucket keyed by big-endian identity, so cursor order is identity
// order. Values are an 8-byte version followed by the document.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"docrepo/internal/infra/persistence/docquery"
	"docrepo/pkg/domain"

	"go.etcd.io/bbolt"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.DocumentStore = (*Store)(nil)

const defaultPath = "docrepo.bolt"

// ErrNoTable is returned for operations on a bucket CreateTable never made.
var ErrNoTable = errors.New("table does not exist")

// Store is a bbolt-backed DocumentStore.
type Store struct {
	db   *bbolt.DB
	path string
}

// NewStore opens or creates the bbolt file at path (falls back to defaultPath).
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// LikePredicate implements domain.DocumentStore.
func (s *Store) LikePredicate() string { return docquery.LikePredicate }

// Close implements domain.DocumentStore.
func (s *Store) Close() error { return s.db.Close() }

// CreateTable implements domain.DocumentStore.
func (s *Store) CreateTable(_ context.Context, table string) error {
	if err := domain.ValidateTable(table); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(table))
		return err
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// CreateIndex implements domain.DocumentStore. Buckets have no secondary index.
func (s *Store) CreateIndex(_ context.Context, table string) error {
	return s.view("create index", table, func(*bbolt.Bucket) error { return nil })
}

// Insert implements domain.DocumentStore.
func (s *Store) Insert(_ context.Context, table string, version int64, doc []byte) (int64, error) {
	var id int64
	err := s.update("insert", table, func(b *bbolt.Bucket) error {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		return b.Put(key(id), encode(version, doc))
	})
	return id, err
}

// ConditionalUpdate implements domain.DocumentStore.
func (s *Store) ConditionalUpdate(_ context.Context, table string, identity, expected int64, doc []byte) (int64, error) {
	var n int64
	err := s.update("update", table, func(b *bbolt.Bucket) error {
		raw := b.Get(key(identity))
		if raw == nil {
			return nil
		}
		version, _, err := decode(raw)
		if err != nil {
			return err
		}
		if version != expected {
			return nil
		}
		n = 1
		return b.Put(key(identity), encode(version+1, doc))
	})
	return n, err
}

// Delete implements domain.DocumentStore.
func (s *Store) Delete(_ context.Context, table string, identity int64) (int64, error) {
	var n int64
	err := s.update("delete", table, func(b *bbolt.Bucket) error {
		if b.Get(key(identity)) == nil {
			return nil
		}
		n = 1
		return b.Delete(key(identity))
	})
	return n, err
}

// DeleteAll implements domain.DocumentStore. The identity sequence survives so
// identities are never reused.
func (s *Store) DeleteAll(_ context.Context, table string) error {
	if err := domain.ValidateTable(table); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return ErrNoTable
		}
		seq := b.Sequence()
		if err := tx.DeleteBucket([]byte(table)); err != nil {
			return err
		}
		fresh, err := tx.CreateBucket([]byte(table))
		if err != nil {
			return err
		}
		return fresh.SetSequence(seq)
	})
	if err != nil {
		return fmt.Errorf("delete all %s: %w", table, err)
	}
	return nil
}

// Search implements domain.DocumentStore.
func (s *Store) Search(_ context.Context, table string, q domain.Query) ([]domain.Row, error) {
	pred, err := docquery.Parse(q.Predicate, q.Params)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", table, err)
	}
	var out []domain.Row
	err = s.view("search", table, func(b *bbolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			version, doc, err := decode(v)
			if err != nil {
				return err
			}
			row := domain.Row{Identity: int64(binary.BigEndian.Uint64(k)), Version: version, Document: doc}
			if pred.Match(row) {
				// Values are only valid for the life of the transaction.
				row.Document = bytes.Clone(doc)
				out = append(out, row)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	pred.Sort(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) update(op, table string, fn func(*bbolt.Bucket) error) error {
	if err := domain.ValidateTable(table); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return ErrNoTable
		}
		return fn(b)
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, table, err)
	}
	return nil
}

func (s *Store) view(op, table string, fn func(*bbolt.Bucket) error) error {
	if err := domain.ValidateTable(table); err != nil {
		return err
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return ErrNoTable
		}
		return fn(b)
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, table, err)
	}
	return nil
}

func key(identity int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(identity))
	return k
}

func encode(version int64, doc []byte) []byte {
	v := make([]byte, 8+len(doc))
	binary.BigEndian.PutUint64(v, uint64(version))
	copy(v[8:], doc)
	return v
}

func decode(v []byte) (int64, []byte, error) {
	if len(v) < 8 {
		return 0, nil, fmt.Errorf("%w: short value of %d bytes", domain.ErrStoreInvariant, len(v))
	}
	return int64(binary.BigEndian.Uint64(v[:8])), v[8:], nil
}
