// Package memory provides an in-memory DocumentStore used for tests and
// ephemeral environments. Predicates use the docquery dialect.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"docrepo/internal/infra/persistence/docquery"
	"docrepo/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain interface.
var _ domain.DocumentStore = (*Store)(nil)

// ErrNoTable is returned for operations on a table CreateTable never made.
var ErrNoTable = errors.New("table does not exist")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store closed")

type table struct {
	seq  int64
	rows map[int64]domain.Row
}

// Snapshot captures a point-in-time clone of every table.
type Snapshot struct {
	Tables map[string]TableSnapshot `json:"tables"`
}

// TableSnapshot is one table's rows and identity sequence.
type TableSnapshot struct {
	Sequence int64        `json:"sequence"`
	Rows     []domain.Row `json:"rows"`
}

// Store keeps every table in process memory behind a single lock.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	closed bool
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{tables: make(map[string]*table)}
}

// LikePredicate implements domain.DocumentStore.
func (s *Store) LikePredicate() string { return docquery.LikePredicate }

// Close implements domain.DocumentStore. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// CreateTable implements domain.DocumentStore.
func (s *Store) CreateTable(_ context.Context, name string) error {
	if err := domain.ValidateTable(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("create table %s: %w", name, ErrClosed)
	}
	if _, ok := s.tables[name]; !ok {
		s.tables[name] = &table{rows: make(map[int64]domain.Row)}
	}
	return nil
}

// CreateIndex implements domain.DocumentStore. There is no index to build.
func (s *Store) CreateIndex(_ context.Context, name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.lookup("create index", name)
	return err
}

// Insert implements domain.DocumentStore.
func (s *Store) Insert(_ context.Context, name string, version int64, doc []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup("insert", name)
	if err != nil {
		return 0, err
	}
	t.seq++
	t.rows[t.seq] = domain.Row{Identity: t.seq, Version: version, Document: bytes.Clone(doc)}
	return t.seq, nil
}

// ConditionalUpdate implements domain.DocumentStore.
func (s *Store) ConditionalUpdate(_ context.Context, name string, identity, expected int64, doc []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup("update", name)
	if err != nil {
		return 0, err
	}
	row, ok := t.rows[identity]
	if !ok || row.Version != expected {
		return 0, nil
	}
	row.Version++
	row.Document = bytes.Clone(doc)
	t.rows[identity] = row
	return 1, nil
}

// Delete implements domain.DocumentStore.
func (s *Store) Delete(_ context.Context, name string, identity int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup("delete", name)
	if err != nil {
		return 0, err
	}
	if _, ok := t.rows[identity]; !ok {
		return 0, nil
	}
	delete(t.rows, identity)
	return 1, nil
}

// DeleteAll implements domain.DocumentStore.
func (s *Store) DeleteAll(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup("delete all", name)
	if err != nil {
		return err
	}
	t.rows = make(map[int64]domain.Row)
	return nil
}

// Search implements domain.DocumentStore. Rows are scanned in identity order
// unless the predicate orders them.
func (s *Store) Search(_ context.Context, name string, q domain.Query) ([]domain.Row, error) {
	s.mu.RLock()
	t, err := s.lookup("search", name)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	rows := t.sorted()
	s.mu.RUnlock()

	out, err := docquery.Apply(rows, q)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	return out, nil
}

// ExportState returns a deep copy of every table.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Tables: make(map[string]TableSnapshot, len(s.tables))}
	for name, t := range s.tables {
		snap.Tables[name] = TableSnapshot{Sequence: t.seq, Rows: t.sorted()}
	}
	return snap
}

// ImportState replaces the store contents with a copy of snap.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[string]*table, len(snap.Tables))
	for name, ts := range snap.Tables {
		t := &table{seq: ts.Sequence, rows: make(map[int64]domain.Row, len(ts.Rows))}
		for _, row := range ts.Rows {
			row.Document = bytes.Clone(row.Document)
			t.rows[row.Identity] = row
			if row.Identity > t.seq {
				t.seq = row.Identity
			}
		}
		s.tables[name] = t
	}
}

func (s *Store) lookup(op, name string) (*table, error) {
	if err := domain.ValidateTable(name); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, fmt.Errorf("%s %s: %w", op, name, ErrClosed)
	}
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", op, name, ErrNoTable)
	}
	return t, nil
}

func (t *table) sorted() []domain.Row {
	out := make([]domain.Row, 0, len(t.rows))
	for _, row := range t.rows {
		row.Document = bytes.Clone(row.Document)
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
