package snapshot

import (
	"context"
	"slices"
	"sync"
)

// Sink receives every rendered snapshot. Write replaces the previous contents.
type Sink interface {
	Write(ctx context.Context, rows []Row) error
}

// Discard is a Sink that drops every snapshot.
var Discard Sink = discard{}

type discard struct{}

func (discard) Write(context.Context, []Row) error { return nil }

// Table is an in-memory Sink holding the latest snapshot. It is safe for
// concurrent use.
type Table struct {
	mu     sync.RWMutex
	rows   []Row
	writes int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

// Write replaces the table contents.
func (t *Table) Write(_ context.Context, rows []Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = slices.Clone(rows)
	t.writes++
	return nil
}

// Rows returns a copy of the latest snapshot.
func (t *Table) Rows() []Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.rows)
}

// Writes returns how many snapshots have been written.
func (t *Table) Writes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.writes
}

// Multi fans a snapshot out to several sinks. All sinks are written; the
// first error is returned.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Write(ctx context.Context, rows []Row) error {
	var firstErr error
	for _, s := range m {
		if err := s.Write(ctx, rows); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
