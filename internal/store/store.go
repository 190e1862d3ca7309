// Package store persists the rendered task table for external observers.
package store

import (
	"context"
	"time"

	"github.com/seantiz/taskloop/internal/snapshot"
)

// TableStats holds aggregate figures for the stored task table.
type TableStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	RenderedAt    *time.Time     `json:"rendered_at,omitempty"`
}

// Store defines the operations on the persisted task table. Every Store is a
// snapshot.Sink.
type Store interface {
	snapshot.Sink
	Rows(ctx context.Context) ([]snapshot.Row, error)
	Stats(ctx context.Context) (*TableStats, error)
	Close() error
}
