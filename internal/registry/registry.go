// Package registry provides the insertion-ordered task map used by the
// lifecycle engine.
package registry

import (
	"errors"
	"fmt"
	"slices"

	"github.com/seantiz/taskloop/internal/model"
)

// ErrDuplicate is returned when inserting an ID that is already present.
var ErrDuplicate = errors.New("duplicate task id")

// Entry pairs a task ID with its stored value.
type Entry[V any] struct {
	ID    model.ID
	Value V
}

// Registry maps task IDs to values. Entries are kept in a map for lookup and a
// separate slice to preserve insertion order for stable enumeration.
//
// Registry is not safe for concurrent use; the owner serialises access.
type Registry[V any] struct {
	items map[model.ID]V
	order []model.ID
}

// New creates an empty registry.
func New[V any]() *Registry[V] {
	return &Registry[V]{
		items: make(map[model.ID]V),
	}
}

// Insert adds v under id.
func (r *Registry[V]) Insert(id model.ID, v V) error {
	if _, ok := r.items[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicate, id)
	}
	r.items[id] = v
	r.order = append(r.order, id)
	return nil
}

// Get returns the value stored under id.
func (r *Registry[V]) Get(id model.ID) (V, bool) {
	v, ok := r.items[id]
	return v, ok
}

// Remove deletes id and reports whether it was present.
func (r *Registry[V]) Remove(id model.ID) bool {
	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return true
}

// RemoveFunc deletes every entry for which fn returns true and returns the
// removed entries in insertion order.
func (r *Registry[V]) RemoveFunc(fn func(id model.ID, v V) bool) []Entry[V] {
	var removed []Entry[V]
	kept := r.order[:0]
	for _, id := range r.order {
		v := r.items[id]
		if fn(id, v) {
			delete(r.items, id)
			removed = append(removed, Entry[V]{ID: id, Value: v})
			continue
		}
		kept = append(kept, id)
	}
	clear(r.order[len(kept):])
	r.order = kept
	return removed
}

// Enumerate returns all entries in insertion order.
func (r *Registry[V]) Enumerate() []Entry[V] {
	entries := make([]Entry[V], 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, Entry[V]{ID: id, Value: r.items[id]})
	}
	return entries
}

// Len returns the number of entries.
func (r *Registry[V]) Len() int {
	return len(r.order)
}

// Clear removes every entry.
func (r *Registry[V]) Clear() {
	r.items = make(map[model.ID]V)
	r.order = nil
}
