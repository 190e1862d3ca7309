package work

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/seantiz/taskloop/internal/engine"
)

var (
	// ErrUnknownKind is returned by Build for a kind that is not registered.
	ErrUnknownKind = errors.New("unknown work kind")

	// ErrInvalidParams is returned by Build when the parameters do not decode
	// or fail validation.
	ErrInvalidParams = errors.New("invalid work parameters")
)

var validate = validator.New()

// KindInfo describes a registered kind for listings.
type KindInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []string `json:"params"`
}

// Factory builds work of one kind from JSON parameters.
type Factory interface {
	// Build decodes params and returns the unit of work to run.
	Build(params json.RawMessage) (engine.Work, error)

	// Info describes the kind.
	Info() KindInfo
}

// Registry holds the registered kinds. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Factory
}

// NewRegistry creates an empty kind registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]Factory),
	}
}

// Register adds a factory under the given kind name, replacing any previous
// one.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = f
}

// Build returns work of the given kind built from params.
func (r *Registry) Build(kind string, params json.RawMessage) (engine.Work, error) {
	r.mu.RLock()
	f, ok := r.kinds[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	w, err := f.Build(params)
	if err != nil {
		return nil, fmt.Errorf("build %s work: %w", kind, err)
	}
	return w, nil
}

// List returns information about all registered kinds, sorted by name for a
// stable API response.
func (r *Registry) List() []KindInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]KindInfo, 0, len(r.kinds))
	for name, f := range r.kinds {
		info := f.Info()
		info.Name = name
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// decode unmarshals params into v and validates its struct tags. Empty params
// decode as an empty object.
func decode(params json.RawMessage, v any) error {
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// factoryFunc adapts a build function and static info to Factory.
type factoryFunc struct {
	build func(json.RawMessage) (engine.Work, error)
	info  KindInfo
}

func (f factoryFunc) Build(params json.RawMessage) (engine.Work, error) { return f.build(params) }

func (f factoryFunc) Info() KindInfo { return f.info }
