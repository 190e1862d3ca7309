package engine

import (
	"context"
	"errors"
	"reflect"
	"runtime"
	"strings"
)

// ErrInvalidInput is returned by Run when the work is not something the
// manager can schedule.
var ErrInvalidInput = errors.New("invalid work")

// defaultDescription names work that offers nothing better.
const defaultDescription = "task"

// Work is a unit of asynchronous work. Do must honour ctx cancellation to stop
// promptly.
type Work interface {
	Do(ctx context.Context) (any, error)
}

// WorkFunc adapts an ordinary function to Work.
type WorkFunc func(ctx context.Context) (any, error)

// Do calls f(ctx).
func (f WorkFunc) Do(ctx context.Context) (any, error) {
	return f(ctx)
}

// unit is one piece of normalized work with its inferred description.
type unit struct {
	work        Work
	description string
}

// normalize accepts a Work, a WorkFunc, a bare function, or a non-empty slice
// of one of those.
func normalize(work any) ([]unit, error) {
	switch w := work.(type) {
	case nil:
		return nil, ErrInvalidInput
	case []Work:
		return normalizeAll(w)
	case []WorkFunc:
		return normalizeAll(w)
	case []func(context.Context) (any, error):
		return normalizeAll(w)
	}
	u, err := normalizeOne(work)
	if err != nil {
		return nil, err
	}
	return []unit{u}, nil
}

func normalizeAll[T any](ws []T) ([]unit, error) {
	if len(ws) == 0 {
		return nil, ErrInvalidInput
	}
	units := make([]unit, 0, len(ws))
	for _, w := range ws {
		u, err := normalizeOne(w)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func normalizeOne(work any) (unit, error) {
	if isNil(work) {
		return unit{}, ErrInvalidInput
	}
	switch w := work.(type) {
	case func(context.Context) (any, error):
		return unit{work: WorkFunc(w), description: describe(w)}, nil
	case Work:
		return unit{work: w, description: describe(w)}, nil
	}
	return unit{}, ErrInvalidInput
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// describe infers a description: a Name method wins, then the name of the Go
// function, then defaultDescription.
func describe(work any) string {
	if n, ok := work.(interface{ Name() string }); ok {
		if name := strings.TrimSpace(n.Name()); name != "" {
			return name
		}
	}
	rv := reflect.ValueOf(work)
	if rv.Kind() != reflect.Func {
		return defaultDescription
	}
	fn := runtime.FuncForPC(rv.Pointer())
	if fn == nil {
		return defaultDescription
	}
	return funcName(fn.Name())
}

// funcName reduces a fully qualified Go symbol to its bare name. Anonymous
// functions have no useful name.
func funcName(full string) string {
	name := full[strings.LastIndex(full, "/")+1:]
	name = strings.TrimSuffix(name, "-fm")
	name = strings.ReplaceAll(name, "[...]", "")
	name = name[strings.LastIndex(name, ".")+1:]
	if name == "" || isAnonymous(name) {
		return defaultDescription
	}
	return name
}

func isAnonymous(name string) bool {
	rest, _ := strings.CutPrefix(name, "func")
	return strings.Trim(rest, "0123456789") == ""
}
