// Package registry resolves a Job's class_name to the user-supplied
// callable that executes it (spec §6 "Callable resolution").
package registry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/civic-os/pgqueue/internal/queueerrors"
)

// Execute is the user-supplied callable for one job class. It receives
// the job's raw arguments JSON and returns an error if the work failed.
type Execute func(ctx context.Context, arguments json.RawMessage) error

// Registry maps class_name to its Execute callable. The zero value is
// ready to use.
type Registry struct {
	mu        sync.RWMutex
	callables map[string]Execute
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{callables: make(map[string]Execute)}
}

// Register binds className to fn, overwriting any previous binding —
// module discovery calls this once per class at startup.
func (r *Registry) Register(className string, fn Execute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.callables == nil {
		r.callables = make(map[string]Execute)
	}
	r.callables[className] = fn
}

// Resolve looks up className's callable, returning UnknownJobClassError if
// it was never registered.
func (r *Registry) Resolve(className string) (Execute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.callables[className]
	if !ok {
		return nil, &queueerrors.UnknownJobClassError{ClassName: className}
	}
	return fn, nil
}
