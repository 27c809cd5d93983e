// Package service defines the backend service contract and the registry
// the dynamic route engine resolves declarations against.
package service

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Service is the single capability contract every pluggable backend
// implements. Call receives the parameters extracted from the request and
// returns a JSON-serializable result; failures are signaled with an
// *apierrors.APIError so the transport layer can surface the carried
// status code unchanged. Cleanup releases anything the instance acquired
// (e.g. an http.Client it owns exclusively, as opposed to the shared one
// it was constructed with) and runs regardless of Call's outcome.
type Service interface {
	Call(ctx context.Context, params map[string]any) (map[string]any, error)
	Cleanup() error
}

// Factory creates a request-scoped service instance bound to the shared,
// pooled transport handle.
type Factory func(client *http.Client) Service

// Registry maps service names to factories. Names are case-insensitive and
// later registrations win, so extension services loaded after the
// built-ins override them.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = factory
}

func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[strings.ToLower(name)]
	return factory, ok
}

// List returns the registered service names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.factories)
	sort.Strings(names)
	return names
}
