package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Runner is a surface of any data type.
type Runner interface {
	Name() string
	Start(ctx context.Context)
	Stop()
	Status() Status
}

// Status is a surface's displayed state with its data type erased.
type Status struct {
	Name                string    `json:"name"`
	Data                any       `json:"data,omitempty"`
	IsStale             bool      `json:"isStale"`
	Message             string    `json:"message,omitempty"`
	Failing             bool      `json:"failing"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success"`
	LastAttempt         time.Time `json:"last_attempt"`
	NextPoll            time.Time `json:"next_poll"`
	Running             bool      `json:"running"`
}

// Registry holds named surfaces.
type Registry struct {
	mu       sync.RWMutex
	surfaces map[string]Runner
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{surfaces: make(map[string]Runner)}
}

// Add registers r. Names must be unique.
func (r *Registry) Add(runner Runner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := runner.Name()
	if _, ok := r.surfaces[name]; ok {
		return fmt.Errorf("surface %s already registered", name)
	}
	r.surfaces[name] = runner
	r.order = append(r.order, name)
	return nil
}

// StartAll starts every registered surface.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		r.surfaces[name].Start(ctx)
	}
}

// StopAll stops every registered surface.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		r.surfaces[name].Stop()
	}
}

// States returns the status of every surface in registration order.
func (r *Registry) States() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.surfaces[name].Status())
	}
	return out
}

// Get returns the status of one surface.
func (r *Registry) Get(name string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[name]
	if !ok {
		return Status{}, false
	}
	return s.Status(), true
}
