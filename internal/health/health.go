// Package health provides a registry of named subsystem health checkers.
package health

import (
	"context"
	"sync"
)

// Status is the result of checking one subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// OK reports a healthy subsystem.
func OK(name string) Status {
	return Status{Name: name, Healthy: true}
}

// Fail reports an unhealthy subsystem with a detail message.
func Fail(name, detail string) Status {
	return Status{Name: name, Healthy: false, Detail: detail}
}

// Checker checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every registered checker and returns the aggregate health
// plus the individual subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, len(checkers))
	for i, nc := range checkers {
		statuses[i] = nc.check(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}
