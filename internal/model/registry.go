package model

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

type entry struct {
	info    Info
	backend Backend
	breaker *gobreaker.CircuitBreaker
}

// Registry maps model IDs to invocation backends, each behind its own circuit
// breaker so a failing upstream degrades that model without taking the rest.
type Registry struct {
	entries map[string]*entry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) Register(info Info, backend Backend) {
	settings := gobreaker.Settings{
		Name:        info.ID,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	r.entries[info.ID] = &entry{
		info:    info,
		backend: backend,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
	r.order = append(r.order, info.ID)
}

// Lookup returns the descriptor for a model ID.
func (r *Registry) Lookup(id string) (Info, error) {
	e, ok := r.entries[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return e.info, nil
}

// Cheapest returns the lowest-cost model whose breaker is not open. If every
// breaker is open it still returns the overall cheapest, so quota-forced
// downgrades always resolve to some model.
func (r *Registry) Cheapest() string {
	best := ""
	bestHealthy := ""
	for _, id := range r.order {
		e := r.entries[id]
		if best == "" || e.info.BaseCostUSD < r.entries[best].info.BaseCostUSD {
			best = id
		}
		if e.breaker.State() == gobreaker.StateOpen {
			continue
		}
		if bestHealthy == "" || e.info.BaseCostUSD < r.entries[bestHealthy].info.BaseCostUSD {
			bestHealthy = id
		}
	}
	if bestHealthy != "" {
		return bestHealthy
	}
	return best
}

// Invoke executes the query against the backend registered for id.
func (r *Registry) Invoke(ctx context.Context, id, query string) (*Result, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}

	start := time.Now()
	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.backend.Invoke(ctx, query)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, id, err)
		}
		return nil, err
	}

	res := result.(*Result)
	if res.LatencyMs == 0 {
		res.LatencyMs = time.Since(start).Milliseconds()
	}
	return res, nil
}
