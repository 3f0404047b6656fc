// Package router picks the cheapest adequate model for a query, subject to
// the quota evaluator's constraints. Quota policy always overrides content
// heuristics.
package router

import (
	"context"

	"github.com/sarthi-ai/gateway/internal/model"
	"github.com/sarthi-ai/gateway/internal/quota"
)

// Queries shorter than this never need advanced reasoning.
const shortQueryThreshold = 15

// Router-level reason codes; quota reasons pass through unchanged.
const (
	ReasonShortQuery = "SHORT_QUERY"
	ReasonClassifier = "CLASSIFIER"
)

// Selection is the routing outcome for one allowed request.
type Selection struct {
	Model         string  `json:"model"`
	EstimatedCost float64 `json:"estimated_cost"`
	Forced        bool    `json:"forced"`
	Reason        string  `json:"reason"`
}

// Estimate is a suggested model and cost for a query.
type Estimate struct {
	Model   string
	CostUSD float64
}

// Estimator suggests a model for queries the cheap local checks don't settle.
// Implementations are interchangeable strategies selected by configuration.
type Estimator interface {
	Estimate(ctx context.Context, query string) (Estimate, error)
}

type Router struct {
	registry  *model.Registry
	estimator Estimator
}

func New(registry *model.Registry, estimator Estimator) *Router {
	return &Router{registry: registry, estimator: estimator}
}

// Classify selects a model for query. Call it only for requests the quota
// evaluator allowed; a forced model in dec wins unconditionally.
func (r *Router) Classify(ctx context.Context, query string, dec quota.Decision) (Selection, error) {
	if dec.ForcedModel != "" {
		id := r.ResolveForced(dec.ForcedModel)
		return Selection{
			Model:         id,
			EstimatedCost: r.baseCost(id),
			Forced:        true,
			Reason:        string(dec.Reason),
		}, nil
	}

	if len(query) < shortQueryThreshold {
		return Selection{
			Model:         model.Basic,
			EstimatedCost: r.baseCost(model.Basic),
			Forced:        true,
			Reason:        ReasonShortQuery,
		}, nil
	}

	est, err := r.estimator.Estimate(ctx, query)
	if err != nil {
		return Selection{}, err
	}
	return Selection{
		Model:         est.Model,
		EstimatedCost: est.CostUSD,
		Reason:        ReasonClassifier,
	}, nil
}

// ResolveForced maps a quota force target to a concrete model ID.
func (r *Router) ResolveForced(forced string) string {
	if forced == quota.ForceCheapest {
		return r.registry.Cheapest()
	}
	return model.Basic
}

func (r *Router) baseCost(id string) float64 {
	info, err := r.registry.Lookup(id)
	if err != nil {
		return 0
	}
	return info.BaseCostUSD
}
