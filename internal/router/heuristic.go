package router

import (
	"context"
	"strings"

	"github.com/sarthi-ai/gateway/internal/model"
)

// Markers of reasoning-heavy queries. Crude on purpose; the remote classifier
// exists for anything smarter.
var advancedMarkers = []string{
	"explain", "analyze", "analyse", "compare", "summarize", "summarise",
	"step by step", "why", "prove", "debug", "refactor", "translate",
}

// Queries longer than this go to the advanced model regardless of wording.
const longQueryThreshold = 400

// HeuristicEstimator scores a query locally against the model catalog's base
// costs. It is the default strategy and needs no network round trip.
type HeuristicEstimator struct {
	registry *model.Registry
}

func NewHeuristicEstimator(registry *model.Registry) *HeuristicEstimator {
	return &HeuristicEstimator{registry: registry}
}

func (e *HeuristicEstimator) Estimate(_ context.Context, query string) (Estimate, error) {
	id := model.Basic
	if len(query) > longQueryThreshold {
		id = model.Advanced
	} else {
		lower := strings.ToLower(query)
		for _, marker := range advancedMarkers {
			if strings.Contains(lower, marker) {
				id = model.Advanced
				break
			}
		}
	}

	info, err := e.registry.Lookup(id)
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{Model: id, CostUSD: info.BaseCostUSD}, nil
}
