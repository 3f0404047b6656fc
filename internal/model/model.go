package model

import (
	"context"
	"errors"
)

// Model identifiers. "basic" is the cheap default path; "advanced" is the
// reasoning-heavy path subject to the tighter daily cap.
const (
	Basic    = "sarthi-basic"
	Advanced = "sarthi-advanced"
)

var (
	ErrUnknownModel = errors.New("unknown model")
	ErrUnavailable  = errors.New("model backend unavailable")
)

// Info describes one routable model.
type Info struct {
	ID          string
	Advanced    bool
	BaseCostUSD float64 // nominal per-query cost, used for estimates and ranking
}

// Result is one completed invocation. ActualCostUSD is the realized,
// server-side cost and is what gets recorded against the monthly cap.
type Result struct {
	Text          string
	ActualCostUSD float64
	LatencyMs     int64
}

// Backend generates text for one model. Implementations must respect ctx
// cancellation; a slow upstream must not hold a request past its deadline.
type Backend interface {
	Invoke(ctx context.Context, query string) (*Result, error)
	Name() string
}
