package model

import "context"

// StaticBackend returns a canned answer at a fixed cost. It lets the gateway
// run end-to-end without upstream credentials and backs the basic path in
// development.
type StaticBackend struct {
	name    string
	reply   string
	costUSD float64
}

func NewStaticBackend(name, reply string, costUSD float64) *StaticBackend {
	return &StaticBackend{name: name, reply: reply, costUSD: costUSD}
}

func (b *StaticBackend) Invoke(ctx context.Context, query string) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return &Result{Text: b.reply, ActualCostUSD: b.costUSD, LatencyMs: 1}, nil
}

func (b *StaticBackend) Name() string {
	return b.name
}
