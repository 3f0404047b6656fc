// Package recorder commits the effects of served requests back to the usage
// store. All counter mutation in the system flows through here, keeping the
// update path single-purpose and auditable.
package recorder

import (
	"context"
	"time"

	"github.com/sarthi-ai/gateway/internal/usage"
)

// Clock maps wall time onto usage period keys in the fixed reference
// timezone. Daily and monthly boundaries roll over in this zone only.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, now: time.Now}
}

// NewFixedClock returns a Clock pinned to a point in time, for tests.
func NewFixedClock(loc *time.Location, at time.Time) *Clock {
	c := NewClock(loc)
	c.now = func() time.Time { return at }
	return c
}

func (c *Clock) Today() string {
	return c.now().In(c.loc).Format("2006-01-02")
}

func (c *Clock) ThisMonth() string {
	return c.now().In(c.loc).Format("2006-01")
}

type Recorder struct {
	store usage.Store
	clock *Clock
}

func New(store usage.Store, clock *Clock) *Recorder {
	return &Recorder{store: store, clock: clock}
}

// Record commits one served request: +1 query (and +1 advanced if applicable)
// on today's counters, plus the realized cost on this month's accrual. Uses
// the store's atomic increments only; it must be called exactly once per
// served request and never for denied or failed ones.
func (r *Recorder) Record(ctx context.Context, userID string, advanced bool, actualCost float64) error {
	advancedDelta := 0
	if advanced {
		advancedDelta = 1
	}

	if err := r.store.IncrementDaily(ctx, userID, r.clock.Today(), 1, advancedDelta); err != nil {
		return err
	}
	return r.store.IncrementMonthlyCost(ctx, userID, r.clock.ThisMonth(), actualCost)
}

// Snapshot loads the current day's and month's usage for a user, creating
// zeroed records on first access.
func (r *Recorder) Snapshot(ctx context.Context, userID string) (*usage.DailyUsage, *usage.MonthlyUsage, error) {
	daily, err := r.store.GetOrCreateDaily(ctx, userID, r.clock.Today())
	if err != nil {
		return nil, nil, err
	}
	monthly, err := r.store.GetOrCreateMonthly(ctx, userID, r.clock.ThisMonth())
	if err != nil {
		return nil, nil, err
	}
	return daily, monthly, nil
}
