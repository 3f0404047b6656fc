package tier

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownTier = errors.New("unknown subscription tier")

// Tier is a subscription level. The set is closed; anything else is a
// configuration defect, not a fallback to FREE.
type Tier string

const (
	Free    Tier = "FREE"
	Plus    Tier = "PLUS"
	Pro     Tier = "PRO"
	Premium Tier = "PREMIUM"
)

// Default is the tier assigned to users created on first reference.
const Default = Free

// Limits are the quota ceilings for one tier. Immutable after process start.
type Limits struct {
	DailyQueries   int     // hard daily cap, blocks outright
	DailyAdvanced  int     // advanced-model daily cap, downgrades past it
	MonthlyCostUSD float64 // monthly spend cap, downgrades to cheapest past it
}

var catalog = map[Tier]Limits{
	Free:    {DailyQueries: 30, DailyAdvanced: 0, MonthlyCostUSD: 3.00},
	Plus:    {DailyQueries: 200, DailyAdvanced: 0, MonthlyCostUSD: 10.00},
	Pro:     {DailyQueries: 1500, DailyAdvanced: 50, MonthlyCostUSD: 50.00},
	Premium: {DailyQueries: 5000, DailyAdvanced: 500, MonthlyCostUSD: 250.00},
}

// LimitsFor returns the quota limits for t.
func LimitsFor(t Tier) (Limits, error) {
	lim, ok := catalog[t]
	if !ok {
		return Limits{}, fmt.Errorf("%w: %q", ErrUnknownTier, t)
	}
	return lim, nil
}

// Parse converts a stored tier name into a Tier.
func Parse(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := catalog[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// All returns the closed tier set, for seeding and validation.
func All() []Tier {
	return []Tier{Free, Plus, Pro, Premium}
}
