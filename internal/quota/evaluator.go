// Package quota decides whether a prospective request is admitted, downgraded,
// or denied, given a user's tier limits and current usage counters.
//
// The decision is advisory relative to the finally recorded usage: it reads a
// snapshot that may be stale by the time the recorder commits. A bounded
// over-admission at an exact limit boundary is accepted instead of a global
// lock; availability wins over strict consistency here.
package quota

import (
	"github.com/sarthi-ai/gateway/internal/tier"
	"github.com/sarthi-ai/gateway/internal/usage"
)

// Reason explains a quota decision. Every denial or downgrade carries one.
type Reason string

const (
	ReasonNone                   Reason = "NONE"
	ReasonDailyLimitReached      Reason = "DAILY_LIMIT_REACHED"
	ReasonAdvancedQuotaExhausted Reason = "ADVANCED_QUOTA_EXHAUSTED"
	ReasonMonthlyCostCapReached  Reason = "MONTHLY_COST_CAP_REACHED"
)

// Forced model targets. These are resolved to concrete model IDs by the
// router's model registry; the evaluator itself knows nothing about models.
const (
	ForceBasic    = "basic"
	ForceCheapest = "cheapest"
)

// Decision is the transient outcome for one prospective request.
type Decision struct {
	Allowed     bool
	ForcedModel string // "", ForceBasic or ForceCheapest
	Reason      Reason
}

// Evaluate applies the admission checks in order; the first match wins.
//
//  1. Daily query cap: hard block.
//  2. Advanced cap: downgrade to basic, never block.
//  3. Monthly cost cap: downgrade to the cheapest model. The boundary is
//     inclusive: accrued + estimate == cap already counts as over budget.
func Evaluate(lim tier.Limits, daily usage.DailyUsage, monthly usage.MonthlyUsage, advanced bool, estimatedCost float64) Decision {
	if daily.QueriesUsed >= lim.DailyQueries {
		return Decision{Allowed: false, Reason: ReasonDailyLimitReached}
	}

	if advanced && daily.AdvancedUsed >= lim.DailyAdvanced {
		return Decision{Allowed: true, ForcedModel: ForceBasic, Reason: ReasonAdvancedQuotaExhausted}
	}

	if monthly.CostAccruedUSD+estimatedCost >= lim.MonthlyCostUSD {
		return Decision{Allowed: true, ForcedModel: ForceCheapest, Reason: ReasonMonthlyCostCapReached}
	}

	return Decision{Allowed: true, Reason: ReasonNone}
}
