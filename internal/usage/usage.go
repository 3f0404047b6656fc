package usage

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps any persistence failure. Callers must treat quota
// state as unknown and fail closed; no write may be assumed to have happened.
var ErrStoreUnavailable = errors.New("usage store unavailable")

// User is a metered account, created lazily on first reference.
type User struct {
	ID          string    `json:"id"`
	IdentityKey string    `json:"identity_key"`
	Tier        string    `json:"tier"`
	CreatedAt   time.Time `json:"created_at"`
}

// DailyUsage holds one user's counters for one calendar day. Only the current
// day's record is ever written; past days are immutable history.
type DailyUsage struct {
	UserID       string `json:"user_id"`
	Day          string `json:"day"` // YYYY-MM-DD in the reference timezone
	QueriesUsed  int    `json:"queries_used"`
	AdvancedUsed int    `json:"advanced_used"`
}

// MonthlyUsage holds one user's accrued spend for one calendar month.
// CostAccruedUSD is monotonically non-decreasing within a month.
type MonthlyUsage struct {
	UserID         string  `json:"user_id"`
	Month          string  `json:"month"` // YYYY-MM in the reference timezone
	CostAccruedUSD float64 `json:"cost_accrued_usd"`
}

// Store is the persistence contract for users and usage counters.
//
// Get-or-create operations are idempotent: concurrent calls for the same key
// must converge on a single record. Increments are atomic relative updates at
// the store level, never read-modify-write at the application layer.
type Store interface {
	GetOrCreateUser(ctx context.Context, identityKey string) (*User, error)
	GetOrCreateDaily(ctx context.Context, userID, day string) (*DailyUsage, error)
	GetOrCreateMonthly(ctx context.Context, userID, month string) (*MonthlyUsage, error)
	IncrementDaily(ctx context.Context, userID, day string, queryDelta, advancedDelta int) error
	IncrementMonthlyCost(ctx context.Context, userID, month string, costDelta float64) error
}
