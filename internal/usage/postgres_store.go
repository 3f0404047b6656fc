package usage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the usage tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			identity_key TEXT NOT NULL UNIQUE,
			tier TEXT NOT NULL DEFAULT 'FREE',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS daily_usage (
			user_id UUID NOT NULL REFERENCES users(id),
			day TEXT NOT NULL,
			queries_used INT NOT NULL DEFAULT 0 CHECK (queries_used >= 0),
			advanced_used INT NOT NULL DEFAULT 0 CHECK (advanced_used >= 0),
			PRIMARY KEY (user_id, day)
		);
		CREATE TABLE IF NOT EXISTS monthly_usage (
			user_id UUID NOT NULL REFERENCES users(id),
			month TEXT NOT NULL,
			cost_accrued_usd DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (cost_accrued_usd >= 0),
			PRIMARY KEY (user_id, month)
		);
	`)
	if err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, identityKey string) (*User, error) {
	// The no-op DO UPDATE makes the row visible to RETURNING on conflict, so
	// concurrent first references converge on one record.
	query := `
		INSERT INTO users (identity_key)
		VALUES ($1)
		ON CONFLICT (identity_key) DO UPDATE SET identity_key = EXCLUDED.identity_key
		RETURNING id, identity_key, tier, created_at
	`

	var u User
	err := s.db.QueryRow(ctx, query, identityKey).Scan(
		&u.ID, &u.IdentityKey, &u.Tier, &u.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get or create user: %v", ErrStoreUnavailable, err)
	}

	return &u, nil
}

func (s *PostgresStore) GetOrCreateDaily(ctx context.Context, userID, day string) (*DailyUsage, error) {
	query := `
		INSERT INTO daily_usage (user_id, day)
		VALUES ($1, $2)
		ON CONFLICT (user_id, day) DO UPDATE SET day = EXCLUDED.day
		RETURNING user_id, day, queries_used, advanced_used
	`

	var d DailyUsage
	err := s.db.QueryRow(ctx, query, userID, day).Scan(
		&d.UserID, &d.Day, &d.QueriesUsed, &d.AdvancedUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get or create daily usage: %v", ErrStoreUnavailable, err)
	}

	return &d, nil
}

func (s *PostgresStore) GetOrCreateMonthly(ctx context.Context, userID, month string) (*MonthlyUsage, error) {
	query := `
		INSERT INTO monthly_usage (user_id, month)
		VALUES ($1, $2)
		ON CONFLICT (user_id, month) DO UPDATE SET month = EXCLUDED.month
		RETURNING user_id, month, cost_accrued_usd
	`

	var m MonthlyUsage
	err := s.db.QueryRow(ctx, query, userID, month).Scan(
		&m.UserID, &m.Month, &m.CostAccruedUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get or create monthly usage: %v", ErrStoreUnavailable, err)
	}

	return &m, nil
}

// SetTier is the administrative tier mutation. It is deliberately outside
// the Store interface; nothing on the request path changes tiers.
func (s *PostgresStore) SetTier(ctx context.Context, identityKey, tier string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET tier = $1 WHERE identity_key = $2`, tier, identityKey)
	if err != nil {
		return fmt.Errorf("%w: set tier: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set tier: no user with identity key %q", identityKey)
	}
	return nil
}

func (s *PostgresStore) IncrementDaily(ctx context.Context, userID, day string, queryDelta, advancedDelta int) error {
	query := `
		INSERT INTO daily_usage (user_id, day, queries_used, advanced_used)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, day) DO UPDATE SET
			queries_used = daily_usage.queries_used + EXCLUDED.queries_used,
			advanced_used = daily_usage.advanced_used + EXCLUDED.advanced_used
	`

	_, err := s.db.Exec(ctx, query, userID, day, queryDelta, advancedDelta)
	if err != nil {
		return fmt.Errorf("%w: increment daily usage: %v", ErrStoreUnavailable, err)
	}

	return nil
}

func (s *PostgresStore) IncrementMonthlyCost(ctx context.Context, userID, month string, costDelta float64) error {
	query := `
		INSERT INTO monthly_usage (user_id, month, cost_accrued_usd)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, month) DO UPDATE SET
			cost_accrued_usd = monthly_usage.cost_accrued_usd + EXCLUDED.cost_accrued_usd
	`

	_, err := s.db.Exec(ctx, query, userID, month, costDelta)
	if err != nil {
		return fmt.Errorf("%w: increment monthly cost: %v", ErrStoreUnavailable, err)
	}

	return nil
}
