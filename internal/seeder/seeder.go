package seeder

import (
	"context"
	"log"

	"github.com/sarthi-ai/gateway/internal/tier"
	"github.com/sarthi-ai/gateway/internal/usage"
)

const (
	DemoIdentityKey = "demo@sarthi.ai"
	DemoTier        = tier.Premium
)

// Store is the subset of the Postgres store the seeder needs, including the
// administrative tier mutation that is not part of usage.Store.
type Store interface {
	GetOrCreateUser(ctx context.Context, identityKey string) (*usage.User, error)
	SetTier(ctx context.Context, identityKey, tier string) error
}

// SeedDemoUser creates a PREMIUM demo account so the gateway can be exercised
// immediately after a fresh deployment.
func SeedDemoUser(ctx context.Context, store Store) {
	user, err := store.GetOrCreateUser(ctx, DemoIdentityKey)
	if err != nil {
		log.Printf("[Seeder] Failed to create demo user: %v", err)
		return
	}

	if err := store.SetTier(ctx, DemoIdentityKey, string(DemoTier)); err != nil {
		log.Printf("[Seeder] Failed to set demo tier: %v", err)
		return
	}

	log.Printf("[Seeder] Demo user ready")
	log.Printf("[Seeder] Identity: %s", DemoIdentityKey)
	log.Printf("[Seeder] UserID: %s Tier: %s", user.ID, DemoTier)
}
