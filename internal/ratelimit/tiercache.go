package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mrgun/server/internal/auth"
	"github.com/mrgun/server/internal/cacheutil"
	"github.com/mrgun/server/internal/storage"
)

// tierCacheTTL bounds how stale an exemption decision can be after an
// admin changes an operator's tier.
const tierCacheTTL = 5 * time.Minute

// TierCache answers operator tier lookups cheaply enough to sit on the
// request path. A failed lookup reads as the zero tier, which is never
// exempt.
type TierCache struct {
	store storage.Store
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheutil.CachedValue[storage.CustomerTier]
}

func NewTierCache(store storage.Store) *TierCache {
	return &TierCache{
		store:   store,
		ttl:     tierCacheTTL,
		entries: make(map[string]cacheutil.CachedValue[storage.CustomerTier]),
	}
}

// Tier returns the operator's tier, cached for tierCacheTTL.
func (c *TierCache) Tier(ctx context.Context, operatorID string) storage.CustomerTier {
	tier, err := cacheutil.ReadThrough(
		&c.mu,
		func(now time.Time) (storage.CustomerTier, bool) {
			entry, ok := c.entries[operatorID]
			if !ok || now.Sub(entry.FetchedAt) >= c.ttl {
				return "", false
			}
			return entry.Value, true
		},
		func(now time.Time) (storage.CustomerTier, error) {
			var tier storage.CustomerTier
			err := c.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
				op, err := tx.GetOperator(ctx, operatorID)
				if err != nil {
					return err
				}
				tier = op.Tier
				return nil
			})
			if err != nil {
				return "", err
			}
			c.entries[operatorID] = cacheutil.CachedValue[storage.CustomerTier]{Value: tier, FetchedAt: now}
			return tier, nil
		},
	)
	if err != nil {
		return ""
	}
	return tier
}

// ExemptVIP returns an ExemptOperator func that lets vip operators skip
// the per-operator cap.
func (c *TierCache) ExemptVIP() func(*http.Request) bool {
	return func(r *http.Request) bool {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			return false
		}
		return c.Tier(r.Context(), claims.OperatorID()) == storage.TierVIP
	}
}
