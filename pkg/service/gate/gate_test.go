package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dailymind-app/dailymind-api/pkg/domain"
	"github.com/dailymind-app/dailymind-api/pkg/repository/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate() (*Gate, *ledger.MemoryLedger) {
	store := ledger.NewMemoryLedger()
	return New(store), store
}

func TestEvaluate_AllowsAndCounts(t *testing.T) {
	g, store := newTestGate()
	ctx := context.Background()

	decision, err := g.Evaluate(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.False(t, decision.Premium)

	account, err := store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, account.UsageCount)
	assert.Equal(t, domain.PeriodKey(time.Now()), account.UsagePeriod)
}

func TestEvaluate_FreeLimitExhausted(t *testing.T) {
	g, store := newTestGate()
	ctx := context.Background()

	for i := 0; i < FreeDailyLimit; i++ {
		decision, err := g.Evaluate(ctx, "a@x.com")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "request %d should be allowed", i+1)
	}

	decision, err := g.Evaluate(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyMessage, decision.Reason)

	// A denied request must not move the counter.
	account, err := store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, FreeDailyLimit, account.UsageCount)
}

func TestEvaluate_DailyReset(t *testing.T) {
	g, store := newTestGate()
	ctx := context.Background()

	for i := 0; i < FreeDailyLimit; i++ {
		_, err := g.Evaluate(ctx, "a@x.com")
		require.NoError(t, err)
	}
	decision, err := g.Evaluate(ctx, "a@x.com")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// Next calendar day: counter resets once and requests flow again.
	g.now = func() time.Time { return time.Now().AddDate(0, 0, 1) }

	decision, err = g.Evaluate(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	account, err := store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, account.UsageCount)
}

func TestEvaluate_PremiumUncounted(t *testing.T) {
	g, store := newTestGate()
	ctx := context.Background()

	_, err := store.Upgrade(ctx, "p@x.com", "KEY", 30)
	require.NoError(t, err)

	for i := 0; i < FreeDailyLimit+5; i++ {
		decision, err := g.Evaluate(ctx, "p@x.com")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "premium request %d should be allowed", i+1)
		require.True(t, decision.Premium)
	}
}

func TestEvaluate_PremiumStillValidNearExpiry(t *testing.T) {
	g, store := newTestGate()
	ctx := context.Background()

	_, err := store.Upgrade(ctx, "p@x.com", "KEY", 30)
	require.NoError(t, err)

	g.now = func() time.Time { return time.Now().AddDate(0, 0, 29) }

	decision, err := g.Evaluate(ctx, "p@x.com")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Premium)
}

func TestEvaluate_ExpiredPremiumDowngraded(t *testing.T) {
	g, store := newTestGate()
	ctx := context.Background()

	_, err := store.Upgrade(ctx, "p@x.com", "KEY", 30)
	require.NoError(t, err)

	g.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }

	decision, err := g.Evaluate(ctx, "p@x.com")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.False(t, decision.Premium)

	// Downgrade is persisted, not just computed for this request.
	account, err := store.Get(ctx, "p@x.com")
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, account.Tier)
	assert.Nil(t, account.ExpiresAt)

	// Free-tier rules now apply.
	for i := 0; i < FreeDailyLimit-1; i++ {
		decision, err := g.Evaluate(ctx, "p@x.com")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}
	decision, err = g.Evaluate(ctx, "p@x.com")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestEvaluate_PremiumWithoutExpiryNeverExpires(t *testing.T) {
	g, store := newTestGate()
	ctx := context.Background()

	_, err := store.Update(ctx, "p@x.com", func(a *domain.Account) error {
		a.Tier = domain.TierPremium
		a.ExpiresAt = nil
		return nil
	})
	require.NoError(t, err)

	g.now = func() time.Time { return time.Now().AddDate(1, 0, 0) }

	decision, err := g.Evaluate(ctx, "p@x.com")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Premium)
}

func TestEvaluate_ConcurrentRequestsRespectLimit(t *testing.T) {
	g, store := newTestGate()
	ctx := context.Background()

	// More workers than the quota, all racing on one identity. Exactly
	// FreeDailyLimit may pass; no two may act on the same stale counter.
	const workers = FreeDailyLimit + 5
	var wg sync.WaitGroup
	var allowed atomic.Int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := g.Evaluate(ctx, "a@x.com")
			assert.NoError(t, err)
			if decision.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(FreeDailyLimit), allowed.Load())

	account, err := store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, FreeDailyLimit, account.UsageCount)
}

func TestRefresh_UnknownIdentity(t *testing.T) {
	g, store := newTestGate()
	ctx := context.Background()

	premium, err := g.Refresh(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.False(t, premium)

	// Refresh must not create accounts.
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalAccounts)
}

func TestRefresh_PersistsExpiry(t *testing.T) {
	g, store := newTestGate()
	ctx := context.Background()

	_, err := store.Upgrade(ctx, "p@x.com", "KEY", 30)
	require.NoError(t, err)

	premium, err := g.Refresh(ctx, "p@x.com")
	require.NoError(t, err)
	assert.True(t, premium)

	g.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }

	premium, err = g.Refresh(ctx, "p@x.com")
	require.NoError(t, err)
	assert.False(t, premium)

	account, err := store.Get(ctx, "p@x.com")
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, account.Tier)
	assert.Nil(t, account.ExpiresAt)
}
