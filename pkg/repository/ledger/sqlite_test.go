package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dailymind-app/dailymind-api/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteLedger(t *testing.T) *SQLiteLedger {
	t.Helper()

	migrations, err := filepath.Abs("../../../migrations")
	require.NoError(t, err)

	store, err := NewSQLiteLedger(Config{
		DatabasePath:   filepath.Join(t.TempDir(), "test.db"),
		MigrationsPath: migrations,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_GetOrCreateIdempotent(t *testing.T) {
	store := newTestSQLiteLedger(t)
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "a@x.com")
	require.NoError(t, err)
	second, err := store.GetOrCreate(ctx, "a@x.com")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.TierFree, second.Tier)
	assert.Equal(t, 0, second.UsageCount)
	assert.Nil(t, second.ExpiresAt)
}

func TestSQLite_GetUnknown(t *testing.T) {
	store := newTestSQLiteLedger(t)

	_, err := store.Get(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UpdatePersistsMutation(t *testing.T) {
	store := newTestSQLiteLedger(t)
	ctx := context.Background()

	_, err := store.Update(ctx, "a@x.com", func(a *domain.Account) error {
		a.UsageCount = 7
		a.UsagePeriod = "2026-08-30"
		return nil
	})
	require.NoError(t, err)

	account, err := store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 7, account.UsageCount)
	assert.Equal(t, "2026-08-30", account.UsagePeriod)
}

func TestSQLite_UpdateErrorRollsBack(t *testing.T) {
	store := newTestSQLiteLedger(t)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "a@x.com")
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = store.Update(ctx, "a@x.com", func(a *domain.Account) error {
		a.UsageCount = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)

	account, err := store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 0, account.UsageCount)
}

func TestSQLite_SaveUnknownIdentity(t *testing.T) {
	store := newTestSQLiteLedger(t)

	err := store.Save(context.Background(), &domain.Account{Identity: "ghost@x.com"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Upgrade(t *testing.T) {
	store := newTestSQLiteLedger(t)
	ctx := context.Background()

	_, err := store.Update(ctx, "b@x.com", func(a *domain.Account) error {
		a.UsageCount = 9
		return nil
	})
	require.NoError(t, err)

	account, err := store.Upgrade(ctx, "b@x.com", "ABCDEF0123456789", 30)
	require.NoError(t, err)

	assert.Equal(t, domain.TierPremium, account.Tier)
	assert.Equal(t, "ABCDEF0123456789", account.LicenseKey)
	assert.Equal(t, 0, account.UsageCount)
	require.NotNil(t, account.ExpiresAt)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), *account.ExpiresAt, time.Minute)

	// Expiry survives a round trip through the database.
	reloaded, err := store.Get(ctx, "b@x.com")
	require.NoError(t, err)
	require.NotNil(t, reloaded.ExpiresAt)
	assert.WithinDuration(t, *account.ExpiresAt, *reloaded.ExpiresAt, time.Second)
}

func TestSQLite_ClearedExpiryRoundTrip(t *testing.T) {
	store := newTestSQLiteLedger(t)
	ctx := context.Background()

	_, err := store.Upgrade(ctx, "p@x.com", "KEY", 30)
	require.NoError(t, err)

	_, err = store.Update(ctx, "p@x.com", func(a *domain.Account) error {
		a.Tier = domain.TierFree
		a.ExpiresAt = nil
		return nil
	})
	require.NoError(t, err)

	account, err := store.Get(ctx, "p@x.com")
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, account.Tier)
	assert.Nil(t, account.ExpiresAt)
}

func TestSQLite_Stats(t *testing.T) {
	store := newTestSQLiteLedger(t)
	ctx := context.Background()

	_, err := store.Update(ctx, "a@x.com", func(a *domain.Account) error {
		a.UsageCount = 3
		a.UsagePeriod = domain.PeriodKey(time.Now())
		return nil
	})
	require.NoError(t, err)
	_, err = store.Upgrade(ctx, "b@x.com", "KEY", 30)
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAccounts)
	assert.Equal(t, 1, stats.PremiumAccounts)
	assert.Equal(t, 1, stats.FreeAccounts)
	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, 1, stats.ActiveToday)
	assert.Len(t, stats.RecentAccounts, 2)
}

func TestSQLite_StatsRecentAccountsCapped(t *testing.T) {
	store := newTestSQLiteLedger(t)
	ctx := context.Background()

	for i := 0; i < 14; i++ {
		_, err := store.GetOrCreate(ctx, fmt.Sprintf("user%02d@x.com", i))
		require.NoError(t, err)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 14, stats.TotalAccounts)
	assert.Len(t, stats.RecentAccounts, 10)
}

func TestSQLite_ConcurrentUpdates(t *testing.T) {
	store := newTestSQLiteLedger(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "a@x.com", func(a *domain.Account) error {
				a.UsageCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	account, err := store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, workers, account.UsageCount)
}
