package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dailymind-app/dailymind-api/pkg/domain"
	"github.com/google/uuid"
)

// MemoryLedger keeps accounts in a process-local map. Used by tests and for
// running the service without a database file. The mutex is held across the
// whole read-modify-write in Update, which gives the per-identity
// serialization the gate relies on.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	now      func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]*domain.Account),
		now:      time.Now,
	}
}

func (l *MemoryLedger) Get(_ context.Context, identity string) (*domain.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	account, exists := l.accounts[identity]
	if !exists {
		return nil, ErrNotFound
	}
	return account.Clone(), nil
}

func (l *MemoryLedger) GetOrCreate(_ context.Context, identity string) (*domain.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	account, err := l.getOrCreateLocked(identity)
	if err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

func (l *MemoryLedger) Save(_ context.Context, account *domain.Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.accounts[account.Identity]; !exists {
		return ErrNotFound
	}
	l.accounts[account.Identity] = account.Clone()
	return nil
}

func (l *MemoryLedger) Update(_ context.Context, identity string, mutate func(*domain.Account) error) (*domain.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	account, err := l.getOrCreateLocked(identity)
	if err != nil {
		return nil, err
	}

	updated := account.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}
	l.accounts[identity] = updated
	return updated.Clone(), nil
}

func (l *MemoryLedger) Upgrade(_ context.Context, identity string, licenseKey string, durationDays int) (*domain.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	account, err := l.getOrCreateLocked(identity)
	if err != nil {
		return nil, err
	}

	expiresAt := l.now().AddDate(0, 0, durationDays)
	account.Tier = domain.TierPremium
	account.LicenseKey = licenseKey
	account.ExpiresAt = &expiresAt
	account.UsageCount = 0
	return account.Clone(), nil
}

func (l *MemoryLedger) Stats(_ context.Context) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := domain.PeriodKey(l.now())
	var stats Stats
	recent := make([]*domain.Account, 0, len(l.accounts))
	for _, account := range l.accounts {
		stats.TotalAccounts++
		if account.Tier == domain.TierPremium {
			stats.PremiumAccounts++
		} else {
			stats.FreeAccounts++
		}
		stats.TotalMessages += account.UsageCount
		if account.UsagePeriod == today {
			stats.ActiveToday++
		}
		recent = append(recent, account)
	}

	sort.Slice(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	if len(recent) > recentAccountsLimit {
		recent = recent[:recentAccountsLimit]
	}
	for _, account := range recent {
		stats.RecentAccounts = append(stats.RecentAccounts, *account.Clone())
	}
	return stats, nil
}

func (l *MemoryLedger) Close() error {
	return nil
}

// getOrCreateLocked expects l.mu to be held.
func (l *MemoryLedger) getOrCreateLocked(identity string) (*domain.Account, error) {
	if account, exists := l.accounts[identity]; exists {
		return account, nil
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	now := l.now()
	account := &domain.Account{
		ID:         id.String(),
		Identity:   identity,
		Tier:       domain.TierFree,
		CreatedAt:  now,
		LastActive: now,
	}
	l.accounts[identity] = account
	return account, nil
}
