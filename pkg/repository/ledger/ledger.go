package ledger

import (
	"context"
	"errors"

	"github.com/dailymind-app/dailymind-api/pkg/domain"
)

var ErrNotFound = errors.New("account not found")

// recentAccountsLimit caps how many accounts Stats lists.
const recentAccountsLimit = 10

// Stats holds the aggregate counters surfaced on the admin endpoint.
type Stats struct {
	TotalAccounts   int              `json:"total_accounts"`
	PremiumAccounts int              `json:"premium_accounts"`
	FreeAccounts    int              `json:"free_accounts"`
	TotalMessages   int              `json:"total_messages"`
	ActiveToday     int              `json:"active_today"`
	RecentAccounts  []domain.Account `json:"recent_accounts"`
}

// Ledger is the durable identity -> Account mapping. Update serializes
// read-modify-write cycles per identity so two concurrent requests cannot
// both observe a stale usage counter.
type Ledger interface {
	// Get returns the account for identity, or ErrNotFound.
	Get(ctx context.Context, identity string) (*domain.Account, error)

	// GetOrCreate returns the existing account or creates a free-tier one,
	// persisting it immediately. Idempotent.
	GetOrCreate(ctx context.Context, identity string) (*domain.Account, error)

	// Save persists the mutated fields of an existing account.
	Save(ctx context.Context, account *domain.Account) error

	// Update runs mutate against the account (created if absent) and
	// persists the result atomically. If mutate returns an error nothing is
	// persisted and the error is returned as-is.
	Update(ctx context.Context, identity string, mutate func(*domain.Account) error) (*domain.Account, error)

	// Upgrade switches the account to premium for durationDays from now,
	// installs the given license key and clears the usage counter. The
	// account is created first if it has never been seen.
	Upgrade(ctx context.Context, identity string, licenseKey string, durationDays int) (*domain.Account, error)

	// Stats reports aggregate account counters.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}
