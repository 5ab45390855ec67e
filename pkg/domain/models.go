package domain

import (
	"time"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Account is one ledger row per distinct user identity (an email address
// or a client-generated device identifier).
type Account struct {
	ID          string     `json:"id" db:"id"`
	Identity    string     `json:"identity" db:"identity"`
	Tier        Tier       `json:"tier" db:"tier"`
	LicenseKey  string     `json:"license_key,omitempty" db:"license_key"`
	UsageCount  int        `json:"usage_count" db:"usage_count"`
	UsagePeriod string     `json:"usage_period" db:"usage_period"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	LastActive  time.Time  `json:"last_active" db:"last_active"`
}

// IsPremium reports whether the account grants premium access at the given
// instant. A premium account with no expiry never expires.
func (a *Account) IsPremium(now time.Time) bool {
	if a.Tier != TierPremium {
		return false
	}
	if a.ExpiresAt == nil {
		return true
	}
	return now.Before(*a.ExpiresAt)
}

// Clone returns a copy safe to mutate without affecting whatever store
// handed the account out.
func (a *Account) Clone() *Account {
	c := *a
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// PeriodKey formats t as the calendar-day marker used for usage resets.
func PeriodKey(t time.Time) string {
	return t.Format("2006-01-02")
}
