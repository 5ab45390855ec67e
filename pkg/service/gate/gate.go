package gate

import (
	"context"
	"errors"
	"time"

	"github.com/dailymind-app/dailymind-api/pkg/domain"
	"github.com/dailymind-app/dailymind-api/pkg/repository/ledger"
)

// FreeDailyLimit is the number of gated requests a free-tier account may
// make per calendar day.
const FreeDailyLimit = 10

// DenyMessage is the fixed user-facing message returned when the daily free
// limit is exhausted.
const DenyMessage = "You’ve reached today’s free limit. Upgrade to continue."

// Decision is the outcome of a single gate evaluation.
type Decision struct {
	Allowed bool
	Reason  string
	Premium bool
	Account *domain.Account
}

// Gate decides, per request, whether an identity may reach the upstream
// model. Evaluations run inside the ledger's serialized update so ledger
// mutations (expiry downgrade, daily reset, counter increment) are persisted
// atomically with the decision.
type Gate struct {
	ledger ledger.Ledger
	limit  int
	now    func() time.Time
}

func New(l ledger.Ledger) *Gate {
	return &Gate{
		ledger: l,
		limit:  FreeDailyLimit,
		now:    time.Now,
	}
}

// Evaluate runs the gate for one inbound chat request. Any mutation made
// before a denial (expiry downgrade, period reset) is still persisted; a
// denied request never increments the usage counter.
func (g *Gate) Evaluate(ctx context.Context, identity string) (Decision, error) {
	var decision Decision
	account, err := g.ledger.Update(ctx, identity, func(a *domain.Account) error {
		now := g.now()

		// Expired premium falls back to free before anything else.
		if a.Tier == domain.TierPremium && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			a.Tier = domain.TierFree
			a.ExpiresAt = nil
		}

		// Roll the usage period over on the first request of a new day.
		if today := domain.PeriodKey(now); a.UsagePeriod != today {
			a.UsageCount = 0
			a.UsagePeriod = today
		}

		if a.Tier == domain.TierFree && a.UsageCount >= g.limit {
			decision.Allowed = false
			decision.Reason = DenyMessage
			return nil
		}

		a.UsageCount++
		a.LastActive = now
		decision.Allowed = true
		decision.Premium = a.IsPremium(now)
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	decision.Account = account
	return decision, nil
}

// Refresh reports whether an identity currently has premium access without
// consuming quota. An expiry observed here is persisted immediately; an
// unknown identity is simply not premium and no account is created.
func (g *Gate) Refresh(ctx context.Context, identity string) (bool, error) {
	account, err := g.ledger.Get(ctx, identity)
	if errors.Is(err, ledger.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := g.now()
	if account.Tier == domain.TierPremium && account.ExpiresAt != nil && account.ExpiresAt.Before(now) {
		account, err = g.ledger.Update(ctx, identity, func(a *domain.Account) error {
			if a.Tier == domain.TierPremium && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
				a.Tier = domain.TierFree
				a.ExpiresAt = nil
			}
			return nil
		})
		if err != nil {
			return false, err
		}
	}
	return account.IsPremium(now), nil
}
