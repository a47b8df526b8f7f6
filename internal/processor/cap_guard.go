package processor

import (
	"autosave/internal/domain"
	"autosave/internal/repository"
	"autosave/pkg/keylock"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// CapGuard enforces a rule's max_daily_amount. Reserve holds a lock per
// (user, rule, local date) across the check and the ledger insert, and the
// daily total counts every round-up that has not failed, so concurrent
// firings of the same rule see each other.
type CapGuard struct {
	roundUps repository.RoundUpRepository
	location *time.Location
	locks    *keylock.Map
	logger   *slog.Logger
}

func NewCapGuard(roundUps repository.RoundUpRepository, location *time.Location, logger *slog.Logger) *CapGuard {
	if logger == nil {
		logger = slog.Default()
	}
	if location == nil {
		location = time.Local
	}

	return &CapGuard{
		roundUps: roundUps,
		location: location,
		locks:    keylock.New(),
		logger:   logger,
	}
}

func (g *CapGuard) StartOfDay(now time.Time) time.Time {
	local := now.In(g.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.location)
}

// Allow reports whether candidate fits under the rule's cap for the day
// containing now. It takes no lock; use Reserve when the caller goes on to
// record the round-up.
func (g *CapGuard) Allow(ctx context.Context, rule *domain.AutoSaveRule, candidate decimal.Decimal, userID string, now time.Time) (bool, error) {
	limit := rule.TriggerSettings.MaxDailyAmount
	if !limit.Valid {
		return true, nil
	}

	dailySaved, err := g.roundUps.SumByRuleSince(ctx, rule.ID, g.StartOfDay(now))
	if err != nil {
		return false, fmt.Errorf("failed to get daily total for rule %s: %w", rule.ID, err)
	}

	if dailySaved.Add(candidate).GreaterThan(limit.Decimal) {
		g.logger.DebugContext(ctx, "Daily cap reached",
			slog.String("rule_id", rule.ID),
			slog.String("user_id", userID),
			slog.String("daily_saved", dailySaved.String()),
			slog.String("candidate", candidate.String()),
			slog.String("max_daily_amount", limit.Decimal.String()))
		return false, nil
	}

	return true, nil
}

// Reserve runs create only if candidate fits under the cap, with the check
// and create serialized per (user, rule, day).
func (g *CapGuard) Reserve(
	ctx context.Context,
	rule *domain.AutoSaveRule,
	candidate decimal.Decimal,
	userID string,
	now time.Time,
	create func(context.Context) error,
) (bool, error) {
	if !rule.TriggerSettings.MaxDailyAmount.Valid {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := create(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	key := fmt.Sprintf("%s/%s/%s", userID, rule.ID, g.StartOfDay(now).Format(time.DateOnly))
	unlock := g.locks.Lock(key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	allowed, err := g.Allow(ctx, rule, candidate, userID, now)
	if err != nil || !allowed {
		return false, err
	}

	if err := create(ctx); err != nil {
		return false, err
	}
	return true, nil
}
