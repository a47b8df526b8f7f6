package processor

import (
	"autosave/internal/domain"
	"autosave/internal/repository/memory"
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cappedRule(limit float64) *domain.AutoSaveRule {
	return &domain.AutoSaveRule{
		ID:              "capped",
		UserID:          "u1",
		IsActive:        true,
		TriggerType:     domain.TriggerFixedAmount,
		TriggerSettings: domain.TriggerSettings{FixedAmount: domain.Dec(15), MaxDailyAmount: domain.Dec(limit)},
		DestinationType: domain.DestinationSavingsAccount,
		DestinationID:   "sav-1",
	}
}

func reserve(t *testing.T, guard *CapGuard, repo *memory.RoundUpRepository, r *domain.AutoSaveRule, amount decimal.Decimal, now time.Time) (bool, string) {
	t.Helper()
	ru := &domain.RoundUpTransaction{UserID: "u1", AutoSaveRuleID: r.ID, RoundUpAmount: amount, Status: domain.StatusPending}
	ok, err := guard.Reserve(context.Background(), r, amount, "u1", now, func(ctx context.Context) error {
		_, err := repo.Create(ctx, ru)
		return err
	})
	require.NoError(t, err)
	return ok, ru.ID
}

func TestCapGuard_NoCapAlwaysAllows(t *testing.T) {
	guard := NewCapGuard(memory.NewRoundUpRepository(), time.UTC, nil)
	r := cappedRule(20)
	r.TriggerSettings.MaxDailyAmount = decimal.NullDecimal{}

	ok, err := guard.Allow(context.Background(), r, decimal.NewFromInt(1_000_000), "u1", time.Now())

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCapGuard_SecondFiringSameDayRejected(t *testing.T) {
	morning := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	clock := morning
	repo := memory.NewRoundUpRepositoryWithClock(func() time.Time { return clock })
	guard := NewCapGuard(repo, time.UTC, nil)
	r := cappedRule(20)

	okA, idA := reserve(t, guard, repo, r, decimal.NewFromInt(15), morning)
	_ = repo.UpdateStatus(context.Background(), idA, domain.StatusPending, domain.StatusProcessing, nil, "")
	_ = repo.UpdateStatus(context.Background(), idA, domain.StatusProcessing, domain.StatusCompleted, &morning, "")

	clock = morning.Add(5 * time.Hour)
	okB, _ := reserve(t, guard, repo, r, decimal.NewFromInt(15), clock)

	assert.True(t, okA)
	assert.False(t, okB)

	clock = morning.Add(24 * time.Hour)
	okNextDay, _ := reserve(t, guard, repo, r, decimal.NewFromInt(15), clock)
	assert.True(t, okNextDay, "cap resets at local midnight")
}

func TestCapGuard_FailedRoundUpsFreeCapacity(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	repo := memory.NewRoundUpRepositoryWithClock(func() time.Time { return now })
	guard := NewCapGuard(repo, time.UTC, nil)
	r := cappedRule(20)

	_, id := reserve(t, guard, repo, r, decimal.NewFromInt(15), now)
	_ = repo.UpdateStatus(context.Background(), id, domain.StatusPending, domain.StatusFailed, nil, "vault offline")
	ok, _ := reserve(t, guard, repo, r, decimal.NewFromInt(15), now)

	assert.True(t, ok)
}

func TestCapGuard_UsesConfiguredLocationForMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	guard := NewCapGuard(memory.NewRoundUpRepository(), loc, nil)

	start := guard.StartOfDay(time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC))

	assert.Equal(t, time.Date(2026, 5, 5, 0, 0, 0, 0, loc), start)
}

func TestCapGuard_ConcurrentFiringsExactlyOneAllowed(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(99))

	for round := 0; round < 50; round++ {
		repo := memory.NewRoundUpRepositoryWithClock(func() time.Time { return now })
		guard := NewCapGuard(repo, time.UTC, nil)
		r := cappedRule(20)
		delays := []time.Duration{
			time.Duration(rng.Intn(200)) * time.Microsecond,
			time.Duration(rng.Intn(200)) * time.Microsecond,
		}

		var wg sync.WaitGroup
		results := make([]bool, len(delays))
		for i, delay := range delays {
			wg.Add(1)
			go func() {
				defer wg.Done()
				time.Sleep(delay)
				ru := &domain.RoundUpTransaction{UserID: "u1", AutoSaveRuleID: r.ID, RoundUpAmount: decimal.NewFromInt(15), Status: domain.StatusPending}
				ok, err := guard.Reserve(context.Background(), r, ru.RoundUpAmount, "u1", now, func(ctx context.Context) error {
					_, err := repo.Create(ctx, ru)
					return err
				})
				assert.NoError(t, err)
				results[i] = ok
			}()
		}
		wg.Wait()

		allowed := 0
		for _, ok := range results {
			if ok {
				allowed++
			}
		}
		require.Equal(t, 1, allowed, "round %d", round)

		total, _ := repo.SumByRuleSince(context.Background(), r.ID, guard.StartOfDay(now))
		require.True(t, total.Equal(decimal.NewFromInt(15)), "round %d total %s", round, total)
	}
}

func TestAutoSaveProcessor_DailyCapAcrossConcurrentTransactions(t *testing.T) {
	env := setup(t)
	env.addRule(t, &domain.AutoSaveRule{ID: "capped", TriggerType: domain.TriggerFixedAmount,
		TriggerSettings: domain.TriggerSettings{FixedAmount: domain.Dec(15), MaxDailyAmount: domain.Dec(20)},
		DestinationType: domain.DestinationSavingsAccount, DestinationID: "sav-1"})

	var wg sync.WaitGroup
	counts := make([]int, 4)
	for i := range counts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			roundUps, err := env.proc.ProcessTransaction(context.Background(), payment("tx-"+string(rune('a'+i)), "40"))
			assert.NoError(t, err)
			counts[i] = len(roundUps)
		}()
	}
	wg.Wait()
	env.proc.Wait()

	total := 0
	for _, c := range counts {
		total += c
	}
	assert.Equal(t, 1, total)

	acc, _ := env.accounts.GetByID(context.Background(), "sav-1")
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(15)))
}

func TestCapGuard_ReserveSkipsCreateOnExpiredContext(t *testing.T) {
	guard := NewCapGuard(memory.NewRoundUpRepository(), time.UTC, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, r := range []*domain.AutoSaveRule{cappedRule(20), func() *domain.AutoSaveRule {
		r := cappedRule(20)
		r.TriggerSettings.MaxDailyAmount = decimal.NullDecimal{}
		return r
	}()} {
		called := false
		ok, err := guard.Reserve(ctx, r, decimal.NewFromInt(1), "u1", time.Now(), func(context.Context) error {
			called = true
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, ok)
		assert.False(t, called)
	}
}
