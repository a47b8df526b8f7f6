package processor

import (
	"autosave/internal/domain"
	"autosave/internal/repository/memory"
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rule(id string, trigger domain.TriggerType, s domain.TriggerSettings) *domain.AutoSaveRule {
	return &domain.AutoSaveRule{ID: id, UserID: "u1", IsActive: true, TriggerType: trigger, TriggerSettings: s}
}

func evaluateOne(t *testing.T, r *domain.AutoSaveRule, amount string) EvaluationResult {
	t.Helper()
	engine := NewRuleEngine(memory.NewRuleRepository(), nil)
	results := engine.Evaluate(context.Background(), payment("tx", amount), []*domain.AutoSaveRule{r})
	require.Len(t, results, 1)
	return results[0]
}

func TestRuleEngine_RoundUpScenario(t *testing.T) {
	res := evaluateOne(t, rule("r", domain.TriggerRoundUp, domain.TriggerSettings{RoundUpAmount: domain.Dec(5)}), "23")

	assert.True(t, res.Fires)
	assert.True(t, res.Amount.Equal(d("2")), "got %s", res.Amount)
}

func TestRuleEngine_RoundUpDefaultsToFive(t *testing.T) {
	res := evaluateOne(t, rule("r", domain.TriggerRoundUp, domain.TriggerSettings{}), "12.40")

	assert.True(t, res.Amount.Equal(d("2.60")), "got %s", res.Amount)
}

func TestRuleEngine_ExactMultipleDoesNotFire(t *testing.T) {
	res := evaluateOne(t, rule("r", domain.TriggerRoundUp, domain.TriggerSettings{RoundUpAmount: domain.Dec(5)}), "25")

	assert.False(t, res.Fires)
	assert.Equal(t, ReasonZeroAmount, res.Reason)
}

func TestRuleEngine_PercentageScenario(t *testing.T) {
	res := evaluateOne(t, rule("r", domain.TriggerPercentage, domain.TriggerSettings{Percentage: domain.Dec(5)}), "200")

	assert.True(t, res.Amount.Equal(d("10")), "got %s", res.Amount)
}

func TestRuleEngine_SmartSaveScenario(t *testing.T) {
	res := evaluateOne(t, rule("r", domain.TriggerSmartSave, domain.TriggerSettings{}), "75")

	assert.True(t, res.Fires)
	assert.True(t, res.Amount.Equal(d("1")), "got %s", res.Amount)
}

func TestRuleEngine_MinimumTransactionGate(t *testing.T) {
	r := rule("r", domain.TriggerFixedAmount, domain.TriggerSettings{
		FixedAmount:        domain.Dec(2),
		MinimumTransaction: domain.Dec(10),
	})

	below := evaluateOne(t, r, "9.99")
	atMin := evaluateOne(t, r, "10")

	assert.False(t, below.Fires)
	assert.Equal(t, ReasonBelowMinimum, below.Reason)
	assert.True(t, atMin.Fires)
}

func TestRuleEngine_SmartSaveSpendingThreshold(t *testing.T) {
	r := rule("r", domain.TriggerSmartSave, domain.TriggerSettings{SpendingThreshold: domain.Dec(200)})

	below := evaluateOne(t, r, "150")
	above := evaluateOne(t, r, "250")

	assert.False(t, below.Fires)
	assert.Equal(t, ReasonBelowThreshold, below.Reason)
	assert.True(t, above.Amount.Equal(d("2")))
}

func TestRuleEngine_InactiveRuleSkipped(t *testing.T) {
	r := rule("r", domain.TriggerFixedAmount, domain.TriggerSettings{FixedAmount: domain.Dec(2)})
	r.IsActive = false

	res := evaluateOne(t, r, "50")

	assert.False(t, res.Fires)
	assert.Equal(t, ReasonInactive, res.Reason)
}

func TestRuleEngine_RulesAreIndependent(t *testing.T) {
	engine := NewRuleEngine(memory.NewRuleRepository(), nil)
	low := rule("low", domain.TriggerFixedAmount, domain.TriggerSettings{FixedAmount: domain.Dec(1)})
	low.Priority = 1
	high := rule("high", domain.TriggerSmartSave, domain.TriggerSettings{})
	high.Priority = 10
	skipped := rule("skipped", domain.TriggerRoundUp, domain.TriggerSettings{RoundUpAmount: domain.Dec(10)})

	results := engine.Evaluate(context.Background(), payment("tx", "120"), []*domain.AutoSaveRule{low, skipped, high})

	require.Len(t, results, 3)
	assert.Equal(t, "high", results[0].Rule.ID)
	assert.True(t, results[0].Fires)
	assert.Equal(t, "low", results[1].Rule.ID)
	assert.True(t, results[1].Fires)
	assert.False(t, results[2].Fires)
}

func TestRuleEngine_ActiveRulesFromRepository(t *testing.T) {
	repo := memory.NewRuleRepository()
	ctx := context.Background()
	_, _ = repo.Create(ctx, &domain.AutoSaveRule{ID: "a", UserID: "u1", IsActive: true})
	_, _ = repo.Create(ctx, &domain.AutoSaveRule{ID: "b", UserID: "u1", IsActive: false})
	engine := NewRuleEngine(repo, nil)

	rules, err := engine.ActiveRules(ctx, "u1")

	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "a", rules[0].ID)
}

func TestSmartSaveTier_Boundaries(t *testing.T) {
	cases := map[string]string{
		"0.01":    "0",
		"49.99":   "0",
		"50":      "1",
		"99.99":   "1",
		"100":     "2",
		"499.99":  "2",
		"500":     "5",
		"999.99":  "5",
		"1000":    "10",
		"25000.5": "10",
	}

	for amount, want := range cases {
		assert.True(t, SmartSaveTier(d(amount)).Equal(d(want)), "amount %s: got %s want %s", amount, SmartSaveTier(d(amount)), want)
	}
}

func TestRoundUp_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	units := []string{"1", "5", "10", "0.5", "2.5", "100"}

	for i := 0; i < 2000; i++ {
		amount := decimal.NewFromInt(rng.Int63n(1_000_000) + 1).Shift(-2)
		unit := d(units[rng.Intn(len(units))])

		r := RoundUp(amount, unit)

		require.False(t, r.IsNegative(), "amount %s unit %s", amount, unit)
		require.True(t, r.LessThan(unit), "amount %s unit %s got %s", amount, unit, r)
		require.True(t, amount.Add(r).Mod(unit).IsZero(), "amount %s unit %s got %s", amount, unit, r)
	}
}

func TestPercentageSave_ExactlyProportional(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 1000; i++ {
		amount := decimal.NewFromInt(rng.Int63n(10_000_000) + 1).Shift(-2)
		pct := decimal.NewFromInt(rng.Int63n(10001)).Shift(-2)

		got := PercentageSave(amount, pct)

		require.True(t, got.Mul(d("100")).Equal(amount.Mul(pct)), "amount %s pct %s got %s", amount, pct, got)
	}
}

func TestFixedAmount_InvariantToTransactionSize(t *testing.T) {
	engine := NewRuleEngine(memory.NewRuleRepository(), nil)
	r := rule("r", domain.TriggerFixedAmount, domain.TriggerSettings{FixedAmount: domain.Dec(3.5), MinimumTransaction: domain.Dec(20)})

	for _, amount := range []string{"20", "21.37", "500", "99999"} {
		results := engine.Evaluate(context.Background(), payment("tx", amount), []*domain.AutoSaveRule{r})
		assert.True(t, results[0].Amount.Equal(d("3.5")), "amount %s", amount)
		assert.True(t, engine.ComputeAmount(r, d(amount)).Equal(d("3.5")))
	}
}

func TestPercentageSave_TinyAmountsKeepFullPrecision(t *testing.T) {
	got := PercentageSave(d("0.000000000000000123"), d("5"))

	assert.True(t, got.Equal(d("0.00000000000000000615")), "got %s", got)

	r := rule("pct", domain.TriggerPercentage, domain.TriggerSettings{Percentage: domain.Dec(5)})
	result := evaluateOne(t, r, "0.000000000000000123")
	assert.True(t, result.Fires)
}

func TestRuleEngine_ExtremePrioritiesOrderDescending(t *testing.T) {
	engine := NewRuleEngine(memory.NewRuleRepository(), nil)
	lowest := rule("lowest", domain.TriggerFixedAmount, domain.TriggerSettings{FixedAmount: domain.Dec(1)})
	lowest.Priority = math.MinInt
	highest := rule("highest", domain.TriggerFixedAmount, domain.TriggerSettings{FixedAmount: domain.Dec(1)})
	highest.Priority = math.MaxInt

	results := engine.Evaluate(context.Background(), payment("tx", "10"), []*domain.AutoSaveRule{lowest, highest})

	require.Len(t, results, 2)
	assert.Equal(t, "highest", results[0].Rule.ID)
	assert.Equal(t, "lowest", results[1].Rule.ID)
}
