package processor

import (
	"autosave/internal/domain"
	"autosave/internal/repository"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"
)

const (
	ReasonFired            = "fired"
	ReasonInactive         = "inactive"
	ReasonBelowMinimum     = "below_minimum_transaction"
	ReasonBelowThreshold   = "below_spending_threshold"
	ReasonZeroAmount       = "zero_amount"
	ReasonUnknownTrigger   = "unknown_trigger_type"
	ReasonDailyCapExceeded = "daily_cap_exceeded"
)

type RuleEngine struct {
	ruleRepo   repository.RuleRepository
	logger     *slog.Logger
	strategies map[domain.TriggerType]TriggerStrategy
}

// TriggerStrategy computes the amount a rule of one trigger type siphons
// from a transaction amount.
type TriggerStrategy struct {
	Name        string
	Description string
	Compute     func(s domain.TriggerSettings, amount decimal.Decimal) decimal.Decimal
}

type EvaluationResult struct {
	Rule   *domain.AutoSaveRule
	Fires  bool
	Amount decimal.Decimal
	Reason string
}

type smartSaveTier struct {
	floor decimal.Decimal
	save  decimal.Decimal
}

// Highest floor first; amounts under the last floor save nothing.
var smartSaveTiers = []smartSaveTier{
	{floor: decimal.NewFromInt(1000), save: decimal.NewFromInt(10)},
	{floor: decimal.NewFromInt(500), save: decimal.NewFromInt(5)},
	{floor: decimal.NewFromInt(100), save: decimal.NewFromInt(2)},
	{floor: decimal.NewFromInt(50), save: decimal.NewFromInt(1)},
}

func NewRuleEngine(ruleRepo repository.RuleRepository, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}

	return &RuleEngine{
		ruleRepo: ruleRepo,
		logger:   logger,
		strategies: map[domain.TriggerType]TriggerStrategy{
			domain.TriggerRoundUp: {
				Name:        "round_up",
				Description: "Round the transaction up to the next multiple of the unit",
				Compute: func(s domain.TriggerSettings, amount decimal.Decimal) decimal.Decimal {
					return RoundUp(amount, s.RoundUpUnit())
				},
			},
			domain.TriggerPercentage: {
				Name:        "percentage",
				Description: "Save a fixed share of every transaction",
				Compute: func(s domain.TriggerSettings, amount decimal.Decimal) decimal.Decimal {
					return PercentageSave(amount, s.Percentage.Decimal)
				},
			},
			domain.TriggerFixedAmount: {
				Name:        "fixed_amount",
				Description: "Save the same amount on every transaction",
				Compute: func(s domain.TriggerSettings, _ decimal.Decimal) decimal.Decimal {
					return s.FixedAmount.Decimal
				},
			},
			domain.TriggerSmartSave: {
				Name:        "smart_save",
				Description: "Save a tiered amount based on transaction size",
				Compute: func(_ domain.TriggerSettings, amount decimal.Decimal) decimal.Decimal {
					return SmartSaveTier(amount)
				},
			},
		},
	}
}

// ActiveRules loads the user's active rules, highest priority first.
func (e *RuleEngine) ActiveRules(ctx context.Context, userID string) ([]*domain.AutoSaveRule, error) {
	rules, err := e.ruleRepo.ListActiveRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active rules: %w", err)
	}
	return rules, nil
}

// Evaluate runs every rule against the transaction independently. All
// eligible rules fire; priority only orders the results.
func (e *RuleEngine) Evaluate(ctx context.Context, event *domain.TransactionEvent, rules []*domain.AutoSaveRule) []EvaluationResult {
	results := make([]EvaluationResult, 0, len(rules))

	for _, rule := range rules {
		result := e.evaluateRule(rule, event.Amount)
		results = append(results, result)

		if result.Fires {
			e.logger.InfoContext(ctx, "Auto-save rule triggered",
				slog.String("rule_id", rule.ID),
				slog.String("rule_name", rule.Name),
				slog.String("trigger_type", string(rule.TriggerType)),
				slog.String("transaction_id", event.TransactionID),
				slog.String("amount", result.Amount.String()))
		} else {
			e.logger.DebugContext(ctx, "Auto-save rule skipped",
				slog.String("rule_id", rule.ID),
				slog.String("transaction_id", event.TransactionID),
				slog.String("reason", result.Reason))
		}
	}

	slices.SortStableFunc(results, func(a, b EvaluationResult) int {
		return cmp.Compare(b.Rule.Priority, a.Rule.Priority)
	})

	return results
}

func (e *RuleEngine) evaluateRule(rule *domain.AutoSaveRule, amount decimal.Decimal) EvaluationResult {
	result := EvaluationResult{Rule: rule, Amount: decimal.Zero}

	if !rule.IsActive {
		result.Reason = ReasonInactive
		return result
	}

	if ok, reason := ShouldTrigger(rule, amount); !ok {
		result.Reason = reason
		return result
	}

	strategy, ok := e.strategies[rule.TriggerType]
	if !ok {
		result.Reason = ReasonUnknownTrigger
		return result
	}

	saved := strategy.Compute(rule.TriggerSettings, amount)
	if !saved.IsPositive() {
		result.Reason = ReasonZeroAmount
		return result
	}

	result.Fires = true
	result.Amount = saved
	result.Reason = ReasonFired
	return result
}

// ShouldTrigger applies the eligibility gates that precede amount
// computation.
func ShouldTrigger(rule *domain.AutoSaveRule, amount decimal.Decimal) (bool, string) {
	s := rule.TriggerSettings

	if s.MinimumTransaction.Valid && amount.LessThan(s.MinimumTransaction.Decimal) {
		return false, ReasonBelowMinimum
	}

	if rule.TriggerType == domain.TriggerSmartSave &&
		s.SpendingThreshold.Valid && amount.LessThan(s.SpendingThreshold.Decimal) {
		return false, ReasonBelowThreshold
	}

	return true, ""
}

// ComputeAmount returns what the rule would siphon from amount, ignoring
// eligibility. Unknown trigger types compute zero.
func (e *RuleEngine) ComputeAmount(rule *domain.AutoSaveRule, amount decimal.Decimal) decimal.Decimal {
	strategy, ok := e.strategies[rule.TriggerType]
	if !ok {
		return decimal.Zero
	}
	return strategy.Compute(rule.TriggerSettings, amount)
}

// RoundUp returns ceil(amount/unit)*unit - amount.
func RoundUp(amount, unit decimal.Decimal) decimal.Decimal {
	if !unit.IsPositive() {
		return decimal.Zero
	}
	rem := amount.Mod(unit)
	if rem.IsZero() {
		return decimal.Zero
	}
	if rem.IsNegative() {
		return rem.Neg()
	}
	return unit.Sub(rem)
}

func PercentageSave(amount, percentage decimal.Decimal) decimal.Decimal {
	return amount.Mul(percentage).Shift(-2)
}

func SmartSaveTier(amount decimal.Decimal) decimal.Decimal {
	for _, tier := range smartSaveTiers {
		if amount.GreaterThanOrEqual(tier.floor) {
			return tier.save
		}
	}
	return decimal.Zero
}
