package validator

import (
	"autosave/internal/domain"
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

func ValidateRule(rule *domain.AutoSaveRule) error {
	if rule.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if rule.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := ValidateDestination(rule.DestinationType, rule.DestinationID); err != nil {
		return err
	}
	return ValidateTriggerSettings(rule.TriggerType, rule.TriggerSettings)
}

func ValidateDestination(t domain.DestinationType, id string) error {
	switch t {
	case domain.DestinationSavingsAccount, domain.DestinationVault, domain.DestinationStock:
	default:
		return fmt.Errorf("%w: unknown destination type %q", ErrInvalidDestination, t)
	}
	if id == "" {
		return fmt.Errorf("%w: destination_id is required", ErrInvalidDestination)
	}
	return nil
}

func ValidateTriggerSettings(t domain.TriggerType, s domain.TriggerSettings) error {
	if s.MinimumTransaction.Valid && s.MinimumTransaction.Decimal.IsNegative() {
		return fmt.Errorf("%w: minimum_transaction must not be negative", ErrInvalidTriggerSettings)
	}
	if s.MaxDailyAmount.Valid && !s.MaxDailyAmount.Decimal.IsPositive() {
		return fmt.Errorf("%w: max_daily_amount must be positive", ErrInvalidTriggerSettings)
	}

	switch t {
	case domain.TriggerRoundUp:
		if s.RoundUpAmount.Valid && !s.RoundUpAmount.Decimal.IsPositive() {
			return fmt.Errorf("%w: round_up_amount must be positive", ErrInvalidTriggerSettings)
		}
	case domain.TriggerPercentage:
		if !s.Percentage.Valid {
			return fmt.Errorf("%w: percentage is required", ErrInvalidTriggerSettings)
		}
		p := s.Percentage.Decimal
		if !p.IsPositive() || p.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage must be in (0, 100], got %s", ErrInvalidTriggerSettings, p)
		}
	case domain.TriggerFixedAmount:
		if !s.FixedAmount.Valid || !s.FixedAmount.Decimal.IsPositive() {
			return fmt.Errorf("%w: fixed_amount must be positive", ErrInvalidTriggerSettings)
		}
	case domain.TriggerSmartSave:
		if s.SpendingThreshold.Valid && s.SpendingThreshold.Decimal.IsNegative() {
			return fmt.Errorf("%w: spending_threshold must not be negative", ErrInvalidTriggerSettings)
		}
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTriggerSettings, t)
	}

	return nil
}

func ValidateGoal(goal *domain.SavingsGoal) error {
	if goal.UserID == "" || goal.Name == "" {
		return fmt.Errorf("%w: user_id and name are required", ErrInvalidGoal)
	}
	if !goal.TargetAmount.IsPositive() {
		return fmt.Errorf("%w: target_amount must be positive", ErrInvalidGoal)
	}
	if goal.CurrentAmount.IsNegative() {
		return fmt.Errorf("%w: current_amount must not be negative", ErrInvalidGoal)
	}
	if goal.TargetDate.IsZero() {
		return fmt.Errorf("%w: target_date is required", ErrInvalidGoal)
	}
	return nil
}

func ValidateContribution(amount decimal.Decimal, source domain.ContributionSource) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: contribution must be positive, got %s", ErrInvalidAmount, amount)
	}
	if !domain.IsValidSource(source) {
		return fmt.Errorf("%w: unknown contribution source %q", ErrValidation, source)
	}
	return nil
}
