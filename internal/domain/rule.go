package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TriggerType string
type DestinationType string

const (
	TriggerRoundUp     TriggerType = "round_up"
	TriggerPercentage  TriggerType = "percentage"
	TriggerFixedAmount TriggerType = "fixed_amount"
	TriggerSmartSave   TriggerType = "smart_save"

	DestinationSavingsAccount DestinationType = "savings_account"
	DestinationVault          DestinationType = "investment_vault"
	DestinationStock          DestinationType = "specific_stock"
)

var DefaultRoundUpAmount = decimal.NewFromInt(5)

// TriggerSettings is the variant payload of a rule. Which fields are
// meaningful depends on the rule's TriggerType.
type TriggerSettings struct {
	RoundUpAmount      decimal.NullDecimal `json:"round_up_amount"`
	MinimumTransaction decimal.NullDecimal `json:"minimum_transaction"`
	Percentage         decimal.NullDecimal `json:"percentage"`
	FixedAmount        decimal.NullDecimal `json:"fixed_amount"`
	MaxDailyAmount     decimal.NullDecimal `json:"max_daily_amount"`
	SpendingThreshold  decimal.NullDecimal `json:"spending_threshold"`
}

type AutoSaveRule struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	IsActive         bool            `json:"is_active"`
	TriggerType      TriggerType     `json:"trigger_type"`
	TriggerSettings  TriggerSettings `json:"trigger_settings"`
	DestinationType  DestinationType `json:"destination_type"`
	DestinationID    string          `json:"destination_id"`
	Priority         int             `json:"priority"`
	TotalSaved       decimal.Decimal `json:"total_saved"`
	TransactionCount int             `json:"transaction_count"`
	LastTriggered    *time.Time      `json:"last_triggered,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// RulePatch carries the mutable fields of a rule; nil fields are left alone.
type RulePatch struct {
	Name            *string
	Description     *string
	IsActive        *bool
	TriggerSettings *TriggerSettings
	DestinationType *DestinationType
	DestinationID   *string
	Priority        *int
}

func (r *AutoSaveRule) Apply(p RulePatch) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
	if p.TriggerSettings != nil {
		r.TriggerSettings = *p.TriggerSettings
	}
	if p.DestinationType != nil {
		r.DestinationType = *p.DestinationType
	}
	if p.DestinationID != nil {
		r.DestinationID = *p.DestinationID
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
}

func (s TriggerSettings) RoundUpUnit() decimal.Decimal {
	if s.RoundUpAmount.Valid && s.RoundUpAmount.Decimal.IsPositive() {
		return s.RoundUpAmount.Decimal
	}
	return DefaultRoundUpAmount
}

func Dec(v float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}
