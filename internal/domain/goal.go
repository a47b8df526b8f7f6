package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type GoalPriority string
type ContributionSource string

const (
	PriorityLow    GoalPriority = "low"
	PriorityMedium GoalPriority = "medium"
	PriorityHigh   GoalPriority = "high"

	SourceManual   ContributionSource = "manual"
	SourceAutoSave ContributionSource = "auto_save"
	SourceRoundUp  ContributionSource = "round_up"
	SourceTransfer ContributionSource = "transfer"
)

type SavingsGoal struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	TargetDate    time.Time       `json:"target_date"`
	Category      string          `json:"category"`
	Priority      GoalPriority    `json:"priority"`
	Progress      float64         `json:"progress"`
	IsActive      bool            `json:"is_active"`
	IsCompleted   bool            `json:"is_completed"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	AutoSaveRules []string        `json:"auto_save_rules,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type GoalContribution struct {
	ID        string             `json:"id"`
	GoalID    string             `json:"goal_id"`
	UserID    string             `json:"user_id"`
	Amount    decimal.Decimal    `json:"amount"`
	Source    ContributionSource `json:"source"`
	SourceID  string             `json:"source_id,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

type GoalProgressUpdate struct {
	CurrentAmount decimal.Decimal
	Progress      float64
	IsCompleted   bool
	CompletedAt   *time.Time
}

var hundred = decimal.NewFromInt(100)

// ComputeProgress returns min(100, 100*current/target) as a percentage.
func ComputeProgress(current, target decimal.Decimal) float64 {
	if !target.IsPositive() {
		return 0
	}
	p := current.Mul(hundred).Div(target)
	if p.GreaterThan(hundred) {
		p = hundred
	}
	f, _ := p.Float64()
	return f
}

func (g *SavingsGoal) LinkedTo(ruleID string) bool {
	return slices.Contains(g.AutoSaveRules, ruleID)
}

func (g *SavingsGoal) Remaining() decimal.Decimal {
	return g.TargetAmount.Sub(g.CurrentAmount)
}

func IsValidSource(s ContributionSource) bool {
	switch s {
	case SourceManual, SourceAutoSave, SourceRoundUp, SourceTransfer:
		return true
	}
	return false
}
