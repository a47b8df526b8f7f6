package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Period string
type InsightType string
type InsightPriority string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"

	InsightCreateFirstGoal    InsightType = "create_first_goal"
	InsightBehindSchedule     InsightType = "goals_behind_schedule"
	InsightGoalAlmostComplete InsightType = "goal_almost_complete"
	InsightAutoSaveFailures   InsightType = "auto_save_failures"

	InsightHigh   InsightPriority = "high"
	InsightMedium InsightPriority = "medium"
	InsightLow    InsightPriority = "low"
)

// StartFrom returns the beginning of the period that ends at now.
func (p Period) StartFrom(now time.Time) (time.Time, bool) {
	switch p {
	case PeriodWeek:
		return now.AddDate(0, 0, -7), true
	case PeriodMonth:
		return now.AddDate(0, -1, 0), true
	case PeriodQuarter:
		return now.AddDate(0, -3, 0), true
	case PeriodYear:
		return now.AddDate(-1, 0, 0), true
	default:
		return time.Time{}, false
	}
}

type SmartSaveInsight struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Type           InsightType     `json:"type"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	ActionRequired bool            `json:"action_required"`
	Priority       InsightPriority `json:"priority"`
	IsRead         bool            `json:"is_read"`
	CreatedAt      time.Time       `json:"created_at"`
}

type GoalProgress struct {
	GoalID           string          `json:"goal_id"`
	Name             string          `json:"name"`
	Progress         float64         `json:"progress"`
	Remaining        decimal.Decimal `json:"remaining"`
	DaysRemaining    int             `json:"days_remaining"`
	ExpectedProgress float64         `json:"expected_progress"`
	BehindSchedule   bool            `json:"behind_schedule"`
	IsCompleted      bool            `json:"is_completed"`
}

type RuleSummary struct {
	RuleID           string          `json:"rule_id"`
	Name             string          `json:"name"`
	TriggerType      TriggerType     `json:"trigger_type"`
	TotalSaved       decimal.Decimal `json:"total_saved"`
	TransactionCount int             `json:"transaction_count"`
}

// SavingsAnalytics is computed on demand and never persisted.
type SavingsAnalytics struct {
	UserID         string             `json:"user_id"`
	Period         Period             `json:"period"`
	StartDate      time.Time          `json:"start_date"`
	EndDate        time.Time          `json:"end_date"`
	TotalSaved     decimal.Decimal    `json:"total_saved"`
	RoundUpCount   int                `json:"round_up_count"`
	AverageRoundUp decimal.Decimal    `json:"average_round_up"`
	FailedCount    int                `json:"failed_count"`
	GoalProgress   []GoalProgress     `json:"goal_progress"`
	RuleBreakdown  []RuleSummary      `json:"rule_breakdown"`
	Insights       []SmartSaveInsight `json:"insights"`
	GeneratedAt    time.Time          `json:"generated_at"`
}
