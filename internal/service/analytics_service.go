package service

import (
	"autosave/internal/domain"
	"autosave/internal/repository"
	"autosave/pkg/validator"
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// Behind-schedule detection measures every goal against a nominal
	// one-year horizon.
	scheduleHorizonDays   = 365.0
	almostCompletePercent = 90.0
)

type AnalyticsService struct {
	ruleRepo    repository.RuleRepository
	roundUpRepo repository.RoundUpRepository
	goalRepo    repository.GoalRepository
	now         func() time.Time
	logger      *slog.Logger
}

func NewAnalyticsService(
	ruleRepo repository.RuleRepository,
	roundUpRepo repository.RoundUpRepository,
	goalRepo repository.GoalRepository,
	logger *slog.Logger,
) *AnalyticsService {
	if logger == nil {
		logger = slog.Default()
	}

	return &AnalyticsService{
		ruleRepo:    ruleRepo,
		roundUpRepo: roundUpRepo,
		goalRepo:    goalRepo,
		now:         time.Now,
		logger:      logger,
	}
}

func (s *AnalyticsService) WithClock(now func() time.Time) *AnalyticsService {
	s.now = now
	return s
}

func (s *AnalyticsService) GetAnalytics(ctx context.Context, userID string, period domain.Period) (*domain.SavingsAnalytics, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", validator.ErrValidation)
	}
	now := s.now()
	start, ok := period.StartFrom(now)
	if !ok {
		return nil, fmt.Errorf("%w: %q", validator.ErrInvalidPeriod, period)
	}

	total, count, err := s.roundUpRepo.SumCompletedByUserSince(ctx, userID, start)
	if err != nil {
		return nil, fmt.Errorf("failed to sum round-ups: %w", err)
	}
	failed, err := s.roundUpRepo.CountByStatusSince(ctx, userID, domain.StatusFailed, start)
	if err != nil {
		return nil, fmt.Errorf("failed to count failed round-ups: %w", err)
	}
	goals, err := s.goalRepo.ListActiveGoals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	rules, err := s.ruleRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	average := decimal.Zero
	if count > 0 {
		average = total.Div(decimal.NewFromInt(int64(count)))
	}

	analytics := &domain.SavingsAnalytics{
		UserID:         userID,
		Period:         period,
		StartDate:      start,
		EndDate:        now,
		TotalSaved:     total,
		RoundUpCount:   count,
		AverageRoundUp: average,
		FailedCount:    failed,
		GoalProgress:   make([]domain.GoalProgress, 0, len(goals)),
		RuleBreakdown:  make([]domain.RuleSummary, 0, len(rules)),
		GeneratedAt:    now,
	}

	for _, goal := range goals {
		analytics.GoalProgress = append(analytics.GoalProgress, GoalSnapshot(goal, now))
	}
	for _, rule := range rules {
		analytics.RuleBreakdown = append(analytics.RuleBreakdown, domain.RuleSummary{
			RuleID:           rule.ID,
			Name:             rule.Name,
			TriggerType:      rule.TriggerType,
			TotalSaved:       rule.TotalSaved,
			TransactionCount: rule.TransactionCount,
		})
	}
	analytics.Insights = s.generateInsights(userID, goals, analytics, now)

	s.logger.InfoContext(ctx, "Savings analytics generated",
		slog.String("user_id", userID),
		slog.String("period", string(period)),
		slog.String("total_saved", total.String()),
		slog.Int("round_ups", count),
		slog.Int("insights", len(analytics.Insights)))

	return analytics, nil
}

// GoalSnapshot reports a goal's progress against its deadline as of now.
func GoalSnapshot(goal *domain.SavingsGoal, now time.Time) domain.GoalProgress {
	days := DaysRemaining(goal.TargetDate, now)
	expected := ExpectedProgress(days)

	return domain.GoalProgress{
		GoalID:           goal.ID,
		Name:             goal.Name,
		Progress:         goal.Progress,
		Remaining:        goal.Remaining(),
		DaysRemaining:    days,
		ExpectedProgress: expected,
		BehindSchedule:   !goal.IsCompleted && goal.Progress < expected,
		IsCompleted:      goal.IsCompleted,
	}
}

func DaysRemaining(target, now time.Time) int {
	return int(math.Ceil(float64(target.Sub(now)) / float64(24*time.Hour)))
}

func ExpectedProgress(daysRemaining int) float64 {
	return math.Max(0, 100-float64(daysRemaining)/scheduleHorizonDays*100)
}

func (s *AnalyticsService) generateInsights(
	userID string,
	goals []*domain.SavingsGoal,
	analytics *domain.SavingsAnalytics,
	now time.Time,
) []domain.SmartSaveInsight {
	insights := []domain.SmartSaveInsight{}
	newInsight := func(t domain.InsightType, p domain.InsightPriority, action bool, title, desc string) {
		insights = append(insights, domain.SmartSaveInsight{
			ID:             uuid.NewString(),
			UserID:         userID,
			Type:           t,
			Title:          title,
			Description:    desc,
			ActionRequired: action,
			Priority:       p,
			CreatedAt:      now,
		})
	}

	if len(goals) == 0 {
		newInsight(domain.InsightCreateFirstGoal, domain.InsightHigh, true,
			"Create your first savings goal",
			"Set a goal so your auto-saves have something to work towards.")
	}

	behind := 0
	for _, gp := range analytics.GoalProgress {
		if gp.BehindSchedule {
			behind++
		}
		if !gp.IsCompleted && gp.Progress >= almostCompletePercent {
			newInsight(domain.InsightGoalAlmostComplete, domain.InsightLow, false,
				fmt.Sprintf("%s is almost there", gp.Name),
				fmt.Sprintf("Only %s left to reach this goal.", gp.Remaining.StringFixed(2)))
		}
	}
	if behind > 0 {
		newInsight(domain.InsightBehindSchedule, domain.InsightMedium, true,
			"Goals behind schedule",
			fmt.Sprintf("%d of your goals are behind schedule. Consider increasing your auto-save amounts.", behind))
	}

	if analytics.FailedCount > 0 {
		newInsight(domain.InsightAutoSaveFailures, domain.InsightMedium, true,
			"Some auto-saves didn't go through",
			fmt.Sprintf("%d auto-saves failed this %s. Check that your destinations are still active.",
				analytics.FailedCount, analytics.Period))
	}

	return insights
}
