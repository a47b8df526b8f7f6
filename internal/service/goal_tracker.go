package service

import (
	"autosave/internal/domain"
	"autosave/internal/repository"
	"autosave/pkg/keylock"
	"autosave/pkg/validator"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

type GoalNotifier interface {
	NotifyGoalCompleted(ctx context.Context, goal *domain.SavingsGoal) error
}

type GoalMetrics interface {
	RecordGoalCompleted()
}

// GoalTracker appends contributions to savings goals and keeps each goal's
// progress in step with them.
type GoalTracker struct {
	goalRepo repository.GoalRepository
	notifier GoalNotifier
	metrics  GoalMetrics
	locks    *keylock.Map
	now      func() time.Time
	logger   *slog.Logger
}

func NewGoalTracker(
	goalRepo repository.GoalRepository,
	notifier GoalNotifier,
	metrics GoalMetrics,
	logger *slog.Logger,
) *GoalTracker {
	if logger == nil {
		logger = slog.Default()
	}

	return &GoalTracker{
		goalRepo: goalRepo,
		notifier: notifier,
		metrics:  metrics,
		locks:    keylock.New(),
		now:      time.Now,
		logger:   logger,
	}
}

func (t *GoalTracker) WithClock(now func() time.Time) *GoalTracker {
	t.now = now
	return t
}

func (t *GoalTracker) CreateGoal(ctx context.Context, goal *domain.SavingsGoal) (*domain.SavingsGoal, error) {
	if err := validator.ValidateGoal(goal); err != nil {
		return nil, err
	}
	if goal.Priority == "" {
		goal.Priority = domain.PriorityMedium
	}

	goal.IsActive = true
	goal.Progress = domain.ComputeProgress(goal.CurrentAmount, goal.TargetAmount)
	goal.IsCompleted = goal.CurrentAmount.GreaterThanOrEqual(goal.TargetAmount)
	if goal.IsCompleted {
		now := t.now()
		goal.CompletedAt = &now
	}

	if _, err := t.goalRepo.Create(ctx, goal); err != nil {
		return nil, fmt.Errorf("failed to create goal: %w", err)
	}

	t.logger.InfoContext(ctx, "Savings goal created",
		slog.String("goal_id", goal.ID),
		slog.String("user_id", goal.UserID),
		slog.String("target_amount", goal.TargetAmount.String()))

	return goal, nil
}

// AddContribution records money added to a goal and recomputes its
// progress. Contributions to one goal are applied one at a time.
func (t *GoalTracker) AddContribution(
	ctx context.Context,
	goalID string,
	amount decimal.Decimal,
	source domain.ContributionSource,
	sourceID string,
) (*domain.GoalContribution, error) {
	if err := validator.ValidateContribution(amount, source); err != nil {
		return nil, err
	}

	unlock := t.locks.Lock(goalID)
	defer unlock()

	goal, err := t.goalRepo.GetByID(ctx, goalID)
	if err != nil {
		return nil, err
	}

	contribution := &domain.GoalContribution{
		GoalID:   goalID,
		UserID:   goal.UserID,
		Amount:   amount,
		Source:   source,
		SourceID: sourceID,
	}
	if _, err := t.goalRepo.CreateContribution(ctx, contribution); err != nil {
		return nil, fmt.Errorf("failed to record contribution: %w", err)
	}

	completedNow, err := t.updateGoalProgress(ctx, goal, amount)
	if err != nil {
		return contribution, err
	}

	t.logger.InfoContext(ctx, "Goal contribution added",
		slog.String("goal_id", goalID),
		slog.String("amount", amount.String()),
		slog.String("source", string(source)),
		slog.Float64("progress", goal.Progress))

	if completedNow {
		t.onGoalCompleted(ctx, goal)
	}

	return contribution, nil
}

func (t *GoalTracker) updateGoalProgress(ctx context.Context, goal *domain.SavingsGoal, amount decimal.Decimal) (bool, error) {
	wasCompleted := goal.IsCompleted
	newCurrent := goal.CurrentAmount.Add(amount)

	update := domain.GoalProgressUpdate{
		CurrentAmount: newCurrent,
		Progress:      domain.ComputeProgress(newCurrent, goal.TargetAmount),
		IsCompleted:   newCurrent.GreaterThanOrEqual(goal.TargetAmount),
	}
	if update.IsCompleted && !wasCompleted {
		now := t.now()
		update.CompletedAt = &now
	}

	if err := t.goalRepo.UpdateProgress(ctx, goal.ID, update); err != nil {
		return false, fmt.Errorf("failed to update goal progress: %w", err)
	}

	goal.CurrentAmount = update.CurrentAmount
	goal.Progress = update.Progress
	goal.IsCompleted = update.IsCompleted
	if update.CompletedAt != nil {
		goal.CompletedAt = update.CompletedAt
	}

	return update.IsCompleted && !wasCompleted, nil
}

func (t *GoalTracker) onGoalCompleted(ctx context.Context, goal *domain.SavingsGoal) {
	t.logger.InfoContext(ctx, "Savings goal completed",
		slog.String("goal_id", goal.ID),
		slog.String("user_id", goal.UserID))

	if t.metrics != nil {
		t.metrics.RecordGoalCompleted()
	}
	if t.notifier != nil {
		if err := t.notifier.NotifyGoalCompleted(ctx, goal); err != nil {
			t.logger.ErrorContext(ctx, "Failed to queue goal notification",
				slog.String("goal_id", goal.ID),
				slog.String("error", err.Error()))
		}
	}
}

// OnRoundUpCompleted credits a settled round-up to the earliest-due
// incomplete goal that lists its rule.
func (t *GoalTracker) OnRoundUpCompleted(ctx context.Context, ru *domain.RoundUpTransaction, rule *domain.AutoSaveRule) error {
	goals, err := t.goalRepo.ListActiveGoals(ctx, ru.UserID)
	if err != nil {
		return fmt.Errorf("failed to list goals: %w", err)
	}

	source := domain.SourceAutoSave
	if rule.TriggerType == domain.TriggerRoundUp {
		source = domain.SourceRoundUp
	}

	for _, goal := range goals {
		if goal.IsCompleted || !goal.LinkedTo(rule.ID) {
			continue
		}
		_, err := t.AddContribution(ctx, goal.ID, ru.RoundUpAmount, source, ru.ID)
		return err
	}

	return nil
}

func (t *GoalTracker) ListContributions(ctx context.Context, goalID string) ([]*domain.GoalContribution, error) {
	return t.goalRepo.ListContributions(ctx, goalID)
}

func (t *GoalTracker) GetGoal(ctx context.Context, goalID string) (*domain.SavingsGoal, error) {
	return t.goalRepo.GetByID(ctx, goalID)
}
