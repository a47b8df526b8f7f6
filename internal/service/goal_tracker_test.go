package service

import (
	"autosave/internal/domain"
	"autosave/internal/repository"
	"autosave/internal/repository/memory"
	"autosave/pkg/validator"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu        sync.Mutex
	completed []string
}

func (n *recordingNotifier) NotifyGoalCompleted(ctx context.Context, goal *domain.SavingsGoal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, goal.ID)
	return nil
}

type countingMetrics struct {
	mu    sync.Mutex
	goals int
}

func (m *countingMetrics) RecordGoalCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goals++
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newGoal(userID, target string, rules ...string) *domain.SavingsGoal {
	return &domain.SavingsGoal{
		UserID:        userID,
		Name:          "Holiday",
		TargetAmount:  d(target),
		TargetDate:    time.Now().AddDate(0, 6, 0),
		AutoSaveRules: rules,
	}
}

func TestGoalTracker_CreateGoal(t *testing.T) {
	tracker := NewGoalTracker(memory.NewGoalRepository(), nil, nil, nil)

	goal, err := tracker.CreateGoal(context.Background(), newGoal("u1", "1000"))
	require.NoError(t, err)

	assert.NotEmpty(t, goal.ID)
	assert.True(t, goal.IsActive)
	assert.Equal(t, domain.PriorityMedium, goal.Priority)
	assert.Zero(t, goal.Progress)

	_, err = tracker.CreateGoal(context.Background(), newGoal("u1", "0"))
	assert.ErrorIs(t, err, validator.ErrValidation)
}

func TestGoalTracker_ContributionsUpdateProgress(t *testing.T) {
	notifier := &recordingNotifier{}
	metrics := &countingMetrics{}
	tracker := NewGoalTracker(memory.NewGoalRepository(), notifier, metrics, nil)
	ctx := context.Background()

	goal, err := tracker.CreateGoal(ctx, newGoal("u1", "100"))
	require.NoError(t, err)

	_, err = tracker.AddContribution(ctx, goal.ID, d("40"), domain.SourceManual, "")
	require.NoError(t, err)

	got, err := tracker.GetGoal(ctx, goal.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentAmount.Equal(d("40")))
	assert.InDelta(t, 40.0, got.Progress, 1e-9)
	assert.False(t, got.IsCompleted)
	assert.Nil(t, got.CompletedAt)

	_, err = tracker.AddContribution(ctx, goal.ID, d("70"), domain.SourceTransfer, "tr-1")
	require.NoError(t, err)

	got, err = tracker.GetGoal(ctx, goal.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentAmount.Equal(d("110")))
	assert.Equal(t, 100.0, got.Progress)
	assert.True(t, got.IsCompleted)
	require.NotNil(t, got.CompletedAt)
	firstCompletion := *got.CompletedAt

	// Further contributions leave the completion time alone.
	_, err = tracker.AddContribution(ctx, goal.ID, d("5"), domain.SourceManual, "")
	require.NoError(t, err)
	got, err = tracker.GetGoal(ctx, goal.ID)
	require.NoError(t, err)
	assert.Equal(t, firstCompletion, *got.CompletedAt)

	assert.Equal(t, []string{goal.ID}, notifier.completed)
	assert.Equal(t, 1, metrics.goals)

	contributions, err := tracker.ListContributions(ctx, goal.ID)
	require.NoError(t, err)
	require.Len(t, contributions, 3)
	assert.Equal(t, "tr-1", contributions[1].SourceID)
}

func TestGoalTracker_RejectsBadContributions(t *testing.T) {
	tracker := NewGoalTracker(memory.NewGoalRepository(), nil, nil, nil)
	ctx := context.Background()

	goal, err := tracker.CreateGoal(ctx, newGoal("u1", "100"))
	require.NoError(t, err)

	_, err = tracker.AddContribution(ctx, goal.ID, d("0"), domain.SourceManual, "")
	assert.ErrorIs(t, err, validator.ErrValidation)

	_, err = tracker.AddContribution(ctx, goal.ID, d("5"), domain.ContributionSource("gift"), "")
	assert.ErrorIs(t, err, validator.ErrValidation)

	_, err = tracker.AddContribution(ctx, "missing", d("5"), domain.SourceManual, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGoalTracker_ConcurrentContributions(t *testing.T) {
	tracker := NewGoalTracker(memory.NewGoalRepository(), nil, nil, nil)
	ctx := context.Background()

	goal, err := tracker.CreateGoal(ctx, newGoal("u1", "1000"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.AddContribution(ctx, goal.ID, d("2.5"), domain.SourceRoundUp, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := tracker.GetGoal(ctx, goal.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentAmount.Equal(d("125")), "got %s", got.CurrentAmount)
}

func TestGoalTracker_OnRoundUpCompleted(t *testing.T) {
	tracker := NewGoalTracker(memory.NewGoalRepository(), nil, nil, nil)
	ctx := context.Background()

	linked, err := tracker.CreateGoal(ctx, newGoal("u1", "100", "rule-1"))
	require.NoError(t, err)
	other, err := tracker.CreateGoal(ctx, newGoal("u1", "100", "rule-2"))
	require.NoError(t, err)

	ru := &domain.RoundUpTransaction{ID: "ru-1", UserID: "u1", RoundUpAmount: d("2.30")}
	rule := &domain.AutoSaveRule{ID: "rule-1", TriggerType: domain.TriggerRoundUp}
	require.NoError(t, tracker.OnRoundUpCompleted(ctx, ru, rule))

	contributions, err := tracker.ListContributions(ctx, linked.ID)
	require.NoError(t, err)
	require.Len(t, contributions, 1)
	assert.Equal(t, domain.SourceRoundUp, contributions[0].Source)
	assert.Equal(t, "ru-1", contributions[0].SourceID)
	assert.True(t, contributions[0].Amount.Equal(d("2.3")))

	contributions, err = tracker.ListContributions(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, contributions)

	fixed := &domain.AutoSaveRule{ID: "rule-2", TriggerType: domain.TriggerFixedAmount}
	require.NoError(t, tracker.OnRoundUpCompleted(ctx, &domain.RoundUpTransaction{ID: "ru-2", UserID: "u1", RoundUpAmount: d("5")}, fixed))

	contributions, err = tracker.ListContributions(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, contributions, 1)
	assert.Equal(t, domain.SourceAutoSave, contributions[0].Source)
}

func TestGoalTracker_SkipsCompletedGoals(t *testing.T) {
	tracker := NewGoalTracker(memory.NewGoalRepository(), nil, nil, nil)
	ctx := context.Background()

	done := newGoal("u1", "10", "rule-1")
	done.CurrentAmount = d("10")
	done, err := tracker.CreateGoal(ctx, done)
	require.NoError(t, err)
	require.True(t, done.IsCompleted)

	rule := &domain.AutoSaveRule{ID: "rule-1", TriggerType: domain.TriggerRoundUp}
	require.NoError(t, tracker.OnRoundUpCompleted(ctx, &domain.RoundUpTransaction{ID: "ru-1", UserID: "u1", RoundUpAmount: d("1")}, rule))

	contributions, err := tracker.ListContributions(ctx, done.ID)
	require.NoError(t, err)
	assert.Empty(t, contributions)
}
