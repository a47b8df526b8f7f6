package memory

import (
	"autosave/internal/domain"
	"autosave/internal/repository"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type GoalRepository struct {
	mu            sync.RWMutex
	goals         map[string]*domain.SavingsGoal
	userIndex     map[string][]string
	contributions map[string][]*domain.GoalContribution
	now           Clock
}

func NewGoalRepository() *GoalRepository {
	return NewGoalRepositoryWithClock(nil)
}

func NewGoalRepositoryWithClock(clock Clock) *GoalRepository {
	return &GoalRepository{
		goals:         make(map[string]*domain.SavingsGoal),
		userIndex:     make(map[string][]string),
		contributions: make(map[string][]*domain.GoalContribution),
		now:           defaultClock(clock),
	}
}

func (r *GoalRepository) Create(ctx context.Context, goal *domain.SavingsGoal) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	if _, exists := r.goals[goal.ID]; exists {
		return "", fmt.Errorf("%w: goal %s", repository.ErrDuplicate, goal.ID)
	}

	now := r.now()
	goal.CreatedAt = now
	goal.UpdatedAt = now
	r.goals[goal.ID] = cloneGoal(goal)
	r.userIndex[goal.UserID] = append(r.userIndex[goal.UserID], goal.ID)

	return goal.ID, nil
}

func (r *GoalRepository) GetByID(ctx context.Context, id string) (*domain.SavingsGoal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	goal, exists := r.goals[id]
	if !exists {
		return nil, fmt.Errorf("%w: goal %s", repository.ErrNotFound, id)
	}
	return cloneGoal(goal), nil
}

func (r *GoalRepository) ListActiveGoals(ctx context.Context, userID string) ([]*domain.SavingsGoal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.SavingsGoal
	for _, id := range r.userIndex[userID] {
		if goal := r.goals[id]; goal.IsActive {
			result = append(result, cloneGoal(goal))
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TargetDate.Before(result[j].TargetDate)
	})

	return result, nil
}

func (r *GoalRepository) UpdateProgress(ctx context.Context, id string, update domain.GoalProgressUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	goal, exists := r.goals[id]
	if !exists {
		return fmt.Errorf("%w: goal %s", repository.ErrNotFound, id)
	}

	goal.CurrentAmount = update.CurrentAmount
	goal.Progress = update.Progress
	goal.IsCompleted = update.IsCompleted
	if update.CompletedAt != nil {
		t := *update.CompletedAt
		goal.CompletedAt = &t
	}
	goal.UpdatedAt = r.now()

	return nil
}

func (r *GoalRepository) CreateContribution(ctx context.Context, c *domain.GoalContribution) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.goals[c.GoalID]; !exists {
		return "", fmt.Errorf("%w: goal %s", repository.ErrNotFound, c.GoalID)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	c.CreatedAt = r.now()
	stored := *c
	r.contributions[c.GoalID] = append(r.contributions[c.GoalID], &stored)

	return c.ID, nil
}

func (r *GoalRepository) ListContributions(ctx context.Context, goalID string) ([]*domain.GoalContribution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.goals[goalID]; !exists {
		return nil, fmt.Errorf("%w: goal %s", repository.ErrNotFound, goalID)
	}

	result := make([]*domain.GoalContribution, 0, len(r.contributions[goalID]))
	for _, c := range r.contributions[goalID] {
		cp := *c
		result = append(result, &cp)
	}
	return result, nil
}

func cloneGoal(goal *domain.SavingsGoal) *domain.SavingsGoal {
	c := *goal
	if goal.CompletedAt != nil {
		t := *goal.CompletedAt
		c.CompletedAt = &t
	}
	c.AutoSaveRules = slices.Clone(goal.AutoSaveRules)
	return &c
}
