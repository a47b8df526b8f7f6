package memory

import (
	"autosave/internal/domain"
	"autosave/internal/repository"
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RoundUpRepository struct {
	mu        sync.RWMutex
	roundUps  map[string]*domain.RoundUpTransaction
	userIndex map[string][]string
	ruleIndex map[string][]string
	now       Clock
}

func NewRoundUpRepository() *RoundUpRepository {
	return NewRoundUpRepositoryWithClock(nil)
}

func NewRoundUpRepositoryWithClock(clock Clock) *RoundUpRepository {
	return &RoundUpRepository{
		roundUps:  make(map[string]*domain.RoundUpTransaction),
		userIndex: make(map[string][]string),
		ruleIndex: make(map[string][]string),
		now:       defaultClock(clock),
	}
}

func (r *RoundUpRepository) Create(ctx context.Context, ru *domain.RoundUpTransaction) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ru.ID == "" {
		ru.ID = uuid.NewString()
	}
	if _, exists := r.roundUps[ru.ID]; exists {
		return "", fmt.Errorf("%w: round-up %s", repository.ErrDuplicate, ru.ID)
	}

	ru.CreatedAt = r.now()
	r.roundUps[ru.ID] = cloneRoundUp(ru)
	r.userIndex[ru.UserID] = append(r.userIndex[ru.UserID], ru.ID)
	r.ruleIndex[ru.AutoSaveRuleID] = append(r.ruleIndex[ru.AutoSaveRuleID], ru.ID)

	return ru.ID, nil
}

func (r *RoundUpRepository) GetByID(ctx context.Context, id string) (*domain.RoundUpTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ru, exists := r.roundUps[id]
	if !exists {
		return nil, fmt.Errorf("%w: round-up %s", repository.ErrNotFound, id)
	}
	return cloneRoundUp(ru), nil
}

func (r *RoundUpRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.RoundUpTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.RoundUpTransaction, 0, len(r.userIndex[userID]))
	for _, id := range r.userIndex[userID] {
		result = append(result, cloneRoundUp(r.roundUps[id]))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *RoundUpRepository) UpdateStatus(
	ctx context.Context,
	id string,
	from, to domain.RoundUpStatus,
	completedAt *time.Time,
	reason string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ru, exists := r.roundUps[id]
	if !exists {
		return fmt.Errorf("%w: round-up %s", repository.ErrNotFound, id)
	}
	if ru.Status != from || !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: round-up %s is %s, wanted %s -> %s",
			repository.ErrInvalidTransition, id, ru.Status, from, to)
	}

	ru.Status = to
	if completedAt != nil {
		t := *completedAt
		ru.CompletedAt = &t
	}
	if reason != "" {
		ru.FailureReason = reason
	}

	return nil
}

func (r *RoundUpRepository) SumByRuleSince(ctx context.Context, ruleID string, since time.Time) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := decimal.Zero
	for _, id := range r.ruleIndex[ruleID] {
		ru := r.roundUps[id]
		if ru.Status != domain.StatusFailed && !ru.CreatedAt.Before(since) {
			total = total.Add(ru.RoundUpAmount)
		}
	}

	return total, nil
}

func (r *RoundUpRepository) SumCompletedByUserSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := decimal.Zero
	count := 0
	for _, id := range r.userIndex[userID] {
		ru := r.roundUps[id]
		if ru.Status == domain.StatusCompleted && !ru.CreatedAt.Before(since) {
			total = total.Add(ru.RoundUpAmount)
			count++
		}
	}

	return total, count, nil
}

func (r *RoundUpRepository) CountByStatusSince(ctx context.Context, userID string, status domain.RoundUpStatus, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, id := range r.userIndex[userID] {
		ru := r.roundUps[id]
		if ru.Status == status && !ru.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func cloneRoundUp(ru *domain.RoundUpTransaction) *domain.RoundUpTransaction {
	c := *ru
	if ru.CompletedAt != nil {
		t := *ru.CompletedAt
		c.CompletedAt = &t
	}
	c.Metadata = maps.Clone(ru.Metadata)
	return &c
}
