package memory

import (
	"autosave/internal/domain"
	"autosave/internal/repository"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RuleRepository struct {
	mu        sync.RWMutex
	rules     map[string]*domain.AutoSaveRule
	userIndex map[string][]string
	now       Clock
}

func NewRuleRepository() *RuleRepository {
	return NewRuleRepositoryWithClock(nil)
}

func NewRuleRepositoryWithClock(clock Clock) *RuleRepository {
	return &RuleRepository{
		rules:     make(map[string]*domain.AutoSaveRule),
		userIndex: make(map[string][]string),
		now:       defaultClock(clock),
	}
}

func (r *RuleRepository) Create(ctx context.Context, rule *domain.AutoSaveRule) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if _, exists := r.rules[rule.ID]; exists {
		return "", fmt.Errorf("%w: rule %s", repository.ErrDuplicate, rule.ID)
	}

	now := r.now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	stored := cloneRule(rule)
	r.rules[rule.ID] = stored
	r.userIndex[rule.UserID] = append(r.userIndex[rule.UserID], rule.ID)

	return rule.ID, nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*domain.AutoSaveRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, exists := r.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: rule %s", repository.ErrNotFound, id)
	}
	return cloneRule(rule), nil
}

func (r *RuleRepository) ListActiveRules(ctx context.Context, userID string) ([]*domain.AutoSaveRule, error) {
	return r.list(userID, true), nil
}

func (r *RuleRepository) ListByUser(ctx context.Context, userID string) ([]*domain.AutoSaveRule, error) {
	return r.list(userID, false), nil
}

func (r *RuleRepository) list(userID string, activeOnly bool) []*domain.AutoSaveRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.AutoSaveRule
	for _, id := range r.userIndex[userID] {
		rule := r.rules[id]
		if activeOnly && !rule.IsActive {
			continue
		}
		result = append(result, cloneRule(rule))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority > result[j].Priority
	})

	return result
}

func (r *RuleRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.userIndex))
	for userID := range r.userIndex {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *RuleRepository) Update(ctx context.Context, id string, patch domain.RulePatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, exists := r.rules[id]
	if !exists {
		return fmt.Errorf("%w: rule %s", repository.ErrNotFound, id)
	}

	rule.Apply(patch)
	rule.UpdatedAt = r.now()

	return nil
}

func (r *RuleRepository) IncrementRuleStats(ctx context.Context, id string, amount decimal.Decimal, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, exists := r.rules[id]
	if !exists {
		return fmt.Errorf("%w: rule %s", repository.ErrNotFound, id)
	}

	rule.TotalSaved = rule.TotalSaved.Add(amount)
	rule.TransactionCount++
	triggered := at
	rule.LastTriggered = &triggered
	rule.UpdatedAt = r.now()

	return nil
}

func cloneRule(rule *domain.AutoSaveRule) *domain.AutoSaveRule {
	c := *rule
	if rule.LastTriggered != nil {
		t := *rule.LastTriggered
		c.LastTriggered = &t
	}
	return &c
}
