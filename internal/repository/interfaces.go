package repository

import (
	"autosave/internal/domain"
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type RuleRepository interface {
	Create(ctx context.Context, rule *domain.AutoSaveRule) (string, error)
	GetByID(ctx context.Context, id string) (*domain.AutoSaveRule, error)
	ListActiveRules(ctx context.Context, userID string) ([]*domain.AutoSaveRule, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.AutoSaveRule, error)
	ListUserIDs(ctx context.Context) ([]string, error)
	Update(ctx context.Context, id string, patch domain.RulePatch) error
	// IncrementRuleStats must be atomic in the store; callers never
	// read-modify-write the totals.
	IncrementRuleStats(ctx context.Context, id string, amount decimal.Decimal, at time.Time) error
}

type RoundUpRepository interface {
	// Create assigns the ID when empty and stamps CreatedAt with the store's
	// own clock.
	Create(ctx context.Context, roundUp *domain.RoundUpTransaction) (string, error)
	GetByID(ctx context.Context, id string) (*domain.RoundUpTransaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.RoundUpTransaction, error)
	// UpdateStatus is a compare-and-set: it fails with ErrInvalidTransition
	// unless the stored status equals from.
	UpdateStatus(ctx context.Context, id string, from, to domain.RoundUpStatus, completedAt *time.Time, reason string) error
	// SumByRuleSince sums round-ups of a rule created at or after since whose
	// status is not failed.
	SumByRuleSince(ctx context.Context, ruleID string, since time.Time) (decimal.Decimal, error)
	SumCompletedByUserSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, int, error)
	CountByStatusSince(ctx context.Context, userID string, status domain.RoundUpStatus, since time.Time) (int, error)
}

type GoalRepository interface {
	Create(ctx context.Context, goal *domain.SavingsGoal) (string, error)
	GetByID(ctx context.Context, id string) (*domain.SavingsGoal, error)
	ListActiveGoals(ctx context.Context, userID string) ([]*domain.SavingsGoal, error)
	UpdateProgress(ctx context.Context, id string, update domain.GoalProgressUpdate) error
	CreateContribution(ctx context.Context, c *domain.GoalContribution) (string, error)
	ListContributions(ctx context.Context, goalID string) ([]*domain.GoalContribution, error)
}

type AccountRepository interface {
	Create(ctx context.Context, account *domain.SavingsAccount) (string, error)
	GetByID(ctx context.Context, id string) (*domain.SavingsAccount, error)
	// CreditSavingsAccount is a no-op when key has already been applied.
	CreditSavingsAccount(ctx context.Context, id string, amount decimal.Decimal, key string) error
}

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("duplicate entry")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAccountInactive   = errors.New("account inactive")
)
