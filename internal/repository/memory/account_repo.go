package memory

import (
	"autosave/internal/domain"
	"autosave/internal/repository"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*domain.SavingsAccount
	applied  map[string]struct{}
	now      Clock
}

func NewAccountRepository() *AccountRepository {
	return NewAccountRepositoryWithClock(nil)
}

func NewAccountRepositoryWithClock(clock Clock) *AccountRepository {
	return &AccountRepository{
		accounts: make(map[string]*domain.SavingsAccount),
		applied:  make(map[string]struct{}),
		now:      defaultClock(clock),
	}
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.SavingsAccount) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if _, exists := r.accounts[account.ID]; exists {
		return "", fmt.Errorf("%w: account %s", repository.ErrDuplicate, account.ID)
	}

	now := r.now()
	account.CreatedAt = now
	account.LastActivity = now
	stored := *account
	r.accounts[account.ID] = &stored

	return account.ID, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.SavingsAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, exists := r.accounts[id]
	if !exists {
		return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}
	c := *account
	return &c, nil
}

func (r *AccountRepository) CreditSavingsAccount(ctx context.Context, id string, amount decimal.Decimal, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, exists := r.accounts[id]
	if !exists {
		return fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}
	if !account.IsActive {
		return fmt.Errorf("%w: account %s", repository.ErrAccountInactive, id)
	}
	if key != "" {
		if _, done := r.applied[key]; done {
			return nil
		}
		r.applied[key] = struct{}{}
	}

	account.Balance = account.Balance.Add(amount)
	account.TotalDeposits = account.TotalDeposits.Add(amount)
	account.LastActivity = r.now()

	return nil
}
