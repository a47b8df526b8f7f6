package sqlite

import (
	"autosave/internal/domain"
	"autosave/internal/repository"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountRepository struct {
	s *Store
}

const accountColumns = `id, user_id, name, balance, total_deposits, total_withdrawals, total_interest,
	interest_rate, settings, is_active, created_at, last_activity`

func (r *AccountRepository) Create(ctx context.Context, account *domain.SavingsAccount) (string, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	settings, err := encodeJSON(account.Settings)
	if err != nil {
		return "", err
	}

	now := r.s.now()
	err = r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO savings_accounts (`+accountColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO NOTHING`,
			account.ID, account.UserID, account.Name, account.Balance, account.TotalDeposits,
			account.TotalWithdrawals, account.TotalInterest, account.InterestRate, settings,
			boolInt(account.IsActive), unixNano(now), unixNano(now),
		)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: account %s", repository.ErrDuplicate, account.ID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	account.CreatedAt = now
	account.LastActivity = now
	return account.ID, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.SavingsAccount, error) {
	var (
		account      domain.SavingsAccount
		name         sql.NullString
		settings     sql.NullString
		isActive     int
		createdAt    int64
		lastActivity int64
	)

	err := r.s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM savings_accounts WHERE id = ?`, id).Scan(
		&account.ID, &account.UserID, &name, &account.Balance, &account.TotalDeposits,
		&account.TotalWithdrawals, &account.TotalInterest, &account.InterestRate, &settings,
		&isActive, &createdAt, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}
	if err := decodeJSON(settings, &account.Settings); err != nil {
		return nil, err
	}

	account.Name = name.String
	account.IsActive = isActive == 1
	account.CreatedAt = fromUnixNano(createdAt)
	account.LastActivity = fromUnixNano(lastActivity)

	return &account, nil
}

// CreditSavingsAccount records key in account_credits in the same
// transaction as the balance change, so a replayed key is a no-op.
func (r *AccountRepository) CreditSavingsAccount(ctx context.Context, id string, amount decimal.Decimal, key string) error {
	now := r.s.now()

	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			balance  decimal.Decimal
			deposits decimal.Decimal
			isActive int
		)
		err := tx.QueryRowContext(ctx, `SELECT balance, total_deposits, is_active FROM savings_accounts WHERE id = ?`, id).
			Scan(&balance, &deposits, &isActive)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("read account: %w", err)
		}
		if isActive != 1 {
			return fmt.Errorf("%w: account %s", repository.ErrAccountInactive, id)
		}

		if key != "" {
			res, err := tx.ExecContext(ctx, `INSERT INTO account_credits (idempotency_key, account_id, amount, applied_at)
				VALUES (?,?,?,?) ON CONFLICT(idempotency_key) DO NOTHING`,
				key, id, amount, unixNano(now))
			if err != nil {
				return fmt.Errorf("record credit: %w", err)
			}
			n, err := affected(res)
			if err != nil {
				return err
			}
			if n == 0 {
				r.s.logger.Debug("Credit already applied",
					slog.String("account_id", id),
					slog.String("key", key))
				return nil
			}
		}

		_, err = tx.ExecContext(ctx, `UPDATE savings_accounts SET
			balance = ?, total_deposits = ?, last_activity = ?
			WHERE id = ?`,
			balance.Add(amount), deposits.Add(amount), unixNano(now), id,
		)
		if err != nil {
			return fmt.Errorf("credit account: %w", err)
		}
		return nil
	})
}
