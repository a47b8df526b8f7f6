package sqlite

import (
	"autosave/internal/domain"
	"autosave/internal/repository"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RoundUpRepository struct {
	s *Store
}

const roundUpColumns = `id, user_id, original_transaction_id, original_amount, round_up_amount,
	total_amount, rule_id, destination_type, destination_id, status, failure_reason,
	metadata, created_at, completed_at`

func (r *RoundUpRepository) Create(ctx context.Context, ru *domain.RoundUpTransaction) (string, error) {
	if ru.ID == "" {
		ru.ID = uuid.NewString()
	}
	metadata, err := encodeJSON(ru.Metadata)
	if err != nil {
		return "", err
	}

	now := r.s.now()
	err = r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO round_up_transactions (`+roundUpColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO NOTHING`,
			ru.ID, ru.UserID, ru.OriginalTransactionID, ru.OriginalAmount, ru.RoundUpAmount,
			ru.TotalAmount, ru.AutoSaveRuleID, string(ru.DestinationType), ru.DestinationID,
			string(ru.Status), ru.FailureReason, metadata, unixNano(now), nullUnixNano(ru.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("insert round-up: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: round-up %s", repository.ErrDuplicate, ru.ID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	ru.CreatedAt = now
	return ru.ID, nil
}

func (r *RoundUpRepository) GetByID(ctx context.Context, id string) (*domain.RoundUpTransaction, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+roundUpColumns+` FROM round_up_transactions WHERE id = ?`, id)
	ru, err := scanRoundUp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: round-up %s", repository.ErrNotFound, id)
	}
	return ru, err
}

func (r *RoundUpRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.RoundUpTransaction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+roundUpColumns+` FROM round_up_transactions
		WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query round-ups: %w", err)
	}
	defer rows.Close()

	result := []*domain.RoundUpTransaction{}
	for rows.Next() {
		ru, err := scanRoundUp(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ru)
	}
	return result, rows.Err()
}

func (r *RoundUpRepository) UpdateStatus(
	ctx context.Context,
	id string,
	from, to domain.RoundUpStatus,
	completedAt *time.Time,
	reason string,
) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM round_up_transactions WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: round-up %s", repository.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("read round-up status: %w", err)
		}
		if domain.RoundUpStatus(current) != from || !domain.CanTransition(from, to) {
			return fmt.Errorf("%w: round-up %s is %s, wanted %s -> %s",
				repository.ErrInvalidTransition, id, current, from, to)
		}

		_, err = tx.ExecContext(ctx, `UPDATE round_up_transactions SET
			status = ?,
			completed_at = COALESCE(?, completed_at),
			failure_reason = CASE WHEN ? = '' THEN failure_reason ELSE ? END
			WHERE id = ? AND status = ?`,
			string(to), nullUnixNano(completedAt), reason, reason, id, string(from),
		)
		if err != nil {
			return fmt.Errorf("update round-up status: %w", err)
		}
		return nil
	})
}

func (r *RoundUpRepository) SumByRuleSince(ctx context.Context, ruleID string, since time.Time) (decimal.Decimal, error) {
	total, _, err := r.sum(ctx, `SELECT round_up_amount FROM round_up_transactions
		WHERE rule_id = ? AND status != ? AND created_at >= ?`,
		ruleID, string(domain.StatusFailed), unixNano(since))
	return total, err
}

func (r *RoundUpRepository) SumCompletedByUserSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, int, error) {
	return r.sum(ctx, `SELECT round_up_amount FROM round_up_transactions
		WHERE user_id = ? AND status = ? AND created_at >= ?`,
		userID, string(domain.StatusCompleted), unixNano(since))
}

func (r *RoundUpRepository) CountByStatusSince(ctx context.Context, userID string, status domain.RoundUpStatus, since time.Time) (int, error) {
	var count int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM round_up_transactions
		WHERE user_id = ? AND status = ? AND created_at >= ?`,
		userID, string(status), unixNano(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count round-ups: %w", err)
	}
	return count, nil
}

// sum adds TEXT amounts in Go; SQLite's SUM would go through float64.
func (r *RoundUpRepository) sum(ctx context.Context, query string, args ...any) (decimal.Decimal, int, error) {
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("query round-up amounts: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	count := 0
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, 0, err
		}
		total = total.Add(amount)
		count++
	}
	return total, count, rows.Err()
}

func scanRoundUp(row scanner) (*domain.RoundUpTransaction, error) {
	var (
		ru          domain.RoundUpTransaction
		destType    string
		status      string
		reason      sql.NullString
		metadata    sql.NullString
		createdAt   int64
		completedAt sql.NullInt64
	)

	err := row.Scan(&ru.ID, &ru.UserID, &ru.OriginalTransactionID, &ru.OriginalAmount, &ru.RoundUpAmount,
		&ru.TotalAmount, &ru.AutoSaveRuleID, &destType, &ru.DestinationID, &status, &reason,
		&metadata, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &ru.Metadata); err != nil {
		return nil, err
	}

	ru.DestinationType = domain.DestinationType(destType)
	ru.Status = domain.RoundUpStatus(status)
	ru.FailureReason = reason.String
	ru.CreatedAt = fromUnixNano(createdAt)
	ru.CompletedAt = fromNullUnixNano(completedAt)

	return &ru, nil
}
