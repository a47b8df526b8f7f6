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

type RuleRepository struct {
	s *Store
}

const ruleColumns = `id, user_id, name, description, is_active, trigger_type, trigger_settings,
	destination_type, destination_id, priority, total_saved, transaction_count,
	last_triggered, created_at, updated_at`

const maxStatsAttempts = 5

func (r *RuleRepository) Create(ctx context.Context, rule *domain.AutoSaveRule) (string, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	settings, err := encodeJSON(rule.TriggerSettings)
	if err != nil {
		return "", err
	}

	now := r.s.now()
	err = r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO auto_save_rules (`+ruleColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO NOTHING`,
			rule.ID, rule.UserID, rule.Name, rule.Description, boolInt(rule.IsActive),
			string(rule.TriggerType), settings, string(rule.DestinationType), rule.DestinationID,
			rule.Priority, rule.TotalSaved, rule.TransactionCount,
			nullUnixNano(rule.LastTriggered), unixNano(now), unixNano(now),
		)
		if err != nil {
			return fmt.Errorf("insert rule: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: rule %s", repository.ErrDuplicate, rule.ID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	rule.CreatedAt = now
	rule.UpdatedAt = now
	return rule.ID, nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*domain.AutoSaveRule, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM auto_save_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule %s", repository.ErrNotFound, id)
	}
	return rule, err
}

func (r *RuleRepository) ListActiveRules(ctx context.Context, userID string) ([]*domain.AutoSaveRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM auto_save_rules
		WHERE user_id = ? AND is_active = 1 ORDER BY priority DESC, rowid`, userID)
}

func (r *RuleRepository) ListByUser(ctx context.Context, userID string) ([]*domain.AutoSaveRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM auto_save_rules
		WHERE user_id = ? ORDER BY priority DESC, rowid`, userID)
}

func (r *RuleRepository) list(ctx context.Context, query string, args ...any) ([]*domain.AutoSaveRule, error) {
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var result []*domain.AutoSaveRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

func (r *RuleRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM auto_save_rules ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *RuleRepository) Update(ctx context.Context, id string, patch domain.RulePatch) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		rule, err := scanRule(tx.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM auto_save_rules WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: rule %s", repository.ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		rule.Apply(patch)
		settings, err := encodeJSON(rule.TriggerSettings)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE auto_save_rules SET
			name = ?, description = ?, is_active = ?, trigger_settings = ?,
			destination_type = ?, destination_id = ?, priority = ?, updated_at = ?
			WHERE id = ?`,
			rule.Name, rule.Description, boolInt(rule.IsActive), settings,
			string(rule.DestinationType), rule.DestinationID, rule.Priority,
			unixNano(r.s.now()), id,
		)
		if err != nil {
			return fmt.Errorf("update rule: %w", err)
		}
		return nil
	})
}

// IncrementRuleStats adds a settled amount to the rule's totals. Decimals
// are stored as TEXT, so the sum is computed in Go and written back with a
// compare-and-set on the value that was read; a concurrent writer from
// another connection makes the update miss and it is retried.
func (r *RuleRepository) IncrementRuleStats(ctx context.Context, id string, amount decimal.Decimal, at time.Time) error {
	for attempt := 0; attempt < maxStatsAttempts; attempt++ {
		var applied bool
		err := r.s.withTx(ctx, func(tx *sql.Tx) error {
			var total string
			err := tx.QueryRowContext(ctx, `SELECT total_saved FROM auto_save_rules WHERE id = ?`, id).Scan(&total)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: rule %s", repository.ErrNotFound, id)
			}
			if err != nil {
				return fmt.Errorf("read rule stats: %w", err)
			}
			current, err := decimal.NewFromString(total)
			if err != nil {
				return fmt.Errorf("parse total_saved %q: %w", total, err)
			}

			res, err := tx.ExecContext(ctx, `UPDATE auto_save_rules SET
				total_saved = ?, transaction_count = transaction_count + 1,
				last_triggered = ?, updated_at = ?
				WHERE id = ? AND total_saved = ?`,
				current.Add(amount).String(), unixNano(at), unixNano(r.s.now()), id, total,
			)
			if err != nil {
				return fmt.Errorf("update rule stats: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			applied = n == 1
			return nil
		})
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
	}
	return fmt.Errorf("update rule stats for %s: too much contention", id)
}

func scanRule(row scanner) (*domain.AutoSaveRule, error) {
	var (
		rule          domain.AutoSaveRule
		description   sql.NullString
		isActive      int
		triggerType   string
		settings      sql.NullString
		destType      string
		lastTriggered sql.NullInt64
		createdAt     int64
		updatedAt     int64
	)

	err := row.Scan(&rule.ID, &rule.UserID, &rule.Name, &description, &isActive, &triggerType, &settings,
		&destType, &rule.DestinationID, &rule.Priority, &rule.TotalSaved, &rule.TransactionCount,
		&lastTriggered, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(settings, &rule.TriggerSettings); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.IsActive = isActive == 1
	rule.TriggerType = domain.TriggerType(triggerType)
	rule.DestinationType = domain.DestinationType(destType)
	rule.LastTriggered = fromNullUnixNano(lastTriggered)
	rule.CreatedAt = fromUnixNano(createdAt)
	rule.UpdatedAt = fromUnixNano(updatedAt)

	return &rule, nil
}
