package sqlite

import (
	"autosave/internal/domain"
	"autosave/internal/repository"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type GoalRepository struct {
	s *Store
}

const goalColumns = `id, user_id, name, description, target_amount, current_amount, target_date,
	category, priority, progress, is_active, is_completed, completed_at, auto_save_rules,
	created_at, updated_at`

func (r *GoalRepository) Create(ctx context.Context, goal *domain.SavingsGoal) (string, error) {
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	rules, err := encodeJSON(goal.AutoSaveRules)
	if err != nil {
		return "", err
	}

	now := r.s.now()
	err = r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO savings_goals (`+goalColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO NOTHING`,
			goal.ID, goal.UserID, goal.Name, goal.Description, goal.TargetAmount, goal.CurrentAmount,
			unixNano(goal.TargetDate), goal.Category, string(goal.Priority), goal.Progress,
			boolInt(goal.IsActive), boolInt(goal.IsCompleted), nullUnixNano(goal.CompletedAt), rules,
			unixNano(now), unixNano(now),
		)
		if err != nil {
			return fmt.Errorf("insert goal: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: goal %s", repository.ErrDuplicate, goal.ID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	goal.CreatedAt = now
	goal.UpdatedAt = now
	return goal.ID, nil
}

func (r *GoalRepository) GetByID(ctx context.Context, id string) (*domain.SavingsGoal, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM savings_goals WHERE id = ?`, id)
	goal, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: goal %s", repository.ErrNotFound, id)
	}
	return goal, err
}

func (r *GoalRepository) ListActiveGoals(ctx context.Context, userID string) ([]*domain.SavingsGoal, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+goalColumns+` FROM savings_goals
		WHERE user_id = ? AND is_active = 1 ORDER BY target_date, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("query goals: %w", err)
	}
	defer rows.Close()

	var result []*domain.SavingsGoal
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, goal)
	}
	return result, rows.Err()
}

func (r *GoalRepository) UpdateProgress(ctx context.Context, id string, update domain.GoalProgressUpdate) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE savings_goals SET
			current_amount = ?, progress = ?, is_completed = ?,
			completed_at = COALESCE(?, completed_at), updated_at = ?
			WHERE id = ?`,
			update.CurrentAmount, update.Progress, boolInt(update.IsCompleted),
			nullUnixNano(update.CompletedAt), unixNano(r.s.now()), id,
		)
		if err != nil {
			return fmt.Errorf("update goal progress: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: goal %s", repository.ErrNotFound, id)
		}
		return nil
	})
}

func (r *GoalRepository) CreateContribution(ctx context.Context, c *domain.GoalContribution) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	now := r.s.now()
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM savings_goals WHERE id = ?`, c.GoalID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: goal %s", repository.ErrNotFound, c.GoalID)
		}
		if err != nil {
			return fmt.Errorf("read goal: %w", err)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO goal_contributions
			(id, goal_id, user_id, amount, source, source_id, created_at)
			VALUES (?,?,?,?,?,?,?)`,
			c.ID, c.GoalID, c.UserID, c.Amount, string(c.Source), c.SourceID, unixNano(now),
		)
		if err != nil {
			return fmt.Errorf("insert contribution: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	c.CreatedAt = now
	return c.ID, nil
}

func (r *GoalRepository) ListContributions(ctx context.Context, goalID string) ([]*domain.GoalContribution, error) {
	if _, err := r.GetByID(ctx, goalID); err != nil {
		return nil, err
	}

	rows, err := r.s.db.QueryContext(ctx, `SELECT id, goal_id, user_id, amount, source, source_id, created_at
		FROM goal_contributions WHERE goal_id = ? ORDER BY seq`, goalID)
	if err != nil {
		return nil, fmt.Errorf("query contributions: %w", err)
	}
	defer rows.Close()

	result := []*domain.GoalContribution{}
	for rows.Next() {
		var (
			c         domain.GoalContribution
			source    string
			sourceID  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.GoalID, &c.UserID, &c.Amount, &source, &sourceID, &createdAt); err != nil {
			return nil, err
		}
		c.Source = domain.ContributionSource(source)
		c.SourceID = sourceID.String
		c.CreatedAt = fromUnixNano(createdAt)
		result = append(result, &c)
	}
	return result, rows.Err()
}

func scanGoal(row scanner) (*domain.SavingsGoal, error) {
	var (
		goal        domain.SavingsGoal
		description sql.NullString
		targetDate  int64
		category    sql.NullString
		priority    sql.NullString
		isActive    int
		isCompleted int
		completedAt sql.NullInt64
		rules       sql.NullString
		createdAt   int64
		updatedAt   int64
	)

	err := row.Scan(&goal.ID, &goal.UserID, &goal.Name, &description, &goal.TargetAmount, &goal.CurrentAmount,
		&targetDate, &category, &priority, &goal.Progress, &isActive, &isCompleted, &completedAt, &rules,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(rules, &goal.AutoSaveRules); err != nil {
		return nil, err
	}

	goal.Description = description.String
	goal.TargetDate = fromUnixNano(targetDate)
	goal.Category = category.String
	goal.Priority = domain.GoalPriority(priority.String)
	goal.IsActive = isActive == 1
	goal.IsCompleted = isCompleted == 1
	goal.CompletedAt = fromNullUnixNano(completedAt)
	goal.CreatedAt = fromUnixNano(createdAt)
	goal.UpdatedAt = fromUnixNano(updatedAt)

	return &goal, nil
}
