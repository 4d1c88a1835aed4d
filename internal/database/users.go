package database

import (
	"context"
	"fmt"

	"stayledger/internal/models"
)

func (q *queries) CreateUser(ctx context.Context, user *models.User) error {
	now := nowUTC()
	query := `INSERT INTO users (name, telegram_chat_id, credits, total_earned, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	if user.ID != 0 {
		query = `INSERT INTO users (id, name, telegram_chat_id, credits, total_earned, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`
	}

	args := []any{user.Name, user.TelegramChatID, user.Credits, user.TotalEarned, now, now}
	if user.ID != 0 {
		args = append([]any{user.ID}, args...)
	}

	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}
	if user.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		user.ID = id
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (q *queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT id, name, telegram_chat_id, credits, total_earned, created_at, updated_at
              FROM users WHERE id = ?`

	var u models.User
	err := q.q.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Name, &u.TelegramChatID, &u.Credits, &u.TotalEarned, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, mapError(err))
	}
	return &u, nil
}

// AddUserCredits bumps the running totals, creating the user row on first award.
// Negative amounts spend credits and do not count towards total_earned.
func (q *queries) AddUserCredits(ctx context.Context, userID, amount int64) error {
	earned := amount
	if earned < 0 {
		earned = 0
	}
	now := nowUTC()
	query := `INSERT INTO users (id, credits, total_earned, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  credits = credits + excluded.credits,
                  total_earned = total_earned + excluded.total_earned,
                  updated_at = excluded.updated_at`

	if _, err := q.q.ExecContext(ctx, query, userID, amount, earned, now, now); err != nil {
		return fmt.Errorf("failed to add credits to user %d: %w", userID, mapError(err))
	}
	return nil
}

func (q *queries) AppendCreditHistory(ctx context.Context, entry *models.CreditHistory) error {
	now := nowUTC()
	query := `INSERT INTO credit_history (user_id, amount, type, review_id, description, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`

	res, err := q.q.ExecContext(ctx, query, entry.UserID, entry.Amount, entry.Type, entry.ReviewID, entry.Description, now)
	if err != nil {
		return fmt.Errorf("failed to append credit history: %w", mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	entry.CreatedAt = now
	return nil
}

func (q *queries) ListCreditHistory(ctx context.Context, userID int64) ([]*models.CreditHistory, error) {
	query := `SELECT id, user_id, amount, type, review_id, description, created_at
              FROM credit_history WHERE user_id = ? ORDER BY created_at DESC, id DESC`

	rows, err := q.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit history: %w", err)
	}
	defer rows.Close()

	var out []*models.CreditHistory
	for rows.Next() {
		var h models.CreditHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.Amount, &h.Type, &h.ReviewID, &h.Description, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit history: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}
