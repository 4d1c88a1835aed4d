package database

import (
	"context"
	"fmt"

	"stayledger/internal/models"
)

const caseColumns = `id, payment_id, kind, amount, status, detail, resolution, created_at, resolved_at`

func scanCase(s scanner) (*models.ReconciliationCase, error) {
	var c models.ReconciliationCase
	if err := s.Scan(&c.ID, &c.PaymentID, &c.Kind, &c.Amount, &c.Status, &c.Detail, &c.Resolution, &c.CreatedAt, &c.ResolvedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (q *queries) CreateCase(ctx context.Context, c *models.ReconciliationCase) error {
	now := nowUTC()
	if c.Status == "" {
		c.Status = models.CaseOpen
	}
	query := `INSERT INTO reconciliation_cases (payment_id, kind, amount, status, detail, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`

	res, err := q.q.ExecContext(ctx, query, c.PaymentID, c.Kind, c.Amount, c.Status, c.Detail, now)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation case: %w", mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	c.ID = id
	c.CreatedAt = now
	return nil
}

func (q *queries) GetCase(ctx context.Context, id int64) (*models.ReconciliationCase, error) {
	query := `SELECT ` + caseColumns + ` FROM reconciliation_cases WHERE id = ?`
	c, err := scanCase(q.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get reconciliation case %d: %w", id, mapError(err))
	}
	return c, nil
}

// ListCases lists cases in status, or all cases when status is empty.
func (q *queries) ListCases(ctx context.Context, status models.CaseStatus) ([]*models.ReconciliationCase, error) {
	query := `SELECT ` + caseColumns + ` FROM reconciliation_cases WHERE (? = '' OR status = ?) ORDER BY id`

	rows, err := q.q.QueryContext(ctx, query, status, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation cases: %w", err)
	}
	defer rows.Close()

	var out []*models.ReconciliationCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation case: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *queries) ResolveCase(ctx context.Context, id int64, resolution string) error {
	query := `UPDATE reconciliation_cases SET status = ?, resolution = ?, resolved_at = ?
              WHERE id = ? AND status = ?`
	res, err := q.q.ExecContext(ctx, query, models.CaseResolved, resolution, nowUTC(), id, models.CaseOpen)
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation case %d: %w", id, err)
	}
	return checkAffected(res, ErrNotFound)
}

// ResolveCasesForPayment closes every open case of the payment and returns how many.
func (q *queries) ResolveCasesForPayment(ctx context.Context, paymentID int64, resolution string) (int64, error) {
	query := `UPDATE reconciliation_cases SET status = ?, resolution = ?, resolved_at = ?
              WHERE payment_id = ? AND status = ?`
	res, err := q.q.ExecContext(ctx, query, models.CaseResolved, resolution, nowUTC(), paymentID, models.CaseOpen)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve cases for payment %d: %w", paymentID, err)
	}
	return res.RowsAffected()
}
