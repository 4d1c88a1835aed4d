package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stayledger/internal/models"
)

const paymentColumns = `id, booking_id, guest_id, order_id, amount, status, payment_key, method, refund_amount,
        approved_at, cancelled_at, refunded_at, created_at, updated_at, version`

func scanPayment(s scanner) (*models.Payment, error) {
	var p models.Payment
	err := s.Scan(
		&p.ID, &p.BookingID, &p.GuestID, &p.OrderID, &p.Amount, &p.Status, &p.PaymentKey, &p.Method, &p.RefundAmount,
		&p.ApprovedAt, &p.CancelledAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt, &p.Version,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *queries) CreatePayment(ctx context.Context, p *models.Payment) error {
	now := nowUTC()
	query := `INSERT INTO payments (booking_id, guest_id, order_id, amount, status, refund_amount, created_at, updated_at, version)
              VALUES (?, ?, ?, ?, ?, 0, ?, ?, 1)`

	res, err := q.q.ExecContext(ctx, query, p.BookingID, p.GuestID, p.OrderID, p.Amount, p.Status, now, now)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Version = 1
	return nil
}

func (q *queries) getPaymentBy(ctx context.Context, column string, value any) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + column + ` = ?`
	p, err := scanPayment(q.q.QueryRowContext(ctx, query, value))
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by %s: %w", column, mapError(err))
	}
	return p, nil
}

func (q *queries) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	return q.getPaymentBy(ctx, "id", id)
}

func (q *queries) GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	return q.getPaymentBy(ctx, "order_id", orderID)
}

func (q *queries) GetPaymentByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error) {
	return q.getPaymentBy(ctx, "booking_id", bookingID)
}

func (q *queries) UpdatePaymentWithVersion(ctx context.Context, p *models.Payment) error {
	now := nowUTC()
	query := `UPDATE payments SET
                  status = ?, payment_key = ?, method = ?, refund_amount = ?,
                  approved_at = ?, cancelled_at = ?, refunded_at = ?,
                  updated_at = ?, version = version + 1
              WHERE id = ? AND version = ?`

	res, err := q.q.ExecContext(ctx, query,
		p.Status, p.PaymentKey, p.Method, p.RefundAmount,
		p.ApprovedAt, p.CancelledAt, p.RefundedAt,
		now, p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment %d: %w", p.ID, mapError(err))
	}
	if err := checkAffected(res, ErrConcurrentModification); err != nil {
		return err
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

// AppendTransaction adds a ledger row. There is no update or
// delete counterpart; triggers reject both.
func (q *queries) AppendTransaction(ctx context.Context, t *models.PaymentTransaction) error {
	now := nowUTC()
	query := `INSERT INTO payment_transactions (payment_id, type, amount, status, external_id, method, metadata, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := q.q.ExecContext(ctx, query, t.PaymentID, t.Type, t.Amount, t.Status, t.ExternalID, t.Method, t.Metadata, now)
	if err != nil {
		return fmt.Errorf("failed to append payment transaction: %w", mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	t.ID = id
	t.CreatedAt = now
	return nil
}

const transactionColumns = `id, payment_id, type, amount, status, external_id, method, metadata, created_at`

func (q *queries) scanTransactions(ctx context.Context, query string, args ...any) ([]*models.PaymentTransaction, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.PaymentTransaction
	for rows.Next() {
		var t models.PaymentTransaction
		if err := rows.Scan(&t.ID, &t.PaymentID, &t.Type, &t.Amount, &t.Status, &t.ExternalID, &t.Method, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment transaction: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (q *queries) ListTransactions(ctx context.Context, paymentID int64) ([]*models.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE payment_id = ? ORDER BY id`
	return q.scanTransactions(ctx, query, paymentID)
}

// ListTransactionsBetween returns ledger rows created in [from, to).
func (q *queries) ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]*models.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + `
              FROM payment_transactions
              WHERE created_at >= ? AND created_at < ?
              ORDER BY id`
	return q.scanTransactions(ctx, query, from.UTC(), to.UTC())
}

// ListLedgerSummaries aggregates successful ledger rows for every payment that
// has at least one of them.
func (q *queries) ListLedgerSummaries(ctx context.Context) ([]*models.LedgerSummary, error) {
	query := `SELECT ` + prefixed("p", paymentColumns) + `,
                  COALESCE(SUM(CASE WHEN t.type = 'PAYMENT' THEN t.amount END), 0) AS paid,
                  COALESCE(SUM(CASE WHEN t.type = 'REFUND' THEN t.amount END), 0) AS refunded
              FROM payments p
              JOIN payment_transactions t ON t.payment_id = p.id AND t.status = 'SUCCESS'
              GROUP BY p.id
              ORDER BY p.id`

	rows, err := q.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger summaries: %w", err)
	}

	var out []*models.LedgerSummary
	for rows.Next() {
		var (
			p models.Payment
			s models.LedgerSummary
		)
		err := rows.Scan(
			&p.ID, &p.BookingID, &p.GuestID, &p.OrderID, &p.Amount, &p.Status, &p.PaymentKey, &p.Method, &p.RefundAmount,
			&p.ApprovedAt, &p.CancelledAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt, &p.Version,
			&s.PaidTotal, &s.RefundedTotal,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan ledger summary: %w", err)
		}
		s.Payment = &p
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// the last successful rows carry the gateway references needed for repair
	for _, s := range out {
		txns, err := q.ListTransactions(ctx, s.Payment.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range txns {
			if t.Status != models.TransactionSuccess {
				continue
			}
			at := t.CreatedAt
			switch t.Type {
			case models.TransactionPayment:
				s.LastPaymentKey = t.ExternalID
				s.LastMethod = t.Method
				s.LastPaidAt = &at
			case models.TransactionRefund:
				s.LastRefundedAt = &at
			}
		}
	}
	return out, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
