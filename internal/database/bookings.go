package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stayledger/internal/models"
)

const bookingColumns = `id, property_id, guest_id, check_in, check_out, guests, total_amount, status,
        cancellation_reason, rejection_reason, confirmed_at, cancelled_at, rejected_at, completed_at,
        created_at, updated_at, version`

func scanBooking(s scanner) (*models.Booking, error) {
	var (
		b                 models.Booking
		checkIn, checkOut string
	)
	err := s.Scan(
		&b.ID, &b.PropertyID, &b.GuestID, &checkIn, &checkOut, &b.Guests, &b.TotalAmount, &b.Status,
		&b.CancellationReason, &b.RejectionReason, &b.ConfirmedAt, &b.CancelledAt, &b.RejectedAt, &b.CompletedAt,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	if b.CheckIn, err = models.ParseDate(checkIn); err != nil {
		return nil, err
	}
	if b.CheckOut, err = models.ParseDate(checkOut); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBooking inserts a booking. The bookings_no_overlap trigger rejects an
// active booking that overlaps another one with ErrOverlap.
func (q *queries) CreateBooking(ctx context.Context, b *models.Booking) error {
	now := nowUTC()
	query := `INSERT INTO bookings (property_id, guest_id, check_in, check_out, guests, total_amount, status, created_at, updated_at, version)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`

	res, err := q.q.ExecContext(ctx, query,
		b.PropertyID, b.GuestID, models.FormatDate(b.CheckIn), models.FormatDate(b.CheckOut),
		b.Guests, b.TotalAmount, b.Status, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", mapError(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	b.ID = id
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1
	return nil
}

func (q *queries) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(q.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get booking %d: %w", id, mapError(err))
	}
	return b, nil
}

// UpdateBookingWithVersion persists the mutable booking fields if the row is
// still at b.Version, then bumps b.Version.
func (q *queries) UpdateBookingWithVersion(ctx context.Context, b *models.Booking) error {
	now := nowUTC()
	query := `UPDATE bookings SET
                  status = ?, cancellation_reason = ?, rejection_reason = ?,
                  confirmed_at = ?, cancelled_at = ?, rejected_at = ?, completed_at = ?,
                  updated_at = ?, version = version + 1
              WHERE id = ? AND version = ?`

	res, err := q.q.ExecContext(ctx, query,
		b.Status, b.CancellationReason, b.RejectionReason,
		b.ConfirmedAt, b.CancelledAt, b.RejectedAt, b.CompletedAt,
		now, b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking %d: %w", b.ID, mapError(err))
	}
	if err := checkAffected(res, ErrConcurrentModification); err != nil {
		return err
	}
	b.Version++
	b.UpdatedAt = now
	return nil
}

// FindOverlappingBookings returns bookings of the property in one of statuses
// whose [check_in, check_out) intersects [checkIn, checkOut).
func (q *queries) FindOverlappingBookings(
	ctx context.Context,
	propertyID int64,
	checkIn, checkOut time.Time,
	statuses []models.BookingStatus,
	excludeID int64,
) ([]*models.Booking, error) {
	if len(statuses) == 0 {
		statuses = models.ActiveBookingStatuses
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	query := `SELECT ` + bookingColumns + `
              FROM bookings
              WHERE property_id = ?
                AND status IN (` + placeholders + `)
                AND check_in < ?
                AND check_out > ?
                AND id != ?
              ORDER BY check_in`

	args := make([]any, 0, len(statuses)+4)
	args = append(args, propertyID)
	for _, s := range statuses {
		args = append(args, s)
	}
	args = append(args, models.FormatDate(checkOut), models.FormatDate(checkIn), excludeID)

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query overlapping bookings: %w", err)
	}
	defer rows.Close()

	var out []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListAbandonedCheckouts lists pending bookings whose payment is still
// READY or FAILED and was created before cutoff, oldest first.
func (q *queries) ListAbandonedCheckouts(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + bookingColumns + `
              FROM bookings
              WHERE status = ?
                AND id IN (SELECT booking_id FROM payments WHERE status IN (?, ?) AND created_at < ?)
              ORDER BY created_at, id
              LIMIT ?`

	rows, err := q.q.QueryContext(ctx, query,
		models.BookingPending, models.PaymentReady, models.PaymentFailed, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list abandoned checkouts: %w", err)
	}
	defer rows.Close()

	var out []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListBookingsEndingBefore lists bookings in status whose check-out is on or before day.
func (q *queries) ListBookingsEndingBefore(ctx context.Context, status models.BookingStatus, day time.Time, limit int) ([]*models.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + bookingColumns + `
              FROM bookings
              WHERE status = ? AND check_out <= ?
              ORDER BY check_out, id
              LIMIT ?`

	rows, err := q.q.QueryContext(ctx, query, status, models.FormatDate(day), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list finished bookings: %w", err)
	}
	defer rows.Close()

	var out []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
