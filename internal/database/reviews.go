package database

import (
	"context"
	"fmt"

	"stayledger/internal/models"
)

// CreateReview fails with ErrDuplicate when the booking already has a review.
func (q *queries) CreateReview(ctx context.Context, r *models.Review) error {
	now := nowUTC()
	query := `INSERT INTO reviews (booking_id, property_id, guest_id, rating, content, sns_shared, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`

	res, err := q.q.ExecContext(ctx, query, r.BookingID, r.PropertyID, r.GuestID, r.Rating, r.Content, r.SNSShared, now)
	if err != nil {
		return fmt.Errorf("failed to create review: %w", mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	r.CreatedAt = now
	return nil
}

func (q *queries) GetReviewByBookingID(ctx context.Context, bookingID int64) (*models.Review, error) {
	query := `SELECT id, booking_id, property_id, guest_id, rating, content, sns_shared, created_at
              FROM reviews WHERE booking_id = ?`

	var r models.Review
	err := q.q.QueryRowContext(ctx, query, bookingID).Scan(
		&r.ID, &r.BookingID, &r.PropertyID, &r.GuestID, &r.Rating, &r.Content, &r.SNSShared, &r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get review for booking %d: %w", bookingID, mapError(err))
	}
	return &r, nil
}
