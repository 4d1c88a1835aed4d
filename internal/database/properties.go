package database

import (
	"context"
	"fmt"
	"time"

	"stayledger/internal/models"
)

const propertyColumns = `id, host_id, title, price_per_night, min_nights, max_nights, max_guests, status, instant_book, created_at, updated_at`

func scanProperty(s scanner) (*models.Property, error) {
	var p models.Property
	err := s.Scan(
		&p.ID, &p.HostID, &p.Title, &p.PricePerNight, &p.MinNights, &p.MaxNights, &p.MaxGuests,
		&p.Status, &p.InstantBook, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *queries) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE id = ?`
	p, err := scanProperty(q.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get property %d: %w", id, mapError(err))
	}
	return p, nil
}

// UpsertProperty inserts a new property or overwrites the one with the same id.
// Listing management lives upstream; this keeps the local copy in sync.
func (q *queries) UpsertProperty(ctx context.Context, p *models.Property) error {
	now := nowUTC()
	if p.MinNights <= 0 {
		p.MinNights = 1
	}
	if p.MaxGuests <= 0 {
		p.MaxGuests = 1
	}

	if p.ID == 0 {
		query := `INSERT INTO properties (host_id, title, price_per_night, min_nights, max_nights, max_guests, status, instant_book, created_at, updated_at)
                  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		res, err := q.q.ExecContext(ctx, query,
			p.HostID, p.Title, p.PricePerNight, p.MinNights, p.MaxNights, p.MaxGuests, p.Status, p.InstantBook, now, now)
		if err != nil {
			return fmt.Errorf("failed to create property: %w", mapError(err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		p.ID = id
		p.CreatedAt = now
		p.UpdatedAt = now
		return nil
	}

	query := `INSERT INTO properties (id, host_id, title, price_per_night, min_nights, max_nights, max_guests, status, instant_book, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  host_id = excluded.host_id,
                  title = excluded.title,
                  price_per_night = excluded.price_per_night,
                  min_nights = excluded.min_nights,
                  max_nights = excluded.max_nights,
                  max_guests = excluded.max_guests,
                  status = excluded.status,
                  instant_book = excluded.instant_book,
                  updated_at = excluded.updated_at`
	_, err := q.q.ExecContext(ctx, query,
		p.ID, p.HostID, p.Title, p.PricePerNight, p.MinNights, p.MaxNights, p.MaxGuests, p.Status, p.InstantBook, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert property %d: %w", p.ID, mapError(err))
	}
	p.UpdatedAt = now
	return nil
}

func (q *queries) UpsertCalendarDay(ctx context.Context, day *models.CalendarDay) error {
	query := `INSERT INTO calendar_days (property_id, date, available, price_override)
              VALUES (?, ?, ?, ?)
              ON CONFLICT(property_id, date) DO UPDATE SET
                  available = excluded.available,
                  price_override = excluded.price_override`
	_, err := q.q.ExecContext(ctx, query, day.PropertyID, models.FormatDate(day.Date), day.Available, day.PriceOverride)
	if err != nil {
		return fmt.Errorf("failed to upsert calendar day: %w", mapError(err))
	}
	return nil
}

// GetCalendarDays returns the sparse rows for dates in [from, to).
func (q *queries) GetCalendarDays(ctx context.Context, propertyID int64, from, to time.Time) ([]models.CalendarDay, error) {
	query := `SELECT property_id, date, available, price_override
              FROM calendar_days
              WHERE property_id = ? AND date >= ? AND date < ?
              ORDER BY date`

	rows, err := q.q.QueryContext(ctx, query, propertyID, models.FormatDate(from), models.FormatDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to get calendar days: %w", err)
	}
	defer rows.Close()

	var days []models.CalendarDay
	for rows.Next() {
		var (
			d   models.CalendarDay
			raw string
		)
		if err := rows.Scan(&d.PropertyID, &raw, &d.Available, &d.PriceOverride); err != nil {
			return nil, fmt.Errorf("failed to scan calendar day: %w", err)
		}
		if d.Date, err = models.ParseDate(raw); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
