package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stayledger/internal/domain"
	"stayledger/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createGuarded mirrors the booking service: check for overlaps, then insert,
// inside one immediate transaction.
func createGuarded(ctx context.Context, db *DB, propertyID, guestID int64, checkIn, checkOut time.Time) error {
	return db.WithinTx(ctx, func(q domain.Queries) error {
		conflicts, err := q.FindOverlappingBookings(ctx, propertyID, checkIn, checkOut, nil, 0)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return ErrOverlap
		}
		b := &models.Booking{
			PropertyID: propertyID, GuestID: guestID, CheckIn: checkIn, CheckOut: checkOut,
			Guests: 1, TotalAmount: 100, Status: models.BookingPending,
		}
		if err := q.CreateBooking(ctx, b); err != nil {
			return err
		}
		return q.CreatePayment(ctx, &models.Payment{
			BookingID: b.ID, GuestID: guestID, OrderID: fmt.Sprintf("order-%d-%d", guestID, b.ID),
			Amount: b.TotalAmount, Status: models.PaymentReady,
		})
	})
}

func TestConcurrentOverlappingBookings(t *testing.T) {
	logger := zerolog.New(zerolog.NewConsoleWriter()).Level(zerolog.WarnLevel)
	db, err := NewDB(filepath.Join(t.TempDir(), "concurrency.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	p := seedProperty(t, db)

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			// all ranges share the night of 2031-01-03
			checkIn := date("2031-01-01").AddDate(0, 0, id%3)
			results <- createGuarded(ctx, db, p.ID, int64(id+1), checkIn, date("2031-01-04"))
		}(i)
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		if err == nil {
			successCount++
			continue
		}
		assert.True(t, errors.Is(err, ErrOverlap), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, successCount, "only one overlapping booking may succeed")

	active, err := db.FindOverlappingBookings(ctx, p.ID, date("2031-01-01"), date("2031-01-04"), nil, 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestConcurrentDisjointBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedProperty(t, db)

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			// back-to-back two-night stays
			checkIn := date("2031-02-01").AddDate(0, 0, id*2)
			results <- createGuarded(ctx, db, p.ID, int64(id+1), checkIn, checkIn.AddDate(0, 0, 2))
		}(i)
	}

	wg.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}

	active, err := db.FindOverlappingBookings(ctx, p.ID, date("2031-02-01"), date("2031-03-01"), nil, 0)
	require.NoError(t, err)
	assert.Len(t, active, numGoroutines)
}
