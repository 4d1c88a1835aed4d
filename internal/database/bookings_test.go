package database

import (
	"context"
	"testing"
	"time"

	"stayledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOverlappingBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedProperty(t, db)

	b1, _ := seedBooking(t, db, p.ID, "2030-06-01", "2030-06-03")
	b2, _ := seedBooking(t, db, p.ID, "2030-06-05", "2030-06-08")

	tests := []struct {
		name     string
		checkIn  string
		checkOut string
		want     []int64
	}{
		{"inside first", "2030-06-02", "2030-06-03", []int64{b1.ID}},
		{"spans both", "2030-06-02", "2030-06-06", []int64{b1.ID, b2.ID}},
		{"back-to-back after first", "2030-06-03", "2030-06-05", nil},
		{"back-to-back before first", "2030-05-28", "2030-06-01", nil},
		{"after everything", "2030-06-08", "2030-06-10", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.FindOverlappingBookings(ctx, p.ID, date(tt.checkIn), date(tt.checkOut), nil, 0)
			require.NoError(t, err)
			var ids []int64
			for _, b := range got {
				ids = append(ids, b.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	t.Run("ExcludeSelf", func(t *testing.T) {
		got, err := db.FindOverlappingBookings(ctx, p.ID, b1.CheckIn, b1.CheckOut, nil, b1.ID)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("StatusFilter", func(t *testing.T) {
		got, err := db.FindOverlappingBookings(ctx, p.ID, date("2030-06-01"), date("2030-06-10"), []models.BookingStatus{models.BookingConfirmed}, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestCreateBooking_OverlapTrigger(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedProperty(t, db)
	seedBooking(t, db, p.ID, "2030-07-01", "2030-07-03")

	overlapping := &models.Booking{
		PropertyID: p.ID, GuestID: 7, CheckIn: date("2030-07-02"), CheckOut: date("2030-07-04"),
		Guests: 1, TotalAmount: 1, Status: models.BookingPending,
	}
	err := db.CreateBooking(ctx, overlapping)
	assert.ErrorIs(t, err, ErrOverlap)

	backToBack := &models.Booking{
		PropertyID: p.ID, GuestID: 7, CheckIn: date("2030-07-03"), CheckOut: date("2030-07-04"),
		Guests: 1, TotalAmount: 1, Status: models.BookingPending,
	}
	assert.NoError(t, db.CreateBooking(ctx, backToBack))
}

func TestCreateBooking_CancelledFreesDates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedProperty(t, db)
	b, _ := seedBooking(t, db, p.ID, "2030-08-01", "2030-08-03")

	b.Status = models.BookingCancelled
	require.NoError(t, db.UpdateBookingWithVersion(ctx, b))

	again := &models.Booking{
		PropertyID: p.ID, GuestID: 8, CheckIn: date("2030-08-01"), CheckOut: date("2030-08-03"),
		Guests: 1, TotalAmount: 1, Status: models.BookingPending,
	}
	assert.NoError(t, db.CreateBooking(ctx, again))
}

func TestUpdateBookingWithVersion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedProperty(t, db)
	b, _ := seedBooking(t, db, p.ID, "2030-09-01", "2030-09-03")

	stale := *b

	b.Status = models.BookingConfirmed
	now := nowUTC()
	b.ConfirmedAt = &now
	require.NoError(t, db.UpdateBookingWithVersion(ctx, b))
	assert.Equal(t, int64(2), b.Version)

	stale.Status = models.BookingCancelled
	err := db.UpdateBookingWithVersion(ctx, &stale)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
}

func TestListBookingsEndingBefore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedProperty(t, db)

	done, _ := seedBooking(t, db, p.ID, "2030-10-01", "2030-10-03")
	future, _ := seedBooking(t, db, p.ID, "2030-10-05", "2030-10-09")
	for _, b := range []*models.Booking{done, future} {
		b.Status = models.BookingConfirmed
		require.NoError(t, db.UpdateBookingWithVersion(ctx, b))
	}

	got, err := db.ListBookingsEndingBefore(ctx, models.BookingConfirmed, date("2030-10-04"), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, done.ID, got[0].ID)
}

func TestListAbandonedCheckouts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedProperty(t, db)

	ready, _ := seedBooking(t, db, p.ID, "2030-10-01", "2030-10-03")
	failed, failedPay := seedBooking(t, db, p.ID, "2030-10-05", "2030-10-07")
	confirmed, _ := seedBooking(t, db, p.ID, "2030-10-09", "2030-10-11")

	failedPay.Status = models.PaymentFailed
	require.NoError(t, db.UpdatePaymentWithVersion(ctx, failedPay))
	confirmed.Status = models.BookingConfirmed
	require.NoError(t, db.UpdateBookingWithVersion(ctx, confirmed))

	got, err := db.ListAbandonedCheckouts(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	var ids []int64
	for _, b := range got {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []int64{ready.ID, failed.ID}, ids)

	got, err = db.ListAbandonedCheckouts(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = db.ListAbandonedCheckouts(ctx, time.Now().Add(time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ready.ID, got[0].ID)
}

func TestPayments(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedProperty(t, db)
	b, payment := seedBooking(t, db, p.ID, "2030-11-01", "2030-11-03")

	t.Run("Lookups", func(t *testing.T) {
		byOrder, err := db.GetPaymentByOrderID(ctx, payment.OrderID)
		require.NoError(t, err)
		assert.Equal(t, payment.ID, byOrder.ID)

		byBooking, err := db.GetPaymentByBookingID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, payment.ID, byBooking.ID)

		_, err = db.GetPaymentByOrderID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DuplicateOrderID", func(t *testing.T) {
		other, _ := seedBooking(t, db, p.ID, "2030-12-01", "2030-12-03")
		dup := &models.Payment{BookingID: other.ID, GuestID: 1, OrderID: payment.OrderID, Amount: 1, Status: models.PaymentReady}
		assert.ErrorIs(t, db.CreatePayment(ctx, dup), ErrDuplicate)
	})

	t.Run("RefundNeverExceedsAmount", func(t *testing.T) {
		fresh, err := db.GetPayment(ctx, payment.ID)
		require.NoError(t, err)
		fresh.RefundAmount = fresh.Amount + 1
		assert.Error(t, db.UpdatePaymentWithVersion(ctx, fresh))
	})

	t.Run("LedgerSummaries", func(t *testing.T) {
		key := "pk_123"
		method := "CARD"
		require.NoError(t, db.AppendTransaction(ctx, &models.PaymentTransaction{
			PaymentID: payment.ID, Type: models.TransactionPayment, Amount: 5, Status: models.TransactionFailed,
		}))
		require.NoError(t, db.AppendTransaction(ctx, &models.PaymentTransaction{
			PaymentID: payment.ID, Type: models.TransactionPayment, Amount: payment.Amount, Status: models.TransactionSuccess,
			ExternalID: &key, Method: &method,
		}))
		require.NoError(t, db.AppendTransaction(ctx, &models.PaymentTransaction{
			PaymentID: payment.ID, Type: models.TransactionRefund, Amount: 1000, Status: models.TransactionSuccess,
		}))

		summaries, err := db.ListLedgerSummaries(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		s := summaries[0]
		assert.Equal(t, payment.ID, s.Payment.ID)
		assert.Equal(t, payment.Amount, s.PaidTotal)
		assert.Equal(t, int64(1000), s.RefundedTotal)
		require.NotNil(t, s.LastPaymentKey)
		assert.Equal(t, key, *s.LastPaymentKey)
		assert.NotNil(t, s.LastPaidAt)
		assert.NotNil(t, s.LastRefundedAt)

		from := nowUTC().Add(-time.Hour)
		to := nowUTC().Add(time.Hour)
		rows, err := db.ListTransactionsBetween(ctx, from, to)
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})
}
