package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stayledger/internal/domain"
	"stayledger/internal/events"
	"stayledger/internal/gateway"
	"stayledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.property(t, true)

	res := f.book(t, p.ID, "2030-06-10", "2030-06-12")
	assert.Equal(t, int64(220000), res.TotalAmount)
	assert.NotEmpty(t, res.PaymentOrderID)
	require.NotNil(t, res.Price)
	assert.Equal(t, int64(200000), res.Price.AccommodationTotal)
	assert.Equal(t, int64(20000), res.Price.ServiceFee)

	b, pay := f.load(t, res.BookingID)
	assert.Equal(t, models.BookingPending, b.Status)
	assert.Equal(t, models.PaymentReady, pay.Status)
	assert.Equal(t, b.TotalAmount, pay.Amount)
	assert.Equal(t, res.PaymentOrderID, pay.OrderID)

	session, err := f.state.GetCheckoutSession(ctx, res.PaymentOrderID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, res.BookingID, session.BookingID)

	t.Run("SameRangeIsNowUnavailable", func(t *testing.T) {
		avail, err := f.avail.Check(ctx, AvailabilityRequest{p.ID, date("2030-06-10"), date("2030-06-12"), 2})
		require.NoError(t, err)
		assert.False(t, avail.Available)
		assert.Equal(t, ReasonAlreadyBooked, avail.Reason)
		assert.Equal(t, []string{"2030-06-10", "2030-06-11"}, avail.Dates)
	})

	t.Run("OverlapIsConflict", func(t *testing.T) {
		_, err := f.bookings.CreateBooking(ctx, 201, CreateBookingRequest{
			PropertyID: p.ID, CheckIn: date("2030-06-11"), CheckOut: date("2030-06-13"), Guests: 1,
		})
		assertKind(t, err, domain.KindConflict)
		var de *domain.Error
		require.True(t, errors.As(err, &de))
		assert.Equal(t, ReasonAlreadyBooked, de.Reason)
		assert.Equal(t, []string{"2030-06-11"}, de.Dates)
	})

	t.Run("PastDateIsValidation", func(t *testing.T) {
		_, err := f.bookings.CreateBooking(ctx, guestID, CreateBookingRequest{
			PropertyID: p.ID, CheckIn: date("2030-05-20"), CheckOut: date("2030-05-22"), Guests: 1,
		})
		assertKind(t, err, domain.KindValidation)
	})

	assert.Contains(t, f.published(), events.EventBookingCreated)
}

func TestCreateBooking_IdempotentOrderID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.property(t, true)

	req := CreateBookingRequest{
		PropertyID: p.ID, CheckIn: date("2030-06-10"), CheckOut: date("2030-06-12"), Guests: 2, OrderID: "order-abc",
	}
	first, err := f.bookings.CreateBooking(ctx, guestID, req)
	require.NoError(t, err)
	second, err := f.bookings.CreateBooking(ctx, guestID, req)
	require.NoError(t, err)
	assert.Equal(t, first.BookingID, second.BookingID)
	assert.Equal(t, "order-abc", second.PaymentOrderID)

	req.CheckOut = date("2030-06-13")
	_, err = f.bookings.CreateBooking(ctx, guestID, req)
	assertKind(t, err, domain.KindConflict)
}

func TestCreateBooking_RateLimited(t *testing.T) {
	f := newFixtureWith(t, nil, BookingConfig{CreateRateLimit: 1, CreateRateWindow: time.Minute})
	p := f.property(t, true)

	f.book(t, p.ID, "2030-06-10", "2030-06-12")
	_, err := f.bookings.CreateBooking(context.Background(), guestID, CreateBookingRequest{
		PropertyID: p.ID, CheckIn: date("2030-06-20"), CheckOut: date("2030-06-22"), Guests: 1,
	})
	assertKind(t, err, domain.KindRateLimited)
}

func TestCreateBooking_Concurrent(t *testing.T) {
	f := newFixtureWith(t, nil, BookingConfig{CreateRateLimit: 100})
	p := f.property(t, true)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every range covers the night of 2030-06-12
			checkIn := date("2030-06-10").AddDate(0, 0, i%3)
			_, err := f.bookings.CreateBooking(context.Background(), int64(300+i), CreateBookingRequest{
				PropertyID: p.ID, CheckIn: checkIn, CheckOut: date("2030-06-13"), Guests: 1,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.Equal(t, domain.KindConflict, domain.KindOf(err), "err = %v", err)
	}
	assert.Equal(t, 1, ok)
}

func TestApprove(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.property(t, false)
	res := f.book(t, p.ID, "2030-06-10", "2030-06-12")

	_, err := f.bookings.Approve(ctx, guestID, res.BookingID)
	assertKind(t, err, domain.KindForbidden)

	b, err := f.bookings.Approve(ctx, hostID, res.BookingID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, b.Status)
	assert.NotNil(t, b.ConfirmedAt)

	_, err = f.bookings.Approve(ctx, hostID, res.BookingID)
	assertKind(t, err, domain.KindConflict)

	_, err = f.bookings.Approve(ctx, hostID, 999)
	assertKind(t, err, domain.KindNotFound)
}

func TestReject_RefundsCapturedPayment(t *testing.T) {
	sandbox := gateway.NewSandbox()
	f := newFixture(t, sandbox)
	ctx := context.Background()
	p := f.property(t, false)

	res := f.book(t, p.ID, "2030-06-10", "2030-06-12")
	paid := f.pay(t, res, "pk_reject")
	assert.Equal(t, models.BookingPending, paid.BookingStatus, "host approval is still required")

	_, err := f.bookings.Reject(ctx, hostID, res.BookingID, "too short")
	assertKind(t, err, domain.KindValidation)

	_, err = f.bookings.Reject(ctx, guestID, res.BookingID, "not available that week")
	assertKind(t, err, domain.KindForbidden)

	b, err := f.bookings.Reject(ctx, hostID, res.BookingID, "  not available that week  ")
	require.NoError(t, err)
	assert.Equal(t, models.BookingRejected, b.Status)
	require.NotNil(t, b.RejectionReason)
	assert.Equal(t, "not available that week", *b.RejectionReason)

	b, pay := f.load(t, res.BookingID)
	assert.Equal(t, models.BookingRejected, b.Status)
	assert.Equal(t, models.PaymentCancelled, pay.Status)
	assert.Equal(t, b.TotalAmount, pay.RefundAmount)
	assert.Equal(t, int64(220000), sandbox.Canceled("pk_reject"))

	txns := f.ledger(t, pay.ID)
	require.Len(t, txns, 2)
	assert.Equal(t, models.TransactionPayment, txns[0].Type)
	assert.Equal(t, models.TransactionRefund, txns[1].Type)
	assert.Equal(t, models.TransactionSuccess, txns[1].Status)
	assert.Equal(t, int64(220000), txns[1].Amount)

	assert.Contains(t, f.published(), events.EventBookingRejected)
	assert.Contains(t, f.published(), events.EventPaymentRefunded)
}

func TestReject_UnpaidBooking(t *testing.T) {
	f := newFixture(t, nil)
	p := f.property(t, false)
	res := f.book(t, p.ID, "2030-06-10", "2030-06-12")

	_, err := f.bookings.Reject(context.Background(), hostID, res.BookingID, "renovation in progress")
	require.NoError(t, err)

	b, pay := f.load(t, res.BookingID)
	assert.Equal(t, models.BookingRejected, b.Status)
	assert.Equal(t, models.PaymentCancelled, pay.Status)
	assert.Zero(t, pay.RefundAmount)
	assert.Empty(t, f.ledger(t, pay.ID))
}

func TestReject_RefundFailureChangesNothing(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Confirm", mock.Anything, mock.Anything).
		Return(&domain.ConfirmResult{PaymentKey: "pk_1", Method: "CARD", TransactionKey: "tx_1", Status: "DONE"}, nil)
	gw.On("Cancel", mock.Anything, "pk_1", mock.Anything).
		Return(nil, &domain.GatewayError{Outcome: domain.OutcomeUnavailable, StatusCode: 503})

	f := newFixture(t, gw)
	p := f.property(t, false)
	res := f.book(t, p.ID, "2030-06-10", "2030-06-12")
	f.pay(t, res, "pk_1")

	_, err := f.bookings.Reject(context.Background(), hostID, res.BookingID, "double booked elsewhere")
	assertKind(t, err, domain.KindGateway)

	b, pay := f.load(t, res.BookingID)
	assert.Equal(t, models.BookingPending, b.Status)
	assert.Equal(t, models.PaymentDone, pay.Status)
	assert.Zero(t, pay.RefundAmount)

	txns := f.ledger(t, pay.ID)
	require.Len(t, txns, 2)
	assert.Equal(t, models.TransactionRefund, txns[1].Type)
	assert.Equal(t, models.TransactionFailed, txns[1].Status)
	gw.AssertExpectations(t)
}

func TestCancel_GuestHalfRefund(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.property(t, true)
	res := f.book(t, p.ID, "2030-06-10", "2030-06-12")
	f.pay(t, res, "pk_half")

	// five days before check-in
	f.setNow(time.Date(2030, 6, 5, 0, 0, 0, 0, time.UTC))

	_, err := f.bookings.Cancel(ctx, guestID, res.BookingID, "   ")
	assertKind(t, err, domain.KindValidation)
	_, err = f.bookings.Cancel(ctx, 999, res.BookingID, "plans changed")
	assertKind(t, err, domain.KindForbidden)

	out, err := f.bookings.Cancel(ctx, guestID, res.BookingID, "plans changed")
	require.NoError(t, err)
	assert.Equal(t, 0.5, out.RefundRate)
	assert.Equal(t, int64(110000), out.RefundAmount)
	assert.Equal(t, "50% refund", out.RefundPolicyDescription)

	b, pay := f.load(t, res.BookingID)
	assert.Equal(t, models.BookingCancelled, b.Status)
	assert.Equal(t, models.PaymentDone, pay.Status, "partial refunds keep the payment captured")
	assert.Equal(t, int64(110000), pay.RefundAmount)
	assert.Equal(t, pay.Amount, pay.RefundAmount+pay.Refundable())

	_, err = f.bookings.Cancel(ctx, guestID, res.BookingID, "again")
	assertKind(t, err, domain.KindConflict)
}

func TestCancel_HostFullRefund(t *testing.T) {
	f := newFixture(t, nil)
	p := f.property(t, true)
	res := f.book(t, p.ID, "2030-06-10", "2030-06-12")
	f.pay(t, res, "pk_host")
	f.setNow(time.Date(2030, 6, 9, 12, 0, 0, 0, time.UTC))

	out, err := f.bookings.Cancel(context.Background(), hostID, res.BookingID, "pipe burst")
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.RefundRate)
	assert.Equal(t, res.TotalAmount, out.RefundAmount)

	b, pay := f.load(t, res.BookingID)
	assert.Equal(t, models.BookingCancelled, b.Status)
	assert.Equal(t, models.PaymentCancelled, pay.Status)
	assert.Equal(t, pay.Amount, pay.RefundAmount)
}

func TestCancel_UnpaidPending(t *testing.T) {
	f := newFixture(t, nil)
	p := f.property(t, true)
	res := f.book(t, p.ID, "2030-06-10", "2030-06-12")

	out, err := f.bookings.Cancel(context.Background(), guestID, res.BookingID, "found another place")
	require.NoError(t, err)
	assert.Zero(t, out.RefundAmount)
	assert.Equal(t, 1.0, out.RefundRate)

	b, pay := f.load(t, res.BookingID)
	assert.Equal(t, models.BookingCancelled, b.Status)
	assert.Equal(t, models.PaymentCancelled, pay.Status)

	// the nights are free again
	f.book(t, p.ID, "2030-06-10", "2030-06-12")
}

func TestCompleteAndNoShow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.property(t, true)

	stay := f.book(t, p.ID, "2030-06-10", "2030-06-12")
	f.pay(t, stay, "pk_stay")
	missed := f.book(t, p.ID, "2030-06-20", "2030-06-22")
	f.pay(t, missed, "pk_missed")

	_, err := f.bookings.Complete(ctx, hostID, stay.BookingID)
	assertKind(t, err, domain.KindValidation)
	_, err = f.bookings.MarkNoShow(ctx, hostID, missed.BookingID)
	assertKind(t, err, domain.KindValidation)
	_, err = f.bookings.Complete(ctx, guestID, stay.BookingID)
	assertKind(t, err, domain.KindForbidden)

	f.setNow(time.Date(2030, 6, 20, 9, 0, 0, 0, time.UTC))

	b, err := f.bookings.MarkNoShow(ctx, hostID, missed.BookingID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingNoShow, b.Status)

	n, err := f.bookings.CompleteFinishedStays(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, _ = f.load(t, stay.BookingID)
	assert.Equal(t, models.BookingCompleted, b.Status)
	assert.NotNil(t, b.CompletedAt)

	n, err = f.bookings.CompleteFinishedStays(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetBooking(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.property(t, true)
	res := f.book(t, p.ID, "2030-06-10", "2030-06-12")

	for _, actor := range []int64{guestID, hostID, adminID} {
		d, err := f.bookings.GetBooking(ctx, actor, res.BookingID)
		require.NoError(t, err)
		assert.Equal(t, res.PaymentOrderID, d.Payment.OrderID)
	}

	_, err := f.bookings.GetBooking(ctx, 12345, res.BookingID)
	assertKind(t, err, domain.KindForbidden)
}

func TestExpireAbandonedCheckouts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	// rows are stamped with the wall clock, so the service clock follows it here
	start := time.Now().UTC()
	f.setNow(start)
	p := f.property(t, true)

	abandoned := f.book(t, p.ID, "2030-06-10", "2030-06-12")
	paid := f.book(t, p.ID, "2030-06-20", "2030-06-22")
	f.pay(t, paid, "pk_paid")

	f.setNow(start.Add(31 * time.Minute))
	fresh := f.book(t, p.ID, "2030-07-01", "2030-07-03")

	n, err := f.bookings.ExpireAbandonedCheckouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, pay := f.load(t, abandoned.BookingID)
	assert.Equal(t, models.BookingCancelled, b.Status)
	require.NotNil(t, b.CancellationReason)
	assert.Equal(t, CheckoutExpiredReason, *b.CancellationReason)
	assert.Equal(t, models.PaymentCancelled, pay.Status)
	assert.Zero(t, pay.RefundAmount)
	assert.Contains(t, f.published(), events.EventBookingCancelled)

	b, _ = f.load(t, paid.BookingID)
	assert.Equal(t, models.BookingConfirmed, b.Status)
	b, _ = f.load(t, fresh.BookingID)
	assert.Equal(t, models.BookingPending, b.Status)

	_, err = f.payments.Confirm(ctx, guestID, ConfirmPaymentRequest{
		PaymentKey: "pk_late", OrderID: abandoned.PaymentOrderID, Amount: abandoned.TotalAmount,
	})
	assertKind(t, err, domain.KindConflict)

	// the nights are free again
	f.book(t, p.ID, "2030-06-10", "2030-06-12")

	n, err = f.bookings.ExpireAbandonedCheckouts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConfirm_ExpiredCheckout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	start := time.Now().UTC()
	f.setNow(start)
	p := f.property(t, true)
	confirm := func(res *CreateBookingResult, key string) error {
		_, err := f.payments.Confirm(ctx, guestID, ConfirmPaymentRequest{
			PaymentKey: key, OrderID: res.PaymentOrderID, Amount: res.TotalAmount,
		})
		return err
	}

	t.Run("SessionExpired", func(t *testing.T) {
		res := f.book(t, p.ID, "2030-06-10", "2030-06-12")
		f.setNow(start.Add(31 * time.Minute))
		defer f.setNow(start)

		assertKind(t, confirm(res, "pk_expired"), domain.KindConflict)
		_, pay := f.load(t, res.BookingID)
		assert.Equal(t, models.PaymentReady, pay.Status)
		assert.Empty(t, f.ledger(t, pay.ID))
	})

	t.Run("NoSessionWithinDeadline", func(t *testing.T) {
		res := f.book(t, p.ID, "2030-07-10", "2030-07-12")
		require.NoError(t, f.state.ClearCheckoutSession(ctx, res.PaymentOrderID))
		f.setNow(start.Add(10 * time.Minute))
		defer f.setNow(start)

		require.NoError(t, confirm(res, "pk_in_time"))
		b, _ := f.load(t, res.BookingID)
		assert.Equal(t, models.BookingConfirmed, b.Status)
	})

	t.Run("NoSessionPastDeadline", func(t *testing.T) {
		res := f.book(t, p.ID, "2030-08-10", "2030-08-12")
		require.NoError(t, f.state.ClearCheckoutSession(ctx, res.PaymentOrderID))
		f.setNow(start.Add(31 * time.Minute))
		defer f.setNow(start)

		assertKind(t, confirm(res, "pk_no_session"), domain.KindConflict)
	})
}
