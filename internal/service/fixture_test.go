package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stayledger/internal/database"
	"stayledger/internal/domain"
	"stayledger/internal/events"
	"stayledger/internal/gateway"
	"stayledger/internal/models"
	"stayledger/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	hostID  int64 = 100
	guestID int64 = 200
	adminID int64 = 900
)

func date(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	db         *database.DB
	state      *repository.MemoryStateRepository
	bus        *events.EventBus
	gateway    domain.PaymentGateway
	payments   *PaymentService
	bookings   *BookingService
	avail      *AvailabilityService
	reconciler *Reconciler
	reviews    *ReviewService

	mu     sync.Mutex
	now    time.Time
	events []string
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) setNow(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *fixture) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func isAdmin(id int64) bool { return id == adminID }

func newFixture(t *testing.T, gw domain.PaymentGateway) *fixture {
	t.Helper()
	return newFixtureWith(t, gw, BookingConfig{})
}

func newFixtureWith(t *testing.T, gw domain.PaymentGateway, bcfg BookingConfig) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "service.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if gw == nil {
		gw = gateway.NewSandbox()
	}
	f := &fixture{
		db:      db,
		state:   repository.NewMemoryStateRepository(time.Minute),
		bus:     events.NewEventBus(),
		gateway: gw,
		now:     time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	f.bus.Subscribe(events.AllEvents, func(e *events.Event) error {
		f.mu.Lock()
		f.events = append(f.events, e.Type)
		f.mu.Unlock()
		return nil
	})

	bcfg.IsAdmin = isAdmin
	f.payments = NewPaymentService(db, gw, f.state, f.bus, PaymentConfig{GatewayTimeout: time.Second, IsAdmin: isAdmin}, &logger)
	f.bookings = NewBookingService(db, f.state, f.payments, f.bus, bcfg, &logger)
	f.avail = NewAvailabilityService(db, &logger)
	f.reconciler = NewReconciler(db, isAdmin, &logger)
	f.reviews = NewReviewService(db, f.bus, 0, &logger)

	f.payments.now = f.clock
	f.bookings.now = f.clock
	f.avail.now = f.clock
	f.reconciler.now = f.clock
	return f
}

func (f *fixture) property(t *testing.T, instant bool) *models.Property {
	t.Helper()
	p := &models.Property{
		HostID:        hostID,
		Title:         "Seaside flat",
		PricePerNight: 100000,
		MinNights:     1,
		MaxNights:     14,
		MaxGuests:     4,
		Status:        models.PropertyApproved,
		InstantBook:   instant,
	}
	require.NoError(t, f.db.UpsertProperty(context.Background(), p))
	return p
}

func (f *fixture) book(t *testing.T, propertyID int64, checkIn, checkOut string) *CreateBookingResult {
	t.Helper()
	res, err := f.bookings.CreateBooking(context.Background(), guestID, CreateBookingRequest{
		PropertyID: propertyID,
		CheckIn:    date(checkIn),
		CheckOut:   date(checkOut),
		Guests:     2,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) pay(t *testing.T, res *CreateBookingResult, paymentKey string) *ConfirmPaymentResult {
	t.Helper()
	out, err := f.payments.Confirm(context.Background(), guestID, ConfirmPaymentRequest{
		PaymentKey: paymentKey,
		OrderID:    res.PaymentOrderID,
		Amount:     res.TotalAmount,
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) load(t *testing.T, bookingID int64) (*models.Booking, *models.Payment) {
	t.Helper()
	b, err := f.db.GetBooking(context.Background(), bookingID)
	require.NoError(t, err)
	p, err := f.db.GetPaymentByBookingID(context.Background(), bookingID)
	require.NoError(t, err)
	return b, p
}

func (f *fixture) ledger(t *testing.T, paymentID int64) []*models.PaymentTransaction {
	t.Helper()
	txns, err := f.db.ListTransactions(context.Background(), paymentID)
	require.NoError(t, err)
	return txns
}

func assertKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, domain.KindOf(err), "err = %v", err)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Confirm(ctx context.Context, req domain.ConfirmRequest) (*domain.ConfirmResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConfirmResult), args.Error(1)
}

func (m *mockGateway) Cancel(ctx context.Context, paymentKey string, req domain.CancelRequest) (*domain.CancelResult, error) {
	args := m.Called(ctx, paymentKey, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CancelResult), args.Error(1)
}

// afterRefundStore runs hook once a successful refund row has reached the
// ledger, before the caller commits the payment.
type afterRefundStore struct {
	*database.DB
	hook func()
}

func (s *afterRefundStore) AppendTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	if err := s.DB.AppendTransaction(ctx, txn); err != nil {
		return err
	}
	if txn.Type == models.TransactionRefund && txn.Status == models.TransactionSuccess && s.hook != nil {
		s.hook()
	}
	return nil
}

// reconcileMidRefund makes every refund race a reconciler pass between the
// ledger write and the local commit.
func (f *fixture) reconcileMidRefund(t *testing.T) {
	t.Helper()
	f.payments.store = &afterRefundStore{DB: f.db, hook: func() {
		_, err := f.reconciler.Run(context.Background())
		require.NoError(t, err)
	}}
}

func (f *fixture) refundedInLedger(t *testing.T, paymentID int64) int64 {
	t.Helper()
	var total int64
	for _, txn := range f.ledger(t, paymentID) {
		if txn.Type == models.TransactionRefund && txn.Status == models.TransactionSuccess {
			total += txn.Amount
		}
	}
	return total
}
