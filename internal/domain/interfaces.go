package domain

import (
	"context"
	"time"

	"stayledger/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Queries is the set of storage operations available both on the database
// handle and inside a transaction.
type Queries interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	AddUserCredits(ctx context.Context, userID, amount int64) error
	AppendCreditHistory(ctx context.Context, entry *models.CreditHistory) error
	ListCreditHistory(ctx context.Context, userID int64) ([]*models.CreditHistory, error)

	GetProperty(ctx context.Context, id int64) (*models.Property, error)
	UpsertProperty(ctx context.Context, property *models.Property) error
	UpsertCalendarDay(ctx context.Context, day *models.CalendarDay) error
	GetCalendarDays(ctx context.Context, propertyID int64, from, to time.Time) ([]models.CalendarDay, error)

	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	UpdateBookingWithVersion(ctx context.Context, booking *models.Booking) error
	FindOverlappingBookings(ctx context.Context, propertyID int64, checkIn, checkOut time.Time, statuses []models.BookingStatus, excludeID int64) ([]*models.Booking, error)
	ListBookingsEndingBefore(ctx context.Context, status models.BookingStatus, day time.Time, limit int) ([]*models.Booking, error)
	ListAbandonedCheckouts(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id int64) (*models.Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	GetPaymentByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error)
	UpdatePaymentWithVersion(ctx context.Context, payment *models.Payment) error

	AppendTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	ListTransactions(ctx context.Context, paymentID int64) ([]*models.PaymentTransaction, error)
	ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]*models.PaymentTransaction, error)
	ListLedgerSummaries(ctx context.Context) ([]*models.LedgerSummary, error)

	CreateReview(ctx context.Context, review *models.Review) error
	GetReviewByBookingID(ctx context.Context, bookingID int64) (*models.Review, error)

	CreateCase(ctx context.Context, c *models.ReconciliationCase) error
	GetCase(ctx context.Context, id int64) (*models.ReconciliationCase, error)
	ListCases(ctx context.Context, status models.CaseStatus) ([]*models.ReconciliationCase, error)
	ResolveCase(ctx context.Context, id int64, resolution string) error
	ResolveCasesForPayment(ctx context.Context, paymentID int64, resolution string) (int64, error)
}

// Store is the relational store. WithinTx runs fn in one write transaction
// that takes the database write lock up front and retries on lock contention.
type Store interface {
	Queries
	WithinTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}

// StateRepository keeps ephemeral shared state with TTL outside process memory.
type StateRepository interface {
	GetCheckoutSession(ctx context.Context, orderID string) (*models.CheckoutSession, error)
	SetCheckoutSession(ctx context.Context, session *models.CheckoutSession) error
	ClearCheckoutSession(ctx context.Context, orderID string) error
	CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error)
	// AcquireLock returns false when another holder owns key.
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier is the fire-and-forget notification sink.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// NotificationQueue accepts notifications for asynchronous delivery.
type NotificationQueue interface {
	Enqueue(ctx context.Context, n models.Notification) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// PaymentGateway is the external payment processor.
type PaymentGateway interface {
	Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error)
	Cancel(ctx context.Context, paymentKey string, req CancelRequest) (*CancelResult, error)
}
