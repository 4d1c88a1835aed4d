package models

import "time"

type NotificationType string

const (
	NotifyBookingRequested NotificationType = "BOOKING_REQUESTED"
	NotifyBookingConfirmed NotificationType = "BOOKING_CONFIRMED"
	NotifyBookingRejected  NotificationType = "BOOKING_REJECTED"
	NotifyBookingCancelled NotificationType = "BOOKING_CANCELLED"
	NotifyPaymentReceived  NotificationType = "PAYMENT_RECEIVED"
	NotifyRefundIssued     NotificationType = "REFUND_ISSUED"
	NotifyCreditsEarned    NotificationType = "CREDITS_EARNED"
)

// Notification is the fire-and-forget message handed to the notification sink.
type Notification struct {
	UserID  int64            `json:"user_id"`
	Type    NotificationType `json:"type"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Link    string           `json:"link,omitempty"`
}

const (
	TaskStatusPending   = "pending"
	TaskStatusRetry     = "retry"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// NotificationTask is a persisted delivery attempt in notification_queue.
type NotificationTask struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}

// CheckoutSession is the short-lived state the checkout page needs between
// booking creation and the gateway redirect.
type CheckoutSession struct {
	OrderID   string    `json:"order_id"`
	BookingID int64     `json:"booking_id"`
	GuestID   int64     `json:"guest_id"`
	Amount    int64     `json:"amount"`
	OrderName string    `json:"order_name"`
	ExpiresAt time.Time `json:"expires_at"`
}
