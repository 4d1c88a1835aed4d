package models

import "time"

type PaymentStatus string

const (
	PaymentReady     PaymentStatus = "READY"
	PaymentDone      PaymentStatus = "DONE"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentFailed    PaymentStatus = "FAILED"
)

type Payment struct {
	ID           int64         `json:"id"`
	BookingID    int64         `json:"booking_id"`
	GuestID      int64         `json:"guest_id"`
	OrderID      string        `json:"order_id"`
	Amount       int64         `json:"amount"`
	Status       PaymentStatus `json:"status"`
	PaymentKey   *string       `json:"payment_key,omitempty"`
	Method       *string       `json:"method,omitempty"`
	RefundAmount int64         `json:"refund_amount"`
	ApprovedAt   *time.Time    `json:"approved_at,omitempty"`
	CancelledAt  *time.Time    `json:"cancelled_at,omitempty"`
	RefundedAt   *time.Time    `json:"refunded_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Version      int64         `json:"version"`
}

// Refundable is the remaining refund entitlement: Amount - RefundAmount.
func (p *Payment) Refundable() int64 {
	if p.Status != PaymentDone {
		return 0
	}
	left := p.Amount - p.RefundAmount
	if left < 0 {
		return 0
	}
	return left
}

func (p *Payment) FullyRefunded() bool {
	return p.RefundAmount >= p.Amount
}

type TransactionType string

const (
	TransactionPayment TransactionType = "PAYMENT"
	TransactionRefund  TransactionType = "REFUND"
)

type TransactionStatus string

const (
	TransactionSuccess TransactionStatus = "SUCCESS"
	TransactionFailed  TransactionStatus = "FAILED"
)

// PaymentTransaction is an append-only ledger row for one money-movement attempt.
type PaymentTransaction struct {
	ID         int64             `json:"id"`
	PaymentID  int64             `json:"payment_id"`
	Type       TransactionType   `json:"type"`
	Amount     int64             `json:"amount"`
	Status     TransactionStatus `json:"status"`
	ExternalID *string           `json:"external_id,omitempty"`
	Method     *string           `json:"method,omitempty"`
	Metadata   string            `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// LedgerSummary aggregates the SUCCESS ledger rows of one payment.
type LedgerSummary struct {
	Payment        *Payment
	PaidTotal      int64
	RefundedTotal  int64
	LastPaymentKey *string
	LastMethod     *string
	LastPaidAt     *time.Time
	LastRefundedAt *time.Time
}
