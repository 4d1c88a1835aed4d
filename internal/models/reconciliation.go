package models

import "time"

type CaseKind string

const (
	// CaseConfirmAmbiguous: gateway confirm timed out, outcome unknown.
	CaseConfirmAmbiguous CaseKind = "CONFIRM_AMBIGUOUS"
	// CaseRefundAmbiguous: gateway cancel timed out, outcome unknown.
	CaseRefundAmbiguous CaseKind = "REFUND_AMBIGUOUS"
	// CaseCommitFailed: gateway succeeded but the local state commit did not.
	CaseCommitFailed CaseKind = "COMMIT_FAILED"
)

type CaseStatus string

const (
	CaseOpen     CaseStatus = "OPEN"
	CaseResolved CaseStatus = "RESOLVED"
)

// ReconciliationCase flags a payment whose gateway outcome needs a human or the reconciler.
type ReconciliationCase struct {
	ID         int64      `json:"id"`
	PaymentID  int64      `json:"payment_id"`
	Kind       CaseKind   `json:"kind"`
	Amount     int64      `json:"amount"`
	Status     CaseStatus `json:"status"`
	Detail     string     `json:"detail"`
	Resolution *string    `json:"resolution,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
