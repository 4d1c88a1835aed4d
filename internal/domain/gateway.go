package domain

import (
	"errors"
	"fmt"
)

type ConfirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type ConfirmResult struct {
	PaymentKey     string `json:"paymentKey"`
	Method         string `json:"method"`
	TransactionKey string `json:"transactionKey"`
	Status         string `json:"status"`
}

type CancelRequest struct {
	CancelAmount int64  `json:"cancelAmount"`
	CancelReason string `json:"cancelReason"`
	// IdempotencyKey makes a retried cancel safe on the gateway side.
	IdempotencyKey string `json:"-"`
}

type CancelResult struct {
	TransactionKey string `json:"transactionKey"`
	CanceledAmount int64  `json:"canceledAmount"`
	Status         string `json:"status"`
}

// GatewayOutcome classifies a failed gateway call.
type GatewayOutcome string

const (
	// OutcomeDeclined: the gateway answered and definitively refused (4xx).
	OutcomeDeclined GatewayOutcome = "declined"
	// OutcomeUnavailable: the gateway was unreachable or failed (5xx); nothing happened.
	OutcomeUnavailable GatewayOutcome = "unavailable"
	// OutcomeAmbiguous: the request may or may not have been applied (timeout, cut connection).
	OutcomeAmbiguous GatewayOutcome = "ambiguous"
)

// GatewayError is returned by PaymentGateway implementations.
type GatewayError struct {
	Outcome    GatewayOutcome
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %s", e.Outcome)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

// GatewayOutcomeOf classifies err; anything that is not a GatewayError is ambiguous.
func GatewayOutcomeOf(err error) GatewayOutcome {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Outcome
	}
	return OutcomeAmbiguous
}
