package gateway

import (
	"context"
	"strings"
	"sync"

	"stayledger/internal/domain"

	"github.com/google/uuid"
)

// Sandbox payment keys with these prefixes simulate gateway failures.
const (
	SandboxDeclinePrefix     = "decline_"
	SandboxUnavailablePrefix = "down_"
	SandboxTimeoutPrefix     = "timeout_"
)

// Sandbox approves every payment locally. It is only constructed when
// gateway.mode is explicitly "sandbox".
type Sandbox struct {
	mu       sync.Mutex
	canceled map[string]int64
}

var _ domain.PaymentGateway = (*Sandbox)(nil)

func NewSandbox() *Sandbox {
	return &Sandbox{canceled: make(map[string]int64)}
}

func sandboxFailure(paymentKey string) error {
	switch {
	case strings.HasPrefix(paymentKey, SandboxDeclinePrefix):
		return &domain.GatewayError{Outcome: domain.OutcomeDeclined, StatusCode: 400, Code: "REJECT_CARD_PAYMENT", Message: "sandbox decline"}
	case strings.HasPrefix(paymentKey, SandboxUnavailablePrefix):
		return &domain.GatewayError{Outcome: domain.OutcomeUnavailable, StatusCode: 503, Message: "sandbox outage"}
	case strings.HasPrefix(paymentKey, SandboxTimeoutPrefix):
		return &domain.GatewayError{Outcome: domain.OutcomeAmbiguous, Message: "sandbox timeout", Err: context.DeadlineExceeded}
	}
	return nil
}

func (s *Sandbox) Confirm(ctx context.Context, req domain.ConfirmRequest) (*domain.ConfirmResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.GatewayError{Outcome: domain.OutcomeAmbiguous, Err: err}
	}
	if err := sandboxFailure(req.PaymentKey); err != nil {
		return nil, err
	}
	return &domain.ConfirmResult{
		PaymentKey:     req.PaymentKey,
		Method:         "CARD",
		TransactionKey: "sandbox-" + uuid.NewString(),
		Status:         "DONE",
	}, nil
}

func (s *Sandbox) Cancel(ctx context.Context, paymentKey string, req domain.CancelRequest) (*domain.CancelResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.GatewayError{Outcome: domain.OutcomeAmbiguous, Err: err}
	}
	if err := sandboxFailure(paymentKey); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.canceled[paymentKey] += req.CancelAmount
	s.mu.Unlock()
	return &domain.CancelResult{
		TransactionKey: "sandbox-" + uuid.NewString(),
		CanceledAmount: req.CancelAmount,
		Status:         "CANCELED",
	}, nil
}

// Canceled returns the total cancelled against paymentKey.
func (s *Sandbox) Canceled(paymentKey string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled[paymentKey]
}
