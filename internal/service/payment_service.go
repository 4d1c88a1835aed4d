package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"stayledger/internal/domain"
	"stayledger/internal/events"
	"stayledger/internal/metrics"
	"stayledger/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type PaymentConfig struct {
	ConfirmLockTTL     time.Duration
	GatewayTimeout     time.Duration
	CheckoutSessionTTL time.Duration
	// IsAdmin grants access to other users' ledgers.
	IsAdmin func(userID int64) bool
}

// PaymentService talks to the gateway and keeps the payment row and the
// append-only ledger in step. Gateway calls never run inside a transaction.
type PaymentService struct {
	store   domain.Store
	gateway domain.PaymentGateway
	state   domain.StateRepository
	events  domain.EventPublisher
	cfg     PaymentConfig
	now     func() time.Time
	logger  *zerolog.Logger
}

func NewPaymentService(
	store domain.Store,
	gateway domain.PaymentGateway,
	state domain.StateRepository,
	eventBus domain.EventPublisher,
	cfg PaymentConfig,
	logger *zerolog.Logger,
) *PaymentService {
	if cfg.ConfirmLockTTL <= 0 {
		cfg.ConfirmLockTTL = models.DefaultConfirmLockTTL * time.Second
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = models.DefaultGatewayTimeout * time.Second
	}
	if cfg.CheckoutSessionTTL <= 0 {
		cfg.CheckoutSessionTTL = models.DefaultCheckoutSessionTTL * time.Second
	}
	if cfg.IsAdmin == nil {
		cfg.IsAdmin = func(int64) bool { return false }
	}
	l := logger.With().Str("component", "payments").Logger()
	return &PaymentService{
		store:   store,
		gateway: gateway,
		state:   state,
		events:  eventBus,
		cfg:     cfg,
		now:     time.Now,
		logger:  &l,
	}
}

type ConfirmPaymentRequest struct {
	PaymentKey string `json:"paymentKey" validate:"required"`
	OrderID    string `json:"orderId" validate:"required"`
	Amount     int64  `json:"amount" validate:"gt=0"`
}

type ConfirmPaymentResult struct {
	Success       bool                 `json:"success"`
	BookingID     int64                `json:"bookingId"`
	PaymentStatus models.PaymentStatus `json:"paymentStatus"`
	BookingStatus models.BookingStatus `json:"bookingStatus"`
}

func lockKey(orderID string) string { return "payment:" + orderID }

// Confirm captures a checkout through the gateway. A replay with the same
// payment key after success returns success without calling the gateway.
func (s *PaymentService) Confirm(ctx context.Context, guestID int64, req ConfirmPaymentRequest) (*ConfirmPaymentResult, error) {
	req.PaymentKey = strings.TrimSpace(req.PaymentKey)
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.PaymentKey == "" || req.OrderID == "" {
		return nil, domain.Validation("paymentKey and orderId are required")
	}
	if req.Amount <= 0 {
		return nil, domain.Validation("amount must be positive")
	}

	payment, err := s.store.GetPaymentByOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, mapStoreError(err, "payment")
	}
	if payment.GuestID != guestID {
		return nil, domain.Forbidden("payment belongs to another guest")
	}
	if res, ok := s.replay(ctx, payment, req); ok {
		return res, nil
	}
	if err := checkConfirmable(payment); err != nil {
		return nil, err
	}
	booking, err := s.store.GetBooking(ctx, payment.BookingID)
	if err != nil {
		return nil, mapStoreError(err, "booking")
	}
	if booking.Status != models.BookingPending && booking.Status != models.BookingConfirmed {
		return nil, domain.Conflict("booking is %s", booking.Status)
	}
	if booking.Status == models.BookingPending && s.checkoutExpired(ctx, payment) {
		return nil, domain.Conflict("checkout for order %s has expired, create a new booking", req.OrderID)
	}

	if req.Amount != payment.Amount {
		s.appendFailed(ctx, payment.ID, models.TransactionPayment, req.Amount, &req.PaymentKey, map[string]any{
			"reason":   "amount_mismatch",
			"expected": payment.Amount,
			"received": req.Amount,
			"order_id": req.OrderID,
		})
		s.logger.Warn().
			Str("order_id", req.OrderID).
			Int64("expected", payment.Amount).
			Int64("received", req.Amount).
			Msg("payment amount mismatch")
		return nil, domain.Validation("amount does not match the booking total")
	}

	owner := uuid.NewString()
	release, err := s.lock(ctx, req.OrderID, owner)
	if err != nil {
		return nil, err
	}
	defer release()

	// another request may have finished while we waited for the lock
	payment, err = s.store.GetPayment(ctx, payment.ID)
	if err != nil {
		return nil, mapStoreError(err, "payment")
	}
	if res, ok := s.replay(ctx, payment, req); ok {
		return res, nil
	}
	if err := checkConfirmable(payment); err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	result, gerr := s.gateway.Confirm(gctx, domain.ConfirmRequest{
		PaymentKey: req.PaymentKey,
		OrderID:    req.OrderID,
		Amount:     payment.Amount,
	})
	cancel()
	if gerr != nil {
		return nil, s.confirmFailed(ctx, payment, req, gerr)
	}
	return s.confirmSucceeded(ctx, payment, req, result)
}

// checkoutExpired reports whether the checkout deadline of p has passed. The
// session carries the deadline; without one it is CreatedAt plus the TTL.
// A state store error never blocks a payment.
func (s *PaymentService) checkoutExpired(ctx context.Context, p *models.Payment) bool {
	deadline := p.CreatedAt.Add(s.cfg.CheckoutSessionTTL)
	session, err := s.state.GetCheckoutSession(ctx, p.OrderID)
	if err != nil {
		s.logger.Warn().Err(err).Str("order_id", p.OrderID).Msg("read checkout session")
		return false
	}
	if session != nil {
		deadline = session.ExpiresAt
	}
	return s.now().After(deadline)
}

func checkConfirmable(p *models.Payment) error {
	if p.Status != models.PaymentReady && p.Status != models.PaymentFailed {
		return domain.Conflict("payment is %s", p.Status)
	}
	return nil
}

func (s *PaymentService) replay(ctx context.Context, p *models.Payment, req ConfirmPaymentRequest) (*ConfirmPaymentResult, bool) {
	if p.Status != models.PaymentDone || p.PaymentKey == nil || *p.PaymentKey != req.PaymentKey {
		return nil, false
	}
	res := &ConfirmPaymentResult{Success: true, BookingID: p.BookingID, PaymentStatus: p.Status}
	if b, err := s.store.GetBooking(ctx, p.BookingID); err == nil {
		res.BookingStatus = b.Status
	}
	return res, true
}

func (s *PaymentService) lock(ctx context.Context, orderID, owner string) (func(), error) {
	ok, err := s.state.AcquireLock(ctx, lockKey(orderID), owner, s.cfg.ConfirmLockTTL)
	if err != nil {
		return nil, domain.Internal(err, "acquire payment lock")
	}
	if !ok {
		return nil, domain.Conflict("payment %s is already being processed", orderID)
	}
	return func() {
		if err := s.state.ReleaseLock(context.WithoutCancel(ctx), lockKey(orderID), owner); err != nil {
			s.logger.Warn().Err(err).Str("order_id", orderID).Msg("release payment lock")
		}
	}, nil
}

func (s *PaymentService) confirmSucceeded(
	ctx context.Context,
	payment *models.Payment,
	req ConfirmPaymentRequest,
	result *domain.ConfirmResult,
) (*ConfirmPaymentResult, error) {
	log := s.logger.With().Str("order_id", req.OrderID).Int64("payment_id", payment.ID).Logger()

	paymentKey := req.PaymentKey
	if result.PaymentKey != "" {
		paymentKey = result.PaymentKey
	}
	method := result.Method

	txn := &models.PaymentTransaction{
		PaymentID:  payment.ID,
		Type:       models.TransactionPayment,
		Amount:     payment.Amount,
		Status:     models.TransactionSuccess,
		ExternalID: &paymentKey,
		Method:     &method,
		Metadata: encodeMetadata(map[string]any{
			"order_id":        req.OrderID,
			"transaction_key": result.TransactionKey,
		}),
	}
	if err := s.store.AppendTransaction(ctx, txn); err != nil {
		log.Error().Err(err).Str("payment_key", paymentKey).Msg("gateway captured payment but ledger append failed")
		s.openCase(ctx, payment.ID, models.CaseCommitFailed, payment.Amount,
			fmt.Sprintf("ledger append failed after capture; payment_key=%s: %v", paymentKey, err))
		return nil, domain.Internal(err, "record captured payment")
	}

	var (
		updated   *models.Payment
		booking   *models.Booking
		confirmed bool
	)
	err := s.store.WithinTx(ctx, func(q domain.Queries) error {
		confirmed = false
		p, err := q.GetPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		b, err := q.GetBooking(ctx, p.BookingID)
		if err != nil {
			return err
		}
		property, err := q.GetProperty(ctx, b.PropertyID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		p.Status = models.PaymentDone
		p.PaymentKey = &paymentKey
		p.Method = &method
		p.ApprovedAt = &now
		if err := q.UpdatePaymentWithVersion(ctx, p); err != nil {
			return err
		}

		if b.Status == models.BookingPending && property.InstantBook {
			ok, err := confirmIfFree(ctx, q, b, now)
			if err != nil {
				return err
			}
			confirmed = ok
		}
		updated, booking = p, b
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("payment_key", paymentKey).Msg("gateway captured payment but local commit failed")
		s.openCase(ctx, payment.ID, models.CaseCommitFailed, payment.Amount,
			fmt.Sprintf("local commit failed after capture; payment_key=%s: %v", paymentKey, err))
		return nil, domain.Internal(err, "commit captured payment")
	}

	if booking.Status != models.BookingPending && booking.Status != models.BookingConfirmed {
		log.Warn().Str("booking_status", string(booking.Status)).Msg("payment captured for an inactive booking")
	}

	if err := s.state.ClearCheckoutSession(ctx, req.OrderID); err != nil {
		log.Warn().Err(err).Msg("clear checkout session")
	}
	s.publish(events.EventPaymentConfirmed, paymentPayload(updated, ""))
	if confirmed {
		metrics.BookingTransition(string(models.BookingPending), string(models.BookingConfirmed))
		s.publish(events.EventBookingConfirmed, bookingPayload(booking, 0, "", SystemActorID))
	}
	log.Info().Str("booking_status", string(booking.Status)).Msg("payment confirmed")

	return &ConfirmPaymentResult{
		Success:       true,
		BookingID:     booking.ID,
		PaymentStatus: updated.Status,
		BookingStatus: booking.Status,
	}, nil
}

// confirmIfFree moves a pending booking to CONFIRMED unless a competing
// confirmed booking already holds any of its nights.
func confirmIfFree(ctx context.Context, q domain.Queries, b *models.Booking, now time.Time) (bool, error) {
	competing, err := q.FindOverlappingBookings(ctx, b.PropertyID, b.CheckIn, b.CheckOut,
		[]models.BookingStatus{models.BookingConfirmed}, b.ID)
	if err != nil {
		return false, err
	}
	if len(competing) > 0 {
		return false, nil
	}
	applyTransition(b, models.BookingConfirmed, "", now)
	if err := q.UpdateBookingWithVersion(ctx, b); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PaymentService) confirmFailed(ctx context.Context, payment *models.Payment, req ConfirmPaymentRequest, gerr error) error {
	outcome := domain.GatewayOutcomeOf(gerr)
	log := s.logger.With().
		Str("order_id", req.OrderID).
		Int64("payment_id", payment.ID).
		Str("outcome", string(outcome)).
		Logger()

	meta := gatewayMetadata(gerr)
	meta["order_id"] = req.OrderID

	switch outcome {
	case domain.OutcomeDeclined:
		err := s.store.WithinTx(ctx, func(q domain.Queries) error {
			if err := q.AppendTransaction(ctx, failedRow(payment.ID, models.TransactionPayment, payment.Amount, &req.PaymentKey, meta)); err != nil {
				return err
			}
			p, err := q.GetPayment(ctx, payment.ID)
			if err != nil {
				return err
			}
			if p.Status == models.PaymentDone || p.Status == models.PaymentCancelled {
				return nil
			}
			p.Status = models.PaymentFailed
			return q.UpdatePaymentWithVersion(ctx, p)
		})
		if err != nil {
			log.Error().Err(err).Msg("record declined payment")
		}
		log.Warn().Err(gerr).Msg("payment declined")
		failed := *payment
		failed.Status = models.PaymentFailed
		s.publish(events.EventPaymentFailed, paymentPayload(&failed, gerr.Error()))
		return domain.Gateway("payment was declined by the gateway").Wrap(gerr)

	case domain.OutcomeUnavailable:
		s.appendFailed(ctx, payment.ID, models.TransactionPayment, payment.Amount, &req.PaymentKey, meta)
		log.Warn().Err(gerr).Msg("payment gateway unavailable")
		return domain.Gateway("payment gateway is unavailable, try again later").Wrap(gerr)

	default:
		log.Error().Err(gerr).Msg("payment confirmation outcome unknown")
		s.openCase(ctx, payment.ID, models.CaseConfirmAmbiguous, payment.Amount,
			fmt.Sprintf("confirm outcome unknown; payment_key=%s: %v", req.PaymentKey, gerr))
		return domain.GatewayAmbiguous("payment outcome is unknown and needs reconciliation").Wrap(gerr)
	}
}

// RefundRequest moves money back to the guest and, optionally, the booking to
// Target in the same local commit.
type RefundRequest struct {
	PaymentID int64
	Amount    int64
	Reason    string
	// Target is the booking status to apply; empty leaves the booking as is.
	Target models.BookingStatus
	// BookingReason is stored as the rejection or cancellation reason.
	BookingReason string
	ActorID       int64
	// PaymentVersion, when set, must still match once the payment lock is held.
	PaymentVersion int64
}

type RefundResult struct {
	Payment  *models.Payment
	Booking  *models.Booking
	Refunded int64
}

// Refund calls the gateway first and commits locally only after success.
// If the gateway refuses or the outcome is unknown, nothing changes locally.
func (s *PaymentService) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.Amount < 0 {
		return nil, domain.Validation("refund amount must not be negative")
	}

	payment, err := s.store.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, mapStoreError(err, "payment")
	}
	booking, err := s.store.GetBooking(ctx, payment.BookingID)
	if err != nil {
		return nil, mapStoreError(err, "booking")
	}
	if req.Target != "" && !booking.Status.CanTransitionTo(req.Target) {
		return nil, domain.Conflict("booking cannot move from %s to %s", booking.Status, req.Target)
	}
	if req.Amount > payment.Refundable() {
		return nil, domain.Validation("refund %d exceeds the refundable amount %d", req.Amount, payment.Refundable())
	}

	log := s.logger.With().
		Int64("payment_id", payment.ID).
		Int64("booking_id", booking.ID).
		Int64("amount", req.Amount).
		Logger()

	release, err := s.lock(ctx, payment.OrderID, uuid.NewString())
	if err != nil {
		return nil, err
	}
	defer release()

	if payment, err = s.store.GetPayment(ctx, req.PaymentID); err != nil {
		return nil, mapStoreError(err, "payment")
	}
	if req.PaymentVersion != 0 && payment.Version != req.PaymentVersion {
		return nil, domain.Conflict("payment changed while the request was processed, try again")
	}
	if req.Amount > payment.Refundable() {
		return nil, domain.Conflict("refund %d exceeds the refundable amount %d", req.Amount, payment.Refundable())
	}
	if req.Amount > 0 {
		if payment.PaymentKey == nil {
			return nil, domain.Internal(nil, "captured payment %d has no payment key", payment.ID)
		}
		if err := s.callRefund(ctx, payment, req); err != nil {
			return nil, err
		}
	}

	var out RefundResult
	err = s.store.WithinTx(ctx, func(q domain.Queries) error {
		p, err := q.GetPayment(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		b, err := q.GetBooking(ctx, p.BookingID)
		if err != nil {
			return err
		}
		txns, err := q.ListTransactions(ctx, p.ID)
		if err != nil {
			return err
		}
		now := s.now().UTC()

		// The SUCCESS row is already in the ledger and the reconciler may have
		// applied it; take the total rather than adding the delta again.
		if refunded := readLedger(txns).refunded; refunded != p.RefundAmount {
			p.RefundAmount = refunded
			p.RefundedAt = &now
		}
		if (p.Status == models.PaymentDone && p.FullyRefunded()) ||
			(p.Status != models.PaymentDone && p.Status != models.PaymentCancelled && req.Target != "" && req.Target.IsTerminal()) {
			p.Status = models.PaymentCancelled
			p.CancelledAt = &now
		}
		if err := q.UpdatePaymentWithVersion(ctx, p); err != nil {
			return err
		}

		if req.Target != "" && b.Status != req.Target {
			if !b.Status.CanTransitionTo(req.Target) {
				return domain.Conflict("booking cannot move from %s to %s", b.Status, req.Target)
			}
			applyTransition(b, req.Target, req.BookingReason, now)
			if err := q.UpdateBookingWithVersion(ctx, b); err != nil {
				return err
			}
		}
		out = RefundResult{Payment: p, Booking: b, Refunded: req.Amount}
		return nil
	})
	if err != nil {
		if req.Amount > 0 {
			log.Error().Err(err).Msg("gateway refunded but local commit failed")
			s.openCase(ctx, req.PaymentID, models.CaseCommitFailed, req.Amount,
				fmt.Sprintf("local commit failed after refund of %d: %v", req.Amount, err))
			return nil, domain.Internal(err, "commit refund")
		}
		return nil, mapStoreError(err, "payment")
	}

	if req.Amount > 0 {
		metrics.AddRefunded(req.Amount)
		s.publish(events.EventPaymentRefunded, paymentPayload(out.Payment, req.Reason))
		log.Info().Str("payment_status", string(out.Payment.Status)).Msg("refund issued")
	}
	return &out, nil
}

func (s *PaymentService) callRefund(ctx context.Context, payment *models.Payment, req RefundRequest) error {
	meta := map[string]any{"reason": req.Reason, "actor_id": req.ActorID}
	if req.Target != "" {
		meta["target"] = string(req.Target)
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	result, gerr := s.gateway.Cancel(gctx, *payment.PaymentKey, domain.CancelRequest{
		CancelAmount:   req.Amount,
		CancelReason:   req.Reason,
		IdempotencyKey: fmt.Sprintf("refund-%d-%d-%d", payment.ID, payment.RefundAmount, req.Amount),
	})
	cancel()

	if gerr != nil {
		for k, v := range gatewayMetadata(gerr) {
			meta[k] = v
		}
		if domain.GatewayOutcomeOf(gerr) == domain.OutcomeAmbiguous {
			s.logger.Error().Err(gerr).Int64("payment_id", payment.ID).Msg("refund outcome unknown")
			s.openCase(ctx, payment.ID, models.CaseRefundAmbiguous, req.Amount,
				fmt.Sprintf("refund outcome unknown; payment_key=%s: %v", *payment.PaymentKey, gerr))
			return domain.GatewayAmbiguous("refund outcome is unknown and needs reconciliation").Wrap(gerr)
		}
		s.appendFailed(ctx, payment.ID, models.TransactionRefund, req.Amount, payment.PaymentKey, meta)
		s.logger.Warn().Err(gerr).Int64("payment_id", payment.ID).Msg("refund failed")
		return domain.Gateway("refund failed at the gateway").Wrap(gerr)
	}

	externalID := result.TransactionKey
	meta["payment_key"] = *payment.PaymentKey
	txn := &models.PaymentTransaction{
		PaymentID:  payment.ID,
		Type:       models.TransactionRefund,
		Amount:     req.Amount,
		Status:     models.TransactionSuccess,
		ExternalID: &externalID,
		Method:     payment.Method,
		Metadata:   encodeMetadata(meta),
	}
	if err := s.store.AppendTransaction(ctx, txn); err != nil {
		s.logger.Error().Err(err).Int64("payment_id", payment.ID).Msg("gateway refunded but ledger append failed")
		s.openCase(ctx, payment.ID, models.CaseCommitFailed, req.Amount,
			fmt.Sprintf("ledger append failed after refund; transaction_key=%s: %v", externalID, err))
		return domain.Internal(err, "record refund")
	}
	return nil
}

// AdjustRefund issues a manual partial refund. Only a refund that exhausts
// the payment also cancels the booking.
func (s *PaymentService) AdjustRefund(ctx context.Context, adminID, paymentID, amount int64, reason string) (*RefundResult, error) {
	if !s.cfg.IsAdmin(adminID) {
		return nil, domain.Forbidden("admin only")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.Validation("reason is required")
	}
	if amount <= 0 {
		return nil, domain.Validation("amount must be positive")
	}

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, mapStoreError(err, "payment")
	}
	booking, err := s.store.GetBooking(ctx, payment.BookingID)
	if err != nil {
		return nil, mapStoreError(err, "booking")
	}

	req := RefundRequest{PaymentID: paymentID, Amount: amount, Reason: reason, BookingReason: reason, ActorID: adminID}
	if amount == payment.Refundable() && booking.Status.CanTransitionTo(models.BookingCancelled) {
		req.Target = models.BookingCancelled
	}
	res, err := s.Refund(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Target != "" {
		metrics.BookingTransition(string(booking.Status), string(req.Target))
		s.publish(events.EventBookingCancelled, bookingPayload(res.Booking, amount, reason, adminID))
	}
	return res, nil
}

// Transactions lists the ledger of a payment, oldest first.
func (s *PaymentService) Transactions(ctx context.Context, actorID, paymentID int64) ([]*models.PaymentTransaction, error) {
	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, mapStoreError(err, "payment")
	}
	if payment.GuestID != actorID && !s.cfg.IsAdmin(actorID) {
		booking, err := s.store.GetBooking(ctx, payment.BookingID)
		if err != nil {
			return nil, mapStoreError(err, "booking")
		}
		property, err := s.store.GetProperty(ctx, booking.PropertyID)
		if err != nil {
			return nil, mapStoreError(err, "property")
		}
		if property.HostID != actorID {
			return nil, domain.Forbidden("not allowed to view this payment")
		}
	}
	txns, err := s.store.ListTransactions(ctx, paymentID)
	if err != nil {
		return nil, mapStoreError(err, "ledger")
	}
	return txns, nil
}

func (s *PaymentService) appendFailed(ctx context.Context, paymentID int64, typ models.TransactionType, amount int64, externalID *string, meta map[string]any) {
	if err := s.store.AppendTransaction(ctx, failedRow(paymentID, typ, amount, externalID, meta)); err != nil {
		s.logger.Error().Err(err).Int64("payment_id", paymentID).Msg("append failed ledger row")
	}
}

func failedRow(paymentID int64, typ models.TransactionType, amount int64, externalID *string, meta map[string]any) *models.PaymentTransaction {
	return &models.PaymentTransaction{
		PaymentID:  paymentID,
		Type:       typ,
		Amount:     amount,
		Status:     models.TransactionFailed,
		ExternalID: externalID,
		Metadata:   encodeMetadata(meta),
	}
}

func (s *PaymentService) openCase(ctx context.Context, paymentID int64, kind models.CaseKind, amount int64, detail string) {
	c := &models.ReconciliationCase{PaymentID: paymentID, Kind: kind, Amount: amount, Detail: detail}
	if err := s.store.CreateCase(context.WithoutCancel(ctx), c); err != nil {
		s.logger.Error().Err(err).Int64("payment_id", paymentID).Str("kind", string(kind)).Msg("open reconciliation case")
		return
	}
	s.logger.Warn().Int64("case_id", c.ID).Int64("payment_id", paymentID).Str("kind", string(kind)).Msg("reconciliation case opened")
	s.publish(events.EventCaseOpened, events.CaseEventPayload{CaseID: c.ID, PaymentID: paymentID, Kind: string(kind), Amount: amount})
}

func (s *PaymentService) publish(eventType string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}

func paymentPayload(p *models.Payment, detail string) events.PaymentEventPayload {
	return events.PaymentEventPayload{
		PaymentID:    p.ID,
		BookingID:    p.BookingID,
		OrderID:      p.OrderID,
		GuestID:      p.GuestID,
		Amount:       p.Amount,
		RefundAmount: p.RefundAmount,
		Status:       string(p.Status),
		Detail:       detail,
	}
}

func gatewayMetadata(err error) map[string]any {
	meta := map[string]any{
		"outcome": string(domain.GatewayOutcomeOf(err)),
		"error":   err.Error(),
	}
	var ge *domain.GatewayError
	if errors.As(err, &ge) {
		if ge.Code != "" {
			meta["code"] = ge.Code
		}
		if ge.StatusCode != 0 {
			meta["status_code"] = ge.StatusCode
		}
	}
	return meta
}

func encodeMetadata(meta map[string]any) string {
	raw, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(raw)
}
