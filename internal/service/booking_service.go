package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"stayledger/internal/cancellation"
	"stayledger/internal/database"
	"stayledger/internal/domain"
	"stayledger/internal/events"
	"stayledger/internal/metrics"
	"stayledger/internal/models"
	"stayledger/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type BookingConfig struct {
	CheckoutSessionTTL time.Duration
	CreateRateLimit    int
	CreateRateWindow   time.Duration
	// IsAdmin lets admins act as the system actor.
	IsAdmin func(userID int64) bool
}

type BookingService struct {
	store    domain.Store
	state    domain.StateRepository
	payments *PaymentService
	eventBus domain.EventPublisher
	cfg      BookingConfig
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewBookingService(
	store domain.Store,
	state domain.StateRepository,
	payments *PaymentService,
	eventBus domain.EventPublisher,
	cfg BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	if cfg.CheckoutSessionTTL <= 0 {
		cfg.CheckoutSessionTTL = models.DefaultCheckoutSessionTTL * time.Second
	}
	if cfg.CreateRateLimit <= 0 {
		cfg.CreateRateLimit = models.BookingRateLimit
	}
	if cfg.CreateRateWindow <= 0 {
		cfg.CreateRateWindow = models.BookingRateLimitWindow * time.Second
	}
	if cfg.IsAdmin == nil {
		cfg.IsAdmin = func(int64) bool { return false }
	}
	l := logger.With().Str("component", "bookings").Logger()
	return &BookingService{
		store:    store,
		state:    state,
		payments: payments,
		eventBus: eventBus,
		cfg:      cfg,
		now:      time.Now,
		logger:   &l,
	}
}

func (s *BookingService) today() time.Time {
	return models.Date(s.now().UTC())
}

type CreateBookingRequest struct {
	PropertyID int64
	CheckIn    time.Time
	CheckOut   time.Time
	Guests     int
	// OrderID is an optional client idempotency key; a retry with the same
	// key returns the booking created by the first attempt.
	OrderID string
}

type CreateBookingResult struct {
	BookingID      int64          `json:"bookingId"`
	PaymentOrderID string         `json:"paymentOrderId"`
	TotalAmount    int64          `json:"totalAmount"`
	Price          *pricing.Quote `json:"price,omitempty"`
}

// CreateBooking re-runs the availability checks inside the write transaction
// and inserts the booking with its READY payment.
func (s *BookingService) CreateBooking(ctx context.Context, guestID int64, req CreateBookingRequest) (*CreateBookingResult, error) {
	if guestID <= 0 {
		return nil, domain.Validation("guest is required")
	}
	if req.PropertyID <= 0 {
		return nil, domain.Validation("propertyId is required")
	}
	if req.CheckIn.IsZero() || req.CheckOut.IsZero() {
		return nil, domain.Validation("checkIn and checkOut are required")
	}
	if req.Guests < 1 {
		return nil, domain.Validation("guests must be at least 1")
	}

	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID != "" {
		if res, err := s.existingOrder(ctx, guestID, req); res != nil || err != nil {
			return res, err
		}
	} else {
		req.OrderID = uuid.NewString()
	}

	allowed, err := s.state.CheckRateLimit(ctx, guestID, s.cfg.CreateRateLimit, s.cfg.CreateRateWindow)
	if err != nil {
		s.logger.Warn().Err(err).Int64("guest_id", guestID).Msg("rate limit check failed")
	} else if !allowed {
		return nil, domain.RateLimited("too many booking requests, try again later")
	}

	today := s.today()
	var (
		booking *models.Booking
		payment *models.Payment
		quote   *pricing.Quote
	)
	err = s.store.WithinTx(ctx, func(q domain.Queries) error {
		res, err := evaluate(ctx, q, AvailabilityRequest{
			PropertyID: req.PropertyID,
			CheckIn:    req.CheckIn,
			CheckOut:   req.CheckOut,
			Guests:     req.Guests,
		}, today)
		if err != nil {
			return err
		}
		if !res.Available {
			return unavailableError(res)
		}

		b := &models.Booking{
			PropertyID:  req.PropertyID,
			GuestID:     guestID,
			CheckIn:     models.Date(req.CheckIn),
			CheckOut:    models.Date(req.CheckOut),
			Guests:      req.Guests,
			TotalAmount: res.Price.Total,
			Status:      models.BookingPending,
		}
		if err := q.CreateBooking(ctx, b); err != nil {
			return err
		}
		p := &models.Payment{
			BookingID: b.ID,
			GuestID:   guestID,
			OrderID:   req.OrderID,
			Amount:    b.TotalAmount,
			Status:    models.PaymentReady,
		}
		if err := q.CreatePayment(ctx, p); err != nil {
			return err
		}
		booking, payment, quote = b, p, res.Price
		return nil
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, domain.Conflict("order %s already exists", req.OrderID).Wrap(err)
		}
		return nil, mapStoreError(err, "booking")
	}

	log := s.logger.With().Int64("booking_id", booking.ID).Str("order_id", payment.OrderID).Logger()
	session := &models.CheckoutSession{
		OrderID:   payment.OrderID,
		BookingID: booking.ID,
		GuestID:   guestID,
		Amount:    payment.Amount,
		OrderName: "Stay " + booking.Range().String(),
		ExpiresAt: s.now().UTC().Add(s.cfg.CheckoutSessionTTL),
	}
	if err := s.state.SetCheckoutSession(ctx, session); err != nil {
		log.Warn().Err(err).Msg("store checkout session")
	}

	metrics.BookingTransition("NEW", string(models.BookingPending))
	s.publishBooking(ctx, events.EventBookingCreated, booking, 0, "", guestID)
	log.Info().Int64("total", booking.TotalAmount).Msg("booking created")

	return &CreateBookingResult{
		BookingID:      booking.ID,
		PaymentOrderID: payment.OrderID,
		TotalAmount:    booking.TotalAmount,
		Price:          quote,
	}, nil
}

func (s *BookingService) existingOrder(ctx context.Context, guestID int64, req CreateBookingRequest) (*CreateBookingResult, error) {
	payment, err := s.store.GetPaymentByOrderID(ctx, req.OrderID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapStoreError(err, "payment")
	}
	booking, err := s.store.GetBooking(ctx, payment.BookingID)
	if err != nil {
		return nil, mapStoreError(err, "booking")
	}
	same := payment.GuestID == guestID &&
		booking.PropertyID == req.PropertyID &&
		booking.CheckIn.Equal(models.Date(req.CheckIn)) &&
		booking.CheckOut.Equal(models.Date(req.CheckOut)) &&
		booking.Guests == req.Guests
	if !same {
		return nil, domain.Conflict("order %s was used for a different booking", req.OrderID)
	}
	return &CreateBookingResult{BookingID: booking.ID, PaymentOrderID: payment.OrderID, TotalAmount: booking.TotalAmount}, nil
}

// Approve confirms a pending booking unless a competing booking for any of
// its nights has been confirmed since it was requested.
func (s *BookingService) Approve(ctx context.Context, hostID, bookingID int64) (*models.Booking, error) {
	var booking *models.Booking
	err := s.store.WithinTx(ctx, func(q domain.Queries) error {
		b, property, err := loadOwned(ctx, q, bookingID)
		if err != nil {
			return err
		}
		if property.HostID != hostID {
			return domain.Forbidden("only the host can approve this booking")
		}
		if b.Status != models.BookingPending {
			return domain.Conflict("booking is %s", b.Status)
		}

		// Second check behind bookings_no_overlap, which already rejects
		// overlapping PENDING rows; unreachable while that trigger stands.
		competing, err := q.FindOverlappingBookings(ctx, b.PropertyID, b.CheckIn, b.CheckOut,
			[]models.BookingStatus{models.BookingConfirmed}, b.ID)
		if err != nil {
			return err
		}
		if len(competing) > 0 {
			return domain.Conflict("another booking for these dates is already confirmed").
				WithDates(ReasonAlreadyBooked, bookedDates(b.Range(), competing))
		}

		applyTransition(b, models.BookingConfirmed, "", s.now().UTC())
		if err := q.UpdateBookingWithVersion(ctx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, "booking")
	}

	metrics.BookingTransition(string(models.BookingPending), string(models.BookingConfirmed))
	s.publishBooking(ctx, events.EventBookingConfirmed, booking, 0, "", hostID)
	return booking, nil
}

// Reject declines a pending booking. A captured payment is refunded in full
// first; if that refund fails the booking stays PENDING.
func (s *BookingService) Reject(ctx context.Context, hostID, bookingID int64, reason string) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < models.MinRejectReasonLength {
		return nil, domain.Validation("rejection reason must be at least %d characters", models.MinRejectReasonLength)
	}

	booking, property, err := loadOwned(ctx, s.store, bookingID)
	if err != nil {
		return nil, mapStoreError(err, "booking")
	}
	if property.HostID != hostID {
		return nil, domain.Forbidden("only the host can reject this booking")
	}
	if booking.Status != models.BookingPending {
		return nil, domain.Conflict("booking is %s", booking.Status)
	}
	payment, err := s.store.GetPaymentByBookingID(ctx, bookingID)
	if err != nil {
		return nil, mapStoreError(err, "payment")
	}

	refundAmount := payment.Refundable()
	res, err := s.payments.Refund(ctx, RefundRequest{
		PaymentID:      payment.ID,
		Amount:         refundAmount,
		Reason:         "rejected by host: " + reason,
		Target:         models.BookingRejected,
		BookingReason:  reason,
		ActorID:        hostID,
		PaymentVersion: payment.Version,
	})
	if err != nil {
		return nil, err
	}

	metrics.BookingTransition(string(models.BookingPending), string(models.BookingRejected))
	s.publishBooking(ctx, events.EventBookingRejected, res.Booking, refundAmount, reason, hostID)
	return res.Booking, nil
}

type CancelResult struct {
	Booking                 *models.Booking `json:"booking"`
	RefundAmount            int64           `json:"refundAmount"`
	RefundRate              float64         `json:"refundRate"`
	RefundPolicyDescription string          `json:"refundPolicyDescription"`
}

// Cancel applies the tiered policy for guests and a full refund for hosts.
func (s *BookingService) Cancel(ctx context.Context, actorID, bookingID int64, reason string) (*CancelResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.Validation("cancellation reason is required")
	}

	booking, property, err := loadOwned(ctx, s.store, bookingID)
	if err != nil {
		return nil, mapStoreError(err, "booking")
	}

	var decision cancellation.Decision
	switch actorID {
	case booking.GuestID:
		decision = cancellation.Evaluate(booking.CheckIn, s.now().UTC())
	case property.HostID:
		decision = cancellation.FullRefund()
	default:
		return nil, domain.Forbidden("only the guest or the host can cancel this booking")
	}
	if !booking.Status.CanTransitionTo(models.BookingCancelled) {
		return nil, domain.Conflict("booking is %s", booking.Status)
	}

	payment, err := s.store.GetPaymentByBookingID(ctx, bookingID)
	if err != nil {
		return nil, mapStoreError(err, "payment")
	}
	refundAmount := decision.RefundAmount(booking.TotalAmount)
	if refundAmount > payment.Refundable() {
		refundAmount = payment.Refundable()
	}

	res, err := s.payments.Refund(ctx, RefundRequest{
		PaymentID:      payment.ID,
		Amount:         refundAmount,
		Reason:         "cancelled: " + reason,
		Target:         models.BookingCancelled,
		BookingReason:  reason,
		ActorID:        actorID,
		PaymentVersion: payment.Version,
	})
	if err != nil {
		return nil, err
	}

	metrics.BookingTransition(string(booking.Status), string(models.BookingCancelled))
	s.publishBooking(ctx, events.EventBookingCancelled, res.Booking, refundAmount, reason, actorID)
	s.logger.Info().
		Int64("booking_id", bookingID).
		Int64("refund", refundAmount).
		Int("days_before_check_in", decision.DaysBeforeCheckIn).
		Msg("booking cancelled")

	return &CancelResult{
		Booking:                 res.Booking,
		RefundAmount:            refundAmount,
		RefundRate:              decision.RefundRate,
		RefundPolicyDescription: decision.Description,
	}, nil
}

// Complete marks a confirmed stay as finished once check-out has passed.
func (s *BookingService) Complete(ctx context.Context, actorID, bookingID int64) (*models.Booking, error) {
	return s.finishStay(ctx, actorID, bookingID, models.BookingCompleted)
}

// MarkNoShow records that the guest never arrived; allowed from check-in day.
func (s *BookingService) MarkNoShow(ctx context.Context, actorID, bookingID int64) (*models.Booking, error) {
	return s.finishStay(ctx, actorID, bookingID, models.BookingNoShow)
}

func (s *BookingService) finishStay(ctx context.Context, actorID, bookingID int64, target models.BookingStatus) (*models.Booking, error) {
	today := s.today()
	var booking *models.Booking
	err := s.store.WithinTx(ctx, func(q domain.Queries) error {
		b, property, err := loadOwned(ctx, q, bookingID)
		if err != nil {
			return err
		}
		if actorID != SystemActorID && actorID != property.HostID && !s.cfg.IsAdmin(actorID) {
			return domain.Forbidden("only the host can close this booking")
		}
		if b.Status != models.BookingConfirmed {
			return domain.Conflict("booking is %s", b.Status)
		}
		switch target {
		case models.BookingCompleted:
			if today.Before(b.CheckOut) {
				return domain.Validation("stay ends on %s", models.FormatDate(b.CheckOut))
			}
		case models.BookingNoShow:
			if today.Before(b.CheckIn) {
				return domain.Validation("stay starts on %s", models.FormatDate(b.CheckIn))
			}
		}
		applyTransition(b, target, "", s.now().UTC())
		if err := q.UpdateBookingWithVersion(ctx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, "booking")
	}

	metrics.BookingTransition(string(models.BookingConfirmed), string(target))
	eventType := events.EventBookingCompleted
	if target == models.BookingNoShow {
		eventType = events.EventBookingNoShow
	}
	s.publishBooking(ctx, eventType, booking, 0, "", actorID)
	return booking, nil
}

// CompleteFinishedStays completes every confirmed booking whose check-out
// day has been reached. Bookings that fail are logged and skipped.
func (s *BookingService) CompleteFinishedStays(ctx context.Context) (int, error) {
	const batch = 100
	completed := 0
	skipped := make(map[int64]bool)

	for {
		due, err := s.store.ListBookingsEndingBefore(ctx, models.BookingConfirmed, s.today(), batch+len(skipped))
		if err != nil {
			return completed, mapStoreError(err, "booking")
		}
		progressed := false
		for _, b := range due {
			if skipped[b.ID] {
				continue
			}
			if _, err := s.Complete(ctx, SystemActorID, b.ID); err != nil {
				s.logger.Error().Err(err).Int64("booking_id", b.ID).Msg("complete finished stay")
				skipped[b.ID] = true
				continue
			}
			completed++
			progressed = true
		}
		if !progressed || len(due) < batch+len(skipped) {
			break
		}
		if err := ctx.Err(); err != nil {
			return completed, err
		}
	}
	if completed > 0 {
		s.logger.Info().Int("count", completed).Msg("finished stays completed")
	}
	return completed, nil
}

// CheckoutExpiredReason is recorded on bookings cancelled by the checkout sweep.
const CheckoutExpiredReason = "checkout expired"

// ExpireAbandonedCheckouts cancels pending bookings whose checkout deadline
// passed without a captured payment, which frees their nights. A live
// checkout session extends the deadline. Bookings that fail are logged and
// left for the next run.
func (s *BookingService) ExpireAbandonedCheckouts(ctx context.Context) (int, error) {
	const batch = 100
	now := s.now().UTC()
	due, err := s.store.ListAbandonedCheckouts(ctx, now.Add(-s.cfg.CheckoutSessionTTL), batch)
	if err != nil {
		return 0, mapStoreError(err, "booking")
	}

	expired := 0
	for _, b := range due {
		log := s.logger.With().Int64("booking_id", b.ID).Logger()
		payment, err := s.store.GetPaymentByBookingID(ctx, b.ID)
		if err != nil {
			log.Error().Err(err).Msg("load payment of abandoned checkout")
			continue
		}
		session, err := s.state.GetCheckoutSession(ctx, payment.OrderID)
		if err == nil && session != nil && now.Before(session.ExpiresAt) {
			continue
		}

		res, err := s.payments.Refund(ctx, RefundRequest{
			PaymentID:      payment.ID,
			Reason:         CheckoutExpiredReason,
			Target:         models.BookingCancelled,
			BookingReason:  CheckoutExpiredReason,
			ActorID:        SystemActorID,
			PaymentVersion: payment.Version,
		})
		if err != nil {
			log.Warn().Err(err).Msg("expire abandoned checkout")
			continue
		}
		if err := s.state.ClearCheckoutSession(ctx, payment.OrderID); err != nil {
			log.Warn().Err(err).Msg("clear checkout session")
		}
		metrics.BookingTransition(string(models.BookingPending), string(models.BookingCancelled))
		s.publishBooking(ctx, events.EventBookingCancelled, res.Booking, 0, CheckoutExpiredReason, SystemActorID)
		expired++
	}
	if expired > 0 {
		s.logger.Info().Int("count", expired).Msg("abandoned checkouts expired")
	}
	return expired, nil
}

type BookingDetails struct {
	Booking *models.Booking `json:"booking"`
	Payment *models.Payment `json:"payment"`
}

// GetBooking is visible to the guest, the host and admins.
func (s *BookingService) GetBooking(ctx context.Context, actorID, bookingID int64) (*BookingDetails, error) {
	booking, property, err := loadOwned(ctx, s.store, bookingID)
	if err != nil {
		return nil, mapStoreError(err, "booking")
	}
	if actorID != booking.GuestID && actorID != property.HostID && !s.cfg.IsAdmin(actorID) {
		return nil, domain.Forbidden("not allowed to view this booking")
	}
	payment, err := s.store.GetPaymentByBookingID(ctx, bookingID)
	if err != nil {
		return nil, mapStoreError(err, "payment")
	}
	return &BookingDetails{Booking: booking, Payment: payment}, nil
}

func loadOwned(ctx context.Context, q domain.Queries, bookingID int64) (*models.Booking, *models.Property, error) {
	b, err := q.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, mapStoreError(err, "booking")
	}
	p, err := q.GetProperty(ctx, b.PropertyID)
	if err != nil {
		return nil, nil, mapStoreError(err, "property")
	}
	return b, p, nil
}

// applyTransition sets the status and the matching timestamp and reason.
func applyTransition(b *models.Booking, target models.BookingStatus, reason string, now time.Time) {
	b.Status = target
	switch target {
	case models.BookingConfirmed:
		b.ConfirmedAt = &now
	case models.BookingRejected:
		b.RejectedAt = &now
		b.RejectionReason = &reason
	case models.BookingCancelled:
		b.CancelledAt = &now
		b.CancellationReason = &reason
	case models.BookingCompleted, models.BookingNoShow:
		b.CompletedAt = &now
	}
}

func (s *BookingService) publishBooking(ctx context.Context, eventType string, b *models.Booking, refund int64, reason string, actorID int64) {
	if s.eventBus == nil {
		return
	}
	payload := bookingPayload(b, refund, reason, actorID)
	if property, err := s.store.GetProperty(ctx, b.PropertyID); err == nil {
		payload.HostID = property.HostID
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}

func bookingPayload(b *models.Booking, refund int64, reason string, actorID int64) events.BookingEventPayload {
	return events.BookingEventPayload{
		BookingID:    b.ID,
		PropertyID:   b.PropertyID,
		GuestID:      b.GuestID,
		Status:       string(b.Status),
		CheckIn:      models.FormatDate(b.CheckIn),
		CheckOut:     models.FormatDate(b.CheckOut),
		TotalAmount:  b.TotalAmount,
		RefundAmount: refund,
		Reason:       reason,
		ChangedByID:  actorID,
	}
}
