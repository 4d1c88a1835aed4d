package service

import (
	"context"
	"encoding/json"
	"fmt"

	"stayledger/internal/domain"
	"stayledger/internal/events"
	"stayledger/internal/models"

	"github.com/rs/zerolog"
)

// NotificationService turns domain events into user notifications and hands
// them to the delivery queue. Failures are logged and never reach the caller
// of the original operation.
type NotificationService struct {
	queue  domain.NotificationQueue
	logger *zerolog.Logger
}

func NewNotificationService(queue domain.NotificationQueue, logger *zerolog.Logger) *NotificationService {
	l := logger.With().Str("component", "notifications").Logger()
	return &NotificationService{queue: queue, logger: &l}
}

// Attach subscribes the service to the events it notifies about.
func (s *NotificationService) Attach(bus *events.EventBus) {
	for _, t := range []string{
		events.EventBookingCreated,
		events.EventBookingConfirmed,
		events.EventBookingRejected,
		events.EventBookingCancelled,
	} {
		bus.Subscribe(t, s.handleBooking)
	}
	bus.Subscribe(events.EventPaymentConfirmed, s.handlePayment)
	bus.Subscribe(events.EventPaymentRefunded, s.handlePayment)
	bus.Subscribe(events.EventCreditsEarned, s.handleCredits)
}

func bookingLink(id int64) string { return fmt.Sprintf("/bookings/%d", id) }

func (s *NotificationService) handleBooking(e *events.Event) error {
	var p events.BookingEventPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		s.logger.Error().Err(err).Str("event_type", e.Type).Msg("decode booking event")
		return err
	}
	stay := fmt.Sprintf("%s to %s", p.CheckIn, p.CheckOut)
	link := bookingLink(p.BookingID)

	var out []models.Notification
	switch e.Type {
	case events.EventBookingCreated:
		out = append(out, models.Notification{
			UserID: p.HostID, Type: models.NotifyBookingRequested, Title: "New booking request",
			Message: fmt.Sprintf("Booking #%d for %s is waiting for your decision.", p.BookingID, stay), Link: link,
		})
	case events.EventBookingConfirmed:
		out = append(out, models.Notification{
			UserID: p.GuestID, Type: models.NotifyBookingConfirmed, Title: "Booking confirmed",
			Message: fmt.Sprintf("Your stay %s is confirmed.", stay), Link: link,
		})
	case events.EventBookingRejected:
		out = append(out, models.Notification{
			UserID: p.GuestID, Type: models.NotifyBookingRejected, Title: "Booking declined",
			Message: fmt.Sprintf("The host declined your stay %s: %s", stay, p.Reason), Link: link,
		})
	case events.EventBookingCancelled:
		msg := fmt.Sprintf("Booking #%d for %s was cancelled: %s", p.BookingID, stay, p.Reason)
		for _, uid := range []int64{p.GuestID, p.HostID} {
			if uid == p.ChangedByID {
				continue
			}
			out = append(out, models.Notification{
				UserID: uid, Type: models.NotifyBookingCancelled, Title: "Booking cancelled", Message: msg, Link: link,
			})
		}
	}
	s.enqueue(out...)
	return nil
}

func (s *NotificationService) handlePayment(e *events.Event) error {
	var p events.PaymentEventPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		s.logger.Error().Err(err).Str("event_type", e.Type).Msg("decode payment event")
		return err
	}
	n := models.Notification{UserID: p.GuestID, Link: bookingLink(p.BookingID)}
	switch e.Type {
	case events.EventPaymentConfirmed:
		n.Type, n.Title = models.NotifyPaymentReceived, "Payment received"
		n.Message = fmt.Sprintf("We received your payment of %d for booking #%d.", p.Amount, p.BookingID)
	case events.EventPaymentRefunded:
		n.Type, n.Title = models.NotifyRefundIssued, "Refund issued"
		n.Message = fmt.Sprintf("%d of %d has been refunded for booking #%d.", p.RefundAmount, p.Amount, p.BookingID)
	default:
		return nil
	}
	s.enqueue(n)
	return nil
}

func (s *NotificationService) handleCredits(e *events.Event) error {
	var p events.CreditEventPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		s.logger.Error().Err(err).Str("event_type", e.Type).Msg("decode credit event")
		return err
	}
	s.enqueue(models.Notification{
		UserID:  p.UserID,
		Type:    models.NotifyCreditsEarned,
		Title:   "Credits earned",
		Message: fmt.Sprintf("You earned %d credits for sharing your review. Balance: %d.", p.Amount, p.Balance),
		Link:    "/credits",
	})
	return nil
}

func (s *NotificationService) enqueue(ns ...models.Notification) {
	for _, n := range ns {
		if n.UserID == 0 {
			continue
		}
		if err := s.queue.Enqueue(context.Background(), n); err != nil {
			s.logger.Error().Err(err).Int64("user_id", n.UserID).Str("type", string(n.Type)).Msg("enqueue notification")
		}
	}
}
