package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stayledger/internal/database"
	"stayledger/internal/domain"
	"stayledger/internal/events"
	"stayledger/internal/models"

	"github.com/rs/zerolog"
)

type CreateReviewRequest struct {
	BookingID int64  `json:"bookingId" validate:"required,gt=0"`
	Rating    int    `json:"rating" validate:"required,min=1,max=5"`
	Content   string `json:"content" validate:"required"`
	SNSShared bool   `json:"snsShared"`
}

type CreateReviewResult struct {
	Review        *models.Review `json:"review"`
	CreditsEarned int64          `json:"creditsEarned"`
}

// ReviewService records guest reviews and the credit award for sharing them.
type ReviewService struct {
	store    domain.Store
	eventBus domain.EventPublisher
	award    int64
	logger   *zerolog.Logger
}

func NewReviewService(store domain.Store, eventBus domain.EventPublisher, award int64, logger *zerolog.Logger) *ReviewService {
	if award <= 0 {
		award = models.ReviewSNSCreditAward
	}
	return &ReviewService{store: store, eventBus: eventBus, award: award, logger: logger}
}

// CreateReview inserts the review and, when shared, the credit award in the
// same transaction. A second review for the booking is a Conflict.
func (s *ReviewService) CreateReview(ctx context.Context, guestID int64, req CreateReviewRequest) (*CreateReviewResult, error) {
	req.Content = strings.TrimSpace(req.Content)
	if req.Rating < 1 || req.Rating > 5 {
		return nil, domain.Validation("rating must be between 1 and 5")
	}
	if req.Content == "" {
		return nil, domain.Validation("content is required")
	}

	booking, err := s.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, mapStoreError(err, "booking")
	}
	if booking.GuestID != guestID {
		return nil, domain.Forbidden("only the guest can review this stay")
	}
	if booking.Status != models.BookingCompleted {
		return nil, domain.Conflict("only completed stays can be reviewed")
	}

	review := &models.Review{
		BookingID:  booking.ID,
		PropertyID: booking.PropertyID,
		GuestID:    guestID,
		Rating:     req.Rating,
		Content:    req.Content,
		SNSShared:  req.SNSShared,
	}
	var earned int64
	err = s.store.WithinTx(ctx, func(q domain.Queries) error {
		earned = 0
		existing, err := q.GetReviewByBookingID(ctx, booking.ID)
		switch {
		case err == nil:
			return domain.Conflict("booking %d already has review #%d", booking.ID, existing.ID)
		case !errors.Is(err, database.ErrNotFound):
			return err
		}
		if err := q.CreateReview(ctx, review); err != nil {
			return err
		}
		if !req.SNSShared {
			return nil
		}
		if err := q.AddUserCredits(ctx, guestID, s.award); err != nil {
			return err
		}
		earned = s.award
		return q.AppendCreditHistory(ctx, &models.CreditHistory{
			UserID:      guestID,
			Amount:      s.award,
			Type:        models.CreditEarnedReviewSNS,
			ReviewID:    &review.ID,
			Description: fmt.Sprintf("Review shared for booking #%d", booking.ID),
		})
	})
	if err != nil {
		return nil, mapStoreError(err, "review")
	}

	if earned > 0 {
		payload := events.CreditEventPayload{UserID: guestID, Amount: earned, ReviewID: review.ID}
		if u, err := s.store.GetUser(ctx, guestID); err == nil {
			payload.Balance = u.Credits
		}
		if s.eventBus != nil {
			if err := s.eventBus.PublishJSON(events.EventCreditsEarned, payload); err != nil {
				s.logger.Error().Err(err).Int64("user_id", guestID).Msg("publish event error")
			}
		}
	}
	return &CreateReviewResult{Review: review, CreditsEarned: earned}, nil
}

// CreditHistory lists a user's credit entries, newest first.
func (s *ReviewService) CreditHistory(ctx context.Context, userID int64) ([]*models.CreditHistory, error) {
	entries, err := s.store.ListCreditHistory(ctx, userID)
	if err != nil {
		return nil, mapStoreError(err, "credit history")
	}
	return entries, nil
}
