package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"stayledger/internal/domain"
	"stayledger/internal/events"
	"stayledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completedStay books, pays and completes a stay for guestID.
func (f *fixture) completedStay(t *testing.T) *CreateBookingResult {
	t.Helper()
	p := f.property(t, true)
	res := f.book(t, p.ID, "2030-06-10", "2030-06-12")
	f.pay(t, res, "pk_stay")
	f.setNow(time.Date(2030, 6, 12, 12, 0, 0, 0, time.UTC))
	_, err := f.bookings.Complete(context.Background(), hostID, res.BookingID)
	require.NoError(t, err)
	return res
}

func TestCreateReview_RequiresCompletedStay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.property(t, true)
	res := f.book(t, p.ID, "2030-06-10", "2030-06-12")

	_, err := f.reviews.CreateReview(ctx, guestID, CreateReviewRequest{BookingID: res.BookingID, Rating: 5, Content: "lovely"})
	assertKind(t, err, domain.KindConflict)
}

func TestCreateReview(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res := f.completedStay(t)

	tests := []struct {
		name    string
		actor   int64
		req     CreateReviewRequest
		wantErr domain.Kind
	}{
		{"rating too low", guestID, CreateReviewRequest{BookingID: res.BookingID, Rating: 0, Content: "ok"}, domain.KindValidation},
		{"rating too high", guestID, CreateReviewRequest{BookingID: res.BookingID, Rating: 6, Content: "ok"}, domain.KindValidation},
		{"empty content", guestID, CreateReviewRequest{BookingID: res.BookingID, Rating: 4, Content: "  "}, domain.KindValidation},
		{"not the guest", hostID, CreateReviewRequest{BookingID: res.BookingID, Rating: 4, Content: "ok"}, domain.KindForbidden},
		{"unknown booking", guestID, CreateReviewRequest{BookingID: 999, Rating: 4, Content: "ok"}, domain.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.reviews.CreateReview(ctx, tt.actor, tt.req)
			assertKind(t, err, tt.wantErr)
		})
	}

	out, err := f.reviews.CreateReview(ctx, guestID, CreateReviewRequest{
		BookingID: res.BookingID, Rating: 5, Content: " Great view ", SNSShared: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(models.ReviewSNSCreditAward), out.CreditsEarned)
	assert.Equal(t, "Great view", out.Review.Content)
	assert.NotZero(t, out.Review.ID)

	user, err := f.db.GetUser(ctx, guestID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), user.Credits)

	history, err := f.reviews.CreditHistory(ctx, guestID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1000), history[0].Amount)
	assert.Equal(t, models.CreditEarnedReviewSNS, history[0].Type)
	require.NotNil(t, history[0].ReviewID)
	assert.Equal(t, out.Review.ID, *history[0].ReviewID)
	assert.Contains(t, f.published(), events.EventCreditsEarned)

	_, err = f.reviews.CreateReview(ctx, guestID, CreateReviewRequest{BookingID: res.BookingID, Rating: 3, Content: "second", SNSShared: true})
	assertKind(t, err, domain.KindConflict)
	assert.ErrorContains(t, err, fmt.Sprintf("already has review #%d", out.Review.ID))

	user, err = f.db.GetUser(ctx, guestID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), user.Credits)
}

func TestCreateReview_NotShared(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res := f.completedStay(t)

	out, err := f.reviews.CreateReview(ctx, guestID, CreateReviewRequest{BookingID: res.BookingID, Rating: 4, Content: "quiet street"})
	require.NoError(t, err)
	assert.Zero(t, out.CreditsEarned)

	history, err := f.reviews.CreditHistory(ctx, guestID)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.NotContains(t, f.published(), events.EventCreditsEarned)
}
