package models

import "time"

type User struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	TelegramChatID *int64    `json:"telegram_chat_id,omitempty"`
	Credits        int64     `json:"credits"`
	TotalEarned    int64     `json:"total_earned"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type CreditType string

const (
	CreditEarnedReviewSNS CreditType = "EARNED_REVIEW_SNS"
)

// CreditHistory is an append-only entry; User.Credits is its running total.
type CreditHistory struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Amount      int64      `json:"amount"`
	Type        CreditType `json:"type"`
	ReviewID    *int64     `json:"review_id,omitempty"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Review struct {
	ID         int64     `json:"id"`
	BookingID  int64     `json:"booking_id"`
	PropertyID int64     `json:"property_id"`
	GuestID    int64     `json:"guest_id"`
	Rating     int       `json:"rating"`
	Content    string    `json:"content"`
	SNSShared  bool      `json:"sns_shared"`
	CreatedAt  time.Time `json:"created_at"`
}
