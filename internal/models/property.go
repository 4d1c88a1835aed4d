package models

import "time"

type PropertyStatus string

const (
	PropertyDraft    PropertyStatus = "DRAFT"
	PropertyPending  PropertyStatus = "PENDING"
	PropertyApproved PropertyStatus = "APPROVED"
	PropertyRejected PropertyStatus = "REJECTED"
	PropertyInactive PropertyStatus = "INACTIVE"
)

type Property struct {
	ID            int64          `json:"id" yaml:"id"`
	HostID        int64          `json:"host_id" yaml:"host_id"`
	Title         string         `json:"title" yaml:"title"`
	PricePerNight int64          `json:"price_per_night" yaml:"price_per_night"`
	MinNights     int            `json:"min_nights" yaml:"min_nights"`
	MaxNights     int            `json:"max_nights" yaml:"max_nights"` // 0 = без ограничения
	MaxGuests     int            `json:"max_guests" yaml:"max_guests"`
	Status        PropertyStatus `json:"status" yaml:"status"`
	InstantBook   bool           `json:"instant_book" yaml:"instant_book"`
	CreatedAt     time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time      `json:"updated_at" yaml:"-"`
}

// IsBookable is true only for properties that passed admin review.
func (p *Property) IsBookable() bool {
	return p != nil && p.Status == PropertyApproved
}

// CalendarDay is a sparse per-date override: a missing row means base price and available.
type CalendarDay struct {
	PropertyID    int64     `json:"property_id"`
	Date          time.Time `json:"date"`
	Available     bool      `json:"available"`
	PriceOverride *int64    `json:"price_override,omitempty"`
}
