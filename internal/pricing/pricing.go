// Package pricing resolves nightly rates and totals for a stay.
package pricing

import (
	"errors"
	"time"

	"stayledger/internal/models"
)

var (
	ErrInvalidRange        = models.ErrInvalidRange
	ErrPropertyNotBookable = errors.New("property is not bookable")
)

// Night is the price of a single night of the stay.
type Night struct {
	Date       time.Time `json:"date"`
	Rate       int64     `json:"rate"`
	Overridden bool      `json:"overridden"`
}

type Quote struct {
	NightlyRate        int64   `json:"nightly_rate"`
	NumberOfNights     int     `json:"number_of_nights"`
	Nights             []Night `json:"nights,omitempty"`
	AccommodationTotal int64   `json:"accommodation_total"`
	ServiceFee         int64   `json:"service_fee"`
	Total              int64   `json:"total"`
}

// Compute prices [checkIn, checkOut) for the property. Calendar rows for dates
// outside the range are ignored; a missing row means the base rate.
func Compute(property *models.Property, days []models.CalendarDay, checkIn, checkOut time.Time) (Quote, error) {
	stay, err := models.NewDateRange(checkIn, checkOut)
	if err != nil {
		return Quote{}, ErrInvalidRange
	}
	if !property.IsBookable() {
		return Quote{}, ErrPropertyNotBookable
	}

	overrides := make(map[string]int64, len(days))
	for _, d := range days {
		if d.PriceOverride != nil {
			overrides[models.FormatDate(d.Date)] = *d.PriceOverride
		}
	}

	q := Quote{NightlyRate: property.PricePerNight}
	for _, date := range stay.Dates() {
		night := Night{Date: date, Rate: property.PricePerNight}
		if rate, ok := overrides[models.FormatDate(date)]; ok {
			night.Rate = rate
			night.Overridden = true
		}
		q.Nights = append(q.Nights, night)
		q.AccommodationTotal += night.Rate
	}
	q.NumberOfNights = len(q.Nights)
	q.ServiceFee = ServiceFee(q.AccommodationTotal)
	q.Total = q.AccommodationTotal + q.ServiceFee
	return q, nil
}

// ServiceFee is round(amount * 10%), half away from zero, in whole currency units.
func ServiceFee(amount int64) int64 {
	return RoundPercent(amount, models.ServiceFeePercent)
}

// RoundPercent returns round(amount * percent / 100) with halves rounded away from zero.
func RoundPercent(amount int64, percent int64) int64 {
	n := amount * percent
	if n >= 0 {
		return (n + 50) / 100
	}
	return -((-n + 50) / 100)
}
