package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrInvalidRange = errors.New("check-out must be after check-in")

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a UTC date.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q; expected YYYY-MM-DD", raw)
	}
	return t, nil
}

// FormatDate renders a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DateRange is a half-open interval [CheckIn, CheckOut) of calendar days.
type DateRange struct {
	CheckIn  time.Time
	CheckOut time.Time
}

func NewDateRange(checkIn, checkOut time.Time) (DateRange, error) {
	r := DateRange{CheckIn: Date(checkIn), CheckOut: Date(checkOut)}
	if !r.CheckIn.Before(r.CheckOut) {
		return DateRange{}, ErrInvalidRange
	}
	return r, nil
}

// Nights returns ceil(checkOut - checkIn) in days.
func (r DateRange) Nights() int {
	return CeilDays(r.CheckOut.Sub(r.CheckIn))
}

// Dates lists every night of the stay; the check-out day is excluded.
func (r DateRange) Dates() []time.Time {
	out := make([]time.Time, 0, r.Nights())
	for d := r.CheckIn; d.Before(r.CheckOut); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Overlaps reports whether two half-open ranges share at least one night.
// Back-to-back stays do not overlap.
func (r DateRange) Overlaps(other DateRange) bool {
	return r.CheckIn.Before(other.CheckOut) && r.CheckOut.After(other.CheckIn)
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s, %s)", FormatDate(r.CheckIn), FormatDate(r.CheckOut))
}

// CeilDays converts a duration into whole days, rounding up partial days.
func CeilDays(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}
