package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stayledger/internal/domain"
	"stayledger/internal/models"
	"stayledger/internal/pricing"

	"github.com/rs/zerolog"
)

// Unavailability reasons returned to clients.
const (
	ReasonPastDate      = "past_date"
	ReasonNotBookable   = "not_bookable"
	ReasonTooManyGuests = "too_many_guests"
	ReasonMinNights     = "min_nights"
	ReasonMaxNights     = "max_nights"
	ReasonAlreadyBooked = "already_booked"
	ReasonBlocked       = "blocked"
)

type AvailabilityRequest struct {
	PropertyID int64
	CheckIn    time.Time
	CheckOut   time.Time
	Guests     int
}

type AvailabilityResult struct {
	Available bool           `json:"available"`
	Reason    string         `json:"reason,omitempty"`
	Message   string         `json:"message,omitempty"`
	Dates     []string       `json:"dates,omitempty"`
	Price     *pricing.Quote `json:"price,omitempty"`
}

func unavailable(reason, format string, args ...any) *AvailabilityResult {
	return &AvailabilityResult{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

type AvailabilityService struct {
	store  domain.Store
	now    func() time.Time
	logger *zerolog.Logger
}

func NewAvailabilityService(store domain.Store, logger *zerolog.Logger) *AvailabilityService {
	return &AvailabilityService{store: store, now: time.Now, logger: logger}
}

// Check runs the ordered availability checks against the current store state.
func (s *AvailabilityService) Check(ctx context.Context, req AvailabilityRequest) (*AvailabilityResult, error) {
	return evaluate(ctx, s.store, req, models.Date(s.now().UTC()))
}

// evaluate is shared with booking creation, which runs it inside the write
// transaction. The first failing check wins.
func evaluate(ctx context.Context, q domain.Queries, req AvailabilityRequest, today time.Time) (*AvailabilityResult, error) {
	checkIn, checkOut := models.Date(req.CheckIn), models.Date(req.CheckOut)

	if checkIn.Before(today) {
		return unavailable(ReasonPastDate, "check-in %s is in the past", models.FormatDate(checkIn)), nil
	}
	stay, err := models.NewDateRange(checkIn, checkOut)
	if err != nil {
		return nil, domain.Validation("check-out must be after check-in").Wrap(err)
	}

	property, err := q.GetProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, mapStoreError(err, "property")
	}
	if !property.IsBookable() {
		return unavailable(ReasonNotBookable, "property is not open for booking"), nil
	}

	if req.Guests < 1 {
		return nil, domain.Validation("guests must be at least 1")
	}
	if property.MaxGuests > 0 && req.Guests > property.MaxGuests {
		return unavailable(ReasonTooManyGuests, "property accepts at most %d guests", property.MaxGuests), nil
	}

	nights := stay.Nights()
	if nights < property.MinNights {
		return unavailable(ReasonMinNights, "minimum stay is %d nights", property.MinNights), nil
	}
	if property.MaxNights > 0 && nights > property.MaxNights {
		return unavailable(ReasonMaxNights, "maximum stay is %d nights", property.MaxNights), nil
	}

	conflicts, err := q.FindOverlappingBookings(ctx, property.ID, stay.CheckIn, stay.CheckOut, nil, 0)
	if err != nil {
		return nil, mapStoreError(err, "booking")
	}
	if len(conflicts) > 0 {
		res := unavailable(ReasonAlreadyBooked, "selected dates are already booked")
		res.Dates = bookedDates(stay, conflicts)
		return res, nil
	}

	days, err := q.GetCalendarDays(ctx, property.ID, stay.CheckIn, stay.CheckOut)
	if err != nil {
		return nil, mapStoreError(err, "calendar")
	}
	var blocked []time.Time
	for _, d := range days {
		if !d.Available {
			blocked = append(blocked, d.Date)
		}
	}
	if len(blocked) > 0 {
		res := unavailable(ReasonBlocked, "some dates are blocked by the host")
		res.Dates = formatDates(blocked)
		return res, nil
	}

	quote, err := pricing.Compute(property, days, stay.CheckIn, stay.CheckOut)
	if err != nil {
		if errors.Is(err, pricing.ErrPropertyNotBookable) {
			return unavailable(ReasonNotBookable, "property is not open for booking"), nil
		}
		return nil, domain.Validation("cannot price stay").Wrap(err)
	}
	return &AvailabilityResult{Available: true, Price: &quote}, nil
}

// bookedDates lists the requested nights covered by any conflicting booking.
func bookedDates(stay models.DateRange, conflicts []*models.Booking) []string {
	var out []time.Time
	for _, night := range stay.Dates() {
		for _, b := range conflicts {
			if !night.Before(b.CheckIn) && night.Before(b.CheckOut) {
				out = append(out, night)
				break
			}
		}
	}
	return formatDates(out)
}

// unavailableError turns a negative availability result into the typed error
// returned by booking creation.
func unavailableError(res *AvailabilityResult) *domain.Error {
	var e *domain.Error
	switch res.Reason {
	case ReasonAlreadyBooked, ReasonBlocked, ReasonNotBookable:
		e = domain.Conflict("%s", res.Message)
	default:
		e = domain.Validation("%s", res.Message)
	}
	return e.WithDates(res.Reason, res.Dates)
}

type PricingService struct {
	store domain.Store
}

func NewPricingService(store domain.Store) *PricingService {
	return &PricingService{store: store}
}

// Quote prices a stay from the current property and calendar state.
func (s *PricingService) Quote(ctx context.Context, propertyID int64, checkIn, checkOut time.Time) (*pricing.Quote, error) {
	stay, err := models.NewDateRange(checkIn, checkOut)
	if err != nil {
		return nil, domain.Validation("check-out must be after check-in").Wrap(err)
	}
	property, err := s.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, mapStoreError(err, "property")
	}
	days, err := s.store.GetCalendarDays(ctx, propertyID, stay.CheckIn, stay.CheckOut)
	if err != nil {
		return nil, mapStoreError(err, "calendar")
	}
	quote, err := pricing.Compute(property, days, stay.CheckIn, stay.CheckOut)
	if err != nil {
		if errors.Is(err, pricing.ErrPropertyNotBookable) {
			return nil, domain.Conflict("property is not open for booking").WithDates(ReasonNotBookable, nil).Wrap(err)
		}
		return nil, domain.Validation("cannot price stay").Wrap(err)
	}
	return &quote, nil
}
