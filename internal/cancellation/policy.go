// Package cancellation maps how early a stay is cancelled to a refund rate.
package cancellation

import (
	"time"

	"stayledger/internal/models"
	"stayledger/internal/pricing"
)

const (
	FullRefundDays = 7
	HalfRefundDays = 3
)

type Decision struct {
	DaysBeforeCheckIn int     `json:"days_before_check_in"`
	RefundPercent     int64   `json:"refund_percent"`
	RefundRate        float64 `json:"refund_rate"`
	Description       string  `json:"description"`
}

// Evaluate applies the tiered policy. days = ceil(checkIn - cancelledAt) in days:
// >= 7 full refund, 3..6 half, anything less (including past check-in) nothing.
func Evaluate(checkIn, cancelledAt time.Time) Decision {
	days := models.CeilDays(checkIn.Sub(cancelledAt))

	d := Decision{DaysBeforeCheckIn: days}
	switch {
	case days >= FullRefundDays:
		d.RefundPercent = 100
		d.Description = "full refund"
	case days >= HalfRefundDays:
		d.RefundPercent = 50
		d.Description = "50% refund"
	default:
		d.RefundPercent = 0
		d.Description = "no refund"
	}
	d.RefundRate = float64(d.RefundPercent) / 100
	return d
}

// RefundAmount is round(total * rate); it never exceeds total.
func (d Decision) RefundAmount(total int64) int64 {
	amount := pricing.RoundPercent(total, d.RefundPercent)
	if amount > total {
		return total
	}
	if amount < 0 {
		return 0
	}
	return amount
}

// FullRefund is used when the host cancels: the guest is always made whole.
func FullRefund() Decision {
	return Decision{RefundPercent: 100, RefundRate: 1, Description: "full refund (cancelled by host)"}
}
