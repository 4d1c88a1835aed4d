package service

import (
	"errors"
	"time"

	"stayledger/internal/database"
	"stayledger/internal/domain"
	"stayledger/internal/models"
)

// SystemActorID marks transitions performed by scheduled jobs.
const SystemActorID int64 = 0

// mapStoreError converts storage sentinels into typed service errors.
func mapStoreError(err error, what string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, database.ErrNotFound):
		return domain.NotFound("%s not found", what).Wrap(err)
	case errors.Is(err, database.ErrConcurrentModification):
		return domain.Conflict("%s was modified concurrently", what).Wrap(err)
	case errors.Is(err, database.ErrOverlap):
		return domain.Conflict("dates are already booked").WithDates(ReasonAlreadyBooked, nil).Wrap(err)
	case errors.Is(err, database.ErrDuplicate):
		return domain.Conflict("%s already exists", what).Wrap(err)
	}
	return domain.Internal(err, "%s storage failure", what)
}

func formatDates(days []time.Time) []string {
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, models.FormatDate(d))
	}
	return out
}

func ptr[T any](v T) *T { return &v }
