package jobs

import (
	"context"

	"stayledger/internal/config"
	"stayledger/internal/service"

	"github.com/rs/zerolog"
)

const (
	JobCompleteStays     = "complete_stays"
	JobReconcile         = "reconcile"
	JobNotificationRetry = "notification_retry"
	JobExpireCheckouts   = "expire_checkouts"
	JobBackup            = "backup"
)

type StayCompleter interface {
	CompleteFinishedStays(ctx context.Context) (int, error)
}

type CheckoutExpirer interface {
	ExpireAbandonedCheckouts(ctx context.Context) (int, error)
}

type LedgerReconciler interface {
	Run(ctx context.Context) (*service.ReconcileReport, error)
}

type PendingProcessor interface {
	ProcessPending(ctx context.Context) (int, error)
}

type BackupRunner interface {
	Run(ctx context.Context)
}

// Deps are the job bodies. Nil members are skipped.
type Deps struct {
	Bookings      StayCompleter
	Checkouts     CheckoutExpirer
	Reconciler    LedgerReconciler
	Notifications PendingProcessor
	Backup        BackupRunner
}

// Register wires the background jobs onto s.
func Register(s *Scheduler, cfg *config.Config, d Deps, logger *zerolog.Logger) error {
	if d.Bookings != nil {
		err := s.Add(JobCompleteStays, cfg.Jobs.CompleteStaysSpec, func(ctx context.Context) error {
			n, err := d.Bookings.CompleteFinishedStays(ctx)
			if n > 0 {
				logger.Info().Int("completed", n).Msg("finished stays completed")
			}
			return err
		})
		if err != nil {
			return err
		}
	}

	if d.Checkouts != nil {
		err := s.Add(JobExpireCheckouts, cfg.Jobs.ExpireCheckoutsSpec, func(ctx context.Context) error {
			_, err := d.Checkouts.ExpireAbandonedCheckouts(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	if d.Reconciler != nil {
		err := s.Add(JobReconcile, cfg.Jobs.ReconcileSpec, func(ctx context.Context) error {
			_, err := d.Reconciler.Run(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	if d.Notifications != nil {
		err := s.Add(JobNotificationRetry, cfg.Jobs.NotificationRetrySpec, func(ctx context.Context) error {
			_, err := d.Notifications.ProcessPending(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	if d.Backup != nil && cfg.Backup.Enabled {
		err := s.Add(JobBackup, cfg.Backup.Schedule, func(ctx context.Context) error {
			d.Backup.Run(ctx)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
