package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"stayledger/internal/domain"
	"stayledger/internal/metrics"
	"stayledger/internal/models"

	"github.com/rs/zerolog"
)

// Repair kinds reported by the reconciler.
const (
	RepairPaymentCaptured  = "payment_captured"
	RepairBookingConfirmed = "booking_confirmed"
	RepairRefundAmount     = "refund_amount"
	RepairPaymentCancelled = "payment_cancelled"
	RepairBookingClosed    = "booking_closed"
)

// Manual case outcomes.
const (
	OutcomeNone     = "none"
	OutcomeCaptured = "captured"
	OutcomeRefunded = "refunded"
)

type Repair struct {
	PaymentID int64  `json:"paymentId"`
	BookingID int64  `json:"bookingId"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail,omitempty"`
}

type ReconcileReport struct {
	Checked   int       `json:"checked"`
	Repaired  int       `json:"repaired"`
	Repairs   []Repair  `json:"repairs"`
	OpenCases int       `json:"openCases"`
	StartedAt time.Time `json:"startedAt"`
}

// Reconciler treats the SUCCESS rows of the ledger as the truth and moves
// payment and booking rows to the state they imply.
type Reconciler struct {
	store   domain.Store
	isAdmin func(int64) bool
	now     func() time.Time
	logger  *zerolog.Logger
}

func NewReconciler(store domain.Store, isAdmin func(int64) bool, logger *zerolog.Logger) *Reconciler {
	if isAdmin == nil {
		isAdmin = func(int64) bool { return false }
	}
	l := logger.With().Str("component", "reconciler").Logger()
	return &Reconciler{store: store, isAdmin: isAdmin, now: time.Now, logger: &l}
}

func needsRepair(s *models.LedgerSummary) bool {
	p := s.Payment
	captured := s.PaidTotal > 0 && (p.Status == models.PaymentReady || p.Status == models.PaymentFailed)
	return captured || s.RefundedTotal != p.RefundAmount
}

// Run checks every payment with ledger activity.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{StartedAt: r.now().UTC(), Repairs: []Repair{}}

	summaries, err := r.store.ListLedgerSummaries(ctx)
	if err != nil {
		return nil, mapStoreError(err, "ledger")
	}
	for _, s := range summaries {
		report.Checked++
		if !needsRepair(s) {
			continue
		}
		repairs, err := r.repairPayment(ctx, s.Payment.ID, "auto: ledger repair")
		if err != nil {
			r.logger.Error().Err(err).Int64("payment_id", s.Payment.ID).Msg("ledger repair failed")
			continue
		}
		if len(repairs) > 0 {
			report.Repaired++
			report.Repairs = append(report.Repairs, repairs...)
		}
	}

	open, err := r.settleCases(ctx)
	if err != nil {
		return nil, err
	}
	report.OpenCases = open
	metrics.SetOpenCases(open)

	r.logger.Info().
		Int("checked", report.Checked).
		Int("repaired", report.Repaired).
		Int("open_cases", report.OpenCases).
		Msg("reconciliation finished")
	return report, nil
}

// settleCases closes ambiguous confirm cases whose payment has since settled
// and returns the number of cases left open.
func (r *Reconciler) settleCases(ctx context.Context) (int, error) {
	cases, err := r.store.ListCases(ctx, models.CaseOpen)
	if err != nil {
		return 0, mapStoreError(err, "reconciliation case")
	}
	open := 0
	for _, c := range cases {
		if c.Kind == models.CaseConfirmAmbiguous {
			p, err := r.store.GetPayment(ctx, c.PaymentID)
			if err == nil && (p.Status == models.PaymentDone || p.Status == models.PaymentCancelled) {
				if err := r.store.ResolveCase(ctx, c.ID, "auto: payment settled"); err == nil {
					continue
				}
			}
		}
		open++
	}
	return open, nil
}

type ledgerState struct {
	paid          int64
	refunded      int64
	lastKey       *string
	lastMethod    *string
	lastPaidAt    *time.Time
	lastRefundAt  *time.Time
	refundTarget  models.BookingStatus
	refundReasons []string
}

func readLedger(txns []*models.PaymentTransaction) ledgerState {
	var st ledgerState
	for _, t := range txns {
		if t.Status != models.TransactionSuccess {
			continue
		}
		at := t.CreatedAt
		switch t.Type {
		case models.TransactionPayment:
			st.paid += t.Amount
			st.lastKey, st.lastMethod, st.lastPaidAt = t.ExternalID, t.Method, &at
		case models.TransactionRefund:
			st.refunded += t.Amount
			st.lastRefundAt = &at
			var meta struct {
				Target string `json:"target"`
				Reason string `json:"reason"`
			}
			if t.Metadata != "" && json.Unmarshal([]byte(t.Metadata), &meta) == nil {
				if meta.Target != "" {
					st.refundTarget = models.BookingStatus(meta.Target)
				}
				if meta.Reason != "" {
					st.refundReasons = append(st.refundReasons, meta.Reason)
				}
			}
		}
	}
	return st
}

// repairPayment applies the ledger-implied state to one payment in a single
// transaction and closes the payment's open cases when anything changed.
func (r *Reconciler) repairPayment(ctx context.Context, paymentID int64, resolution string) ([]Repair, error) {
	var repairs []Repair
	err := r.store.WithinTx(ctx, func(q domain.Queries) error {
		repairs = nil
		p, err := q.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		b, err := q.GetBooking(ctx, p.BookingID)
		if err != nil {
			return err
		}
		txns, err := q.ListTransactions(ctx, paymentID)
		if err != nil {
			return err
		}
		st := readLedger(txns)
		now := r.now().UTC()
		add := func(kind, detail string) {
			repairs = append(repairs, Repair{PaymentID: p.ID, BookingID: b.ID, Kind: kind, Detail: detail})
		}

		paymentChanged, bookingChanged := false, false
		if st.paid > 0 && (p.Status == models.PaymentReady || p.Status == models.PaymentFailed) {
			p.Status = models.PaymentDone
			p.PaymentKey, p.Method = st.lastKey, st.lastMethod
			p.ApprovedAt = st.lastPaidAt
			paymentChanged = true
			add(RepairPaymentCaptured, "")

			if b.Status == models.BookingPending {
				property, err := q.GetProperty(ctx, b.PropertyID)
				if err != nil {
					return err
				}
				if property.InstantBook {
					competing, err := q.FindOverlappingBookings(ctx, b.PropertyID, b.CheckIn, b.CheckOut,
						[]models.BookingStatus{models.BookingConfirmed}, b.ID)
					if err != nil {
						return err
					}
					if len(competing) == 0 {
						applyTransition(b, models.BookingConfirmed, "", now)
						bookingChanged = true
						add(RepairBookingConfirmed, "")
					}
				}
			}
		}

		if st.refunded != p.RefundAmount {
			if st.refunded > p.Amount {
				r.logger.Error().
					Int64("payment_id", p.ID).
					Int64("refunded", st.refunded).
					Int64("amount", p.Amount).
					Msg("ledger refunds exceed payment amount")
			} else {
				p.RefundAmount = st.refunded
				p.RefundedAt = st.lastRefundAt
				paymentChanged = true
				add(RepairRefundAmount, "")

				if p.Status == models.PaymentDone && p.FullyRefunded() {
					p.Status = models.PaymentCancelled
					p.CancelledAt = &now
					add(RepairPaymentCancelled, "")
				}
				target := st.refundTarget
				if target == "" && p.Status == models.PaymentCancelled {
					target = models.BookingCancelled
				}
				if target != "" && b.Status.CanTransitionTo(target) {
					applyTransition(b, target, strings.Join(st.refundReasons, "; "), now)
					bookingChanged = true
					add(RepairBookingClosed, string(target))
				}
			}
		}

		if paymentChanged {
			if err := q.UpdatePaymentWithVersion(ctx, p); err != nil {
				return err
			}
		}
		if bookingChanged {
			if err := q.UpdateBookingWithVersion(ctx, b); err != nil {
				return err
			}
		}
		if len(repairs) > 0 {
			if _, err := q.ResolveCasesForPayment(ctx, p.ID, resolution); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, "payment")
	}

	for _, rep := range repairs {
		metrics.IncRepair(rep.Kind)
		r.logger.Warn().
			Int64("payment_id", rep.PaymentID).
			Int64("booking_id", rep.BookingID).
			Str("kind", rep.Kind).
			Str("detail", rep.Detail).
			Msg("ledger repair applied")
	}
	return repairs, nil
}

// OpenCases lists unresolved reconciliation cases for the admin queue.
func (r *Reconciler) OpenCases(ctx context.Context, adminID int64) ([]*models.ReconciliationCase, error) {
	if !r.isAdmin(adminID) {
		return nil, domain.Forbidden("admin only")
	}
	cases, err := r.store.ListCases(ctx, models.CaseOpen)
	if err != nil {
		return nil, mapStoreError(err, "reconciliation case")
	}
	return cases, nil
}

type CaseResolution struct {
	// Outcome is what the gateway dashboard shows: none, captured or refunded.
	Outcome    string `json:"outcome" validate:"required,oneof=none captured refunded"`
	ExternalID string `json:"externalId"`
	Note       string `json:"note" validate:"required"`
}

// ResolveCase records the outcome an operator confirmed with the gateway,
// closes the case and repairs the payment from the ledger.
func (r *Reconciler) ResolveCase(ctx context.Context, adminID, caseID int64, res CaseResolution) ([]Repair, error) {
	if !r.isAdmin(adminID) {
		return nil, domain.Forbidden("admin only")
	}
	res.Note = strings.TrimSpace(res.Note)
	if res.Note == "" {
		return nil, domain.Validation("note is required")
	}
	switch res.Outcome {
	case OutcomeNone, OutcomeRefunded:
	case OutcomeCaptured:
		if strings.TrimSpace(res.ExternalID) == "" {
			return nil, domain.Validation("externalId is required for a captured payment")
		}
	default:
		return nil, domain.Validation("unknown outcome %q", res.Outcome)
	}

	c, err := r.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, mapStoreError(err, "reconciliation case")
	}
	if c.Status != models.CaseOpen {
		return nil, domain.Conflict("case %d is already resolved", caseID)
	}

	err = r.store.WithinTx(ctx, func(q domain.Queries) error {
		p, err := q.GetPayment(ctx, c.PaymentID)
		if err != nil {
			return err
		}
		meta := encodeMetadata(map[string]any{"source": "manual", "case_id": c.ID, "admin_id": adminID, "reason": res.Note})
		var externalID *string
		if res.ExternalID != "" {
			externalID = &res.ExternalID
		}

		switch res.Outcome {
		case OutcomeCaptured:
			if err := q.AppendTransaction(ctx, &models.PaymentTransaction{
				PaymentID: p.ID, Type: models.TransactionPayment, Amount: p.Amount,
				Status: models.TransactionSuccess, ExternalID: externalID, Method: p.Method, Metadata: meta,
			}); err != nil {
				return err
			}
		case OutcomeRefunded:
			amount := c.Amount
			if left := p.Amount - p.RefundAmount; amount > left {
				return domain.Validation("case amount %d exceeds the refundable amount %d", amount, left)
			}
			if err := q.AppendTransaction(ctx, &models.PaymentTransaction{
				PaymentID: p.ID, Type: models.TransactionRefund, Amount: amount,
				Status: models.TransactionSuccess, ExternalID: externalID, Method: p.Method, Metadata: meta,
			}); err != nil {
				return err
			}
		}
		return q.ResolveCase(ctx, c.ID, res.Outcome+": "+res.Note)
	})
	if err != nil {
		return nil, mapStoreError(err, "reconciliation case")
	}

	r.logger.Info().Int64("case_id", c.ID).Int64("payment_id", c.PaymentID).Str("outcome", res.Outcome).Msg("reconciliation case resolved")
	return r.repairPayment(ctx, c.PaymentID, "manual: case "+res.Outcome)
}
