package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"stayledger/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	SheetTransactions = "Transactions"
	SheetSummary      = "Summary"

	timeLayout = "2006-01-02 15:04:05"
)

// LedgerSource is the read side of the store the workbook is built from.
type LedgerSource interface {
	ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]*models.PaymentTransaction, error)
	ListLedgerSummaries(ctx context.Context) ([]*models.LedgerSummary, error)
}

// LedgerExporter renders the payment ledger into an xlsx workbook for finance
// reconciliation against the gateway statement.
type LedgerExporter struct {
	source LedgerSource
	dir    string
	logger *zerolog.Logger
}

func NewLedgerExporter(source LedgerSource, dir string, logger *zerolog.Logger) *LedgerExporter {
	l := logger.With().Str("component", "export").Logger()
	return &LedgerExporter{source: source, dir: dir, logger: &l}
}

// Build creates the workbook for ledger rows created in [from, to). The
// summary sheet covers every payment and flags rows that disagree with the
// ledger. The caller closes the file.
func (e *LedgerExporter) Build(ctx context.Context, from, to time.Time) (*excelize.File, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("export range %s - %s is empty", from.Format(models.DateLayout), to.Format(models.DateLayout))
	}
	txns, err := e.source.ListTransactionsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("error getting transactions: %w", err)
	}
	summaries, err := e.source.ListLedgerSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting ledger summaries: %w", err)
	}

	f := excelize.NewFile()
	for _, name := range []string{SheetTransactions, SheetSummary} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("error creating sheet: %w", err)
		}
	}
	_ = f.DeleteSheet("Sheet1")
	f.SetActiveSheet(0)

	header, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	mismatch, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})

	writeRow(f, SheetTransactions, 1, []any{"ID", "Payment", "Type", "Status", "Amount", "External ID", "Method", "Created at", "Metadata"})
	_ = f.SetCellStyle(SheetTransactions, "A1", "I1", header)
	for i, t := range txns {
		writeRow(f, SheetTransactions, i+2, []any{
			t.ID, t.PaymentID, string(t.Type), string(t.Status), t.Amount,
			deref(t.ExternalID), deref(t.Method), t.CreatedAt.UTC().Format(timeLayout), t.Metadata,
		})
	}

	writeRow(f, SheetSummary, 1, []any{"Payment", "Booking", "Order", "Status", "Amount", "Refund amount", "Ledger paid", "Ledger refunded", "Matches"})
	_ = f.SetCellStyle(SheetSummary, "A1", "I1", header)
	for i, s := range summaries {
		row := i + 2
		ok := Consistent(s)
		writeRow(f, SheetSummary, row, []any{
			s.Payment.ID, s.Payment.BookingID, s.Payment.OrderID, string(s.Payment.Status),
			s.Payment.Amount, s.Payment.RefundAmount, s.PaidTotal, s.RefundedTotal, yesNo(ok),
		})
		if !ok {
			_ = f.SetCellStyle(SheetSummary, fmt.Sprintf("A%d", row), fmt.Sprintf("I%d", row), mismatch)
		}
	}

	_ = f.SetColWidth(SheetTransactions, "A", "H", 18)
	_ = f.SetColWidth(SheetTransactions, "I", "I", 60)
	_ = f.SetColWidth(SheetSummary, "A", "I", 18)
	return f, nil
}

// Write streams the workbook to w.
func (e *LedgerExporter) Write(ctx context.Context, w io.Writer, from, to time.Time) error {
	f, err := e.Build(ctx, from, to)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveFile writes the workbook into the export directory and returns its path.
func (e *LedgerExporter) SaveFile(ctx context.Context, from, to time.Time) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	f, err := e.Build(ctx, from, to)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(e.dir, FileName(from, to))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	e.logger.Info().Str("file_path", path).Msg("ledger export created")
	return path, nil
}

// FileName names an export of [from, to); the name carries the last day included.
func FileName(from, to time.Time) string {
	last := to.AddDate(0, 0, -1)
	return fmt.Sprintf("ledger_%s_to_%s.xlsx", from.Format(models.DateLayout), last.Format(models.DateLayout))
}

// Consistent reports whether the payment row agrees with its ledger.
func Consistent(s *models.LedgerSummary) bool {
	p := s.Payment
	if s.RefundedTotal != p.RefundAmount {
		return false
	}
	captured := p.Status == models.PaymentDone || (p.Status == models.PaymentCancelled && p.RefundAmount > 0)
	return captured == (s.PaidTotal > 0)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheet, cell, &values)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
