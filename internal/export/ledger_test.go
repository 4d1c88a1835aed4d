package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stayledger/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeSource struct {
	txns      []*models.PaymentTransaction
	summaries []*models.LedgerSummary
	err       error
}

func (s *fakeSource) ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]*models.PaymentTransaction, error) {
	return s.txns, s.err
}

func (s *fakeSource) ListLedgerSummaries(ctx context.Context) ([]*models.LedgerSummary, error) {
	return s.summaries, s.err
}

func strPtr(s string) *string { return &s }

func sampleSource() *fakeSource {
	at := time.Date(2030, 6, 10, 9, 30, 0, 0, time.UTC)
	return &fakeSource{
		txns: []*models.PaymentTransaction{
			{ID: 1, PaymentID: 7, Type: models.TransactionPayment, Status: models.TransactionSuccess, Amount: 220000, ExternalID: strPtr("pk_1"), Method: strPtr("CARD"), CreatedAt: at},
			{ID: 2, PaymentID: 7, Type: models.TransactionRefund, Status: models.TransactionSuccess, Amount: 110000, ExternalID: strPtr("rf_1"), CreatedAt: at.Add(time.Hour), Metadata: `{"reason":"cancelled"}`},
		},
		summaries: []*models.LedgerSummary{
			{Payment: &models.Payment{ID: 7, BookingID: 3, OrderID: "o-7", Status: models.PaymentDone, Amount: 220000, RefundAmount: 110000}, PaidTotal: 220000, RefundedTotal: 110000},
			{Payment: &models.Payment{ID: 8, BookingID: 4, OrderID: "o-8", Status: models.PaymentReady, Amount: 90000}, PaidTotal: 90000},
		},
	}
}

func TestBuildWorkbook(t *testing.T) {
	logger := zerolog.Nop()
	e := NewLedgerExporter(sampleSource(), t.TempDir(), &logger)
	from, to := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2030, 7, 1, 0, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, e.Write(context.Background(), &buf, from, to))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetTransactions, SheetSummary}, f.GetSheetList())

	rows, err := f.GetRows(SheetTransactions)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, []string{"1", "7", "PAYMENT", "SUCCESS", "220000", "pk_1", "CARD", "2030-06-10 09:30:00"}, rows[1][:8])
	assert.Equal(t, "REFUND", rows[2][2])

	rows, err = f.GetRows(SheetSummary)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "yes", rows[1][8])
	assert.Equal(t, "no", rows[2][8])
}

func TestSaveFile(t *testing.T) {
	logger := zerolog.Nop()
	dir := filepath.Join(t.TempDir(), "exports")
	e := NewLedgerExporter(sampleSource(), dir, &logger)
	from, to := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2030, 7, 1, 0, 0, 0, 0, time.UTC)

	path, err := e.SaveFile(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ledger_2030-06-01_to_2030-06-30.xlsx"), path)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestBuildErrors(t *testing.T) {
	logger := zerolog.Nop()
	day := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)

	e := NewLedgerExporter(sampleSource(), t.TempDir(), &logger)
	_, err := e.Build(context.Background(), day, day)
	assert.Error(t, err)

	e = NewLedgerExporter(&fakeSource{err: errors.New("disk I/O error")}, t.TempDir(), &logger)
	_, err = e.Build(context.Background(), day, day.AddDate(0, 1, 0))
	assert.ErrorContains(t, err, "disk I/O error")
}

func TestConsistent(t *testing.T) {
	tests := []struct {
		name string
		s    *models.LedgerSummary
		want bool
	}{
		{"captured", &models.LedgerSummary{Payment: &models.Payment{Status: models.PaymentDone, Amount: 100}, PaidTotal: 100}, true},
		{"capture missing locally", &models.LedgerSummary{Payment: &models.Payment{Status: models.PaymentFailed, Amount: 100}, PaidTotal: 100}, false},
		{"fully refunded", &models.LedgerSummary{Payment: &models.Payment{Status: models.PaymentCancelled, Amount: 100, RefundAmount: 100}, PaidTotal: 100, RefundedTotal: 100}, true},
		{"refund drift", &models.LedgerSummary{Payment: &models.Payment{Status: models.PaymentDone, Amount: 100, RefundAmount: 40}, PaidTotal: 100, RefundedTotal: 50}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Consistent(tt.s))
		})
	}
}
