package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stayledger/internal/domain"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicate              = errors.New("duplicate record")
	ErrOverlap                = errors.New("booking dates overlap an active booking")
)

const (
	maxTxAttempts   = 5
	busyTimeoutMs   = 5000
	overlapAbortMsg = "booking overlap"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; it runs against either *sql.DB or *sql.Tx.
type queries struct {
	q dbtx
}

type DB struct {
	queries
	db     *sql.DB
	path   string
	logger *zerolog.Logger
}

// Tx is the handle passed to WithinTx callbacks.
type Tx struct {
	queries
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	memory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")
	if !memory {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(path, memory))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	l := logger.With().Str("component", "database").Logger()
	l.Info().Str("path", path).Msg("database initialized")

	return &DB{
		queries: queries{q: sqlDB},
		db:      sqlDB,
		path:    path,
		logger:  &l,
	}, nil
}

// dsn makes every transaction BEGIN IMMEDIATE so the write lock is taken
// before the availability re-check reads anything.
func dsn(path string, memory bool) string {
	params := fmt.Sprintf("_txlock=immediate&_busy_timeout=%d&_foreign_keys=on", busyTimeoutMs)
	if !memory {
		params += "&_journal_mode=WAL"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params
}

func createTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL DEFAULT '',
            telegram_chat_id INTEGER,
            credits INTEGER NOT NULL DEFAULT 0,
            total_earned INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS properties (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            host_id INTEGER NOT NULL,
            title TEXT NOT NULL DEFAULT '',
            price_per_night INTEGER NOT NULL CHECK (price_per_night >= 0),
            min_nights INTEGER NOT NULL DEFAULT 1,
            max_nights INTEGER NOT NULL DEFAULT 0,
            max_guests INTEGER NOT NULL DEFAULT 1,
            status TEXT NOT NULL CHECK (status IN ('DRAFT','PENDING','APPROVED','REJECTED','INACTIVE')),
            instant_book BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS calendar_days (
            property_id INTEGER NOT NULL REFERENCES properties(id),
            date TEXT NOT NULL,
            available BOOLEAN NOT NULL DEFAULT 1,
            price_override INTEGER CHECK (price_override IS NULL OR price_override >= 0),
            PRIMARY KEY (property_id, date)
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            property_id INTEGER NOT NULL REFERENCES properties(id),
            guest_id INTEGER NOT NULL,
            check_in TEXT NOT NULL,
            check_out TEXT NOT NULL,
            guests INTEGER NOT NULL CHECK (guests >= 1),
            total_amount INTEGER NOT NULL CHECK (total_amount >= 0),
            status TEXT NOT NULL CHECK (status IN ('PENDING','CONFIRMED','REJECTED','CANCELLED','COMPLETED','NO_SHOW')),
            cancellation_reason TEXT,
            rejection_reason TEXT,
            confirmed_at DATETIME,
            cancelled_at DATETIME,
            rejected_at DATETIME,
            completed_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1,
            CHECK (check_in < check_out)
        )`,
		`CREATE TABLE IF NOT EXISTS payments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL UNIQUE REFERENCES bookings(id),
            guest_id INTEGER NOT NULL,
            order_id TEXT NOT NULL UNIQUE,
            amount INTEGER NOT NULL CHECK (amount >= 0),
            status TEXT NOT NULL CHECK (status IN ('READY','DONE','CANCELLED','FAILED')),
            payment_key TEXT,
            method TEXT,
            refund_amount INTEGER NOT NULL DEFAULT 0 CHECK (refund_amount >= 0 AND refund_amount <= amount),
            approved_at DATETIME,
            cancelled_at DATETIME,
            refunded_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS payment_transactions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            payment_id INTEGER NOT NULL REFERENCES payments(id),
            type TEXT NOT NULL CHECK (type IN ('PAYMENT','REFUND')),
            amount INTEGER NOT NULL,
            status TEXT NOT NULL CHECK (status IN ('SUCCESS','FAILED')),
            external_id TEXT,
            method TEXT,
            metadata TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS reviews (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL UNIQUE REFERENCES bookings(id),
            property_id INTEGER NOT NULL,
            guest_id INTEGER NOT NULL,
            rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
            content TEXT NOT NULL,
            sns_shared BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS credit_history (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL REFERENCES users(id),
            amount INTEGER NOT NULL,
            type TEXT NOT NULL,
            review_id INTEGER REFERENCES reviews(id),
            description TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS reconciliation_cases (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            payment_id INTEGER NOT NULL REFERENCES payments(id),
            kind TEXT NOT NULL,
            amount INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'OPEN',
            detail TEXT NOT NULL DEFAULT '',
            resolution TEXT,
            created_at DATETIME NOT NULL,
            resolved_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS notification_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		// Пересекающиеся активные брони запрещены на уровне хранилища
		`CREATE TRIGGER IF NOT EXISTS bookings_no_overlap
            BEFORE INSERT ON bookings
            WHEN NEW.status IN ('PENDING','CONFIRMED')
        BEGIN
            SELECT RAISE(ABORT, '` + overlapAbortMsg + `')
            WHERE EXISTS (
                SELECT 1 FROM bookings
                WHERE property_id = NEW.property_id
                  AND status IN ('PENDING','CONFIRMED')
                  AND check_in < NEW.check_out
                  AND check_out > NEW.check_in
            );
        END`,
		// Журнал платежей только дописывается
		`CREATE TRIGGER IF NOT EXISTS payment_transactions_no_update
            BEFORE UPDATE ON payment_transactions
        BEGIN
            SELECT RAISE(ABORT, 'payment ledger is append-only');
        END`,
		`CREATE TRIGGER IF NOT EXISTS payment_transactions_no_delete
            BEFORE DELETE ON payment_transactions
        BEGIN
            SELECT RAISE(ABORT, 'payment ledger is append-only');
        END`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_property_dates ON bookings(property_id, check_in, check_out)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_guest_id ON bookings(guest_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_transactions_payment_id ON payment_transactions(payment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_transactions_created_at ON payment_transactions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_history_user_id ON credit_history(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reconciliation_cases_status ON reconciliation_cases(status)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("error executing statement %s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// WithinTx runs fn inside one immediate transaction. The whole callback is
// retried when SQLite reports the database as busy or locked, so fn must not
// have side effects outside q.
func (db *DB) WithinTx(ctx context.Context, fn func(q domain.Queries) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = db.runTx(ctx, fn)
		if !isBusy(err) {
			return err
		}
		db.logger.Warn().Err(err).Int("attempt", attempt).Msg("database busy, retrying transaction")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 20 * time.Millisecond):
		}
	}
	return err
}

func (db *DB) runTx(ctx context.Context, fn func(q domain.Queries) error) (err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Tx{queries{q: tx}}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) Close() error {
	return db.db.Close()
}

// mapError translates SQLite constraint failures into package sentinels and
// keeps the driver error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	if se.Code != sqlite3.ErrConstraint {
		return err
	}

	switch {
	case strings.Contains(se.Error(), overlapAbortMsg):
		return fmt.Errorf("%w: %v", ErrOverlap, err)
	case se.ExtendedCode == sqlite3.ErrConstraintUnique, se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

type scanner interface {
	Scan(dest ...any) error
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
