package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"stayledger/internal/config"

	"github.com/rs/zerolog"
)

const (
	snapshotPrefix = "stayledger_"
	snapshotSuffix = ".db"
	snapshotLayout = "20060102_150405.000"
)

// BackupService snapshots the ledger database with VACUUM INTO and keeps
// RetentionDays worth of snapshots. Other files in the directory are left alone.
type BackupService struct {
	db     *DB
	config config.BackupConfig
	logger *zerolog.Logger
	now    func() time.Time
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	l := logger.With().Str("component", "backup").Logger()
	return &BackupService{db: db, config: cfg, logger: &l, now: time.Now}
}

// Run is the scheduled job body.
func (s *BackupService) Run(ctx context.Context) {
	if !s.config.Enabled {
		return
	}
	path, err := s.Snapshot(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled backup failed")
		return
	}
	removed, err := s.Prune()
	if err != nil {
		s.logger.Warn().Err(err).Msg("prune backups")
	}
	s.logger.Info().Str("path", path).Int("pruned", removed).Msg("backup completed")
}

// Snapshot writes a consistent copy of the database and returns its path.
func (s *BackupService) Snapshot(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	name := snapshotPrefix + s.now().UTC().Format(snapshotLayout) + snapshotSuffix
	path := filepath.Join(s.config.StoragePath, name)

	quoted := strings.ReplaceAll(path, "'", "''")
	if _, err := s.db.db.ExecContext(ctx, "VACUUM INTO '"+quoted+"'"); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return path, nil
}

// Snapshots lists snapshot paths oldest first.
func (s *BackupService) Snapshots() ([]string, error) {
	entries, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if _, ok := snapshotTime(e.Name()); ok && !e.IsDir() {
			out = append(out, filepath.Join(s.config.StoragePath, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Prune removes snapshots taken more than RetentionDays ago, judged by the
// timestamp in the file name. The newest snapshot is always kept.
func (s *BackupService) Prune() (int, error) {
	if s.config.RetentionDays <= 0 {
		return 0, nil
	}
	paths, err := s.Snapshots()
	if err != nil || len(paths) == 0 {
		return 0, err
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for _, p := range paths[:len(paths)-1] {
		taken, _ := snapshotTime(filepath.Base(p))
		if !taken.Before(cutoff) {
			break
		}
		if err := os.Remove(p); err != nil {
			s.logger.Warn().Err(err).Str("file", p).Msg("delete old backup")
			continue
		}
		removed++
	}
	return removed, nil
}

func snapshotTime(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)
	t, err := time.Parse(snapshotLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
