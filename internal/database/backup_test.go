package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stayledger/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackupService(t *testing.T, db *DB, retention int) (*BackupService, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "backups")
	logger := zerolog.Nop()
	return NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: dir, RetentionDays: retention}, &logger), dir
}

func TestBackupService_SnapshotRestores(t *testing.T) {
	db := setupTestDB(t)
	seedProperty(t, db)
	s, _ := newBackupService(t, db, 7)

	path, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)

	logger := zerolog.Nop()
	restored, err := NewDB(path, &logger)
	require.NoError(t, err)
	defer restored.Close()
	p, err := restored.GetProperty(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Seaside flat", p.Title)
}

func TestBackupService_Prune(t *testing.T) {
	db := setupTestDB(t)
	s, dir := newBackupService(t, db, 2)
	now := time.Date(2030, 6, 10, 3, 0, 0, 0, time.UTC)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	write := func(name string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		return p
	}
	stale := write("stayledger_20300601_030000.000.db")
	edge := write("stayledger_20300608_030000.000.db")
	fresh := write("stayledger_20300609_030000.000.db")
	unrelated := write("notes_20300101.db")

	s.now = func() time.Time { return now }
	removed, err := s.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, edge)
	assert.FileExists(t, fresh)
	assert.FileExists(t, unrelated)

	snaps, err := s.Snapshots()
	require.NoError(t, err)
	assert.Equal(t, []string{edge, fresh}, snaps)
}

func TestBackupService_PruneKeepsNewest(t *testing.T) {
	db := setupTestDB(t)
	s, dir := newBackupService(t, db, 1)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	only := filepath.Join(dir, "stayledger_20200101_000000.000.db")
	require.NoError(t, os.WriteFile(only, []byte("x"), 0o644))

	removed, err := s.Prune()
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.FileExists(t, only)
}

func TestBackupService_Disabled(t *testing.T) {
	db := setupTestDB(t)
	logger := zerolog.Nop()
	storagePath := filepath.Join(t.TempDir(), "never")
	s := NewBackupService(db, config.BackupConfig{Enabled: false, StoragePath: storagePath}, &logger)

	s.Run(context.Background())

	_, err := os.Stat(storagePath)
	assert.True(t, os.IsNotExist(err))
	snaps, err := s.Snapshots()
	require.NoError(t, err)
	assert.Empty(t, snaps)
}
