// Package persistence stores project snapshots and artifacts in SQLite
// through gorm. It implements kernel.PersistenceHook and kernel.ArtifactStore.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
)

// DefaultSnapshotRetention is how many snapshots are kept per project.
const DefaultSnapshotRetention = 200

var (
	// ErrNotFound is returned when a snapshot or artifact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrArtifactExists is returned by Create for a duplicate artifact id.
	ErrArtifactExists = errors.New("artifact already exists")
	// ErrStaleArtifact is returned by Update when the version does not advance.
	ErrStaleArtifact = errors.New("artifact version is not newer than the stored one")
)

// Options configures Open.
type Options struct {
	// SnapshotRetention bounds snapshots per project. Zero uses the default,
	// a negative value keeps everything.
	SnapshotRetention int
}

// Store is the SQLite-backed persistence layer.
// Thread-safe; the pool is limited to one connection.
type Store struct {
	db        *gorm.DB
	retention int
}

var (
	_ kernel.PersistenceHook = (*Store)(nil)
	_ kernel.ArtifactStore   = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and migrates it.
// path may also be a "file:...?mode=memory" DSN.
func Open(path string, opts Options) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := gdb.AutoMigrate(&snapshotRow{}, &artifactRow{}, &artifactVersionRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	retention := opts.SnapshotRetention
	if retention == 0 {
		retention = DefaultSnapshotRetention
	}
	return &Store{db: gdb, retention: retention}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// =============================================================================
// Rows
// =============================================================================

type snapshotRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ProjectID string `gorm:"index;not null"`
	Reason    string `gorm:"not null"`
	State     string `gorm:"not null"`
	SignedOff int
	Agents    int
	Body      string `gorm:"type:text;not null"`
	TakenAtMs int64  `gorm:"index;not null"`
}

func (snapshotRow) TableName() string { return "project_snapshots" }

type artifactRow struct {
	ID          string `gorm:"primaryKey"`
	ProjectID   string `gorm:"index"`
	Kind        string `gorm:"not null"`
	Name        string `gorm:"not null"`
	Owner       string `gorm:"index"`
	Version     int    `gorm:"not null"`
	Content     string `gorm:"type:text"`
	Metadata    string `gorm:"type:text"`
	CreatedAtMs int64
	UpdatedAtMs int64
}

func (artifactRow) TableName() string { return "artifacts" }

type artifactVersionRow struct {
	ArtifactID string `gorm:"primaryKey"`
	Version    int    `gorm:"primaryKey"`
	Content    string `gorm:"type:text"`
	SavedAtMs  int64
}

func (artifactVersionRow) TableName() string { return "artifact_versions" }

func (s *Store) ready(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("persistence store is not initialized")
	}
	return s.db.WithContext(ctx), nil
}
