package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// BackupConfig controls periodic database snapshots.
type BackupConfig struct {
	Enabled       bool
	Schedule      string
	StoragePath   string
	RetentionDays int
}

// BackupService writes periodic snapshots of the database and prunes old ones.
type BackupService struct {
	db     *DB
	config BackupConfig
	logger *zerolog.Logger
	now    func() time.Time
}

func NewBackupService(db *DB, cfg BackupConfig, logger *zerolog.Logger) *BackupService {
	if cfg.StoragePath == "" {
		cfg.StoragePath = "backups"
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	return &BackupService{
		db:     db,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start runs one backup immediately and then on the configured cron schedule
// until ctx is done.
func (s *BackupService) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.config.Schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("parse backup schedule %q: %w", s.config.Schedule, err)
	}

	s.logger.Info().Str("schedule", s.config.Schedule).Msg("Backup service started")
	s.run(ctx)

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

func (s *BackupService) run(ctx context.Context) {
	path, err := s.PerformBackup(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Backup failed")
		return
	}
	s.logger.Info().Str("path", path).Msg("Backup completed successfully")

	deleted, err := s.CleanupOldBackups()
	if err != nil {
		s.logger.Error().Err(err).Msg("Backup cleanup failed")
	} else if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("Cleaned up old backups")
	}
}

// PerformBackup snapshots the database into the storage directory and returns
// the file path. VACUUM INTO gives a consistent copy while writers are active.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	timestamp := s.now().Format("20060102_150405")
	dest := filepath.Join(s.config.StoragePath, fmt.Sprintf("velosta_%s.db", timestamp))

	s.logger.Info().Str("path", dest).Msg("Performing database backup")
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return dest, nil
}

// CleanupOldBackups removes snapshots older than the retention period.
func (s *BackupService) CleanupOldBackups() (int, error) {
	if s.config.RetentionDays <= 0 {
		return 0, nil
	}

	files, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		return 0, fmt.Errorf("read backup directory: %w", err)
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	deleted := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), "velosta_") || !strings.HasSuffix(file.Name(), ".db") {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", file.Name()).Msg("Deleting old backup")
			if err := os.Remove(filepath.Join(s.config.StoragePath, file.Name())); err != nil {
				return deleted, fmt.Errorf("remove %s: %w", file.Name(), err)
			}
			deleted++
		}
	}
	return deleted, nil
}
