package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"spreadwatch/internal/registry"
	"spreadwatch/internal/storage"
)

const alertPruneSchedule = "@every 1h"

// startJobs registers the file backup and alert retention jobs.
func (a *App) startJobs(alertStore storage.AlertStore) (*cron.Cron, error) {
	c := cron.New()

	if a.Config.Files.AutoBackup {
		if _, err := c.AddFunc(a.Config.Files.BackupSchedule, func() {
			if _, err := a.Backup(); err != nil {
				a.Logger.Error().Err(err).Msg("scheduled backup failed")
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule backup %q: %w", a.Config.Files.BackupSchedule, err)
		}
	}

	if alertStore != nil && a.Config.Database.AlertRetention > 0 {
		if _, err := c.AddFunc(alertPruneSchedule, func() {
			a.pruneAlerts(alertStore)
		}); err != nil {
			return nil, fmt.Errorf("schedule alert pruning: %w", err)
		}
	}

	c.Start()
	a.Logger.Info().Int("jobs", len(c.Entries())).Msg("cron jobs scheduled")
	return c, nil
}

// Backup copies the token and blacklist files into the backup directory.
func (a *App) Backup() ([]string, error) {
	files := a.Config.Files
	written, err := registry.Backup(files.BackupDir, time.Now(), files.BackupKeep, files.TokensFile, files.BlacklistFile)
	if err != nil {
		return nil, err
	}
	a.Logger.Info().Strs("files", written).Str("dir", files.BackupDir).Msg("backup completed")
	return written, nil
}

func (a *App) pruneAlerts(alertStore storage.AlertStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-a.Config.Database.AlertRetention)
	if err := alertStore.DeleteAlertsBefore(ctx, cutoff); err != nil {
		a.Logger.Error().Err(err).Msg("alert pruning failed")
		return
	}
	a.Logger.Debug().Time("cutoff", cutoff).Msg("old alerts pruned")
}
