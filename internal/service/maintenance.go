// Package service holds operational actions that sit outside the ledger and
// import workflows.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jask/jaskledger/internal/database"
	"github.com/jask/jaskledger/internal/database/repository"
)

// InterruptedReason is recorded on jobs that were processing when their
// process died.
const InterruptedReason = "interrupted"

// LiveJobs reports the jobs that have a task in this process.
type LiveJobs interface {
	Live() []string
}

// MaintenanceService houses import recovery and destructive local actions.
type MaintenanceService struct {
	DB  *sql.DB
	Log zerolog.Logger
	// StaleAfter is how long a processing job may go without a heartbeat
	// before it counts as orphaned.
	StaleAfter time.Duration
}

// RecoverStuckImports fails every processing job that has no live task in
// runner and whose heartbeat is older than StaleAfter.
func (s *MaintenanceService) RecoverStuckImports(ctx context.Context, runner LiveJobs) ([]string, error) {
	if s.DB == nil {
		return nil, fmt.Errorf("maintenance: db not configured")
	}
	var keep []string
	if runner != nil {
		keep = runner.Live()
	}
	now := database.Now()
	ids, err := repository.NewImportJobRepo(s.DB).FailProcessing(ctx, keep, now.Add(-s.StaleAfter), now, InterruptedReason)
	if err != nil {
		return ids, fmt.Errorf("recover stuck imports: %w", err)
	}
	for _, id := range ids {
		s.Log.Warn().Str("job_id", id).Msg("import job interrupted; marked failed")
	}
	return ids, nil
}

// WatchStuckImports runs RecoverStuckImports every interval until ctx is
// done, so jobs orphaned by another process are closed without a restart.
func (s *MaintenanceService) WatchStuckImports(ctx context.Context, runner LiveJobs, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RecoverStuckImports(ctx, runner); err != nil && ctx.Err() == nil {
				s.Log.Error().Err(err).Msg("recover stuck imports")
			}
		}
	}
}

// Reset wipes all ledger and import data. It keeps the schema intact so the
// app can continue running.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		tables := []string{
			"import_rows",
			"import_source_rows",
			"import_jobs",
			"transactions",
			"accounts",
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	s.Log.Info().Msg("database reset")
	return nil
}
