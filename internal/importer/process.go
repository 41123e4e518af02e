package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jask/jaskledger/internal/apperr"
	"github.com/jask/jaskledger/internal/database"
	"github.com/jask/jaskledger/internal/database/repository"
	"github.com/jask/jaskledger/internal/ledger"
	"github.com/jask/jaskledger/internal/normalize"
	"github.com/jask/jaskledger/internal/notify"
)

// errJobClosed stops a task whose job was closed elsewhere, by a cancel
// without a live task or by recovery in another process.
var errJobClosed = errors.New("import job is no longer processing")

// run is the background task of one job. Rows are handled in ascending order,
// one committed unit each. Cancellation is only observed between rows.
func (s *Service) run(ctx context.Context, job repository.ImportJob, m normalize.Mapping) {
	log := s.log.With().Str("job_id", job.ID).Str("owner_id", job.OwnerID).Logger()

	// row units must not be torn down halfway by a cancel
	rowCtx := context.WithoutCancel(ctx)
	srcRepo := repository.NewImportJobRepo(s.db)

	alive, err := srcRepo.Heartbeat(rowCtx, job.ID, s.now())
	if err != nil {
		s.abort(job, log, apperr.Storage("check import job", err).Error())
		return
	}
	if !alive {
		log.Warn().Msg("import job closed before its task started")
		return
	}
	log.Info().Int("rows", job.RowCount).Msg("import started")

	after := 0
	for {
		if ctx.Err() != nil {
			s.abort(job, log, context.Cause(ctx).Error())
			return
		}
		page, err := srcRepo.SourceRows(rowCtx, job.ID, after, s.cfg.PageSize)
		if err != nil {
			s.abort(job, log, apperr.Storage("load staged rows", err).Error())
			return
		}
		if len(page) == 0 {
			break
		}
		for _, sr := range page {
			if ctx.Err() != nil {
				s.abort(job, log, context.Cause(ctx).Error())
				return
			}
			err := s.processRow(rowCtx, job, m, sr, log)
			if errors.Is(err, errJobClosed) {
				log.Warn().Int("row", sr.RowNumber).Msg("import job closed while processing; stopping")
				return
			}
			if err != nil {
				s.abort(job, log, err.Error())
				return
			}
			after = sr.RowNumber
		}
	}

	if s.finish(rowCtx, job, repository.JobCompleted, "") {
		log.Info().Msg("import completed")
	}
}

// processRow commits the outcome of one row. A returned error is a storage
// failure and aborts the job; every domain problem becomes a failed outcome.
func (s *Service) processRow(ctx context.Context, job repository.ImportJob, m normalize.Mapping, sr repository.SourceRow, log zerolog.Logger) error {
	res, err := s.normalizeRow(sr, m)
	if err != nil {
		return err
	}
	normalized, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("row %d: encode normalized row: %w", sr.RowNumber, err)
	}

	outcome := repository.ImportRow{
		JobID:          job.ID,
		OwnerID:        job.OwnerID,
		RowNumber:      sr.RowNumber,
		IdempotencyKey: res.Key,
		Raw:            sr.Payload,
		Normalized:     normalized,
		Status:         repository.RowProcessed,
		CreatedAt:      s.now(),
	}
	if !res.Valid {
		msg := strings.Join(res.Errors, "; ")
		outcome.Status = repository.RowFailed
		outcome.Error = &msg
	}

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// rows are only committed while the job is processing
		alive, err := repository.NewImportJobRepo(tx).Heartbeat(ctx, job.ID, s.now())
		if err != nil {
			return apperr.Storage("job heartbeat", err)
		}
		if !alive {
			return errJobClosed
		}

		rows := repository.NewImportRowRepo(tx)
		claimed, err := rows.Claim(ctx, outcome)
		if err != nil {
			return apperr.Storage("claim row", err)
		}
		if !claimed {
			outcome.Status = repository.RowDuplicate
			outcome.Error = nil
			if err := rows.Insert(ctx, outcome); err != nil {
				return apperr.Storage("record duplicate", err)
			}
			log.Debug().Int("row", sr.RowNumber).Msg("duplicate row")
			return nil
		}
		if !res.Valid {
			log.Debug().Int("row", sr.RowNumber).Str("error", *outcome.Error).Msg("invalid row")
			return nil
		}

		fields, err := s.ledgerFields(ctx, tx, job.OwnerID, res.Candidate)
		if err != nil {
			return err
		}
		var txID string
		err = database.Savepoint(ctx, tx, "import_row", func() error {
			t, err := s.ledger.CreateTx(ctx, tx, job.OwnerID, fields)
			if err != nil {
				return err
			}
			txID = t.ID
			return nil
		})
		if apperr.IsDomain(err) {
			log.Debug().Int("row", sr.RowNumber).Err(err).Msg("row rejected by ledger")
			if err := rows.MarkFailed(ctx, job.ID, sr.RowNumber, err.Error()); err != nil {
				return apperr.Storage("mark row failed", err)
			}
			return nil
		}
		if err != nil {
			return apperr.Storage("create transaction", err)
		}
		if err := rows.AttachTransaction(ctx, job.ID, sr.RowNumber, txID); err != nil {
			return apperr.Storage("attach transaction", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("row %d: %w", sr.RowNumber, err)
	}
	return nil
}

// ledgerFields resolves the account reference of a candidate. An unmatched
// reference leaves the transaction without an account.
func (s *Service) ledgerFields(ctx context.Context, q database.Querier, ownerID string, c *normalize.Candidate) (ledger.Fields, error) {
	f := ledger.Fields{
		Amount:      c.Amount,
		Direction:   c.Direction,
		OccurredAt:  c.OccurredAt,
		Description: c.Description,
		PaymentMode: "import",
	}
	if c.Category != "" {
		f.CategoryID = &c.Category
	}
	if c.Reference != "" {
		f.Reference = &c.Reference
	}
	if c.Account != "" {
		acct, err := repository.NewAccountRepo(q).FindForOwner(ctx, ownerID, c.Account)
		if err != nil {
			return f, apperr.Storage("resolve account", err)
		}
		if acct != nil {
			f.AccountID = &acct.ID
		}
	}
	return f, nil
}

func (s *Service) abort(job repository.ImportJob, log zerolog.Logger, reason string) {
	if s.finish(context.Background(), job, repository.JobFailed, reason) {
		log.Warn().Str("reason", reason).Msg("import failed")
	}
}

// finish performs the terminal transition and, when this call made it,
// notifies the owner. It reports whether the transition happened.
func (s *Service) finish(ctx context.Context, job repository.ImportJob, status repository.JobStatus, reason string) bool {
	ctx = context.WithoutCancel(ctx)
	var errLog *string
	if reason != "" {
		errLog = &reason
	}
	ok, err := repository.NewImportJobRepo(s.db).Finish(ctx, job.ID, status, s.now(), errLog)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("finish import job")
		return false
	}
	if !ok {
		return false
	}

	counts, err := repository.NewImportRowRepo(s.db).Counts(ctx, job.ID)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("count import rows")
	}
	kind := notify.KindImportCompleted
	payload := map[string]any{
		"job_id":     job.ID,
		"filename":   job.Filename,
		"status":     string(status),
		"processed":  counts.Processed,
		"succeeded":  counts.Succeeded,
		"failed":     counts.Failed,
		"duplicates": counts.Duplicates,
	}
	if status == repository.JobFailed {
		kind = notify.KindImportFailed
		payload["error"] = reason
	}

	nctx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(nctx, job.OwnerID, kind, payload); err != nil {
		s.log.Warn().Err(err).Str("job_id", job.ID).Str("kind", kind).Msg("notify owner")
	}
	return true
}
