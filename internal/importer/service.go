// Package importer drives bulk imports: upload, column mapping, preview and
// the background task that turns rows into ledger transactions exactly once.
package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jask/jaskledger/internal/apperr"
	"github.com/jask/jaskledger/internal/database"
	"github.com/jask/jaskledger/internal/database/repository"
	"github.com/jask/jaskledger/internal/jobs"
	"github.com/jask/jaskledger/internal/ledger"
	"github.com/jask/jaskledger/internal/normalize"
	"github.com/jask/jaskledger/internal/notify"
	"github.com/jask/jaskledger/internal/rowsource"
)

type Config struct {
	PreviewRows   int
	MaxRows       int
	DateLayouts   []string
	Location      *time.Location
	NotifyTimeout time.Duration
	PageSize      int // source rows fetched per query while processing
}

func (c Config) withDefaults() Config {
	if c.PreviewRows <= 0 {
		c.PreviewRows = 5
	}
	if c.MaxRows <= 0 {
		c.MaxRows = 50000
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 5 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 200
	}
	return c
}

// Service is the import job state machine.
type Service struct {
	db       *sql.DB
	ledger   *ledger.Service
	runner   *jobs.Runner
	notifier notify.Notifier
	log      zerolog.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(db *sql.DB, ledgerSvc *ledger.Service, runner *jobs.Runner, notifier notify.Notifier, log zerolog.Logger, cfg Config) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		db:       db,
		ledger:   ledgerSvc,
		runner:   runner,
		notifier: notifier,
		log:      log,
		cfg:      cfg.withDefaults(),
		now:      database.Now,
	}
}

// UploadResult is what the caller needs to choose a mapping.
type UploadResult struct {
	Job       repository.ImportJob
	Preview   []map[string]string
	Suggested normalize.Mapping
}

// Upload creates a pending job and stages every row of tbl.
func (s *Service) Upload(ctx context.Context, ownerID, filename string, tbl rowsource.Table) (*UploadResult, error) {
	filename = strings.TrimSpace(filepath.Base(strings.TrimSpace(filename)))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, apperr.Invalid("filename", "is required")
	}
	if len(tbl.Headers) == 0 {
		return nil, apperr.Invalid("file", "has no header row")
	}
	if len(tbl.Rows) == 0 {
		return nil, apperr.Invalid("file", "has no data rows")
	}
	if len(tbl.Rows) > s.cfg.MaxRows {
		return nil, apperr.Invalid("file", "has %d rows, the limit is %d", len(tbl.Rows), s.cfg.MaxRows)
	}

	payloads := make([][]byte, len(tbl.Rows))
	for i, row := range tbl.Rows {
		b, err := json.Marshal(row)
		if err != nil {
			return nil, apperr.Invalid("file", "row %d: %v", i+1, err)
		}
		payloads[i] = b
	}

	suggested := normalize.Suggest(tbl.Headers)
	suggestedJSON, err := json.Marshal(suggested)
	if err != nil {
		return nil, fmt.Errorf("encode suggested mapping: %w", err)
	}
	job := repository.ImportJob{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		Filename:         filename,
		RowCount:         len(tbl.Rows),
		Status:           repository.JobPending,
		Headers:          tbl.Headers,
		SuggestedMapping: suggestedJSON,
		CreatedAt:        s.now(),
	}
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo := repository.NewImportJobRepo(tx)
		if err := repo.Insert(ctx, job); err != nil {
			return err
		}
		return repo.InsertSourceRows(ctx, job.ID, payloads)
	})
	if err != nil {
		return nil, apperr.Storage("create import job", err)
	}

	n := min(s.cfg.PreviewRows, len(tbl.Rows))
	s.log.Info().Str("job_id", job.ID).Str("owner_id", ownerID).Int("rows", job.RowCount).Msg("import uploaded")
	return &UploadResult{Job: job, Preview: tbl.Rows[:n], Suggested: suggested}, nil
}

// ConfigureMapping stores the column mapping of a pending job.
func (s *Service) ConfigureMapping(ctx context.Context, jobID, ownerID string, m normalize.Mapping) (*repository.ImportJob, error) {
	job, err := s.load(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Status != repository.JobPending {
		return nil, stateError(job, "configure")
	}
	if err := m.Validate(job.Headers); err != nil {
		return nil, err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode mapping: %w", err)
	}
	ok, err := repository.NewImportJobRepo(s.db).Configure(ctx, ownerID, jobID, b)
	if err != nil {
		return nil, apperr.Storage("configure import job", err)
	}
	if !ok {
		return nil, fmt.Errorf("job %s is no longer pending: %w", jobID, apperr.ErrInvalidState)
	}
	return s.load(ctx, jobID, ownerID)
}

// PreviewRow is a normalized preview row. AlreadyImported is set when the
// key is claimed by an earlier outcome or by an earlier preview row.
type PreviewRow struct {
	normalize.Result
	AlreadyImported bool `json:"already_imported"`
}

// Preview normalizes the first rows of a configured job without side effects.
func (s *Service) Preview(ctx context.Context, jobID, ownerID string) ([]PreviewRow, error) {
	job, err := s.load(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Status == repository.JobPending {
		return nil, stateError(job, "preview")
	}
	m, err := decodeMapping(job)
	if err != nil {
		return nil, err
	}
	src, err := repository.NewImportJobRepo(s.db).SourceRows(ctx, jobID, 0, s.cfg.PreviewRows)
	if err != nil {
		return nil, apperr.Storage("load preview rows", err)
	}

	out := make([]PreviewRow, 0, len(src))
	keys := make([]string, 0, len(src))
	for _, sr := range src {
		res, err := s.normalizeRow(sr, m)
		if err != nil {
			return nil, err
		}
		out = append(out, PreviewRow{Result: res})
		keys = append(keys, res.Key)
	}
	claimed, err := repository.NewImportRowRepo(s.db).ClaimedKeys(ctx, ownerID, keys)
	if err != nil {
		return nil, apperr.Storage("check claimed keys", err)
	}
	seen := make(map[string]bool, len(out))
	for i := range out {
		k := out[i].Key
		out[i].AlreadyImported = claimed[k] || seen[k]
		seen[k] = true
	}
	return out, nil
}

// Process moves a configured job to processing and hands it to a background
// task. A job is processed at most once.
func (s *Service) Process(ctx context.Context, jobID, ownerID string) (*repository.ImportJob, error) {
	job, err := s.load(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Status != repository.JobConfigured {
		return nil, stateError(job, "process")
	}
	m, err := decodeMapping(job)
	if err != nil {
		return nil, err
	}
	ok, err := repository.NewImportJobRepo(s.db).StartProcessing(ctx, ownerID, jobID, s.now())
	if err != nil {
		return nil, apperr.Storage("start import job", err)
	}
	if !ok {
		return nil, fmt.Errorf("job %s is no longer configured: %w", jobID, apperr.ErrInvalidState)
	}

	job.Status = repository.JobProcessing
	if err := s.runner.Submit(jobID, func(taskCtx context.Context) { s.run(taskCtx, *job, m) }); err != nil {
		s.finish(ctx, *job, repository.JobFailed, err.Error())
		return nil, apperr.Storage("schedule import job", err)
	}
	return s.load(ctx, jobID, ownerID)
}

// StatusReport is the progress of one job.
type StatusReport struct {
	Job      repository.ImportJob
	Counts   repository.RowCounts
	Failures []repository.ImportRow
}

func (s *Service) Status(ctx context.Context, jobID, ownerID string) (*StatusReport, error) {
	job, err := s.load(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	rows := repository.NewImportRowRepo(s.db)
	counts, err := rows.Counts(ctx, jobID)
	if err != nil {
		return nil, apperr.Storage("count import rows", err)
	}
	failures, err := rows.List(ctx, jobID, repository.RowFailed)
	if err != nil {
		return nil, apperr.Storage("list failed rows", err)
	}
	return &StatusReport{Job: *job, Counts: counts, Failures: failures}, nil
}

func (s *Service) List(ctx context.Context, ownerID string, limit int) ([]repository.ImportJob, error) {
	out, err := repository.NewImportJobRepo(s.db).ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, apperr.Storage("list import jobs", err)
	}
	return out, nil
}

// Cancel stops a processing job at its next row boundary. Rows already
// committed stay committed and the job ends failed.
func (s *Service) Cancel(ctx context.Context, jobID, ownerID string) (*repository.ImportJob, error) {
	job, err := s.load(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Status != repository.JobProcessing {
		return nil, stateError(job, "cancel")
	}
	if !s.runner.Cancel(jobID) {
		// no live task in this process; close the job directly
		s.finish(ctx, *job, repository.JobFailed, jobs.ErrCancelled.Error())
	}
	return s.load(ctx, jobID, ownerID)
}

func (s *Service) load(ctx context.Context, jobID, ownerID string) (*repository.ImportJob, error) {
	job, err := repository.NewImportJobRepo(s.db).Get(ctx, ownerID, jobID)
	if err != nil {
		return nil, apperr.Storage("load import job", err)
	}
	if job == nil {
		return nil, fmt.Errorf("import job %s: %w", jobID, apperr.ErrNotFound)
	}
	return job, nil
}

func (s *Service) normalizeRow(sr repository.SourceRow, m normalize.Mapping) (normalize.Result, error) {
	var raw map[string]string
	if err := json.Unmarshal(sr.Payload, &raw); err != nil {
		return normalize.Result{}, apperr.Storage("decode staged row", fmt.Errorf("row %d: %w", sr.RowNumber, err))
	}
	return normalize.Normalize(sr.RowNumber, raw, m, normalize.Options{
		Layouts:  s.cfg.DateLayouts,
		Location: s.cfg.Location,
	}), nil
}

func decodeMapping(job *repository.ImportJob) (normalize.Mapping, error) {
	var m normalize.Mapping
	if len(job.Mapping) == 0 {
		return m, fmt.Errorf("job %s has no mapping: %w", job.ID, apperr.ErrInvalidState)
	}
	if err := json.Unmarshal(job.Mapping, &m); err != nil {
		return m, apperr.Storage("decode mapping", err)
	}
	return m, nil
}

func stateError(job *repository.ImportJob, op string) error {
	return fmt.Errorf("cannot %s job %s in status %s: %w", op, job.ID, job.Status, apperr.ErrInvalidState)
}
