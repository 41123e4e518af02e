package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/jask/jaskledger/internal/config"
	"github.com/jask/jaskledger/internal/database"
	"github.com/jask/jaskledger/internal/database/repository"
	"github.com/jask/jaskledger/internal/importer"
	"github.com/jask/jaskledger/internal/jobs"
	"github.com/jask/jaskledger/internal/ledger"
	"github.com/jask/jaskledger/internal/logger"
	"github.com/jask/jaskledger/internal/normalize"
	"github.com/jask/jaskledger/internal/notify"
	"github.com/jask/jaskledger/internal/prefs"
	"github.com/jask/jaskledger/internal/rowsource"
	"github.com/jask/jaskledger/internal/service"
	"github.com/jask/jaskledger/internal/tui"
)

func main() {
	var opts options
	flag.StringVar(&opts.owner, "owner", "local", "owner id the import belongs to")
	flag.StringVar(&opts.mapSpec, "map", "", "column mapping, e.g. date=Date,amount=Amount,description=Details (default: suggested)")
	flag.StringVar(&opts.preset, "preset", "", "use a saved mapping preset")
	flag.StringVar(&opts.savePreset, "save-preset", "", "save the mapping used under this preset name")
	flag.BoolVar(&opts.reset, "reset", false, "wipe all ledger and import data before importing")
	flag.BoolVar(&opts.plain, "plain", false, "print progress lines instead of the interactive view")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] FILE.csv|FILE.xlsx\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(opts, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	owner      string
	mapSpec    string
	preset     string
	savePreset string
	reset      bool
	plain      bool
}

func run(opts options, args []string) error {
	owner := opts.owner
	if len(args) == 0 && !opts.reset {
		flag.Usage()
		return fmt.Errorf("no input file")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, _ := cfg.Import.Location()

	// logs go next to the database so they do not disturb the view
	logPath := filepath.Join(filepath.Dir(cfg.Database.Path), "import.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	log, err := logger.NewWithOptions(logFile, logger.Options{Level: cfg.Log.Level, Format: "json"})
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := database.OpenMigrated(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	runner := jobs.NewRunner(log)
	// only jobs with a stale heartbeat are failed, so a server importing
	// into the same database is left alone
	maintenance := &service.MaintenanceService{DB: db, Log: log, StaleAfter: cfg.Import.StaleAfter}
	if _, err := maintenance.RecoverStuckImports(ctx, runner); err != nil {
		return err
	}
	if opts.reset {
		if err := maintenance.Reset(ctx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		fmt.Println("database reset")
		if len(args) == 0 {
			return nil
		}
	}

	ledgerSvc := ledger.NewService(db, log)
	imports := importer.NewService(db, ledgerSvc, runner, notify.Log{Logger: log}, log, importer.Config{
		PreviewRows:   cfg.Import.PreviewRows,
		MaxRows:       cfg.Import.MaxRows,
		DateLayouts:   cfg.Import.DateLayouts,
		Location:      loc,
		NotifyTimeout: cfg.Import.NotifyTimeout,
	})
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = runner.Stop(stopCtx)
	}()

	jobID, err := start(ctx, imports, owner, args[0], opts)
	if err != nil {
		return err
	}

	var report *importer.StatusReport
	if opts.plain {
		report, err = watchPlain(ctx, imports, jobID, owner, log)
	} else {
		report, err = watchTUI(ctx, imports, jobID, owner)
	}
	if err != nil {
		return err
	}
	return summarize(report)
}

// start uploads path and moves the new job to processing.
func start(ctx context.Context, imports *importer.Service, owner, path string, opts options) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	tbl, err := rowsource.Read(path, f)
	if err != nil {
		return "", err
	}

	up, err := imports.Upload(ctx, owner, path, tbl)
	if err != nil {
		return "", err
	}
	m, err := chooseMapping(up.Suggested, opts)
	if err != nil {
		return "", err
	}
	fmt.Printf("%s: %d rows, mapping %s\n", up.Job.Filename, up.Job.RowCount, m)
	if _, err := imports.ConfigureMapping(ctx, up.Job.ID, owner, m); err != nil {
		return "", err
	}
	if opts.savePreset != "" {
		presets, err := prefs.DefaultPresets()
		if err != nil {
			return "", err
		}
		if err := presets.Save(opts.savePreset, m); err != nil {
			return "", fmt.Errorf("save preset: %w", err)
		}
	}
	if _, err := imports.Process(ctx, up.Job.ID, owner); err != nil {
		return "", err
	}
	return up.Job.ID, nil
}

func watchTUI(ctx context.Context, imports *importer.Service, jobID, owner string) (*importer.StatusReport, error) {
	view := tui.NewProgress(ctx, imports, jobID, owner, 200*time.Millisecond)
	if _, err := tea.NewProgram(view).Run(); err != nil {
		return nil, err
	}
	if view.Err() != nil {
		return nil, view.Err()
	}
	if !view.Done() {
		// detached; the job stops at its next row boundary
		fmt.Println("detached; cancelling import")
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := imports.Cancel(stopCtx, jobID, owner); err != nil {
			return nil, err
		}
		return waitTerminal(stopCtx, imports, jobID, owner)
	}
	return view.Report(), nil
}

func watchPlain(ctx context.Context, imports *importer.Service, jobID, owner string, log zerolog.Logger) (*importer.StatusReport, error) {
	last := -1
	for {
		rep, err := imports.Status(ctx, jobID, owner)
		if err != nil {
			return nil, err
		}
		if rep.Counts.Processed != last {
			last = rep.Counts.Processed
			fmt.Printf("%d/%d rows\n", last, rep.Job.RowCount)
		}
		if rep.Job.Status.Terminal() {
			log.Debug().Str("job_id", jobID).Msg("import watched to completion")
			return rep, nil
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func waitTerminal(ctx context.Context, imports *importer.Service, jobID, owner string) (*importer.StatusReport, error) {
	for {
		rep, err := imports.Status(ctx, jobID, owner)
		if err != nil {
			return nil, err
		}
		if rep.Job.Status.Terminal() {
			return rep, nil
		}
		select {
		case <-ctx.Done():
			return rep, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func summarize(rep *importer.StatusReport) error {
	c := rep.Counts
	fmt.Printf("%s: %s, %d imported, %d failed, %d duplicates\n", rep.Job.Filename, rep.Job.Status, c.Succeeded, c.Failed, c.Duplicates)
	for _, f := range rep.Failures {
		if f.Error != nil {
			fmt.Printf("  row %d: %s\n", f.RowNumber, *f.Error)
		}
	}
	if rep.Job.Status == repository.JobFailed {
		reason := "unknown"
		if rep.Job.ErrorLog != nil {
			reason = *rep.Job.ErrorLog
		}
		return fmt.Errorf("import failed: %s", reason)
	}
	return nil
}

// chooseMapping applies -map over -preset over the suggestion.
func chooseMapping(suggested normalize.Mapping, opts options) (normalize.Mapping, error) {
	switch {
	case opts.mapSpec != "":
		return parseMapping(opts.mapSpec)
	case opts.preset != "":
		presets, err := prefs.DefaultPresets()
		if err != nil {
			return normalize.Mapping{}, err
		}
		return presets.Load(opts.preset)
	default:
		return suggested, nil
	}
}

// parseMapping reads "field=Column" pairs separated by commas.
func parseMapping(spec string) (normalize.Mapping, error) {
	var m normalize.Mapping
	targets := map[string]*string{
		"date":        &m.Date,
		"amount":      &m.Amount,
		"description": &m.Description,
		"type":        &m.Type,
		"category":    &m.Category,
		"account":     &m.Account,
		"reference":   &m.Reference,
	}
	for _, pair := range strings.Split(spec, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		field, column, ok := strings.Cut(pair, "=")
		if !ok {
			return m, fmt.Errorf("mapping %q: want field=Column", pair)
		}
		dst, known := targets[strings.ToLower(strings.TrimSpace(field))]
		if !known {
			return m, fmt.Errorf("mapping %q: unknown field %q", pair, strings.TrimSpace(field))
		}
		*dst = strings.TrimSpace(column)
	}
	return m, nil
}
