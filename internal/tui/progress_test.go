package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/jask/jaskledger/internal/database/repository"
	"github.com/jask/jaskledger/internal/importer"
)

type fakeSource struct {
	reports   []*importer.StatusReport
	err       error
	cancelled int
}

func (f *fakeSource) Status(context.Context, string, string) (*importer.StatusReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := f.reports[0]
	if len(f.reports) > 1 {
		f.reports = f.reports[1:]
	}
	return r, nil
}

func (f *fakeSource) Cancel(context.Context, string, string) (*repository.ImportJob, error) {
	f.cancelled++
	return &repository.ImportJob{Status: repository.JobProcessing}, nil
}

func report(status repository.JobStatus, processed, total int) *importer.StatusReport {
	return &importer.StatusReport{
		Job:    repository.ImportJob{ID: "job-1", Filename: "march.csv", RowCount: total, Status: status},
		Counts: repository.RowCounts{Processed: processed, Succeeded: processed},
	}
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestProgressPollsUntilTerminal(t *testing.T) {
	src := &fakeSource{reports: []*importer.StatusReport{
		report(repository.JobProcessing, 2, 10),
		report(repository.JobCompleted, 10, 10),
	}}
	p := NewProgress(context.Background(), src, "job-1", "alice", 0)

	msg := p.Init()()
	_, cmd := p.Update(msg)
	require.False(t, p.Done())
	require.NotNil(t, cmd)
	require.Contains(t, p.View(), "2/10")
	require.Contains(t, p.View(), "[c] Cancel")

	_, cmd = p.Update(tickMsg{})
	_, cmd = p.Update(cmd())
	require.True(t, p.Done())
	require.True(t, isQuit(cmd))
	require.Contains(t, p.View(), "completed")
	require.Contains(t, p.View(), "10/10")
	require.NotContains(t, p.View(), "[c] Cancel")
}

func TestProgressCancel(t *testing.T) {
	reason := "cancelled"
	failed := report(repository.JobFailed, 3, 10)
	failed.Job.ErrorLog = &reason
	src := &fakeSource{reports: []*importer.StatusReport{report(repository.JobProcessing, 3, 10), failed}}
	p := NewProgress(context.Background(), src, "job-1", "alice", 0)

	_, _ = p.Update(p.Init()())
	_, cmd := p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	require.Contains(t, p.View(), "cancelling...")

	// a second press is ignored
	_, again := p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	require.Nil(t, again)

	_, cmd = p.Update(cmd())
	require.Equal(t, 1, src.cancelled)
	_, cmd = p.Update(cmd())
	require.True(t, isQuit(cmd))
	require.Contains(t, p.View(), "failed: cancelled")
}

func TestProgressShowsFailuresAndErrors(t *testing.T) {
	msg := "amount: not a number"
	rep := report(repository.JobCompleted, 8, 8)
	for i := 1; i <= 7; i++ {
		rep.Failures = append(rep.Failures, repository.ImportRow{RowNumber: i, Error: &msg})
	}
	p := NewProgress(context.Background(), &fakeSource{reports: []*importer.StatusReport{rep}}, "job-1", "alice", 0)
	_, _ = p.Update(p.Init()())
	view := p.View()
	require.Contains(t, view, "row 5: amount: not a number")
	require.NotContains(t, view, "row 6:")
	require.Contains(t, view, "(+2 more)")

	broken := NewProgress(context.Background(), &fakeSource{err: errors.New("db gone")}, "job-2", "alice", 0)
	_, cmd := broken.Update(broken.Init()())
	require.True(t, isQuit(cmd))
	require.EqualError(t, broken.Err(), "db gone")
	require.Contains(t, broken.View(), "db gone")
}
