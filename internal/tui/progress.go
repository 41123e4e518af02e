// Package tui renders the progress of an import job in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jask/jaskledger/internal/database/repository"
	"github.com/jask/jaskledger/internal/importer"
)

// Source is the part of the import service the view needs.
type Source interface {
	Status(ctx context.Context, jobID, ownerID string) (*importer.StatusReport, error)
	Cancel(ctx context.Context, jobID, ownerID string) (*repository.ImportJob, error)
}

// Progress polls a job until it reaches a terminal status, then quits.
type Progress struct {
	ctx      context.Context
	src      Source
	jobID    string
	ownerID  string
	interval time.Duration

	report     *importer.StatusReport
	err        error
	cancelling bool
	done       bool
	width      int
}

func NewProgress(ctx context.Context, src Source, jobID, ownerID string, interval time.Duration) *Progress {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Progress{ctx: ctx, src: src, jobID: jobID, ownerID: ownerID, interval: interval, width: 40}
}

type reportMsg struct{ report *importer.StatusReport }

type tickMsg struct{}

type cancelledMsg struct{}

type errMsg struct{ error }

func (p *Progress) Init() tea.Cmd {
	return p.poll()
}

func (p *Progress) poll() tea.Cmd {
	return func() tea.Msg {
		rep, err := p.src.Status(p.ctx, p.jobID, p.ownerID)
		if err != nil {
			return errMsg{err}
		}
		return reportMsg{rep}
	}
}

func (p *Progress) cancel() tea.Cmd {
	return func() tea.Msg {
		if _, err := p.src.Cancel(p.ctx, p.jobID, p.ownerID); err != nil {
			return errMsg{err}
		}
		return cancelledMsg{}
	}
}

func (p *Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.KeyMsg:
		switch m.String() {
		case "q", "ctrl+c", "esc":
			return p, tea.Quit
		case "c":
			if p.cancelling || p.done {
				return p, nil
			}
			p.cancelling = true
			return p, p.cancel()
		}
	case tea.WindowSizeMsg:
		p.width = max(10, min(60, m.Width-20))
	case reportMsg:
		p.report = m.report
		if m.report.Job.Status.Terminal() {
			p.done = true
			return p, tea.Quit
		}
		return p, tea.Tick(p.interval, func(time.Time) tea.Msg { return tickMsg{} })
	case tickMsg:
		return p, p.poll()
	case cancelledMsg:
		return p, p.poll()
	case errMsg:
		p.err = m.error
		return p, tea.Quit
	}
	return p, nil
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// maxFailuresShown caps the failure list in the view.
const maxFailuresShown = 5

func (p *Progress) View() string {
	var b strings.Builder
	if p.report == nil {
		b.WriteString(titleStyle.Render("Import " + p.jobID))
		b.WriteString("\nloading...\n")
		if p.err != nil {
			b.WriteString(failedStyle.Render("error: "+p.err.Error()) + "\n")
		}
		return b.String()
	}

	job := p.report.Job
	c := p.report.Counts
	b.WriteString(titleStyle.Render("Import " + job.Filename))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %d/%d\n", p.bar(c.Processed, job.RowCount), c.Processed, job.RowCount)
	fmt.Fprintf(&b, "imported %d  failed %d  duplicates %d\n", c.Succeeded, c.Failed, c.Duplicates)

	switch job.Status {
	case repository.JobCompleted:
		b.WriteString(doneStyle.Render("completed") + "\n")
	case repository.JobFailed:
		line := "failed"
		if job.ErrorLog != nil {
			line += ": " + *job.ErrorLog
		}
		b.WriteString(failedStyle.Render(line) + "\n")
	default:
		status := string(job.Status)
		if p.cancelling {
			status = "cancelling..."
		}
		b.WriteString(status + "\n")
	}

	for i, f := range p.report.Failures {
		if i == maxFailuresShown {
			fmt.Fprintf(&b, "  (+%d more)\n", len(p.report.Failures)-maxFailuresShown)
			break
		}
		msg := ""
		if f.Error != nil {
			msg = *f.Error
		}
		fmt.Fprintf(&b, "  row %d: %s\n", f.RowNumber, msg)
	}
	if p.err != nil {
		b.WriteString(failedStyle.Render("error: "+p.err.Error()) + "\n")
	}
	if !p.done {
		b.WriteString(mutedStyle.Render("[c] Cancel  [q] Detach") + "\n")
	}
	return b.String()
}

func (p *Progress) bar(n, total int) string {
	filled := 0
	if total > 0 {
		filled = min(p.width, n*p.width/total)
	}
	return "[" + barStyle.Render(strings.Repeat("#", filled)) + strings.Repeat(".", p.width-filled) + "]"
}

// Report is the last status seen, nil before the first poll returns.
func (p *Progress) Report() *importer.StatusReport { return p.report }

// Err is the error that stopped polling, if any.
func (p *Progress) Err() error { return p.err }

// Done reports whether the job reached a terminal status while watched.
func (p *Progress) Done() bool { return p.done }
