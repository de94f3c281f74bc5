// Package tui renders live pipeline progress for the run command.
// Events from the orchestrator are forwarded into the program via Send;
// the model owns no pipeline state beyond what the events carry.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"patentsmith/internal/pipeline"
	"patentsmith/internal/stage"
)

// Styles groups the lipgloss styles of the progress view.
type Styles struct {
	Header  lipgloss.Style
	Stage   lipgloss.Style
	Done    lipgloss.Style
	Skipped lipgloss.Style
	Failed  lipgloss.Style
	Dim     lipgloss.Style
}

// DefaultStyles returns the default color scheme.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		Stage:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		Done:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Skipped: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

type rowStatus int

const (
	rowPending rowStatus = iota
	rowRunning
	rowSucceeded
	rowSkipped
	rowFailed
)

type row struct {
	id      stage.ID
	status  rowStatus
	attempt int
	cap     int
	err     string
}

// Model is the run-progress bubbletea model.
type Model struct {
	sessionID string
	spinner   spinner.Model
	progress  progress.Model
	styles    Styles
	rows      []row
	width     int

	done      bool
	succeeded bool
	finalErr  string
}

// NewModel builds the progress model for one session.
func NewModel(sessionID string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	pr := progress.New(progress.WithDefaultGradient())

	rows := make([]row, 0, len(stage.Catalog()))
	for _, d := range stage.Catalog() {
		rows = append(rows, row{id: d.ID})
	}
	return Model{
		sessionID: sessionID,
		spinner:   sp,
		progress:  pr,
		styles:    DefaultStyles(),
		rows:      rows,
		width:     80,
	}
}

// Done reports whether the run finished, and whether it succeeded.
func (m Model) Done() (finished, succeeded bool) { return m.done, m.succeeded }

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 4

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pipeline.Event:
		return m.applyEvent(msg)
	}
	return m, nil
}

func (m Model) applyEvent(ev pipeline.Event) (tea.Model, tea.Cmd) {
	if ev.Type == pipeline.EventRunFinished {
		m.done = true
		m.succeeded = ev.Succeeded
		m.finalErr = ev.Err
		return m, tea.Quit
	}

	r := m.row(ev.Stage)
	if r == nil {
		return m, nil
	}
	switch ev.Type {
	case pipeline.EventStageStarted:
		r.status = rowRunning
		r.cap = ev.MaxAttempts
	case pipeline.EventAttemptStarted:
		r.status = rowRunning
		r.attempt = ev.Attempt
		r.cap = ev.MaxAttempts
	case pipeline.EventStageSucceeded:
		r.status = rowSucceeded
		r.attempt = ev.Attempt
	case pipeline.EventStageSkipped:
		r.status = rowSkipped
	case pipeline.EventStageFailed:
		r.status = rowFailed
		r.attempt = ev.Attempt
		r.err = ev.Err
	}
	return m, nil
}

func (m *Model) row(id stage.ID) *row {
	for i := range m.rows {
		if m.rows[i].id == id {
			return &m.rows[i]
		}
	}
	return nil
}

func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(m.styles.Header.Render("patentsmith · session "+m.sessionID) + "\n\n")

	completed := 0
	for _, r := range m.rows {
		sb.WriteString("  " + m.renderRow(r) + "\n")
		if r.status == rowSucceeded || r.status == rowSkipped {
			completed++
		}
	}

	sb.WriteString("\n")
	sb.WriteString("  " + m.progress.ViewAs(float64(completed)/float64(len(m.rows))) + "\n")

	switch {
	case m.done && m.succeeded:
		sb.WriteString("\n" + m.styles.Done.Render("✓ 生成完成") + "\n")
	case m.done:
		sb.WriteString("\n" + m.styles.Failed.Render("✗ 生成失败: "+m.finalErr) + "\n")
	default:
		sb.WriteString("\n" + m.styles.Dim.Render("q 退出界面（不中断生成）") + "\n")
	}
	return sb.String()
}

func (m Model) renderRow(r row) string {
	name := m.styles.Stage.Render(string(r.id))
	switch r.status {
	case rowRunning:
		attempt := ""
		if r.cap > 0 {
			attempt = m.styles.Dim.Render(fmt.Sprintf("  attempt %d/%d", r.attempt, r.cap))
		}
		return m.spinner.View() + " " + name + attempt
	case rowSucceeded:
		return m.styles.Done.Render("✓") + " " + name
	case rowSkipped:
		return m.styles.Skipped.Render("- ") + name + m.styles.Dim.Render("  (skipped)")
	case rowFailed:
		return m.styles.Failed.Render("✗") + " " + name + m.styles.Failed.Render("  "+r.err)
	default:
		return m.styles.Dim.Render("○") + " " + name
	}
}
