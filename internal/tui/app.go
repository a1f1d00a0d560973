// Package tui shows a live bubbletea view of a benchmark run.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"dsbench/internal/engine"
	"dsbench/internal/runner"
	"dsbench/internal/tui/live"
	"dsbench/internal/tui/styles"
)

var ErrAborted = errors.New("run aborted from the terminal")

type StatsMsg runner.StatsSnapshot

type runDoneMsg struct {
	report engine.Report
	err    error
}

type Model struct {
	Runner  *runner.Runner
	Updates runner.StatsUpdateChan
	Live    live.Model

	ctx    context.Context
	cancel context.CancelFunc

	Report   engine.Report
	Err      error
	Finished bool
}

func NewModel(ctx context.Context, r *runner.Runner, updates runner.StatsUpdateChan) Model {
	ctx, cancel := context.WithCancel(ctx)
	return Model{
		Runner:  r,
		Updates: updates,
		Live:    live.NewModel(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.Live.Init(),
		runCmd(m.ctx, m.Runner),
		waitForUpdate(m.Updates),
	)
}

func runCmd(ctx context.Context, r *runner.Runner) tea.Cmd {
	return func() tea.Msg {
		report, err := r.Run(ctx)
		return runDoneMsg{report: report, err: err}
	}
}

func waitForUpdate(sub runner.StatsUpdateChan) tea.Cmd {
	return func() tea.Msg {
		return StatsMsg(<-sub)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancel()
			return m, tea.Quit
		}
		return m, nil

	case StatsMsg:
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(runner.StatsSnapshot(msg))
		return m, tea.Batch(cmd, waitForUpdate(m.Updates))

	case runDoneMsg:
		m.Finished = true
		m.Report = msg.report
		m.Err = msg.err
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(m.Runner.Snapshot())
		return m, cmd
	}

	var cmd tea.Cmd
	m.Live, cmd = m.Live.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	s := strings.Builder{}
	s.WriteString(styles.Title.Render(fmt.Sprintf("dsbench %s", m.Runner.RunID)))
	s.WriteString("\n\n")
	s.WriteString(m.Live.View())
	s.WriteString("\n\n")

	switch {
	case m.Finished && m.Err != nil:
		s.WriteString(styles.Error.Render("❌ " + m.Err.Error()))
		s.WriteString("\n")
	case m.Finished:
		s.WriteString(styles.Success.Render(fmt.Sprintf(
			"✅ %d rounds in %d ms, avg %.1f ms per round",
			m.Report.Iterations, m.Report.Elapsed.Milliseconds(), m.Report.AvgRoundMs())))
		s.WriteString("\n")
	}

	s.WriteString(styles.RenderKey("q", "Quit"))
	return s.String()
}

// Start runs r under the live view and returns the report once the user
// leaves the view.
func Start(ctx context.Context, r *runner.Runner, updates runner.StatsUpdateChan) (engine.Report, error) {
	p := tea.NewProgram(NewModel(ctx, r, updates), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return engine.Report{}, fmt.Errorf("running live view: %w", err)
	}

	m := final.(Model)
	if !m.Finished {
		return engine.Report{}, ErrAborted
	}
	return m.Report, m.Err
}
