package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dsbench/internal/runner"
	"dsbench/internal/tui/components"
	"dsbench/internal/tui/styles"
)

type Model struct {
	Stats    runner.StatsSnapshot
	Progress progress.Model

	RecvLine  components.Sparkline
	RoundLine components.Sparkline

	LastUpdate time.Time
	LastRecv   uint64

	Width  int
	Height int
}

func NewModel() Model {
	return Model{
		Progress:   progress.New(progress.WithDefaultGradient()),
		RecvLine:   components.NewSparkline(40, "Notifications/s", styles.Active),
		RoundLine:  components.NewSparkline(40, "Round P90 (ms)", styles.Warn),
		LastUpdate: time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// rampPercent is the share of the target pool that has logged in. During
// the benchmark it tracks completed rounds of the window instead.
func rampPercent(s runner.StatsSnapshot) float64 {
	var pct float64
	switch s.Phase {
	case runner.PhaseBenchmark, runner.PhaseDone:
		if s.Window > 0 {
			pct = float64(s.Rounds) / float64(s.Window)
		}
	default:
		if s.Target > 0 {
			pct = float64(s.LoggedIn) / float64(s.Target)
		}
	}
	if pct > 1.0 {
		pct = 1.0
	}
	return pct
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runner.StatsSnapshot:
		now := time.Now()
		dt := now.Sub(m.LastUpdate).Seconds()
		if dt < 0.01 {
			dt = 0.01
		}

		m.RecvLine.Add(float64(msg.Received-m.LastRecv) / dt)
		m.RoundLine.Add(msg.P90RoundMs)

		m.Stats = msg
		m.LastRecv = msg.Received
		m.LastUpdate = now

		cmd := m.Progress.SetPercent(rampPercent(msg))
		return m, cmd

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		half := (msg.Width / 2) - 4
		if half < 10 {
			half = 10
		}
		m.RecvLine.Width = half
		m.RoundLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}
	st := m.Stats

	phase := styles.PhaseStyle(st.Phase == runner.PhaseFailed, st.Phase == runner.PhaseDone).
		Render(strings.ToUpper(st.Phase.String()))

	failStyle := styles.Value
	if st.Failures > 0 {
		failStyle = styles.Warn
	}

	col1 := fmt.Sprintf("PHASE: %s\nCONN: %d/%d", phase, st.LoggedIn, st.Target)
	col2 := fmt.Sprintf("TRY: %d\nINF: %d", st.Attempts, st.InFlight)
	col3 := failStyle.Render(fmt.Sprintf("FAIL: %d", st.Failures)) +
		fmt.Sprintf("\nROUND: %d/%d", st.Rounds, st.Window)
	col4 := fmt.Sprintf("PUB: %d\nRECV: %d", st.Published, st.Received)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(col2),
		styles.Box.Render(col3),
		styles.Box.Render(col4),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RecvLine.View()),
		styles.Box.Render(m.RoundLine.View()),
	))
	s.WriteString("\n\n")

	latencies := fmt.Sprintf(
		"P50: %.2f ms  |  P90: %.2f ms  |  P99: %.2f ms  |  Max: %.2f ms  |  Avg: %.2f ms",
		st.P50RoundMs,
		st.P90RoundMs,
		st.P99RoundMs,
		st.MaxRoundMs,
		st.AvgRoundMs,
	)
	box := styles.Box
	if m.Width > 4 {
		box = box.Width(m.Width - 4)
	}
	s.WriteString(box.Render(latencies))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())

	return s.String()
}
