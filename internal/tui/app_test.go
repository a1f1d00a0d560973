package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dsbench/internal/engine"
	"dsbench/internal/runner"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	cfg := runner.DefaultConfig()
	cfg.Connections = 4
	cfg.MessagesPerRound = 2
	updates := make(runner.StatsUpdateChan, 1)
	return NewModel(context.Background(), runner.NewRunner(cfg, updates, zap.NewNop()), updates)
}

func TestStatsUpdateRendersRamp(t *testing.T) {
	m := newTestModel(t)

	next, cmd := m.Update(StatsMsg(runner.StatsSnapshot{
		Phase:    runner.PhaseRamping,
		Target:   4,
		LoggedIn: 2,
		Attempts: 3,
		Window:   10,
	}))
	require.NotNil(t, cmd)

	view := next.(Model).View()
	assert.Contains(t, view, "RAMPING")
	assert.Contains(t, view, "CONN: 2/4")
	assert.Contains(t, view, "TRY: 3")
}

func TestRunDoneShowsAverage(t *testing.T) {
	m := newTestModel(t)

	next, _ := m.Update(runDoneMsg{report: engine.Report{
		Iterations: 10,
		Elapsed:    50 * time.Millisecond,
	}})
	done := next.(Model)

	assert.True(t, done.Finished)
	assert.Contains(t, done.View(), "avg 5.0 ms per round")
}

func TestRunDoneShowsError(t *testing.T) {
	m := newTestModel(t)

	next, _ := m.Update(runDoneMsg{err: errors.New("boom")})
	assert.Contains(t, next.(Model).View(), "boom")
}

func TestQuitCancelsRun(t *testing.T) {
	m := newTestModel(t)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Error(t, m.ctx.Err())
}
