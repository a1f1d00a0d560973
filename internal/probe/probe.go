// Package probe waits for the target server to become idle before a run.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultInterval = 100 * time.Millisecond

type ReadinessProbe interface {
	WaitUntilReady(ctx context.Context) error
}

// Noop is always ready.
type Noop struct{}

func (Noop) WaitUntilReady(context.Context) error { return nil }

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ProcessProbe finds the process listening on Port with fuser and polls its
// scheduler state with ps until it reports sleeping.
type ProcessProbe struct {
	Port     int
	Interval time.Duration
	Run      CommandRunner
	Logger   *zap.Logger
}

func NewProcessProbe(port int, interval time.Duration, logger *zap.Logger) *ProcessProbe {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &ProcessProbe{
		Port:     port,
		Interval: interval,
		Run:      execRunner,
		Logger:   logger,
	}
}

func (p *ProcessProbe) WaitUntilReady(ctx context.Context) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	polls := 0
	for {
		polls++
		state, err := p.poll(ctx)
		if err == nil && strings.HasPrefix(state, "S") {
			p.Logger.Info("server idle", zap.Int("port", p.Port), zap.Int("polls", polls))
			return nil
		}
		p.Logger.Debug("server not ready", zap.String("state", state), zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for server on port %d: %w", p.Port, ctx.Err())
		case <-ticker.C:
		}
	}
}

// poll returns the state letter of the listening process. Output of each
// command is parsed on its own; empty output is an error, never a stale
// result.
func (p *ProcessProbe) poll(ctx context.Context) (string, error) {
	out, err := p.Run(ctx, "fuser", fmt.Sprintf("%d/tcp", p.Port))
	if err != nil {
		return "", fmt.Errorf("fuser: %w", err)
	}
	pid, err := ParsePID(out)
	if err != nil {
		return "", err
	}

	out, err = p.Run(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "state=")
	if err != nil {
		return "", fmt.Errorf("ps: %w", err)
	}
	return ParseState(out)
}

// ParsePID returns the first pid printed by fuser.
func ParsePID(out []byte) (int, error) {
	for _, f := range bytes.Fields(out) {
		pid, err := strconv.Atoi(strings.TrimRight(string(f), "cefFmr"))
		if err == nil && pid > 0 {
			return pid, nil
		}
	}
	return 0, fmt.Errorf("no pid in fuser output %q", out)
}

// ParseState returns the first non-empty line printed by
// "ps -o state=", which has no header.
func ParseState(out []byte) (string, error) {
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("no state in ps output %q", out)
}
