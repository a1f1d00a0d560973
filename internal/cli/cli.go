package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"dsbench/internal/engine"
	"dsbench/internal/ramp"
	"dsbench/internal/runner"
)

type result struct {
	report engine.Report
	err    error
}

// Start runs r headless, redrawing a progress line on out until the run
// finishes, then prints the summary.
func Start(ctx context.Context, r *runner.Runner, updates runner.StatsUpdateChan, out io.Writer) (engine.Report, error) {
	printHeader(out, r)

	done := make(chan result, 1)
	go func() {
		report, err := r.Run(ctx)
		done <- result{report: report, err: err}
	}()

	for {
		select {
		case snap := <-updates:
			fmt.Fprintf(out, "\r%s", progressLine(snap))
		case res := <-done:
			if res.err != nil {
				fmt.Fprintln(out)
				return res.report, res.err
			}
			PrintSummary(out, r, res.report)
			return res.report, nil
		}
	}
}

func printHeader(out io.Writer, r *runner.Runner) {
	cfg := r.Cfg
	batch := cfg.Connections
	if batch > ramp.MaxBatchSize {
		batch = ramp.MaxBatchSize
	}

	fmt.Fprintf(out, "\n🚀 STARTING DSBENCH\n")
	fmt.Fprintf(out, "======================================================================\n")
	fmt.Fprintf(out, "Run ID      : %s\n", r.RunID)
	fmt.Fprintf(out, "Connections : %d (batch %d)\n", cfg.Connections, batch)
	fmt.Fprintf(out, "Publishes   : %d per round, %d rounds\n", cfg.MessagesPerRound, cfg.Window)
	fmt.Fprintf(out, "URL         : %s (%d per address, %d addresses)\n", cfg.URLTemplate, cfg.PerAddress, cfg.AddressCount)
	fmt.Fprintf(out, "Event       : %s\n", cfg.EventName)
	fmt.Fprintf(out, "======================================================================\n\n")
}

func progressLine(s runner.StatsSnapshot) string {
	switch s.Phase {
	case runner.PhaseBenchmark, runner.PhaseDone:
		pct := 0.0
		if s.Window > 0 {
			pct = float64(s.Rounds) / float64(s.Window)
		}
		return fmt.Sprintf("%s %3.0f%% | %-10s | Round: %d/%d | Pub: %d | Recv: %d | P90: %.2f ms   ",
			progressBar(pct, 20), pct*100, s.Phase,
			s.Rounds, s.Window, s.Published, s.Received, s.P90RoundMs)
	default:
		pct := 0.0
		if s.Target > 0 {
			pct = float64(s.LoggedIn) / float64(s.Target)
		}
		return fmt.Sprintf("%s %3.0f%% | %-10s | Conn: %d/%d | Inf: %3d | Try: %d | Err: %d   ",
			progressBar(pct, 20), pct*100, s.Phase,
			s.LoggedIn, s.Target, s.InFlight, s.Attempts, s.Failures)
	}
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

// PrintSummary writes the per-round report of a finished run.
func PrintSummary(out io.Writer, r *runner.Runner, report engine.Report) {
	stats := r.Stats

	fmt.Fprintf(out, "\n\n📊 BENCHMARK RESULTS\n")
	fmt.Fprintf(out, "======================================================================\n")
	fmt.Fprintf(out, "Connections    : %d\n", report.Connections)
	fmt.Fprintf(out, "Publishes      : %d per round\n", report.MessagesPerRound)
	fmt.Fprintf(out, "Rounds         : %d\n", report.Iterations)
	fmt.Fprintf(out, "Elapsed        : %s\n", report.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "Connect tries  : %d (%d failed)\n", stats.Attempts, stats.Failures)
	fmt.Fprintf(out, "Avg per round  : %.1f ms\n", report.AvgRoundMs())
	fmt.Fprintf(out, "\n⏱️  ROUND TIMES (ms)\n")
	fmt.Fprintf(out, "   P50 : %.2f\n", stats.GetP50Round())
	fmt.Fprintf(out, "   P90 : %.2f\n", stats.GetP90Round())
	fmt.Fprintf(out, "   P99 : %.2f\n", stats.GetP99Round())
	fmt.Fprintf(out, "   Max : %.2f\n", stats.RoundMaxMs())
	fmt.Fprintf(out, "======================================================================\n")
}
