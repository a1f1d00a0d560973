package runner

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dsbench/internal/engine"
	"dsbench/internal/metrics"
	"dsbench/internal/probe"
	"dsbench/internal/stats"
	"dsbench/internal/transport"
)

// StatsSnapshot is sent over the channel
type StatsSnapshot struct {
	Phase    Phase
	Target   int
	Attempts uint64
	Failures uint64
	LoggedIn uint64
	InFlight int64

	Published uint64
	Received  uint64
	Rounds    uint64
	Window    int

	// Pre-calculated percentiles for the UI (cheap copy)
	P50RoundMs float64
	P90RoundMs float64
	P99RoundMs float64
	MaxRoundMs float64
	AvgRoundMs float64
}

// StatsUpdateChan is the channel type
type StatsUpdateChan chan StatsSnapshot

// DialerFactory builds the transport feeding events.
type DialerFactory func(ctx context.Context, events chan<- transport.Event) transport.Dialer

type Runner struct {
	Cfg     Config
	RunID   string
	Stats   *stats.Stats
	Metrics *metrics.Metrics
	Probe   probe.ReadinessProbe
	Logger  *zap.Logger

	NewDialer DialerFactory

	phase    int32
	inflight int64

	// Event Channel
	Updates StatsUpdateChan
}

func NewRunner(cfg Config, updates StatsUpdateChan, logger *zap.Logger) *Runner {
	if updates == nil {
		// Avoid nil panics if not provided
		updates = make(StatsUpdateChan, 10)
	}

	id := uuid.New().String()
	logger = logger.With(zap.String("run", id))

	var p probe.ReadinessProbe = probe.Noop{}
	if cfg.Probe == ProbeProcess {
		p = probe.NewProcessProbe(cfg.ProbePort, cfg.ProbeInterval, logger)
	}

	r := &Runner{
		Cfg:     cfg,
		RunID:   id,
		Stats:   stats.NewStats(),
		Metrics: metrics.New(),
		Probe:   p,
		Logger:  logger,
		Updates: updates,
	}
	r.NewDialer = func(ctx context.Context, events chan<- transport.Event) transport.Dialer {
		return transport.NewWSDialer(ctx, events, r.Cfg.ConnectTimeout, r.Logger)
	}
	return r
}

// StartTickLoop starts a goroutine that pushes stats updates
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sendUpdate()
			}
		}
	}()
}

func (r *Runner) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Phase:      r.GetPhase(),
		Target:     r.Cfg.Connections,
		Attempts:   atomic.LoadUint64(&r.Stats.Attempts),
		Failures:   atomic.LoadUint64(&r.Stats.Failures),
		LoggedIn:   atomic.LoadUint64(&r.Stats.LoggedIn),
		InFlight:   atomic.LoadInt64(&r.inflight),
		Published:  atomic.LoadUint64(&r.Stats.Published),
		Received:   atomic.LoadUint64(&r.Stats.Received),
		Rounds:     atomic.LoadUint64(&r.Stats.Rounds),
		Window:     r.Cfg.Window,
		P50RoundMs: r.Stats.GetP50Round(),
		P90RoundMs: r.Stats.GetP90Round(),
		P99RoundMs: r.Stats.GetP99Round(),
		MaxRoundMs: r.Stats.RoundMaxMs(),
		AvgRoundMs: r.Stats.RoundAvgMs(),
	}
}

func (r *Runner) sendUpdate() {
	// Non-blocking send
	select {
	case r.Updates <- r.Snapshot():
	default:
		// Drop update if channel full, UI acts as backpressure
	}
}

func (r *Runner) setPhase(p Phase) {
	atomic.StoreInt32(&r.phase, int32(p))
}

func (r *Runner) GetPhase() Phase {
	return Phase(atomic.LoadInt32(&r.phase))
}

func (r *Runner) GetInflight() int64 {
	return atomic.LoadInt64(&r.inflight)
}

// Run waits for the server, ramps connections up to the target and runs the
// benchmark until its first window completes. A protocol violation is
// returned as soon as it is seen, without closing anything.
func (r *Runner) Run(ctx context.Context) (engine.Report, error) {
	if err := r.Cfg.Validate(); err != nil {
		return engine.Report{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.StartTickLoop(ctx, 200*time.Millisecond)
	if r.Cfg.MetricsAddr != "" {
		r.Metrics.Serve(ctx, r.Cfg.MetricsAddr, r.Logger)
	}

	r.setPhase(PhaseProbing)
	if err := r.Probe.WaitUntilReady(ctx); err != nil {
		r.setPhase(PhaseFailed)
		return engine.Report{}, err
	}

	events := make(chan transport.Event, 1024)
	x, err := newReactor(r, r.NewDialer(ctx, events))
	if err != nil {
		r.setPhase(PhaseFailed)
		return engine.Report{}, err
	}

	r.setPhase(PhaseRamping)
	x.ramp.Start()
	r.observeRamp(x)

	for {
		select {
		case <-ctx.Done():
			x.closeAll()
			r.setPhase(PhaseFailed)
			return engine.Report{}, ctx.Err()
		case ev := <-events:
			if err := x.handle(ev); err != nil {
				r.setPhase(PhaseFailed)
				r.Logger.Error("fatal protocol error", zap.Error(err))
				return engine.Report{}, err
			}
			if x.engine.Done() {
				r.setPhase(PhaseDone)
				r.sendUpdate()
				return x.engine.Report(), nil
			}
		}
	}
}
