// Package engine runs round-synchronized fan-out rounds over a full pool of
// logged-in connections and measures how long each window of rounds takes.
package engine

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dsbench/internal/pool"
	"dsbench/internal/transport"
	"dsbench/internal/wire"
)

const DefaultWindow = 10

var ErrNotEnoughConnections = errors.New("pool is empty")

// RoundState is owned by the goroutine driving the Engine.
type RoundState struct {
	Received    int
	Expected    int
	Iteration   int
	WindowStart time.Time
	RoundStart  time.Time
}

// Report is produced once, when the first window of rounds completes.
type Report struct {
	Connections      int
	MessagesPerRound int
	Iterations       int
	Elapsed          time.Duration
	Rounds           []time.Duration
}

// AvgRoundMs is the whole-millisecond elapsed time divided by the number of
// rounds in the window.
func (r Report) AvgRoundMs() float64 {
	if r.Iterations == 0 {
		return 0
	}
	return float64(r.Elapsed.Milliseconds()) / float64(r.Iterations)
}

// Hooks let callers observe the engine without owning any of its state.
type Hooks struct {
	Published func(n int)
	Received  func(units int)
	Pong      func()
	Round     func(d time.Duration)
}

type Config struct {
	MessagesPerRound int
	EventName        string
	Window           int
	Clock            func() time.Time
	Hooks            Hooks
}

type Engine struct {
	pool     *pool.Pool
	messages int
	window   int
	publish  *transport.Prepared
	pong     []byte
	now      func() time.Time
	hooks    Hooks
	logger   *zap.Logger

	round  RoundState
	rounds []time.Duration
	done   bool
	report Report
}

func New(cfg Config, p *pool.Pool, logger *zap.Logger) (*Engine, error) {
	if cfg.MessagesPerRound <= 0 {
		return nil, fmt.Errorf("messages per round must be positive, got %d", cfg.MessagesPerRound)
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	frame, err := wire.Encode(wire.KindEventPublish, cfg.EventName)
	if err != nil {
		return nil, err
	}
	publish, err := transport.Prepare(frame)
	if err != nil {
		return nil, fmt.Errorf("prepare publish frame: %w", err)
	}
	pong, err := wire.Encode(wire.KindPong)
	if err != nil {
		return nil, err
	}

	return &Engine{
		pool:     p,
		messages: cfg.MessagesPerRound,
		window:   cfg.Window,
		publish:  publish,
		pong:     pong,
		now:      cfg.Clock,
		hooks:    cfg.Hooks,
		logger:   logger,
	}, nil
}

// Begin starts the first round. The measurement window starts here and is
// never restarted: the run ends when the window completes.
func (e *Engine) Begin() error {
	if e.pool.Len() == 0 {
		return ErrNotEnoughConnections
	}
	e.round.Expected = (e.pool.Len() - 1) * e.messages
	e.round.WindowStart = e.now()
	e.logger.Info("benchmark starting",
		zap.Int("connections", e.pool.Len()),
		zap.Int("messages", e.messages),
		zap.Int("expected", e.round.Expected))
	e.runRound()
	return nil
}

func (e *Engine) runRound() {
	for !e.done {
		e.round.Received = 0
		e.round.RoundStart = e.now()
		e.publishAll()
		// a lone connection has no subscribers to wait for
		if e.round.Expected != 0 {
			return
		}
		e.completeRound()
	}
}

func (e *Engine) publishAll() {
	sent := 0
	for i := 0; i < e.messages; i++ {
		conn := e.pool.PickRandom()
		if err := conn.SendPrepared(e.publish); err != nil {
			e.logger.Warn("publish failed", zap.Uint64("conn", conn.ID()), zap.Error(err))
			continue
		}
		sent++
	}
	if e.hooks.Published != nil {
		e.hooks.Published(sent)
	}
}

// OnMessage handles a frame received during the benchmark. A frame that is
// neither a ping nor a batch of notifications is a protocol violation.
func (e *Engine) OnMessage(conn transport.Conn, frame []byte) error {
	msg, err := wire.Classify(frame)
	if err != nil {
		return err
	}

	if msg.Kind == wire.KindPing {
		if err := conn.Send(e.pong); err != nil {
			e.logger.Debug("pong failed", zap.Uint64("conn", conn.ID()), zap.Error(err))
		}
		if e.hooks.Pong != nil {
			e.hooks.Pong()
		}
		return nil
	}
	if e.done {
		return nil
	}

	units := msg.Units()
	e.round.Received += units
	if e.hooks.Received != nil {
		e.hooks.Received(units)
	}
	if e.round.Received == e.round.Expected {
		e.completeRound()
		e.runRound()
	}
	return nil
}

func (e *Engine) completeRound() {
	now := e.now()
	d := now.Sub(e.round.RoundStart)
	e.rounds = append(e.rounds, d)
	if e.hooks.Round != nil {
		e.hooks.Round(d)
	}

	e.round.Iteration++
	if e.round.Iteration%e.window != 0 {
		return
	}

	e.report = Report{
		Connections:      e.pool.Len(),
		MessagesPerRound: e.messages,
		Iterations:       e.round.Iteration,
		Elapsed:          now.Sub(e.round.WindowStart),
		Rounds:           e.rounds,
	}
	e.logger.Info("benchmark window complete",
		zap.Int("iterations", e.report.Iterations),
		zap.Duration("elapsed", e.report.Elapsed),
		zap.Float64("avg_round_ms", e.report.AvgRoundMs()))

	e.pool.CloseAll()
	e.done = true
}

func (e *Engine) Done() bool {
	return e.done
}

func (e *Engine) Report() Report {
	return e.report
}

func (e *Engine) Round() RoundState {
	return e.round
}
