package runner

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dsbench/internal/engine"
	"dsbench/internal/handshake"
	"dsbench/internal/pool"
	"dsbench/internal/ramp"
	"dsbench/internal/transport"
)

var errClosedBeforeLogin = errors.New("connection closed before login")

type session struct {
	conn  transport.Conn
	state handshake.State
}

// reactor owns every piece of run state. Only the Run loop calls into it,
// one event at a time.
type reactor struct {
	r       *Runner
	machine *handshake.Machine
	ramp    *ramp.Controller
	pool    *pool.Pool
	engine  *engine.Engine
	logger  *zap.Logger

	// connections still handshaking
	sessions map[uint64]*session

	handle func(ev transport.Event) error

	lastRamp ramp.State
}

func newReactor(r *Runner, dialer transport.Dialer) (*reactor, error) {
	target, err := r.Cfg.Target()
	if err != nil {
		return nil, err
	}
	machine, err := handshake.New(r.Cfg.EventName)
	if err != nil {
		return nil, err
	}

	p := pool.New(target.TargetConnections, nil)
	eng, err := engine.New(engine.Config{
		MessagesPerRound: target.MessagesPerRound,
		EventName:        r.Cfg.EventName,
		Window:           r.Cfg.Window,
		Hooks: engine.Hooks{
			Published: func(n int) {
				r.Stats.AddPublished(n)
				r.Metrics.Published.Add(float64(n))
			},
			Received: func(units int) {
				r.Stats.AddReceived(units)
				r.Metrics.Received.Add(float64(units))
			},
			Pong: r.Stats.AddPong,
			Round: func(d time.Duration) {
				r.Stats.AddRound(d)
				r.Metrics.ObserveRound(d)
			},
		},
	}, p, r.Logger)
	if err != nil {
		return nil, err
	}

	x := &reactor{
		r:        r,
		machine:  machine,
		ramp:     ramp.NewController(target, r.Cfg.AddressPlan(), dialer, p, r.Logger),
		pool:     p,
		engine:   eng,
		logger:   r.Logger,
		sessions: make(map[uint64]*session, target.BatchSize),
	}
	x.handle = x.handleHandshake
	return x, nil
}

func (x *reactor) handleHandshake(ev transport.Event) error {
	defer x.r.observeRamp(x)

	switch ev.Kind {
	case transport.EventFailed:
		x.ramp.OnConnectionError(ev.Err)

	case transport.EventOpened:
		x.sessions[ev.Conn.ID()] = &session{conn: ev.Conn, state: handshake.Opened}

	case transport.EventClosed:
		if _, ok := x.sessions[ev.Conn.ID()]; ok {
			delete(x.sessions, ev.Conn.ID())
			x.ramp.OnConnectionError(fmt.Errorf("%w: %v", errClosedBeforeLogin, ev.Err))
			return nil
		}
		x.logger.Warn("pooled connection closed before benchmark", zap.Uint64("conn", ev.Conn.ID()), zap.Error(ev.Err))

	case transport.EventMessage:
		return x.step(ev.Conn, ev.Payload)
	}
	return nil
}

func (x *reactor) step(conn transport.Conn, frame []byte) error {
	id := conn.ID()
	// already pooled connections wait here for the rest of the ramp
	state := handshake.LoggedIn
	sess, handshaking := x.sessions[id]
	if handshaking {
		state = sess.state
	}

	step, err := x.machine.Step(state, frame, conn.URL())
	if err != nil {
		return fmt.Errorf("conn %d in state %s: %w", id, state, err)
	}
	if step.Reply != nil {
		if err := conn.Send(step.Reply); err != nil {
			x.logger.Debug("reply failed", zap.Uint64("conn", id), zap.Error(err))
		}
	}
	if !handshaking {
		return nil
	}
	if !step.LoggedIn() {
		sess.state = step.Next
		return nil
	}

	delete(x.sessions, id)
	if err := conn.EnableNoDelay(); err != nil {
		x.logger.Debug("no-delay not enabled", zap.Uint64("conn", id), zap.Error(err))
	}
	if x.ramp.OnHandshakeComplete(conn) {
		return x.beginBenchmark()
	}
	return nil
}

// closeAll tears down pooled and handshaking connections.
func (x *reactor) closeAll() {
	for id, sess := range x.sessions {
		sess.conn.Close()
		delete(x.sessions, id)
	}
	x.pool.CloseAll()
}

func (x *reactor) beginBenchmark() error {
	x.handle = x.handleBenchmark
	x.r.observeRamp(x)
	x.r.setPhase(PhaseBenchmark)
	return x.engine.Begin()
}

func (x *reactor) handleBenchmark(ev transport.Event) error {
	switch ev.Kind {
	case transport.EventMessage:
		return x.engine.OnMessage(ev.Conn, ev.Payload)
	case transport.EventClosed:
		if !x.engine.Done() {
			x.logger.Warn("connection closed during benchmark", zap.Uint64("conn", ev.Conn.ID()), zap.Error(ev.Err))
		}
	default:
		x.logger.Debug("ignoring event", zap.Stringer("kind", ev.Kind))
	}
	return nil
}

// observeRamp publishes ramp progress to stats and metrics.
func (r *Runner) observeRamp(x *reactor) {
	s := x.ramp.State()
	r.Stats.SetRamp(s.OpenAttempts, s.Failures, s.LoggedInCount)
	atomic.StoreInt64(&r.inflight, int64(x.ramp.InFlight()))

	r.Metrics.ConnectAttempts.Add(float64(s.OpenAttempts - x.lastRamp.OpenAttempts))
	r.Metrics.ConnectFailures.Add(float64(s.Failures - x.lastRamp.Failures))
	r.Metrics.LoggedIn.Set(float64(s.LoggedInCount))
	r.Metrics.InFlight.Set(float64(x.ramp.InFlight()))
	x.lastRamp = s
}
