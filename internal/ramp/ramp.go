// Package ramp opens connections in bounded batches until the run target is
// reached, spreading them across local addresses.
package ramp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"dsbench/internal/pool"
	"dsbench/internal/transport"
)

const (
	MaxBatchSize = 100

	AddrPlaceholder     = "{addr}"
	DefaultURLTemplate  = "ws://127.0.0." + AddrPlaceholder + ":6020/deepstream"
	DefaultPerAddress   = 20000
	DefaultAddressCount = 254
)

var ErrInvalidTarget = errors.New("invalid run target")

// RunTarget describes one benchmark execution.
type RunTarget struct {
	TargetConnections int
	MessagesPerRound  int
	BatchSize         int
}

func NewRunTarget(connections, messages int) (RunTarget, error) {
	if connections <= 0 {
		return RunTarget{}, fmt.Errorf("%w: connections must be positive, got %d", ErrInvalidTarget, connections)
	}
	if messages <= 0 {
		return RunTarget{}, fmt.Errorf("%w: messages per round must be positive, got %d", ErrInvalidTarget, messages)
	}
	return RunTarget{
		TargetConnections: connections,
		MessagesPerRound:  messages,
		BatchSize:         min(MaxBatchSize, connections),
	}, nil
}

// AddressPlan maps connection attempts onto URLs. Every PerAddress attempts
// move on to the next address suffix, wrapping after Count suffixes.
type AddressPlan struct {
	Template   string
	PerAddress int
	Count      int
}

func DefaultAddressPlan() AddressPlan {
	return AddressPlan{
		Template:   DefaultURLTemplate,
		PerAddress: DefaultPerAddress,
		Count:      DefaultAddressCount,
	}
}

func (p AddressPlan) Validate() error {
	if !strings.Contains(p.Template, AddrPlaceholder) {
		return fmt.Errorf("url template %q has no %s placeholder", p.Template, AddrPlaceholder)
	}
	if p.PerAddress <= 0 {
		return fmt.Errorf("connections per address must be positive, got %d", p.PerAddress)
	}
	if p.Count <= 0 {
		return fmt.Errorf("address count must be positive, got %d", p.Count)
	}
	return nil
}

// IndexFor returns the address index used by the attempt-th attempt
// (1-based).
func (p AddressPlan) IndexFor(attempt int) int {
	return (attempt-1)/p.PerAddress + 1
}

func (p AddressPlan) URL(index int) string {
	suffix := (index-1)%p.Count + 1
	return strings.ReplaceAll(p.Template, AddrPlaceholder, strconv.Itoa(suffix))
}

// State is owned by the goroutine driving the Controller.
type State struct {
	OpenAttempts        int
	LoggedInCount       int
	CurrentAddressIndex int
	Failures            int
}

type Controller struct {
	target RunTarget
	plan   AddressPlan
	dialer transport.Dialer
	pool   *pool.Pool
	logger *zap.Logger

	state State
}

func NewController(target RunTarget, plan AddressPlan, dialer transport.Dialer, p *pool.Pool, logger *zap.Logger) *Controller {
	return &Controller{
		target: target,
		plan:   plan,
		dialer: dialer,
		pool:   p,
		logger: logger,
		state:  State{CurrentAddressIndex: 1},
	}
}

// Start issues the first batch of connection attempts.
func (c *Controller) Start() {
	c.logger.Info("ramp starting",
		zap.Int("target", c.target.TargetConnections),
		zap.Int("batch", c.target.BatchSize))
	for i := 0; i < c.target.BatchSize; i++ {
		c.connect()
	}
}

func (c *Controller) connect() {
	c.state.OpenAttempts++
	idx := c.plan.IndexFor(c.state.OpenAttempts)
	if idx != c.state.CurrentAddressIndex {
		c.logger.Info("rotating address", zap.Int("index", idx), zap.Int("attempt", c.state.OpenAttempts))
		c.state.CurrentAddressIndex = idx
	}
	c.dialer.Dial(c.plan.URL(idx))
}

// OnConnectionError retries at once. There is no backoff and no limit.
func (c *Controller) OnConnectionError(err error) {
	c.state.Failures++
	c.logger.Debug("connection attempt failed, retrying", zap.Error(err))
	c.connect()
}

// OnHandshakeComplete moves conn into the pool. It returns true once the
// pool holds the target number of connections.
func (c *Controller) OnHandshakeComplete(conn transport.Conn) bool {
	c.pool.Add(conn)
	c.state.LoggedInCount++

	if c.state.LoggedInCount == c.target.TargetConnections {
		c.logger.Info("ramp complete",
			zap.Int("connections", c.state.LoggedInCount),
			zap.Int("attempts", c.state.OpenAttempts),
			zap.Int("failures", c.state.Failures))
		return true
	}
	if c.state.LoggedInCount+c.target.BatchSize <= c.target.TargetConnections {
		c.connect()
	}
	return false
}

// InFlight is the number of attempts still waiting to log in.
func (c *Controller) InFlight() int {
	return c.state.OpenAttempts - c.state.LoggedInCount - c.state.Failures
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) Target() RunTarget {
	return c.target
}
