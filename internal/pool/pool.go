// Package pool keeps the connections that finished the handshake.
package pool

import (
	"math/rand"

	"dsbench/internal/transport"
)

// Pool is append-only while connections ramp up and read-only afterwards.
// It is not safe for concurrent use.
type Pool struct {
	conns []transport.Conn
	rnd   *rand.Rand
}

func New(capacity int, rnd *rand.Rand) *Pool {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Pool{
		conns: make([]transport.Conn, 0, capacity),
		rnd:   rnd,
	}
}

func (p *Pool) Add(c transport.Conn) {
	p.conns = append(p.conns, c)
}

func (p *Pool) Len() int {
	return len(p.conns)
}

// PickRandom returns a member chosen uniformly at random, or nil when empty.
func (p *Pool) PickRandom() transport.Conn {
	if len(p.conns) == 0 {
		return nil
	}
	return p.conns[p.rnd.Intn(len(p.conns))]
}

// All returns the members in login order.
func (p *Pool) All() []transport.Conn {
	return p.conns
}

// CloseAll closes every member and empties the pool.
func (p *Pool) CloseAll() {
	for _, c := range p.conns {
		c.Close()
	}
	p.conns = p.conns[:0]
}
