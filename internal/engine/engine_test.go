package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dsbench/internal/pool"
	"dsbench/internal/transport/transporttest"
	"dsbench/internal/wire"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T, connections, messages int) (*Engine, []*transporttest.Conn, *fakeClock) {
	t.Helper()
	p := pool.New(connections, rand.New(rand.NewSource(7)))
	conns := make([]*transporttest.Conn, connections)
	for i := range conns {
		conns[i] = transporttest.NewConn(uint64(i+1), "")
		p.Add(conns[i])
	}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	e, err := New(Config{
		MessagesPerRound: messages,
		EventName:        "eventName",
		Clock:            clock.Now,
	}, p, zaptest.NewLogger(t))
	require.NoError(t, err)
	return e, conns, clock
}

func published(conns []*transporttest.Conn) int {
	n := 0
	for _, c := range conns {
		n += len(c.Sent)
	}
	return n
}

func notification(n int) []byte {
	return make([]byte, n*wire.UnitSize)
}

func TestExpectedCount(t *testing.T) {
	e, conns, _ := setup(t, 3, 2)
	require.NoError(t, e.Begin())

	assert.Equal(t, 4, e.Round().Expected)
	assert.Equal(t, 2, published(conns))
}

func TestRoundCompletesOnExactCount(t *testing.T) {
	e, conns, _ := setup(t, 3, 2)
	require.NoError(t, e.Begin())

	// 1 + 2 units: one short of the expected four
	require.NoError(t, e.OnMessage(conns[0], notification(1)))
	require.NoError(t, e.OnMessage(conns[1], notification(2)))
	assert.Equal(t, 0, e.Round().Iteration)
	assert.Equal(t, 3, e.Round().Received)
	assert.Equal(t, 2, published(conns))

	require.NoError(t, e.OnMessage(conns[2], notification(1)))
	assert.Equal(t, 1, e.Round().Iteration)
	assert.Equal(t, 0, e.Round().Received)
	// next round already published
	assert.Equal(t, 4, published(conns))
}

func TestTerminatesAfterWindow(t *testing.T) {
	e, conns, clock := setup(t, 3, 2)
	require.NoError(t, e.Begin())

	for i := 0; i < DefaultWindow; i++ {
		require.False(t, e.Done())
		clock.Advance(5 * time.Millisecond)
		require.NoError(t, e.OnMessage(conns[0], notification(4)))
	}

	assert.True(t, e.Done())
	report := e.Report()
	assert.Equal(t, DefaultWindow, report.Iterations)
	assert.Equal(t, 50*time.Millisecond, report.Elapsed)
	assert.Equal(t, 5.0, report.AvgRoundMs())
	assert.Len(t, report.Rounds, DefaultWindow)
	assert.Equal(t, 3, report.Connections)
	for _, c := range conns {
		assert.True(t, c.Closed)
	}

	// no further rounds after termination
	sent := published(conns)
	require.NoError(t, e.OnMessage(conns[0], notification(4)))
	assert.Equal(t, sent, published(conns))
	assert.Equal(t, DefaultWindow, e.Round().Iteration)
}

func TestPingAnsweredWithPong(t *testing.T) {
	e, conns, _ := setup(t, 2, 1)
	require.NoError(t, e.Begin())
	before := len(conns[1].Sent)

	ping, err := wire.Encode(wire.KindPing)
	require.NoError(t, err)
	require.NoError(t, e.OnMessage(conns[1], ping))

	pong, err := wire.Encode(wire.KindPong)
	require.NoError(t, err)
	require.Len(t, conns[1].Sent, before+1)
	assert.Equal(t, pong, conns[1].Sent[before])
	assert.Equal(t, 0, e.Round().Received)
}

func TestInvalidFrameIsFatal(t *testing.T) {
	e, conns, _ := setup(t, 3, 2)
	require.NoError(t, e.Begin())

	err := e.OnMessage(conns[0], make([]byte, 21))
	assert.ErrorIs(t, err, wire.ErrProtocolViolation)
}

func TestSingleConnectionCompletesImmediately(t *testing.T) {
	e, conns, _ := setup(t, 1, 3)
	require.NoError(t, e.Begin())

	assert.True(t, e.Done())
	assert.Equal(t, DefaultWindow, e.Report().Iterations)
	assert.Equal(t, 3*DefaultWindow, published(conns))
}

func TestHooks(t *testing.T) {
	p := pool.New(2, rand.New(rand.NewSource(1)))
	a, b := transporttest.NewConn(1, ""), transporttest.NewConn(2, "")
	p.Add(a)
	p.Add(b)

	var pub, recv, rounds int
	e, err := New(Config{
		MessagesPerRound: 1,
		EventName:        "eventName",
		Window:           2,
		Hooks: Hooks{
			Published: func(n int) { pub += n },
			Received:  func(units int) { recv += units },
			Round:     func(time.Duration) { rounds++ },
		},
	}, p, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, e.Begin())

	require.NoError(t, e.OnMessage(a, notification(1)))
	require.NoError(t, e.OnMessage(b, notification(1)))

	assert.True(t, e.Done())
	assert.Equal(t, 2, pub)
	assert.Equal(t, 2, recv)
	assert.Equal(t, 2, rounds)
}

func TestBeginOnEmptyPool(t *testing.T) {
	e, err := New(Config{MessagesPerRound: 1, EventName: "eventName"}, pool.New(0, nil), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.ErrorIs(t, e.Begin(), ErrNotEnoughConnections)
}
