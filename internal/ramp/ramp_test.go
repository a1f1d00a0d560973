package ramp

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dsbench/internal/pool"
	"dsbench/internal/transport/transporttest"
)

func newController(t *testing.T, connections int, plan AddressPlan) (*Controller, *transporttest.Dialer, *pool.Pool) {
	t.Helper()
	target, err := NewRunTarget(connections, 1)
	require.NoError(t, err)
	d := &transporttest.Dialer{}
	p := pool.New(connections, rand.New(rand.NewSource(1)))
	return NewController(target, plan, d, p, zap.NewNop()), d, p
}

func TestNewRunTarget(t *testing.T) {
	target, err := NewRunTarget(3, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, target.BatchSize)

	target, err = NewRunTarget(5000, 2)
	require.NoError(t, err)
	assert.Equal(t, MaxBatchSize, target.BatchSize)

	_, err = NewRunTarget(0, 2)
	assert.ErrorIs(t, err, ErrInvalidTarget)
	_, err = NewRunTarget(2, -1)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestStartIssuesOneBatch(t *testing.T) {
	c, d, _ := newController(t, 250, DefaultAddressPlan())
	c.Start()
	assert.Len(t, d.URLs, MaxBatchSize)
	assert.Equal(t, MaxBatchSize, c.InFlight())
	assert.Equal(t, "ws://127.0.0.1:6020/deepstream", d.URLs[0])
}

func TestInFlightNeverExceedsBatch(t *testing.T) {
	const n = 250
	c, d, p := newController(t, n, DefaultAddressPlan())
	c.Start()

	done := false
	id := uint64(0)
	for !done {
		require.LessOrEqual(t, c.InFlight(), c.Target().BatchSize)
		// every third completion is preceded by a failure
		if id%3 == 0 {
			c.OnConnectionError(errors.New("refused"))
			require.LessOrEqual(t, c.InFlight(), c.Target().BatchSize)
		}
		id++
		done = c.OnHandshakeComplete(transporttest.NewConn(id, "x"))
	}

	assert.Equal(t, n, p.Len())
	assert.Equal(t, n, c.State().LoggedInCount)
	assert.Equal(t, 0, c.InFlight())
	assert.Equal(t, len(d.URLs), c.State().OpenAttempts)
	assert.Equal(t, n+c.State().Failures, c.State().OpenAttempts)
}

func TestHandOffExactlyAtTarget(t *testing.T) {
	c, d, _ := newController(t, 3, DefaultAddressPlan())
	c.Start()
	require.Len(t, d.URLs, 3)

	assert.False(t, c.OnHandshakeComplete(transporttest.NewConn(1, "")))
	assert.False(t, c.OnHandshakeComplete(transporttest.NewConn(2, "")))
	assert.True(t, c.OnHandshakeComplete(transporttest.NewConn(3, "")))
	// batch equals target so no follow-up attempts were needed
	assert.Len(t, d.URLs, 3)
}

func TestErrorsRetryUnconditionally(t *testing.T) {
	c, d, _ := newController(t, 2, DefaultAddressPlan())
	c.Start()
	for i := 0; i < 50; i++ {
		c.OnConnectionError(errors.New("timeout"))
	}
	assert.Len(t, d.URLs, 52)
	assert.Equal(t, 50, c.State().Failures)
	assert.Equal(t, 2, c.InFlight())
}

func TestAddressRotation(t *testing.T) {
	plan := DefaultAddressPlan()
	for k := 0; k < 5; k++ {
		assert.Equal(t, k+1, plan.IndexFor(20000*k+1), "k=%d", k)
		if k > 0 {
			assert.Equal(t, k, plan.IndexFor(20000*k), "k=%d", k)
		}
	}

	small := AddressPlan{Template: "ws://10.0.0.{addr}/ds", PerAddress: 2, Count: 2}
	require.NoError(t, small.Validate())
	c, d, _ := newController(t, 5, small)
	c.Start()
	assert.Equal(t, []string{
		"ws://10.0.0.1/ds", "ws://10.0.0.1/ds",
		"ws://10.0.0.2/ds", "ws://10.0.0.2/ds",
		"ws://10.0.0.1/ds",
	}, d.URLs)
	assert.Equal(t, 3, c.State().CurrentAddressIndex)
}

func TestAddressPlanValidate(t *testing.T) {
	assert.NoError(t, DefaultAddressPlan().Validate())
	assert.Error(t, AddressPlan{Template: "ws://localhost", PerAddress: 1, Count: 1}.Validate())
	assert.Error(t, AddressPlan{Template: DefaultURLTemplate, PerAddress: 0, Count: 1}.Validate())
	assert.Error(t, AddressPlan{Template: DefaultURLTemplate, PerAddress: 1, Count: 0}.Validate())
}
