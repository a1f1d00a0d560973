// Package handshake drives a connection from "just opened" to "authenticated
// and subscribed".
package handshake

import (
	"fmt"

	"dsbench/internal/wire"
)

type State int

const (
	Opened State = iota
	Challenged
	ConnectionAcked
	AuthAcked
	LoggedIn
)

func (s State) String() string {
	switch s {
	case Opened:
		return "opened"
	case Challenged:
		return "challenged"
	case ConnectionAcked:
		return "connection-acked"
	case AuthAcked:
		return "auth-acked"
	case LoggedIn:
		return "logged-in"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type key struct {
	from State
	kind wire.Kind
}

type transition struct {
	to    State
	reply wire.Kind
}

var table = map[key]transition{
	{Opened, wire.KindChallenge}:            {Challenged, wire.KindChallengeResponse},
	{Challenged, wire.KindConnectionAck}:    {ConnectionAcked, wire.KindAuthRequest},
	{ConnectionAcked, wire.KindAuthAck}:     {AuthAcked, wire.KindEventSubscribe},
	{AuthAcked, wire.KindLoginConfirmation}: {LoggedIn, wire.KindUnknown},
}

// Step is the outcome of feeding one frame to the machine.
type Step struct {
	Next  State
	Reply []byte
	// Advanced is false when the frame did not move the state.
	Advanced bool
}

// LoggedIn reports whether this step completed the handshake.
func (s Step) LoggedIn() bool {
	return s.Advanced && s.Next == LoggedIn
}

// Machine holds the replies a connection sends. It carries no per-connection
// state; callers keep the State of every connection themselves.
type Machine struct {
	authRequest []byte
	subscribe   []byte
	pong        []byte
}

func New(eventName string) (*Machine, error) {
	auth, err := wire.Encode(wire.KindAuthRequest, "{}")
	if err != nil {
		return nil, err
	}
	sub, err := wire.Encode(wire.KindEventSubscribe, eventName)
	if err != nil {
		return nil, err
	}
	pong, err := wire.Encode(wire.KindPong)
	if err != nil {
		return nil, err
	}
	return &Machine{authRequest: auth, subscribe: sub, pong: pong}, nil
}

// Step decodes frame and applies it to a connection in state cur. addr is
// sent back in the challenge response. A frame that cannot be decoded
// returns an error wrapping wire.ErrProtocolViolation.
func (m *Machine) Step(cur State, frame []byte, addr string) (Step, error) {
	msg, err := wire.Decode(frame)
	if err != nil {
		return Step{Next: cur}, err
	}

	if msg.Kind == wire.KindPing {
		return Step{Next: cur, Reply: m.pong}, nil
	}

	t, ok := table[key{cur, msg.Kind}]
	if !ok {
		return Step{Next: cur}, nil
	}

	step := Step{Next: t.to, Advanced: true}
	switch t.reply {
	case wire.KindChallengeResponse:
		step.Reply, err = wire.Encode(wire.KindChallengeResponse, addr)
	case wire.KindAuthRequest:
		step.Reply = m.authRequest
	case wire.KindEventSubscribe:
		step.Reply = m.subscribe
	}
	return step, err
}
