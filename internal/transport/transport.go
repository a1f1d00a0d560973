// Package transport runs WebSocket connections on background goroutines and
// reports everything that happens to them as Events on a single channel.
package transport

import (
	"github.com/gorilla/websocket"
)

type EventKind int

const (
	EventOpened EventKind = iota
	EventMessage
	// EventFailed means the connection could not be established.
	EventFailed
	// EventClosed means an established connection went away.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventFailed:
		return "failed"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

type Event struct {
	Kind    EventKind
	Conn    Conn
	URL     string
	Payload []byte
	Err     error
}

// Conn is a connection handle. Send methods must only be called from the
// goroutine that consumes the event channel.
type Conn interface {
	ID() uint64
	URL() string
	Send(p []byte) error
	SendPrepared(pm *Prepared) error
	EnableNoDelay() error
	Close() error
}

// Dialer opens connections asynchronously. The outcome of each call is
// delivered as an EventOpened or EventFailed.
type Dialer interface {
	Dial(url string)
}

// Prepared is a frame encoded once and written many times.
type Prepared struct {
	data []byte
	pm   *websocket.PreparedMessage
}

func Prepare(data []byte) (*Prepared, error) {
	pm, err := websocket.NewPreparedMessage(websocket.TextMessage, data)
	if err != nil {
		return nil, err
	}
	return &Prepared{data: data, pm: pm}, nil
}

func (p *Prepared) Bytes() []byte {
	return p.data
}
