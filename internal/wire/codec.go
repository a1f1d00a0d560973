// Package wire encodes and decodes the field-delimited text frames spoken by
// the messaging server.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

const (
	FieldSep  byte = 31
	RecordSep byte = 30

	// UnitSize is the size of one event notification. A frame whose length
	// is a positive multiple of UnitSize carries len/UnitSize notifications.
	UnitSize = 16
	// PingSize is the size of a keep-alive frame in either direction.
	PingSize = 5

	// EventNameSize is the event name length that makes a forwarded publish
	// exactly one notification unit.
	EventNameSize = UnitSize - 7
)

var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrFrameLength       = errors.New("frame length does not match kind")
	ErrParams            = errors.New("wrong number of params")
	ErrUnknownKind       = errors.New("unknown message kind")
)

type Kind int

const (
	KindUnknown Kind = iota
	KindChallenge
	KindChallengeResponse
	KindConnectionAck
	KindAuthRequest
	KindAuthAck
	KindEventSubscribe
	KindEventPublish
	KindPing
	KindPong
	KindLoginConfirmation
	KindEventNotification
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindChallenge:         "challenge",
	KindChallengeResponse: "challenge-response",
	KindConnectionAck:     "connection-ack",
	KindAuthRequest:       "auth-request",
	KindAuthAck:           "auth-ack",
	KindEventSubscribe:    "event-subscribe",
	KindEventPublish:      "event-publish",
	KindPing:              "ping",
	KindPong:              "pong",
	KindLoginConfirmation: "login-confirmation",
	KindEventNotification: "event-notification",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Direction int

const (
	Inbound  Direction = iota // server to client
	Outbound                  // client to server
)

// Direction reports which side of the connection produces frames of kind k.
func (k Kind) Direction() Direction {
	switch k {
	case KindChallengeResponse, KindAuthRequest, KindEventSubscribe, KindEventPublish, KindPong:
		return Outbound
	}
	return Inbound
}

// Message is a classified frame.
type Message struct {
	Kind   Kind
	Params []string
	Size   int
}

// Units returns the number of notification units carried by the frame.
func (m Message) Units() int {
	switch m.Kind {
	case KindEventNotification, KindLoginConfirmation:
		return m.Size / UnitSize
	}
	return 0
}

type literal struct {
	kind  Kind
	frame []byte
}

// Matched by prefix before any length based classification.
var inboundLiterals = []literal{
	{KindChallenge, record("C", "CH")},
	{KindConnectionAck, record("C", "A")},
	{KindAuthAck, record("A", "A")},
}

func record(fields ...string) []byte {
	var b bytes.Buffer
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(FieldSep)
		}
		b.WriteString(f)
	}
	b.WriteByte(RecordSep)
	return b.Bytes()
}

func splitRecord(p []byte) ([]string, bool) {
	if len(p) < 2 || p[len(p)-1] != RecordSep {
		return nil, false
	}
	return strings.Split(string(p[:len(p)-1]), string(FieldSep)), true
}

// tail returns the fields following head when p is a single record that
// starts with head and has exactly want trailing fields.
func tail(p []byte, want int, head ...string) []string {
	fields, ok := splitRecord(p)
	if !ok || len(fields) != len(head)+want {
		return nil
	}
	for i, h := range head {
		if fields[i] != h {
			return nil
		}
	}
	return fields[len(head):]
}

// Encode produces the frame for kind.
func Encode(kind Kind, params ...string) ([]byte, error) {
	need := 0
	switch kind {
	case KindChallengeResponse, KindEventSubscribe, KindEventPublish,
		KindLoginConfirmation, KindEventNotification:
		need = 1
	case KindAuthRequest:
		if len(params) == 0 {
			params = []string{"{}"}
		}
		need = 1
	}
	if len(params) != need {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", ErrParams, kind, need, len(params))
	}

	switch kind {
	case KindChallenge:
		return record("C", "CH"), nil
	case KindChallengeResponse:
		return record("C", "CHR", params[0]), nil
	case KindConnectionAck:
		return record("C", "A"), nil
	case KindAuthRequest:
		return record("A", "REQ", params[0]), nil
	case KindAuthAck:
		return record("A", "A"), nil
	case KindEventSubscribe:
		return record("E", "S", params[0]), nil
	case KindEventPublish:
		return record("E", "EVT", params[0]), nil
	case KindPing:
		return record("C", "PI"), nil
	case KindPong:
		return record("C", "PO"), nil
	case KindLoginConfirmation:
		frame := record("E", "A", "S", params[0])
		if len(frame) != UnitSize {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrFrameLength, kind, len(frame))
		}
		return frame, nil
	case KindEventNotification:
		frame := record("E", "EVT", params[0])
		if len(frame)%UnitSize != 0 {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrFrameLength, kind, len(frame))
		}
		return frame, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

// Decode classifies a frame received while a connection is handshaking.
// Known literals match by prefix, everything else by length.
func Decode(p []byte) (Message, error) {
	for _, l := range inboundLiterals {
		if bytes.HasPrefix(p, l.frame) {
			return Message{Kind: l.kind, Size: len(p)}, nil
		}
	}
	if len(p) == UnitSize {
		return Message{
			Kind:   KindLoginConfirmation,
			Params: tail(p, 1, "E", "A", "S"),
			Size:   len(p),
		}, nil
	}
	return Classify(p)
}

// Classify looks at the frame length only: a ping, or a batch of event
// notifications. Any other length is a protocol violation.
func Classify(p []byte) (Message, error) {
	n := len(p)
	switch {
	case n == PingSize:
		return Message{Kind: KindPing, Size: n}, nil
	case n > 0 && n%UnitSize == 0:
		m := Message{Kind: KindEventNotification, Size: n}
		if n == UnitSize {
			m.Params = tail(p, 1, "E", "EVT")
		}
		return m, nil
	}
	return Message{}, fmt.Errorf("%w: unexpected frame of %d bytes", ErrProtocolViolation, n)
}

// DecodeOutbound parses a client to server frame.
func DecodeOutbound(p []byte) (Message, error) {
	fields, ok := splitRecord(p)
	if !ok || len(fields) < 2 {
		return Message{}, fmt.Errorf("%w: malformed frame of %d bytes", ErrUnknownKind, len(p))
	}
	m := Message{Size: len(p)}
	switch fields[0] + "/" + fields[1] {
	case "C/CHR":
		m.Kind = KindChallengeResponse
	case "A/REQ":
		m.Kind = KindAuthRequest
	case "E/S":
		m.Kind = KindEventSubscribe
	case "E/EVT":
		m.Kind = KindEventPublish
	case "C/PO":
		m.Kind = KindPong
		if len(fields) != 2 {
			return Message{}, fmt.Errorf("%w: pong with params", ErrParams)
		}
		return m, nil
	default:
		return Message{}, fmt.Errorf("%w: %s/%s", ErrUnknownKind, fields[0], fields[1])
	}
	if len(fields) != 3 {
		return Message{}, fmt.Errorf("%w: %s has %d fields", ErrParams, m.Kind, len(fields))
	}
	m.Params = fields[2:]
	return m, nil
}
