// Package transporttest provides in-memory connections and dialers for tests.
package transporttest

import (
	"dsbench/internal/transport"
)

type Conn struct {
	id      uint64
	url     string
	Sent    [][]byte
	NoDelay bool
	Closed  bool
	SendErr error
}

func NewConn(id uint64, url string) *Conn {
	return &Conn{id: id, url: url}
}

func (c *Conn) ID() uint64  { return c.id }
func (c *Conn) URL() string { return c.url }

func (c *Conn) Send(p []byte) error {
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Sent = append(c.Sent, append([]byte(nil), p...))
	return nil
}

func (c *Conn) SendPrepared(pm *transport.Prepared) error {
	return c.Send(pm.Bytes())
}

func (c *Conn) EnableNoDelay() error {
	c.NoDelay = true
	return nil
}

func (c *Conn) Close() error {
	c.Closed = true
	return nil
}

// Dialer records every dial without opening anything.
type Dialer struct {
	URLs []string
}

func (d *Dialer) Dial(url string) {
	d.URLs = append(d.URLs, url)
}
