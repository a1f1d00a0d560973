package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const DefaultConnectTimeout = 10 * time.Second

// WSDialer dials WebSocket connections and starts a read loop for each one.
type WSDialer struct {
	events  chan<- Event
	dialer  *websocket.Dialer
	timeout time.Duration
	logger  *zap.Logger

	ctx    context.Context
	nextID uint64
}

func NewWSDialer(ctx context.Context, events chan<- Event, timeout time.Duration, logger *zap.Logger) *WSDialer {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &WSDialer{
		events: events,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
	}
}

func (d *WSDialer) Dial(url string) {
	go d.dial(url)
}

func (d *WSDialer) dial(url string) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	ws, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		d.emit(Event{Kind: EventFailed, URL: url, Err: err})
		return
	}

	c := &wsConn{
		id:  atomic.AddUint64(&d.nextID, 1),
		url: url,
		ws:  ws,
	}
	d.emit(Event{Kind: EventOpened, Conn: c, URL: url})
	d.readLoop(c)
}

func (d *WSDialer) readLoop(c *wsConn) {
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if !c.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				d.logger.Debug("read failed", zap.Uint64("conn", c.id), zap.Error(err))
			}
			d.emit(Event{Kind: EventClosed, Conn: c, URL: c.url, Err: err})
			return
		}
		d.emit(Event{Kind: EventMessage, Conn: c, URL: c.url, Payload: payload})
	}
}

func (d *WSDialer) emit(ev Event) {
	select {
	case d.events <- ev:
	case <-d.ctx.Done():
		if ev.Conn != nil {
			ev.Conn.Close()
		}
	}
}

type wsConn struct {
	id     uint64
	url    string
	ws     *websocket.Conn
	closed atomic.Bool
	once   sync.Once
}

func (c *wsConn) ID() uint64  { return c.id }
func (c *wsConn) URL() string { return c.url }

func (c *wsConn) Send(p []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, p)
}

func (c *wsConn) SendPrepared(pm *Prepared) error {
	return c.ws.WritePreparedMessage(pm.pm)
}

func (c *wsConn) EnableNoDelay() error {
	tcp, ok := c.ws.UnderlyingConn().(*net.TCPConn)
	if !ok {
		return errors.New("not a tcp connection")
	}
	return tcp.SetNoDelay(true)
}

func (c *wsConn) isClosed() bool {
	return c.closed.Load()
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		err = c.ws.Close()
	})
	return err
}
