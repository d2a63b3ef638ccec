package ws

import (
	"context"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const writeTimeout = 5 * time.Second

// conn adapts one nhooyr websocket to the registry's Conn interface.
type conn struct {
	id     string
	sock   *websocket.Conn
	closed atomic.Bool
}

func (c *conn) ID() string { return c.id }

func (c *conn) Open() bool { return !c.closed.Load() }

func (c *conn) Send(ctx context.Context, payload []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.sock.Write(wctx, websocket.MessageText, payload)
}

func (c *conn) markClosed() { c.closed.Store(true) }
