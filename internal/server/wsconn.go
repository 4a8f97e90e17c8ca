package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	controlWriteWait = 10 * time.Second
	// clients only send control frames
	maxClientMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 256 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsConnOptions struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
}

// wsConn adapts a websocket connection to stream.Conn. Frames go out as binary messages; a read pump
// answers control frames and reports the client going away through Done.
type wsConn struct {
	conn   *websocket.Conn
	opts   wsConnOptions
	logger *logrus.Entry

	writeMu   sync.Mutex
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, opts wsConnOptions, logger *logrus.Entry) *wsConn {
	c := &wsConn{
		conn:   conn,
		opts:   opts,
		logger: logger,
		done:   make(chan struct{}),
	}
	go c.readPump()
	go c.pingLoop()
	return c
}

func (c *wsConn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *wsConn) Done() <-chan struct{} {
	return c.done
}

func (c *wsConn) SendBinary(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var deadline time.Time
	if c.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(c.opts.WriteTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.markDone()
		return err
	}
	return nil
}

// Close sends a normal close frame and closes the connection. Only the first call has an effect.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.conn.Close()
		c.markDone()
	})
	return err
}

// readPump reads messages from the websocket connection to process pongs and detect disconnection.
func (c *wsConn) readPump() {
	defer c.markDone()

	c.conn.SetReadLimit(maxClientMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.WithError(err).Debug("websocket read failed")
			}
			return
		}
	}
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteWait)); err != nil {
				c.markDone()
				return
			}
		}
	}
}
