package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prendiax/backend/internal/auth"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 256
)

// wsConnection adapts a gorilla connection to the registry. Frames are queued on send and
// written by writePump, the only goroutine writing data frames.
type wsConnection struct {
	id        uint64
	identity  auth.Identity
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func newWSConnection(id uint64, identity auth.Identity, conn *websocket.Conn, logger *zap.Logger) *wsConnection {
	return &wsConnection{
		id:       id,
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

func (c *wsConnection) ID() uint64 {
	return c.id
}

func (c *wsConnection) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendQueueFull
	}
}

// Close sends a close frame with the code and tears the socket down. Only the first call acts.
func (c *wsConnection) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		message := websocket.FormatCloseMessage(code, reason)
		if writeErr := c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait)); writeErr != nil {
			c.logger.Debug("close frame not delivered", zap.Error(writeErr))
		}
		err = c.conn.Close()
	})
	return err
}

func (c *wsConnection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writePump drains the send queue and emits protocol pings until the connection closes.
func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.fail("set write deadline", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.fail("write frame", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.fail("write ping", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop blocks on inbound frames and answers each one with the heartbeat frame.
// It returns when the transport fails or closes.
func (c *wsConnection) readLoop() error {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return err
		}
		if err := c.Send(heartbeatFrame); err != nil {
			return err
		}
	}
}

func (c *wsConnection) fail(step string, err error) {
	if !c.closed() {
		c.logger.Info("connection write failed", zap.String("step", step), zap.Error(err))
	}
	_ = c.Close(websocket.CloseGoingAway, "")
}
