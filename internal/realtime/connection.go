package realtime

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	appErrors "github.com/Darkvarin/Learnyzer-sub003/pkg/errors"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/logger"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/validator"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 << 10 // battle frames are small JSON documents

	sendBufferSize = 64

	// Delay between enqueuing a terminal status frame and tearing the
	// socket down, so the write loop can flush the notice first.
	terminalNoticeFlush = 250 * time.Millisecond
)

// Connection is one authenticated transport connection. The registry
// guarantees at most one authoritative Connection per identity.
type Connection struct {
	registry *Registry
	socket   *websocket.Conn
	identity Identity
	sink     FrameSink

	send       chan OutboundFrame
	done       chan struct{}
	lastActive atomic.Int64
	closed     atomic.Bool
	once       sync.Once
	log        *zap.Logger
}

func newConnection(registry *Registry, socket *websocket.Conn, identity Identity, sink FrameSink) *Connection {
	c := &Connection{
		registry: registry,
		socket:   socket,
		identity: identity,
		sink:     sink,
		send:     make(chan OutboundFrame, sendBufferSize),
		done:     make(chan struct{}),
		log:      logger.WithModule("realtime").With(zap.String("user_id", identity.UserID)),
	}
	c.touch()
	return c
}

// Identity returns the authenticated identity bound to this connection.
func (c *Connection) Identity() Identity {
	return c.identity
}

// LastActive reports when the connection last produced a frame or pong.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// Send enqueues a frame for delivery. A connection that cannot keep up with
// its send buffer is closed rather than allowed to stall the room. The send
// channel is never closed, so a Send racing a concurrent close cannot panic;
// close is signalled through the done channel instead.
func (c *Connection) Send(frame OutboundFrame) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
		c.log.Warn("dropping backpressure connection")
		c.close()
		return false
	}
}

// SendError acknowledges a protocol violation back to the sender without
// terminating the connection.
func (c *Connection) SendError(battleID string, appErr *appErrors.AppError) {
	if appErr == nil {
		return
	}
	c.Send(NewFrame(EventConnectionStatus, battleID, StatusPayload{
		Status:  StatusError,
		Code:    appErr.Code,
		Message: appErr.Message,
	}))
}

// shutdownWithStatus enqueues a terminal status frame and closes the
// connection once the write loop has had a chance to flush it.
func (c *Connection) shutdownWithStatus(status StatusPayload) {
	c.Send(NewFrame(EventConnectionStatus, "", status))
	time.AfterFunc(terminalNoticeFlush, c.close)
}

func (c *Connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		c.touch()
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Debug("unexpected close", zap.Error(err))
			}
			break
		}

		if len(payload) == 0 {
			continue
		}
		c.touch()

		var frame InboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.log.Debug("malformed frame", zap.Error(err))
			c.SendError("", appErrors.NewBadRequest("malformed frame"))
			continue
		}

		if err := validator.ValidateStruct(frame); err != nil {
			c.SendError(frame.BattleID, appErrors.NewBadRequest(err.Error()))
			continue
		}

		// Frames from a single connection are handed to the sink in
		// receive order; ordering across connections is unspecified.
		c.sink.HandleFrame(c.identity, frame)
	}
}

func (c *Connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(frame); err != nil {
				return
			}
		case <-c.done:
			// Flush frames enqueued before the close so terminal notices
			// still reach the peer.
			for {
				select {
				case frame := <-c.send:
					_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.socket.WriteJSON(frame); err != nil {
						return
					}
				default:
					_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) close() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.registry.unregister(c)
		_ = c.socket.Close()
	})
}
