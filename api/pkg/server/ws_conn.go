package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/types"
)

const (
	writeWait           = 5 * time.Second
	defaultPingInterval = 15 * time.Second
)

var (
	errConnClosed    = errors.New("connection closed")
	errSendQueueFull = errors.New("send queue full")

	_ types.Conn = &wsConn{}
)

// wsConn is one browser or agent WebSocket. Frames are queued and written by
// a single writer goroutine, so Send never blocks the caller. A peer that
// falls behind by more than the queue size is disconnected.
type wsConn struct {
	id           string
	conn         *websocket.Conn
	pingInterval time.Duration

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newWSConn(id string, conn *websocket.Conn, queueSize int, pingInterval time.Duration) *wsConn {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &wsConn{
		id:           id,
		conn:         conn,
		pingInterval: pingInterval,
		send:         make(chan []byte, queueSize),
		closed:       make(chan struct{}),
	}
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Send(ev types.Event) error {
	data, err := types.Encode(ev)
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		log.Warn().Str("conn_id", c.id).Int("queue_size", cap(c.send)).Msg("peer too slow, closing connection")
		_ = c.Close()
		return errSendQueueFull
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// writePump owns all data writes to the socket and keeps it alive with
// pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket write failed")
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket ping failed")
				_ = c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// readPump decodes frames from ch and passes them to handle until the
// socket fails. Malformed frames are logged and skipped.
func (c *wsConn) readPump(ch types.Channel, maxMessageBytes int64, handle func(types.Event)) {
	c.conn.SetReadLimit(maxMessageBytes)

	// a peer that stops answering pings is dropped after two missed rounds
	readTimeout := 2*c.pingInterval + writeWait
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket closed unexpectedly")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if messageType != websocket.TextMessage {
			log.Debug().Str("conn_id", c.id).Int("message_type", messageType).Msg("ignoring non-text frame")
			continue
		}

		ev, err := types.Decode(ch, data)
		if err != nil {
			log.Warn().Err(err).Str("conn_id", c.id).Msg("dropping malformed frame")
			continue
		}
		handle(ev)
	}
}
