package ws

import (
	"errors"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
	"github.com/nirvaankohli/north-pole-consensus/internal/metrics"
	"github.com/nirvaankohli/north-pole-consensus/lib/logger/sl"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// Client is one browser connection bound to a session.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	sess    domain.Session
	room    string
	limiter *rate.Limiter
	log     *slog.Logger

	// left is set once the member explicitly left so the disconnect does
	// not announce them twice. Only the read goroutine touches it.
	left bool
}

func newClient(conn *websocket.Conn, sess domain.Session, limiter *rate.Limiter, log *slog.Logger) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		sess:    sess,
		room:    sess.Room,
		limiter: limiter,
		log:     log,
	}
}

func (c *Client) Session() *domain.Session {
	sess := c.sess
	return &sess
}

// readPump decodes inbound frames and hands them to handle until the
// connection fails or handle returns false.
func (c *Client) readPump(handle func(c *Client, event domain.InboundEvent) bool) {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("failed to set read deadline", sl.Err(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("websocket read failed", sl.Err(err))
			}
			return
		}

		if !c.limiter.Allow() {
			metrics.WSMessagesDropped.WithLabelValues("rate_limited").Inc()
			continue
		}

		var event domain.InboundEvent
		if err := json.Unmarshal(data, &event); err != nil || event.Event == "" {
			metrics.WSMessagesDropped.WithLabelValues("malformed").Inc()
			continue
		}

		if !handle(c, event) {
			return
		}
	}
}

// writePump owns all writes to the connection. It exits when the send queue
// is closed or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.log.Debug("websocket write failed", sl.Err(err))
				}
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
