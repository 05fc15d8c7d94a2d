package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 8192                // 1000 characters of content plus the envelope.
	sendBufferSize = 256
)

// Limiter throttles inbound sends per user. middleware.RateLimiter
// implements it.
type Limiter interface {
	Allow(userID string) bool
}

// Client is one websocket connection. It implements Session: everything
// the router pushes is encoded up front and queued on send, and WritePump is
// the only writer on the socket.
type Client struct {
	id      string
	userID  string
	conn    *websocket.Conn
	hub     *Hub
	service *Service
	limiter Limiter
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func NewClient(conn *websocket.Conn, userID string, hub *Hub, service *Service, limiter Limiter, log *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		userID:  userID,
		conn:    conn,
		hub:     hub,
		service: service,
		limiter: limiter,
		log:     log.With(slog.String("session_id", id), slog.String("user_id", userID)),
		send:    make(chan []byte, sendBufferSize),
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Push never waits on the socket. A full buffer means the peer is not
// keeping up and the caller should drop the session.
func (c *Client) Push(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops WritePump, which then closes the socket. Safe to call more
// than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

type inboundEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// ReadPump dispatches inbound events until the connection fails, then
// disconnects the session from the hub.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Disconnect(context.WithoutCancel(ctx), c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", slog.Any("error", err))
			}
			return
		}
		c.dispatch(ctx, raw)
	}
}

func (c *Client) dispatch(ctx context.Context, raw []byte) {
	var in inboundEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		c.fail(ctx, "Malformed event")
		return
	}

	switch in.Name {
	case EventSendMessage:
		if c.limiter != nil && !c.limiter.Allow(c.userID) {
			c.fail(ctx, "Too many messages, slow down")
			return
		}
		var req SendRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.fail(ctx, "Malformed message")
			return
		}
		if _, err := c.service.SubmitMessage(ctx, c.userID, req, c); err != nil {
			c.fail(ctx, clientMessage(err, "Failed to send message"))
			if !IsClientError(err) {
				c.log.Error("send failed", slog.Any("error", err))
			}
		}

	case EventMarkRead:
		var req MarkReadRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.fail(ctx, "Malformed event")
			return
		}
		if _, err := c.service.MarkConversationRead(ctx, c.userID, req.UserID); err != nil {
			c.fail(ctx, clientMessage(err, "Failed to mark messages as read"))
			if !IsClientError(err) {
				c.log.Error("mark read failed", slog.Any("error", err))
			}
		}

	default:
		c.fail(ctx, "Unknown event")
	}
}

func (c *Client) fail(ctx context.Context, reason string) {
	_ = c.Push(ctx, Event{Name: EventMessageError, Data: ErrorPayload{Error: reason}})
}

// WritePump drains send onto the socket, one event per frame, and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func clientMessage(err error, fallback string) string {
	if IsClientError(err) {
		return err.Error()
	}
	return fallback
}
