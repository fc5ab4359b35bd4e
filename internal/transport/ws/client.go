// Package ws carries the synthesis event channel over a websocket. Frames
// are JSON text messages of the form {"event": "...", "data": {...}}.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatvoice/internal/domain/auth"
	"chatvoice/internal/domain/eventbus"
	apperrors "chatvoice/internal/platform/errors"
	"chatvoice/internal/platform/logging"
	"chatvoice/internal/platform/observability"
)

const (
	logTag            = "WebSocket"
	maxReconnectDelay = 30 * time.Second
)

// ClientConfig stores the settings required to reach the synthesis server.
type ClientConfig struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	Logger           *logging.Logger
	Metrics          *observability.Metrics
}

// Client is an eventbus.Channel backed by a websocket connection. Inbound
// frames are dispatched to handlers on the reader goroutine in arrival
// order. When the connection breaks, handlers receive channel:error.
type Client struct {
	cfg        ClientConfig
	id         string
	userID     string
	logger     *logging.Logger
	dispatcher *eventbus.Dispatcher

	mu     sync.Mutex
	conn   *Connection
	closed atomic.Bool
}

// NewClient builds a client. The user id is read from the session token
// and announced with user:join on every connect.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscard()
	}

	c := &Client{
		cfg:        cfg,
		id:         uuid.NewString(),
		logger:     cfg.Logger,
		dispatcher: eventbus.NewDispatcher(),
	}
	if cfg.Token != "" {
		userID, err := auth.UserIDFromToken(cfg.Token)
		if err != nil {
			c.logger.WarnTag(logTag, "session token carries no user id: %v", err)
		}
		c.userID = userID
	}
	return c
}

// ID is the client id sent in the Client-Id header.
func (c *Client) ID() string {
	return c.id
}

// UserID is the user id decoded from the session token.
func (c *Client) UserID() string {
	return c.userID
}

// Connected reports whether a connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

func (c *Client) On(event string, h eventbus.Handler) *eventbus.Subscription {
	return c.dispatcher.On(event, h)
}

func (c *Client) Emit(event string, payload any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := eventbus.EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	if err := conn.WriteText(frame, c.cfg.WriteTimeout); err != nil {
		return apperrors.Wrap(apperrors.KindTransport, "ws.emit", "write "+event, err)
	}
	c.cfg.Metrics.ChannelFrame("out", event)
	return nil
}

// Connect dials the server, announces the user and starts the reader. The
// returned channel is closed when the connection ends.
func (c *Client) Connect(ctx context.Context) (<-chan struct{}, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	spanCtx, spanEnd := observability.StartSpan(ctx, "transport.websocket", "dial")
	var spanErr error
	defer func() { spanEnd(spanErr) }()

	header := http.Header{}
	header.Set("Client-Id", c.id)
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dialCtx, cancel := context.WithTimeoutCause(spanCtx, c.cfg.HandshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	socket, _, err := dialer.DialContext(dialCtx, c.cfg.URL, header)
	if err != nil {
		if errors.Is(context.Cause(dialCtx), ErrHandshakeTimeout) {
			err = ErrHandshakeTimeout
		}
		spanErr = err
		return nil, apperrors.Wrap(apperrors.KindTransport, "ws.connect", "dial "+c.cfg.URL, err)
	}

	conn := newConnection(c.id, socket)
	if c.cfg.PingInterval > 0 {
		socket.SetPongHandler(func(string) error {
			return socket.SetReadDeadline(time.Now().Add(2 * c.cfg.PingInterval))
		})
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClientClosed
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.InfoTag(logTag, "connected to %s (client %s)", c.cfg.URL, c.id)
	observability.RecordMetric(spanCtx, "websocket.connection.opened", 1, map[string]string{
		"component": "transport.websocket",
		"client_id": c.id,
	})

	if c.userID != "" {
		if err := c.Emit(eventbus.EventUserJoin, eventbus.UserJoinData{UserID: c.userID}); err != nil {
			c.logger.WarnTag(logTag, "user:join failed: %v", err)
		}
	}

	done := make(chan struct{})
	stopPing := make(chan struct{})
	go c.readLoop(conn, done, stopPing)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(conn, stopPing)
	}
	return done, nil
}

// Run keeps the client connected until ctx ends, redialing with backoff.
func (c *Client) Run(ctx context.Context) error {
	delay := time.Second
	for {
		done, err := c.Connect(ctx)
		if err != nil {
			if errors.Is(err, ErrClientClosed) || ctx.Err() != nil {
				return nil
			}
			c.logger.WarnTag(logTag, "connect failed, retrying in %s: %v", delay, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = min(delay*2, maxReconnectDelay)
			continue
		}
		delay = time.Second

		select {
		case <-ctx.Done():
			return c.Close()
		case <-done:
			if c.closed.Load() {
				return nil
			}
		}
	}
}

// Close ends the connection. Later emits fail with ErrClientClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) readLoop(conn *Connection, done, stopPing chan struct{}) {
	defer close(done)
	defer close(stopPing)

	idle := time.Duration(0)
	if c.cfg.PingInterval > 0 {
		idle = 2 * c.cfg.PingInterval
	}

	for {
		messageType, payload, err := conn.ReadMessage(idle)
		if err != nil {
			c.disconnected(conn, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		frame, err := eventbus.DecodeFrame(payload)
		if err != nil {
			c.logger.WarnTag(logTag, "dropping malformed frame: %v", err)
			continue
		}
		c.cfg.Metrics.ChannelFrame("in", frame.Event)
		c.dispatcher.Dispatch(frame.Event, frame.Data)
	}
}

func (c *Client) pingLoop(conn *Connection, stop chan struct{}) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := conn.Ping(c.cfg.WriteTimeout); err != nil {
				c.logger.DebugTag(logTag, "ping failed: %v", err)
				return
			}
		}
	}
}

func (c *Client) disconnected(conn *Connection, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()

	if c.closed.Load() {
		c.logger.InfoTag(logTag, "connection %s closed", conn.ID())
		return
	}

	reason := cause.Error()
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		reason = "connection closed by server"
	}
	c.logger.WarnTag(logTag, "connection lost: %s", reason)

	data, err := eventbus.Encode(eventbus.ChannelErrorData{Reason: reason})
	if err != nil {
		data = []byte(fmt.Sprintf(`{"reason":%q}`, reason))
	}
	c.dispatcher.Dispatch(eventbus.EventChannelError, data)
}
