package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

var (
	// ErrNotConnected is returned by Emit while no session is open.
	ErrNotConnected = errors.New("socketio: not connected")
	// ErrClosed is returned once the client has been closed.
	ErrClosed = errors.New("socketio: client closed")
)

const (
	defaultDialTimeout  = 15 * time.Second
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
)

// Client is a Socket.IO v2 client speaking Engine.IO v3 over a websocket.
// Handlers run on the client's read goroutine and must not block.
type Client struct {
	endpoint    string
	logger      *zap.Logger
	dialTimeout time.Duration
	newBackOff  func() backoff.BackOff

	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
	conn     *websocket.Conn
	cancel   context.CancelFunc
	started  bool
	closed   bool

	writeMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialTimeout bounds each connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithBackOff sets the reconnect policy. A policy returning backoff.Stop ends
// the connection loop.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(c *Client) {
		if factory != nil {
			c.newBackOff = factory
		}
	}
}

// DefaultBackOff waits 1s before the first retry and at most 5s between retries.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 5 * time.Second
	b.RandomizationFactor = 0.5
	return b
}

// New creates a client for endpoint, e.g. "wss://realtime.streamelements.com".
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		logger:      zap.NewNop(),
		dialTimeout: defaultDialTimeout,
		newBackOff:  DefaultBackOff,
		handlers:    make(map[string][]func(json.RawMessage)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// On registers a handler for a server event. The reserved events "connect",
// "disconnect" and "connect_error" report the session lifecycle.
func (c *Client) On(event string, handler func(payload json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// Emit sends an event with a single argument on the open session.
func (c *Client) Emit(event string, payload any) error {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	return c.send(conn, frame)
}

// Connect validates the endpoint and starts the connection loop in the
// background. The loop redials with backoff until ctx is done or Close is called.
func (c *Client) Connect(ctx context.Context) error {
	cfg, err := c.dialConfig()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx, cfg)
	return nil
}

// Close stops the connection loop and closes the open session. No handler is
// invoked after Close returns.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) dialConfig() (*websocket.Config, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	origin := *u
	switch u.Scheme {
	case "wss", "https":
		u.Scheme, origin.Scheme = "wss", "https"
	case "ws", "http":
		u.Scheme, origin.Scheme = "ws", "http"
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", c.endpoint)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/socket.io/"
	u.RawQuery = url.Values{"EIO": {"3"}, "transport": {"websocket"}}.Encode()
	origin.Path, origin.RawQuery = "", ""

	return websocket.NewConfig(u.String(), origin.String())
}

func (c *Client) run(ctx context.Context, cfg *websocket.Config) {
	policy := c.newBackOff()
	for {
		connected, reconnect := c.session(ctx, cfg)
		if !reconnect || ctx.Err() != nil || c.isClosed() {
			return
		}
		if connected {
			policy.Reset()
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			c.logger.Warn("socket.io reconnect attempts exhausted", zap.String("endpoint", c.endpoint))
			return
		}
		c.logger.Debug("socket.io reconnecting", zap.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one connection. It reports whether the Socket.IO handshake
// completed and whether the loop should try again.
func (c *Client) session(ctx context.Context, cfg *websocket.Config) (connected, reconnect bool) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, err := cfg.DialContext(dialCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return false, false
		}
		c.logger.Warn("socket.io dial failed", zap.String("endpoint", c.endpoint), zap.Error(err))
		c.dispatchError(err.Error())
		return false, true
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return false, false
	}
	c.conn = conn
	c.mu.Unlock()

	stop := make(chan struct{})
	defer func() {
		close(stop)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	reason, reconnect, connected := c.readLoop(ctx, conn, stop)
	if connected {
		c.logger.Info("socket.io session ended", zap.String("reason", reason))
		c.dispatch("disconnect", mustJSON(reason))
	}
	if ctx.Err() != nil {
		reconnect = false
	}
	return connected, reconnect
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) (reason string, reconnect, connected bool) {
	interval, timeout := defaultPingInterval, defaultPingTimeout
	_ = conn.SetReadDeadline(time.Now().Add(interval + timeout))

	for {
		var frame string
		if err := websocket.Message.Receive(conn, &frame); err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return "io client disconnect", false, connected
			}
			c.logger.Debug("socket.io read failed", zap.Error(err))
			if !connected {
				c.dispatchError(err.Error())
			}
			return "transport error", true, connected
		}
		_ = conn.SetReadDeadline(time.Now().Add(interval + timeout))
		if frame == "" {
			continue
		}

		switch frame[0] {
		case engineOpen:
			var open openPayload
			if err := json.Unmarshal([]byte(frame[1:]), &open); err != nil {
				c.logger.Warn("socket.io handshake malformed", zap.Error(err))
				c.dispatchError("malformed handshake")
				return "parse error", true, connected
			}
			if open.PingInterval > 0 {
				interval = time.Duration(open.PingInterval) * time.Millisecond
			}
			if open.PingTimeout > 0 {
				timeout = time.Duration(open.PingTimeout) * time.Millisecond
			}
			_ = conn.SetReadDeadline(time.Now().Add(interval + timeout))
			go c.heartbeat(conn, interval, stop)
		case engineClose:
			return "transport close", true, connected
		case enginePing:
			if err := c.send(conn, string(enginePong)+frame[1:]); err != nil {
				return "transport error", true, connected
			}
		case enginePong, engineNoop, engineUpgrade:
		case engineMessage:
			packet, err := decodeSocketPacket(frame[1:])
			if err != nil || packet.namespace != "/" {
				continue
			}
			switch packet.kind {
			case socketConnect:
				if !connected {
					connected = true
					c.logger.Info("socket.io connected", zap.String("endpoint", c.endpoint))
					c.dispatch("connect", json.RawMessage("null"))
				}
			case socketDisconnect:
				return "io server disconnect", false, connected
			case socketEvent:
				name, arg, err := decodeEvent(packet.data)
				if err != nil {
					c.logger.Warn("dropping malformed socket.io event", zap.Error(err))
					continue
				}
				c.dispatch(name, arg)
			case socketError:
				c.dispatchError(errorMessage(packet.data))
			case socketAck:
			}
		}
	}
}

func (c *Client) heartbeat(conn *websocket.Conn, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.send(conn, string(enginePing)); err != nil {
				c.logger.Debug("socket.io ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) send(conn *websocket.Conn, frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := websocket.Message.Send(conn, frame); err != nil {
		return fmt.Errorf("socketio: send: %w", err)
	}
	return nil
}

func (c *Client) dispatch(event string, payload json.RawMessage) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	handlers := append([]func(json.RawMessage){}, c.handlers[event]...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

func (c *Client) dispatchError(message string) {
	c.dispatch("connect_error", mustJSON(map[string]string{"message": message}))
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// errorMessage extracts text from an error packet body, which servers send
// either as a JSON string or as an object with a message field.
func errorMessage(data string) string {
	var text string
	if err := json.Unmarshal([]byte(data), &text); err == nil {
		return text
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &body); err == nil && body.Message != "" {
		return body.Message
	}
	return data
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}
