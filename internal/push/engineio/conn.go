// Package engineio is a client for the Engine.IO v4 protocol, the transport
// layer underneath Socket.IO.
//
// Dial performs the long-polling handshake and upgrades to a websocket when
// the server offers one and the configuration allows it. The server drives
// the heartbeat: each ping is answered with a pong, and silence longer than
// pingInterval plus pingTimeout closes the connection.
package engineio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const protocolVersion = "4"

var (
	// ErrClosed is returned by Send after the connection has ended.
	ErrClosed = errors.New("engineio: connection closed")

	// ErrTimeout ends a connection whose heartbeat stopped.
	ErrTimeout = errors.New("engineio: heartbeat timeout")

	// ErrServerClose ends a connection the server closed.
	ErrServerClose = errors.New("engineio: closed by server")
)

// Config describes where and how to connect.
type Config struct {
	// URL is the server origin, e.g. http://localhost:5000.
	URL string

	// Path is the endpoint path, "/engine.io/" when empty.
	Path string

	// Transports are tried in order. Empty means polling then websocket.
	Transports []string

	// Query holds extra query parameters sent on every request.
	Query url.Values

	Header     http.Header
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// Conn is an open Engine.IO session.
type Conn struct {
	cfg       Config
	logger    *slog.Logger
	sid       string
	transport transport
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	messages chan string
	alive    chan struct{}
	done     chan struct{}
	once     sync.Once
	err      error
}

// Dial opens a session. The returned connection reads in the background
// until it is closed or fails; Done reports the end.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.Path == "" {
		cfg.Path = "/engine.io/"
	}
	if len(cfg.Transports) == 0 {
		cfg.Transports = []string{TransportPolling, TransportWebsocket}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		t       transport
		hs      handshake
		pending []Packet
		err     error
	)
	switch cfg.Transports[0] {
	case TransportPolling:
		t, hs, pending, err = openPolling(ctx, cfg)
	case TransportWebsocket:
		t, hs, err = openWebsocket(ctx, cfg)
	default:
		return nil, fmt.Errorf("engineio: unknown transport %q", cfg.Transports[0])
	}
	if err != nil {
		return nil, err
	}

	if t.name() == TransportPolling && slices.Contains(cfg.Transports, TransportWebsocket) &&
		slices.Contains(hs.Upgrades, TransportWebsocket) {
		upgraded, err := upgrade(ctx, cfg, hs.SID)
		switch {
		case ctx.Err() != nil:
			_ = t.close()
			return nil, fmt.Errorf("engineio upgrade: %w", ctx.Err())
		case err != nil:
			logger.Debug("websocket upgrade failed, staying on polling", "sid", hs.SID, "error", err)
		default:
			t = upgraded
		}
	}
	if err := ctx.Err(); err != nil {
		_ = t.close()
		return nil, fmt.Errorf("engineio handshake: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		cfg:       cfg,
		logger:    logger,
		sid:       hs.SID,
		transport: t,
		timeout:   time.Duration(hs.PingInterval+hs.PingTimeout) * time.Millisecond,
		ctx:       connCtx,
		cancel:    cancel,
		messages:  make(chan string, 64),
		alive:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	go c.readLoop(pending)
	if c.timeout > 0 {
		go c.heartbeat()
	}
	return c, nil
}

// SID returns the session id assigned by the server.
func (c *Conn) SID() string { return c.sid }

// Transport returns the name of the active transport.
func (c *Conn) Transport() string { return c.transport.name() }

// Messages delivers the payload of every message packet. It is closed when
// the connection ends.
func (c *Conn) Messages() <-chan string { return c.messages }

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, nil while it is open or after a
// local Close.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Send writes one message packet.
func (c *Conn) Send(data string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.transport.write(c.ctx, Packet{Type: PacketMessage, Data: data}); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// Close tells the server goodbye and releases the transport.
func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	ctx, cancel := context.WithTimeout(c.ctx, time.Second)
	_ = c.transport.write(ctx, Packet{Type: PacketClose})
	cancel()
	c.fail(nil)
	return nil
}

func (c *Conn) fail(err error) {
	c.once.Do(func() {
		c.err = err
		c.cancel()
		if cerr := c.transport.close(); cerr != nil {
			c.logger.Debug("closing transport", "error", cerr)
		}
		close(c.done)
	})
}

func (c *Conn) readLoop(pending []Packet) {
	defer close(c.messages)

	if !c.handle(pending) {
		return
	}
	for {
		packets, err := c.transport.read(c.ctx)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.fail(err)
			}
			return
		}
		if !c.handle(packets) {
			return
		}
	}
}

// handle processes one batch and reports whether reading should continue.
func (c *Conn) handle(packets []Packet) bool {
	for _, p := range packets {
		select {
		case c.alive <- struct{}{}:
		default:
		}

		switch p.Type {
		case PacketPing:
			if err := c.transport.write(c.ctx, Packet{Type: PacketPong, Data: p.Data}); err != nil {
				c.fail(fmt.Errorf("answering ping: %w", err))
				return false
			}
		case PacketMessage:
			select {
			case c.messages <- p.Data:
			case <-c.done:
				return false
			}
		case PacketClose:
			c.fail(ErrServerClose)
			return false
		case PacketNoop, PacketPong, PacketOpen, PacketUpgrade:
		}
	}
	return true
}

func (c *Conn) heartbeat() {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	for {
		select {
		case <-c.alive:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.timeout)
		case <-timer.C:
			c.logger.Debug("heartbeat timeout", "sid", c.sid, "timeout", c.timeout)
			c.fail(ErrTimeout)
			return
		case <-c.done:
			return
		}
	}
}

func openPolling(ctx context.Context, cfg Config) (*pollingTransport, handshake, []Packet, error) {
	p := &pollingTransport{
		url:    endpoint(cfg, TransportPolling, ""),
		client: cfg.HTTPClient,
		header: cfg.Header,
	}
	packets, err := p.read(ctx)
	if err != nil {
		return nil, handshake{}, nil, fmt.Errorf("engineio handshake: %w", err)
	}
	if len(packets) == 0 {
		return nil, handshake{}, nil, errors.New("engineio handshake: empty response")
	}
	hs, err := parseOpen(packets[0])
	if err != nil {
		return nil, handshake{}, nil, err
	}
	p.url = endpoint(cfg, TransportPolling, hs.SID)
	return p, hs, packets[1:], nil
}

func openWebsocket(ctx context.Context, cfg Config) (*websocketTransport, handshake, error) {
	w, err := dialWebsocket(ctx, cfg.Dialer, websocketURL(endpoint(cfg, TransportWebsocket, "")), cfg.Header)
	if err != nil {
		return nil, handshake{}, fmt.Errorf("engineio handshake: %w", err)
	}
	packets, err := w.read(ctx)
	if err != nil {
		_ = w.close()
		return nil, handshake{}, fmt.Errorf("engineio handshake: %w", err)
	}
	hs, err := parseOpen(packets[0])
	if err != nil {
		_ = w.close()
		return nil, handshake{}, err
	}
	return w, hs, nil
}

// upgrade probes a websocket for an existing polling session. No poll is
// in flight yet, so the server has nothing to flush with a noop.
func upgrade(ctx context.Context, cfg Config, sid string) (*websocketTransport, error) {
	w, err := dialWebsocket(ctx, cfg.Dialer, websocketURL(endpoint(cfg, TransportWebsocket, sid)), cfg.Header)
	if err != nil {
		return nil, err
	}
	if err := w.write(ctx, Packet{Type: PacketPing, Data: "probe"}); err != nil {
		_ = w.close()
		return nil, err
	}
	packets, err := w.read(ctx)
	if err != nil {
		_ = w.close()
		return nil, err
	}
	if packets[0].Type != PacketPong || packets[0].Data != "probe" {
		_ = w.close()
		return nil, fmt.Errorf("unexpected probe reply %q", packets[0].Encode())
	}
	if err := w.write(ctx, Packet{Type: PacketUpgrade}); err != nil {
		_ = w.close()
		return nil, err
	}
	return w, nil
}

func parseOpen(p Packet) (handshake, error) {
	if p.Type != PacketOpen {
		return handshake{}, fmt.Errorf("engineio handshake: expected open packet, got %s", p.Type)
	}
	var hs handshake
	if err := json.Unmarshal([]byte(p.Data), &hs); err != nil {
		return handshake{}, fmt.Errorf("engineio handshake: decoding open packet: %w", err)
	}
	if hs.SID == "" {
		return handshake{}, errors.New("engineio handshake: missing sid")
	}
	return hs, nil
}

func endpoint(cfg Config, transport, sid string) string {
	q := url.Values{}
	for k, v := range cfg.Query {
		q[k] = v
	}
	q.Set("EIO", protocolVersion)
	q.Set("transport", transport)
	if sid != "" {
		q.Set("sid", sid)
	}
	path := cfg.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(cfg.URL, "/") + path + "?" + q.Encode()
}

func websocketURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}
