// Package socketio is a minimal Socket.IO v5 client for the default
// namespace, built on the engineio package.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nhle/petropulse/internal/push/engineio"
)

// ErrServerDisconnect ends a connection the server disconnected.
var ErrServerDisconnect = errors.New("socketio: disconnected by server")

// ConnectError is returned by Dial when the server refuses the namespace.
type ConnectError struct {
	Message string
}

func (e *ConnectError) Error() string {
	return "socketio: connect refused: " + e.Message
}

// Client is a connected Socket.IO session.
type Client struct {
	eio    *engineio.Conn
	logger *slog.Logger
	sid    string

	events chan Event
	done   chan struct{}
	once   sync.Once
	err    error
}

// Dial opens the Engine.IO session, joins the default namespace and
// waits for the server to accept. auth, when non-nil, is sent with the
// CONNECT packet.
func Dial(ctx context.Context, cfg engineio.Config, auth any) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	eio, err := engineio.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	connect := Packet{Type: PacketConnect, ID: -1}
	if auth != nil {
		data, err := json.Marshal(auth)
		if err != nil {
			_ = eio.Close()
			return nil, fmt.Errorf("socketio: encoding auth: %w", err)
		}
		connect.Data = data
	}
	if err := eio.Send(connect.Encode()); err != nil {
		_ = eio.Close()
		return nil, fmt.Errorf("socketio: sending connect: %w", err)
	}

	sid, err := awaitConnect(ctx, eio)
	if err != nil {
		_ = eio.Close()
		return nil, err
	}

	c := &Client{
		eio:    eio,
		logger: logger,
		sid:    sid,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func awaitConnect(ctx context.Context, eio *engineio.Conn) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case msg, ok := <-eio.Messages():
			if !ok {
				if err := eio.Err(); err != nil {
					return "", err
				}
				return "", engineio.ErrClosed
			}
			p, err := DecodePacket(msg)
			if err != nil {
				return "", err
			}
			switch p.Type {
			case PacketConnect:
				var reply struct {
					SID string `json:"sid"`
				}
				if len(p.Data) > 0 {
					_ = json.Unmarshal(p.Data, &reply)
				}
				return reply.SID, nil
			case PacketConnectError:
				var reply struct {
					Message string `json:"message"`
				}
				_ = json.Unmarshal(p.Data, &reply)
				return "", &ConnectError{Message: reply.Message}
			}
		}
	}
}

// SID returns the Socket.IO session id.
func (c *Client) SID() string { return c.sid }

// Transport returns the active Engine.IO transport name.
func (c *Client) Transport() string { return c.eio.Transport() }

// Events delivers incoming events. It is closed when the connection ends.
func (c *Client) Events() <-chan Event { return c.events }

// Err returns why the connection ended, nil while open or after Close.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Emit sends an event with the given arguments.
func (c *Client) Emit(event string, args ...any) error {
	data, err := encodeEvent(event, args)
	if err != nil {
		return err
	}
	return c.eio.Send(Packet{Type: PacketEvent, ID: -1, Data: data}.Encode())
}

// Close leaves the namespace and closes the Engine.IO session.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	_ = c.eio.Send(Packet{Type: PacketDisconnect, ID: -1}.Encode())
	c.finish(nil)
	return c.eio.Close()
}

func (c *Client) finish(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Client) readLoop() {
	defer close(c.events)

	for msg := range c.eio.Messages() {
		p, err := DecodePacket(msg)
		if err != nil {
			c.logger.Warn("dropping malformed socket.io packet", "error", err)
			continue
		}
		switch p.Type {
		case PacketEvent:
			ev, err := decodeEvent(p.Data)
			if err != nil {
				c.logger.Warn("dropping malformed event", "error", err)
				continue
			}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		case PacketDisconnect:
			c.finish(ErrServerDisconnect)
			_ = c.eio.Close()
			return
		}
	}
	c.finish(c.eio.Err())
}
