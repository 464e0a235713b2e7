package engineio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport names as they appear in the query string and handshake.
const (
	TransportPolling   = "polling"
	TransportWebsocket = "websocket"
)

type transport interface {
	name() string
	// read blocks for the next batch of packets.
	read(ctx context.Context) ([]Packet, error)
	write(ctx context.Context, packets ...Packet) error
	close() error
}

type pollingTransport struct {
	url    string
	client *http.Client
	header http.Header

	// writes are serialized; the server rejects overlapping posts.
	wmu sync.Mutex
}

func (p *pollingTransport) name() string { return TransportPolling }

func (p *pollingTransport) read(ctx context.Context) ([]Packet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating poll request: %w", err)
	}
	p.applyHeader(req)

	body, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("polling: %w", err)
	}
	return DecodePayload(body)
}

func (p *pollingTransport) write(ctx context.Context, packets ...Packet) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, p.url, strings.NewReader(EncodePayload(packets)),
	)
	if err != nil {
		return fmt.Errorf("creating post request: %w", err)
	}
	p.applyHeader(req)
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")

	if _, err := p.do(req); err != nil {
		return fmt.Errorf("posting packets: %w", err)
	}
	return nil
}

func (p *pollingTransport) close() error { return nil }

func (p *pollingTransport) applyHeader(req *http.Request) {
	for name, values := range p.header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
}

func (p *pollingTransport) do(req *http.Request) (string, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return string(data), nil
}

type websocketTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func dialWebsocket(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header) (*websocketTransport, error) {
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}
	return &websocketTransport{conn: conn}, nil
}

func (w *websocketTransport) name() string { return TransportWebsocket }

// read and write close the socket when ctx ends, so a silent peer cannot
// hold the caller past its deadline.
func (w *websocketTransport) read(ctx context.Context) ([]Packet, error) {
	stop := context.AfterFunc(ctx, func() { _ = w.conn.Close() })
	defer stop()

	kind, data, err := w.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading websocket: %w", err)
	}
	if kind != websocket.TextMessage {
		return nil, ErrBinaryPacket
	}
	p, err := DecodePacket(string(data))
	if err != nil {
		return nil, err
	}
	return []Packet{p}, nil
}

func (w *websocketTransport) write(ctx context.Context, packets ...Packet) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	stop := context.AfterFunc(ctx, func() { _ = w.conn.Close() })
	defer stop()

	for _, p := range packets {
		if err := w.conn.WriteMessage(websocket.TextMessage, []byte(p.Encode())); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("writing websocket: %w", err)
		}
	}
	return nil
}

func (w *websocketTransport) close() error {
	return w.conn.Close()
}
