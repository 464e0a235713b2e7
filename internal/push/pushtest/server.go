// Package pushtest runs an in-process Socket.IO server for tests. It
// speaks Engine.IO v4 over long-polling and websocket and records every
// Socket.IO packet clients send.
package pushtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nhle/petropulse/internal/push/engineio"
)

// Options tune the server behaviour.
type Options struct {
	// PingInterval and PingTimeout are advertised in the handshake.
	// Defaults are 25s and 20s.
	PingInterval time.Duration
	PingTimeout  time.Duration

	// NoPing stops the server from pinging, so clients time out.
	NoPing bool

	// NoUpgrade leaves websocket out of the advertised upgrades.
	NoUpgrade bool

	// RejectConnect answers the Socket.IO CONNECT with CONNECT_ERROR
	// carrying this message.
	RejectConnect string
}

// Inbound is one Socket.IO packet received from a client.
type Inbound struct {
	SID    string
	Packet string
}

// Server is a running test server.
type Server struct {
	URL string

	opts     Options
	http     *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	sessions    map[string]*session
	nextID      int
	unavailable bool

	handshakes atomic.Int64
	pongs      atomic.Int64
	received   chan Inbound
}

type session struct {
	id        string
	out       chan string
	closed    chan struct{}
	closeOnce sync.Once
	upgraded  atomic.Bool
}

// NewServer starts a server that is shut down when the test ends.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()
	if opts.PingInterval == 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = 20 * time.Second
	}

	s := &Server{
		opts:     opts,
		sessions: make(map[string]*session),
		received: make(chan Inbound, 256),
	}
	s.http = httptest.NewServer(http.HandlerFunc(s.serve))
	s.URL = s.http.URL
	t.Cleanup(s.Close)
	return s
}

// Close drops every session and stops the server.
func (s *Server) Close() {
	s.DropAll()
	s.http.Close()
}

// Received delivers client packets in arrival order.
func (s *Server) Received() <-chan Inbound { return s.received }

// Handshakes counts Engine.IO sessions opened so far.
func (s *Server) Handshakes() int { return int(s.handshakes.Load()) }

// Pongs counts heartbeat replies.
func (s *Server) Pongs() int { return int(s.pongs.Load()) }

// Sessions counts open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Upgraded reports how many open sessions run over websocket.
func (s *Server) Upgraded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.upgraded.Load() {
			n++
		}
	}
	return n
}

// SetAvailable makes new handshakes fail with 503 while false.
func (s *Server) SetAvailable(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = !ok
}

// Emit sends a Socket.IO event to every session.
func (s *Server) Emit(event string, args ...any) {
	data, err := json.Marshal(append([]any{event}, args...))
	if err != nil {
		panic(fmt.Sprintf("pushtest: encoding event: %v", err))
	}
	s.SendRaw("2" + string(data))
}

// SendRaw sends a Socket.IO packet verbatim to every session.
func (s *Server) SendRaw(packet string) {
	for _, sess := range s.snapshot() {
		s.enqueue(sess, engineio.Packet{Type: engineio.PacketMessage, Data: packet}.Encode())
	}
}

// DropAll ends every session without a Socket.IO disconnect, as a network
// failure would.
func (s *Server) DropAll() {
	for _, sess := range s.snapshot() {
		s.closeSession(sess)
	}
}

func (s *Server) snapshot() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("EIO") != "4" {
		http.Error(w, `{"code":5,"message":"Unsupported protocol version"}`, http.StatusBadRequest)
		return
	}

	sid := q.Get("sid")
	switch q.Get("transport") {
	case engineio.TransportPolling:
		if sid == "" {
			s.openPolling(w)
			return
		}
		sess := s.lookup(sid)
		if sess == nil {
			http.Error(w, `{"code":1,"message":"Session ID unknown"}`, http.StatusBadRequest)
			return
		}
		if r.Method == http.MethodPost {
			s.receivePolling(w, r, sess)
			return
		}
		s.poll(w, r, sess)
	case engineio.TransportWebsocket:
		s.serveWebsocket(w, r, sid)
	default:
		http.Error(w, `{"code":0,"message":"Transport unknown"}`, http.StatusBadRequest)
	}
}

func (s *Server) lookup(sid string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sid]
}

// newSession returns nil while the server is unavailable.
func (s *Server) newSession() *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil
	}
	s.nextID++
	sess := &session{
		id:     fmt.Sprintf("eio-%d", s.nextID),
		out:    make(chan string, 64),
		closed: make(chan struct{}),
	}
	s.sessions[sess.id] = sess
	s.handshakes.Add(1)

	if !s.opts.NoPing {
		go s.ping(sess)
	}
	return sess
}

func (s *Server) openPacket(sess *session) string {
	upgrades := []string{engineio.TransportWebsocket}
	if s.opts.NoUpgrade {
		upgrades = []string{}
	}
	data, _ := json.Marshal(map[string]any{
		"sid":          sess.id,
		"upgrades":     upgrades,
		"pingInterval": s.opts.PingInterval.Milliseconds(),
		"pingTimeout":  s.opts.PingTimeout.Milliseconds(),
		"maxPayload":   1000000,
	})
	return engineio.Packet{Type: engineio.PacketOpen, Data: string(data)}.Encode()
}

func (s *Server) openPolling(w http.ResponseWriter) {
	sess := s.newSession()
	if sess == nil {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = io.WriteString(w, s.openPacket(sess))
}

func (s *Server) poll(w http.ResponseWriter, r *http.Request, sess *session) {
	select {
	case first := <-sess.out:
		batch := []string{first}
	drain:
		for {
			select {
			case next := <-sess.out:
				batch = append(batch, next)
			default:
				break drain
			}
		}
		_, _ = io.WriteString(w, strings.Join(batch, "\x1e"))
	case <-sess.closed:
		_, _ = io.WriteString(w, engineio.Packet{Type: engineio.PacketClose}.Encode())
	case <-r.Context().Done():
	}
}

func (s *Server) receivePolling(w http.ResponseWriter, r *http.Request, sess *session) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	packets, err := engineio.DecodePayload(string(body))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, p := range packets {
		s.process(sess, p)
	}
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request, sid string) {
	var sess *session
	if sid != "" {
		if sess = s.lookup(sid); sess == nil {
			http.Error(w, `{"code":1,"message":"Session ID unknown"}`, http.StatusBadRequest)
			return
		}
	} else {
		if sess = s.newSession(); sess == nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if sid == "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(s.openPacket(sess))); err != nil {
			s.closeSession(sess)
			return
		}
	} else if !probe(conn) {
		return
	}
	sess.upgraded.Store(true)

	go func() {
		for {
			select {
			case msg := <-sess.out:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					s.closeSession(sess)
					return
				}
			case <-sess.closed:
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.closeSession(sess)
			return
		}
		p, err := engineio.DecodePacket(string(data))
		if err != nil {
			continue
		}
		s.process(sess, p)
	}
}

// probe runs the server side of the upgrade handshake.
func probe(conn *websocket.Conn) bool {
	_, data, err := conn.ReadMessage()
	if err != nil || string(data) != "2probe" {
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("3probe")); err != nil {
		return false
	}
	_, data, err = conn.ReadMessage()
	return err == nil && string(data) == "5"
}

func (s *Server) process(sess *session, p engineio.Packet) {
	switch p.Type {
	case engineio.PacketPong:
		s.pongs.Add(1)
	case engineio.PacketClose:
		s.closeSession(sess)
	case engineio.PacketMessage:
		s.socketio(sess, p.Data)
	}
}

func (s *Server) socketio(sess *session, packet string) {
	select {
	case s.received <- Inbound{SID: sess.id, Packet: packet}:
	default:
	}

	if !strings.HasPrefix(packet, "0") {
		return
	}
	var reply string
	if s.opts.RejectConnect != "" {
		data, _ := json.Marshal(map[string]string{"message": s.opts.RejectConnect})
		reply = "4" + string(data)
	} else {
		reply = `0{"sid":"sio-` + sess.id + `"}`
	}
	s.enqueue(sess, engineio.Packet{Type: engineio.PacketMessage, Data: reply}.Encode())
}

func (s *Server) enqueue(sess *session, packet string) {
	select {
	case sess.out <- packet:
	case <-sess.closed:
	}
}

func (s *Server) ping(sess *session) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.enqueue(sess, engineio.Packet{Type: engineio.PacketPing}.Encode())
		case <-sess.closed:
			return
		}
	}
}

func (s *Server) closeSession(sess *session) {
	sess.closeOnce.Do(func() {
		close(sess.closed)
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
	})
}
