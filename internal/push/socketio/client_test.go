package socketio_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/petropulse/internal/push/engineio"
	"github.com/nhle/petropulse/internal/push/pushtest"
	"github.com/nhle/petropulse/internal/push/socketio"
)

func config(srv *pushtest.Server, transports ...string) engineio.Config {
	return engineio.Config{URL: srv.URL, Path: "/socket.io/", Transports: transports}
}

func dial(t *testing.T, srv *pushtest.Server, transports ...string) *socketio.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := socketio.Dial(ctx, config(srv, transports...), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// received skips the CONNECT packet and returns the next client packet.
func received(t *testing.T, srv *pushtest.Server) string {
	t.Helper()
	for {
		select {
		case in := <-srv.Received():
			if in.Packet == "0" {
				continue
			}
			return in.Packet
		case <-time.After(5 * time.Second):
			t.Fatal("server received nothing")
			return ""
		}
	}
}

func nextEvent(t *testing.T, c *socketio.Client) socketio.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "connection ended: %v", c.Err())
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
		return socketio.Event{}
	}
}

func TestConnectAndEmit(t *testing.T) {
	for _, transports := range [][]string{
		{engineio.TransportPolling, engineio.TransportWebsocket},
		{engineio.TransportPolling},
		{engineio.TransportWebsocket},
	} {
		t.Run(transports[len(transports)-1], func(t *testing.T) {
			srv := pushtest.NewServer(t, pushtest.Options{})
			c := dial(t, srv, transports...)
			assert.NotEmpty(t, c.SID())

			require.NoError(t, c.Emit("join", "u1"))
			assert.Equal(t, `2["join","u1"]`, received(t, srv))
		})
	}
}

func TestReceivesEvents(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{})
	c := dial(t, srv)

	srv.Emit("notification", map[string]string{"type": "overdue", "title": "WO-7"})

	ev := nextEvent(t, c)
	assert.Equal(t, "notification", ev.Name)
	require.Len(t, ev.Args, 1)
	assert.JSONEq(t, `{"type":"overdue","title":"WO-7"}`, string(ev.Args[0]))
}

func TestMalformedPacketsAreSkipped(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{})
	c := dial(t, srv)

	srv.SendRaw(`2{broken`)
	srv.SendRaw(`2[]`)
	srv.Emit("notification", "ok")

	ev := nextEvent(t, c)
	assert.Equal(t, "notification", ev.Name)
	assert.JSONEq(t, `"ok"`, string(ev.Args[0]))
}

func TestConnectRefused(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{RejectConnect: "not authorized"})

	_, err := socketio.Dial(context.Background(), config(srv), nil)
	var connectErr *socketio.ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, "not authorized", connectErr.Message)
}

func TestServerDisconnect(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{})
	c := dial(t, srv)

	srv.SendRaw("1")

	for range c.Events() {
	}
	assert.ErrorIs(t, c.Err(), socketio.ErrServerDisconnect)
}

func TestTransportDrop(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{})
	c := dial(t, srv)

	srv.DropAll()

	for range c.Events() {
	}
	assert.Error(t, c.Err())
}

func TestCloseEndsEvents(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{})
	c := dial(t, srv)

	require.NoError(t, c.Close())
	for range c.Events() {
	}
	assert.NoError(t, c.Err())
	assert.Equal(t, "1", received(t, srv))
}
