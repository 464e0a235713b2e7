package engineio_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/petropulse/internal/push/engineio"
	"github.com/nhle/petropulse/internal/push/pushtest"
)

func dial(t *testing.T, srv *pushtest.Server, transports ...string) *engineio.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := engineio.Dial(ctx, engineio.Config{
		URL:        srv.URL,
		Path:       "/socket.io/",
		Transports: transports,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func nextInbound(t *testing.T, srv *pushtest.Server) pushtest.Inbound {
	t.Helper()
	select {
	case in := <-srv.Received():
		return in
	case <-time.After(5 * time.Second):
		t.Fatal("server received nothing")
		return pushtest.Inbound{}
	}
}

func nextMessage(t *testing.T, conn *engineio.Conn) string {
	t.Helper()
	select {
	case msg, ok := <-conn.Messages():
		require.True(t, ok, "connection ended: %v", conn.Err())
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("client received nothing")
		return ""
	}
}

func TestPollingThenUpgrade(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{})

	conn := dial(t, srv)
	assert.Equal(t, engineio.TransportWebsocket, conn.Transport())
	assert.NotEmpty(t, conn.SID())

	require.NoError(t, conn.Send("0"))
	in := nextInbound(t, srv)
	assert.Equal(t, "0", in.Packet)
	assert.Equal(t, conn.SID(), in.SID)
	assert.Equal(t, `0{"sid":"sio-`+conn.SID()+`"}`, nextMessage(t, conn))
	assert.Equal(t, 1, srv.Upgraded())
}

func TestPollingOnly(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{})

	conn := dial(t, srv, engineio.TransportPolling)
	assert.Equal(t, engineio.TransportPolling, conn.Transport())

	require.NoError(t, conn.Send("0"))
	assert.Equal(t, "0", nextInbound(t, srv).Packet)
	assert.Contains(t, nextMessage(t, conn), `"sid"`)

	srv.Emit("notification", map[string]string{"title": "x"})
	assert.Equal(t, `2["notification",{"title":"x"}]`, nextMessage(t, conn))
	assert.Zero(t, srv.Upgraded())
}

func TestNoAdvertisedUpgradeStaysOnPolling(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{NoUpgrade: true})

	conn := dial(t, srv)
	assert.Equal(t, engineio.TransportPolling, conn.Transport())
}

func TestWebsocketOnly(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{})

	conn := dial(t, srv, engineio.TransportWebsocket)
	assert.Equal(t, engineio.TransportWebsocket, conn.Transport())

	require.NoError(t, conn.Send("0"))
	assert.Equal(t, "0", nextInbound(t, srv).Packet)
}

func TestAnswersPings(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{
		PingInterval: 20 * time.Millisecond,
		PingTimeout:  200 * time.Millisecond,
	})

	conn := dial(t, srv, engineio.TransportPolling)

	assert.Eventually(t, func() bool { return srv.Pongs() >= 3 }, 5*time.Second, 10*time.Millisecond)
	assert.NoError(t, conn.Err())
}

func TestHeartbeatTimeout(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{
		PingInterval: 20 * time.Millisecond,
		PingTimeout:  20 * time.Millisecond,
		NoPing:       true,
	})

	conn := dial(t, srv)

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("silent server did not time out")
	}
	assert.ErrorIs(t, conn.Err(), engineio.ErrTimeout)
}

func TestServerDropEndsConnection(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{})
	conn := dial(t, srv, engineio.TransportPolling)

	srv.DropAll()

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("drop not observed")
	}
	assert.Error(t, conn.Err())
	assert.ErrorIs(t, conn.Send("x"), engineio.ErrClosed)

	_, open := <-conn.Messages()
	assert.False(t, open)
}

func TestCloseIsClean(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{})
	conn := dial(t, srv)

	require.NoError(t, conn.Close())
	<-conn.Done()
	assert.NoError(t, conn.Err())
	assert.Eventually(t, func() bool { return srv.Sessions() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHandshakeFailure(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{})
	srv.SetAvailable(false)

	_, err := engineio.Dial(context.Background(), engineio.Config{URL: srv.URL, Path: "/socket.io/"})
	assert.Error(t, err)
}

// silentServer completes the polling handshake, advertising a websocket
// upgrade, then accepts websockets and never writes to them.
func silentServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("transport") == engineio.TransportPolling {
			_, _ = w.Write([]byte(`0{"sid":"s1","upgrades":["websocket"],"pingInterval":25000,"pingTimeout":20000}`))
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebsocketHandshakeHonoursDeadline(t *testing.T) {
	srv := silentServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	conn, err := engineio.Dial(ctx, engineio.Config{
		URL:        srv.URL,
		Path:       "/socket.io/",
		Transports: []string{engineio.TransportWebsocket},
	})
	assert.Nil(t, conn)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCancelDuringUpgradeProbe(t *testing.T) {
	srv := silentServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	conn, err := engineio.Dial(ctx, engineio.Config{URL: srv.URL, Path: "/socket.io/"})
	assert.Nil(t, conn)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}
