package push_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/push"
	"github.com/nhle/petropulse/internal/push/pushtest"
)

func joins(t *testing.T, srv *pushtest.Server, n int) []string {
	t.Helper()
	var got []string
	for len(got) < n {
		select {
		case in := <-srv.Received():
			if strings.HasPrefix(in.Packet, "2") {
				got = append(got, in.Packet)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("joins: got %v", got)
		}
	}
	return got
}

func TestManagerAgainstSocketIOServer(t *testing.T) {
	srv := pushtest.NewServer(t, pushtest.Options{})

	cfg := push.DefaultConfig(srv.URL)
	cfg.ReconnectDelay = 10 * time.Millisecond
	m := push.NewManager(cfg)
	t.Cleanup(func() { _ = m.Close() })

	events := make(chan model.Event, 4)
	m.Subscribe(func(e model.Event) { events <- e })

	m.SetIdentity(push.Identity{UserID: "u2", Role: model.RoleAdmin})
	assert.Equal(t, []string{`2["join","u2"]`, `2["join_role","Admin"]`}, joins(t, srv, 2))
	require.Eventually(t, m.Connected, 5*time.Second, 5*time.Millisecond)

	srv.Emit("notification", map[string]string{"type": "downtime", "title": "Compressor C-1 down"})
	select {
	case e := <-events:
		assert.Equal(t, model.NotificationDowntime, e.Type)
		assert.Equal(t, "Compressor C-1 down", e.Title)
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}

	srv.DropAll()
	assert.Equal(t, []string{`2["join","u2"]`, `2["join_role","Admin"]`}, joins(t, srv, 2))
	require.Eventually(t, m.Connected, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, srv.Handshakes())
}
