package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/talkline/messenger/internal/auth"
)

// startTestServer wires a Server around handleUpgrade without Start, so the
// tests control the HTTP listener and skip the heartbeat goroutine.
func startTestServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()

	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		t.Fatalf("epoll: %v", err)
	}
	go s.startEventLoop()

	ts := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	t.Cleanup(func() {
		ts.Close()
		close(s.done)
		s.epoll.Close()
	})
	return ts
}

// A client may fire its first event immediately after the 101 response, while
// the server is still running the connect callback (presence, channel join).
// That event must be delivered once setup finishes, not silently dropped.
func TestHandleUpgrade_FirstEventSurvivesSlowConnect(t *testing.T) {
	secret := []byte("test-secret")
	resolver := auth.NewJWTResolver(secret)

	dispatcher := NewEventDispatcher()
	sidebarSeen := make(chan struct{}, 1)
	dispatcher.Register("sidebar", func(conn *Connection, payload interface{}) {
		select {
		case sidebarSeen <- struct{}{}:
		default:
		}
	})

	s := NewServer(DefaultServerConfig(), Deps{Resolver: resolver}, dispatcher.Dispatch)
	s.SetOnConnect(func(c *Connection) {
		// Simulate a slow presence/channel registration.
		time.Sleep(300 * time.Millisecond)
	})

	ts := startTestServer(t, s)

	token, err := resolver.IssueToken("u-eager", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?token=" + token

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, _, err := gws.Dial(ctx, wsURL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Send immediately, before the connect callback has finished.
	frame := []byte(`{"event":"sidebar","data":"u-peer"}`)
	if err := wsutil.WriteClientMessage(conn, gws.OpText, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-sidebarSeen:
	case <-time.After(3 * time.Second):
		t.Fatal("sidebar event sent right after the upgrade was never dispatched")
	}
}

func TestHandleUpgrade_RejectsInvalidToken(t *testing.T) {
	resolver := auth.NewJWTResolver([]byte("test-secret"))
	s := NewServer(DefaultServerConfig(), Deps{Resolver: resolver}, nil)
	ts := startTestServer(t, s)

	resp, err := http.Get(ts.URL + "/?token=not-a-jwt")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if got := s.Connections().Count(); got != 0 {
		t.Fatalf("connection count = %d after rejected upgrade, want 0", got)
	}
}
