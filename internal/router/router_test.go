package router

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/talkline/messenger/internal/protocol"
)

// fakeConn records every frame written to it.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeConn) WriteMessage(data []byte) error {
	f.mu.Lock()
	f.frames = append(f.frames, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) events(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.frames))
	for _, frame := range f.frames {
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		names = append(names, env.Event)
	}
	return names
}

func TestEmit_TargetsOnlyJoinedChannel(t *testing.T) {
	r := NewRouter()
	a, b := &fakeConn{}, &fakeConn{}
	r.Join(a, "user-a")
	r.Join(b, "user-b")

	if err := r.Emit("user-a", protocol.EventMessage, []string{}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if got := f0(a.events(t)); got != protocol.EventMessage {
		t.Errorf("a received %q, want %q", got, protocol.EventMessage)
	}
	if len(b.events(t)) != 0 {
		t.Errorf("b should receive nothing, got %v", b.events(t))
	}
}

func TestEmit_OfflineIdentityIsNoOp(t *testing.T) {
	r := NewRouter()

	if err := r.Emit("nobody", protocol.EventMessage, []string{}); err != nil {
		t.Fatalf("Emit to empty channel should not error: %v", err)
	}
}

func TestEmit_FansOutToAllConnectionsOfIdentity(t *testing.T) {
	r := NewRouter()
	tab1, tab2 := &fakeConn{}, &fakeConn{}
	r.Join(tab1, "user-a")
	r.Join(tab2, "user-a")

	if err := r.Emit("user-a", protocol.EventConversation, nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if len(tab1.frames) != 1 || len(tab2.frames) != 1 {
		t.Errorf("both tabs should receive the event: tab1=%d tab2=%d",
			len(tab1.frames), len(tab2.frames))
	}
}

func TestLeave(t *testing.T) {
	r := NewRouter()
	c := &fakeConn{}
	r.Join(c, "user-a")

	if identity := r.Leave(c); identity != "user-a" {
		t.Errorf("Leave = %q, want %q", identity, "user-a")
	}
	if r.Joined("user-a") != 0 {
		t.Errorf("channel should be empty after Leave")
	}

	// Leaving twice is harmless.
	if identity := r.Leave(c); identity != "" {
		t.Errorf("second Leave = %q, want empty", identity)
	}
}

func TestJoin_RejoinMovesConnection(t *testing.T) {
	r := NewRouter()
	c := &fakeConn{}
	r.Join(c, "user-a")
	r.Join(c, "user-b")

	if r.Joined("user-a") != 0 {
		t.Error("connection should have left user-a's channel")
	}
	if r.Joined("user-b") != 1 {
		t.Error("connection should be in user-b's channel")
	}
}

func TestBroadcastAll(t *testing.T) {
	r := NewRouter()
	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	r.Join(a, "user-a")
	r.Join(b, "user-b")
	r.Join(c, "user-b")

	if err := r.BroadcastAll(protocol.EventOnlineUser, []string{"user-a", "user-b"}); err != nil {
		t.Fatalf("BroadcastAll: %v", err)
	}

	for name, conn := range map[string]*fakeConn{"a": a, "b": b, "c": c} {
		if got := f0(conn.events(t)); got != protocol.EventOnlineUser {
			t.Errorf("%s received %q, want %q", name, got, protocol.EventOnlineUser)
		}
	}
}

func f0(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
