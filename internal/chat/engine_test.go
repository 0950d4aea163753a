package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/talkline/messenger/internal/moderation"
	"github.com/talkline/messenger/internal/presence"
	"github.com/talkline/messenger/internal/protocol"
	"github.com/talkline/messenger/internal/store"
)

// fakeStore is an in-memory ConversationStore honoring the same semantics as
// the Postgres implementation: conversations unique per normalized pair,
// messages ordered by insertion, summaries ordered by recency.
type fakeStore struct {
	mu       sync.Mutex
	convs    map[string]*store.Conversation // "lo|hi" -> conversation
	msgs     map[string][]store.Message     // conversation ID -> messages
	profiles map[string]store.Profile
	seq      int64
	fail     bool // force every operation to error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs:    make(map[string]*store.Conversation),
		msgs:     make(map[string][]store.Message),
		profiles: make(map[string]store.Profile),
	}
}

func (f *fakeStore) tick() time.Time {
	f.seq++
	return time.Unix(0, f.seq*int64(time.Millisecond))
}

func (f *fakeStore) FindOrCreateConversation(_ context.Context, a, b string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("store down")
	}

	lo, hi := store.NormalizePair(a, b)
	key := lo + "|" + hi
	if conv, ok := f.convs[key]; ok {
		c := *conv
		return &c, nil
	}
	conv := &store.Conversation{
		ID:        fmt.Sprintf("conv-%d", len(f.convs)+1),
		UserLo:    lo,
		UserHi:    hi,
		UpdatedAt: f.tick(),
	}
	f.convs[key] = conv
	c := *conv
	return &c, nil
}

func (f *fakeStore) FindConversation(_ context.Context, a, b string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("store down")
	}

	lo, hi := store.NormalizePair(a, b)
	if conv, ok := f.convs[lo+"|"+hi]; ok {
		c := *conv
		return &c, nil
	}
	return nil, nil
}

func (f *fakeStore) AppendMessage(_ context.Context, conversationID string, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store down")
	}

	msg.ID = fmt.Sprintf("msg-%d", f.seq+1)
	msg.ConversationID = conversationID
	msg.CreatedAt = f.tick()
	f.msgs[conversationID] = append(f.msgs[conversationID], *msg)

	for _, conv := range f.convs {
		if conv.ID == conversationID {
			conv.UpdatedAt = msg.CreatedAt
		}
	}
	return nil
}

func (f *fakeStore) Messages(_ context.Context, conversationID string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("store down")
	}
	return append([]store.Message(nil), f.msgs[conversationID]...), nil
}

func (f *fakeStore) MarkSeen(_ context.Context, conversationID, authorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store down")
	}

	msgs := f.msgs[conversationID]
	for i := range msgs {
		if msgs[i].AuthorID == authorID {
			msgs[i].Seen = true
		}
	}
	return nil
}

func (f *fakeStore) SummariesForUser(_ context.Context, identity string) ([]store.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("store down")
	}

	var out []store.Summary
	for _, conv := range f.convs {
		if conv.UserLo != identity && conv.UserHi != identity {
			continue
		}
		peer := conv.UserLo
		if peer == identity {
			peer = conv.UserHi
		}
		sum := store.Summary{
			ConversationID: conv.ID,
			PeerID:         peer,
			PeerName:       f.profiles[peer].Name,
			UpdatedAt:      conv.UpdatedAt,
		}
		msgs := f.msgs[conv.ID]
		for i := range msgs {
			if msgs[i].AuthorID != identity && !msgs[i].Seen {
				sum.UnseenCount++
			}
		}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			sum.LastMessage = &last
		}
		out = append(out, sum)
	}
	// Most recently updated first.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].UpdatedAt.After(out[i].UpdatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (f *fakeStore) Profile(_ context.Context, identity string) (*store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("store down")
	}
	if p, ok := f.profiles[identity]; ok {
		return &p, nil
	}
	return nil, nil
}

// emission is one recorded router push. Broadcasts use target "*".
type emission struct {
	target  string
	event   string
	payload interface{}
}

// fakeRouter records every emit and broadcast.
type fakeRouter struct {
	mu        sync.Mutex
	emissions []emission
}

func (f *fakeRouter) Emit(identity, event string, payload interface{}) error {
	f.mu.Lock()
	f.emissions = append(f.emissions, emission{identity, event, payload})
	f.mu.Unlock()
	return nil
}

func (f *fakeRouter) BroadcastAll(event string, payload interface{}) error {
	f.mu.Lock()
	f.emissions = append(f.emissions, emission{"*", event, payload})
	f.mu.Unlock()
	return nil
}

func (f *fakeRouter) to(target, event string) []emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emission
	for _, e := range f.emissions {
		if e.target == target && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine() (*Engine, *fakeStore, *fakeRouter, *presence.Registry) {
	fs := newFakeStore()
	fr := &fakeRouter{}
	reg := presence.NewRegistry()
	e := NewEngine(fs, reg, fr, nil, nil, nil)
	return e, fs, fr, reg
}

func TestHandleConnect_RegistersPresenceAndBroadcasts(t *testing.T) {
	e, _, fr, reg := newTestEngine()

	e.HandleConnect("alice")

	if !reg.Contains("alice") {
		t.Error("alice should be present after connect")
	}
	broadcasts := fr.to("*", protocol.EventOnlineUser)
	if len(broadcasts) != 1 {
		t.Fatalf("expected 1 onlineUser broadcast, got %d", len(broadcasts))
	}
	ids, ok := broadcasts[0].payload.([]string)
	if !ok {
		t.Fatalf("broadcast payload type = %T, want []string", broadcasts[0].payload)
	}
	if len(ids) != 1 || ids[0] != "alice" {
		t.Errorf("snapshot = %v, want [alice]", ids)
	}
}

func TestHandleDisconnect_LastConnectionGoesOffline(t *testing.T) {
	e, _, fr, reg := newTestEngine()

	// Two tabs, then both close.
	e.HandleConnect("alice")
	e.HandleConnect("alice")
	e.HandleDisconnect("alice")

	if !reg.Contains("alice") {
		t.Error("alice should stay present while one connection remains")
	}
	before := len(fr.to("*", protocol.EventOnlineUser))

	e.HandleDisconnect("alice")
	if reg.Contains("alice") {
		t.Error("alice should be offline after last disconnect")
	}
	after := len(fr.to("*", protocol.EventOnlineUser))
	if after != before+1 {
		t.Errorf("last disconnect should broadcast onlineUser (before=%d after=%d)", before, after)
	}
}

func TestHandleNewMessage_FirstMessageCreatesConversation(t *testing.T) {
	e, fs, fr, _ := newTestEngine()
	ctx := context.Background()

	e.HandleNewMessage(ctx, "alice", protocol.NewMessagePayload{
		Sender: "alice", Receiver: "bob", Text: "hi", MsgByUserID: "alice",
	})

	if len(fs.convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(fs.convs))
	}

	for _, target := range []string{"alice", "bob"} {
		lists := fr.to(target, protocol.EventMessage)
		if len(lists) != 1 {
			t.Fatalf("%s should receive exactly 1 message list, got %d", target, len(lists))
		}
		msgs, ok := lists[0].payload.([]protocol.MessagePayload)
		if !ok {
			t.Fatalf("message payload type = %T", lists[0].payload)
		}
		if len(msgs) != 1 {
			t.Fatalf("%s message list length = %d, want 1", target, len(msgs))
		}
		if msgs[0].Text != "hi" || msgs[0].MsgByUserID != "alice" {
			t.Errorf("%s got unexpected message: %+v", target, msgs[0])
		}

		sidebars := fr.to(target, protocol.EventConversation)
		if len(sidebars) != 1 {
			t.Fatalf("%s should receive exactly 1 sidebar, got %d", target, len(sidebars))
		}
		sums, ok := sidebars[0].payload.([]protocol.ConversationPayload)
		if !ok {
			t.Fatalf("sidebar payload type = %T", sidebars[0].payload)
		}
		if len(sums) != 1 || sums[0].LastMessage == nil || sums[0].LastMessage.Text != "hi" {
			t.Errorf("%s sidebar should preview the new message: %+v", target, sums)
		}
	}
}

func TestHandleNewMessage_UnorderedPairReusesConversation(t *testing.T) {
	e, fs, _, _ := newTestEngine()
	ctx := context.Background()

	e.HandleNewMessage(ctx, "alice", protocol.NewMessagePayload{
		Sender: "alice", Receiver: "bob", Text: "hi", MsgByUserID: "alice",
	})
	e.HandleNewMessage(ctx, "bob", protocol.NewMessagePayload{
		Sender: "bob", Receiver: "alice", Text: "hey", MsgByUserID: "bob",
	})

	if len(fs.convs) != 1 {
		t.Fatalf("A->B then B->A must reuse one conversation, got %d", len(fs.convs))
	}
	for _, msgs := range fs.msgs {
		if len(msgs) != 2 {
			t.Fatalf("conversation should hold 2 messages, got %d", len(msgs))
		}
		if msgs[len(msgs)-1].Text != "hey" {
			t.Errorf("newest message should be last, got %q", msgs[len(msgs)-1].Text)
		}
	}
}

func TestHandleNewMessage_ConcurrentSendsSameConversation(t *testing.T) {
	e, fs, _, _ := newTestEngine()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			self, peer := "alice", "bob"
			if n == 1 {
				self, peer = "bob", "alice"
			}
			e.HandleNewMessage(ctx, self, protocol.NewMessagePayload{
				Sender: self, Receiver: peer, Text: fmt.Sprintf("msg-%d", n), MsgByUserID: self,
			})
		}(i)
	}
	wg.Wait()

	if len(fs.convs) != 1 {
		t.Fatalf("concurrent first sends must not duplicate the conversation, got %d", len(fs.convs))
	}
	total := 0
	for _, msgs := range fs.msgs {
		total += len(msgs)
	}
	if total != 2 {
		t.Errorf("no message may be lost: got %d, want 2", total)
	}
}

func TestHandleNewMessage_RejectsSelfAndEmptyReceiver(t *testing.T) {
	e, fs, fr, _ := newTestEngine()
	ctx := context.Background()

	e.HandleNewMessage(ctx, "alice", protocol.NewMessagePayload{
		Sender: "alice", Receiver: "alice", Text: "hi", MsgByUserID: "alice",
	})
	e.HandleNewMessage(ctx, "alice", protocol.NewMessagePayload{Text: "hi"})

	if len(fs.convs) != 0 {
		t.Errorf("nothing should be persisted, got %d conversations", len(fs.convs))
	}
	if len(fr.to("alice", protocol.EventError)) != 2 {
		t.Errorf("sender should get an error event per rejected send")
	}
}

func TestHandleNewMessage_BlockedByFilter(t *testing.T) {
	fs := newFakeStore()
	fr := &fakeRouter{}
	reg := presence.NewRegistry()
	filter := moderation.NewFilterWithTerms([]string{"badword"})
	e := NewEngine(fs, reg, fr, filter, nil, nil)

	e.HandleNewMessage(context.Background(), "alice", protocol.NewMessagePayload{
		Sender: "alice", Receiver: "bob", Text: "this is badword", MsgByUserID: "alice",
	})

	if len(fs.convs) != 0 {
		t.Error("blocked message must not be persisted")
	}
	if len(fr.to("alice", protocol.EventError)) != 1 {
		t.Error("sender should get an error event")
	}
	if len(fr.to("bob", protocol.EventMessage)) != 0 {
		t.Error("receiver must see nothing")
	}
}

func TestHandleSeen_MarksOnlyPeerMessages(t *testing.T) {
	e, fs, fr, _ := newTestEngine()
	ctx := context.Background()

	e.HandleNewMessage(ctx, "alice", protocol.NewMessagePayload{
		Sender: "alice", Receiver: "bob", Text: "one", MsgByUserID: "alice",
	})
	e.HandleNewMessage(ctx, "bob", protocol.NewMessagePayload{
		Sender: "bob", Receiver: "alice", Text: "two", MsgByUserID: "bob",
	})

	// Alice reads bob's messages.
	e.HandleSeen(ctx, "alice", "bob")

	for _, msgs := range fs.msgs {
		for _, m := range msgs {
			switch m.AuthorID {
			case "bob":
				if !m.Seen {
					t.Errorf("bob's message %q should be seen", m.Text)
				}
			case "alice":
				if m.Seen {
					t.Errorf("alice's own message %q must not be marked seen", m.Text)
				}
			}
		}
	}

	// Both sidebars refreshed: 1 from each send + 1 from seen.
	if n := len(fr.to("alice", protocol.EventConversation)); n != 3 {
		t.Errorf("alice sidebar refreshes = %d, want 3", n)
	}
	if n := len(fr.to("bob", protocol.EventConversation)); n != 3 {
		t.Errorf("bob sidebar refreshes = %d, want 3", n)
	}
}

func TestHandleSeen_NoConversationIsNoOp(t *testing.T) {
	e, _, fr, _ := newTestEngine()

	e.HandleSeen(context.Background(), "alice", "stranger")

	if len(fr.emissions) != 0 {
		t.Errorf("seen with no conversation should emit nothing, got %v", fr.emissions)
	}
}

func TestHandleSidebar_OfflinePeerFlag(t *testing.T) {
	e, _, fr, reg := newTestEngine()
	ctx := context.Background()

	reg.Add("alice")
	// Bob is never added: offline.
	e.HandleNewMessage(ctx, "alice", protocol.NewMessagePayload{
		Sender: "alice", Receiver: "bob", Text: "hi", MsgByUserID: "alice",
	})

	e.HandleSidebar(ctx, "alice")

	sidebars := fr.to("alice", protocol.EventConversation)
	if len(sidebars) == 0 {
		t.Fatal("alice should receive a sidebar")
	}
	sums := sidebars[len(sidebars)-1].payload.([]protocol.ConversationPayload)
	if len(sums) != 1 {
		t.Fatalf("sidebar length = %d, want 1", len(sums))
	}
	if sums[0].PeerID != "bob" || sums[0].PeerOnline {
		t.Errorf("peer bob should be offline: %+v", sums[0])
	}
}

func TestHandleMessagePage_ProfileAndHistory(t *testing.T) {
	e, fs, fr, reg := newTestEngine()
	ctx := context.Background()

	fs.profiles["bob"] = store.Profile{ID: "bob", Name: "Bob", Email: "bob@example.com", ProfilePic: "pic.png"}
	reg.Add("bob")
	e.HandleNewMessage(ctx, "alice", protocol.NewMessagePayload{
		Sender: "alice", Receiver: "bob", Text: "hi", MsgByUserID: "alice",
	})
	fr.emissions = nil

	e.HandleMessagePage(ctx, "alice", "bob")

	users := fr.to("alice", protocol.EventMessageUser)
	if len(users) != 1 {
		t.Fatalf("alice should receive 1 message-user, got %d", len(users))
	}
	user := users[0].payload.(protocol.UserPayload)
	if user.ID != "bob" || user.Name != "Bob" || !user.Online {
		t.Errorf("unexpected user payload: %+v", user)
	}

	lists := fr.to("alice", protocol.EventMessage)
	if len(lists) != 1 {
		t.Fatalf("alice should receive 1 message list, got %d", len(lists))
	}
	msgs := lists[0].payload.([]protocol.MessagePayload)
	if len(msgs) != 1 || msgs[0].Text != "hi" {
		t.Errorf("unexpected history: %+v", msgs)
	}

	// Nothing goes to bob on a page open.
	if len(fr.to("bob", protocol.EventMessage)) != 0 {
		t.Error("page open must not push to the peer")
	}
}

func TestHandleMessagePage_NoConversationEmitsEmptyList(t *testing.T) {
	e, _, fr, _ := newTestEngine()

	e.HandleMessagePage(context.Background(), "alice", "stranger")

	lists := fr.to("alice", protocol.EventMessage)
	if len(lists) != 1 {
		t.Fatalf("alice should receive 1 message list, got %d", len(lists))
	}
	msgs := lists[0].payload.([]protocol.MessagePayload)
	if len(msgs) != 0 {
		t.Errorf("history should be empty, got %+v", msgs)
	}
}

func TestStoreFailure_AbortsEventWithoutEmission(t *testing.T) {
	e, fs, fr, _ := newTestEngine()
	ctx := context.Background()
	fs.fail = true

	e.HandleNewMessage(ctx, "alice", protocol.NewMessagePayload{
		Sender: "alice", Receiver: "bob", Text: "hi", MsgByUserID: "alice",
	})
	e.HandleSidebar(ctx, "alice")
	e.HandleSeen(ctx, "alice", "bob")

	if len(fr.emissions) != 0 {
		t.Errorf("failed events must emit nothing, got %v", fr.emissions)
	}
}
