// Package chat implements the message fanout engine: the orchestration of
// client events (page open, send, seen, sidebar refresh, connect, disconnect)
// against the conversation store, with results pushed to the interested
// identity channels.
package chat

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/talkline/messenger/internal/metrics"
	"github.com/talkline/messenger/internal/moderation"
	"github.com/talkline/messenger/internal/protocol"
	"github.com/talkline/messenger/internal/ratelimit"
	"github.com/talkline/messenger/internal/store"
)

// ConversationStore is the slice of the Postgres store the engine writes to
// and reads from.
type ConversationStore interface {
	SummarySource
	FindOrCreateConversation(ctx context.Context, a, b string) (*store.Conversation, error)
	FindConversation(ctx context.Context, a, b string) (*store.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg *store.Message) error
	Messages(ctx context.Context, conversationID string) ([]store.Message, error)
	MarkSeen(ctx context.Context, conversationID, authorID string) error
	Profile(ctx context.Context, identity string) (*store.Profile, error)
}

// Emitter is the channel router surface the engine pushes through. Pushes are
// addressed by identity only; the engine never touches individual connections.
type Emitter interface {
	Emit(identity string, event string, payload interface{}) error
	BroadcastAll(event string, payload interface{}) error
}

// Presence is the presence registry surface the engine mutates on connect and
// disconnect.
type Presence interface {
	Add(identity string) bool
	Remove(identity string) bool
	Contains(identity string) bool
	Snapshot() []string
	Count() int
}

// RateLimiter throttles send events per identity. The Redis-backed limiter
// satisfies it; a nil limiter disables throttling.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Publisher feeds message lifecycle events to downstream consumers. A nil
// publisher disables publication.
type Publisher interface {
	PublishMessageCreated(data []byte) error
	PublishPresenceChanged(data []byte) error
}

// Engine is the message fanout engine. All handlers run to completion per
// event; store calls are the only suspension points. A store failure aborts
// the single event with a log line and no emission; the connection stays
// active.
type Engine struct {
	store      ConversationStore
	presence   Presence
	router     Emitter
	aggregator *Aggregator
	filter     *moderation.Filter
	limiter    RateLimiter
	publisher  Publisher
}

// NewEngine wires the fanout engine. filter, limiter, and publisher may be
// nil to disable moderation, rate limiting, and event publication.
func NewEngine(cs ConversationStore, presence Presence, router Emitter,
	filter *moderation.Filter, limiter RateLimiter, publisher Publisher) *Engine {
	return &Engine{
		store:      cs,
		presence:   presence,
		router:     router,
		aggregator: NewAggregator(cs, presence),
		filter:     filter,
		limiter:    limiter,
		publisher:  publisher,
	}
}

// Aggregator exposes the engine's conversation aggregator for reuse by
// callers that compute sidebars outside an event (e.g. admin tooling).
func (e *Engine) Aggregator() *Aggregator {
	return e.aggregator
}

// HandleConnect registers a freshly authenticated identity: presence is
// bumped and the updated online-user list is broadcast to every client. The
// transport joins the connection to its channel before calling this.
func (e *Engine) HandleConnect(identity string) {
	first := e.presence.Add(identity)
	metrics.OnlineUsers.Set(float64(e.presence.Count()))

	if err := e.router.BroadcastAll(protocol.EventOnlineUser, e.presence.Snapshot()); err != nil {
		log.Printf("chat: broadcast onlineUser: %v", err)
	}
	if first {
		e.publishPresence(identity, true)
	}
}

// HandleDisconnect unwinds one connection's presence. Only when the last
// connection for the identity is gone does the identity go offline and a new
// online-user list get broadcast.
func (e *Engine) HandleDisconnect(identity string) {
	if identity == "" {
		return
	}
	last := e.presence.Remove(identity)
	metrics.OnlineUsers.Set(float64(e.presence.Count()))

	if last {
		if err := e.router.BroadcastAll(protocol.EventOnlineUser, e.presence.Snapshot()); err != nil {
			log.Printf("chat: broadcast onlineUser: %v", err)
		}
		e.publishPresence(identity, false)
	}
}

// HandleMessagePage serves a page open: the requester gets the peer's public
// profile with presence flag, then the full ordered message history for the
// pair (empty list when they have never talked).
func (e *Engine) HandleMessagePage(ctx context.Context, self, peerID string) {
	defer e.observe(protocol.EventMessagePage, time.Now())

	profile, err := e.store.Profile(ctx, peerID)
	if err != nil {
		log.Printf("chat: message-page profile user=%s peer=%s: %v", self, peerID, err)
		return
	}

	user := protocol.UserPayload{ID: peerID, Online: e.presence.Contains(peerID)}
	if profile != nil {
		user.Name = profile.Name
		user.Email = profile.Email
		user.ProfilePic = profile.ProfilePic
	}
	e.emit(self, protocol.EventMessageUser, user)

	msgs := []store.Message{}
	conv, err := e.store.FindConversation(ctx, self, peerID)
	if err != nil {
		log.Printf("chat: message-page conversation user=%s peer=%s: %v", self, peerID, err)
		return
	}
	if conv != nil {
		msgs, err = e.store.Messages(ctx, conv.ID)
		if err != nil {
			log.Printf("chat: message-page messages user=%s conv=%s: %v", self, conv.ID, err)
			return
		}
	}
	e.emit(self, protocol.EventMessage, toMessagePayloads(msgs))
}

// HandleNewMessage persists a message from the authenticated sender and fans
// the refreshed message list and sidebar summaries out to both participants.
// The author is always the authenticated identity, regardless of what the
// payload claims.
func (e *Engine) HandleNewMessage(ctx context.Context, self string, p protocol.NewMessagePayload) {
	defer e.observe(protocol.EventNewMessage, time.Now())

	peer := p.Receiver
	if peer == self {
		// Original clients send {sender: self, receiver: peer}; tolerate the
		// reversed form.
		peer = p.Sender
	}
	if peer == "" || peer == self {
		e.emit(self, protocol.EventError, protocol.ErrorPayload{
			Code: "invalid_receiver", Message: "message needs a receiver other than yourself",
		})
		return
	}

	if err := ValidateMessage(p.Text, p.ImageURL, p.VideoURL); err != nil {
		e.emit(self, protocol.EventError, protocol.ErrorPayload{
			Code: "invalid_message", Message: err.Error(),
		})
		return
	}

	if e.filter != nil {
		if result := e.filter.Check(p.Text); result.Blocked {
			log.Printf("chat: blocked message user=%s reason=%s term=%q", self, result.Reason, result.Term)
			metrics.MessagesTotal.WithLabelValues("blocked").Inc()
			e.emit(self, protocol.EventError, protocol.ErrorPayload{
				Code: "blocked", Message: "message rejected by content filter",
			})
			return
		}
	}

	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, self, ratelimit.RuleSend)
		if err == nil && !allowed {
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			e.emit(self, protocol.EventError, protocol.ErrorPayload{
				Code: "rate_limited", Message: "sending too fast, slow down",
			})
			return
		}
	}

	conv, err := e.store.FindOrCreateConversation(ctx, self, peer)
	if err != nil {
		log.Printf("chat: send find-or-create user=%s peer=%s: %v", self, peer, err)
		return
	}

	msg := &store.Message{
		Text:     p.Text,
		ImageURL: p.ImageURL,
		VideoURL: p.VideoURL,
		AuthorID: self,
	}
	if err := e.store.AppendMessage(ctx, conv.ID, msg); err != nil {
		log.Printf("chat: send append user=%s conv=%s: %v", self, conv.ID, err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()

	msgs, err := e.store.Messages(ctx, conv.ID)
	if err != nil {
		log.Printf("chat: send messages user=%s conv=%s: %v", self, conv.ID, err)
		return
	}

	list := toMessagePayloads(msgs)
	e.emit(self, protocol.EventMessage, list)
	e.emit(peer, protocol.EventMessage, list)

	e.emitSidebar(ctx, self)
	e.emitSidebar(ctx, peer)

	e.publishMessageCreated(conv.ID, msg, peer)
}

// HandleSidebar recomputes and emits the requester's conversation summaries.
func (e *Engine) HandleSidebar(ctx context.Context, self string) {
	defer e.observe(protocol.EventSidebar, time.Now())
	e.emitSidebar(ctx, self)
}

// HandleSeen bulk-marks all messages authored by the peer in the pair's
// conversation as seen, then refreshes both sidebars. A pair with no
// conversation is a no-op.
func (e *Engine) HandleSeen(ctx context.Context, self, peerID string) {
	defer e.observe(protocol.EventSeen, time.Now())

	conv, err := e.store.FindConversation(ctx, self, peerID)
	if err != nil {
		log.Printf("chat: seen find user=%s peer=%s: %v", self, peerID, err)
		return
	}
	if conv == nil {
		return
	}

	if err := e.store.MarkSeen(ctx, conv.ID, peerID); err != nil {
		log.Printf("chat: seen mark user=%s conv=%s: %v", self, conv.ID, err)
		return
	}

	e.emitSidebar(ctx, self)
	e.emitSidebar(ctx, peerID)
}

// emitSidebar computes and pushes the identity's conversation list. Failures
// abort this one push with a log line.
func (e *Engine) emitSidebar(ctx context.Context, identity string) {
	summaries, err := e.aggregator.ForUser(ctx, identity)
	if err != nil {
		log.Printf("chat: sidebar user=%s: %v", identity, err)
		return
	}
	e.emit(identity, protocol.EventConversation, summaries)
}

// emit pushes one event to the identity's channel.
func (e *Engine) emit(identity, event string, payload interface{}) {
	metrics.FanoutTotal.Inc()
	if err := e.router.Emit(identity, event, payload); err != nil {
		log.Printf("chat: emit %s to %s: %v", event, identity, err)
	}
}

func (e *Engine) observe(event string, start time.Time) {
	metrics.EventsTotal.WithLabelValues(event).Inc()
	metrics.EventLatency.Observe(time.Since(start).Seconds())
}

func (e *Engine) publishMessageCreated(conversationID string, msg *store.Message, receiver string) {
	if e.publisher == nil {
		return
	}
	event := MessageCreatedEvent{
		MessageID:      msg.ID,
		ConversationID: conversationID,
		AuthorID:       msg.AuthorID,
		ReceiverID:     receiver,
		Text:           msg.Text,
		HasMedia:       msg.ImageURL != "" || msg.VideoURL != "",
		ReceiverOnline: e.presence.Contains(receiver),
		Ts:             msg.CreatedAt.UnixMilli(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("chat: marshal message.created: %v", err)
		return
	}
	if err := e.publisher.PublishMessageCreated(data); err != nil {
		log.Printf("chat: publish message.created: %v", err)
	}
}

func (e *Engine) publishPresence(identity string, online bool) {
	if e.publisher == nil {
		return
	}
	data, err := json.Marshal(PresenceChangedEvent{
		UserID: identity,
		Online: online,
		Ts:     time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("chat: marshal presence.changed: %v", err)
		return
	}
	if err := e.publisher.PublishPresenceChanged(data); err != nil {
		log.Printf("chat: publish presence.changed: %v", err)
	}
}
