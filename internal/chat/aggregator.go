package chat

import (
	"context"

	"github.com/talkline/messenger/internal/protocol"
	"github.com/talkline/messenger/internal/store"
)

// SummarySource is the slice of the conversation store the aggregator reads.
type SummarySource interface {
	SummariesForUser(ctx context.Context, identity string) ([]store.Summary, error)
}

// PresenceChecker reports whether an identity currently has a live connection.
type PresenceChecker interface {
	Contains(identity string) bool
}

// Aggregator computes a user's sidebar: their conversations enriched with
// peer presence and last-message preview, most recently updated first. The
// list is recomputed in full on every triggering event; per-user conversation
// counts are small enough that incremental caching is not worth its
// complexity, but this is the first thing to revisit if they stop being small.
type Aggregator struct {
	store    SummarySource
	presence PresenceChecker
}

// NewAggregator creates an Aggregator over the given store and presence
// registry.
func NewAggregator(src SummarySource, presence PresenceChecker) *Aggregator {
	return &Aggregator{store: src, presence: presence}
}

// ForUser returns the identity's conversation summaries in wire form, ordered
// by conversation recency.
func (a *Aggregator) ForUser(ctx context.Context, identity string) ([]protocol.ConversationPayload, error) {
	summaries, err := a.store.SummariesForUser(ctx, identity)
	if err != nil {
		return nil, err
	}

	out := make([]protocol.ConversationPayload, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, protocol.ConversationPayload{
			PeerID:         s.PeerID,
			PeerName:       s.PeerName,
			PeerProfilePic: s.PeerProfilePic,
			PeerOnline:     a.presence.Contains(s.PeerID),
			UnseenCount:    s.UnseenCount,
			LastMessage:    toMessagePayload(s.LastMessage),
		})
	}
	return out, nil
}

// toMessagePayload converts a stored message to its wire form. A nil message
// maps to nil.
func toMessagePayload(m *store.Message) *protocol.MessagePayload {
	if m == nil {
		return nil
	}
	return &protocol.MessagePayload{
		ID:          m.ID,
		Text:        m.Text,
		ImageURL:    m.ImageURL,
		VideoURL:    m.VideoURL,
		MsgByUserID: m.AuthorID,
		Seen:        m.Seen,
		CreatedAt:   m.CreatedAt.UnixMilli(),
	}
}

// toMessagePayloads converts an ordered stored message list to wire form.
func toMessagePayloads(msgs []store.Message) []protocol.MessagePayload {
	out := make([]protocol.MessagePayload, 0, len(msgs))
	for i := range msgs {
		out = append(out, *toMessagePayload(&msgs[i]))
	}
	return out
}
