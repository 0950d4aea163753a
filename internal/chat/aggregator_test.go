package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/talkline/messenger/internal/presence"
	"github.com/talkline/messenger/internal/store"
)

type staticSummaries struct {
	summaries []store.Summary
	err       error
}

func (s *staticSummaries) SummariesForUser(context.Context, string) ([]store.Summary, error) {
	return s.summaries, s.err
}

func TestAggregatorForUser(t *testing.T) {
	now := time.Now()
	src := &staticSummaries{summaries: []store.Summary{
		{
			ConversationID: "c1",
			PeerID:         "bob",
			PeerName:       "Bob",
			UnseenCount:    2,
			UpdatedAt:      now,
			LastMessage: &store.Message{
				ID: "m9", Text: "see you", AuthorID: "bob", CreatedAt: now,
			},
		},
		{
			ConversationID: "c2",
			PeerID:         "carol",
			PeerName:       "Carol",
			UpdatedAt:      now.Add(-time.Hour),
		},
	}}

	reg := presence.NewRegistry()
	reg.Add("bob")

	agg := NewAggregator(src, reg)
	out, err := agg.ForUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}

	if out[0].PeerID != "bob" || !out[0].PeerOnline || out[0].UnseenCount != 2 {
		t.Errorf("bob entry: %+v", out[0])
	}
	if out[0].LastMessage == nil || out[0].LastMessage.Text != "see you" ||
		out[0].LastMessage.CreatedAt != now.UnixMilli() {
		t.Errorf("bob last message: %+v", out[0].LastMessage)
	}

	if out[1].PeerID != "carol" || out[1].PeerOnline {
		t.Errorf("carol should be offline: %+v", out[1])
	}
	if out[1].LastMessage != nil {
		t.Errorf("empty conversation should have no preview: %+v", out[1].LastMessage)
	}
}

func TestAggregatorForUser_SourceError(t *testing.T) {
	src := &staticSummaries{err: errors.New("db down")}
	agg := NewAggregator(src, presence.NewRegistry())

	if _, err := agg.ForUser(context.Background(), "alice"); err == nil {
		t.Error("expected the source error to surface")
	}
}

func TestAggregatorForUser_EmptyIsNonNil(t *testing.T) {
	agg := NewAggregator(&staticSummaries{}, presence.NewRegistry())

	out, err := agg.ForUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if out == nil {
		t.Error("empty sidebar should encode as [], not null")
	}
	if len(out) != 0 {
		t.Errorf("len = %d, want 0", len(out))
	}
}
