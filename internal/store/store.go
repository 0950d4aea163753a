// Package store provides PostgreSQL-backed persistence for conversations and
// messages. A conversation is unique per unordered pair of user identities;
// the pair is normalized to (user_lo, user_hi) with user_lo < user_hi and
// enforced by a uniqueness constraint, so concurrent first messages between
// the same two users can never create duplicate conversations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conversation is the durable record of a message history between an
// unordered pair of identities.
type Conversation struct {
	ID        string
	UserLo    string
	UserHi    string
	UpdatedAt time.Time
}

// Message is immutable once created except for the Seen flag, which is
// flipped by the bulk seen-update.
type Message struct {
	ID             string
	ConversationID string
	Text           string
	ImageURL       string
	VideoURL       string
	AuthorID       string
	Seen           bool
	CreatedAt      time.Time
}

// Profile is the public slice of a user record. Password and other private
// columns are never selected.
type Profile struct {
	ID         string
	Name       string
	Email      string
	ProfilePic string
}

// Summary is one sidebar entry: a conversation seen from one user's side.
type Summary struct {
	ConversationID string
	PeerID         string
	PeerName       string
	PeerProfilePic string
	UnseenCount    int
	LastMessage    *Message
	UpdatedAt      time.Time
}

// NormalizePair orders two identities into the (lo, hi) form used as the
// conversation uniqueness key.
func NormalizePair(a, b string) (lo, hi string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Store persists conversations and messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindOrCreateConversation returns the conversation for the unordered pair
// (a, b), creating it if absent. Insert-or-fetch is atomic: the insert uses
// ON CONFLICT DO NOTHING against the normalized-pair uniqueness constraint,
// and the subsequent select observes whichever insert won.
func (s *Store) FindOrCreateConversation(ctx context.Context, a, b string) (*Conversation, error) {
	lo, hi := NormalizePair(a, b)

	const insert = `
		INSERT INTO conversations (id, user_lo, user_hi)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_lo, user_hi) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, insert, uuid.New().String(), lo, hi); err != nil {
		return nil, fmt.Errorf("store: insert conversation: %w", err)
	}

	conv, err := s.FindConversation(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("store: conversation for (%s, %s) missing after insert", lo, hi)
	}
	return conv, nil
}

// FindConversation returns the conversation for the unordered pair (a, b), or
// nil if the two users have never exchanged a message. Absence is an empty
// result, not an error.
func (s *Store) FindConversation(ctx context.Context, a, b string) (*Conversation, error) {
	lo, hi := NormalizePair(a, b)

	const query = `
		SELECT id, user_lo, user_hi, updated_at
		FROM conversations
		WHERE user_lo = $1 AND user_hi = $2`

	var conv Conversation
	err := s.db.QueryRowContext(ctx, query, lo, hi).Scan(
		&conv.ID, &conv.UserLo, &conv.UserHi, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find conversation: %w", err)
	}
	return &conv, nil
}

// AppendMessage inserts a new message into the conversation and bumps the
// conversation's updated_at so sidebar ordering reflects recency. Both writes
// happen in one transaction.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin append: %w", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO messages (id, conversation_id, text, image_url, video_url, author_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err = tx.QueryRowContext(ctx, insert,
		msg.ID, conversationID, msg.Text, msg.ImageURL, msg.VideoURL, msg.AuthorID,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}

	const bump = `UPDATE conversations SET updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, bump, conversationID); err != nil {
		return fmt.Errorf("store: bump conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit append: %w", err)
	}
	msg.ConversationID = conversationID
	return nil
}

// Messages returns the conversation's full message list ordered by creation
// time, oldest first. An unknown conversation yields an empty list.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	const query = `
		SELECT id, conversation_id, text, image_url, video_url, author_id, seen, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Text, &m.ImageURL,
			&m.VideoURL, &m.AuthorID, &m.Seen, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate messages: %w", err)
	}
	return msgs, nil
}

// MarkSeen bulk-marks every message in the conversation authored by authorID
// as seen. Messages authored by anyone else are untouched.
func (s *Store) MarkSeen(ctx context.Context, conversationID, authorID string) error {
	const query = `
		UPDATE messages
		SET seen = TRUE
		WHERE conversation_id = $1 AND author_id = $2 AND NOT seen`

	if _, err := s.db.ExecContext(ctx, query, conversationID, authorID); err != nil {
		return fmt.Errorf("store: mark seen: %w", err)
	}
	return nil
}

// SummariesForUser returns one summary per conversation the identity takes
// part in, ordered most-recently-updated first. Each summary carries the peer
// profile, the latest message, and the count of peer-authored unseen messages.
func (s *Store) SummariesForUser(ctx context.Context, identity string) ([]Summary, error) {
	const query = `
		SELECT c.id,
		       CASE WHEN c.user_lo = $1 THEN c.user_hi ELSE c.user_lo END AS peer_id,
		       COALESCE(u.name, ''), COALESCE(u.profile_pic, ''),
		       c.updated_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.conversation_id = c.id AND m.author_id <> $1 AND NOT m.seen),
		       lm.id, lm.text, lm.image_url, lm.video_url, lm.author_id, lm.seen, lm.created_at
		FROM conversations c
		LEFT JOIN users u
		       ON u.id = CASE WHEN c.user_lo = $1 THEN c.user_hi ELSE c.user_lo END
		LEFT JOIN LATERAL (
		        SELECT id, text, image_url, video_url, author_id, seen, created_at
		        FROM messages m
		        WHERE m.conversation_id = c.id
		        ORDER BY m.created_at DESC, m.id DESC
		        LIMIT 1
		) lm ON TRUE
		WHERE c.user_lo = $1 OR c.user_hi = $1
		ORDER BY c.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, identity)
	if err != nil {
		return nil, fmt.Errorf("store: list summaries: %w", err)
	}
	defer rows.Close()

	summaries := make([]Summary, 0)
	for rows.Next() {
		var sum Summary
		var lmID, lmText, lmImage, lmVideo, lmAuthor sql.NullString
		var lmSeen sql.NullBool
		var lmCreated sql.NullTime

		if err := rows.Scan(&sum.ConversationID, &sum.PeerID, &sum.PeerName,
			&sum.PeerProfilePic, &sum.UpdatedAt, &sum.UnseenCount,
			&lmID, &lmText, &lmImage, &lmVideo, &lmAuthor, &lmSeen, &lmCreated); err != nil {
			return nil, fmt.Errorf("store: scan summary: %w", err)
		}

		if lmID.Valid {
			sum.LastMessage = &Message{
				ID:             lmID.String,
				ConversationID: sum.ConversationID,
				Text:           lmText.String,
				ImageURL:       lmImage.String,
				VideoURL:       lmVideo.String,
				AuthorID:       lmAuthor.String,
				Seen:           lmSeen.Bool,
				CreatedAt:      lmCreated.Time,
			}
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate summaries: %w", err)
	}
	return summaries, nil
}

// Profile returns the public profile for the identity, or nil if no such user
// exists.
func (s *Store) Profile(ctx context.Context, identity string) (*Profile, error) {
	const query = `
		SELECT id, name, email, profile_pic
		FROM users
		WHERE id = $1`

	var p Profile
	err := s.db.QueryRowContext(ctx, query, identity).Scan(
		&p.ID, &p.Name, &p.Email, &p.ProfilePic)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load profile: %w", err)
	}
	return &p, nil
}
