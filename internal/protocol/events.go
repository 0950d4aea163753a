// Package protocol defines the WebSocket event types and payload structures
// exchanged between the messaging client and server. All events are serialized
// as JSON and follow a consistent envelope format with an event-name
// discriminator and a deferred-decoded data field.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event name constants
// ---------------------------------------------------------------------------

// Client -> Server event names.
const (
	EventMessagePage = "message-page"
	EventNewMessage  = "new message"
	EventSidebar     = "sidebar"
	EventSeen        = "seen"
	EventPing        = "ping"
)

// Server -> Client event names.
const (
	EventMessageUser  = "message-user"
	EventMessage      = "message"
	EventConversation = "conversation"
	EventOnlineUser   = "onlineUser"
	EventError        = "error"
	EventPong         = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the event discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event name and the raw JSON data field for deferred
// parsing into a concrete payload struct.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler. It extracts the "event" field and
// captures the raw data bytes so the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var partial struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Event == "" {
		return fmt.Errorf("protocol: missing or empty \"event\" field")
	}
	e.Event = partial.Event
	e.Data = partial.Data
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server payload structs
// ---------------------------------------------------------------------------

// UserRef carries a single user id. Events that address a peer (message-page,
// sidebar, seen) accept either a bare JSON string or {"userId": "..."} so that
// both terse and structured clients are supported.
type UserRef struct {
	UserID string `json:"userId"`
}

// UnmarshalJSON accepts both `"abc"` and `{"userId":"abc"}` forms.
func (u *UserRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		u.UserID = s
		return nil
	}
	var obj struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("protocol: invalid user reference: %w", err)
	}
	u.UserID = obj.UserID
	return nil
}

// NewMessagePayload is sent by the client to deliver a message to a peer.
// Sender and Receiver identify the conversation pair; MsgByUserID is the
// author of the message (always the sender in the 1:1 protocol, kept separate
// for wire compatibility with the original client).
type NewMessagePayload struct {
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver"`
	Text        string `json:"text"`
	ImageURL    string `json:"imageUrl,omitempty"`
	VideoURL    string `json:"videoUrl,omitempty"`
	MsgByUserID string `json:"msgByUserId"`
}

// ---------------------------------------------------------------------------
// Server -> Client payload structs
// ---------------------------------------------------------------------------

// UserPayload is the public profile emitted on message-user, including the
// live presence flag.
type UserPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	ProfilePic string `json:"profile_pic"`
	Online     bool   `json:"online"`
}

// MessagePayload is a single message in a `message` event list.
type MessagePayload struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	ImageURL    string `json:"imageUrl,omitempty"`
	VideoURL    string `json:"videoUrl,omitempty"`
	MsgByUserID string `json:"msgByUserId"`
	Seen        bool   `json:"seen"`
	CreatedAt   int64  `json:"createdAt"` // unix milliseconds
}

// ConversationPayload is one sidebar entry in a `conversation` event list.
type ConversationPayload struct {
	PeerID         string          `json:"peerId"`
	PeerName       string          `json:"peerName"`
	PeerProfilePic string          `json:"peerProfilePic"`
	PeerOnline     bool            `json:"peerOnline"`
	UnseenCount    int             `json:"unseenCount"`
	LastMessage    *MessagePayload `json:"lastMessage,omitempty"`
}

// ErrorPayload is sent by the server to communicate a rejected event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientEvent parses raw WebSocket bytes into a typed client event. It
// returns the event name, the decoded payload struct, and any error
// encountered during parsing. Server-only or unknown event names are an error.
func ParseClientEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	switch env.Event {
	case EventMessagePage, EventSidebar, EventSeen:
		var ref UserRef
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &ref); err != nil {
				return "", nil, fmt.Errorf("protocol: decode %s: %w", env.Event, err)
			}
		}
		return env.Event, ref, nil

	case EventNewMessage:
		var msg NewMessagePayload
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				return "", nil, fmt.Errorf("protocol: decode %s: %w", env.Event, err)
			}
		}
		return env.Event, msg, nil

	case EventPing:
		return env.Event, nil, nil

	default:
		return "", nil, fmt.Errorf("protocol: unknown client event %q", env.Event)
	}
}

// NewServerEvent serializes an event name and payload into envelope bytes
// ready to be written as a WebSocket text frame.
func NewServerEvent(event string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", event, err)
		}
		raw = b
	}
	data, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s envelope: %w", event, err)
	}
	return data, nil
}
