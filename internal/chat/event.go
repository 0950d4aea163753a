package chat

// MessageCreatedEvent is the payload published to the message.created NATS
// subject after a message is persisted. Downstream consumers (the notifier)
// use ReceiverOnline to decide whether an out-of-band notification is needed.
type MessageCreatedEvent struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	AuthorID       string `json:"author_id"`
	ReceiverID     string `json:"receiver_id"`
	Text           string `json:"text,omitempty"`
	HasMedia       bool   `json:"has_media,omitempty"`
	ReceiverOnline bool   `json:"receiver_online"`
	Ts             int64  `json:"ts"`
}

// PresenceChangedEvent is the payload published to the presence.changed NATS
// subject when an identity comes online or drops its last connection.
type PresenceChangedEvent struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
	Ts     int64  `json:"ts"`
}
