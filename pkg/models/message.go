package models

// Message is one canonical chat line after normalization. Raw backend
// payloads with legacy field names are coerced into this shape before
// anything else touches them.
type Message struct {
	ID string `json:"id"`
	// ConversationID is the counterpart user's id; empty on raw input
	// when the backend predates explicit conversation ids.
	ConversationID string `json:"conversationId,omitempty"`
	Text           string `json:"text"`
	// Sender is the role that wrote the message: "user" or "admin".
	Sender      string `json:"senderType"`
	SenderID    string `json:"senderId,omitempty"`
	SenderName  string `json:"senderName,omitempty"`
	SenderEmail string `json:"senderEmail,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	// CreatedAt is unix milliseconds; ordering key within a conversation.
	CreatedAt int64 `json:"createdAt"`
	// Pending marks a locally created message the backend has not yet
	// confirmed durable.
	Pending bool `json:"pending,omitempty"`
}

// Sender roles.
const (
	SenderUser  = "user"
	SenderAdmin = "admin"
)
