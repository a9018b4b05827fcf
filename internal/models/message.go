package models

import (
	"time"
)

// DeliveryStatus tracks the client-side lifecycle of an outgoing message.
// It never travels on the wire; the backend only knows confirmed messages.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusConfirmed DeliveryStatus = "confirmed"
	StatusFailed    DeliveryStatus = "failed"
)

type MessageKind string

const (
	KindUser MessageKind = "user"
	KindAI   MessageKind = "ai"
)

// AISenderID is the sentinel sender for automated replies. The backend emits
// user_id=-1 for AI-authored messages and clients key off it.
const AISenderID int64 = -1

// PlaceholderBase marks the reserved id range for locally issued placeholder
// ids. Server ids are small sequential integers; placeholder ids are derived
// from unix milliseconds and always land above this bound.
const PlaceholderBase int64 = 1 << 40

// Message is a single chat message in a channel, either confirmed by the
// backend or locally pending/failed.
type Message struct {
	ID         int64          `json:"id"`
	ChannelID  int64          `json:"channel_id"`
	SenderID   int64          `json:"user_id"`
	Body       string         `json:"message"`
	Response   string         `json:"response,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Kind       MessageKind    `json:"message_type"`
	Attachment *Attachment    `json:"attachment,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Status     DeliveryStatus `json:"delivery_status,omitempty"`
}

// IsPlaceholder reports whether the message still carries a locally issued id.
func (m Message) IsPlaceholder() bool {
	return m.ID >= PlaceholderBase
}

// IsAutomated reports whether the message was authored by the backend agent
// rather than a human sender.
func (m Message) IsAutomated() bool {
	return m.SenderID == AISenderID || m.Kind == KindAI
}

// Attachment describes the optional file carried by a message. FileURL is an
// opaque, possibly relative reference; resolving it to a fetchable URL is the
// REST collaborator's job. Immutable once constructed.
type Attachment struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
	FileType string `json:"file_type"`
}
