package models

// Stream frame kinds observed on the per-channel WebSocket. Unknown kinds are
// ignored by the session, never fatal.
const (
	FrameNewMessage  = "new_message"
	FrameOnlineUsers = "online_users"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameUserJoined  = "user_joined"
	FrameUserLeft    = "user_left"
	FrameMessageRead = "message_read"
)

// Frame is a decoded stream envelope: the discriminant plus the raw bytes of
// the whole frame for kind-specific decoding.
type Frame struct {
	Type string
	Raw  []byte
}

// PingFrame is the application-level keepalive sent while Connected. The
// backend echoes the timestamp back in a pong frame.
type PingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ReadFrame reports a message as read to the channel. Emitting read receipts
// is UI-triggered; the core only provides the frame shape.
type ReadFrame struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
}
