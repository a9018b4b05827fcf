package models

import "time"

// Channel is a named conversation scope. Read-only from the core's
// perspective; membership and lifecycle are owned by the backend.
type Channel struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PresenceRecord is one online user as reported by a presence snapshot.
type PresenceRecord struct {
	UserID      int64     `json:"user_id"`
	UserName    string    `json:"user_name"`
	ConnectedAt time.Time `json:"connected_at"`
}
