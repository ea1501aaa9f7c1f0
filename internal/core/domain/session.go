package domain

import "time"

// StoredSession associates an external identity (for example a chat-platform
// user id) with the pair of ids it may use against the rendezvous server.
// SessionID and SpectatorID are each unique across all stored rows.
type StoredSession struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	SessionID   string    `json:"session_id"`
	SpectatorID string    `json:"spectator_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
