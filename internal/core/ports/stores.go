package ports

import (
	"context"

	"camlink/internal/core/domain"
)

// SessionStore is the durable mapping from an external identity to its
// (session id, spectator id) pair. Implementations live under
// internal/infrastructure/repositories.
type SessionStore interface {
	// Get returns the stored session for an identity, or
	// domain.ErrSessionNotFound.
	Get(ctx context.Context, identity string) (*domain.StoredSession, error)

	// Put inserts a new row; domain.ErrIdentityExists if the identity is
	// already present.
	Put(ctx context.Context, session *domain.StoredSession) error

	// Replace overwrites the row for an existing identity;
	// domain.ErrSessionNotFound if there is none.
	Replace(ctx context.Context, session *domain.StoredSession) error

	// SessionIDExists reports whether any row carries the given session id.
	SessionIDExists(ctx context.Context, sessionID string) (bool, error)

	// SpectatorIDExists reports whether any row carries the given spectator id.
	SpectatorIDExists(ctx context.Context, spectatorID string) (bool, error)

	// GetBySpectatorID resolves a spectator id back to its row, or
	// domain.ErrSessionNotFound.
	GetBySpectatorID(ctx context.Context, spectatorID string) (*domain.StoredSession, error)
}
