package ports

import (
	"context"

	"camlink/internal/core/domain"
)

// SessionService issues and rotates rendezvous credentials for external
// identities. The HTTP handlers and the access-controlled rendezvous server
// both talk to this interface.
type SessionService interface {
	Get(ctx context.Context, identity string) (*domain.StoredSession, error)
	Create(ctx context.Context, identity, displayName string) (*domain.StoredSession, error)
	Update(ctx context.Context, identity, displayName string) (*domain.StoredSession, error)
	Exists(ctx context.Context, sessionID string) (bool, error)
	SessionIDForSpectator(ctx context.Context, spectatorID string) (string, error)
}
