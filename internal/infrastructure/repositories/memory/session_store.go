package memory

import (
	"context"
	"sync"

	"camlink/internal/core/domain"
	"camlink/internal/core/ports"
)

type MemorySessionStore struct {
	mu          sync.RWMutex
	byIdentity  map[string]*domain.StoredSession
	bySessionID map[string]string // session id -> identity
	bySpectator map[string]string // spectator id -> identity
}

func NewMemorySessionStore() ports.SessionStore {
	return &MemorySessionStore{
		byIdentity:  make(map[string]*domain.StoredSession),
		bySessionID: make(map[string]string),
		bySpectator: make(map[string]string),
	}
}

func (s *MemorySessionStore) Get(ctx context.Context, identity string) (*domain.StoredSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.byIdentity[identity]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	copied := *session
	return &copied, nil
}

func (s *MemorySessionStore) Put(ctx context.Context, session *domain.StoredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byIdentity[session.Identity]; exists {
		return domain.ErrIdentityExists
	}

	copied := *session
	s.byIdentity[session.Identity] = &copied
	s.bySessionID[session.SessionID] = session.Identity
	s.bySpectator[session.SpectatorID] = session.Identity
	return nil
}

func (s *MemorySessionStore) Replace(ctx context.Context, session *domain.StoredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.byIdentity[session.Identity]
	if !exists {
		return domain.ErrSessionNotFound
	}

	delete(s.bySessionID, old.SessionID)
	delete(s.bySpectator, old.SpectatorID)

	copied := *session
	s.byIdentity[session.Identity] = &copied
	s.bySessionID[session.SessionID] = session.Identity
	s.bySpectator[session.SpectatorID] = session.Identity
	return nil
}

func (s *MemorySessionStore) SessionIDExists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.bySessionID[sessionID]
	return exists, nil
}

func (s *MemorySessionStore) SpectatorIDExists(ctx context.Context, spectatorID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.bySpectator[spectatorID]
	return exists, nil
}

func (s *MemorySessionStore) GetBySpectatorID(ctx context.Context, spectatorID string) (*domain.StoredSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, exists := s.bySpectator[spectatorID]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	copied := *s.byIdentity[identity]
	return &copied, nil
}
