package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"camlink/internal/core/domain"
	"camlink/internal/core/ports"
	"camlink/pkg/retry"

	"go.uber.org/zap"
)

const (
	idLength   = 16
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var errIDCollision = errors.New("generated id collides with an existing row")

type sessionService struct {
	store    ports.SessionStore
	log      *zap.SugaredLogger
	genRetry retry.Config
}

// NewSessionService builds the issuance service on top of a SessionStore.
// Generated ids are fixed-length lowercase alphanumerics; generation retries
// a bounded number of times on collision before giving up.
func NewSessionService(store ports.SessionStore, log *zap.SugaredLogger) ports.SessionService {
	return &sessionService{
		store: store,
		log:   log,
		genRetry: retry.Config{
			Enabled:      true,
			MaxAttempts:  5,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2.0,
		},
	}
}

func (s *sessionService) Get(ctx context.Context, identity string) (*domain.StoredSession, error) {
	return s.store.Get(ctx, identity)
}

// Create issues a fresh credential pair for an identity. Not idempotent:
// callers needing get-or-create semantics call Get first.
func (s *sessionService) Create(ctx context.Context, identity, displayName string) (*domain.StoredSession, error) {
	if _, err := s.store.Get(ctx, identity); err == nil {
		return nil, domain.ErrIdentityExists
	} else if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, err
	}

	sessionID, spectatorID, err := s.generatePair(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &domain.StoredSession{
		Identity:    identity,
		DisplayName: displayName,
		SessionID:   sessionID,
		SpectatorID: spectatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Put(ctx, session); err != nil {
		return nil, err
	}

	s.log.Infow("session created", "identity", identity, "session_id", sessionID)
	return session, nil
}

// Update regenerates both ids for an existing identity (user-requested
// rotation).
func (s *sessionService) Update(ctx context.Context, identity, displayName string) (*domain.StoredSession, error) {
	existing, err := s.store.Get(ctx, identity)
	if err != nil {
		return nil, err
	}

	sessionID, spectatorID, err := s.generatePair(ctx)
	if err != nil {
		return nil, err
	}

	session := &domain.StoredSession{
		Identity:    identity,
		DisplayName: displayName,
		SessionID:   sessionID,
		SpectatorID: spectatorID,
		CreatedAt:   existing.CreatedAt,
		UpdatedAt:   time.Now(),
	}
	if err := s.store.Replace(ctx, session); err != nil {
		return nil, err
	}

	s.log.Infow("session rotated", "identity", identity, "session_id", sessionID)
	return session, nil
}

func (s *sessionService) Exists(ctx context.Context, sessionID string) (bool, error) {
	return s.store.SessionIDExists(ctx, sessionID)
}

func (s *sessionService) SessionIDForSpectator(ctx context.Context, spectatorID string) (string, error) {
	session, err := s.store.GetBySpectatorID(ctx, spectatorID)
	if err != nil {
		return "", err
	}
	return session.SessionID, nil
}

type idPair struct {
	sessionID   string
	spectatorID string
}

func (s *sessionService) generatePair(ctx context.Context) (string, string, error) {
	pair, err := retry.RetryWithResult(ctx, s.genRetry, func() (idPair, error) {
		sessionID, err := randomID()
		if err != nil {
			return idPair{}, err
		}
		spectatorID, err := randomID()
		if err != nil {
			return idPair{}, err
		}
		if sessionID == spectatorID {
			return idPair{}, errIDCollision
		}
		for _, id := range []string{sessionID, spectatorID} {
			if taken, err := s.idTaken(ctx, id); err != nil {
				return idPair{}, err
			} else if taken {
				return idPair{}, errIDCollision
			}
		}
		return idPair{sessionID: sessionID, spectatorID: spectatorID}, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrIDGenerationExhausted, err)
	}
	return pair.sessionID, pair.spectatorID, nil
}

// idTaken checks a candidate against both unique columns, so a new session id
// can never shadow an existing spectator id or vice versa.
func (s *sessionService) idTaken(ctx context.Context, id string) (bool, error) {
	if taken, err := s.store.SessionIDExists(ctx, id); err != nil || taken {
		return taken, err
	}
	return s.store.SpectatorIDExists(ctx, id)
}

func randomID() (string, error) {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf), nil
}
