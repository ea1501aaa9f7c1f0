package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"camlink/internal/core/domain"
	"camlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionStore(client *redis.Client) ports.SessionStore {
	return &RedisSessionStore{
		client: client,
		prefix: "camlink:session:",
	}
}

func (r *RedisSessionStore) identityKey(identity string) string {
	return r.prefix + identity
}

// Index hashes map each unique id column back to its identity so existence
// checks and spectator lookups stay O(1).
func (r *RedisSessionStore) sessionIndexKey() string {
	return r.prefix + "index:session_id"
}

func (r *RedisSessionStore) spectatorIndexKey() string {
	return r.prefix + "index:spectator_id"
}

func (r *RedisSessionStore) Get(ctx context.Context, identity string) (*domain.StoredSession, error) {
	data, err := r.client.Get(ctx, r.identityKey(identity)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var session domain.StoredSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *RedisSessionStore) Put(ctx context.Context, session *domain.StoredSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// SetNX keeps create non-idempotent: a second Put for the identity fails.
	ok, err := r.client.SetNX(ctx, r.identityKey(session.Identity), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}
	if !ok {
		return domain.ErrIdentityExists
	}

	return r.writeIndexes(ctx, session)
}

func (r *RedisSessionStore) Replace(ctx context.Context, session *domain.StoredSession) error {
	old, err := r.Get(ctx, session.Identity)
	if err != nil {
		return err
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.identityKey(session.Identity), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update session in Redis: %w", err)
	}

	if err := r.client.HDel(ctx, r.sessionIndexKey(), old.SessionID).Err(); err != nil {
		return fmt.Errorf("failed to drop old session id index: %w", err)
	}
	if err := r.client.HDel(ctx, r.spectatorIndexKey(), old.SpectatorID).Err(); err != nil {
		return fmt.Errorf("failed to drop old spectator id index: %w", err)
	}

	return r.writeIndexes(ctx, session)
}

func (r *RedisSessionStore) writeIndexes(ctx context.Context, session *domain.StoredSession) error {
	if err := r.client.HSet(ctx, r.sessionIndexKey(), session.SessionID, session.Identity).Err(); err != nil {
		return fmt.Errorf("failed to index session id: %w", err)
	}
	if err := r.client.HSet(ctx, r.spectatorIndexKey(), session.SpectatorID, session.Identity).Err(); err != nil {
		return fmt.Errorf("failed to index spectator id: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) SessionIDExists(ctx context.Context, sessionID string) (bool, error) {
	exists, err := r.client.HExists(ctx, r.sessionIndexKey(), sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session id: %w", err)
	}
	return exists, nil
}

func (r *RedisSessionStore) SpectatorIDExists(ctx context.Context, spectatorID string) (bool, error) {
	exists, err := r.client.HExists(ctx, r.spectatorIndexKey(), spectatorID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check spectator id: %w", err)
	}
	return exists, nil
}

func (r *RedisSessionStore) GetBySpectatorID(ctx context.Context, spectatorID string) (*domain.StoredSession, error) {
	identity, err := r.client.HGet(ctx, r.spectatorIndexKey(), spectatorID).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve spectator id: %w", err)
	}
	return r.Get(ctx, identity)
}
