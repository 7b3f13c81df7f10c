package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wavelinehealth/frontdesk/internal/engine"
)

const defaultSessionTTL = 24 * time.Hour

// RedisStore persists session state in Redis with a sliding TTL: every save
// restarts the clock, so only idle sessions expire.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration, tracer trace.Tracer) *RedisStore {
	if client == nil {
		panic("sessionstore: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if tracer == nil {
		tracer = otel.Tracer("frontdesk.internal.sessionstore")
	}
	return &RedisStore{
		redis:  client,
		tracer: tracer,
		ttl:    ttl,
	}
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*engine.State, error) {
	ctx, span := s.tracer.Start(ctx, "sessionstore.load")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("sessionstore: failed to load session: %w", err)
	}

	var st engine.State
	if err := json.Unmarshal(data, &st); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sessionstore: failed to decode session: %w", err)
	}
	return &st, nil
}

func (s *RedisStore) Save(ctx context.Context, st *engine.State) error {
	ctx, span := s.tracer.Start(ctx, "sessionstore.save")
	defer span.End()

	data, err := json.Marshal(st)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessionstore: failed to marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(st.SessionID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessionstore: failed to persist session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	ctx, span := s.tracer.Start(ctx, "sessionstore.delete")
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessionstore: failed to delete session: %w", err)
	}
	return nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}
