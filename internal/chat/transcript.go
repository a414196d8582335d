package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/astralink/server/internal/model"
)

// TranscriptStore persists the conversation between a user and an advisor.
// Denial messages go through the same store: no message is silently dropped.
type TranscriptStore interface {
	Append(ctx context.Context, userID, advisorID uuid.UUID, msg model.ChatMessage) error
	History(ctx context.Context, userID, advisorID uuid.UUID) ([]model.ChatMessage, error)
}

// RedisTranscriptStore keeps transcripts in redis lists under prefixed keys.
type RedisTranscriptStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTranscriptStore connects to redis and verifies the connection.
func NewRedisTranscriptStore(addr, password string, db int, prefix string) (*RedisTranscriptStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisTranscriptStore{client: rdb, prefix: prefix}, nil
}

func (s *RedisTranscriptStore) key(userID, advisorID uuid.UUID) string {
	return fmt.Sprintf("%s:transcript:%s:%s", s.prefix, userID, advisorID)
}

func (s *RedisTranscriptStore) Append(ctx context.Context, userID, advisorID uuid.UUID, msg model.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := s.client.RPush(ctx, s.key(userID, advisorID), data).Err(); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *RedisTranscriptStore) History(ctx context.Context, userID, advisorID uuid.UUID) ([]model.ChatMessage, error) {
	raw, err := s.client.LRange(ctx, s.key(userID, advisorID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	msgs := make([]model.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Close releases the redis connection pool.
func (s *RedisTranscriptStore) Close() error {
	return s.client.Close()
}

// MemoryTranscriptStore is the fallback when no redis address is configured.
type MemoryTranscriptStore struct {
	mu    sync.RWMutex
	convs map[string][]model.ChatMessage
}

// NewMemoryTranscriptStore creates an empty in-memory store.
func NewMemoryTranscriptStore() *MemoryTranscriptStore {
	return &MemoryTranscriptStore{convs: make(map[string][]model.ChatMessage)}
}

func (s *MemoryTranscriptStore) key(userID, advisorID uuid.UUID) string {
	return userID.String() + ":" + advisorID.String()
}

func (s *MemoryTranscriptStore) Append(_ context.Context, userID, advisorID uuid.UUID, msg model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(userID, advisorID)
	s.convs[k] = append(s.convs[k], msg)
	return nil
}

func (s *MemoryTranscriptStore) History(_ context.Context, userID, advisorID uuid.UUID) ([]model.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.convs[s.key(userID, advisorID)]
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}
