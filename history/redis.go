package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pixiedraw-relay/domain"
)

const (
	redisKeyPrefix = "pixiedraw:chats:"
	redisSeqKey    = redisKeyPrefix + "seq"

	// DefaultRedisRetention caps each room's list. /chats only ever reads the
	// newest few dozen entries.
	DefaultRedisRetention = 1000
)

// RedisStore keeps each room as a list with the newest event at the head.
type RedisStore struct {
	client    *redis.Client
	retention int64
}

func OpenRedis(ctx context.Context, dsn string) (*RedisStore, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("history: parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("history: connecting to redis: %w", err)
	}

	slog.Info("history store opened", "backend", "redis", "addr", opts.Addr)
	return NewRedisStore(client, DefaultRedisRetention), nil
}

func NewRedisStore(client *redis.Client, retention int64) *RedisStore {
	if retention <= 0 {
		retention = DefaultRedisRetention
	}
	return &RedisStore{client: client, retention: retention}
}

func roomKey(roomID int64) string {
	return redisKeyPrefix + strconv.FormatInt(roomID, 10)
}

func (s *RedisStore) Append(ctx context.Context, roomID int64, userID, payload string) (domain.Event, error) {
	id, err := s.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return domain.Event{}, fmt.Errorf("history: allocating id for room %d: %w", roomID, err)
	}

	event := domain.Event{
		ID:        id,
		RoomID:    roomID,
		UserID:    userID,
		Message:   payload,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	record, err := json.Marshal(event)
	if err != nil {
		return domain.Event{}, fmt.Errorf("history: encoding event: %w", err)
	}

	key := roomKey(roomID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, record)
		pipe.LTrim(ctx, key, 0, s.retention-1)
		return nil
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("history: appending to room %d: %w", roomID, err)
	}
	return event, nil
}

func (s *RedisStore) Recent(ctx context.Context, roomID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		return []domain.Event{}, nil
	}

	records, err := s.client.LRange(ctx, roomKey(roomID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("history: querying room %d: %w", roomID, err)
	}

	events := make([]domain.Event, 0, len(records))
	for _, record := range records {
		var event domain.Event
		if err := json.Unmarshal([]byte(record), &event); err != nil {
			return nil, fmt.Errorf("history: decoding room %d: %w", roomID, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("history: closing redis: %w", err)
	}
	return nil
}
