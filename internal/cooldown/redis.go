package cooldown

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/crajybot/internal/model"
)

// RedisStore хранит окна в Redis: SET NX PX занимает окно атомарно для всех экземпляров бота.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore создаёт RedisStore. Пустой prefix заменяется на "crajybot:cooldown".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "crajybot:cooldown"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisStore{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (s *RedisStore) redisKey(command string, userID int64) string {
	return s.prefix + ":" + key(command, userID)
}

func (s *RedisStore) Acquire(ctx context.Context, command string, userID int64, window time.Duration) error {
	if window <= 0 {
		return nil
	}

	k := s.redisKey(command, userID)

	ok, err := s.client.SetNX(ctx, k, time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return fmt.Errorf("acquire cooldown: %w", err)
	}
	if ok {
		return nil
	}

	ttl, err := s.client.PTTL(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("read cooldown ttl: %w", err)
	}
	if ttl < 0 {
		// Ключ истёк между SETNX и PTTL.
		ttl = time.Millisecond
	}

	return &model.CooldownError{Command: command, Remaining: ttl}
}

func (s *RedisStore) Release(ctx context.Context, command string, userID int64) error {
	if err := s.client.Del(ctx, s.redisKey(command, userID)).Err(); err != nil {
		return fmt.Errorf("release cooldown: %w", err)
	}
	return nil
}
