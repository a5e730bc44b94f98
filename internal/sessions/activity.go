// sessions реализует трекер активности сессий: по каждому активному
// access-токену хранится отметка last-seen. Ротация сообщает трекеру,
// что новый access-токен стал актуальным для сессии.
package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActivityTracker — контракт трекера активности.
type ActivityTracker interface {
	// Touch фиксирует, что access-токен только что использован/выпущен.
	// Запись живёт ttl (обычно TTL access-токена).
	Touch(ctx context.Context, accessToken string, ttl time.Duration) error
	// LastSeen возвращает отметку последней активности токена.
	LastSeen(ctx context.Context, accessToken string) (time.Time, bool, error)
	// Close закрывает клиент Redis.
	Close() error
}

type redisTracker struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisTracker создаёт трекер поверх Redis.
// Если prefix пустой — используется "auth:act:".
func NewRedisTracker(redisURL, prefix string) (ActivityTracker, error) {
	if prefix == "" {
		prefix = "auth:act:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &redisTracker{rdb: rdb, prefix: prefix}, nil
}

// NewRedisTrackerWithClient оборачивает готовый клиент (тесты, общий пул).
func NewRedisTrackerWithClient(rdb *redis.Client, prefix string) ActivityTracker {
	if prefix == "" {
		prefix = "auth:act:"
	}

	return &redisTracker{rdb: rdb, prefix: prefix}
}

// key сводит access-токен к компактному ключу; сырой токен в Redis не попадает.
func (t *redisTracker) key(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return t.prefix + base64.RawURLEncoding.EncodeToString(sum[:])
}

func (t *redisTracker) Touch(ctx context.Context, accessToken string, ttl time.Duration) error {
	now := time.Now().UTC().Unix()
	return t.rdb.Set(ctx, t.key(accessToken), now, ttl).Err()
}

func (t *redisTracker) LastSeen(ctx context.Context, accessToken string) (time.Time, bool, error) {
	v, err := t.rdb.Get(ctx, t.key(accessToken)).Int64()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, false, nil
		}

		return time.Time{}, false, err
	}

	return time.Unix(v, 0).UTC(), true, nil
}

func (t *redisTracker) Close() error { return t.rdb.Close() }
