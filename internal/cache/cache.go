package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/careportal/auth-service/internal/models"
)

// RefreshCache — минимальный контракт кэша refresh-сессий.
// Кэш только ускоряет чтение; источником истины остаётся хранилище,
// в том числе для CAS-потребления.
type RefreshCache interface {
	// Get возвращает сессию и признак её наличия в кэше.
	Get(ctx context.Context, tokenID string) (*models.RefreshSession, bool, error)
	// Set сохраняет сессию с TTL (обычно ExpiresAt-now).
	Set(ctx context.Context, sess *models.RefreshSession, ttl time.Duration) error
	// MarkConsumed помечает ключ consumed=1, сохраняя остаточный TTL.
	MarkConsumed(ctx context.Context, tokenID string) error
	// Close закрывает клиент Redis.
	Close() error
}

type redisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "auth:rs:".
func NewRedisCache(redisURL, prefix string) (RefreshCache, error) {
	if prefix == "" {
		prefix = "auth:rs:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &redisCache{rdb: rdb, prefix: prefix}, nil
}

// NewRedisCacheWithClient оборачивает готовый клиент (тесты, общий пул).
func NewRedisCacheWithClient(rdb *redis.Client, prefix string) RefreshCache {
	if prefix == "" {
		prefix = "auth:rs:"
	}

	return &redisCache{rdb: rdb, prefix: prefix}
}

func (c *redisCache) key(tokenID string) string { return c.prefix + tokenID }

// Храним как Redis Hash с полями: uid, sid, fph, seq, con (0/1), exp (unix).
func (c *redisCache) Get(ctx context.Context, tokenID string) (*models.RefreshSession, bool, error) {
	m, err := c.rdb.HGetAll(ctx, c.key(tokenID)).Result()
	if err != nil {
		return nil, false, err
	}

	if len(m) == 0 {
		return nil, false, nil
	}

	uid, err := uuid.Parse(m["uid"])
	if err != nil {
		return nil, false, err
	}

	sid, err := uuid.Parse(m["sid"])
	if err != nil {
		return nil, false, err
	}

	tid, err := uuid.Parse(tokenID)
	if err != nil {
		return nil, false, err
	}

	seq, err := strconv.ParseInt(m["seq"], 10, 64)
	if err != nil {
		return nil, false, err
	}

	expUnix, err := strconv.ParseInt(m["exp"], 10, 64)
	if err != nil {
		return nil, false, err
	}

	return &models.RefreshSession{
		TokenID:         tid,
		UserID:          uid,
		SessionID:       sid,
		FingerprintHash: m["fph"],
		Seq:             seq,
		Consumed:        m["con"] == "1",
		ExpiresAt:       time.Unix(expUnix, 0).UTC(),
	}, true, nil
}

func (c *redisCache) Set(ctx context.Context, sess *models.RefreshSession, ttl time.Duration) error {
	kv := map[string]string{
		"uid": sess.UserID.String(),
		"sid": sess.SessionID.String(),
		"fph": sess.FingerprintHash,
		"seq": strconv.FormatInt(sess.Seq, 10),
		"con": boolTo01(sess.Consumed),
		"exp": strconv.FormatInt(sess.ExpiresAt.Unix(), 10),
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.key(sess.TokenID.String()), kv)
	pipe.Expire(ctx, c.key(sess.TokenID.String()), ttl)

	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisCache) MarkConsumed(ctx context.Context, tokenID string) error {
	return c.rdb.HSet(ctx, c.key(tokenID), "con", "1").Err()
}

func (c *redisCache) Close() error { return c.rdb.Close() }

func boolTo01(b bool) string {
	if b {
		return "1"
	}

	return "0"
}
