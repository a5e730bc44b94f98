// ratelimit реализует ограничитель частоты для /auth/login и /auth/refresh
// на счётчиках Redis с cooldown-окном. Гейт вызывается до логики ротации.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/careportal/auth-service/internal/config"
)

var (
	// ErrRateLimited — бюджет попыток исчерпан. Транспорт: HTTP 429 + Retry-After.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable — счётчики недоступны; наверх как internal.
	ErrRedisUnavailable = errors.New("rate limiter redis unavailable")
)

// Limiter — ограничитель частоты поверх Redis.
type Limiter struct {
	rdb *redis.Client
	cfg config.RateLimitConfig
}

// New создаёт Limiter из URL Redis.
func New(redisURL string, cfg config.RateLimitConfig) (*Limiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &Limiter{rdb: rdb, cfg: cfg}, nil
}

// NewWithClient оборачивает готовый клиент (тесты, общий пул).
func NewWithClient(rdb *redis.Client, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{rdb: rdb, cfg: cfg}
}

// Allow инкрементирует счётчик попыток для пары identity+IP и проверяет бюджет.
// identity — стабильный идентификатор запроса (email при логине, session id
// или хэш токена при refresh). Возвращает время до конца окна при отказе.
func (l *Limiter) Allow(ctx context.Context, scope, identity, ip string) (time.Duration, error) {
	if !l.cfg.Enabled {
		return 0, nil
	}

	if retry, err := l.bump(ctx, key(scope, "id", identity)); err != nil {
		return retry, err
	}

	if l.cfg.ThrottleByIP && ip != "" {
		if retry, err := l.bump(ctx, key(scope, "ip", ip)); err != nil {
			return retry, err
		}
	}

	return 0, nil
}

// Reset сбрасывает счётчики для пары identity+IP (успешный логин).
func (l *Limiter) Reset(ctx context.Context, scope, identity, ip string) error {
	keys := []string{key(scope, "id", identity)}
	if l.cfg.ThrottleByIP && ip != "" {
		keys = append(keys, key(scope, "ip", ip))
	}

	if err := l.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Close закрывает клиент Redis.
func (l *Limiter) Close() error { return l.rdb.Close() }

// bump атомарно инкрементирует счётчик и выставляет TTL окна на первом
// инкременте. INCR+EXPIRE NX в одном pipeline — конкурентные запросы не
// продлевают окно.
func (l *Limiter) bump(ctx context.Context, k string) (time.Duration, error) {
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.cfg.CooldownWindow)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if incr.Val() > int64(l.cfg.MaxAttempts) {
		retry, err := l.rdb.TTL(ctx, k).Result()
		if err != nil || retry < 0 {
			retry = l.cfg.CooldownWindow
		}

		return retry, ErrRateLimited
	}

	return 0, nil
}

func key(scope, kind, value string) string {
	return "auth:rl:" + scope + ":" + kind + ":" + value
}
