package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var ErrLockAcquire = errors.New("failed to acquire distributed lock")

const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`

// RedisLocker takes conversation locks with SET NX PX so replicas behind a load balancer
// do not process the same conversation at once. A held lock is renewed every ttl/3 until
// it is released, so long auto-advance runs keep it.
type RedisLocker struct {
	client *redis.Client
	prefix string
	poll   time.Duration
	log    zerolog.Logger
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: prefix,
		poll:   50 * time.Millisecond,
		log:    zerolog.Nop(),
	}
}

func (l *RedisLocker) WithLogger(log zerolog.Logger) *RedisLocker {
	l.log = log
	return l
}

// NewRedisClient connects and pings
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLockAcquire, err)
		}
		if ok {
			stop := l.keepAlive(lockKey, token, ttl)
			return func(ctx context.Context) error {
				stop()
				return l.client.Eval(ctx, unlockScript, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// extend pushes the expiry of lockKey back to ttl if token still holds it
func (l *RedisLocker) extend(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	n, err := l.client.Eval(ctx, extendScript, []string{lockKey}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// keepAlive renews the lock until the returned func is called. The func waits for the
// renewing goroutine to exit.
func (l *RedisLocker) keepAlive(lockKey, token string, ttl time.Duration) func() {
	interval := ttl / 3
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			held, err := l.extend(ctx, lockKey, token, ttl)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				// Retried on the next tick while the key has not expired
				l.log.Warn().Err(err).Str("key", lockKey).Msg("failed to renew distributed lock")
				continue
			}
			if !held {
				l.log.Warn().Str("key", lockKey).Msg("distributed lock expired while held")
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-exited
		})
	}
}
