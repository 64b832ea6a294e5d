package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key's TTL only if it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLockerConfig configures a RedisLocker. RenewInterval defaults to a
// third of TTL.
type RedisLockerConfig struct {
	Prefix        string
	TTL           time.Duration
	RenewInterval time.Duration
	Mode          LockMode
	WaitTimeout   time.Duration
	PollInterval  time.Duration
}

// RedisLocker is a distributed evaluation lock built on SET NX PX. While a
// lock is held its TTL is extended every RenewInterval, so evaluations may
// outlive TTL; TTL only bounds how long a crashed holder blocks the key.
type RedisLocker struct {
	client *redis.Client
	cfg    RedisLockerConfig
}

// NewRedisClient opens a client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisLocker(client *redis.Client, cfg RedisLockerConfig) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "stagecond:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.RenewInterval <= 0 || cfg.RenewInterval >= cfg.TTL {
		cfg.RenewInterval = cfg.TTL / 3
	}
	if cfg.Mode == "" {
		cfg.Mode = LockFailFast
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	return &RedisLocker{client: client, cfg: cfg}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	redisKey := l.cfg.Prefix + key
	token := uuid.NewString()

	ok, err := l.tryAcquire(ctx, redisKey, token)
	if err != nil {
		return nil, nil, err
	}
	if !ok && l.cfg.Mode == LockWait {
		ok, err = l.poll(ctx, redisKey, token)
		if err != nil {
			return nil, nil, err
		}
	}
	if !ok {
		return nil, nil, ErrLockHeld
	}

	lockCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(context.WithoutCancel(ctx), redisKey, token, stop, cancel)
	}()

	var once sync.Once
	return lockCtx, func() {
		once.Do(func() {
			close(stop)
			<-done
			cancel(nil)
			releaseCtx, cancelRelease := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancelRelease()
			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				slog.Warn("redis lock release failed", "key", redisKey, "err", err)
			}
		})
	}, nil
}

// keepAlive extends the lease until stop closes. When the key no longer
// holds token, or renewals keep failing until the lease would have run
// out, the lock context is canceled with ErrLockLost.
func (l *RedisLocker) keepAlive(ctx context.Context, key, token string, stop <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(l.cfg.RenewInterval)
	defer ticker.Stop()
	lastRenewed := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			renewCtx, cancelRenew := context.WithTimeout(ctx, l.cfg.RenewInterval)
			n, err := renewScript.Run(renewCtx, l.client, []string{key}, token, l.cfg.TTL.Milliseconds()).Int64()
			cancelRenew()
			switch {
			case err != nil && !errors.Is(err, redis.Nil):
				slog.Warn("redis lock renewal failed", "key", key, "err", err)
				if time.Since(lastRenewed) < l.cfg.TTL-l.cfg.RenewInterval {
					continue
				}
				cancel(ErrLockLost)
				return
			case n == 0:
				slog.Warn("redis lock taken over or expired", "key", key)
				cancel(ErrLockLost)
				return
			}
			lastRenewed = time.Now()
		}
	}
}

func (l *RedisLocker) tryAcquire(ctx context.Context, key, token string) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	return ok, nil
}

func (l *RedisLocker) poll(ctx context.Context, key, token string) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.WaitTimeout)
	defer cancel()
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, nil
		case <-ticker.C:
			ok, err := l.tryAcquire(ctx, key, token)
			if err != nil || ok {
				return ok, err
			}
		}
	}
}
