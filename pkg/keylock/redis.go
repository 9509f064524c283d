package keylock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 10 * time.Second
	defaultRetryWait = 25 * time.Millisecond
	defaultPrefix    = "bookshelf:lock"
)

// releaseScript deletes the lock only if it is still owned by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the TTL only while the caller still owns the lock.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig configures a RedisLocker.
type RedisConfig struct {
	Addr      string
	Password  string
	Prefix    string
	TTL       time.Duration
	RetryWait time.Duration
}

// RedisLocker is a distributed keyed lock built on SET NX PX.
// The TTL bounds how long a crashed holder can block other writers; a live
// holder refreshes it every TTL/3 until it releases.
type RedisLocker struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
}

// NewRedisLocker builds a Redis-backed locker.
func NewRedisLocker(cfg RedisConfig) (*RedisLocker, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("keylock redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	retryWait := cfg.RetryWait
	if retryWait <= 0 {
		retryWait = defaultRetryWait
	}
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
		}),
		prefix:    prefix,
		ttl:       ttl,
		retryWait: retryWait,
	}, nil
}

// Lock retries SET NX until it wins or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.prefix + ":" + key
	owner, err := newOwnerToken()
	if err != nil {
		return nil, err
	}
	for {
		ok, err := l.client.SetNX(ctx, lockKey, owner, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.retryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lockKey, owner, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{lockKey}, owner).Err()
		})
	}, nil
}

// keepAlive extends the lock until stop closes or ownership is lost.
func (l *RedisLocker) keepAlive(lockKey, owner string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := max(l.ttl/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := extendScript.Run(ctx, l.client, []string{lockKey}, owner, l.ttl.Milliseconds()).Int64()
		cancel()
		if err == nil && n == 0 {
			return
		}
	}
}

// Ping checks connectivity to Redis.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func newOwnerToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lock owner: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
