package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrBusy is returned when another pull holds the ingestion lock.
var ErrBusy = errors.New("collector: another pull is in progress")

// Locker serialises pulls. Release must be called once the lock is held.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// MemoryLocker guards pulls within one process.
type MemoryLocker struct {
	mu sync.Mutex
}

// NewMemoryLocker constructs an in-process lock.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{}
}

// Acquire takes the lock without waiting.
func (l *MemoryLocker) Acquire(context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker guards pulls across every process sharing a ledger.
type RedisLocker struct {
	client  *redis.Client
	key     string
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewRedisLocker connects to Redis and verifies it is reachable.
func NewRedisLocker(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client:  client,
		key:     "ec-bot:lock:ingest",
		ttl:     ttl,
		timeout: 2 * time.Second,
		logger:  logger.With("component", "lock"),
	}, nil
}

// Acquire sets the lock key with NX and a TTL so a crashed holder cannot
// block pulls forever.
func (l *RedisLocker) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire ingestion lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
				l.logger.Error("release ingestion lock failed", "error", err)
			}
		})
	}, nil
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
