package ledger

import (
	"context"
	"sync"
	"time"

	"arena/internal/common/cache"
	"arena/internal/contest/model"
	"arena/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locker provides mutual exclusion per (contest, contestant, problem) triple.
// Locks on different triples never wait for each other.
type Locker interface {
	Lock(ctx context.Context, key model.TripleKey) (unlock func(), err error)
}

// LocalLocker is an in-process keyed lock. Entries are reference counted and
// dropped once no goroutine holds or waits for them.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[model.TripleKey]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[model.TripleKey]*lockEntry)}
}

func (l *LocalLocker) Lock(ctx context.Context, key model.TripleKey) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(key, e)
		})
	}, nil
}

func (l *LocalLocker) release(key model.TripleKey, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

// size is used by tests to verify entries are reclaimed.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RedisLockerConfig tunes the distributed triple lock.
type RedisLockerConfig struct {
	KeyPrefix string        `yaml:"keyPrefix"`
	TTL       time.Duration `yaml:"ttl"`
	Retry     time.Duration `yaml:"retry"`
	MaxWait   time.Duration `yaml:"maxWait"`
}

// RedisLocker serializes a triple across service instances through the shared cache.
type RedisLocker struct {
	cache cache.Cache
	cfg   RedisLockerConfig
}

func NewRedisLocker(c cache.Cache, cfg RedisLockerConfig) *RedisLocker {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "contest:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 10 * time.Millisecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 3 * time.Second
	}
	return &RedisLocker{cache: c, cfg: cfg}
}

func (l *RedisLocker) Lock(ctx context.Context, key model.TripleKey) (func(), error) {
	lockKey := l.cfg.KeyPrefix + key.String()
	owner := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.MaxWait)
	defer cancel()

	backoff := l.cfg.Retry
	for {
		ok, err := l.cache.TryLock(waitCtx, lockKey, owner, l.cfg.TTL)
		if err != nil && waitCtx.Err() == nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-waitCtx.Done():
			return nil, ErrLockTimeout
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := l.cache.Unlock(unlockCtx, lockKey, owner); err != nil {
				logger.Warn(ctx, "release triple lock failed", zap.String("key", lockKey), zap.Error(err))
			}
		})
	}, nil
}
