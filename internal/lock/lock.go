// Package lock provides keyed mutual exclusion for billing writes.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lexledger/lexledger/internal/shared"
)

// Locker acquires exclusive ownership of a key. The returned release func
// must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func() error, err error)
}

// ErrNotHeld is returned when releasing a lock that expired or was taken over.
var ErrNotHeld = errors.New("lock: not held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX and a random ownership token.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker builds a locker. ttl bounds how long a crashed holder
// blocks others; wait bounds how long Acquire retries.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait < 0 {
		wait = 0
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait, retry: 25 * time.Millisecond}
}

// Acquire blocks until the key is free, the wait budget elapses or ctx ends.
// Exhausting the budget returns shared.ErrConcurrencyConflict.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func() error, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() error {
				// Release must outlive a cancelled request context.
				res, err := releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Int()
				if err != nil {
					return err
				}
				if res == 0 {
					return ErrNotHeld
				}
				return nil
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, shared.Wrap(shared.ErrConcurrencyConflict, "resource %s is busy", key)
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// LocalLocker implements Locker in process. Used by tests and single-node setups.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
	wait  time.Duration
}

// localSlot lives while refs > 0; refs counts the holder and all waiters.
type localSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker builds an in-process locker; wait <= 0 waits until ctx ends.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{slots: make(map[string]*localSlot), wait: wait}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s.ch
}

func (l *LocalLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(l.slots, key)
	}
}

// Acquire takes the key's slot.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (func() error, error) {
	ch := l.slot(key)
	var timeout <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	case <-timeout:
		l.unref(key)
		return nil, shared.Wrap(shared.ErrConcurrencyConflict, "resource %s is busy", key)
	}
	var once sync.Once
	return func() error {
		released := false
		once.Do(func() {
			<-ch
			l.unref(key)
			released = true
		})
		if !released {
			return ErrNotHeld
		}
		return nil
	}, nil
}
