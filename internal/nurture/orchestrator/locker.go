// internal/nurture/orchestrator/locker.go
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"nurture-engine/internal/common/config"
	"nurture-engine/internal/common/errors"
	"nurture-engine/internal/common/logger"
)

const (
	lockKeyPrefix     = "lock:lead:"
	lockRetryInterval = 50 * time.Millisecond
)

// releaseScript deletes the lock only if the stored token still matches, so a
// holder whose lease expired cannot release the next holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lock is a held per-lead lease. Release it exactly once.
type Lock struct {
	leadID string
	token  string
	local  bool
}

// LeadLocker serializes nurture work per lead. The primary mechanism is a
// Redis SET NX PX lease; when Redis is unreachable it degrades to a
// process-local semaphore map, which still serializes steps inside one
// process.
type LeadLocker struct {
	client *redis.Client
	lease  time.Duration
	wait   time.Duration
	logger logger.Logger

	mu    sync.Mutex
	local map[string]*localSem
}

type localSem struct {
	ch   chan struct{}
	refs int
}

func NewLeadLocker(client *redis.Client, cfg *config.SchedulerConfig, log logger.Logger) *LeadLocker {
	lease := config.GetDuration(cfg.LockLease)
	if lease <= 0 {
		lease = 30 * time.Second
	}
	wait := config.GetDuration(cfg.LockWait)
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &LeadLocker{
		client: client,
		lease:  lease,
		wait:   wait,
		logger: log,
		local:  make(map[string]*localSem),
	}
}

// Acquire blocks until the lead's lock is held, the wait budget runs out, or
// ctx is cancelled.
func (l *LeadLocker) Acquire(ctx context.Context, leadID string) (*Lock, error) {
	if l.client == nil {
		return l.acquireLocal(ctx, leadID)
	}

	key := lockKeyPrefix + leadID
	token := uuid.New().String()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			l.logger.Warn("redis lock unavailable, using local lock", map[string]interface{}{
				"leadId": leadID,
				"error":  err.Error(),
			})
			return l.acquireLocal(ctx, leadID)
		}
		if ok {
			return &Lock{leadID: leadID, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, errors.NewLockNotAcquiredError(leadID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// Release frees the lock. Redis failures are logged, not returned: the lease
// expires on its own.
func (l *LeadLocker) Release(ctx context.Context, lock *Lock) {
	if lock == nil {
		return
	}
	if lock.local {
		l.releaseLocal(lock.leadID)
		return
	}

	key := lockKeyPrefix + lock.leadID
	if err := releaseScript.Run(ctx, l.client, []string{key}, lock.token).Err(); err != nil && err != redis.Nil {
		l.logger.Warn("lock release failed, lease will expire", map[string]interface{}{
			"leadId": lock.leadID,
			"error":  err.Error(),
		})
	}
}

func (l *LeadLocker) acquireLocal(ctx context.Context, leadID string) (*Lock, error) {
	l.mu.Lock()
	sem, ok := l.local[leadID]
	if !ok {
		sem = &localSem{ch: make(chan struct{}, 1)}
		l.local[leadID] = sem
	}
	sem.refs++
	l.mu.Unlock()

	select {
	case sem.ch <- struct{}{}:
		return &Lock{leadID: leadID, local: true}, nil
	case <-time.After(l.wait):
		l.dropLocalRef(leadID)
		return nil, errors.NewLockNotAcquiredError(leadID)
	case <-ctx.Done():
		l.dropLocalRef(leadID)
		return nil, ctx.Err()
	}
}

func (l *LeadLocker) releaseLocal(leadID string) {
	l.mu.Lock()
	sem, ok := l.local[leadID]
	l.mu.Unlock()
	if !ok {
		return
	}
	<-sem.ch
	l.dropLocalRef(leadID)
}

func (l *LeadLocker) dropLocalRef(leadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.local[leadID]
	if !ok {
		return
	}
	sem.refs--
	if sem.refs <= 0 {
		delete(l.local, leadID)
	}
}
