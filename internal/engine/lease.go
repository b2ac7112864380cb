package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OwnerLock serializes mutating passes over a single owner's graph. The
// batch orchestrator and scheduler acquire the owner's claim before the
// read-mark-processed sequence; a held claim means another invocation is
// already working this owner.
type OwnerLock interface {
	// TryAcquire attempts to claim the owner. Returns false without
	// blocking when the claim is already held.
	TryAcquire(ctx context.Context, ownerID uuid.UUID) (bool, error)
	Release(ctx context.Context, ownerID uuid.UUID) error
}

// LocalLock is an in-process OwnerLock for single-instance deployments
// and tests.
type LocalLock struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

// NewLocalLock creates an in-process owner lock.
func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[uuid.UUID]struct{})}
}

func (l *LocalLock) TryAcquire(_ context.Context, ownerID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[ownerID]; ok {
		return false, nil
	}
	l.held[ownerID] = struct{}{}
	return true, nil
}

func (l *LocalLock) Release(_ context.Context, ownerID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, ownerID)
	return nil
}

// RedisLock is a distributed OwnerLock using SET NX with a TTL so a
// crashed holder cannot wedge an owner forever. Release only deletes the
// claim if this instance still holds it.
type RedisLock struct {
	client *redis.Client
	token  string
	ttl    time.Duration
}

// releaseScript deletes the claim key only when the stored token matches.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisLock creates a distributed owner lock with the given claim TTL.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl == 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLock{client: client, token: uuid.NewString(), ttl: ttl}
}

func (l *RedisLock) key(ownerID uuid.UUID) string {
	return "thoughtgraph:claim:" + ownerID.String()
}

func (l *RedisLock) TryAcquire(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(ownerID), l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire owner claim: %w", err)
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context, ownerID uuid.UUID) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(ownerID)}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release owner claim: %w", err)
	}
	return nil
}
