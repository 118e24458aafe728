package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imanojprajapati/visitrack-v3-sub002/internal/crypto"
)

var errMissingTokenID = errors.New("session: missing token id")

// RevocationList records refresh-token ids that must no longer be honored.
// Entries live only as long as the token they block.
type RevocationList interface {
	// Revoke blocks tokenID until expiresAt.
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	// Consume atomically claims tokenID for a single rotation. It reports
	// false when the id was already consumed or revoked.
	Consume(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error)
}

type RedisRevocationList struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisRevocationList(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{
		client: client,
		prefix: "revoked_refresh:",
		now:    time.Now,
	}
}

func (l *RedisRevocationList) key(tokenID string) string {
	return l.prefix + crypto.HashToken(tokenID)
}

func (l *RedisRevocationList) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return errMissingTokenID
	}
	ttl := expiresAt.Sub(l.now())
	if ttl <= 0 {
		// already dead, nothing to block
		return nil
	}
	return l.client.Set(ctx, l.key(tokenID), "1", ttl).Err()
}

func (l *RedisRevocationList) Consume(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	if tokenID == "" {
		return false, errMissingTokenID
	}
	ttl := expiresAt.Sub(l.now())
	if ttl <= 0 {
		return false, nil
	}
	return l.client.SetNX(ctx, l.key(tokenID), "1", ttl).Result()
}

// MemoryRevocationList is the single-process fallback when no Redis is
// configured. Entries are lost on restart and not shared between replicas.
type MemoryRevocationList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{entries: map[string]time.Time{}, now: time.Now}
}

func (l *MemoryRevocationList) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return errMissingTokenID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep()
	if expiresAt.After(l.now()) {
		l.entries[tokenID] = expiresAt
	}
	return nil
}

func (l *MemoryRevocationList) Consume(_ context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	if tokenID == "" {
		return false, errMissingTokenID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep()
	if !expiresAt.After(l.now()) {
		return false, nil
	}
	if _, taken := l.entries[tokenID]; taken {
		return false, nil
	}
	l.entries[tokenID] = expiresAt
	return true, nil
}

// sweep drops entries whose token has expired. Callers hold mu.
func (l *MemoryRevocationList) sweep() {
	now := l.now()
	for id, expiresAt := range l.entries {
		if !expiresAt.After(now) {
			delete(l.entries, id)
		}
	}
}
