package integrations

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStateStore tracks OAuth state nonces in Redis so single-use
// semantics hold across process instances. Entries carry the state TTL
// and expire on their own.
type RedisStateStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStateStore creates a state store over the given client.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: "integrations:oauth_state:"}
}

func (s *RedisStateStore) Save(ctx context.Context, nonce string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.prefix+nonce, "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("integrations: state nonce collision")
	}
	return nil
}

func (s *RedisStateStore) Consume(ctx context.Context, nonce string) error {
	err := s.client.GetDel(ctx, s.prefix+nonce).Err()
	if errors.Is(err, redis.Nil) {
		return ErrStateAlreadyUsed
	}
	return err
}

// MemoryStateStore is an in-process StateStore for tests and
// single-instance development setups. Not suitable for multi-instance
// deployments: a callback can land on a different instance than the
// one that issued the state.
type MemoryStateStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *MemoryStateStore) Save(_ context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[nonce] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.nonces[nonce]
	if !ok || s.now().After(expiry) {
		delete(s.nonces, nonce)
		return ErrStateAlreadyUsed
	}
	delete(s.nonces, nonce)
	return nil
}
