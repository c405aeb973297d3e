package borrowers

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisStore backs Index with a shared Redis set per reserve
// (key "borrowers:<reserve>"), for multi-instance deployments that need a
// common view without a full database.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials addr. Connection failures are returned to the caller,
// who (per spec.md §4.D) degrades to memory mode on error rather than
// propagating a fatal.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func reserveSetKey(reserve string) string {
	return "borrowers:" + reserve
}

func (s *RedisStore) AddBorrower(ctx context.Context, reserve, address string) error {
	if err := s.client.SAdd(ctx, reserveSetKey(reserve), address).Err(); err != nil {
		return fmt.Errorf("redis: sadd failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Borrowers(ctx context.Context, reserve string) ([]string, error) {
	members, err := s.client.SMembers(ctx, reserveSetKey(reserve)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: smembers failed: %w", err)
	}
	return members, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
