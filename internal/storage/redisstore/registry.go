package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// Registry keeps connection IDs as members of one Redis set, so several
// stateless gateway workers can share it.
type Registry struct {
	client *redis.Client
	key    string // set key, e.g. chatrelay:connections
}

// NewRegistry dials the Redis server at redisURL (redis:// or rediss://) and
// verifies the connection. A non-empty password overrides the one in the URL.
func NewRegistry(redisURL, password, key string) (*Registry, error) {
	opts, err := parseOptions(redisURL, password)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRegistryFromClient(rdb, key), nil
}

func parseOptions(redisURL, password string) (*redis.Options, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	// URL query parameters win over these defaults
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	return opts, nil
}

// NewRegistryFromClient uses an existing client
func NewRegistryFromClient(client *redis.Client, key string) *Registry {
	return &Registry{
		client: client,
		key:    key,
	}
}

// Register adds id with SADD, which ignores existing members
func (r *Registry) Register(ctx context.Context, id string) error {
	return r.client.SAdd(ctx, r.key, id).Err()
}

// Unregister removes id with SREM, which ignores missing members
func (r *Registry) Unregister(ctx context.Context, id string) error {
	return r.client.SRem(ctx, r.key, id).Err()
}

// Snapshot walks the set with SSCAN so a large registry never blocks Redis
func (r *Registry) Snapshot(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var cursor uint64

	for {
		// SSCAN may return a member more than once across batches
		members, nextCursor, err := r.client.SScan(ctx, r.key, cursor, "", scanBatch).Result()
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			seen[m] = struct{}{}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids, nil
}

// Count returns the set cardinality
func (r *Registry) Count(ctx context.Context) (int64, error) {
	return r.client.SCard(ctx, r.key).Result()
}

// Addr is the host:port of the Redis server
func (r *Registry) Addr() string {
	return r.client.Options().Addr
}

func (r *Registry) Close() error {
	return r.client.Close()
}
