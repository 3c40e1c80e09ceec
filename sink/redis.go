package sink

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ogzhanolguncu/hostess/map_reduce"
	"github.com/redis/go-redis/v9"
)

const redisBatchSize = 500

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// Key names the set holding "address\thostname" members. Per-address
	// hostname sets live at "<Key>:<address>".
	Key string

	TLS *tls.Config

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// Redis stores associations as set members, so repeated runs stay deduplicated.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Key == "" {
		opts.Key = "hostess:associations"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client, key: opts.Key}, nil
}

func (r *Redis) Write(ctx context.Context, kvs []map_reduce.KeyValue) error {
	for start := 0; start < len(kvs); start += redisBatchSize {
		end := min(start+redisBatchSize, len(kvs))

		pipe := r.client.Pipeline()
		for _, kv := range kvs[start:end] {
			a := map_reduce.AsAssociation(kv)
			pipe.SAdd(ctx, r.key, a.String())
			pipe.SAdd(ctx, r.AddressKey(a.Address), a.Hostname)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to write associations: %w", err)
		}
	}
	return nil
}

// AddressKey is the set of hostnames recorded for addr.
func (r *Redis) AddressKey(addr string) string {
	return r.key + ":" + addr
}

func (r *Redis) Close() error {
	return r.client.Close()
}
