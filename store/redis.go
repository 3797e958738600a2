package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript creates the counter with its initial value and expiration, or adds
// the delta to an existing counter leaving its TTL untouched. Running both
// branches inside one script keeps concurrent first increments from each
// creating the key and resetting the window.
var incrScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    local ttl = tonumber(ARGV[3])
    if ttl > 0 then
        redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
    else
        redis.call('SET', KEYS[1], ARGV[1])
    end
    return tonumber(ARGV[1])
end
return redis.call('INCRBY', KEYS[1], ARGV[2])
`)

// Redis is a Redis-backed implementation of Store suitable for distributed deployments.
// Counters are shared by every instance pointing at the same Redis database.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds configuration for Redis connection.
// All fields should be populated explicitly by your application code from environment
// variables, config files, or other sources. Never reads environment variables directly.
type RedisConfig struct {
	// URL is the Redis server address (e.g., "localhost:6379")
	URL string `yaml:"url" validate:"required"`

	// Password for Redis authentication (optional, leave empty if not needed)
	Password string `yaml:"password"`

	// DB is the Redis database number (0-15, default: 0)
	DB int `yaml:"db" validate:"gte=0,lte=15"`

	// Prefix is prepended to every key, on top of the throttle namespace (default: none)
	Prefix string `yaml:"prefix"`

	// PoolSize is the maximum number of connections (default: 10 * runtime.GOMAXPROCS)
	PoolSize int `yaml:"pool_size" validate:"gte=0"`

	// MinIdleConns is the minimum number of idle connections (default: 0)
	MinIdleConns int `yaml:"min_idle_conns" validate:"gte=0"`

	// DialTimeout is the timeout for establishing new connections (default: 5s)
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReadTimeout is the timeout for socket reads (default: 3s)
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the timeout for socket writes (default: ReadTimeout)
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// NewRedis creates a Redis store with the given configuration.
// Validates the connection with a ping before returning. Returns an error wrapping
// ErrUnavailable if the connection cannot be established within 5 seconds.
//
// Example:
//
//	st, err := store.NewRedis(store.RedisConfig{
//		URL: "localhost:6379",
//		DB:  0,
//	})
func NewRedis(config RedisConfig) (*Redis, error) {
	opts := &redis.Options{
		Addr:     config.URL,
		Password: config.Password,
		DB:       config.DB,
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.MinIdleConns > 0 {
		opts.MinIdleConns = config.MinIdleConns
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: failed to connect to redis: %w", ErrUnavailable, err)
	}

	return NewRedisFromClient(client, config.Prefix), nil
}

// NewRedisFromClient wraps an existing client, e.g. one shared with other parts
// of the application. Close closes the client.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
	}
}

// Increment runs incrScript against key. TTLs are sent with millisecond precision.
func (r *Redis) Increment(ctx context.Context, key string, initial, delta int64, ttl time.Duration) (int64, error) {
	count, err := incrScript.Run(ctx, r.client, []string{r.prefix + key}, initial, delta, ttl.Milliseconds()).Int64()
	if err != nil {
		if isNotInteger(err) {
			return 0, ErrNotInteger
		}
		return 0, unavailable("increment", err)
	}
	return count, nil
}

// Get returns the raw value stored at key.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get", err)
	}
	return val, true, nil
}

// Exists reports whether key is present.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n > 0, nil
}

// Set stores value at key with the given TTL.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Remove deletes key.
func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return unavailable("remove", err)
	}
	return nil
}

// Close releases the Redis client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s failed: %w", ErrUnavailable, op, err)
}

func isNotInteger(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr) && strings.Contains(rerr.Error(), "not an integer")
}
