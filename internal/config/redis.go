package config

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/maniack/sessionsweep/internal/logging"
	redis "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "sessionsweep:config:"

// Redis reads settings stored as plain string keys: <prefix><path>.
type Redis struct {
	client   *redis.Client
	prefix   string
	attempts int
	min, max time.Duration
}

// NewRedis creates a Redis-backed source using go-redis. The connection is
// checked once; a failed ping is logged and retried on demand.
func NewRedis(addr, password, prefix string) *Redis {
	prefix = normalizePrefix(prefix)
	logging.L().WithFields(map[string]any{"impl": "redis", "addr": addr, "prefix": prefix}).Info("config: initializing redis source")
	cl := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		MaxRetries:   1,
		DialTimeout:  1 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cl.Ping(ctx).Err(); err != nil {
		logging.L().WithField("addr", addr).WithError(err).Warn("config: redis ping failed (will retry on demand)")
	}
	return newRedis(cl, prefix)
}

func newRedis(cl *redis.Client, prefix string) *Redis {
	return &Redis{client: cl, prefix: prefix, attempts: 3, min: 50 * time.Millisecond, max: 500 * time.Millisecond}
}

func normalizePrefix(prefix string) string {
	if prefix == "" {
		return defaultRedisPrefix
	}
	if !strings.HasSuffix(prefix, ":") {
		return prefix + ":"
	}
	return prefix
}

func (r *Redis) key(path string) string { return r.prefix + path }

// Lookup returns the value of <prefix><path>. Transient errors are retried
// with exponential backoff; a missing key is not an error.
func (r *Redis) Lookup(ctx context.Context, path string) (string, bool, error) {
	b := &backoff.Backoff{Min: r.min, Max: r.max, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		v, err := r.client.Get(ctx, r.key(path)).Result()
		switch {
		case err == nil:
			return v, true, nil
		case errors.Is(err, redis.Nil):
			return "", false, nil
		}
		lastErr = err
		logging.L().WithContext(ctx).WithFields(map[string]any{
			"impl":    "redis",
			"key":     r.key(path),
			"attempt": attempt + 1,
		}).WithError(err).Debug("config: redis lookup failed")
		if attempt == r.attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return "", false, lastErr
}

func (r *Redis) Close() error { return r.client.Close() }
