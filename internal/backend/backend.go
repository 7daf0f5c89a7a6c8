// Package backend constructs and retries the Redis connection snugom runs
// its atomic scripts and search queries against.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// Config is the subset of config.Config backend.Dial needs. It is kept
// narrow and duplicated rather than importing the config package, so
// backend has no dependency on how configuration is loaded.
type Config struct {
	RedisURL       string
	DialTimeout    time.Duration
	MaxElapsedTime time.Duration
}

// DefaultDialTimeout bounds the initial connect+ping.
const DefaultDialTimeout = 5 * time.Second

// DefaultMaxElapsedTime bounds how long WithRetry keeps retrying a
// transient error before giving up.
const DefaultMaxElapsedTime = 30 * time.Second

// Dial parses cfg.RedisURL, constructs a *redis.Client, and verifies
// connectivity with a bounded PING before returning it.
func Dial(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("backend: ping %s: %w", cfg.RedisURL, err)
	}
	return client, nil
}

// newRetryBackoff builds the exponential backoff policy WithRetry uses,
// bounded by maxElapsed (falling back to DefaultMaxElapsedTime when zero).
func newRetryBackoff(maxElapsed time.Duration) backoff.BackOff {
	if maxElapsed <= 0 {
		maxElapsed = DefaultMaxElapsedTime
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	return bo
}

// isRetryableError reports whether err looks like a transient connection
// problem worth retrying: a brief network blip or a server that hasn't
// finished restarting yet, as opposed to a malformed command or a
// validation failure the retry loop could never fix.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "broken pipe"),
		strings.Contains(errStr, "i/o timeout"),
		strings.Contains(errStr, "use of closed network connection"),
		strings.Contains(errStr, "eof"),
		strings.Contains(errStr, "loading"): // Redis still loading RDB/AOF on restart
		return true
	}
	return false
}

// WithRetry runs op, retrying transient connection errors with exponential
// backoff up to maxElapsed. A non-retryable error (or the retryable error
// persisting past maxElapsed) is returned immediately/as-is; callers should
// not retry again on top of this.
func WithRetry(ctx context.Context, maxElapsed time.Duration, op func() error) error {
	bo := newRetryBackoff(maxElapsed)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isRetryableError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}
