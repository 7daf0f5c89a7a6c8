// Package snugom is an object-document mapper for JSON documents stored in
// a Redis-compatible backend, with secondary-key indexes, declarative
// relations, and optimistic-concurrency writes routed through atomic Lua
// scripts.
package snugom

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/snugom/snugom/internal/backend"
	"github.com/snugom/snugom/internal/config"
	"github.com/snugom/snugom/internal/idgen"
	"github.com/snugom/snugom/internal/keys"
	"github.com/snugom/snugom/internal/migration"
	"github.com/snugom/snugom/internal/obslog"
	"github.com/snugom/snugom/internal/repo"
	"github.com/snugom/snugom/internal/search"
)

// Client is the top-level handle a program holds: one Redis connection, one
// entity registry, and the search/migration managers built on top of it.
// Repository[T] instances for individual collections are obtained via
// NewRepository.
type Client struct {
	Redis     *redis.Client
	Registry  *keys.Registry
	Search    *search.Manager
	Migration migration.Store
	Log       *obslog.Logger

	cfg   config.Config
	clock idgen.Clock
}

// Open dials cfg.RedisURL (with retry per internal/backend's exponential
// backoff policy) and returns a ready-to-use Client bound to a fresh entity
// registry. Callers register their own EntityDescriptors with the returned
// Client's Registry before constructing any Repository.
func Open(ctx context.Context, cfg config.Config) (*Client, error) {
	var rdb *redis.Client
	err := backend.WithRetry(ctx, 0, func() error {
		var dialErr error
		rdb, dialErr = backend.Dial(ctx, backend.Config{RedisURL: cfg.RedisURL})
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("snugom: open: %w", err)
	}

	registry := keys.NewRegistry()
	kctx := keys.New(cfg.Prefix, cfg.Service)

	return &Client{
		Redis:     rdb,
		Registry:  registry,
		Search:    search.NewManager(rdb, kctx),
		Migration: migration.NewRedisStore(rdb),
		Log:       obslog.New(log.New(os.Stderr, "", log.LstdFlags), cfg.SlowScriptThreshold),
		cfg:       cfg,
		clock:     idgen.SystemClock{},
	}, nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.Redis.Close()
}

// Register adds d to the Client's entity registry, compiling its validation
// rules once up front. It must be called for every collection before a
// Repository is built for it or before any entity referencing it by
// relation is written.
func (c *Client) Register(d *keys.EntityDescriptor) error {
	if err := keys.CompileValidations(d); err != nil {
		return fmt.Errorf("snugom: register %s/%s: %w", d.Service, d.Collection, err)
	}
	c.Registry.Register(d)
	return nil
}

// NewRepository returns a Repository[T] for d's collection, wired to this
// Client's backend, registry, and search manager.
func NewRepository[T any](c *Client, d *keys.EntityDescriptor) *repo.Repository[T] {
	store := repo.NewScriptedStore(c.Redis)
	r := repo.New[T](store, d, c.cfg.Prefix, c.Registry, c.Search, c.clock)
	r.IdempotencyTTL = c.cfg.DefaultIdempotencyTTL
	return r
}

// EnsureIndexesFor is a convenience wrapper equivalent to calling
// EnsureIndexes on a Repository for d directly, for callers that only need
// index setup (e.g. a startup/migration step) without constructing a typed
// repository.
func (c *Client) EnsureIndexesFor(ctx context.Context, d *keys.EntityDescriptor) error {
	schema := c.Search.SchemaFor(d)
	return c.Search.EnsureIndex(ctx, schema)
}

