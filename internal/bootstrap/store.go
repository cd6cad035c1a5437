// Package bootstrap opens the backing services selected by configuration.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"anoa.com/fellowship/internal/config"
	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/docstore/memory"
	"anoa.com/fellowship/internal/docstore/redisstore"
	"anoa.com/fellowship/internal/docstore/sqlstore"
	"anoa.com/fellowship/pkg/database"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backends holds the opened services. Redis is nil when REDIS_URL is unset.
type Backends struct {
	Store docstore.Store
	Redis *redis.Client

	closers []func() error
}

func (b *Backends) Close(log *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn("failed to close backend", zap.Error(err))
		}
	}
}

// Open connects the configured store backend and wraps it so that every call
// runs under cfg.StoreTimeout.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Backends, error) {
	b := &Backends{}
	if cfg.RedisURL != "" {
		client, err := ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.Redis = client
		b.closers = append(b.closers, client.Close)
	}

	var store docstore.Store
	switch cfg.StoreBackend {
	case config.BackendMemory:
		mem := memory.New()
		b.closers = append(b.closers, mem.Close)
		store = mem
	case config.BackendRedis:
		store = redisstore.New(b.Redis)
	case config.BackendPostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			b.Close(log)
			return nil, err
		}
		var bus docstore.ChangeBus = docstore.NewLocalBus()
		if b.Redis != nil {
			bus = redisstore.NewBus(b.Redis, "docstore:")
		} else {
			log.Warn("postgres store without REDIS_URL: change streams only reach this process")
		}
		sql := sqlstore.New(db, bus)
		if err := sql.Migrate(ctx); err != nil {
			_ = sql.Close()
			b.Close(log)
			return nil, err
		}
		b.closers = append(b.closers, sql.Close)
		store = sql
	default:
		b.Close(log)
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	log.Info("document store ready", zap.String("backend", string(cfg.StoreBackend)), zap.Duration("timeout", cfg.StoreTimeout))
	b.Store = docstore.WithDeadlines(store, cfg.StoreTimeout)
	return b, nil
}

// ConnectRedis parses redisURL and verifies the server answers.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
