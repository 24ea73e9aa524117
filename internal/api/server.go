// Package api implements the HTTP surface for the webhook delivery service.
package api

import (
    "log/slog"
    "os"

    redis "github.com/redis/go-redis/v9"

    "hookrelay/internal/config"
    "hookrelay/internal/ratelimit"
    "hookrelay/internal/store"
    "hookrelay/internal/webhooks"
)

type Server struct {
    Store      store.Store
    Dispatcher *webhooks.Dispatcher
    Sweeper    *webhooks.Sweeper
    Limiter    ratelimit.Limiter
    Log        *slog.Logger
    Cfg        config.Config
}

// NewServer wires store, executor, dispatcher, and sweeper. If DATABASE_URL
// is unset, uses the in-memory store; if REDIS_URL is set, the trigger rate
// limiter is shared across instances.
func NewServer(cfg config.Config, logger *slog.Logger) (*Server, error) {
    var s store.Store
    if cfg.DatabaseURL == "" {
        s = store.NewMemory()
    } else {
        pg, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        // Run migrations (dev helper)
        if os.Getenv("DB_MIGRATE") != "false" {
            if err := pg.MigrateDir("db/migrations"); err != nil {
                logger.Warn("migrations failed", "err", err)
            }
        }
        s = pg
    }

    var limiter ratelimit.Limiter
    if cfg.RedisURL != "" {
        opt, err := redis.ParseURL(cfg.RedisURL)
        if err != nil {
            return nil, err
        }
        limiter = ratelimit.NewRedis(redis.NewClient(opt), cfg.RateLimitPerMinute, 0)
    } else {
        limiter = ratelimit.NewMemory(cfg.RateLimitPerMinute, 0)
    }

    exec := webhooks.NewExecutor(s, logger, cfg.MaxAttempts)
    if cfg.AttemptTimeout > 0 {
        exec.HTTP.Timeout = cfg.AttemptTimeout
    }
    disp := webhooks.NewDispatcher(s, exec, logger, cfg.QueueSize)
    sw := webhooks.NewSweeper(s, exec, logger)
    if cfg.SweepBatch > 0 {
        sw.BatchSize = cfg.SweepBatch
    }

    return &Server{Store: s, Dispatcher: disp, Sweeper: sw, Limiter: limiter, Log: logger, Cfg: cfg}, nil
}
