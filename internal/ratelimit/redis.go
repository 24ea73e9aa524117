package ratelimit

import (
    "context"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// Redis is a fixed-window counter limiter (INCR + EXPIRE) shared across
// instances. On Redis errors it fails open so a cache outage cannot take the
// trigger endpoints down with it.
type Redis struct {
    rdb    *redis.Client
    max    int64
    window time.Duration
    prefix string
}

func NewRedis(rdb *redis.Client, perWindow int, window time.Duration) *Redis {
    if perWindow <= 0 { perWindow = 60 }
    if window <= 0 { window = time.Minute }
    return &Redis{rdb: rdb, max: int64(perWindow), window: window, prefix: "ratelimit"}
}

func (r *Redis) Allow(ctx context.Context, key string) bool {
    k := r.prefix + ":" + key
    pipe := r.rdb.Pipeline()
    incr := pipe.Incr(ctx, k)
    pipe.Expire(ctx, k, r.window)
    if _, err := pipe.Exec(ctx); err != nil {
        return true
    }
    return incr.Val() <= r.max
}
