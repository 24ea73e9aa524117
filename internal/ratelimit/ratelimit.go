// Package ratelimit guards the operator-facing trigger endpoints with a
// per-credential request limiter.
package ratelimit

import (
    "context"
    "sync"
    "time"

    "golang.org/x/time/rate"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
    Allow(ctx context.Context, key string) bool
}

// Memory is a process-local limiter: one token bucket per key, refilled at
// perWindow/window, evicting buckets idle for more than one window. This
// state does not survive the process and is not shared between instances;
// multi-instance deployments should use the Redis limiter instead.
type Memory struct {
    mu        sync.Mutex
    buckets   map[string]*memBucket
    limit     rate.Limit
    burst     int
    window    time.Duration
    lastSweep time.Time
}

type memBucket struct {
    lim      *rate.Limiter
    lastSeen time.Time
}

func NewMemory(perWindow int, window time.Duration) *Memory {
    if perWindow <= 0 { perWindow = 60 }
    if window <= 0 { window = time.Minute }
    return &Memory{
        buckets:   map[string]*memBucket{},
        limit:     rate.Every(window / time.Duration(perWindow)),
        burst:     perWindow,
        window:    window,
        lastSweep: time.Now(),
    }
}

func (m *Memory) Allow(ctx context.Context, key string) bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    now := time.Now()
    if now.Sub(m.lastSweep) > m.window {
        for k, b := range m.buckets {
            if now.Sub(b.lastSeen) > m.window { delete(m.buckets, k) }
        }
        m.lastSweep = now
    }
    b, ok := m.buckets[key]
    if !ok {
        b = &memBucket{lim: rate.NewLimiter(m.limit, m.burst)}
        m.buckets[key] = b
    }
    b.lastSeen = now
    return b.lim.Allow()
}
