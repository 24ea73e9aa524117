// Package config loads service configuration from an optional YAML file with
// environment variable overrides.
package config

import (
    "os"
    "strconv"
    "time"

    "gopkg.in/yaml.v3"
)

type Config struct {
    Port        string `yaml:"port"`
    DatabaseURL string `yaml:"databaseUrl"`
    RedisURL    string `yaml:"redisUrl"`

    // AdminToken is the shared bearer secret guarding the sweep trigger and
    // admin query endpoints.
    AdminToken string `yaml:"adminToken"`

    MaxAttempts    int           `yaml:"maxAttempts"`
    AttemptTimeout time.Duration `yaml:"attemptTimeout"`
    QueueSize      int           `yaml:"queueSize"`
    Workers        int           `yaml:"workers"`
    SweepInterval  time.Duration `yaml:"sweepInterval"`
    SweepBatch     int           `yaml:"sweepBatch"`

    RateLimitPerMinute int `yaml:"rateLimitPerMinute"`
}

func defaults() Config {
    return Config{
        Port:               "8080",
        MaxAttempts:        5,
        AttemptTimeout:     10 * time.Second,
        QueueSize:          256,
        Workers:            4,
        SweepInterval:      0, // external trigger only unless configured
        SweepBatch:         50,
        RateLimitPerMinute: 60,
    }
}

// Load reads path when it exists (missing file is not an error) and then
// applies environment overrides.
func Load(path string) (Config, error) {
    cfg := defaults()
    if path != "" {
        b, err := os.ReadFile(path)
        if err == nil {
            if err := yaml.Unmarshal(b, &cfg); err != nil {
                return cfg, err
            }
        } else if !os.IsNotExist(err) {
            return cfg, err
        }
    }
    cfg.applyEnv()
    return cfg, nil
}

func (c *Config) applyEnv() {
    if v := os.Getenv("PORT"); v != "" { c.Port = v }
    if v := os.Getenv("DATABASE_URL"); v != "" { c.DatabaseURL = v }
    if v := os.Getenv("REDIS_URL"); v != "" { c.RedisURL = v }
    if v := os.Getenv("WEBHOOK_ADMIN_TOKEN"); v != "" { c.AdminToken = v }
    if n, ok := envInt("WEBHOOK_MAX_ATTEMPTS"); ok { c.MaxAttempts = n }
    if n, ok := envInt("WEBHOOK_QUEUE_SIZE"); ok { c.QueueSize = n }
    if n, ok := envInt("WEBHOOK_WORKERS"); ok { c.Workers = n }
    if n, ok := envInt("WEBHOOK_SWEEP_BATCH"); ok { c.SweepBatch = n }
    if n, ok := envInt("WEBHOOK_RATE_LIMIT_PER_MINUTE"); ok { c.RateLimitPerMinute = n }
    if v := os.Getenv("WEBHOOK_SWEEP_INTERVAL"); v != "" {
        if d, err := time.ParseDuration(v); err == nil { c.SweepInterval = d }
    }
    if v := os.Getenv("WEBHOOK_ATTEMPT_TIMEOUT"); v != "" {
        if d, err := time.ParseDuration(v); err == nil { c.AttemptTimeout = d }
    }
}

func envInt(k string) (int, bool) {
    v := os.Getenv(k)
    if v == "" { return 0, false }
    n, err := strconv.Atoi(v)
    if err != nil || n <= 0 { return 0, false }
    return n, true
}
