package webhooks

import (
    "context"
    "log/slog"
    "time"

    "hookrelay/internal/metrics"
    "hookrelay/internal/store"
)

// Sweeper re-drives overdue retrying deliveries. It is safe to run from
// overlapping triggers: each row is claimed with a conditional update before
// the executor touches it, so a concurrent sweep simply skips rows it loses.
type Sweeper struct {
    Store store.Store
    Exec  *Executor
    Log   *slog.Logger

    BatchSize   int
    ClaimWindow time.Duration
    stop        chan struct{}
}

type SweepResult struct {
    Attempted int `json:"attempted"`
    Succeeded int `json:"succeeded"`
    Failed    int `json:"failed"`
}

func NewSweeper(s store.Store, exec *Executor, logger *slog.Logger) *Sweeper {
    return &Sweeper{
        Store:       s,
        Exec:        exec,
        Log:         logger,
        BatchSize:   50,
        ClaimWindow: 2 * time.Minute,
        stop:        make(chan struct{}),
    }
}

// Start runs periodic sweeps until Stop is called. Interval <= 0 disables the
// internal ticker (deployments driven purely by the HTTP trigger).
func (s *Sweeper) Start(interval time.Duration) {
    if interval <= 0 { return }
    go func() {
        ticker := time.NewTicker(interval)
        defer ticker.Stop()
        for {
            select {
            case <-s.stop:
                return
            case <-ticker.C:
                ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
                s.Sweep(ctx)
                cancel()
            }
        }
    }()
}

// Stop halts the periodic ticker. In-flight sweeps finish on their own.
func (s *Sweeper) Stop() { close(s.stop) }

// Sweep claims and re-attempts every due retrying delivery whose webhook is
// still active. Attempts for one delivery stay strictly sequential: the claim
// bumps nextRetryAt past the claim window, and the executor persists the
// outcome before the row can become due again.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
    var res SweepResult
    now := time.Now()
    due, err := s.Store.FetchDueRetries(ctx, now, s.Exec.MaxAttempts, s.BatchSize)
    if err != nil {
        s.Log.Error("sweep: fetch due retries", "err", err)
        return res
    }
    for _, d := range due {
        claimed, err := s.Store.ClaimDelivery(ctx, d.ID, d.Attempt, now.Add(s.ClaimWindow))
        if err != nil {
            s.Log.Error("sweep: claim", "delivery", d.ID, "err", err)
            continue
        }
        if !claimed {
            continue // another sweep won this row
        }
        sub, err := s.Store.GetSubscriber(ctx, d.WebhookID)
        if err != nil {
            s.Log.Error("sweep: subscriber lookup", "delivery", d.ID, "webhook", d.WebhookID, "err", err)
            continue
        }
        res.Attempted++
        if s.Exec.Attempt(ctx, d, sub.URL, sub.Secret) {
            res.Succeeded++
        } else {
            res.Failed++
        }
    }
    metrics.SweepRuns.Inc()
    if res.Attempted > 0 {
        s.Log.Info("sweep complete", "attempted", res.Attempted, "succeeded", res.Succeeded, "failed", res.Failed)
    }
    return res
}
