package webhooks

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "log/slog"
    "net/http"
    "time"

    "hookrelay/internal/metrics"
    "hookrelay/internal/model"
    "hookrelay/internal/store"
)

// DefaultMaxAttempts is the delivery attempt cap; a delivery whose failure
// count reaches it is dead-lettered.
const DefaultMaxAttempts = 5

const defaultAttemptTimeout = 10 * time.Second

// envelope is the outbound request body.
type envelope struct {
    Event      string          `json:"event"`
    Data       json.RawMessage `json:"data"`
    DeliveryID string          `json:"deliveryId"`
    Timestamp  int64           `json:"timestamp"`
}

// Executor performs a single delivery attempt and persists the outcome.
// Side effects are confined to the delivery's own ledger row; no error
// escapes Attempt.
type Executor struct {
    Store       store.Store
    HTTP        *http.Client
    Log         *slog.Logger
    MaxAttempts int

    // Backoff computes the delay before the next retry of a failed attempt.
    Backoff func(attempt int) time.Duration

    now func() time.Time
}

func NewExecutor(s store.Store, logger *slog.Logger, maxAttempts int) *Executor {
    if maxAttempts <= 0 { maxAttempts = DefaultMaxAttempts }
    return &Executor{
        Store:       s,
        HTTP:        &http.Client{Timeout: defaultAttemptTimeout},
        Log:         logger,
        MaxAttempts: maxAttempts,
        Backoff:     nextBackoff,
        now:         time.Now,
    }
}

// Attempt sends one notification for d to the given subscriber endpoint and
// records the outcome. Returns true when the delivery reached success.
func (e *Executor) Attempt(ctx context.Context, d model.Delivery, url, secret string) bool {
    ts := e.now().UnixMilli()
    body, err := json.Marshal(envelope{Event: d.EventType, Data: d.Payload, DeliveryID: d.ID, Timestamp: ts})
    if err != nil {
        return e.recordFailure(ctx, d, 0, 0, fmt.Sprintf("encode body: %v", err))
    }

    req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
    if err != nil {
        // malformed subscriber URL: fails into the retry path like any other attempt
        return e.recordFailure(ctx, d, 0, 0, fmt.Sprintf("build request: %v", err))
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Webhook-Signature", Sign(secret, ts, body))
    req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", ts))
    req.Header.Set("X-Webhook-Delivery", d.ID)

    start := e.now()
    resp, err := e.HTTP.Do(req)
    latency := int(time.Since(start).Milliseconds())
    code := 0
    if resp != nil {
        code = resp.StatusCode
        if resp.Body != nil { _ = resp.Body.Close() }
    }
    if err == nil && code >= 200 && code < 300 {
        if err := e.Store.MarkDelivered(ctx, d.ID, code, latency); err != nil {
            e.Log.Error("mark delivered failed", "delivery", d.ID, "err", err)
        }
        metrics.Deliveries.WithLabelValues(d.EventType, model.DeliverySuccess).Inc()
        metrics.DeliveryLatency.WithLabelValues(d.EventType, model.DeliverySuccess).Observe(float64(latency))
        return true
    }

    lastErr := fmt.Sprintf("unexpected status %d", code)
    if err != nil { lastErr = err.Error() }
    return e.recordFailure(ctx, d, code, latency, lastErr)
}

// recordFailure increments the attempt counter and either schedules a retry
// or dead-letters the delivery once the cap is reached.
func (e *Executor) recordFailure(ctx context.Context, d model.Delivery, code, latency int, lastErr string) bool {
    attempt := d.Attempt + 1
    if attempt >= e.MaxAttempts {
        if err := e.Store.MarkFailed(ctx, d.ID, attempt, lastErr, code); err != nil {
            e.Log.Error("mark failed failed", "delivery", d.ID, "err", err)
        }
        metrics.Deliveries.WithLabelValues(d.EventType, model.DeliveryFailed).Inc()
        e.Log.Warn("delivery dead-lettered", "delivery", d.ID, "webhook", d.WebhookID, "event", d.EventType, "attempt", attempt, "err", lastErr)
        return false
    }
    next := e.now().Add(e.Backoff(attempt))
    if err := e.Store.MarkRetrying(ctx, d.ID, attempt, lastErr, code, next); err != nil {
        e.Log.Error("mark retrying failed", "delivery", d.ID, "err", err)
    }
    metrics.Deliveries.WithLabelValues(d.EventType, model.DeliveryRetrying).Inc()
    e.Log.Info("delivery attempt failed", "delivery", d.ID, "event", d.EventType, "attempt", attempt, "next_retry_at", next, "err", lastErr)
    return false
}
