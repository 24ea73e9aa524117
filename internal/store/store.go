package store

import (
    "context"
    "crypto/rand"
    "encoding/hex"
    "errors"
    "time"

    "hookrelay/internal/model"
)

// Store is the persistence interface for the webhook registry and the
// delivery ledger. The ledger is append-mostly: deliveries are created once,
// mutated only through the Mark*/Claim methods, and never deleted.
type Store interface {
    // Webhook registry
    CreateWebhook(ctx context.Context, req model.WebhookRequest) (model.Webhook, error)
    GetWebhook(ctx context.Context, id string) (model.Webhook, error)
    ListWebhooks(ctx context.Context, cursor string, limit int) ([]model.Webhook, string, error)
    SetWebhookActive(ctx context.Context, id string, active bool) error
    DeleteWebhook(ctx context.Context, id string) error
    ListActiveSubscribers(ctx context.Context, eventType string) ([]model.Subscriber, error)
    // GetSubscriber returns delivery coordinates for a webhook regardless of
    // its active flag; in-flight attempts for a revoked webhook may complete.
    GetSubscriber(ctx context.Context, webhookID string) (model.Subscriber, error)
    IsActive(ctx context.Context, id string) (bool, error)

    // Delivery ledger
    CreateDelivery(ctx context.Context, webhookID, eventType string, payload []byte) (model.Delivery, error)
    GetDelivery(ctx context.Context, id string) (model.Delivery, error)
    MarkDelivered(ctx context.Context, id string, responseCode, latencyMs int) error
    MarkRetrying(ctx context.Context, id string, attempt int, lastError string, responseCode int, nextRetryAt time.Time) error
    MarkFailed(ctx context.Context, id string, attempt int, lastError string, responseCode int) error

    // FetchDueRetries returns retrying deliveries whose nextRetryAt has passed,
    // whose attempt count is below the cap, and whose webhook is still active.
    FetchDueRetries(ctx context.Context, now time.Time, maxAttempts, limit int) ([]model.Delivery, error)

    // ClaimDelivery is the conditional update backing sweep exclusivity: it
    // proceeds only if the row is still retrying at the expected attempt count,
    // pushing nextRetryAt to `until` so overlapping sweeps skip the row. A
    // false return with nil error means another sweep won the claim.
    ClaimDelivery(ctx context.Context, id string, expectAttempt int, until time.Time) (bool, error)

    ListDeliveries(ctx context.Context, webhookID, status, cursor string, limit int) ([]model.Delivery, string, error)
    ListDeadLetters(ctx context.Context, cursor string, limit int) ([]model.Delivery, string, error)
}

var ErrNotFound = errors.New("not found")

// newSecret returns a fresh signing secret for a webhook registration.
func newSecret() string {
    b := make([]byte, 24)
    _, _ = rand.Read(b)
    return "whsec_" + hex.EncodeToString(b)
}
