package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "hookrelay/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// All mutation is guarded by a single mutex; claim exclusivity therefore
// holds trivially within a process.
type Memory struct {
    mu         sync.Mutex
    webhooks   map[string]*model.Webhook
    hookOrder  []string
    deliveries map[string]*model.Delivery
    delOrder   []string
}

func NewMemory() *Memory {
    return &Memory{
        webhooks:   map[string]*model.Webhook{},
        deliveries: map[string]*model.Delivery{},
    }
}

func (m *Memory) CreateWebhook(ctx context.Context, req model.WebhookRequest) (model.Webhook, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    wh := model.Webhook{
        ID:        uuid.New().String(),
        URL:       req.URL,
        Secret:    newSecret(),
        Events:    append([]string(nil), req.Events...),
        Active:    true,
        CreatedAt: time.Now().UTC(),
    }
    m.webhooks[wh.ID] = &wh
    m.hookOrder = append(m.hookOrder, wh.ID)
    return wh, nil
}

func (m *Memory) GetWebhook(ctx context.Context, id string) (model.Webhook, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    wh, ok := m.webhooks[id]
    if !ok { return model.Webhook{}, ErrNotFound }
    return *wh, nil
}

func (m *Memory) ListWebhooks(ctx context.Context, cursor string, limit int) ([]model.Webhook, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 100 }
    start := 0
    if cursor != "" {
        for i, id := range m.hookOrder {
            if id == cursor { start = i + 1; break }
        }
    }
    out := []model.Webhook{}
    var next string
    for i := start; i < len(m.hookOrder) && len(out) < limit; i++ {
        wh := *m.webhooks[m.hookOrder[i]]
        wh.Secret = "" // never re-exposed after creation
        out = append(out, wh)
        next = wh.ID
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) SetWebhookActive(ctx context.Context, id string, active bool) error {
    m.mu.Lock(); defer m.mu.Unlock()
    wh, ok := m.webhooks[id]
    if !ok { return ErrNotFound }
    wh.Active = active
    return nil
}

func (m *Memory) DeleteWebhook(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.webhooks[id]; !ok { return ErrNotFound }
    delete(m.webhooks, id)
    out := make([]string, 0, len(m.hookOrder))
    for _, hid := range m.hookOrder { if hid != id { out = append(out, hid) } }
    m.hookOrder = out
    return nil
}

func (m *Memory) ListActiveSubscribers(ctx context.Context, eventType string) ([]model.Subscriber, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscriber
    for _, id := range m.hookOrder {
        wh := m.webhooks[id]
        if wh == nil || !wh.Active { continue }
        for _, e := range wh.Events {
            if e == eventType {
                out = append(out, model.Subscriber{ID: wh.ID, URL: wh.URL, Secret: wh.Secret})
                break
            }
        }
    }
    return out, nil
}

func (m *Memory) GetSubscriber(ctx context.Context, webhookID string) (model.Subscriber, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    wh, ok := m.webhooks[webhookID]
    if !ok { return model.Subscriber{}, ErrNotFound }
    return model.Subscriber{ID: wh.ID, URL: wh.URL, Secret: wh.Secret}, nil
}

func (m *Memory) IsActive(ctx context.Context, id string) (bool, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    wh, ok := m.webhooks[id]
    if !ok { return false, ErrNotFound }
    return wh.Active, nil
}

func (m *Memory) CreateDelivery(ctx context.Context, webhookID, eventType string, payload []byte) (model.Delivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    d := model.Delivery{
        ID:        uuid.New().String(),
        WebhookID: webhookID,
        EventType: eventType,
        Payload:   append([]byte(nil), payload...),
        Status:    model.DeliveryPending,
        CreatedAt: time.Now().UTC(),
    }
    m.deliveries[d.ID] = &d
    m.delOrder = append(m.delOrder, d.ID)
    return d, nil
}

func (m *Memory) GetDelivery(ctx context.Context, id string) (model.Delivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return model.Delivery{}, ErrNotFound }
    return *d, nil
}

func (m *Memory) MarkDelivered(ctx context.Context, id string, responseCode, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    if d.Terminal() { return nil }
    now := time.Now().UTC()
    d.Status = model.DeliverySuccess
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    d.NextRetryAt = nil
    d.DeliveredAt = &now
    return nil
}

func (m *Memory) MarkRetrying(ctx context.Context, id string, attempt int, lastError string, responseCode int, nextRetryAt time.Time) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    if d.Terminal() { return nil }
    d.Status = model.DeliveryRetrying
    d.Attempt = attempt
    d.LastError = lastError
    d.ResponseCode = responseCode
    t := nextRetryAt
    d.NextRetryAt = &t
    return nil
}

func (m *Memory) MarkFailed(ctx context.Context, id string, attempt int, lastError string, responseCode int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    if d.Terminal() { return nil }
    d.Status = model.DeliveryFailed
    d.Attempt = attempt
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.NextRetryAt = nil
    return nil
}

func (m *Memory) FetchDueRetries(ctx context.Context, now time.Time, maxAttempts, limit int) ([]model.Delivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Delivery{}
    for _, id := range m.delOrder {
        d := m.deliveries[id]
        if d == nil || d.Status != model.DeliveryRetrying { continue }
        if d.Attempt >= maxAttempts { continue }
        if d.NextRetryAt == nil || d.NextRetryAt.After(now) { continue }
        wh := m.webhooks[d.WebhookID]
        if wh == nil || !wh.Active { continue }
        out = append(out, *d)
    }
    // earliest-due first, limit applied after the sort
    sort.SliceStable(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
    if limit > 0 && len(out) > limit { out = out[:limit] }
    return out, nil
}

func (m *Memory) ClaimDelivery(ctx context.Context, id string, expectAttempt int, until time.Time) (bool, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return false, nil }
    if d.Status != model.DeliveryRetrying || d.Attempt != expectAttempt { return false, nil }
    if d.NextRetryAt != nil && d.NextRetryAt.After(time.Now()) { return false, nil }
    t := until
    d.NextRetryAt = &t
    return true, nil
}

func (m *Memory) ListDeliveries(ctx context.Context, webhookID, status, cursor string, limit int) ([]model.Delivery, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 100 }
    start := 0
    if cursor != "" {
        for i, id := range m.delOrder {
            if id == cursor { start = i + 1; break }
        }
    }
    out := []model.Delivery{}
    var next string
    for i := start; i < len(m.delOrder) && len(out) < limit; i++ {
        d := m.deliveries[m.delOrder[i]]
        if d == nil { continue }
        if webhookID != "" && d.WebhookID != webhookID { continue }
        if status != "" && d.Status != status { continue }
        out = append(out, *d)
        next = d.ID
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) ListDeadLetters(ctx context.Context, cursor string, limit int) ([]model.Delivery, string, error) {
    return m.ListDeliveries(ctx, "", model.DeliveryFailed, cursor, limit)
}
