package store

import (
    "context"
    "database/sql"
    "errors"
    "os"
    "path/filepath"
    "sort"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "hookrelay/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    names := []string{}
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    for _, n := range names {
        b, err := os.ReadFile(filepath.Join(dir, n))
        if err != nil { return err }
        if _, err := p.db.Exec(string(b)); err != nil { return err }
    }
    return nil
}

// Webhook registry

func (p *Postgres) CreateWebhook(ctx context.Context, req model.WebhookRequest) (model.Webhook, error) {
    wh := model.Webhook{
        ID:        uuid.New().String(),
        URL:       req.URL,
        Secret:    newSecret(),
        Events:    append([]string(nil), req.Events...),
        Active:    true,
        CreatedAt: time.Now().UTC(),
    }
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhooks (id, url, secret, events, active, created_at)
        VALUES ($1,$2,$3,string_to_array($4,','),$5,$6)`, wh.ID, wh.URL, wh.Secret, strings.Join(wh.Events, ","), wh.Active, wh.CreatedAt)
    if err != nil { return model.Webhook{}, err }
    return wh, nil
}

func (p *Postgres) GetWebhook(ctx context.Context, id string) (model.Webhook, error) {
    var wh model.Webhook
    var events string
    row := p.db.QueryRowContext(ctx, `SELECT id::text, url, array_to_string(events,','), active, created_at FROM webhooks WHERE id=$1`, id)
    if err := row.Scan(&wh.ID, &wh.URL, &events, &wh.Active, &wh.CreatedAt); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return wh, ErrNotFound }
        return wh, err
    }
    wh.Events = splitEvents(events)
    return wh, nil
}

func (p *Postgres) ListWebhooks(ctx context.Context, cursor string, limit int) ([]model.Webhook, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, array_to_string(events,','), active, created_at FROM webhooks WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, array_to_string(events,','), active, created_at FROM webhooks ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Webhook{}
    var last string
    for rows.Next() {
        var wh model.Webhook
        var events string
        if err := rows.Scan(&wh.ID, &wh.URL, &events, &wh.Active, &wh.CreatedAt); err != nil { return nil, "", err }
        wh.Events = splitEvents(events)
        out = append(out, wh)
        last = wh.ID
    }
    var next string
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) SetWebhookActive(ctx context.Context, id string, active bool) error {
    res, err := p.db.ExecContext(ctx, `UPDATE webhooks SET active=$2 WHERE id=$1`, id, active)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) DeleteWebhook(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) ListActiveSubscribers(ctx context.Context, eventType string) ([]model.Subscriber, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret FROM webhooks WHERE active AND $1 = ANY(events) ORDER BY created_at`, eventType)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscriber{}
    for rows.Next() {
        var s model.Subscriber
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret); err != nil { return nil, err }
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) GetSubscriber(ctx context.Context, webhookID string) (model.Subscriber, error) {
    var s model.Subscriber
    err := p.db.QueryRowContext(ctx, `SELECT id::text, url, secret FROM webhooks WHERE id=$1`, webhookID).Scan(&s.ID, &s.URL, &s.Secret)
    if errors.Is(err, sql.ErrNoRows) { return s, ErrNotFound }
    return s, err
}

func (p *Postgres) IsActive(ctx context.Context, id string) (bool, error) {
    var active bool
    err := p.db.QueryRowContext(ctx, `SELECT active FROM webhooks WHERE id=$1`, id).Scan(&active)
    if errors.Is(err, sql.ErrNoRows) { return false, ErrNotFound }
    if err != nil { return false, err }
    return active, nil
}

// Delivery ledger

func (p *Postgres) CreateDelivery(ctx context.Context, webhookID, eventType string, payload []byte) (model.Delivery, error) {
    d := model.Delivery{
        ID:        uuid.New().String(),
        WebhookID: webhookID,
        EventType: eventType,
        Payload:   payload,
        Status:    model.DeliveryPending,
        CreatedAt: time.Now().UTC(),
    }
    _, err := p.db.ExecContext(ctx, `INSERT INTO deliveries (id, webhook_id, event_type, payload, status, attempt, created_at)
        VALUES ($1,$2,$3,$4,$5,0,$6)`, d.ID, d.WebhookID, d.EventType, d.Payload, d.Status, d.CreatedAt)
    if err != nil { return model.Delivery{}, err }
    return d, nil
}

const deliveryCols = `id::text, webhook_id::text, event_type, payload, status, attempt,
    COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0), next_retry_at, created_at, delivered_at`

func scanDelivery(row interface{ Scan(...any) error }) (model.Delivery, error) {
    var d model.Delivery
    var nextRetryAt, deliveredAt sql.NullTime
    err := row.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.Payload, &d.Status, &d.Attempt,
        &d.LastError, &d.ResponseCode, &d.LatencyMs, &nextRetryAt, &d.CreatedAt, &deliveredAt)
    if err != nil { return d, err }
    if nextRetryAt.Valid { t := nextRetryAt.Time; d.NextRetryAt = &t }
    if deliveredAt.Valid { t := deliveredAt.Time; d.DeliveredAt = &t }
    return d, nil
}

func (p *Postgres) GetDelivery(ctx context.Context, id string) (model.Delivery, error) {
    row := p.db.QueryRowContext(ctx, `SELECT `+deliveryCols+` FROM deliveries WHERE id=$1`, id)
    d, err := scanDelivery(row)
    if errors.Is(err, sql.ErrNoRows) { return d, ErrNotFound }
    return d, err
}

func (p *Postgres) MarkDelivered(ctx context.Context, id string, responseCode, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE deliveries SET status='success', response_code=$2, latency_ms=$3,
        next_retry_at=NULL, delivered_at=now(), updated_at=now() WHERE id=$1 AND status NOT IN ('success','failed')`,
        id, responseCode, latencyMs)
    return err
}

func (p *Postgres) MarkRetrying(ctx context.Context, id string, attempt int, lastError string, responseCode int, nextRetryAt time.Time) error {
    _, err := p.db.ExecContext(ctx, `UPDATE deliveries SET status='retrying', attempt=$2, last_error=$3,
        response_code=$4, next_retry_at=$5, updated_at=now() WHERE id=$1 AND status NOT IN ('success','failed')`,
        id, attempt, nullIfEmpty(lastError), responseCode, nextRetryAt)
    return err
}

func (p *Postgres) MarkFailed(ctx context.Context, id string, attempt int, lastError string, responseCode int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE deliveries SET status='failed', attempt=$2, last_error=$3,
        response_code=$4, next_retry_at=NULL, updated_at=now() WHERE id=$1 AND status NOT IN ('success','failed')`,
        id, attempt, nullIfEmpty(lastError), responseCode)
    return err
}

func (p *Postgres) FetchDueRetries(ctx context.Context, now time.Time, maxAttempts, limit int) ([]model.Delivery, error) {
    if limit <= 0 { limit = 50 }
    rows, err := p.db.QueryContext(ctx, `SELECT d.id::text, d.webhook_id::text, d.event_type, d.payload, d.status, d.attempt,
        COALESCE(d.last_error,''), COALESCE(d.response_code,0), COALESCE(d.latency_ms,0), d.next_retry_at, d.created_at, d.delivered_at
        FROM deliveries d JOIN webhooks w ON w.id = d.webhook_id
        WHERE d.status='retrying' AND d.attempt < $2 AND d.next_retry_at <= $1 AND w.active
        ORDER BY d.next_retry_at ASC LIMIT $3`, now, maxAttempts, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Delivery{}
    for rows.Next() {
        d, err := scanDelivery(rows)
        if err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) ClaimDelivery(ctx context.Context, id string, expectAttempt int, until time.Time) (bool, error) {
    res, err := p.db.ExecContext(ctx, `UPDATE deliveries SET next_retry_at=$3, updated_at=now()
        WHERE id=$1 AND status='retrying' AND attempt=$2 AND next_retry_at <= now()`, id, expectAttempt, until)
    if err != nil { return false, err }
    n, err := res.RowsAffected()
    if err != nil { return false, err }
    return n == 1, nil
}

func (p *Postgres) ListDeliveries(ctx context.Context, webhookID, status, cursor string, limit int) ([]model.Delivery, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT ` + deliveryCols + ` FROM deliveries WHERE 1=1`
    args := []any{}
    if webhookID != "" { args = append(args, webhookID); q += ` AND webhook_id=$` + strconv.Itoa(len(args)) }
    if status != "" { args = append(args, status); q += ` AND status=$` + strconv.Itoa(len(args)) }
    if cursor != "" { args = append(args, cursor); q += ` AND id::text > $` + strconv.Itoa(len(args)) }
    args = append(args, limit)
    q += ` ORDER BY id LIMIT $` + strconv.Itoa(len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Delivery{}
    var last string
    for rows.Next() {
        d, err := scanDelivery(rows)
        if err != nil { return nil, "", err }
        out = append(out, d)
        last = d.ID
    }
    var next string
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) ListDeadLetters(ctx context.Context, cursor string, limit int) ([]model.Delivery, string, error) {
    return p.ListDeliveries(ctx, "", model.DeliveryFailed, cursor, limit)
}

// Helpers
func nullIfEmpty(s string) any { if s == "" { return nil }; return s }

func splitEvents(s string) []string {
    if s == "" { return []string{} }
    return strings.Split(s, ",")
}
