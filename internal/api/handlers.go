package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "net/url"
    "strings"
    "time"

    "hookrelay/internal/buildinfo"
    "hookrelay/internal/model"
    "hookrelay/internal/store"
)

// WebhooksHandler serves POST (register) and GET (list) on /v1/webhooks.
func (s *Server) WebhooksHandler(w http.ResponseWriter, r *http.Request) {
    if !s.authorize(w, r) { return }
    switch r.Method {
    case http.MethodPost:
        var req model.WebhookRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, 400, "Invalid Body", err.Error(), r.URL.Path)
            return
        }
        if u, err := url.Parse(req.URL); err != nil || u.Scheme == "" || u.Host == "" {
            writeProblem(w, 400, "Invalid Webhook", "url must be absolute", r.URL.Path)
            return
        }
        if len(req.Events) == 0 {
            writeProblem(w, 400, "Invalid Webhook", "at least one event type required", r.URL.Path)
            return
        }
        wh, err := s.Store.CreateWebhook(r.Context(), req)
        if err != nil {
            writeProblem(w, 500, "Create webhook failed", err.Error(), r.URL.Path)
            return
        }
        // the only response that ever carries the secret
        writeJSON(w, 201, wh)
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := intQuery(r, "limit", 100)
        items, next, err := s.Store.ListWebhooks(r.Context(), cursor, limit)
        if err != nil {
            writeProblem(w, 500, "List webhooks failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(405)
    }
}

// WebhookByIDHandler serves /v1/webhooks/{id} and the /test and /deactivate
// sub-resources.
func (s *Server) WebhookByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !s.authorize(w, r) { return }
    rest := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/")
    id, action, _ := strings.Cut(rest, "/")
    if id == "" {
        writeProblem(w, 404, "Not Found", "", r.URL.Path)
        return
    }

    switch {
    case action == "test" && r.Method == http.MethodPost:
        s.testDispatch(w, r, id)
    case action == "deactivate" && r.Method == http.MethodPost:
        if err := s.Store.SetWebhookActive(r.Context(), id, false); err != nil {
            s.storeProblem(w, r, "Deactivate webhook failed", err)
            return
        }
        w.WriteHeader(204)
    case action == "" && r.Method == http.MethodGet:
        wh, err := s.Store.GetWebhook(r.Context(), id)
        if err != nil {
            s.storeProblem(w, r, "Get webhook failed", err)
            return
        }
        wh.Secret = ""
        writeJSON(w, 200, wh)
    case action == "" && r.Method == http.MethodDelete:
        if err := s.Store.DeleteWebhook(r.Context(), id); err != nil {
            s.storeProblem(w, r, "Delete webhook failed", err)
            return
        }
        w.WriteHeader(204)
    default:
        w.WriteHeader(405)
    }
}

// testDispatch sends one synthetic event to a single webhook using its first
// subscribed event type. No business side effects beyond the ledger row.
func (s *Server) testDispatch(w http.ResponseWriter, r *http.Request, id string) {
    if !s.throttle(w, r, "test:"+id) { return }
    wh, err := s.Store.GetWebhook(r.Context(), id)
    if err != nil {
        s.storeProblem(w, r, "Get webhook failed", err)
        return
    }
    dv, err := s.Dispatcher.DispatchTest(r.Context(), wh)
    if err != nil {
        writeProblem(w, 422, "Test dispatch failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, 202, map[string]string{"deliveryId": dv.ID, "eventType": dv.EventType})
}

// SweepHandler runs one retry sweep. POST is canonical; GET is accepted as an
// operational convenience for cron triggers.
func (s *Server) SweepHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost && r.Method != http.MethodGet {
        w.WriteHeader(405)
        return
    }
    if !s.authorize(w, r) { return }
    if !s.throttle(w, r, "sweep") { return }
    res := s.Sweeper.Sweep(r.Context())
    writeJSON(w, 200, res)
}

// DeliveriesHandler lists ledger entries, optionally filtered by webhook and
// status.
func (s *Server) DeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(405)
        return
    }
    if !s.authorize(w, r) { return }
    items, next, err := s.Store.ListDeliveries(r.Context(),
        r.URL.Query().Get("webhookId"), r.URL.Query().Get("status"),
        r.URL.Query().Get("cursor"), intQuery(r, "limit", 100))
    if err != nil {
        writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// DeadLettersHandler lists deliveries that exhausted all attempts.
func (s *Server) DeadLettersHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(405)
        return
    }
    if !s.authorize(w, r) { return }
    items, next, err := s.Store.ListDeadLetters(r.Context(), r.URL.Query().Get("cursor"), intQuery(r, "limit", 100))
    if err != nil {
        writeProblem(w, 500, "List dead letters failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    info := buildinfo.Info()
    info["status"] = "ok"
    writeJSON(w, 200, info)
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using the Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil {
            writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
            return
        }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}

func (s *Server) storeProblem(w http.ResponseWriter, r *http.Request, title string, err error) {
    if errors.Is(err, store.ErrNotFound) {
        writeProblem(w, 404, "Not Found", "", r.URL.Path)
        return
    }
    writeProblem(w, 500, title, err.Error(), r.URL.Path)
}

func intQuery(r *http.Request, key string, def int) int {
    v := r.URL.Query().Get(key)
    if v == "" { return def }
    var n int
    if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 { return def }
    return n
}
