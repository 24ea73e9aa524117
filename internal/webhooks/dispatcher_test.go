package webhooks

import (
    "context"
    "net/http"
    "net/http/httptest"
    "sync/atomic"
    "testing"
    "time"

    "hookrelay/internal/model"
    "hookrelay/internal/store"
)

func waitFor(t *testing.T, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(3 * time.Second)
    for time.Now().Before(deadline) {
        if cond() { return }
        time.Sleep(10 * time.Millisecond)
    }
    t.Fatal("condition not met before deadline")
}

func newDispatcher(st *store.Memory, maxAttempts, queueSize int) *Dispatcher {
    exec := NewExecutor(st, testLogger(), maxAttempts)
    return NewDispatcher(st, exec, testLogger(), queueSize)
}

func TestDispatchFanOut(t *testing.T) {
    var hits int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt32(&hits, 1)
        w.WriteHeader(200)
    }))
    defer srv.Close()

    st := store.NewMemory()
    ctx := context.Background()
    w1, _ := st.CreateWebhook(ctx, model.WebhookRequest{URL: srv.URL, Events: []string{model.EventUserCreated}})
    w2, _ := st.CreateWebhook(ctx, model.WebhookRequest{URL: srv.URL, Events: []string{model.EventUserCreated, model.EventUserDeleted}})
    // subscribed to a different event; must not receive a delivery
    other, _ := st.CreateWebhook(ctx, model.WebhookRequest{URL: srv.URL, Events: []string{model.EventPublicationCreated}})
    // revoked; must not receive a delivery
    revoked, _ := st.CreateWebhook(ctx, model.WebhookRequest{URL: srv.URL, Events: []string{model.EventUserCreated}})
    _ = st.SetWebhookActive(ctx, revoked.ID, false)

    d := newDispatcher(st, 5, 16)
    d.Start(2)
    defer d.Stop()

    d.Dispatch(ctx, model.EventUserCreated, map[string]string{"userId": "u1", "email": "a@b.com"})

    waitFor(t, func() bool { return atomic.LoadInt32(&hits) == 2 })
    all, _, _ := st.ListDeliveries(ctx, "", "", "", 0)
    if len(all) != 2 {
        t.Fatalf("want exactly 2 deliveries, got %d", len(all))
    }
    for _, dv := range all {
        if dv.WebhookID == other.ID || dv.WebhookID == revoked.ID {
            t.Fatalf("unexpected delivery for webhook %s", dv.WebhookID)
        }
        if dv.WebhookID != w1.ID && dv.WebhookID != w2.ID {
            t.Fatalf("delivery for unknown webhook %s", dv.WebhookID)
        }
    }
    waitFor(t, func() bool {
        done, _, _ := st.ListDeliveries(ctx, "", model.DeliverySuccess, "", 0)
        return len(done) == 2
    })
}

func TestDispatchZeroSubscribers(t *testing.T) {
    st := store.NewMemory()
    d := newDispatcher(st, 5, 16)
    d.Start(1)
    defer d.Stop()

    // must return immediately and create nothing
    d.Dispatch(context.Background(), model.EventPublicationDeleted, map[string]string{"id": "p1"})

    all, _, _ := st.ListDeliveries(context.Background(), "", "", "", 0)
    if len(all) != 0 {
        t.Fatalf("want 0 deliveries, got %d", len(all))
    }
}

func TestDispatchQueueFullParksDelivery(t *testing.T) {
    st := store.NewMemory()
    ctx := context.Background()
    for i := 0; i < 3; i++ {
        _, _ = st.CreateWebhook(ctx, model.WebhookRequest{URL: "http://example.invalid/hook", Events: []string{model.EventUserCreated}})
    }

    // queue of 1 and no workers: the overflow must be parked for the sweep
    d := newDispatcher(st, 5, 1)
    d.Dispatch(ctx, model.EventUserCreated, map[string]string{"userId": "u1"})

    all, _, _ := st.ListDeliveries(ctx, "", "", "", 0)
    if len(all) != 3 {
        t.Fatalf("want 3 deliveries, got %d", len(all))
    }
    parked, _, _ := st.ListDeliveries(ctx, "", model.DeliveryRetrying, "", 0)
    if len(parked) != 2 {
        t.Fatalf("want 2 parked deliveries, got %d", len(parked))
    }
    for _, dv := range parked {
        if dv.LastError != "delivery queue full" || dv.Attempt != 0 {
            t.Fatalf("parked delivery should keep attempt=0 with queue-full error, got %+v", dv)
        }
        if dv.NextRetryAt == nil {
            t.Fatal("parked delivery must be due for the sweep")
        }
    }
}

func TestDispatchTest(t *testing.T) {
    var gotEvent string
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        gotEvent = r.Header.Get("X-Webhook-Delivery")
        w.WriteHeader(200)
    }))
    defer srv.Close()

    st := store.NewMemory()
    ctx := context.Background()
    wh, _ := st.CreateWebhook(ctx, model.WebhookRequest{URL: srv.URL, Events: []string{model.EventPublicationUpdated, model.EventUserCreated}})

    d := newDispatcher(st, 5, 16)
    d.Start(1)
    defer d.Stop()

    dv, err := d.DispatchTest(ctx, wh)
    if err != nil { t.Fatalf("DispatchTest: %v", err) }
    if dv.EventType != model.EventPublicationUpdated {
        t.Fatalf("test event must use first subscribed type, got %s", dv.EventType)
    }
    waitFor(t, func() bool {
        got, _ := st.GetDelivery(ctx, dv.ID)
        return got.Status == model.DeliverySuccess
    })
    if gotEvent != dv.ID {
        t.Fatalf("delivery header mismatch: %s vs %s", gotEvent, dv.ID)
    }
}

func TestDispatchAfterStopParksDeliveries(t *testing.T) {
    st := store.NewMemory()
    ctx := context.Background()
    wh, _ := st.CreateWebhook(ctx, model.WebhookRequest{URL: "http://example.invalid/hook", Events: []string{model.EventUserCreated}})

    d := newDispatcher(st, 5, 16)
    d.Start(1)
    d.Stop()

    // late operator action against a drained pool: parked, never a panic
    dv, err := d.DispatchTest(ctx, wh)
    if err != nil { t.Fatalf("DispatchTest: %v", err) }
    got, _ := st.GetDelivery(ctx, dv.ID)
    if got.Status != model.DeliveryRetrying || got.Attempt != 0 {
        t.Fatalf("want retrying/attempt=0, got %s/%d", got.Status, got.Attempt)
    }
    if got.NextRetryAt == nil || got.LastError == "" {
        t.Fatalf("parked delivery must be due for the sweep: %+v", got)
    }

    d.Dispatch(ctx, model.EventUserCreated, map[string]string{"userId": "u1"})
    parked, _, _ := st.ListDeliveries(ctx, "", model.DeliveryRetrying, "", 0)
    if len(parked) != 2 {
        t.Fatalf("fan-out after stop must park too, got %d parked", len(parked))
    }
}

func TestDispatchTestNoEvents(t *testing.T) {
    st := store.NewMemory()
    d := newDispatcher(st, 5, 16)
    if _, err := d.DispatchTest(context.Background(), model.Webhook{ID: "x"}); err == nil {
        t.Fatal("expected error for webhook without events")
    }
}
