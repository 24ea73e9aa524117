package webhooks

import (
    "context"
    "encoding/json"
    "errors"
    "log/slog"
    "sync"
    "time"

    "hookrelay/internal/model"
    "hookrelay/internal/store"
)

// task pairs a ledger row with the subscriber coordinates it targets.
type task struct {
    delivery model.Delivery
    sub      model.Subscriber
}

// Dispatcher fans an event out to every active subscriber and hands first
// attempts to a background worker pool. Dispatch never blocks the caller on
// network I/O and never returns an error into the producing code path.
type Dispatcher struct {
    Store store.Store
    Exec  *Executor
    Log   *slog.Logger

    mu     sync.Mutex
    closed bool
    queue  chan task
    wg     sync.WaitGroup
}

func NewDispatcher(s store.Store, exec *Executor, logger *slog.Logger, queueSize int) *Dispatcher {
    if queueSize <= 0 { queueSize = 256 }
    return &Dispatcher{Store: s, Exec: exec, Log: logger, queue: make(chan task, queueSize)}
}

// Start launches the delivery workers.
func (d *Dispatcher) Start(workers int) {
    if workers <= 0 { workers = 4 }
    for i := 0; i < workers; i++ {
        d.wg.Add(1)
        go d.worker()
    }
}

// Stop closes the queue and waits for in-flight attempts to finish. Later
// dispatches park their deliveries for the sweep instead of panicking.
func (d *Dispatcher) Stop() {
    d.mu.Lock()
    d.closed = true
    d.mu.Unlock()
    close(d.queue)
    d.wg.Wait()
}

func (d *Dispatcher) worker() {
    defer d.wg.Done()
    for t := range d.queue {
        ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
        d.Exec.Attempt(ctx, t.delivery, t.sub.URL, t.sub.Secret)
        cancel()
    }
}

// Dispatch creates one pending delivery per active subscriber of eventType
// and schedules the first attempt. Fire-and-forget: every failure here is
// logged and swallowed so the producing operation is never affected.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, data any) {
    payload, err := json.Marshal(data)
    if err != nil {
        d.Log.Error("dispatch: encode payload", "event", eventType, "err", err)
        return
    }
    subs, err := d.Store.ListActiveSubscribers(ctx, eventType)
    if err != nil {
        d.Log.Error("dispatch: list subscribers", "event", eventType, "err", err)
        return
    }
    for _, sub := range subs {
        dv, err := d.Store.CreateDelivery(ctx, sub.ID, eventType, payload)
        if err != nil {
            d.Log.Error("dispatch: create delivery", "event", eventType, "webhook", sub.ID, "err", err)
            continue
        }
        d.enqueue(ctx, dv, sub)
    }
}

// DispatchTest sends a synthetic event to one webhook using its first
// subscribed event type. Unlike Dispatch this is an operator action, so the
// error surfaces to the caller.
func (d *Dispatcher) DispatchTest(ctx context.Context, wh model.Webhook) (model.Delivery, error) {
    if len(wh.Events) == 0 {
        return model.Delivery{}, errors.New("webhook has no subscribed events")
    }
    eventType := wh.Events[0]
    payload, _ := json.Marshal(map[string]any{"test": true, "webhookId": wh.ID})
    dv, err := d.Store.CreateDelivery(ctx, wh.ID, eventType, payload)
    if err != nil {
        return model.Delivery{}, err
    }
    sub, err := d.Store.GetSubscriber(ctx, wh.ID)
    if err != nil {
        return model.Delivery{}, err
    }
    d.enqueue(ctx, dv, sub)
    return dv, nil
}

// enqueue submits the first attempt without ever blocking; when the pool is
// saturated or already stopped the delivery is parked as retrying so the
// sweep picks it up. The mutex orders the send against Stop's close.
func (d *Dispatcher) enqueue(ctx context.Context, dv model.Delivery, sub model.Subscriber) {
    d.mu.Lock()
    if d.closed {
        d.mu.Unlock()
        d.park(ctx, dv, "delivery queue closed")
        return
    }
    select {
    case d.queue <- task{delivery: dv, sub: sub}:
        d.mu.Unlock()
    default:
        d.mu.Unlock()
        d.park(ctx, dv, "delivery queue full")
    }
}

func (d *Dispatcher) park(ctx context.Context, dv model.Delivery, reason string) {
    if err := d.Store.MarkRetrying(ctx, dv.ID, dv.Attempt, reason, 0, time.Now()); err != nil {
        d.Log.Error("dispatch: park delivery", "delivery", dv.ID, "err", err)
    }
}
