package store

import (
    "context"
    "strings"
    "testing"
    "time"

    "hookrelay/internal/model"
)

func mustWebhook(t *testing.T, m *Memory, events ...string) model.Webhook {
    t.Helper()
    if len(events) == 0 { events = []string{model.EventUserCreated} }
    wh, err := m.CreateWebhook(context.Background(), model.WebhookRequest{URL: "https://consumer.example/hook", Events: events})
    if err != nil { t.Fatalf("CreateWebhook: %v", err) }
    return wh
}

func TestCreateWebhookSecret(t *testing.T) {
    m := NewMemory()
    wh := mustWebhook(t, m)
    if !strings.HasPrefix(wh.Secret, "whsec_") || len(wh.Secret) != len("whsec_")+48 {
        t.Fatalf("unexpected secret shape: %q", wh.Secret)
    }
    if !wh.Active {
        t.Fatal("new webhook must start active")
    }
    other := mustWebhook(t, m)
    if other.Secret == wh.Secret {
        t.Fatal("secrets must be unique per registration")
    }
}

func TestListWebhooksHidesSecret(t *testing.T) {
    m := NewMemory()
    mustWebhook(t, m)
    mustWebhook(t, m)
    out, _, err := m.ListWebhooks(context.Background(), "", 0)
    if err != nil { t.Fatalf("ListWebhooks: %v", err) }
    if len(out) != 2 {
        t.Fatalf("want 2 webhooks, got %d", len(out))
    }
    for _, wh := range out {
        if wh.Secret != "" {
            t.Fatalf("secret leaked in listing for %s", wh.ID)
        }
    }
}

func TestListActiveSubscribersFiltering(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    match := mustWebhook(t, m, model.EventUserCreated, model.EventUserDeleted)
    mustWebhook(t, m, model.EventPublicationCreated)
    revoked := mustWebhook(t, m, model.EventUserCreated)
    _ = m.SetWebhookActive(ctx, revoked.ID, false)

    subs, err := m.ListActiveSubscribers(ctx, model.EventUserCreated)
    if err != nil { t.Fatalf("ListActiveSubscribers: %v", err) }
    if len(subs) != 1 || subs[0].ID != match.ID {
        t.Fatalf("want only %s, got %+v", match.ID, subs)
    }
    if subs[0].Secret == "" || subs[0].URL == "" {
        t.Fatal("subscriber must carry delivery coordinates")
    }
}

func TestGetSubscriberIgnoresActiveFlag(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    wh := mustWebhook(t, m)
    _ = m.SetWebhookActive(ctx, wh.ID, false)
    sub, err := m.GetSubscriber(ctx, wh.ID)
    if err != nil { t.Fatalf("GetSubscriber: %v", err) }
    if sub.URL != wh.URL || sub.Secret != wh.Secret {
        t.Fatalf("wrong coordinates: %+v", sub)
    }
    if _, err := m.GetSubscriber(ctx, "missing"); err != ErrNotFound {
        t.Fatalf("want ErrNotFound, got %v", err)
    }
}

func TestMarkGuardsTerminalStates(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    wh := mustWebhook(t, m)
    dv, _ := m.CreateDelivery(ctx, wh.ID, model.EventUserCreated, []byte(`{}`))

    if err := m.MarkDelivered(ctx, dv.ID, 200, 12); err != nil { t.Fatalf("MarkDelivered: %v", err) }
    // terminal rows must shrug off later transitions
    _ = m.MarkRetrying(ctx, dv.ID, 1, "late failure", 500, time.Now())
    _ = m.MarkFailed(ctx, dv.ID, 5, "late failure", 500)

    got, _ := m.GetDelivery(ctx, dv.ID)
    if got.Status != model.DeliverySuccess || got.Attempt != 0 || got.LastError != "" {
        t.Fatalf("terminal state mutated: %+v", got)
    }
    if got.DeliveredAt == nil || got.NextRetryAt != nil {
        t.Fatalf("success bookkeeping wrong: %+v", got)
    }
}

func TestFetchDueRetriesFiltering(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    now := time.Now()
    past := now.Add(-time.Minute)
    future := now.Add(time.Hour)

    wh := mustWebhook(t, m)
    due, _ := m.CreateDelivery(ctx, wh.ID, model.EventUserCreated, []byte(`{}`))
    _ = m.MarkRetrying(ctx, due.ID, 1, "boom", 500, past)

    notYet, _ := m.CreateDelivery(ctx, wh.ID, model.EventUserCreated, []byte(`{}`))
    _ = m.MarkRetrying(ctx, notYet.ID, 1, "boom", 500, future)

    capped, _ := m.CreateDelivery(ctx, wh.ID, model.EventUserCreated, []byte(`{}`))
    _ = m.MarkRetrying(ctx, capped.ID, 5, "boom", 500, past)

    pending, _ := m.CreateDelivery(ctx, wh.ID, model.EventUserCreated, []byte(`{}`))

    revokedHook := mustWebhook(t, m)
    revokedDel, _ := m.CreateDelivery(ctx, revokedHook.ID, model.EventUserCreated, []byte(`{}`))
    _ = m.MarkRetrying(ctx, revokedDel.ID, 1, "boom", 500, past)
    _ = m.SetWebhookActive(ctx, revokedHook.ID, false)

    out, err := m.FetchDueRetries(ctx, now, 5, 0)
    if err != nil { t.Fatalf("FetchDueRetries: %v", err) }
    if len(out) != 1 || out[0].ID != due.ID {
        t.Fatalf("want only %s due, got %+v", due.ID, out)
    }
    _ = pending
}

func TestFetchDueRetriesEarliestFirstUnderLimit(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    now := time.Now()
    wh := mustWebhook(t, m)

    // insertion order deliberately disagrees with due order
    d1, _ := m.CreateDelivery(ctx, wh.ID, model.EventUserCreated, []byte(`{}`))
    _ = m.MarkRetrying(ctx, d1.ID, 1, "boom", 500, now.Add(-time.Minute))
    d2, _ := m.CreateDelivery(ctx, wh.ID, model.EventUserCreated, []byte(`{}`))
    _ = m.MarkRetrying(ctx, d2.ID, 1, "boom", 500, now.Add(-3*time.Minute))
    d3, _ := m.CreateDelivery(ctx, wh.ID, model.EventUserCreated, []byte(`{}`))
    _ = m.MarkRetrying(ctx, d3.ID, 1, "boom", 500, now.Add(-2*time.Minute))

    out, err := m.FetchDueRetries(ctx, now, 5, 2)
    if err != nil { t.Fatalf("FetchDueRetries: %v", err) }
    if len(out) != 2 || out[0].ID != d2.ID || out[1].ID != d3.ID {
        t.Fatalf("want the two earliest due (%s, %s), got %+v", d2.ID, d3.ID, out)
    }
}

func TestClaimDeliveryConditions(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    wh := mustWebhook(t, m)
    dv, _ := m.CreateDelivery(ctx, wh.ID, model.EventUserCreated, []byte(`{}`))
    _ = m.MarkRetrying(ctx, dv.ID, 2, "boom", 500, time.Now().Add(-time.Second))

    until := time.Now().Add(2 * time.Minute)

    if ok, _ := m.ClaimDelivery(ctx, dv.ID, 1, until); ok {
        t.Fatal("claim with stale attempt count must fail")
    }
    ok, err := m.ClaimDelivery(ctx, dv.ID, 2, until)
    if err != nil || !ok {
        t.Fatalf("claim should succeed: ok=%v err=%v", ok, err)
    }
    // the claim pushed nextRetryAt forward, so a second claimant loses
    if ok, _ := m.ClaimDelivery(ctx, dv.ID, 2, until); ok {
        t.Fatal("second claim inside the claim window must fail")
    }
    got, _ := m.GetDelivery(ctx, dv.ID)
    if got.NextRetryAt == nil || !got.NextRetryAt.Equal(until) {
        t.Fatalf("claim must set nextRetryAt to the window end, got %v", got.NextRetryAt)
    }

    // terminal rows are unclaimable
    _ = m.MarkFailed(ctx, dv.ID, 5, "boom", 500)
    got, _ = m.GetDelivery(ctx, dv.ID)
    if ok, _ := m.ClaimDelivery(ctx, dv.ID, got.Attempt, until); ok {
        t.Fatal("claim on terminal delivery must fail")
    }
}

func TestListDeliveriesFilters(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    w1 := mustWebhook(t, m)
    w2 := mustWebhook(t, m)
    d1, _ := m.CreateDelivery(ctx, w1.ID, model.EventUserCreated, []byte(`{}`))
    d2, _ := m.CreateDelivery(ctx, w2.ID, model.EventUserCreated, []byte(`{}`))
    _ = m.MarkFailed(ctx, d2.ID, 5, "boom", 500)

    byHook, _, _ := m.ListDeliveries(ctx, w1.ID, "", "", 0)
    if len(byHook) != 1 || byHook[0].ID != d1.ID {
        t.Fatalf("webhook filter: %+v", byHook)
    }
    failed, _, _ := m.ListDeliveries(ctx, "", model.DeliveryFailed, "", 0)
    if len(failed) != 1 || failed[0].ID != d2.ID {
        t.Fatalf("status filter: %+v", failed)
    }
    dead, _, _ := m.ListDeadLetters(ctx, "", 0)
    if len(dead) != 1 || dead[0].ID != d2.ID {
        t.Fatalf("dead letters: %+v", dead)
    }
}

func TestListDeliveriesPagination(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    wh := mustWebhook(t, m)
    var ids []string
    for i := 0; i < 5; i++ {
        d, _ := m.CreateDelivery(ctx, wh.ID, model.EventUserCreated, []byte(`{}`))
        ids = append(ids, d.ID)
    }
    page1, cursor, _ := m.ListDeliveries(ctx, "", "", "", 2)
    if len(page1) != 2 || cursor != ids[1] {
        t.Fatalf("page1: got %d items cursor=%q", len(page1), cursor)
    }
    page2, cursor, _ := m.ListDeliveries(ctx, "", "", cursor, 2)
    if len(page2) != 2 || page2[0].ID != ids[2] {
        t.Fatalf("page2: %+v", page2)
    }
    page3, cursor, _ := m.ListDeliveries(ctx, "", "", cursor, 2)
    if len(page3) != 1 || cursor != "" {
        t.Fatalf("final page should drain and clear cursor: %d %q", len(page3), cursor)
    }
}

func TestDeleteWebhook(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    wh := mustWebhook(t, m)
    if err := m.DeleteWebhook(ctx, wh.ID); err != nil { t.Fatalf("DeleteWebhook: %v", err) }
    if _, err := m.GetWebhook(ctx, wh.ID); err != ErrNotFound {
        t.Fatalf("want ErrNotFound, got %v", err)
    }
    if err := m.DeleteWebhook(ctx, wh.ID); err != ErrNotFound {
        t.Fatalf("double delete: want ErrNotFound, got %v", err)
    }
}
