package model

import "time"

// Event types emitted by the platform. Subscribers register against these names;
// the delivery engine treats the set as open (unknown types simply have no subscribers).
const (
    EventUserCreated        = "USER_CREATED"
    EventUserDeleted        = "USER_DELETED"
    EventPublicationCreated = "PUBLICATION_CREATED"
    EventPublicationUpdated = "PUBLICATION_UPDATED"
    EventPublicationDeleted = "PUBLICATION_DELETED"
)

// Delivery statuses. Transitions are one-directional:
// pending -> {success, retrying}; retrying -> {success, retrying, failed}.
const (
    DeliveryPending  = "pending"
    DeliverySuccess  = "success"
    DeliveryRetrying = "retrying"
    DeliveryFailed   = "failed"
)

// Webhook is a registered subscriber: callback URL, signing secret, and the
// event types it wants. The secret is generated once at registration and is
// only ever returned in the create response.
type Webhook struct {
    ID        string    `json:"id"`
    URL       string    `json:"url"`
    Secret    string    `json:"secret,omitempty"`
    Events    []string  `json:"events"`
    Active    bool      `json:"active"`
    CreatedAt time.Time `json:"createdAt"`
}

type WebhookRequest struct {
    URL    string   `json:"url"`
    Events []string `json:"events"`
}

// Subscriber is the read-only registry view the dispatcher consumes.
type Subscriber struct {
    ID     string
    URL    string
    Secret string
}

// Delivery is one attempted-or-completed notification of a single event to a
// single webhook. Payload is captured at dispatch time and never recomputed.
// Attempt counts failed attempts; a delivery that succeeds first try keeps 0.
type Delivery struct {
    ID           string     `json:"id"`
    WebhookID    string     `json:"webhookId"`
    EventType    string     `json:"eventType"`
    Payload      []byte     `json:"-"`
    Status       string     `json:"status"`
    Attempt      int        `json:"attempt"`
    LastError    string     `json:"lastError,omitempty"`
    ResponseCode int        `json:"responseCode,omitempty"`
    LatencyMs    int        `json:"latencyMs,omitempty"`
    NextRetryAt  *time.Time `json:"nextRetryAt,omitempty"`
    CreatedAt    time.Time  `json:"createdAt"`
    DeliveredAt  *time.Time `json:"deliveredAt,omitempty"`
}

// Terminal reports whether no further attempts may touch the delivery.
func (d Delivery) Terminal() bool {
    return d.Status == DeliverySuccess || d.Status == DeliveryFailed
}
