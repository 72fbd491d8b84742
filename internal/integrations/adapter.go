package integrations

import "waveopt/internal/model"

// OrderSourceAdapter defines the minimal interface for upstream order feeds
// (OMS exports, marketplace pulls, EDI drops).
type OrderSourceAdapter interface {
    Name() string
    Authenticate(cfg map[string]any) (AuthState, error)
    FetchOrders(since string, cursor string) (OrderBatch, error)
    AckOrders(refs []string) error
    MapStatus(ext ExternalStatus) InternalEvent
    Webhooks() WebhookInfo
}

type AuthState struct {
    Method string
    Token  string
}

type OrderBatch struct {
    Orders []model.OrderIn
    Cursor string
}

type ExternalStatus struct {
    Code string
}

type InternalEvent struct {
    Type    string
    Payload map[string]any
}

type WebhookInfo struct {
    Events []string
    Verify func(sig string, body []byte) bool
}
