package store

import (
    "context"
    "errors"
    "time"

    "waveopt/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
    // Orders
    CreateOrders(ctx context.Context, tenantID string, orders []model.OrderIn) (importID string, created, skipped int, err error)
    ListOrders(ctx context.Context, tenantID, status, cursor string, limit int) (items []model.OrderOut, nextCursor string, err error)

    // Resource pools
    CreateWorkers(ctx context.Context, tenantID string, workers []model.WorkerIn) (created int, err error)
    ListWorkers(ctx context.Context, tenantID, cursor string, limit int) ([]model.WorkerOut, string, error)
    CreateEquipment(ctx context.Context, tenantID string, units []model.EquipmentIn) (created int, err error)
    ListEquipment(ctx context.Context, tenantID, cursor string, limit int) ([]model.EquipmentOut, string, error)

    // Plans
    PlanWave(ctx context.Context, req model.OptimizeRequest, onImprove func(model.ProgressEvent)) (model.PlanResult, error)
    GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error)
    ListPlans(ctx context.Context, tenantID, waveDate, cursor string, limit int) ([]model.Plan, string, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, tenantID, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
    RetryWebhookDelivery(ctx context.Context, tenantID, id string) error

    // Metrics
    WaveStats(ctx context.Context, tenantID, waveDate string) (map[string]any, error)
    SavePlanMetrics(ctx context.Context, tenantID, waveDate, algo string, metrics map[string]any) error
    ListPlanMetrics(ctx context.Context, tenantID, waveDate, algo string) ([]map[string]any, error)
    SavePlanMetricsWeights(ctx context.Context, tenantID, waveDate, algo string, snaps []map[string]any) error
    ListPlanMetricsWeights(ctx context.Context, tenantID, waveDate, algo string) ([]map[string]any, error)

    // Optimizer config per tenant
    GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error)
    SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error
}

var ErrNotFound = errors.New("not found")

// WebhookDelivery is one queued event delivery attempt owned by the worker.
type WebhookDelivery struct {
    ID             string
    TenantID       string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}
