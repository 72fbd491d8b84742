package store

import (
    "context"
    "sync"
    "time"

    "github.com/google/uuid"
    "waveopt/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu      sync.Mutex
    orders  map[string]model.OrderOut       // id -> order
    byTen   map[string][]string             // tenant -> order ids
    workers map[string]model.WorkerOut      // id -> worker
    wkTen   map[string][]string             // tenant -> worker ids
    equip   map[string]model.EquipmentOut   // id -> equipment unit
    eqTen   map[string][]string             // tenant -> equipment ids
    plans   map[string]model.Plan           // id -> plan
    plTen   map[string][]string             // tenant -> plan ids
    planVer map[string]int                  // tenant|waveDate -> latest version
    subs    map[string][]model.Subscription // tenant -> subscriptions
    // Webhooks queue state
    deliveries         map[string]*memDelivery // id -> delivery state
    deliveriesByTenant map[string][]string     // tenant -> delivery ids
    planMx    map[string]map[string][]map[string]any // tenant -> waveDate -> items
    planMxWts map[string]map[string][]map[string]any // tenant -> waveDate -> weight snapshots per algo
    optCfg    map[string]map[string]any              // tenant -> config
}

func NewMemory() *Memory {
    return &Memory{
        orders: map[string]model.OrderOut{},
        byTen: map[string][]string{},
        workers: map[string]model.WorkerOut{},
        wkTen: map[string][]string{},
        equip: map[string]model.EquipmentOut{},
        eqTen: map[string][]string{},
        plans: map[string]model.Plan{},
        plTen: map[string][]string{},
        planVer: map[string]int{},
        subs: map[string][]model.Subscription{},
        deliveries: map[string]*memDelivery{},
        deliveriesByTenant: map[string][]string{},
        planMx: map[string]map[string][]map[string]any{},
        planMxWts: map[string]map[string][]map[string]any{},
        optCfg: map[string]map[string]any{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (m *Memory) CreateOrders(ctx context.Context, tenantID string, orders []model.OrderIn) (string, int, int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    seen := map[string]bool{}
    for _, id := range m.byTen[tenantID] {
        if ref := m.orders[id].ExternalRef; ref != "" { seen[ref] = true }
    }
    created, skipped := 0, 0
    for _, o := range orders {
        if o.ExternalRef != "" && seen[o.ExternalRef] { skipped++; continue }
        id := uuid.New().String()
        m.orders[id] = model.OrderOut{
            ID: id, TenantID: tenantID, ExternalRef: o.ExternalRef,
            Priority: o.Priority, Deadline: o.Deadline, Items: o.Items,
            WeightKg: o.WeightKg, PickEstimateMin: o.PickEstimateMin, PackEstimateMin: o.PackEstimateMin,
            Status: "pending",
        }
        m.byTen[tenantID] = append(m.byTen[tenantID], id)
        if o.ExternalRef != "" { seen[o.ExternalRef] = true }
        created++
    }
    return "imp_mem", created, skipped, nil
}

func (m *Memory) ListOrders(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.OrderOut, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.byTen[tenantID]
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.OrderOut{}
    var next string
    for i := start; i < len(ids) && len(out) < limit; i++ {
        o := m.orders[ids[i]]
        if status == "" || o.Status == status { out = append(out, o) }
        next = ids[i]
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) CreateWorkers(ctx context.Context, tenantID string, workers []model.WorkerIn) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    for _, w := range workers {
        id := uuid.New().String()
        m.workers[id] = model.WorkerOut{ID: id, TenantID: tenantID, Name: w.Name, Capabilities: w.Capabilities, HourlyCost: w.HourlyCost, Status: "active"}
        m.wkTen[tenantID] = append(m.wkTen[tenantID], id)
    }
    return len(workers), nil
}

func (m *Memory) ListWorkers(ctx context.Context, tenantID, cursor string, limit int) ([]model.WorkerOut, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.wkTen[tenantID]
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.WorkerOut{}
    var next string
    for i := start; i < len(ids) && len(out) < limit; i++ {
        out = append(out, m.workers[ids[i]])
        next = ids[i]
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) CreateEquipment(ctx context.Context, tenantID string, units []model.EquipmentIn) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    for _, e := range units {
        id := uuid.New().String()
        m.equip[id] = model.EquipmentOut{ID: id, TenantID: tenantID, Name: e.Name, Serves: e.Serves, HourlyCost: e.HourlyCost, Status: "active"}
        m.eqTen[tenantID] = append(m.eqTen[tenantID], id)
    }
    return len(units), nil
}

func (m *Memory) ListEquipment(ctx context.Context, tenantID, cursor string, limit int) ([]model.EquipmentOut, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.eqTen[tenantID]
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.EquipmentOut{}
    var next string
    for i := start; i < len(ids) && len(out) < limit; i++ {
        out = append(out, m.equip[ids[i]])
        next = ids[i]
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

// PlanWave snapshots the tenant's pending orders and resource pools, runs the
// solve outside the lock, then persists the resulting plan under a fresh id
// and per-wave version.
func (m *Memory) PlanWave(ctx context.Context, req model.OptimizeRequest, onImprove func(model.ProgressEvent)) (model.PlanResult, error) {
    m.mu.Lock()
    snap := poolSnapshot{}
    for _, id := range m.byTen[req.TenantID] {
        o := m.orders[id]
        if o.Status == "pending" { snap.orders = append(snap.orders, o) }
    }
    for _, id := range m.wkTen[req.TenantID] {
        w := m.workers[id]
        if w.Status == "active" { snap.workers = append(snap.workers, w) }
    }
    for _, id := range m.eqTen[req.TenantID] {
        e := m.equip[id]
        if e.Status == "active" { snap.equipment = append(snap.equipment, e) }
    }
    m.mu.Unlock()

    res, met, err := runSolve(ctx, req, snap, onImprove)
    if err != nil { return model.PlanResult{}, err }

    m.mu.Lock()
    defer m.mu.Unlock()
    id := uuid.New().String()
    vk := req.TenantID + "|" + req.WaveDate
    m.planVer[vk]++
    res.Plan.ID = id
    res.Plan.Version = m.planVer[vk]
    m.plans[id] = res.Plan
    m.plTen[req.TenantID] = append(m.plTen[req.TenantID], id)
    planned := map[string]bool{}
    for _, op := range res.Plan.Orders { planned[op.OrderID] = true }
    for oid, o := range m.orders {
        if o.TenantID == req.TenantID && planned[oid] { o.Status = "planned"; m.orders[oid] = o }
    }
    algo := res.Plan.Algorithm
    if m.planMx[req.TenantID] == nil { m.planMx[req.TenantID] = map[string][]map[string]any{} }
    items := m.planMx[req.TenantID][req.WaveDate]
    met2 := metricsDoc(met)
    met2["algo"] = algo
    replaced := false
    for i := range items {
        if items[i]["algo"] == algo { items[i] = met2; replaced = true; break }
    }
    if !replaced { items = append(items, met2) }
    m.planMx[req.TenantID][req.WaveDate] = items
    if snaps := weightSnapshotsDoc(met); len(snaps) > 0 {
        if m.planMxWts[req.TenantID] == nil { m.planMxWts[req.TenantID] = map[string][]map[string]any{} }
        for i := range snaps { snaps[i]["algo"] = algo }
        m.planMxWts[req.TenantID][req.WaveDate] = snaps
    }
    return res, nil
}

func (m *Memory) GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, ok := m.plans[planID]
    if !ok || p.TenantID != tenantID { return model.Plan{}, ErrNotFound }
    return p, nil
}

func (m *Memory) ListPlans(ctx context.Context, tenantID, waveDate, cursor string, limit int) ([]model.Plan, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.plTen[tenantID]
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.Plan{}
    var next string
    for i := start; i < len(ids) && len(out) < limit; i++ {
        p := m.plans[ids[i]]
        if waveDate == "" || p.WaveDate == waveDate { out = append(out, p) }
        next = ids[i]
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs[tenantID] {
        for _, e := range s.Events { if e == eventType { out = append(out, s); break } }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs[tenantID]
    start := 0
    if cursor != "" {
        for i := range list { if list[i].ID == cursor { start = i+1; break } }
    }
    if limit <= 0 { limit = 100 }
    end := start + limit
    if end > len(list) { end = len(list) }
    items := append([]model.Subscription(nil), list[start:end]...)
    next := ""
    if end < len(list) { next = list[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    arr := m.subs[tenantID]
    out := make([]model.Subscription, 0, len(arr))
    for _, s := range arr { if s.ID != id { out = append(out, s) } }
    m.subs[tenantID] = out
    return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending", Attempts: 0}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.iterDeliveryIDs() {
        d := m.deliveries[id]
        if d == nil { continue }
        if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = "retry"
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Status = "failed"
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []map[string]any{}
    ids := m.deliveriesByTenant[tenantID]
    for _, id := range ids {
        d := m.deliveries[id]
        if d == nil { continue }
        if status == "" || d.Status == status {
            item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
            if !d.NextAttemptAt.IsZero() { item["nextAttemptAt"] = d.NextAttemptAt }
            if d.LastError != "" { item["lastError"] = d.LastError }
            out = append(out, item)
        }
    }
    return out, "", nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d != nil && d.TenantID == tenantID {
        d.Status = "pending"
        d.NextAttemptAt = time.Now()
    }
    return nil
}

func (m *Memory) WaveStats(ctx context.Context, tenantID, waveDate string) (map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    plans, orders := 0, 0
    makespan, tardiness := 0.0, 0.0
    var latest map[string]*model.Plan // waveDate -> highest version
    latest = map[string]*model.Plan{}
    for _, id := range m.plTen[tenantID] {
        p := m.plans[id]
        if waveDate != "" && p.WaveDate != waveDate { continue }
        plans++
        if cur := latest[p.WaveDate]; cur == nil || p.Version > cur.Version {
            cp := p
            latest[p.WaveDate] = &cp
        }
    }
    for _, p := range latest {
        orders += len(p.Orders)
        makespan += p.MakespanMin
        for _, op := range p.Orders { tardiness += op.TardinessMin }
    }
    return map[string]any{"plans": plans, "orders": orders, "makespanMin": makespan, "tardinessMin": tardiness}, nil
}

func (m *Memory) SavePlanMetrics(ctx context.Context, tenantID, waveDate, algo string, metrics map[string]any) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.planMx[tenantID] == nil { m.planMx[tenantID] = map[string][]map[string]any{} }
    items := m.planMx[tenantID][waveDate]
    found := false
    for i := range items { if items[i]["algo"] == algo { items[i] = metrics; items[i]["algo"] = algo; found = true; break } }
    if !found { metrics["algo"] = algo; items = append(items, metrics) }
    m.planMx[tenantID][waveDate] = items
    return nil
}

func (m *Memory) ListPlanMetrics(ctx context.Context, tenantID, waveDate, algo string) ([]map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    items := m.planMx[tenantID][waveDate]
    if algo == "" { return append([]map[string]any(nil), items...), nil }
    out := []map[string]any{}
    for _, it := range items { if it["algo"] == algo { out = append(out, it) } }
    return out, nil
}

func (m *Memory) SavePlanMetricsWeights(ctx context.Context, tenantID, waveDate, algo string, snaps []map[string]any) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.planMxWts[tenantID] == nil { m.planMxWts[tenantID] = map[string][]map[string]any{} }
    for i := range snaps { snaps[i]["algo"] = algo }
    m.planMxWts[tenantID][waveDate] = snaps
    return nil
}

func (m *Memory) ListPlanMetricsWeights(ctx context.Context, tenantID, waveDate, algo string) ([]map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    snaps := m.planMxWts[tenantID][waveDate]
    if algo == "" { return append([]map[string]any(nil), snaps...), nil }
    out := []map[string]any{}
    for _, s := range snaps { if s["algo"] == algo { out = append(out, s) } }
    return out, nil
}

func (m *Memory) GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if cfg, ok := m.optCfg[tenantID]; ok { return cfg, nil }
    return nil, nil
}

func (m *Memory) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.optCfg[tenantID] = cfg
    return nil
}

// helper: iterate delivery IDs by tenant order
func (m *Memory) iterDeliveryIDs() []string {
    ids := []string{}
    for _, lst := range m.deliveriesByTenant {
        ids = append(ids, lst...)
    }
    return ids
}
