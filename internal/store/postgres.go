package store

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "crypto/sha256"
    "encoding/hex"
    "encoding/json"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "waveopt/internal/model"
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

// Ping reports database connectivity; used by the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies the *.sql files in dir in lexical order. Each file runs
// in its own transaction; a failure aborts the remaining files.
func (p *Postgres) MigrateDir(ctx context.Context, dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    var files []string
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { files = append(files, e.Name()) }
    }
    sort.Strings(files)
    for _, f := range files {
        sqlBytes, err := os.ReadFile(filepath.Join(dir, f))
        if err != nil { return err }
        tx, err := p.db.BeginTx(ctx, nil)
        if err != nil { return err }
        if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
            _ = tx.Rollback()
            return fmt.Errorf("migration %s: %w", f, err)
        }
        if err := tx.Commit(); err != nil { return err }
    }
    return nil
}

// CreateOrders inserts pending orders. Dedup by (tenant_id, external_ref).
func (p *Postgres) CreateOrders(ctx context.Context, tenantID string, orders []model.OrderIn) (string, int, int, error) {
    importID := fmt.Sprintf("imp_%d", time.Now().UnixNano())
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return "", 0, 0, err }
    defer func(){ _ = tx.Rollback() }()

    created := 0
    skipped := 0
    for _, o := range orders {
        oid := uuid.New()
        if o.ExternalRef != "" {
            var existsID string
            err = tx.QueryRowContext(ctx, `SELECT id::text FROM orders WHERE tenant_id=$1 AND external_ref=$2`, tenantID, o.ExternalRef).Scan(&existsID)
            if err == nil {
                skipped++
                continue
            }
            if err != nil && !errors.Is(err, sql.ErrNoRows) {
                return "", 0, 0, err
            }
        }
        _, err = tx.ExecContext(ctx, `INSERT INTO orders (id, tenant_id, external_ref, priority, deadline, items, weight_kg, pick_estimate_min, pack_estimate_min, status, attrs)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
            oid, tenantID, nullIfEmpty(o.ExternalRef), o.Priority, o.Deadline, o.Items, o.WeightKg, o.PickEstimateMin, o.PackEstimateMin, "pending", toJSON(o.Attributes))
        if err != nil { return "", 0, 0, err }
        created++
    }
    if err := tx.Commit(); err != nil { return "", 0, 0, err }
    return importID, created, skipped, nil
}

func (p *Postgres) ListOrders(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.OrderOut, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    const cols = `id::text, COALESCE(external_ref,''), priority, deadline, items, weight_kg, pick_estimate_min, pack_estimate_min, status`
    var rows *sql.Rows
    var err error
    if status != "" {
        if cursor != "" {
            rows, err = p.db.QueryContext(ctx, `SELECT `+cols+` FROM orders WHERE tenant_id=$1 AND status=$2 AND id::text > $3 ORDER BY id LIMIT $4`, tenantID, status, cursor, limit)
        } else {
            rows, err = p.db.QueryContext(ctx, `SELECT `+cols+` FROM orders WHERE tenant_id=$1 AND status=$2 ORDER BY id LIMIT $3`, tenantID, status, limit)
        }
    } else {
        if cursor != "" {
            rows, err = p.db.QueryContext(ctx, `SELECT `+cols+` FROM orders WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
        } else {
            rows, err = p.db.QueryContext(ctx, `SELECT `+cols+` FROM orders WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
        }
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.OrderOut{}
    var last string
    for rows.Next() {
        o, err := scanOrder(rows, tenantID)
        if err != nil { return nil, "", err }
        out = append(out, o)
        last = o.ID
    }
    var next string
    if len(out) == limit { next = last }
    return out, next, nil
}

func scanOrder(rows *sql.Rows, tenantID string) (model.OrderOut, error) {
    var o model.OrderOut
    var deadline time.Time
    if err := rows.Scan(&o.ID, &o.ExternalRef, &o.Priority, &deadline, &o.Items, &o.WeightKg, &o.PickEstimateMin, &o.PackEstimateMin, &o.Status); err != nil {
        return o, err
    }
    o.TenantID = tenantID
    o.Deadline = deadline.UTC().Format(time.RFC3339)
    return o, nil
}

func (p *Postgres) CreateWorkers(ctx context.Context, tenantID string, workers []model.WorkerIn) (int, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return 0, err }
    defer func(){ _ = tx.Rollback() }()
    for _, w := range workers {
        _, err := tx.ExecContext(ctx, `INSERT INTO workers (id, tenant_id, name, capabilities, hourly_cost, status) VALUES ($1,$2,$3,$4,$5,'active')`,
            uuid.New(), tenantID, w.Name, toJSON(w.Capabilities), w.HourlyCost)
        if err != nil { return 0, err }
    }
    if err := tx.Commit(); err != nil { return 0, err }
    return len(workers), nil
}

func (p *Postgres) ListWorkers(ctx context.Context, tenantID, cursor string, limit int) ([]model.WorkerOut, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, name, capabilities, hourly_cost, status FROM workers WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, name, capabilities, hourly_cost, status FROM workers WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.WorkerOut{}
    var last string
    for rows.Next() {
        var w model.WorkerOut
        var caps []byte
        if err := rows.Scan(&w.ID, &w.Name, &caps, &w.HourlyCost, &w.Status); err != nil { return nil, "", err }
        w.TenantID = tenantID
        _ = json.Unmarshal(caps, &w.Capabilities)
        out = append(out, w)
        last = w.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) CreateEquipment(ctx context.Context, tenantID string, units []model.EquipmentIn) (int, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return 0, err }
    defer func(){ _ = tx.Rollback() }()
    for _, e := range units {
        _, err := tx.ExecContext(ctx, `INSERT INTO equipment (id, tenant_id, name, serves, hourly_cost, status) VALUES ($1,$2,$3,$4,$5,'active')`,
            uuid.New(), tenantID, e.Name, e.Serves, e.HourlyCost)
        if err != nil { return 0, err }
    }
    if err := tx.Commit(); err != nil { return 0, err }
    return len(units), nil
}

func (p *Postgres) ListEquipment(ctx context.Context, tenantID, cursor string, limit int) ([]model.EquipmentOut, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, name, serves, hourly_cost, status FROM equipment WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, name, serves, hourly_cost, status FROM equipment WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.EquipmentOut{}
    var last string
    for rows.Next() {
        var e model.EquipmentOut
        if err := rows.Scan(&e.ID, &e.Name, &e.Serves, &e.HourlyCost, &e.Status); err != nil { return nil, "", err }
        e.TenantID = tenantID
        out = append(out, e)
        last = e.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

// PlanWave snapshots the tenant's pending orders and active resources, runs
// the solve, then persists the plan as one JSONB row with a per-wave version
// and marks the planned orders.
func (p *Postgres) PlanWave(ctx context.Context, req model.OptimizeRequest, onImprove func(model.ProgressEvent)) (model.PlanResult, error) {
    snap := poolSnapshot{}
    var err error
    snap.orders, err = p.pendingOrders(ctx, req.TenantID)
    if err != nil { return model.PlanResult{}, err }
    snap.workers, _, err = p.ListWorkers(ctx, req.TenantID, "", 500)
    if err != nil { return model.PlanResult{}, err }
    snap.equipment, _, err = p.ListEquipment(ctx, req.TenantID, "", 500)
    if err != nil { return model.PlanResult{}, err }

    res, met, err := runSolve(ctx, req, snap, onImprove)
    if err != nil { return model.PlanResult{}, err }

    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.PlanResult{}, err }
    defer func(){ _ = tx.Rollback() }()

    var version int
    err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version),0)+1 FROM plans WHERE tenant_id=$1 AND wave_date=$2`, req.TenantID, req.WaveDate).Scan(&version)
    if err != nil { return model.PlanResult{}, err }
    id := uuid.New().String()
    res.Plan.ID = id
    res.Plan.Version = version
    _, err = tx.ExecContext(ctx, `INSERT INTO plans (id, tenant_id, wave_date, version, algorithm, status, makespan_min, plan) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
        id, req.TenantID, req.WaveDate, version, res.Plan.Algorithm, res.Plan.Status, res.Plan.MakespanMin, toJSON(res.Plan))
    if err != nil { return model.PlanResult{}, err }
    for _, op := range res.Plan.Orders {
        if _, err := tx.ExecContext(ctx, `UPDATE orders SET status='planned' WHERE tenant_id=$1 AND id=$2`, req.TenantID, op.OrderID); err != nil {
            return model.PlanResult{}, err
        }
    }
    if err := tx.Commit(); err != nil { return model.PlanResult{}, err }

    _ = p.SavePlanMetrics(ctx, req.TenantID, req.WaveDate, res.Plan.Algorithm, metricsDoc(met))
    if snaps := weightSnapshotsDoc(met); len(snaps) > 0 {
        _ = p.SavePlanMetricsWeights(ctx, req.TenantID, req.WaveDate, res.Plan.Algorithm, snaps)
    }
    return res, nil
}

func (p *Postgres) pendingOrders(ctx context.Context, tenantID string) ([]model.OrderOut, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(external_ref,''), priority, deadline, items, weight_kg, pick_estimate_min, pack_estimate_min, status
        FROM orders WHERE tenant_id=$1 AND status='pending' ORDER BY id`, tenantID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.OrderOut{}
    for rows.Next() {
        o, err := scanOrder(rows, tenantID)
        if err != nil { return nil, err }
        out = append(out, o)
    }
    return out, nil
}

func (p *Postgres) GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error) {
    var js []byte
    err := p.db.QueryRowContext(ctx, `SELECT plan FROM plans WHERE tenant_id=$1 AND id=$2`, tenantID, planID).Scan(&js)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Plan{}, ErrNotFound }
        return model.Plan{}, err
    }
    var plan model.Plan
    if err := json.Unmarshal(js, &plan); err != nil { return model.Plan{}, err }
    return plan, nil
}

func (p *Postgres) ListPlans(ctx context.Context, tenantID, waveDate, cursor string, limit int) ([]model.Plan, string, error) {
    if limit <= 0 || limit > 100 { limit = 20 }
    var rows *sql.Rows
    var err error
    if waveDate != "" {
        if cursor != "" {
            rows, err = p.db.QueryContext(ctx, `SELECT plan FROM plans WHERE tenant_id=$1 AND wave_date=$2 AND id::text > $3 ORDER BY id LIMIT $4`, tenantID, waveDate, cursor, limit)
        } else {
            rows, err = p.db.QueryContext(ctx, `SELECT plan FROM plans WHERE tenant_id=$1 AND wave_date=$2 ORDER BY id LIMIT $3`, tenantID, waveDate, limit)
        }
    } else {
        if cursor != "" {
            rows, err = p.db.QueryContext(ctx, `SELECT plan FROM plans WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
        } else {
            rows, err = p.db.QueryContext(ctx, `SELECT plan FROM plans WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
        }
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Plan{}
    var last string
    for rows.Next() {
        var js []byte
        if err := rows.Scan(&js); err != nil { return nil, "", err }
        var plan model.Plan
        if err := json.Unmarshal(js, &plan); err != nil { return nil, "", err }
        out = append(out, plan)
        last = plan.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.TenantID, req.URL, ev, req.Secret)
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND events @> $2::jsonb`, tenantID, fmt.Sprintf("[\"%s\"]", eventType))
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var events any
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &events); err != nil { return nil, err }
        s.TenantID = tenantID
        if b, ok := events.([]byte); ok { _ = json.Unmarshal(b, &s.Events) }
        out = append(out, s)
    }
    return out, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    var out []model.Subscription
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        s.TenantID = tenantID
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    _, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
    return err
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        var payload []byte
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        d.Payload = payload
        out = append(out, d)
    }
    return out, nil
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    status := "delivered"
    if !success {
        status = "retry"
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status=$1, last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$5, latency_ms=$6 WHERE id=$4`, status, nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries WHERE tenant_id=$1`
    var rows *sql.Rows
    var err error
    if status != "" {
        q += ` AND status=$2 ORDER BY id LIMIT $3`
        rows, err = p.db.QueryContext(ctx, q, tenantID, status, limit)
    } else {
        q += ` ORDER BY id LIMIT $2`
        rows, err = p.db.QueryContext(ctx, q, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, typ, st, lastErr, url string
        var attempts int
        var nextAt sql.NullTime
        if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil { return nil, "", err }
        m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
        if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
        if lastErr != "" { m["lastError"] = lastErr }
        out = append(out, m)
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
    return err
}

// WaveStats aggregates over the latest plan version of each wave.
func (p *Postgres) WaveStats(ctx context.Context, tenantID, waveDate string) (map[string]any, error) {
    base := `WITH latest AS (
        SELECT DISTINCT ON (wave_date) plan, makespan_min FROM plans
        WHERE tenant_id=$1`
    args := []any{tenantID}
    if waveDate != "" { base += ` AND wave_date=$2`; args = append(args, waveDate) }
    base += ` ORDER BY wave_date, version DESC)
        SELECT COUNT(*),
               COALESCE(SUM(jsonb_array_length(plan->'orders')),0),
               COALESCE(SUM(makespan_min),0),
               COALESCE(SUM((SELECT SUM((o->>'tardinessMin')::double precision) FROM jsonb_array_elements(plan->'orders') o)),0)
        FROM latest`
    var plans, orders int
    var makespan, tardiness float64
    if err := p.db.QueryRowContext(ctx, base, args...).Scan(&plans, &orders, &makespan, &tardiness); err != nil { return nil, err }
    return map[string]any{"plans": plans, "orders": orders, "makespanMin": makespan, "tardinessMin": tardiness}, nil
}

func (p *Postgres) SavePlanMetrics(ctx context.Context, tenantID, waveDate, algo string, metrics map[string]any) error {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO plan_metrics (id, tenant_id, wave_date, algo, iterations, improvements, accepted_worse, best_cost, final_cost, removal_selects, insert_selects, timed_out)
        VALUES ($1,$2,$3,$4,COALESCE($5,0),COALESCE($6,0),COALESCE($7,0),$8,$9,$10,$11,COALESCE($12,false))
        ON CONFLICT (tenant_id, wave_date, algo) DO UPDATE SET
          iterations=COALESCE($5,0), improvements=COALESCE($6,0), accepted_worse=COALESCE($7,0), best_cost=$8, final_cost=$9, removal_selects=$10, insert_selects=$11, timed_out=COALESCE($12,false), created_at=now()`,
        id, tenantID, waveDate, algo,
        metrics["iterations"], metrics["improvements"], metrics["acceptedWorse"], metrics["bestCost"], metrics["finalCost"], toJSON(metrics["removalSelects"]), toJSON(metrics["insertSelects"]), metrics["timedOut"],
    )
    return err
}

func (p *Postgres) ListPlanMetrics(ctx context.Context, tenantID, waveDate, algo string) ([]map[string]any, error) {
    base := `SELECT algo, iterations, improvements, accepted_worse, best_cost, final_cost, removal_selects, insert_selects, timed_out FROM plan_metrics WHERE tenant_id=$1 AND wave_date=$2`
    args := []any{tenantID, waveDate}
    if algo != "" { base += ` AND algo=$3`; args = append(args, algo) }
    rows, err := p.db.QueryContext(ctx, base, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []map[string]any{}
    for rows.Next() {
        var algo string
        var iter, imp, aw int
        var best, final sql.NullFloat64
        var rem, ins any
        var timedOut bool
        if err := rows.Scan(&algo, &iter, &imp, &aw, &best, &final, &rem, &ins, &timedOut); err != nil { return nil, err }
        out = append(out, map[string]any{
            "algo": algo,
            "iterations": iter,
            "improvements": imp,
            "acceptedWorse": aw,
            "bestCost": best.Float64,
            "finalCost": final.Float64,
            "removalSelects": rem,
            "insertSelects": ins,
            "timedOut": timedOut,
        })
    }
    return out, nil
}

func (p *Postgres) SavePlanMetricsWeights(ctx context.Context, tenantID, waveDate, algo string, snaps []map[string]any) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `DELETE FROM plan_metrics_weights WHERE tenant_id=$1 AND wave_date=$2 AND algo=$3`, tenantID, waveDate, algo); err != nil { return err }
    for _, s0 := range snaps {
        id := uuid.New().String()
        _, err := tx.ExecContext(ctx, `INSERT INTO plan_metrics_weights (id, tenant_id, wave_date, algo, iteration, removal_weights, insertion_weights)
            VALUES ($1,$2,$3,$4,$5,$6,$7)`, id, tenantID, waveDate, algo, s0["iteration"], toJSON(s0["removal"]), toJSON(s0["insertion"]))
        if err != nil { return err }
    }
    return tx.Commit()
}

func (p *Postgres) ListPlanMetricsWeights(ctx context.Context, tenantID, waveDate, algo string) ([]map[string]any, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT iteration, removal_weights, insertion_weights FROM plan_metrics_weights WHERE tenant_id=$1 AND wave_date=$2 AND algo=$3 ORDER BY iteration`, tenantID, waveDate, algo)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []map[string]any{}
    for rows.Next() {
        var iter int
        var rem, ins any
        if err := rows.Scan(&iter, &rem, &ins); err != nil { return nil, err }
        out = append(out, map[string]any{"iteration": iter, "removal": rem, "insertion": ins})
    }
    return out, nil
}

func (p *Postgres) GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
    row := p.db.QueryRowContext(ctx, `SELECT config FROM optimizer_config WHERE tenant_id=$1`, tenantID)
    var js []byte
    if err := row.Scan(&js); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return nil, nil }
        return nil, err
    }
    var cfg map[string]any
    if err := json.Unmarshal(js, &cfg); err != nil { return nil, err }
    return cfg, nil
}

func (p *Postgres) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO optimizer_config (tenant_id, config, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (tenant_id) DO UPDATE SET config=$2, updated_at=now()`, tenantID, toJSON(cfg))
    return err
}

func computeDedupKey(payload []byte) string {
    // try to parse JSON and use id
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

// Helpers
func nullIfEmpty(s string) any { if s == "" { return nil }; return s }

func toJSON(v any) any {
    if v == nil { return nil }
    b, err := json.Marshal(v)
    if err != nil { return nil }
    return b
}
