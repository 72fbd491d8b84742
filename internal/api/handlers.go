package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "os"
    "strings"
    "time"

    "waveopt/internal/metrics"
    "waveopt/internal/model"
    "waveopt/internal/opt"
    "waveopt/internal/webhooks"
)

// waveTopic is the broker topic for one tenant's wave.
func waveTopic(tenant, waveDate string) string { return tenant + "|" + waveDate }

// OrdersHandler handles POST/GET /v1/orders
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        var req struct {
            TenantID string          `json:"tenantId"`
            Orders   []model.OrderIn `json:"orders"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.TenantID == "" { _, req.TenantID = s.withTenant(r) }
        if err := validateOrders(req.Orders); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid orders", err.Error(), r.URL.Path)
            return
        }
        imp, created, skipped, err := s.Store.CreateOrders(r.Context(), req.TenantID, req.Orders)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create orders failed", err.Error(), r.URL.Path)
            return
        }
        if created > 0 {
            s.Pub.Emit(r.Context(), req.TenantID, webhooks.EventOrdersImported, map[string]any{
                "importId": imp, "created": created, "skipped": skipped,
            })
        }
        writeJSON(w, http.StatusAccepted, map[string]any{"importId": imp, "created": created, "skipped": skipped})
    case http.MethodGet:
        _, tenant := s.withTenant(r)
        status := r.URL.Query().Get("status")
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListOrders(r.Context(), tenant, status, cursor, limit)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List orders failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// WorkersHandler handles POST/GET /v1/workers
func (s *Server) WorkersHandler(w http.ResponseWriter, r *http.Request) {
    _, tenant := s.withTenant(r)
    switch r.Method {
    case http.MethodPost:
        pr := s.getPrincipal(r)
        if !pr.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
        var req struct {
            Workers []model.WorkerIn `json:"workers"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        for i, wk := range req.Workers {
            if wk.Name == "" { writeProblem(w, 400, "Invalid workers", fmt.Sprintf("worker %d: name is required", i), r.URL.Path); return }
            if len(wk.Capabilities) == 0 { writeProblem(w, 400, "Invalid workers", fmt.Sprintf("worker %d: capabilities are required", i), r.URL.Path); return }
            for _, c := range wk.Capabilities {
                if _, err := opt.ParseStage(c); err != nil {
                    writeProblem(w, 400, "Invalid workers", fmt.Sprintf("worker %d: %v", i, err), r.URL.Path)
                    return
                }
            }
        }
        n, err := s.Store.CreateWorkers(r.Context(), tenant, req.Workers)
        if err != nil { writeProblem(w, 500, "Create workers failed", err.Error(), r.URL.Path); return }
        writeJSON(w, http.StatusCreated, map[string]int{"created": n})
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListWorkers(r.Context(), tenant, cursor, limit)
        if err != nil { writeProblem(w, 500, "List workers failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// EquipmentHandler handles POST/GET /v1/equipment
func (s *Server) EquipmentHandler(w http.ResponseWriter, r *http.Request) {
    _, tenant := s.withTenant(r)
    switch r.Method {
    case http.MethodPost:
        pr := s.getPrincipal(r)
        if !pr.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
        var req struct {
            Equipment []model.EquipmentIn `json:"equipment"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        for i, eq := range req.Equipment {
            if eq.Name == "" { writeProblem(w, 400, "Invalid equipment", fmt.Sprintf("equipment %d: name is required", i), r.URL.Path); return }
            st, err := opt.ParseStage(eq.Serves)
            if err != nil {
                writeProblem(w, 400, "Invalid equipment", fmt.Sprintf("equipment %d: %v", i, err), r.URL.Path)
                return
            }
            if !st.NeedsEquipment() {
                writeProblem(w, 400, "Invalid equipment", fmt.Sprintf("equipment %d: stage %s uses no equipment", i, eq.Serves), r.URL.Path)
                return
            }
        }
        n, err := s.Store.CreateEquipment(r.Context(), tenant, req.Equipment)
        if err != nil { writeProblem(w, 500, "Create equipment failed", err.Error(), r.URL.Path); return }
        writeJSON(w, http.StatusCreated, map[string]int{"created": n})
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListEquipment(r.Context(), tenant, cursor, limit)
        if err != nil { writeProblem(w, 500, "List equipment failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// OptimizeHandler handles POST /v1/waves/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    pr := s.getPrincipal(r)
    if !pr.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
    if s.Limiter != nil && !s.Limiter.Allow() {
        writeProblem(w, http.StatusTooManyRequests, "Rate limited", "solve rate limit exceeded", r.URL.Path)
        return
    }
    var req model.OptimizeRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validateOptimizeRequest(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
        return
    }
    if req.TenantID == "" { _, req.TenantID = s.withTenant(r) }

    algo := req.Algorithm
    if algo == "" { algo = "anneal" }
    topic := waveTopic(req.TenantID, req.WaveDate)
    onImprove := func(pe model.ProgressEvent) {
        metrics.IncumbentImprovements.WithLabelValues(algo).Inc()
        s.Broker.Publish(topic, SSEEvent{Type: "plan.improved", Data: map[string]any{
            "waveDate":  pe.WaveDate,
            "iteration": pe.Iteration,
            "objective": pe.Objective,
            "elapsedMs": pe.ElapsedMs,
            "ts":        pe.TS,
        }})
        s.Pub.Emit(r.Context(), req.TenantID, webhooks.EventPlanImproved, pe)
    }

    start := time.Now()
    res, err := s.Store.PlanWave(r.Context(), req, onImprove)
    elapsed := time.Since(start).Seconds()
    if err != nil {
        switch {
        case errors.Is(err, opt.ErrInvalidInput):
            metrics.SolveDuration.WithLabelValues(algo, "invalid").Observe(elapsed)
            writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
        case errors.Is(err, opt.ErrInfeasible):
            metrics.SolveDuration.WithLabelValues(algo, "infeasible").Observe(elapsed)
            writeProblem(w, http.StatusUnprocessableEntity, "Wave infeasible", err.Error(), r.URL.Path)
        default:
            metrics.SolveDuration.WithLabelValues(algo, "error").Observe(elapsed)
            writeProblem(w, http.StatusInternalServerError, "Plan wave failed", err.Error(), r.URL.Path)
        }
        return
    }
    outcome := "ok"
    if res.TimedOut { outcome = "timeout" }
    metrics.SolveDuration.WithLabelValues(algo, outcome).Observe(elapsed)
    if its, ok := res.Metrics["iterations"].(int); ok {
        metrics.SolveIterations.WithLabelValues(algo).Observe(float64(its))
    }

    s.Broker.Publish(topic, SSEEvent{Type: "plan.completed", Data: map[string]any{
        "planId":      res.Plan.ID,
        "waveDate":    res.Plan.WaveDate,
        "version":     res.Plan.Version,
        "objective":   res.Score.Objective,
        "makespanMin": res.Plan.MakespanMin,
        "complete":    res.Complete,
    }})
    s.Pub.Emit(r.Context(), req.TenantID, webhooks.EventPlanCompleted, map[string]any{
        "planId":      res.Plan.ID,
        "waveDate":    res.Plan.WaveDate,
        "version":     res.Plan.Version,
        "algorithm":   res.Plan.Algorithm,
        "objective":   res.Score.Objective,
        "makespanMin": res.Plan.MakespanMin,
        "complete":    res.Complete,
        "timedOut":    res.TimedOut,
    })
    writeJSON(w, http.StatusOK, res)
}

// PlansHandler handles GET /v1/plans
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/plans" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    _, tenant := s.withTenant(r)
    waveDate := r.URL.Query().Get("waveDate")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListPlans(r.Context(), tenant, waveDate, cursor, limit)
    if err != nil { writeProblem(w, 500, "List plans failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// PlanByIDHandler handles GET /v1/plans/{id}
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/plans/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    _, tenant := s.withTenant(r)
    plan, err := s.Store.GetPlan(r.Context(), tenant, rest)
    if err != nil {
        writeProblem(w, http.StatusNotFound, "Plan not found", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, plan)
}

// ComparePlansHandler handles POST /v1/plans/compare. Scoring works from the
// supplied plan bodies only, so either side may come from an external system.
func (s *Server) ComparePlansHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    var req model.CompareRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if len(req.Optimized.Orders) == 0 || len(req.Baseline.Orders) == 0 {
        writeProblem(w, http.StatusBadRequest, "Invalid compare request", "both plans must have orders", r.URL.Path)
        return
    }
    weights := opt.DefaultWeights()
    if req.Objectives != nil {
        if v, ok := req.Objectives["makespan"]; ok { weights.Makespan = v }
        if v, ok := req.Objectives["tardiness"]; ok { weights.Tardiness = v }
        if v, ok := req.Objectives["labor"]; ok { weights.Labor = v }
        if v, ok := req.Objectives["idle"]; ok { weights.Idle = v }
    }
    rc, err := opt.LoadRateCard(os.Getenv("RATECARD_PATH"))
    if err != nil { writeProblem(w, 500, "Rate card load failed", err.Error(), r.URL.Path); return }
    cmp := opt.Compare(req.Optimized, req.Baseline, weights, nil, rc.DefaultHourlyCost)
    writeJSON(w, http.StatusOK, cmp)
}

// WaveEventsStreamHandler handles GET /v1/waves/{waveDate}/events/stream (SSE)
func (s *Server) WaveEventsStreamHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/waves/")
    parts := strings.Split(rest, "/")
    if len(parts) < 3 || parts[1] != "events" || parts[2] != "stream" {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    waveDate := parts[0]
    pr := s.getPrincipal(r)
    if !pr.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    topic := waveTopic(pr.Tenant, waveDate)
    ch := s.Broker.Subscribe(topic)
    defer s.Broker.Unsubscribe(topic, ch)
    // initial heartbeat
    fmt.Fprintf(w, "event: heartbeat\n")
    fmt.Fprintf(w, "data: {\"waveDate\":\"%s\",\"ts\":\"%s\"}\n\n", waveDate, time.Now().Format(time.RFC3339))
    flusher.Flush()
    // stream loop
    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt := <-ch:
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-time.After(15 * time.Second):
            fmt.Fprintf(w, "event: heartbeat\n")
            fmt.Fprintf(w, "data: {\"waveDate\":\"%s\",\"ts\":\"%s\"}\n\n", waveDate, time.Now().Format(time.RFC3339))
            flusher.Flush()
        }
    }
}

// OptimizerConfigHandler returns default optimizer configuration
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/optimizer/config" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    defaults := map[string]any{
        "algorithm": "anneal",
        "timeBudgetMs": 10000,
        "maxIterations": 0,
        "initTemp": 1.0,
        "cooling": 0.995,
        "removalWeights": []float64{1.0, 1.0},
        "insertionWeights": []float64{1.0, 1.0},
        "objectives": map[string]float64{"makespan": 1, "tardiness": 4, "labor": 0.1, "idle": 0.05},
    }
    // overlay tenant config if present
    p := s.getPrincipal(r)
    cfg, _ := s.Store.GetOptimizerConfig(r.Context(), p.Tenant)
    if cfg != nil {
        // merge cfg into defaults
        for k, v := range cfg { defaults[k] = v }
    }
    writeJSON(w, 200, map[string]any{"defaults": defaults})
}

// Admin get/set optimizer tenant config
func (s *Server) AdminOptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/optimizer/config" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodGet:
        cfg, _ := s.Store.GetOptimizerConfig(r.Context(), p.Tenant)
        if cfg == nil { cfg = map[string]any{} }
        writeJSON(w, 200, map[string]any{"config": cfg})
    case http.MethodPut:
        var body struct{ Config map[string]any `json:"config"` }
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
        if body.Config == nil { writeProblem(w, 400, "Missing config", "", r.URL.Path); return }
        if err := s.Store.SaveOptimizerConfig(r.Context(), p.Tenant, body.Config); err != nil { writeProblem(w, 500, "Save failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]bool{"ok": true})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.TenantID == "" { req.TenantID = p.Tenant }
        if req.URL == "" || len(req.Events) == 0 {
            writeProblem(w, 400, "Invalid subscription", "url and events are required", r.URL.Path)
            return
        }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        // Admin list
        p := s.getPrincipal(r)
        if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// Subscription delete (admin)
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil { writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path); return }
    w.WriteHeader(204)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/webhook-deliveries" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(405); return }
    status := r.URL.Query().Get("status")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, status, cursor, limit)
    if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
    if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id); err != nil { writeProblem(w, 500, "Retry delivery failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 202, map[string]int{"accepted": 1})
}

// Admin metrics: wave stats by waveDate
func (s *Server) WaveStatsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/waves/stats" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    waveDate := r.URL.Query().Get("waveDate")
    stats, err := s.Store.WaveStats(r.Context(), p.Tenant, waveDate)
    if err != nil { writeProblem(w, 500, "Stats failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, stats)
}

// Admin plan metrics by algorithm
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/plan-metrics" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    waveDate := r.URL.Query().Get("waveDate")
    if waveDate == "" { writeProblem(w, 400, "Missing waveDate", "", r.URL.Path); return }
    algo := r.URL.Query().Get("algo")
    includeWeights := false
    if v := r.URL.Query().Get("includeWeights"); strings.EqualFold(v, "true") || v == "1" { includeWeights = true }
    // Prefer DB metrics; fallback to in-memory
    items, err := s.Store.ListPlanMetrics(r.Context(), p.Tenant, waveDate, algo)
    if err != nil || len(items) == 0 {
        ms := opt.GetMetrics(p.Tenant, waveDate)
        i2 := []map[string]any{}
        for a, m := range ms {
            if algo != "" && a != algo { continue }
            i2 = append(i2, map[string]any{
                "algo": a,
                "iterations": m.Iterations,
                "improvements": m.Improvements,
                "acceptedWorse": m.AcceptedWorse,
                "bestCost": m.BestCost,
                "finalCost": m.FinalCost,
                "removalSelects": []int{m.RemovalSelects[0], m.RemovalSelects[1]},
                "insertSelects": []int{m.InsertSelects[0], m.InsertSelects[1]},
            })
        }
        items = i2
    }
    if includeWeights {
        // attach weight snapshots per algo
        for i := range items {
            a, _ := items[i]["algo"].(string)
            if a == "" { continue }
            wsnaps, err := s.Store.ListPlanMetricsWeights(r.Context(), p.Tenant, waveDate, a)
            if err == nil && len(wsnaps) > 0 { items[i]["weights"] = wsnaps }
        }
    }
    writeJSON(w, 200, map[string]any{"items": items})
}

// Admin plan metrics weight snapshots
func (s *Server) PlanMetricsWeightsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/plan-metrics/weights" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    waveDate := r.URL.Query().Get("waveDate")
    algo := r.URL.Query().Get("algo")
    if waveDate == "" || algo == "" { writeProblem(w, 400, "Missing parameters", "waveDate and algo required", r.URL.Path); return }
    items, err := s.Store.ListPlanMetricsWeights(r.Context(), p.Tenant, waveDate, algo)
    if err != nil { writeProblem(w, 500, "Metrics weights failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items})
}
