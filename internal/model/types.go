package model

// Core domain types shared between the API, store and planner.

type OrderIn struct {
    ExternalRef     string         `json:"externalRef,omitempty"`
    Priority        int            `json:"priority"`          // 1 (highest) .. 5
    Deadline        string         `json:"deadline"`          // RFC3339 shipping deadline
    Items           int            `json:"items"`
    WeightKg        float64        `json:"weightKg,omitempty"`
    PickEstimateMin float64        `json:"pickEstimateMin,omitempty"`
    PackEstimateMin float64        `json:"packEstimateMin,omitempty"`
    Attributes      map[string]any `json:"attributes,omitempty"`
}

type OrderOut struct {
    ID              string  `json:"id"`
    TenantID        string  `json:"tenantId"`
    ExternalRef     string  `json:"externalRef,omitempty"`
    Priority        int     `json:"priority"`
    Deadline        string  `json:"deadline"`
    Items           int     `json:"items"`
    WeightKg        float64 `json:"weightKg,omitempty"`
    PickEstimateMin float64 `json:"pickEstimateMin,omitempty"`
    PackEstimateMin float64 `json:"packEstimateMin,omitempty"`
    Status          string  `json:"status"`
}

type WorkerIn struct {
    Name         string   `json:"name"`
    Capabilities []string `json:"capabilities"` // stage names the worker may be assigned to
    HourlyCost   float64  `json:"hourlyCost,omitempty"`
}

type WorkerOut struct {
    ID           string   `json:"id"`
    TenantID     string   `json:"tenantId"`
    Name         string   `json:"name"`
    Capabilities []string `json:"capabilities"`
    HourlyCost   float64  `json:"hourlyCost"`
    Status       string   `json:"status"`
}

type EquipmentIn struct {
    Name       string  `json:"name"`
    Serves     string  `json:"serves"` // single stage type this unit serves
    HourlyCost float64 `json:"hourlyCost,omitempty"`
}

type EquipmentOut struct {
    ID         string  `json:"id"`
    TenantID   string  `json:"tenantId"`
    Name       string  `json:"name"`
    Serves     string  `json:"serves"`
    HourlyCost float64 `json:"hourlyCost"`
    Status     string  `json:"status"`
}

type OptimizeRequest struct {
    TenantID         string             `json:"tenantId"`
    WaveDate         string             `json:"waveDate"`
    Algorithm        string             `json:"algorithm,omitempty"` // greedy | anneal
    StartAt          string             `json:"startAt,omitempty"`   // schedule anchor, default now
    TimeBudgetMs     int                `json:"timeBudgetMs,omitempty"`
    MaxIterations    int                `json:"maxIterations,omitempty"`
    MaxOrders        int                `json:"maxOrders,omitempty"`
    Seed             int64              `json:"seed,omitempty"`
    InitTemp         float64            `json:"initTemp,omitempty"`
    Cooling          float64            `json:"cooling,omitempty"`
    RemovalWeights   []float64          `json:"removalWeights,omitempty"`
    InsertionWeights []float64          `json:"insertionWeights,omitempty"`
    Objectives       map[string]float64 `json:"objectives,omitempty"` // makespan, tardiness, labor, idle
    IncludeOrders    []string           `json:"includeOrders,omitempty"`
    CompareBaseline  bool               `json:"compareBaseline,omitempty"`
}

// StagePlan is one scheduled stage instance of an order.
type StagePlan struct {
    Stage       string  `json:"stage"`
    WorkerID    string  `json:"workerId"`
    EquipmentID string  `json:"equipmentId,omitempty"`
    Start       string  `json:"start"` // RFC3339
    StartMin    float64 `json:"startMin"`
    DurationMin float64 `json:"durationMin"`
    WaitMin     float64 `json:"waitMin"`
}

type OrderPlan struct {
    OrderID       string      `json:"orderId"`
    Priority      int         `json:"priority"`
    Deadline      string      `json:"deadline,omitempty"`
    Stages        []StagePlan `json:"stages"`
    ProcessingMin float64     `json:"processingMin"`
    WaitingMin    float64     `json:"waitingMin"`
    TotalMin      float64     `json:"totalMin"`
    TardinessMin  float64     `json:"tardinessMin"`
}

// Plan is a complete wave execution plan produced by the optimizer or the
// naive baseline generator. It owns no identity beyond the solve that made it;
// the store assigns ID/version on save.
type Plan struct {
    ID            string             `json:"id,omitempty"`
    TenantID      string             `json:"tenantId,omitempty"`
    WaveDate      string             `json:"waveDate,omitempty"`
    Version       int                `json:"version,omitempty"`
    Status        string             `json:"status,omitempty"`
    Algorithm     string             `json:"algorithm,omitempty"`
    Complete      bool               `json:"complete"`
    Anchor        string             `json:"anchor"` // RFC3339 schedule zero
    Orders        []OrderPlan        `json:"orders"`
    MakespanMin   float64            `json:"makespanMin"`
    CostBreakdown map[string]float64 `json:"costBreakdown,omitempty"`
}

// StageTotals aggregates one stage type across all orders of a plan.
type StageTotals struct {
    Stage       string  `json:"stage"`
    DurationMin float64 `json:"durationMin"`
    WaitMin     float64 `json:"waitMin"`
    MeanWaitMin float64 `json:"meanWaitMin"`
}

type ScoreBreakdown struct {
    Objective    float64       `json:"objective"`
    MakespanMin  float64       `json:"makespanMin"`
    TardinessMin float64       `json:"tardinessMin"`
    TardyOrders  int           `json:"tardyOrders"`
    LaborCost    float64       `json:"laborCost"`
    IdleMin      float64       `json:"idleMin"`
    PerStage     []StageTotals `json:"perStage"`
    Bottleneck   string        `json:"bottleneck,omitempty"` // stage with highest mean wait
}

type Comparison struct {
    Optimized               ScoreBreakdown `json:"optimized"`
    Baseline                ScoreBreakdown `json:"baseline"`
    ImprovementPct          float64        `json:"improvementPct"`          // by summed order total time
    ObjectiveImprovementPct float64        `json:"objectiveImprovementPct"` // by weighted objective
    TimeSavedMin            float64        `json:"timeSavedMin"`
}

// PlanResult is the full outcome of one solve run.
type PlanResult struct {
    Plan       Plan           `json:"plan"`
    Score      ScoreBreakdown `json:"score"`
    Comparison *Comparison    `json:"comparison,omitempty"`
    Complete   bool           `json:"complete"`
    TimedOut   bool           `json:"timedOut"`
    Metrics    map[string]any `json:"metrics,omitempty"`
}

// ProgressEvent reports an incumbent improvement during a solve.
type ProgressEvent struct {
    TenantID  string  `json:"tenantId"`
    WaveDate  string  `json:"waveDate"`
    Iteration int     `json:"iteration"`
    Objective float64 `json:"objective"`
    ElapsedMs int64   `json:"elapsedMs"`
    TS        string  `json:"ts"`
}

type CompareRequest struct {
    Optimized  Plan               `json:"optimized"`
    Baseline   Plan               `json:"baseline"`
    Objectives map[string]float64 `json:"objectives,omitempty"`
}

type SubscriptionRequest struct {
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret"`
}

type Subscription struct {
    ID       string   `json:"id"`
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}
