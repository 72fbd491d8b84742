package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"waveopt/internal/baseline"
	"waveopt/internal/model"
	"waveopt/internal/opt"
)

// poolSnapshot is the immutable input of one solve run: pending orders plus
// the resource pools, as fetched by the backing store.
type poolSnapshot struct {
	orders    []model.OrderOut
	workers   []model.WorkerOut
	equipment []model.EquipmentOut
}

// runSolve is the shared solve orchestration used by both store backends:
// convert the snapshot, build the problem, run the chosen procedure under its
// budget, extract and score the plan. The snapshot is never mutated.
func runSolve(ctx context.Context, req model.OptimizeRequest, snap poolSnapshot, onImprove func(model.ProgressEvent)) (model.PlanResult, opt.Metrics, error) {
	anchor := time.Now().UTC()
	if req.StartAt != "" {
		t, err := time.Parse(time.RFC3339, req.StartAt)
		if err != nil {
			return model.PlanResult{}, opt.Metrics{}, fmt.Errorf("%w: startAt: %v", opt.ErrInvalidInput, err)
		}
		anchor = t.UTC()
	}

	orders := snap.orders
	if len(req.IncludeOrders) > 0 {
		want := map[string]bool{}
		for _, id := range req.IncludeOrders {
			want[id] = true
		}
		filtered := orders[:0:0]
		for _, o := range orders {
			if want[o.ID] || want[o.ExternalRef] {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	if req.MaxOrders > 0 && len(orders) > req.MaxOrders {
		orders = orders[:req.MaxOrders]
	}

	optOrders := make([]opt.Order, 0, len(orders))
	for _, o := range orders {
		deadline, err := time.Parse(time.RFC3339, o.Deadline)
		if err != nil {
			return model.PlanResult{}, opt.Metrics{}, fmt.Errorf("%w: order %s deadline: %v", opt.ErrInvalidInput, o.ID, err)
		}
		optOrders = append(optOrders, opt.Order{
			ID:              o.ID,
			Priority:        o.Priority,
			Deadline:        deadline,
			Items:           o.Items,
			WeightKg:        o.WeightKg,
			PickEstimateMin: o.PickEstimateMin,
			PackEstimateMin: o.PackEstimateMin,
		})
	}
	optWorkers := make([]opt.Worker, 0, len(snap.workers))
	for _, w := range snap.workers {
		stages := make([]opt.Stage, 0, len(w.Capabilities))
		for _, c := range w.Capabilities {
			st, err := opt.ParseStage(c)
			if err != nil {
				return model.PlanResult{}, opt.Metrics{}, fmt.Errorf("worker %s: %w", w.ID, err)
			}
			stages = append(stages, st)
		}
		optWorkers = append(optWorkers, opt.Worker{ID: w.ID, Stages: stages, HourlyCost: w.HourlyCost})
	}
	optEquip := make([]opt.Equipment, 0, len(snap.equipment))
	for _, eq := range snap.equipment {
		st, err := opt.ParseStage(eq.Serves)
		if err != nil {
			return model.PlanResult{}, opt.Metrics{}, fmt.Errorf("equipment %s: %w", eq.ID, err)
		}
		optEquip = append(optEquip, opt.Equipment{ID: eq.ID, Serves: st, HourlyCost: eq.HourlyCost})
	}

	rc, err := opt.LoadRateCard(os.Getenv("RATECARD_PATH"))
	if err != nil {
		return model.PlanResult{}, opt.Metrics{}, err
	}
	weights := opt.DefaultWeights()
	if req.Objectives != nil {
		if v, ok := req.Objectives["makespan"]; ok {
			weights.Makespan = v
		}
		if v, ok := req.Objectives["tardiness"]; ok {
			weights.Tardiness = v
		}
		if v, ok := req.Objectives["labor"]; ok {
			weights.Labor = v
		}
		if v, ok := req.Objectives["idle"]; ok {
			weights.Idle = v
		}
	}

	p, err := opt.BuildProblem(optOrders, optWorkers, optEquip, rc, weights, anchor)
	if err != nil {
		return model.PlanResult{}, opt.Metrics{}, err
	}
	p.IterationsLimit = req.MaxIterations
	p.InitialTemp = req.InitTemp
	p.Cooling = req.Cooling
	p.InitialRemovalWeights = req.RemovalWeights
	p.InitialInsertionWeights = req.InsertionWeights

	budget := 10 * time.Second
	if req.TimeBudgetMs > 0 {
		budget = time.Duration(req.TimeBudgetMs) * time.Millisecond
	}
	algo := req.Algorithm
	if algo == "" {
		algo = "anneal"
	}

	var sol opt.Solution
	var m opt.Metrics
	switch algo {
	case "greedy":
		sol, m, err = opt.Greedy(ctx, p, budget)
	default:
		progress := func(pr opt.Progress) {
			if onImprove == nil {
				return
			}
			onImprove(model.ProgressEvent{
				TenantID:  req.TenantID,
				WaveDate:  req.WaveDate,
				Iteration: pr.Iteration,
				Objective: pr.Cost,
				ElapsedMs: pr.Elapsed.Milliseconds(),
				TS:        time.Now().UTC().Format(time.RFC3339),
			})
		}
		sol, m, err = opt.Solve(ctx, p, req.Seed, budget, progress)
	}
	if err != nil {
		return model.PlanResult{}, m, err
	}

	plan := opt.Extract(p, sol)
	plan.TenantID = req.TenantID
	plan.WaveDate = req.WaveDate
	plan.Algorithm = algo
	plan.Status = "planned"

	rates := map[string]float64{}
	for _, w := range snap.workers {
		rates[w.ID] = w.HourlyCost
	}
	for _, eq := range snap.equipment {
		rates[eq.ID] = eq.HourlyCost
	}
	score := opt.Score(plan, weights, rates, rc.DefaultHourlyCost)
	plan.CostBreakdown = map[string]float64{
		"objective": score.Objective,
		"makespan":  score.MakespanMin,
		"tardiness": score.TardinessMin,
		"labor":     score.LaborCost,
		"idle":      score.IdleMin,
	}

	res := model.PlanResult{
		Plan:     plan,
		Score:    score,
		Complete: sol.Complete,
		TimedOut: m.TimedOut,
		Metrics:  metricsDoc(m),
	}
	if req.CompareBaseline {
		base := baseline.Generate(optOrders, optWorkers, optEquip, rc, anchor)
		base.TenantID = req.TenantID
		base.WaveDate = req.WaveDate
		cmp := opt.Compare(plan, base, weights, rates, rc.DefaultHourlyCost)
		res.Comparison = &cmp
	}
	opt.RecordMetrics(req.TenantID, req.WaveDate, algo, m)
	return res, m, nil
}

func metricsDoc(m opt.Metrics) map[string]any {
	return map[string]any{
		"iterations":     m.Iterations,
		"improvements":   m.Improvements,
		"acceptedWorse":  m.AcceptedWorse,
		"bestCost":       m.BestCost,
		"finalCost":      m.FinalCost,
		"removalSelects": []int{m.RemovalSelects[0], m.RemovalSelects[1]},
		"insertSelects":  []int{m.InsertSelects[0], m.InsertSelects[1]},
		"timedOut":       m.TimedOut,
	}
}

func weightSnapshotsDoc(m opt.Metrics) []map[string]any {
	out := make([]map[string]any, 0, len(m.Snapshots))
	for _, s := range m.Snapshots {
		out = append(out, map[string]any{
			"iteration": s.Iteration,
			"removal":   []float64{s.Removal[0], s.Removal[1]},
			"insertion": []float64{s.Insertion[0], s.Insertion[1]},
		})
	}
	return out
}
