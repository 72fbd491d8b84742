package opt

import "waveopt/internal/model"

// Score computes the weighted objective value and per-category breakdown for
// any plan, optimized or baseline. rates maps resource id -> hourly cost;
// unknown ids fall back to defaultHourly. Works from plan data only, so a
// baseline supplied by an external source scores identically.
func Score(plan model.Plan, w Weights, rates map[string]float64, defaultHourly float64) model.ScoreBreakdown {
	b := model.ScoreBreakdown{PerStage: make([]model.StageTotals, NumStages)}
	counts := make([]int, NumStages)
	for i := range b.PerStage {
		b.PerStage[i].Stage = Stage(i).String()
	}
	rate := func(id string) float64 {
		if r, ok := rates[id]; ok && r > 0 {
			return r
		}
		return defaultHourly
	}
	for _, op := range plan.Orders {
		if op.TardinessMin > 0 {
			b.TardinessMin += op.TardinessMin
			b.TardyOrders++
		}
		for _, sp := range op.Stages {
			st, err := ParseStage(sp.Stage)
			if err != nil {
				continue
			}
			b.PerStage[st].DurationMin += sp.DurationMin
			b.PerStage[st].WaitMin += sp.WaitMin
			counts[st]++
			b.IdleMin += sp.WaitMin
			b.LaborCost += sp.DurationMin / 60 * rate(sp.WorkerID)
			if sp.EquipmentID != "" {
				if r, ok := rates[sp.EquipmentID]; ok && r > 0 {
					b.LaborCost += sp.DurationMin / 60 * r
				}
			}
			if end := sp.StartMin + sp.DurationMin; end > b.MakespanMin {
				b.MakespanMin = end
			}
		}
	}
	worst := -1.0
	for i := range b.PerStage {
		if counts[i] > 0 {
			b.PerStage[i].MeanWaitMin = b.PerStage[i].WaitMin / float64(counts[i])
		}
		if b.PerStage[i].MeanWaitMin > worst {
			worst = b.PerStage[i].MeanWaitMin
			b.Bottleneck = b.PerStage[i].Stage
		}
	}
	b.Objective = w.Makespan*b.MakespanMin + w.Tardiness*b.TardinessMin + w.Labor*b.LaborCost + w.Idle*b.IdleMin
	return b
}

// Compare scores both plans and reports the improvement of the optimized one
// over the baseline. Purely numerical; the plans share no state.
func Compare(optimized, baseline model.Plan, w Weights, rates map[string]float64, defaultHourly float64) model.Comparison {
	c := model.Comparison{
		Optimized: Score(optimized, w, rates, defaultHourly),
		Baseline:  Score(baseline, w, rates, defaultHourly),
	}
	optTotal := sumTotal(optimized)
	baseTotal := sumTotal(baseline)
	c.TimeSavedMin = baseTotal - optTotal
	if baseTotal > 0 {
		c.ImprovementPct = (baseTotal - optTotal) / baseTotal * 100
	}
	if c.Baseline.Objective > 0 {
		c.ObjectiveImprovementPct = (c.Baseline.Objective - c.Optimized.Objective) / c.Baseline.Objective * 100
	}
	return c
}

func sumTotal(plan model.Plan) float64 {
	total := 0.0
	for _, op := range plan.Orders {
		total += op.TotalMin
	}
	return total
}
