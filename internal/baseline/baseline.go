// Package baseline generates the naive WMS comparison plan: fixed duration
// multipliers and modulo round-robin resource assignment, the way the legacy
// scheduler worked. Stateless pure functions; it shares no mutable state with
// the optimizer and exists only to give the scoring module something to beat.
package baseline

import (
	"time"

	"waveopt/internal/model"
	"waveopt/internal/opt"
)

// Fixed penalties of the legacy heuristic. The optimizer avoids these by
// choosing routing and assignment; the baseline always pays them.
const (
	pickRoutingPenalty = 1.30 // legacy batch routing overhead
	heavyHandlingPenalty = 1.15
	packDoubleCheckPenalty = 1.10
)

// Generate produces the non-optimized plan: orders processed in input order,
// stages strictly sequential, each stage assigned to the next eligible
// worker/equipment by modulo arithmetic regardless of actual availability.
func Generate(orders []opt.Order, workers []opt.Worker, equipment []opt.Equipment, rc opt.RateCard, anchor time.Time) model.Plan {
	plan := model.Plan{
		Algorithm: "naive-wms",
		Complete:  true,
		Anchor:    anchor.UTC().Format(time.RFC3339),
		Orders:    make([]model.OrderPlan, 0, len(orders)),
	}

	// eligible resource index lists per stage, input order
	var elWorkers [opt.NumStages][]int
	var elEquip [opt.NumStages][]int
	for st := opt.Stage(0); st < opt.NumStages; st++ {
		for wi, w := range workers {
			if w.CanDo(st) {
				elWorkers[st] = append(elWorkers[st], wi)
			}
		}
		for ei, eq := range equipment {
			if eq.Serves == st {
				elEquip[st] = append(elEquip[st], ei)
			}
		}
	}

	workerFree := make([]float64, len(workers))
	equipFree := make([]float64, len(equipment))
	makespan := 0.0

	for oi, o := range orders {
		op := model.OrderPlan{
			OrderID:  o.ID,
			Priority: o.Priority,
			Deadline: o.Deadline.UTC().Format(time.RFC3339),
		}
		prevEnd := 0.0
		for st := opt.Stage(0); st < opt.NumStages; st++ {
			dur := naiveDuration(rc, st, o)
			ws := elWorkers[st]
			if len(ws) == 0 {
				continue // legacy generator silently skipped unstaffed stages
			}
			wi := ws[oi%len(ws)]
			start := prevEnd
			if workerFree[wi] > start {
				start = workerFree[wi]
			}
			ei := -1
			if st.NeedsEquipment() && len(elEquip[st]) > 0 {
				ei = elEquip[st][oi%len(elEquip[st])]
				if equipFree[ei] > start {
					start = equipFree[ei]
				}
			}
			end := start + dur
			workerFree[wi] = end
			if ei >= 0 {
				equipFree[ei] = end
			}
			sp := model.StagePlan{
				Stage:       st.String(),
				WorkerID:    workers[wi].ID,
				Start:       anchor.Add(time.Duration(start * float64(time.Minute))).UTC().Format(time.RFC3339),
				StartMin:    start,
				DurationMin: dur,
				WaitMin:     start - prevEnd,
			}
			if ei >= 0 {
				sp.EquipmentID = equipment[ei].ID
			}
			op.Stages = append(op.Stages, sp)
			op.ProcessingMin += dur
			op.WaitingMin += start - prevEnd
			prevEnd = end
			if end > makespan {
				makespan = end
			}
			if st == opt.StageShip {
				op.TotalMin = end
				if late := end - o.Deadline.Sub(anchor).Minutes(); late > 0 {
					op.TardinessMin = late
				}
			}
		}
		plan.Orders = append(plan.Orders, op)
	}
	plan.MakespanMin = makespan
	return plan
}

// naiveDuration inflates the rate-card base with the legacy fixed multipliers.
func naiveDuration(rc opt.RateCard, st opt.Stage, o opt.Order) float64 {
	d := rc.Duration(st, o)
	switch st {
	case opt.StagePick:
		d *= pickRoutingPenalty
		if o.WeightKg > rc.PickHeavyThresholdKg {
			d *= heavyHandlingPenalty
		}
	case opt.StagePack:
		d *= packDoubleCheckPenalty
	case opt.StageStage:
		if o.WeightKg > rc.StageHeavyThresholdKg {
			d *= heavyHandlingPenalty
		}
	}
	return d
}
