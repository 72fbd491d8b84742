package opt

import (
	"math"
	"time"

	"waveopt/internal/model"
)

// Extract converts a solved (or best-effort partial) assignment into the plan
// structure. Purely arithmetic over the bound variables: no re-solving, no
// clock reads, no id generation, so the same assignment always yields
// identical output. The store assigns plan identity on save.
func Extract(p *Problem, sol Solution) model.Plan {
	plan := model.Plan{
		Complete: sol.Complete,
		Anchor:   p.Anchor.UTC().Format(time.RFC3339),
		Orders:   make([]model.OrderPlan, 0, len(p.Orders)),
	}
	makespan := 0.0
	for oi, o := range p.Orders {
		op := model.OrderPlan{
			OrderID:  o.ID,
			Priority: o.Priority,
			Deadline: o.Deadline.UTC().Format(time.RFC3339),
		}
		prevEnd := 0.0
		for st := Stage(0); st < NumStages; st++ {
			t := p.TaskIndex(oi, st)
			if !sol.Assigned[t] {
				continue
			}
			start := sol.Start[t]
			dur := p.Tasks[t].Dur
			wait := start - prevEnd
			sp := model.StagePlan{
				Stage:       st.String(),
				WorkerID:    p.Workers[sol.Worker[t]].ID,
				Start:       p.Anchor.Add(time.Duration(start * float64(time.Minute))).UTC().Format(time.RFC3339),
				StartMin:    start,
				DurationMin: dur,
				WaitMin:     wait,
			}
			if ei := sol.Equip[t]; ei >= 0 {
				sp.EquipmentID = p.Equipment[ei].ID
			}
			op.Stages = append(op.Stages, sp)
			op.ProcessingMin += dur
			op.WaitingMin += wait
			prevEnd = start + dur
			if prevEnd > makespan {
				makespan = prevEnd
			}
			if st == StageShip {
				op.TotalMin = prevEnd
				op.TardinessMin = math.Max(0, prevEnd-p.DeadlineMin[oi])
			}
		}
		if op.TotalMin == 0 {
			op.TotalMin = prevEnd // partial order: completion so far
		}
		plan.Orders = append(plan.Orders, op)
	}
	plan.MakespanMin = makespan
	return plan
}
