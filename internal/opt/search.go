package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Solution is a snapshot of variable bindings: per-task start/end, worker and
// equipment indices. Complete=false marks a best-effort partial assignment
// returned when the budget expired during construction.
type Solution struct {
	Start    []float64
	End      []float64
	Worker   []int
	Equip    []int
	Assigned []bool
	Cost     float64
	Complete bool
}

// Progress is emitted on each incumbent improvement.
type Progress struct {
	Iteration int
	Cost      float64
	Elapsed   time.Duration
}

type Metrics struct {
	RemovalSelects        [2]int // random, related
	InsertSelects         [2]int // greedy, regret2
	Iterations            int
	Improvements          int
	AcceptedWorse         int
	BestCost              float64
	FinalCost             float64
	FinalRemovalWeights   [2]float64
	FinalInsertionWeights [2]float64
	Snapshots             []WeightSnapshot
	TimedOut              bool
}

type WeightSnapshot struct {
	Iteration int
	Removal   [2]float64
	Insertion [2]float64
}

type candidate struct {
	wi, ei int
	start  float64
	cost   float64
}

// marginalCost is the increase of the running objective if task t is bound to
// (wi, ei, start) given the current engine state.
func marginalCost(e *Engine, t, wi, ei int, start float64) float64 {
	p := e.p
	task := p.Tasks[t]
	w := p.Weights
	end := start + task.Dur
	c := 0.0
	if end > e.makespan {
		c += w.Makespan * (end - e.makespan)
	}
	if task.Stage == StageShip {
		c += w.Tardiness * math.Max(0, end-p.DeadlineMin[task.Order])
	}
	rate := p.Workers[wi].HourlyCost
	if rate <= 0 {
		rate = p.Rates.DefaultHourlyCost
	}
	c += w.Labor * task.Dur / 60 * rate
	if ei >= 0 && p.Equipment[ei].HourlyCost > 0 {
		c += w.Labor * task.Dur / 60 * p.Equipment[ei].HourlyCost
	}
	if lb, ok := e.PrevEnd(t); ok {
		c += w.Idle * (start - lb)
	}
	return c
}

// candidatesFor enumerates feasible bindings for task t at their earliest
// start, cheapest first. Ties break by start time, then worker index, then
// equipment index; eligibility lists are pre-sorted by resource ID, so the
// result order is deterministic.
func candidatesFor(e *Engine, t int) []candidate {
	p := e.p
	st := p.Tasks[t].Stage
	equip := p.EligibleEquipment(st)
	var out []candidate
	for _, wi := range p.EligibleWorkers(st) {
		if len(equip) == 0 {
			if s, ok := e.EarliestStart(t, wi, -1); ok {
				out = append(out, candidate{wi: wi, ei: -1, start: s, cost: marginalCost(e, t, wi, -1, s)})
			}
			continue
		}
		for _, ei := range equip {
			if s, ok := e.EarliestStart(t, wi, ei); ok {
				out = append(out, candidate{wi: wi, ei: ei, start: s, cost: marginalCost(e, t, wi, ei, s)})
			}
		}
	}
	sortCandidates(out)
	return out
}

func sortCandidates(cs []candidate) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && lessCand(cs[j], cs[j-1]); j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

func lessCand(a, b candidate) bool {
	if a.cost != b.cost {
		return a.cost < b.cost
	}
	if a.start != b.start {
		return a.start < b.start
	}
	if a.wi != b.wi {
		return a.wi < b.wi
	}
	return a.ei < b.ei
}

// taskSeq is the fixed decision sequence: orders by (priority, deadline, id),
// stages in chain order within each order.
func taskSeq(p *Problem) []int {
	seq := make([]int, 0, len(p.Tasks))
	for _, oi := range p.OrderSeq() {
		for st := Stage(0); st < NumStages; st++ {
			seq = append(seq, p.TaskIndex(oi, st))
		}
	}
	return seq
}

type decision struct {
	task  int
	cands []candidate
	idx   int
}

// construct builds an initial complete assignment by cheapest-binding greedy
// selection with chronological backtracking. It stops early when the deadline
// passes or ctx is cancelled, leaving a feasible partial assignment in e.
func construct(ctx context.Context, e *Engine, deadline time.Time) (complete bool, err error) {
	seq := taskSeq(e.p)
	stack := make([]decision, 0, len(seq))
	for len(stack) < len(seq) {
		if ctx.Err() != nil || time.Now().After(deadline) {
			return false, nil
		}
		t := seq[len(stack)]
		d := decision{task: t, cands: candidatesFor(e, t)}
		// No feasible binding: backtrack, advancing earlier decision points
		// to their next-best candidates.
		for d.idx >= len(d.cands) {
			if len(stack) == 0 {
				return false, fmt.Errorf("%w: no feasible binding for stage %s of order %s",
					ErrInfeasible, e.p.Tasks[t].Stage, e.p.Orders[e.p.Tasks[t].Order].ID)
			}
			d = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			e.Unplace(d.task)
			d.idx++
		}
		c := d.cands[d.idx]
		e.Place(d.task, c.wi, c.ei, c.start)
		stack = append(stack, d)
	}
	return true, nil
}

func snapshot(e *Engine) Solution {
	n := len(e.p.Tasks)
	s := Solution{
		Start:    append([]float64(nil), e.start[:n]...),
		End:      append([]float64(nil), e.end[:n]...),
		Worker:   append([]int(nil), e.worker[:n]...),
		Equip:    append([]int(nil), e.equip[:n]...),
		Assigned: append([]bool(nil), e.assigned[:n]...),
		Cost:     e.Objective(),
		Complete: e.Complete(),
	}
	return s
}

// Greedy runs construction only: the deterministic cheapest-binding schedule
// used both as the fast path and as the anneal seed.
func Greedy(ctx context.Context, p *Problem, timeBudget time.Duration) (Solution, Metrics, error) {
	if timeBudget <= 0 {
		timeBudget = 10 * time.Second
	}
	e := NewEngine(p)
	complete, err := construct(ctx, e, time.Now().Add(timeBudget))
	if err != nil {
		return Solution{}, Metrics{}, err
	}
	sol := snapshot(e)
	m := Metrics{Iterations: 1, BestCost: sol.Cost, FinalCost: sol.Cost, TimedOut: !complete}
	return sol, m, nil
}

type placement struct {
	task   int
	wi, ei int
	start  float64
}

// Solve runs the full anytime procedure: greedy construction followed by
// adaptive ruin-and-recreate improvement with simulated-annealing acceptance.
// The incumbent is returned on budget expiry or cancellation, never an
// inconsistent assignment. onImprove may be nil.
func Solve(ctx context.Context, p *Problem, seed int64, timeBudget time.Duration, onImprove func(Progress)) (Solution, Metrics, error) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	if timeBudget <= 0 {
		timeBudget = 10 * time.Second
	}
	started := time.Now()
	deadline := started.Add(timeBudget)

	e := NewEngine(p)
	complete, err := construct(ctx, e, deadline)
	if err != nil {
		return Solution{}, Metrics{}, err
	}
	best := snapshot(e)
	m := Metrics{BestCost: best.Cost}
	if !complete {
		// Budget exhausted before a complete assignment: best-effort partial.
		m.TimedOut = true
		m.FinalCost = best.Cost
		return best, m, nil
	}

	remW := [2]float64{1, 1} // random, related
	insW := [2]float64{1, 1} // greedy, regret2
	if len(p.InitialRemovalWeights) == 2 {
		remW = [2]float64{p.InitialRemovalWeights[0], p.InitialRemovalWeights[1]}
	}
	if len(p.InitialInsertionWeights) == 2 {
		insW = [2]float64{p.InitialInsertionWeights[0], p.InitialInsertionWeights[1]}
	}
	temp := 1.0
	if p.InitialTemp > 0 {
		temp = p.InitialTemp
	}
	cool := 0.995
	if p.Cooling > 0 && p.Cooling < 1 {
		cool = p.Cooling
	}
	snapshotEvery := 50

	for time.Now().Before(deadline) && ctx.Err() == nil {
		m.Iterations++
		if p.IterationsLimit > 0 && m.Iterations >= p.IterationsLimit {
			break
		}
		k := 1 + rng.Intn(3)
		op := selectOp(remW[:], rng)
		m.RemovalSelects[op]++
		ip := selectOp(insW[:], rng)
		m.InsertSelects[ip]++

		var removed []int
		switch op {
		case 0:
			removed = pickRandomOrders(p, k, rng)
		case 1:
			removed = relatedOrders(p, k, rng)
		}
		if len(removed) == 0 {
			continue
		}
		prior := unplaceOrders(e, removed)
		switch ip {
		case 0:
			greedyReinsert(e, removed)
		case 1:
			regretReinsert(e, removed)
		}
		cost := e.Objective()

		delta := cost - best.Cost
		if delta < 0 || rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			if cost < best.Cost {
				best = snapshot(e)
				remW[op] += 0.1
				insW[ip] += 0.1
				m.Improvements++
				m.BestCost = best.Cost
				if onImprove != nil {
					onImprove(Progress{Iteration: m.Iterations, Cost: best.Cost, Elapsed: time.Since(started)})
				}
			} else {
				remW[op] += 0.01
				insW[ip] += 0.01
				m.AcceptedWorse++
			}
		} else {
			// reject: restore the prior placements of the touched orders
			unplaceOrders(e, removed)
			for _, pl := range prior {
				e.Place(pl.task, pl.wi, pl.ei, pl.start)
			}
			remW[op] = math.Max(0.01, remW[op]*0.999)
			insW[ip] = math.Max(0.01, insW[ip]*0.999)
		}
		temp *= cool
		if m.Iterations%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, WeightSnapshot{Iteration: m.Iterations, Removal: remW, Insertion: insW})
		}
	}
	m.TimedOut = time.Now().After(deadline) || ctx.Err() != nil
	m.FinalCost = best.Cost
	m.FinalRemovalWeights = remW
	m.FinalInsertionWeights = insW
	return best, m, nil
}

func pickRandomOrders(p *Problem, k int, rng *rand.Rand) []int {
	n := len(p.Orders)
	if k > n {
		k = n
	}
	perm := rng.Perm(n)
	return perm[:k]
}

// relatedOrders selects k orders related by deadline proximity and priority,
// seeded from a random order: removing a cluster of competing orders gives
// the reinsertion room to resequence them.
func relatedOrders(p *Problem, k int, rng *rand.Rand) []int {
	n := len(p.Orders)
	if n == 0 {
		return nil
	}
	if k > n {
		k = n
	}
	seed := rng.Intn(n)
	type rel struct {
		idx   int
		score float64
	}
	so := p.Orders[seed]
	rels := make([]rel, 0, n-1)
	for i, o := range p.Orders {
		if i == seed {
			continue
		}
		dl := math.Abs(o.Deadline.Sub(so.Deadline).Minutes())
		pr := math.Abs(float64(o.Priority - so.Priority))
		rels = append(rels, rel{idx: i, score: dl + 240*pr})
	}
	for i := 0; i < len(rels); i++ {
		for j := i + 1; j < len(rels); j++ {
			if rels[j].score < rels[i].score {
				rels[i], rels[j] = rels[j], rels[i]
			}
		}
	}
	out := []int{seed}
	for i := 0; i < len(rels) && len(out) < k; i++ {
		out = append(out, rels[i].idx)
	}
	return out
}

// unplaceOrders removes all six stages of each order, SHIP first so no
// successor constraint is left dangling, and returns the prior placements.
func unplaceOrders(e *Engine, orders []int) []placement {
	prior := make([]placement, 0, len(orders)*NumStages)
	for _, oi := range orders {
		for st := NumStages - 1; st >= 0; st-- {
			t := e.p.TaskIndex(oi, Stage(st))
			if !e.Assigned(t) {
				continue
			}
			prior = append(prior, placement{task: t, wi: e.worker[t], ei: e.equip[t], start: e.start[t]})
			e.Unplace(t)
		}
	}
	// reverse so replay re-places PICK before SHIP per order
	for i, j := 0, len(prior)-1; i < j; i, j = i+1, j-1 {
		prior[i], prior[j] = prior[j], prior[i]
	}
	return prior
}

// insertOrder schedules the full stage chain of one order by cheapest binding.
func insertOrder(e *Engine, oi int) {
	for st := Stage(0); st < NumStages; st++ {
		t := e.p.TaskIndex(oi, st)
		cands := candidatesFor(e, t)
		if len(cands) == 0 {
			// eligibility was validated at build time
			continue
		}
		c := cands[0]
		e.Place(t, c.wi, c.ei, c.start)
	}
}

// greedyReinsert re-schedules removed orders in the fixed decision order.
func greedyReinsert(e *Engine, removed []int) {
	inSet := map[int]bool{}
	for _, oi := range removed {
		inSet[oi] = true
	}
	for _, oi := range e.p.OrderSeq() {
		if inSet[oi] {
			insertOrder(e, oi)
		}
	}
}

// regretReinsert schedules the order whose first stage has the largest
// best-vs-second-best cost gap first (regret-2 at the order level).
func regretReinsert(e *Engine, removed []int) {
	pending := append([]int(nil), removed...)
	for len(pending) > 0 {
		bestIdx := 0
		bestRegret := -1.0
		for i, oi := range pending {
			t := e.p.TaskIndex(oi, StagePick)
			cands := candidatesFor(e, t)
			regret := 0.0
			if len(cands) >= 2 {
				regret = cands[1].cost - cands[0].cost
			}
			if regret > bestRegret {
				bestRegret = regret
				bestIdx = i
			}
		}
		insertOrder(e, pending[bestIdx])
		pending = append(pending[:bestIdx], pending[bestIdx+1:]...)
	}
}

func selectOp(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}
