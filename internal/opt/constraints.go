package opt

import (
	"fmt"
	"math"
	"sort"
)

// span is one booked interval [start, end) on a resource calendar.
type span struct {
	start, end float64
	task       int
}

// calendar is the busy-interval index for a single worker or equipment unit.
// Spans are kept sorted by start; this is the explicit resource-availability
// index the search queries instead of any process-wide counter.
type calendar struct {
	spans []span
}

func (c *calendar) overlaps(start, end float64) bool {
	i := sort.Search(len(c.spans), func(i int) bool { return c.spans[i].end > start })
	return i < len(c.spans) && c.spans[i].start < end
}

// earliestFrom returns the earliest t >= after such that [t, t+dur) is free.
func (c *calendar) earliestFrom(after, dur float64) float64 {
	cur := after
	for _, sp := range c.spans {
		if sp.end <= cur {
			continue
		}
		if sp.start >= cur+dur {
			return cur
		}
		cur = sp.end
	}
	return cur
}

func (c *calendar) add(t int, start, end float64) {
	i := sort.Search(len(c.spans), func(i int) bool { return c.spans[i].start >= start })
	c.spans = append(c.spans, span{})
	copy(c.spans[i+1:], c.spans[i:])
	c.spans[i] = span{start: start, end: end, task: t}
}

func (c *calendar) remove(t int) {
	for i := range c.spans {
		if c.spans[i].task == t {
			c.spans = append(c.spans[:i], c.spans[i+1:]...)
			return
		}
	}
}

// Engine holds the hard constraints over a single run: the precedence chain
// per order, one disjunctive calendar per worker and per equipment unit, and
// the eligibility domains from the Problem. It supports incremental
// consistency checks so the search can prune before committing a binding.
// Nothing here is shared across runs.
type Engine struct {
	p         *Problem
	workerCal []calendar
	equipCal  []calendar

	start    []float64
	end      []float64
	worker   []int
	equip    []int
	assigned []bool

	makespan float64
	nAssign  int
}

func NewEngine(p *Problem) *Engine {
	n := len(p.Tasks)
	e := &Engine{
		p:         p,
		workerCal: make([]calendar, len(p.Workers)),
		equipCal:  make([]calendar, len(p.Equipment)),
		start:     make([]float64, n),
		end:       make([]float64, n),
		worker:    make([]int, n),
		equip:     make([]int, n),
		assigned:  make([]bool, n),
	}
	for i := range e.worker {
		e.worker[i] = -1
		e.equip[i] = -1
	}
	return e
}

func (e *Engine) Problem() *Problem    { return e.p }
func (e *Engine) Assigned(t int) bool  { return e.assigned[t] }
func (e *Engine) Start(t int) float64  { return e.start[t] }
func (e *Engine) End(t int) float64    { return e.end[t] }
func (e *Engine) WorkerOf(t int) int   { return e.worker[t] }
func (e *Engine) EquipOf(t int) int    { return e.equip[t] }
func (e *Engine) Makespan() float64    { return e.makespan }
func (e *Engine) AssignedCount() int   { return e.nAssign }
func (e *Engine) Complete() bool       { return e.nAssign == len(e.p.Tasks) }

// PrevEnd returns the completion time of the preceding stage of the same
// order, or 0 for PICK. Returns ok=false while the predecessor is unassigned.
func (e *Engine) PrevEnd(t int) (float64, bool) {
	task := e.p.Tasks[t]
	if task.Stage == StagePick {
		return 0, true
	}
	prev := t - 1
	if !e.assigned[prev] {
		return 0, false
	}
	return e.end[prev], true
}

// EarliestStart computes the earliest feasible start for task t on the given
// worker/equipment pair, honoring the precedence lower bound and both
// calendars. Runs the two availability indexes to a common fixpoint.
func (e *Engine) EarliestStart(t, wi, ei int) (float64, bool) {
	lb, ok := e.PrevEnd(t)
	if !ok {
		return 0, false
	}
	dur := e.p.Tasks[t].Dur
	s := lb
	for {
		s1 := e.workerCal[wi].earliestFrom(s, dur)
		s2 := s1
		if ei >= 0 {
			s2 = e.equipCal[ei].earliestFrom(s1, dur)
		}
		if s2 == s1 {
			return s2, true
		}
		s = s2
	}
}

// Check reports whether binding task t to (worker wi, equipment ei, start)
// would violate any hard constraint, without mutating state. ei is -1 for
// stages that need no equipment.
func (e *Engine) Check(t, wi, ei int, start float64) error {
	task := e.p.Tasks[t]
	if wi < 0 || wi >= len(e.p.Workers) || !e.p.Workers[wi].CanDo(task.Stage) {
		return fmt.Errorf("worker not capable of %s", task.Stage)
	}
	if task.Stage.NeedsEquipment() {
		if ei < 0 || ei >= len(e.p.Equipment) {
			return fmt.Errorf("stage %s requires equipment", task.Stage)
		}
		if e.p.Equipment[ei].Serves != task.Stage {
			return fmt.Errorf("equipment %s does not serve %s", e.p.Equipment[ei].ID, task.Stage)
		}
	} else if ei >= 0 {
		return fmt.Errorf("stage %s takes no equipment", task.Stage)
	}
	lb, ok := e.PrevEnd(t)
	if !ok {
		return fmt.Errorf("predecessor of %s unassigned", task.Stage)
	}
	if start < lb {
		return fmt.Errorf("start %.2f before predecessor end %.2f", start, lb)
	}
	end := start + task.Dur
	if succ := t + 1; task.Stage != StageShip && e.assigned[succ] && end > e.start[succ] {
		return fmt.Errorf("end %.2f after successor start %.2f", end, e.start[succ])
	}
	if e.workerCal[wi].overlaps(start, end) {
		return fmt.Errorf("worker %s busy in [%.2f,%.2f)", e.p.Workers[wi].ID, start, end)
	}
	if ei >= 0 && e.equipCal[ei].overlaps(start, end) {
		return fmt.Errorf("equipment %s busy in [%.2f,%.2f)", e.p.Equipment[ei].ID, start, end)
	}
	return nil
}

// Place commits a binding previously vetted by Check.
func (e *Engine) Place(t, wi, ei int, start float64) {
	end := start + e.p.Tasks[t].Dur
	e.start[t] = start
	e.end[t] = end
	e.worker[t] = wi
	e.equip[t] = ei
	e.assigned[t] = true
	e.nAssign++
	e.workerCal[wi].add(t, start, end)
	if ei >= 0 {
		e.equipCal[ei].add(t, start, end)
	}
	if end > e.makespan {
		e.makespan = end
	}
}

// Unplace removes a binding and releases its calendar slots.
func (e *Engine) Unplace(t int) {
	if !e.assigned[t] {
		return
	}
	e.workerCal[e.worker[t]].remove(t)
	if e.equip[t] >= 0 {
		e.equipCal[e.equip[t]].remove(t)
	}
	wasEnd := e.end[t]
	e.assigned[t] = false
	e.worker[t] = -1
	e.equip[t] = -1
	e.nAssign--
	if wasEnd >= e.makespan {
		e.recalcMakespan()
	}
}

func (e *Engine) recalcMakespan() {
	m := 0.0
	for t := range e.p.Tasks {
		if e.assigned[t] && e.end[t] > m {
			m = e.end[t]
		}
	}
	e.makespan = m
}

// Objective evaluates the full weighted objective over the current (possibly
// partial) assignment: w1*makespan + w2*tardiness + w3*labor + w4*idle.
func (e *Engine) Objective() float64 {
	p := e.p
	w := p.Weights
	tard := 0.0
	labor := 0.0
	idle := 0.0
	for t, task := range p.Tasks {
		if !e.assigned[t] {
			continue
		}
		rate := p.Workers[e.worker[t]].HourlyCost
		if rate <= 0 {
			rate = p.Rates.DefaultHourlyCost
		}
		labor += task.Dur / 60 * rate
		if ei := e.equip[t]; ei >= 0 && p.Equipment[ei].HourlyCost > 0 {
			labor += task.Dur / 60 * p.Equipment[ei].HourlyCost
		}
		if lb, ok := e.PrevEnd(t); ok {
			idle += e.start[t] - lb
		}
		if task.Stage == StageShip {
			tard += math.Max(0, e.end[t]-p.DeadlineMin[task.Order])
		}
	}
	return w.Makespan*e.makespan + w.Tardiness*tard + w.Labor*labor + w.Idle*idle
}
