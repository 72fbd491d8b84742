package opt

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Stage is one of the six fixed fulfillment steps every order passes through,
// in this order. The ordering is a hard precedence chain.
type Stage int

const (
	StagePick Stage = iota
	StageConsolidate
	StagePack
	StageLabel
	StageStage
	StageShip
)

const NumStages = 6

var stageNames = [NumStages]string{"PICK", "CONSOLIDATE", "PACK", "LABEL", "STAGE", "SHIP"}

func (s Stage) String() string {
	if s < 0 || int(s) >= NumStages {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, name)
}

// NeedsEquipment reports whether a stage type occupies an equipment unit
// (pick cart, packing station, staging bay, dock door). CONSOLIDATE and
// LABEL are worker-only.
func (s Stage) NeedsEquipment() bool {
	switch s {
	case StagePick, StagePack, StageStage, StageShip:
		return true
	}
	return false
}

var (
	// ErrInvalidInput marks malformed or incomplete order/resource records.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInfeasible marks a resource pool that cannot satisfy the hard
	// constraints regardless of timing (e.g. no eligible worker for a stage).
	ErrInfeasible = errors.New("infeasible")
)

type Order struct {
	ID              string
	Priority        int // 1 (highest) .. 5
	Deadline        time.Time
	Items           int
	WeightKg        float64
	PickEstimateMin float64 // optional upstream estimate, 0 = unknown
	PackEstimateMin float64
}

type Worker struct {
	ID         string
	Stages     []Stage // capability set
	HourlyCost float64
}

func (w Worker) CanDo(s Stage) bool {
	for _, c := range w.Stages {
		if c == s {
			return true
		}
	}
	return false
}

type Equipment struct {
	ID         string
	Serves     Stage
	HourlyCost float64
}

// Weights are the objective term weights. Defaults favor deadline compliance
// over raw cost.
type Weights struct {
	Makespan  float64
	Tardiness float64
	Labor     float64
	Idle      float64
}

func DefaultWeights() Weights {
	return Weights{Makespan: 1, Tardiness: 4, Labor: 0.1, Idle: 0.05}
}

// Task is one stage instance of one order with its derived base duration.
type Task struct {
	Order int
	Stage Stage
	Dur   float64 // minutes, best-case achievable
}

// Problem is a bounded scheduling instance: six tasks per order plus the
// eligibility domains derived from capabilities and equipment kinds.
// All times are float64 minutes from Anchor.
type Problem struct {
	Orders    []Order
	Workers   []Worker
	Equipment []Equipment
	Anchor    time.Time
	Rates     RateCard
	Weights   Weights

	IterationsLimit         int
	InitialTemp             float64
	Cooling                 float64
	InitialRemovalWeights   []float64 // [random, related]
	InitialInsertionWeights []float64 // [greedy, regret2]

	Tasks       []Task
	DeadlineMin []float64 // per order, minutes from Anchor (may be <= 0)

	eligibleWorkers [NumStages][]int // worker indices per stage, sorted by ID
	eligibleEquip   [NumStages][]int // equipment indices per stage, sorted by ID
	orderSeq        []int            // order indices in decision order
}

// TaskIndex maps (order, stage) to the flat task index.
func (p *Problem) TaskIndex(order int, s Stage) int { return order*NumStages + int(s) }

// EligibleWorkers returns the capability-eligible worker indices for a stage.
func (p *Problem) EligibleWorkers(s Stage) []int { return p.eligibleWorkers[s] }

// EligibleEquipment returns the stage-matching equipment indices, nil for
// stages that need none.
func (p *Problem) EligibleEquipment(s Stage) []int {
	if !s.NeedsEquipment() {
		return nil
	}
	return p.eligibleEquip[s]
}

// OrderSeq is the fixed decision order: ascending priority ordinal, then
// ascending deadline, then ascending order id. The tie-break makes plans
// reproducible for a given seed.
func (p *Problem) OrderSeq() []int { return p.orderSeq }

// BuildProblem validates inputs eagerly and derives tasks, durations and
// eligibility domains. It fails with ErrInvalidInput on malformed orders and
// with ErrInfeasible when a stage has no eligible worker or (where required)
// no serving equipment unit, naming the stage.
func BuildProblem(orders []Order, workers []Worker, equipment []Equipment, rc RateCard, w Weights, anchor time.Time) (*Problem, error) {
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: no orders", ErrInvalidInput)
	}
	for _, o := range orders {
		if o.Priority < 1 || o.Priority > 5 {
			return nil, fmt.Errorf("%w: order %s has no priority (got %d, want 1..5)", ErrInvalidInput, o.ID, o.Priority)
		}
		if o.Deadline.IsZero() {
			return nil, fmt.Errorf("%w: order %s has no shipping deadline", ErrInvalidInput, o.ID)
		}
		if o.Items <= 0 {
			return nil, fmt.Errorf("%w: order %s has no items", ErrInvalidInput, o.ID)
		}
	}

	p := &Problem{
		Orders:    orders,
		Workers:   workers,
		Equipment: equipment,
		Anchor:    anchor,
		Rates:     rc,
		Weights:   w,
	}

	for st := Stage(0); st < NumStages; st++ {
		for wi, wk := range workers {
			if wk.CanDo(st) {
				p.eligibleWorkers[st] = append(p.eligibleWorkers[st], wi)
			}
		}
		if len(p.eligibleWorkers[st]) == 0 {
			return nil, fmt.Errorf("%w: no eligible workers for stage %s", ErrInfeasible, st)
		}
		sortByID(p.eligibleWorkers[st], func(i int) string { return workers[i].ID })
		if st.NeedsEquipment() {
			for ei, eq := range equipment {
				if eq.Serves == st {
					p.eligibleEquip[st] = append(p.eligibleEquip[st], ei)
				}
			}
			if len(p.eligibleEquip[st]) == 0 {
				return nil, fmt.Errorf("%w: no equipment serves stage %s", ErrInfeasible, st)
			}
			sortByID(p.eligibleEquip[st], func(i int) string { return equipment[i].ID })
		}
	}

	p.Tasks = make([]Task, 0, len(orders)*NumStages)
	p.DeadlineMin = make([]float64, len(orders))
	for oi, o := range orders {
		p.DeadlineMin[oi] = o.Deadline.Sub(anchor).Minutes()
		for st := Stage(0); st < NumStages; st++ {
			p.Tasks = append(p.Tasks, Task{Order: oi, Stage: st, Dur: rc.Duration(st, o)})
		}
	}

	p.orderSeq = make([]int, len(orders))
	for i := range p.orderSeq {
		p.orderSeq[i] = i
	}
	sort.SliceStable(p.orderSeq, func(a, b int) bool {
		oa, ob := orders[p.orderSeq[a]], orders[p.orderSeq[b]]
		if oa.Priority != ob.Priority {
			return oa.Priority < ob.Priority
		}
		if !oa.Deadline.Equal(ob.Deadline) {
			return oa.Deadline.Before(ob.Deadline)
		}
		return oa.ID < ob.ID
	})
	return p, nil
}

func sortByID(idx []int, id func(int) string) {
	sort.Slice(idx, func(a, b int) bool { return id(idx[a]) < id(idx[b]) })
}
