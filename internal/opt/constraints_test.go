package opt

import (
	"math"
	"strings"
	"testing"
)

func closeTo(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCalendarOverlapsAndEarliest(t *testing.T) {
	var c calendar
	c.add(1, 10, 20)
	c.add(2, 30, 40)

	if c.overlaps(0, 10) {
		t.Fatalf("[0,10) should not overlap [10,20)")
	}
	if !c.overlaps(15, 25) {
		t.Fatalf("[15,25) should overlap [10,20)")
	}
	if !c.overlaps(5, 35) {
		t.Fatalf("[5,35) spans both bookings")
	}

	// gap [20,30) is too small for dur 15; next free slot starts at 40
	if got := c.earliestFrom(0, 15); got != 40 {
		t.Fatalf("earliestFrom(0,15) = %v, want 40", got)
	}
	if got := c.earliestFrom(0, 10); got != 0 {
		t.Fatalf("earliestFrom(0,10) = %v, want 0", got)
	}
	if got := c.earliestFrom(12, 5); got != 20 {
		t.Fatalf("earliestFrom(12,5) = %v, want 20", got)
	}

	c.remove(1)
	if c.overlaps(10, 20) {
		t.Fatalf("removed span still booked")
	}
}

func TestEnginePrecedenceChain(t *testing.T) {
	p := mustBuild(t)
	e := NewEngine(p)

	pick := p.TaskIndex(0, StagePick)
	cons := p.TaskIndex(0, StageConsolidate)

	if lb, ok := e.PrevEnd(pick); !ok || lb != 0 {
		t.Fatalf("PICK lower bound = %v, %v", lb, ok)
	}
	if _, ok := e.PrevEnd(cons); ok {
		t.Fatalf("CONSOLIDATE lower bound available before PICK assigned")
	}

	e.Place(pick, 0, 0, 0)
	lb, ok := e.PrevEnd(cons)
	if !ok || lb != p.Tasks[pick].Dur {
		t.Fatalf("CONSOLIDATE lower bound = %v, want %v", lb, p.Tasks[pick].Dur)
	}
}

func TestEngineEarliestStartAvoidsBusyResources(t *testing.T) {
	p := mustBuild(t)
	e := NewEngine(p)

	// Book worker 0 and the pick cart on order o1's PICK
	p0 := p.TaskIndex(0, StagePick)
	e.Place(p0, 0, 0, 0)
	end0 := e.End(p0)

	// Order o2's PICK on the same worker+cart must queue behind it
	p1 := p.TaskIndex(1, StagePick)
	s, ok := e.EarliestStart(p1, 0, 0)
	if !ok || s != end0 {
		t.Fatalf("EarliestStart on busy pair = %v, %v, want %v", s, ok, end0)
	}
	// A free worker still waits on the shared cart
	s, ok = e.EarliestStart(p1, 1, 0)
	if !ok || s != end0 {
		t.Fatalf("EarliestStart on busy cart = %v, %v, want %v", s, ok, end0)
	}
}

func TestEngineCheckViolations(t *testing.T) {
	orders, _, equipment := testPool()
	all := []Stage{StagePick, StageConsolidate, StagePack, StageLabel, StageStage, StageShip}
	workers := []Worker{
		{ID: "w1", Stages: all},
		{ID: "w2", Stages: []Stage{StagePick}},
	}
	p, err := BuildProblem(orders, workers, equipment, DefaultRateCard(), DefaultWeights(), testAnchor)
	if err != nil {
		t.Fatalf("BuildProblem: %v", err)
	}
	e := NewEngine(p)

	pick := p.TaskIndex(0, StagePick)
	cons := p.TaskIndex(0, StageConsolidate)

	if err := e.Check(cons, 1, -1, 0); err == nil || !strings.Contains(err.Error(), "not capable") {
		t.Fatalf("capability violation not caught: %v", err)
	}
	if err := e.Check(pick, 0, -1, 0); err == nil || !strings.Contains(err.Error(), "requires equipment") {
		t.Fatalf("missing equipment not caught: %v", err)
	}
	if err := e.Check(cons, 0, 0, 0); err == nil || !strings.Contains(err.Error(), "takes no equipment") {
		t.Fatalf("stray equipment not caught: %v", err)
	}
	if err := e.Check(cons, 0, -1, 0); err == nil || !strings.Contains(err.Error(), "unassigned") {
		t.Fatalf("unassigned predecessor not caught: %v", err)
	}

	e.Place(pick, 0, 0, 0)
	pickEnd := e.End(pick)
	if err := e.Check(cons, 0, -1, pickEnd-0.5); err == nil || !strings.Contains(err.Error(), "before predecessor") {
		t.Fatalf("precedence violation not caught: %v", err)
	}
	// worker 0 is busy during its own pick
	otherPick := p.TaskIndex(1, StagePick)
	if err := e.Check(otherPick, 0, 0, 0); err == nil || !strings.Contains(err.Error(), "busy") {
		t.Fatalf("calendar violation not caught: %v", err)
	}
	if err := e.Check(cons, 0, -1, pickEnd); err != nil {
		t.Fatalf("valid binding rejected: %v", err)
	}
}

func TestEnginePlaceUnplaceMakespan(t *testing.T) {
	p := mustBuild(t)
	e := NewEngine(p)

	pick := p.TaskIndex(0, StagePick)
	cons := p.TaskIndex(0, StageConsolidate)
	e.Place(pick, 0, 0, 0)
	pickEnd := e.End(pick)
	e.Place(cons, 0, -1, pickEnd)
	consEnd := e.End(cons)

	if e.Makespan() != consEnd {
		t.Fatalf("makespan = %v, want %v", e.Makespan(), consEnd)
	}
	if e.AssignedCount() != 2 {
		t.Fatalf("assigned count = %d", e.AssignedCount())
	}

	e.Unplace(cons)
	if e.Makespan() != pickEnd {
		t.Fatalf("makespan after unplace = %v, want %v", e.Makespan(), pickEnd)
	}
	if e.Assigned(cons) || e.WorkerOf(cons) != -1 {
		t.Fatalf("unplaced task still bound")
	}
	// worker slot freed again
	if s, ok := e.EarliestStart(cons, 1, -1); !ok || s != pickEnd {
		t.Fatalf("slot not released: %v, %v", s, ok)
	}
}

func TestEngineObjective(t *testing.T) {
	p := mustBuild(t)
	e := NewEngine(p)

	pick := p.TaskIndex(0, StagePick)
	e.Place(pick, 0, 0, 0) // w1 at 24/h plus cartA at 2/h
	dur := p.Tasks[pick].Dur

	w := p.Weights
	want := w.Makespan*dur + w.Labor*dur/60*(24+2)
	if got := e.Objective(); !closeTo(got, want) {
		t.Fatalf("objective = %v, want %v", got, want)
	}

	// Idle between PICK end and a delayed CONSOLIDATE start
	cons := p.TaskIndex(0, StageConsolidate)
	e.Place(cons, 1, -1, dur+7)
	cdur := p.Tasks[cons].Dur
	want += w.Makespan*(7+cdur) + w.Labor*cdur/60*26 + w.Idle*7
	if got := e.Objective(); !closeTo(got, want) {
		t.Fatalf("objective with idle = %v, want %v", got, want)
	}
}
