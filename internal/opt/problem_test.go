package opt

import (
	"errors"
	"testing"
	"time"
)

var testAnchor = time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)

func testPool() ([]Order, []Worker, []Equipment) {
	orders := []Order{
		{ID: "o1", Priority: 1, Deadline: testAnchor.Add(2 * time.Hour), Items: 5, WeightKg: 2},
		{ID: "o2", Priority: 3, Deadline: testAnchor.Add(4 * time.Hour), Items: 8, WeightKg: 12},
		{ID: "o3", Priority: 2, Deadline: testAnchor.Add(3 * time.Hour), Items: 3, WeightKg: 1},
	}
	all := []Stage{StagePick, StageConsolidate, StagePack, StageLabel, StageStage, StageShip}
	workers := []Worker{
		{ID: "w1", Stages: all, HourlyCost: 24},
		{ID: "w2", Stages: all, HourlyCost: 26},
	}
	equipment := []Equipment{
		{ID: "cartA", Serves: StagePick, HourlyCost: 2},
		{ID: "benchA", Serves: StagePack, HourlyCost: 3},
		{ID: "bayA", Serves: StageStage},
		{ID: "dockA", Serves: StageShip},
	}
	return orders, workers, equipment
}

func mustBuild(t *testing.T) *Problem {
	t.Helper()
	orders, workers, equipment := testPool()
	p, err := BuildProblem(orders, workers, equipment, DefaultRateCard(), DefaultWeights(), testAnchor)
	if err != nil {
		t.Fatalf("BuildProblem: %v", err)
	}
	return p
}

func TestParseStage(t *testing.T) {
	for i, name := range []string{"PICK", "CONSOLIDATE", "PACK", "LABEL", "STAGE", "SHIP"} {
		st, err := ParseStage(name)
		if err != nil || int(st) != i {
			t.Fatalf("ParseStage(%s) = %v, %v", name, st, err)
		}
	}
	if _, err := ParseStage("pick"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("lowercase stage should be invalid, got %v", err)
	}
}

func TestNeedsEquipment(t *testing.T) {
	want := map[Stage]bool{
		StagePick: true, StageConsolidate: false, StagePack: true,
		StageLabel: false, StageStage: true, StageShip: true,
	}
	for st, w := range want {
		if st.NeedsEquipment() != w {
			t.Fatalf("NeedsEquipment(%s) = %v, want %v", st, !w, w)
		}
	}
}

func TestBuildProblemValidation(t *testing.T) {
	_, workers, equipment := testPool()
	rc := DefaultRateCard()
	w := DefaultWeights()

	if _, err := BuildProblem(nil, workers, equipment, rc, w, testAnchor); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty orders: %v", err)
	}
	bad := []Order{{ID: "x", Priority: 9, Deadline: testAnchor.Add(time.Hour), Items: 1}}
	if _, err := BuildProblem(bad, workers, equipment, rc, w, testAnchor); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad priority: %v", err)
	}
	bad = []Order{{ID: "x", Priority: 1, Items: 1}}
	if _, err := BuildProblem(bad, workers, equipment, rc, w, testAnchor); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero deadline: %v", err)
	}
	bad = []Order{{ID: "x", Priority: 1, Deadline: testAnchor.Add(time.Hour), Items: 0}}
	if _, err := BuildProblem(bad, workers, equipment, rc, w, testAnchor); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero items: %v", err)
	}
}

func TestBuildProblemInfeasiblePools(t *testing.T) {
	orders, workers, equipment := testPool()
	rc := DefaultRateCard()
	w := DefaultWeights()

	// No worker covers SHIP
	partial := []Worker{{ID: "w1", Stages: []Stage{StagePick, StageConsolidate, StagePack, StageLabel, StageStage}}}
	_, err := BuildProblem(orders, partial, equipment, rc, w, testAnchor)
	if !errors.Is(err, ErrInfeasible) {
		t.Fatalf("missing SHIP capability: %v", err)
	}

	// No equipment serves PACK
	noPack := []Equipment{{ID: "cartA", Serves: StagePick}, {ID: "bayA", Serves: StageStage}, {ID: "dockA", Serves: StageShip}}
	_, err = BuildProblem(orders, workers, noPack, rc, w, testAnchor)
	if !errors.Is(err, ErrInfeasible) {
		t.Fatalf("missing PACK equipment: %v", err)
	}
}

func TestOrderSeqDeterministic(t *testing.T) {
	p := mustBuild(t)
	// priority asc, then deadline, then id: o1 (p1), o3 (p2), o2 (p3)
	seq := p.OrderSeq()
	want := []string{"o1", "o3", "o2"}
	for i, oi := range seq {
		if p.Orders[oi].ID != want[i] {
			t.Fatalf("decision order[%d] = %s, want %s", i, p.Orders[oi].ID, want[i])
		}
	}
}

func TestRateCardDurations(t *testing.T) {
	rc := DefaultRateCard()
	o := Order{ID: "o", Priority: 3, Deadline: testAnchor.Add(time.Hour), Items: 10, WeightKg: 25}

	// pick: 10*0.4 + heavy extra (25 > 20kg), no rush at priority 3
	if got, want := rc.Duration(StagePick, o), 10*0.4+2.0; got != want {
		t.Fatalf("pick duration = %v, want %v", got, want)
	}
	// rush factor applies at priority 2
	rush := o
	rush.Priority = 2
	if got, want := rc.Duration(StagePick, rush), (10*0.4+2.0)*0.9; got != want {
		t.Fatalf("rush pick duration = %v, want %v", got, want)
	}
	// upstream estimate caps the derived pick time before the heavy extra
	est := o
	est.PickEstimateMin = 1.5
	if got, want := rc.Duration(StagePick, est), 1.5+2.0; got != want {
		t.Fatalf("estimated pick duration = %v, want %v", got, want)
	}
	// ship: base + expedited handoff only at priority 1-2
	if got, want := rc.Duration(StageShip, o), 8.0; got != want {
		t.Fatalf("ship duration = %v, want %v", got, want)
	}
	if got, want := rc.Duration(StageShip, rush), 10.0; got != want {
		t.Fatalf("expedited ship duration = %v, want %v", got, want)
	}
	// every duration has a floor of one minute
	tiny := Order{ID: "t", Priority: 3, Deadline: testAnchor.Add(time.Hour), Items: 1}
	if got := rc.Duration(StageConsolidate, tiny); got != 1 {
		t.Fatalf("consolidate floor = %v, want 1", got)
	}
}

func TestEligibilitySortedByID(t *testing.T) {
	orders, _, _ := testPool()
	all := []Stage{StagePick, StageConsolidate, StagePack, StageLabel, StageStage, StageShip}
	// intentionally unsorted resource ids
	workers := []Worker{{ID: "w9", Stages: all}, {ID: "w1", Stages: all}}
	equipment := []Equipment{
		{ID: "cartZ", Serves: StagePick}, {ID: "cartA", Serves: StagePick},
		{ID: "benchA", Serves: StagePack}, {ID: "bayA", Serves: StageStage}, {ID: "dockA", Serves: StageShip},
	}
	p, err := BuildProblem(orders, workers, equipment, DefaultRateCard(), DefaultWeights(), testAnchor)
	if err != nil {
		t.Fatalf("BuildProblem: %v", err)
	}
	ws := p.EligibleWorkers(StagePick)
	if workers[ws[0]].ID != "w1" || workers[ws[1]].ID != "w9" {
		t.Fatalf("workers not sorted by id: %v", ws)
	}
	es := p.EligibleEquipment(StagePick)
	if equipment[es[0]].ID != "cartA" || equipment[es[1]].ID != "cartZ" {
		t.Fatalf("equipment not sorted by id: %v", es)
	}
	if p.EligibleEquipment(StageLabel) != nil {
		t.Fatalf("LABEL should have no equipment domain")
	}
}
