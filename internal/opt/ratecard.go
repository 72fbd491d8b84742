package opt

import (
	"math"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// RateCard holds the fixed per-stage duration rules. Values are best-case
// achievable minutes; the naive baseline generator layers its own fixed
// penalties on top of the same card.
type RateCard struct {
	PickPerItemMin       float64 `yaml:"pickPerItemMin"`
	PickHeavyThresholdKg float64 `yaml:"pickHeavyThresholdKg"`
	PickHeavyExtraMin    float64 `yaml:"pickHeavyExtraMin"`
	PickRushFactor       float64 `yaml:"pickRushFactor"` // applied for priority 1-2

	ConsolidatePerItemMin      float64 `yaml:"consolidatePerItemMin"`
	ConsolidateThresholdItems  int     `yaml:"consolidateThresholdItems"`
	ConsolidateExtraPerItemMin float64 `yaml:"consolidateExtraPerItemMin"`

	PackPerItemMin float64 `yaml:"packPerItemMin"`
	PackPerKgMin   float64 `yaml:"packPerKgMin"`

	LabelBaseMin         float64 `yaml:"labelBaseMin"`
	LabelThresholdItems  int     `yaml:"labelThresholdItems"`
	LabelPerExtraItemMin float64 `yaml:"labelPerExtraItemMin"`

	StageBaseMin          float64 `yaml:"stageBaseMin"`
	StageHeavyThresholdKg float64 `yaml:"stageHeavyThresholdKg"`
	StageHeavyExtraMin    float64 `yaml:"stageHeavyExtraMin"`

	ShipBaseMin           float64 `yaml:"shipBaseMin"`
	ShipExpeditedExtraMin float64 `yaml:"shipExpeditedExtraMin"` // priority 1-2 carrier handoff

	DefaultHourlyCost float64 `yaml:"defaultHourlyCost"`
}

func DefaultRateCard() RateCard {
	return RateCard{
		PickPerItemMin:       0.4,
		PickHeavyThresholdKg: 20,
		PickHeavyExtraMin:    2,
		PickRushFactor:       0.9,

		ConsolidatePerItemMin:      0.2,
		ConsolidateThresholdItems:  10,
		ConsolidateExtraPerItemMin: 0.1,

		PackPerItemMin: 0.5,
		PackPerKgMin:   0.05,

		LabelBaseMin:         2,
		LabelThresholdItems:  5,
		LabelPerExtraItemMin: 0.25,

		StageBaseMin:          5,
		StageHeavyThresholdKg: 50,
		StageHeavyExtraMin:    3,

		ShipBaseMin:           8,
		ShipExpeditedExtraMin: 2,

		DefaultHourlyCost: 22,
	}
}

// LoadRateCard overlays a YAML file onto the defaults. Missing file -> defaults.
func LoadRateCard(path string) (RateCard, error) {
	rc := DefaultRateCard()
	if path == "" {
		return rc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rc, nil
		}
		return rc, err
	}
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return rc, err
	}
	return rc, nil
}

// Duration computes the base duration of one stage instance in minutes.
// Upstream pick/pack estimates cap the derived value when smaller: the card
// models the best case achievable with good routing and assignment.
func (rc RateCard) Duration(s Stage, o Order) float64 {
	var d float64
	switch s {
	case StagePick:
		d = float64(o.Items) * rc.PickPerItemMin
		if o.PickEstimateMin > 0 {
			d = math.Min(d, o.PickEstimateMin)
		}
		if o.WeightKg > rc.PickHeavyThresholdKg {
			d += rc.PickHeavyExtraMin
		}
		if o.Priority <= 2 && rc.PickRushFactor > 0 {
			d *= rc.PickRushFactor
		}
	case StageConsolidate:
		d = float64(o.Items) * rc.ConsolidatePerItemMin
		if extra := o.Items - rc.ConsolidateThresholdItems; extra > 0 {
			d += float64(extra) * rc.ConsolidateExtraPerItemMin
		}
	case StagePack:
		d = float64(o.Items)*rc.PackPerItemMin + o.WeightKg*rc.PackPerKgMin
		if o.PackEstimateMin > 0 {
			d = math.Min(d, o.PackEstimateMin)
		}
	case StageLabel:
		d = rc.LabelBaseMin
		if extra := o.Items - rc.LabelThresholdItems; extra > 0 {
			d += float64(extra) * rc.LabelPerExtraItemMin
		}
	case StageStage:
		d = rc.StageBaseMin
		if o.WeightKg > rc.StageHeavyThresholdKg {
			d += rc.StageHeavyExtraMin
		}
	case StageShip:
		d = rc.ShipBaseMin
		if o.Priority <= 2 {
			d += rc.ShipExpeditedExtraMin
		}
	}
	return math.Max(d, 1)
}
