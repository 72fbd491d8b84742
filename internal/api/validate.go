package api

import (
	"fmt"
	"strings"
	"time"

	"waveopt/internal/model"
)

func validateOptimizeRequest(req *model.OptimizeRequest) error {
	if req.WaveDate == "" {
		return fmt.Errorf("waveDate is required")
	}
	if req.Algorithm != "" && req.Algorithm != "greedy" && req.Algorithm != "anneal" {
		return fmt.Errorf("invalid algorithm: %s", req.Algorithm)
	}
	if req.StartAt != "" {
		if _, err := time.Parse(time.RFC3339, req.StartAt); err != nil {
			return fmt.Errorf("startAt must be RFC3339")
		}
	}
	if req.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	if req.MaxIterations < 0 {
		return fmt.Errorf("maxIterations must be >= 0")
	}
	if req.MaxOrders < 0 {
		return fmt.Errorf("maxOrders must be >= 0")
	}
	if req.InitTemp < 0 {
		return fmt.Errorf("initTemp must be >= 0")
	}
	if req.Cooling != 0 && (req.Cooling <= 0 || req.Cooling >= 1) {
		return fmt.Errorf("cooling must be in (0,1)")
	}
	if len(req.RemovalWeights) > 0 && len(req.RemovalWeights) != 2 {
		return fmt.Errorf("removalWeights must have length 2")
	}
	if len(req.InsertionWeights) > 0 && len(req.InsertionWeights) != 2 {
		return fmt.Errorf("insertionWeights must have length 2")
	}
	if req.Objectives != nil {
		allowed := map[string]struct{}{"makespan": {}, "tardiness": {}, "labor": {}, "idle": {}}
		for k, v := range req.Objectives {
			if v < 0 {
				return fmt.Errorf("objective %s must be >= 0", k)
			}
			if _, ok := allowed[strings.ToLower(k)]; !ok {
				return fmt.Errorf("unknown objective key: %s (allowed: makespan,tardiness,labor,idle)", k)
			}
		}
	}
	return nil
}

func validateOrders(orders []model.OrderIn) error {
	for i, o := range orders {
		if o.Items <= 0 {
			return fmt.Errorf("order %d: items must be > 0", i)
		}
		if o.Priority < 1 || o.Priority > 5 {
			return fmt.Errorf("order %d: priority must be in 1..5", i)
		}
		if o.Deadline == "" {
			return fmt.Errorf("order %d: deadline is required", i)
		}
		if _, err := time.Parse(time.RFC3339, o.Deadline); err != nil {
			return fmt.Errorf("order %d: deadline must be RFC3339", i)
		}
	}
	return nil
}
