package api

import (
	"fmt"
	"strings"

	"ambuplan/internal/model"
	"ambuplan/internal/planner"
)

func validateSolverOptions(o *model.SolverOptions) error {
	if o.Planner != "" {
		known := false
		for _, n := range planner.Names() {
			if strings.EqualFold(n, o.Planner) {
				known = true
			}
		}
		if !known {
			return fmt.Errorf("invalid planner: %s (allowed: %s)", o.Planner, strings.Join(planner.Names(), ","))
		}
	}
	if o.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	if o.MaxIterations != nil && *o.MaxIterations < 0 {
		return fmt.Errorf("maxIterations must be >= 0")
	}
	if o.SwarmSize < 0 {
		return fmt.Errorf("swarmSize must be >= 0")
	}
	return nil
}

func validateRunRequest(req *model.RunRequest) error {
	if err := validateSolverOptions(&req.SolverOptions); err != nil {
		return err
	}
	if req.MaxSteps < 0 {
		return fmt.Errorf("maxSteps must be >= 0")
	}
	if a := req.Arrivals; a != nil {
		if a.Probability < 0 || a.Probability > 1 {
			return fmt.Errorf("arrivals.probability must be in [0,1]")
		}
		if a.Max < 0 {
			return fmt.Errorf("arrivals.max must be >= 0")
		}
	}
	return nil
}
