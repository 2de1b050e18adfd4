package planner

import (
	"context"
	"log"

	"ambuplan/internal/assign"
	"ambuplan/internal/opt"
	"ambuplan/internal/world"
)

// Exact is the single-hop dispatcher: every idle vehicle gets at most one
// patient or one coverage target, chosen by a minimum-cost assignment.
//
// Patient cells cost round(3·(d(v,p)+d(p,h))/severity), filler cells
// round(3·d(v,t)), so higher severity numbers are cheaper to serve.
type Exact struct {
	cfg Config
	rnd *seeded
}

func NewExact(cfg Config) *Exact {
	return &Exact{cfg: cfg, rnd: newSeeded(cfg.Seed)}
}

func (e *Exact) Name() string          { return "exact" }
func (e *Exact) ReplanAfterDrop() bool { return true }

func (e *Exact) Solve(ctx context.Context, w *world.World) (world.Plan, error) {
	plan, _, err := e.SolveWithMetrics(ctx, w)
	return plan, err
}

func (e *Exact) SolveWithMetrics(ctx context.Context, w *world.World) (world.Plan, opt.Metrics, error) {
	return observe(e, e.cfg.Run, w, func() (world.Plan, opt.Metrics, error) {
		return e.solve(ctx, w)
	})
}

func (e *Exact) solve(ctx context.Context, w *world.World) (world.Plan, opt.Metrics, error) {
	g := w.Graph()
	plan := world.Plan{}
	m := opt.Metrics{Stop: opt.StopOptimal}

	var idle []world.Vehicle
	for _, v := range w.Vehicles() {
		if v.Free() {
			idle = append(idle, v)
			continue
		}
		plan[v.ID] = deliverCarried(w, v)
	}
	if len(idle) == 0 {
		return plan, m, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, m, err
	}

	waiting := w.WaitingPatients()
	var targets []int
	if surplus := len(idle) - len(waiting); surplus > 0 {
		if surplus > g.Len() {
			surplus = g.Len()
		}
		rng, _ := e.rnd.next()
		var err error
		if targets, err = e.cfg.Coverage.Targets(g, surplus, rng); err != nil {
			return nil, m, err
		}
	}

	cost := exactCosts(w, idle, waiting, targets)
	rows, err := assign.Solve(cost)
	if err != nil {
		return nil, m, err
	}
	m.Evaluations = 1

	total := 0
	for i, v := range idle {
		j := rows[i]
		if j < 0 || cost[i][j] == assign.MaxCost {
			plan[v.ID] = nil
			continue
		}
		total += cost[i][j]
		if j < len(waiting) {
			p := waiting[j]
			h, _, _ := w.NearestHospital(p.Node)
			actions := moveChain(g, v.ID, v.Node, p.Node)
			actions = append(actions, world.NewPick(v.ID, p.Node, p.ID))
			actions = append(actions, moveChain(g, v.ID, p.Node, h.Node)...)
			plan[v.ID] = append(actions, world.NewDrop(v.ID, h.Node, p.ID))
			continue
		}
		plan[v.ID] = moveChain(g, v.ID, v.Node, targets[j-len(waiting)])
	}
	m.InitialCost, m.BestCost = float64(total), float64(total)
	return plan, m, nil
}

// exactCosts builds the idle × (waiting ∪ targets) matrix.
func exactCosts(w *world.World, idle []world.Vehicle, waiting []world.Patient, targets []int) [][]int {
	g := w.Graph()
	cost := make([][]int, len(idle))
	for i, v := range idle {
		row := make([]int, 0, len(waiting)+len(targets))
		for _, p := range waiting {
			_, dh, ok := w.NearestHospital(p.Node)
			if !ok {
				row = append(row, assign.MaxCost)
				continue
			}
			row = append(row, cell(3*(g.Distance(v.Node, p.Node)+dh)/float64(p.Severity)))
		}
		for _, t := range targets {
			row = append(row, cell(3*g.Distance(v.Node, t)))
		}
		cost[i] = row
	}
	return cost
}

// deliverCarried routes a loaded vehicle to its nearest hospital and drops
// the patient there. It is empty when no hospital is reachable.
func deliverCarried(w *world.World, v world.Vehicle) []world.Action {
	h, _, ok := w.NearestHospital(v.Node)
	if !ok {
		log.Printf("[PLANNER] A%d carries P%d but no hospital is reachable from N%d", v.ID, v.Patient, v.Node)
		return nil
	}
	actions := moveChain(w.Graph(), v.ID, v.Node, h.Node)
	return append(actions, world.NewDrop(v.ID, h.Node, v.Patient))
}
