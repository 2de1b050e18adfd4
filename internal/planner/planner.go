// Package planner turns a world snapshot into per-vehicle action queues.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"ambuplan/internal/assign"
	"ambuplan/internal/coverage"
	"ambuplan/internal/graph"
	"ambuplan/internal/metrics"
	"ambuplan/internal/opt"
	"ambuplan/internal/world"
)

var ErrUnknownPlanner = errors.New("planner: unknown planner")

// Planner reads a world snapshot and returns a complete plan. Solve must not
// mutate w.
type Planner interface {
	Name() string
	// ReplanAfterDrop tells the driver to call Solve again after every Drop.
	ReplanAfterDrop() bool
	Solve(ctx context.Context, w *world.World) (world.Plan, error)
}

// Metered planners also report search statistics for a solve.
type Metered interface {
	Planner
	SolveWithMetrics(ctx context.Context, w *world.World) (world.Plan, opt.Metrics, error)
}

type Config struct {
	Seed     int64
	Swarm    opt.Settings
	Coverage coverage.Clusterer
	Run      string // metrics-store key; empty for ad-hoc plans
}

func DefaultConfig() Config {
	return Config{Seed: 1, Swarm: opt.DefaultSettings(), Coverage: coverage.Default()}
}

var registry = map[string]func(Config) Planner{
	"exact": func(c Config) Planner { return NewExact(c) },
	"swarm": func(c Config) Planner { return NewSwarm(c) },
}

// New builds a planner by name.
func New(name string, cfg Config) (Planner, error) {
	mk, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownPlanner, name, strings.Join(Names(), ", "))
	}
	return mk(cfg), nil
}

// Names lists registered planners.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// seeded hands out a reproducible random stream that survives across solves.
type seeded struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSeeded(seed int64) *seeded {
	if seed == 0 {
		seed = 1
	}
	return &seeded{rng: rand.New(rand.NewSource(seed))}
}

// next derives an independent generator for one solve.
func (s *seeded) next() (*rand.Rand, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seed := s.rng.Int63()
	return rand.New(rand.NewSource(seed)), seed
}

// observe times a solve and records it in prometheus and the opt metrics
// store.
func observe(p Planner, run string, w *world.World, fn func() (world.Plan, opt.Metrics, error)) (world.Plan, opt.Metrics, error) {
	start := time.Now()
	plan, m, err := fn()
	elapsed := time.Since(start)
	m.Elapsed = elapsed

	tag := strings.ToUpper(p.Name())
	metrics.PlannerDuration.WithLabelValues(p.Name()).Observe(elapsed.Seconds())
	if err != nil {
		metrics.PlannerSolves.WithLabelValues(p.Name(), "error").Inc()
		log.Printf("[%s] solve failed after %v: %v", tag, elapsed, err)
		return nil, m, err
	}
	metrics.PlannerSolves.WithLabelValues(p.Name(), "ok").Inc()
	if m.Iterations > 0 {
		metrics.SwarmIterations.Observe(float64(m.Iterations))
	}
	opt.RecordMetrics(run, p.Name(), m)
	log.Printf("[%s] %d vehicles, %d waiting: %d actions, cost=%.2f stop=%s in %v",
		tag, len(w.Vehicles()), len(w.WaitingPatients()), plan.Len(), m.BestCost, m.Stop, elapsed)
	return plan, m, nil
}

// moveChain returns the Move actions along the shortest path from..to. It is
// empty when from == to or to is unreachable.
func moveChain(g *graph.Graph, v world.VehicleID, from, to int) []world.Action {
	path := g.Path(from, to)
	var out []world.Action
	for i := 0; i+1 < len(path); i++ {
		out = append(out, world.NewMove(v, path[i], path[i+1]))
	}
	return out
}

// cell rounds a real cost into an assignment cell. Unreachable costs map to
// assign.MaxCost; finite ones stay strictly below it.
func cell(x float64) int {
	if math.IsInf(x, 1) || math.IsNaN(x) {
		return assign.MaxCost
	}
	r := math.Round(x)
	if r >= assign.MaxCost {
		return assign.MaxCost - 1
	}
	return int(r)
}

// reposition sends each free vehicle to a distinct coverage target, matching
// vehicles to targets by unscaled shortest distance.
func reposition(g *graph.Graph, free []world.Vehicle, cl coverage.Clusterer, rng *rand.Rand, plan world.Plan) error {
	if len(free) == 0 {
		return nil
	}
	k := len(free)
	if k > g.Len() {
		k = g.Len()
	}
	targets, err := cl.Targets(g, k, rng)
	if err != nil {
		return err
	}
	cost := make([][]int, len(free))
	for i, v := range free {
		cost[i] = make([]int, len(targets))
		for j, t := range targets {
			cost[i][j] = cell(g.Distance(v.Node, t))
		}
	}
	rows, err := assign.Solve(cost)
	if err != nil {
		return err
	}
	for i, v := range free {
		j := rows[i]
		if j < 0 || cost[i][j] == assign.MaxCost {
			continue
		}
		plan[v.ID] = moveChain(g, v.ID, v.Node, targets[j])
	}
	return nil
}
