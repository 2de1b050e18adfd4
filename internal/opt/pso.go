package opt

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrNoFeasibleParticle is returned when every particle of the initial swarm
// evaluates to a non-finite cost.
var ErrNoFeasibleParticle = errors.New("opt: no feasible particle in initial swarm")

// Evaluator scores a position; lower is better. Non-finite scores are
// infeasible. It may be called from several goroutines at once.
type Evaluator func(position []float64) float64

type Settings struct {
	SwarmSize       int
	MaxIterations   int // 0 samples the initial swarm only
	StallIterations int // stop after this many iterations without a new global best
	Inertia         float64
	Cognitive       float64
	Social          float64
	TimeBudget      time.Duration // zero means unlimited
	Lower, Upper    float64       // initial position range
	SnapshotEvery   int
	Workers         int // concurrent evaluations; 0 means GOMAXPROCS
}

func DefaultSettings() Settings {
	return Settings{
		SwarmSize:       30,
		MaxIterations:   1000,
		StallIterations: 50,
		Inertia:         0.6,
		Cognitive:       0.3,
		Social:          0.1,
		Lower:           0,
		Upper:           1,
		SnapshotEvery:   25,
	}
}

type StopReason string

const (
	StopMaxIterations StopReason = "max_iterations"
	StopStalled       StopReason = "stalled"
	StopTimeBudget    StopReason = "time_budget"
	StopCancelled     StopReason = "cancelled"
	StopTrivial       StopReason = "trivial" // nothing to search
	StopOptimal       StopReason = "optimal" // exact solvers
)

type Metrics struct {
	Iterations   int           `json:"iterations"`
	Evaluations  int           `json:"evaluations"`
	Improvements int           `json:"improvements"`
	InitialCost  float64       `json:"initialCost"`
	BestCost     float64       `json:"bestCost"`
	Stop         StopReason    `json:"stop"`
	Elapsed      time.Duration `json:"elapsedNs"`
	Snapshots    []Snapshot    `json:"snapshots,omitempty"`
}

type Snapshot struct {
	Iteration int     `json:"iteration"`
	BestCost  float64 `json:"bestCost"`
}

type Result struct {
	Best []float64
	Cost float64
}

// Swarm is a particle swarm optimiser over unbounded real vectors.
type Swarm struct {
	Settings Settings
	Seed     int64 // 0 is treated as 1
}

func NewSwarm(s Settings, seed int64) *Swarm {
	return &Swarm{Settings: s, Seed: seed}
}

type particle struct {
	pos, vel []float64
	best     []float64
	bestCost float64
	cost     float64
}

// Minimize searches dims-dimensional space for the position with the lowest
// score. It returns the best position found when it runs out of iterations,
// stalls, exceeds the time budget or ctx is cancelled.
func (s *Swarm) Minimize(ctx context.Context, dims int, eval Evaluator) (Result, Metrics, error) {
	start := time.Now()
	cfg := s.withDefaults()
	seed := s.Seed
	if seed == 0 {
		seed = 1
	}
	rng := rand.New(rand.NewSource(seed))
	m := Metrics{}

	if dims == 0 {
		c := score(eval, nil)
		m.Evaluations, m.Stop, m.Elapsed = 1, StopTrivial, time.Since(start)
		m.InitialCost, m.BestCost = c, c
		if math.IsInf(c, 1) {
			return Result{}, m, ErrNoFeasibleParticle
		}
		return Result{Best: []float64{}, Cost: c}, m, nil
	}

	span := cfg.Upper - cfg.Lower
	swarm := make([]particle, cfg.SwarmSize)
	for i := range swarm {
		p := &swarm[i]
		p.pos = make([]float64, dims)
		p.vel = make([]float64, dims)
		for d := 0; d < dims; d++ {
			p.pos[d] = cfg.Lower + rng.Float64()*span
			p.vel[d] = -span + rng.Float64()*2*span
		}
	}
	// evaluations run under the budget deadline so queued particles are
	// skipped once it passes
	evalCtx := ctx
	var deadline time.Time
	if cfg.TimeBudget > 0 {
		deadline = start.Add(cfg.TimeBudget)
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	n, err := evaluateAll(evalCtx, swarm, eval, cfg.Workers)
	m.Evaluations += n
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, m, err
		}
		m.Stop = StopTimeBudget
	}

	gbest, gcost := []float64(nil), math.Inf(1)
	for i := range swarm {
		p := &swarm[i]
		p.best = append([]float64(nil), p.pos...)
		p.bestCost = p.cost
		if p.cost < gcost {
			gbest, gcost = append([]float64(nil), p.pos...), p.cost
		}
	}
	if gbest == nil {
		m.Elapsed = time.Since(start)
		m.InitialCost, m.BestCost = math.Inf(1), math.Inf(1)
		return Result{}, m, ErrNoFeasibleParticle
	}
	m.InitialCost, m.BestCost = gcost, gcost

	stall := 0
	for {
		switch {
		case m.Iterations >= cfg.MaxIterations:
			m.Stop = StopMaxIterations
		case stall >= cfg.StallIterations:
			m.Stop = StopStalled
		case ctx.Err() != nil:
			m.Stop = StopCancelled
		case !deadline.IsZero() && time.Now().After(deadline):
			m.Stop = StopTimeBudget
		}
		if m.Stop != "" {
			break
		}
		m.Iterations++

		for i := range swarm {
			p := &swarm[i]
			for d := 0; d < dims; d++ {
				rl, rg := rng.Float64(), rng.Float64()
				p.vel[d] = cfg.Inertia*p.vel[d] +
					cfg.Cognitive*rl*(p.best[d]-p.pos[d]) +
					cfg.Social*rg*(gbest[d]-p.pos[d])
				p.pos[d] += p.vel[d]
			}
		}
		n, err := evaluateAll(evalCtx, swarm, eval, cfg.Workers)
		m.Evaluations += n

		improved := false
		for i := range swarm {
			p := &swarm[i]
			if p.cost < p.bestCost {
				copy(p.best, p.pos)
				p.bestCost = p.cost
				if p.cost < gcost {
					copy(gbest, p.pos)
					gcost = p.cost
					improved = true
				}
			}
		}
		if improved {
			stall = 0
			m.Improvements++
			m.BestCost = gcost
		} else {
			stall++
		}
		if cfg.SnapshotEvery > 0 && m.Iterations%cfg.SnapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, Snapshot{Iteration: m.Iterations, BestCost: gcost})
		}
		if err != nil {
			// interrupted mid-iteration; the scored particles are already folded in
			m.Stop = StopTimeBudget
			if ctx.Err() != nil {
				m.Stop = StopCancelled
			}
			break
		}
	}
	m.Elapsed = time.Since(start)
	return Result{Best: gbest, Cost: gcost}, m, nil
}

func (s *Swarm) withDefaults() Settings {
	cfg := s.Settings
	def := DefaultSettings()
	if cfg.SwarmSize <= 0 {
		cfg.SwarmSize = def.SwarmSize
	}
	if cfg.MaxIterations < 0 {
		cfg.MaxIterations = 0
	}
	if cfg.StallIterations <= 0 {
		cfg.StallIterations = def.StallIterations
	}
	if cfg.Upper <= cfg.Lower {
		cfg.Lower, cfg.Upper = def.Lower, def.Upper
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return cfg
}

// evaluateAll scores every particle's current position and reports how many
// were scored. Particles skipped after ctx ends cost +Inf. Each goroutine
// writes only its own particle.
func evaluateAll(ctx context.Context, swarm []particle, eval Evaluator, workers int) (int, error) {
	for i := range swarm {
		swarm[i].cost = math.Inf(1)
	}
	var scored atomic.Int64
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i := range swarm {
		if gctx.Err() != nil {
			break
		}
		p := &swarm[i]
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p.cost = score(eval, p.pos)
			scored.Add(1)
			return nil
		})
	}
	err := eg.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return int(scored.Load()), err
}

func score(eval Evaluator, pos []float64) float64 {
	c := eval(pos)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return math.Inf(1)
	}
	return c
}
