package planner

import (
	"context"
	"errors"
	"log"
	"math"

	"ambuplan/internal/opt"
	"ambuplan/internal/world"
)

// unassignedPenalty is added to a decoded plan's cost for every patient that
// could not be inserted anywhere.
const unassignedPenalty = 1e9

// Swarm is the multi-stop router: a particle swarm searches patient priority
// orders, each decoded by severity-windowed cheapest insertion followed by
// 2-opt inside same-severity runs.
type Swarm struct {
	cfg Config
	rnd *seeded
}

func NewSwarm(cfg Config) *Swarm {
	return &Swarm{cfg: cfg, rnd: newSeeded(cfg.Seed)}
}

func (s *Swarm) Name() string          { return "swarm" }
func (s *Swarm) ReplanAfterDrop() bool { return false }

func (s *Swarm) Solve(ctx context.Context, w *world.World) (world.Plan, error) {
	plan, _, err := s.SolveWithMetrics(ctx, w)
	return plan, err
}

func (s *Swarm) SolveWithMetrics(ctx context.Context, w *world.World) (world.Plan, opt.Metrics, error) {
	return observe(s, s.cfg.Run, w, func() (world.Plan, opt.Metrics, error) {
		return s.solve(ctx, w)
	})
}

func (s *Swarm) solve(ctx context.Context, w *world.World) (world.Plan, opt.Metrics, error) {
	inst := newInstance(w)
	rng, seed := s.rnd.next()

	routes := make([][]int, len(inst.vehicles))
	var m opt.Metrics
	if len(inst.patients) == 0 {
		m.Stop = opt.StopTrivial
	} else {
		res, sm, err := opt.NewSwarm(s.cfg.Swarm, seed).Minimize(ctx, len(inst.patients), func(pos []float64) float64 {
			_, c := inst.decode(pos)
			return c
		})
		m = sm
		switch {
		case errors.Is(err, opt.ErrNoFeasibleParticle):
			log.Printf("[SWARM] no feasible particle for %d patients, repositioning only", len(inst.patients))
			// nothing is routed; keep the reported costs JSON-safe
			m.InitialCost, m.BestCost = 0, 0
		case err != nil:
			return nil, m, err
		default:
			routes, _ = inst.decode(res.Best)
		}
	}

	plan := inst.actions(routes)
	var free []world.Vehicle
	for _, v := range inst.vehicles {
		if len(plan[v.ID]) == 0 {
			free = append(free, v)
		}
	}
	if err := reposition(w.Graph(), free, s.cfg.Coverage, rng, plan); err != nil {
		return nil, m, err
	}
	return plan, m, nil
}

// instance holds the precomputed tables of one routing problem. It is
// read-only after newInstance, so decode may run concurrently.
type instance struct {
	w         *world.World
	vehicles  []world.Vehicle
	patients  []world.Patient
	hospitals []world.Hospital

	// start is the node a vehicle's route begins from: its own node when
	// free, its nearest hospital when carrying. -1 when it cannot route.
	start []int

	// startDist[v][p] is d(start[v], patient p).
	startDist [][]float64

	// relay[i][j] is the hospital index minimising d(p_i,h)+d(h,p_j);
	// terminal[i] is the hospital nearest to p_i.
	relay        [][]int
	relayDist    [][]float64
	terminal     []int
	terminalDist []float64
}

func newInstance(w *world.World) *instance {
	g := w.Graph()
	in := &instance{
		w:         w,
		vehicles:  w.Vehicles(),
		patients:  w.WaitingPatients(),
		hospitals: w.Hospitals(),
	}
	nv, np := len(in.vehicles), len(in.patients)

	in.start = make([]int, nv)
	in.startDist = make([][]float64, nv)
	for vi, v := range in.vehicles {
		in.start[vi] = v.Node
		if v.Loaded {
			in.start[vi] = -1
			if h, _, ok := w.NearestHospital(v.Node); ok {
				in.start[vi] = h.Node
			}
		}
		in.startDist[vi] = make([]float64, np)
		for pi, p := range in.patients {
			in.startDist[vi][pi] = math.Inf(1)
			if in.start[vi] >= 0 {
				in.startDist[vi][pi] = g.Distance(in.start[vi], p.Node)
			}
		}
	}

	in.relay = make([][]int, np)
	in.relayDist = make([][]float64, np)
	in.terminal = make([]int, np)
	in.terminalDist = make([]float64, np)
	for i, pi := range in.patients {
		in.relay[i] = make([]int, np)
		in.relayDist[i] = make([]float64, np)
		for j, pj := range in.patients {
			in.relay[i][j], in.relayDist[i][j] = -1, math.Inf(1)
			for hi, h := range in.hospitals {
				if d := g.Distance(pi.Node, h.Node) + g.Distance(h.Node, pj.Node); d < in.relayDist[i][j] {
					in.relay[i][j], in.relayDist[i][j] = hi, d
				}
			}
		}
		in.terminal[i], in.terminalDist[i] = -1, math.Inf(1)
		for hi, h := range in.hospitals {
			if d := g.Distance(pi.Node, h.Node); d < in.terminalDist[i] {
				in.terminal[i], in.terminalDist[i] = hi, d
			}
		}
	}
	return in
}

func finite(x float64) bool { return !math.IsInf(x, 0) && !math.IsNaN(x) }

// decode turns a particle into routes (patient indices per vehicle) and
// their total cost, penalising patients left unassigned.
func (in *instance) decode(pos []float64) ([][]int, float64) {
	routes := make([][]int, len(in.vehicles))
	total := 0.0
	for _, p := range opt.RankOrder(pos) {
		bestV, bestIdx, bestDiff := -1, -1, math.Inf(1)
		for v := range routes {
			idx, diff := in.tryInsert(routes[v], v, p)
			if idx >= 0 && diff < bestDiff {
				bestV, bestIdx, bestDiff = v, idx, diff
			}
		}
		if bestV < 0 {
			total += unassignedPenalty
			continue
		}
		r := routes[bestV]
		r = append(r, 0)
		copy(r[bestIdx+1:], r[bestIdx:])
		r[bestIdx] = p
		routes[bestV] = r
		total += bestDiff
	}
	for v := range routes {
		for {
			next, gain, ok := in.twoOpt(v, routes[v])
			if !ok {
				break
			}
			routes[v] = next
			total += gain
		}
	}
	return routes, total
}

// tryInsert finds the cheapest position for patient p in route, restricted
// to the window that keeps severities non-increasing. idx is -1 when no
// position has a finite cost.
func (in *instance) tryInsert(route []int, v, p int) (idx int, diff float64) {
	if len(route) == 0 {
		c := in.startDist[v][p] + in.terminalDist[p]
		if !finite(c) {
			return -1, math.Inf(1)
		}
		return 0, c
	}
	sev := in.patients[p].Severity
	l, r := 0, 0
	for ; r < len(route); r++ {
		s := in.patients[route[r]].Severity
		if sev > s {
			break
		}
		if sev < s {
			l = r + 1
		}
	}

	idx, diff = -1, math.Inf(1)
	for i := l; i <= r; i++ {
		var d float64
		switch {
		case i == 0:
			next := route[0]
			d = -in.startDist[v][next] + in.startDist[v][p] + in.relayDist[p][next]
		case i == len(route):
			prev := route[i-1]
			d = -in.terminalDist[prev] + in.relayDist[prev][p] + in.terminalDist[p]
		default:
			prev, next := route[i-1], route[i]
			d = -in.relayDist[prev][next] + in.relayDist[prev][p] + in.relayDist[p][next]
		}
		if finite(d) && d < diff {
			idx, diff = i, d
		}
	}
	return idx, diff
}

// twoOpt finds the best improving reversal of a segment lying inside one
// severity run. gain is the (negative) cost change.
func (in *instance) twoOpt(v int, route []int) (next []int, gain float64, ok bool) {
	n := len(route)
	if n < 2 {
		return nil, 0, false
	}
	// fwd[i] is the cost of route[0..i] in order, rev[i] the cost of the same
	// links walked backwards; infinite links are counted separately.
	fwd := make([]float64, n)
	rev := make([]float64, n)
	revInf := make([]int, n)
	for i := 1; i < n; i++ {
		fwd[i] = fwd[i-1] + in.relayDist[route[i-1]][route[i]]
		rev[i], revInf[i] = rev[i-1], revInf[i-1]
		if d := in.relayDist[route[i]][route[i-1]]; finite(d) {
			rev[i] += d
		} else {
			revInf[i]++
		}
	}

	best, bestL, bestR := 0.0, -1, -1
	for l := 0; l < n; l++ {
		sev := in.patients[route[l]].Severity
		for r := l + 1; r < n && in.patients[route[r]].Severity == sev; r++ {
			if revInf[r]-revInf[l] > 0 {
				continue
			}
			var upd float64
			if l == 0 {
				upd += in.startDist[v][route[r]] - in.startDist[v][route[l]]
			} else {
				upd += in.relayDist[route[l-1]][route[r]] - in.relayDist[route[l-1]][route[l]]
			}
			upd += (rev[r] - rev[l]) - (fwd[r] - fwd[l])
			if r == n-1 {
				upd += in.terminalDist[route[l]] - in.terminalDist[route[r]]
			} else {
				upd += in.relayDist[route[l]][route[r+1]] - in.relayDist[route[r]][route[r+1]]
			}
			if finite(upd) && upd < -1e-7 && upd < best {
				best, bestL, bestR = upd, l, r
			}
		}
	}
	if bestL < 0 {
		return nil, 0, false
	}
	return opt.TwoOptSwap(route, bestL, bestR), best, true
}

// routeCost is the modelled cost of a route from its vehicle's start.
func (in *instance) routeCost(v int, route []int) float64 {
	if len(route) == 0 {
		return 0
	}
	c := in.startDist[v][route[0]]
	for i := 0; i+1 < len(route); i++ {
		c += in.relayDist[route[i]][route[i+1]]
	}
	return c + in.terminalDist[route[len(route)-1]]
}

// actions expands routes into Move/Pick/Drop queues, prefixed by the
// delivery of any patient already on board.
func (in *instance) actions(routes [][]int) world.Plan {
	g := in.w.Graph()
	plan := world.Plan{}
	for vi, v := range in.vehicles {
		var out []world.Action
		if v.Loaded {
			out = deliverCarried(in.w, v)
		}
		route := routes[vi]
		cur := in.start[vi]
		for k, pi := range route {
			p := in.patients[pi]
			out = append(out, moveChain(g, v.ID, cur, p.Node)...)
			out = append(out, world.NewPick(v.ID, p.Node, p.ID))
			h := in.terminal[pi]
			if k+1 < len(route) {
				h = in.relay[pi][route[k+1]]
			}
			hn := in.hospitals[h].Node
			out = append(out, moveChain(g, v.ID, p.Node, hn)...)
			out = append(out, world.NewDrop(v.ID, hn, p.ID))
			cur = hn
		}
		plan[v.ID] = out
	}
	return plan
}
