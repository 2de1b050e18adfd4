package sim

import (
	"math/rand"
	"sort"

	"ambuplan/internal/graph"
)

// Arrival is a patient appearing at runtime.
type Arrival struct {
	Node     int `json:"node" yaml:"node"`
	Severity int `json:"severity" yaml:"severity"`
}

// PatientSource is asked once per step, after that step's actions, for new
// patients. planEmpty reports whether every vehicle has run out of actions.
type PatientSource interface {
	Next(step int, planEmpty bool) []Arrival
}

const defaultRandomSeed = 504

// RandomSource spawns at most one patient per step: always when the plan is
// empty, otherwise with probability Prob. Nodes are drawn proportionally to
// demand (uniformly when no node has demand); severity is uniform in 1..3.
type RandomSource struct {
	prob      float64
	remaining int
	demands   []float64
	total     float64
	rng       *rand.Rand
}

func NewRandomSource(g *graph.Graph, prob float64, max int, seed int64) *RandomSource {
	if seed == 0 {
		seed = defaultRandomSeed
	}
	d := g.Demands()
	total := 0.0
	for _, x := range d {
		total += x
	}
	return &RandomSource{prob: prob, remaining: max, demands: d, total: total, rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomSource) Next(_ int, planEmpty bool) []Arrival {
	if s.remaining <= 0 {
		return nil
	}
	if !planEmpty && s.rng.Float64() >= s.prob {
		return nil
	}
	s.remaining--
	return []Arrival{{Node: s.pickNode(), Severity: 1 + s.rng.Intn(3)}}
}

// Remaining is how many patients the source may still produce.
func (s *RandomSource) Remaining() int { return s.remaining }

func (s *RandomSource) pickNode() int {
	if s.total <= 0 {
		return s.rng.Intn(len(s.demands))
	}
	u := s.rng.Float64() * s.total
	for n, d := range s.demands {
		if u < d {
			return n
		}
		u -= d
	}
	// rounding left u just past the last positive demand
	for n := len(s.demands) - 1; n >= 0; n-- {
		if s.demands[n] > 0 {
			return n
		}
	}
	return 0
}

// ScriptedArrival fires at a fixed step.
type ScriptedArrival struct {
	Step    int `json:"step" yaml:"step"`
	Arrival `yaml:",inline"`
}

// ScriptedSource replays a fixed arrival schedule.
type ScriptedSource struct {
	byStep map[int][]Arrival
	last   int
}

func NewScriptedSource(script []ScriptedArrival) *ScriptedSource {
	s := &ScriptedSource{byStep: map[int][]Arrival{}, last: -1}
	sorted := append([]ScriptedArrival(nil), script...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Step < sorted[j].Step })
	for _, a := range sorted {
		s.byStep[a.Step] = append(s.byStep[a.Step], a.Arrival)
		if a.Step > s.last {
			s.last = a.Step
		}
	}
	return s
}

func (s *ScriptedSource) Next(step int, _ bool) []Arrival {
	return s.byStep[step]
}

// Pending reports whether arrivals remain after step.
func (s *ScriptedSource) Pending(step int) bool { return step < s.last }

// Sources merges several sources; arrivals keep source order.
type Sources []PatientSource

func (ss Sources) Next(step int, planEmpty bool) []Arrival {
	var out []Arrival
	for _, s := range ss {
		out = append(out, s.Next(step, planEmpty)...)
	}
	return out
}

func (ss Sources) Pending(step int) bool {
	for _, s := range ss {
		if p, ok := s.(interface{ Pending(int) bool }); ok && p.Pending(step) {
			return true
		}
	}
	return false
}
