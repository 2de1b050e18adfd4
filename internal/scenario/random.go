package scenario

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// RandomOptions controls Random. Zero fields take the defaults below.
type RandomOptions struct {
	Roads      int     // edges beyond the spanning tree; default n/2
	Noise      float64 // edge weight = euclidean * (1 + Noise*U); default 0.2
	MaxDemand  int     // per-node demand drawn from 0..MaxDemand; default 5
	Severities []float64
}

var ErrTooSmall = errors.New("scenario: not enough nodes")

// Random builds a connected city of n nodes. Every node i >= 1 links to a
// random earlier node, then Roads extra two-way edges are added between
// unlinked pairs. Nodes sit on distinct cells of an n x n grid. Patients are
// placed proportionally to demand; vehicles and hospitals prefer nodes
// without patients.
func Random(n, vehicles, hospitals, patients int, seed int64) (*Scenario, error) {
	return RandomWith(n, vehicles, hospitals, patients, seed, RandomOptions{})
}

func RandomWith(n, vehicles, hospitals, patients int, seed int64, o RandomOptions) (*Scenario, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: %d", ErrTooSmall, n)
	}
	if vehicles < 0 || hospitals < 1 || patients < 0 {
		return nil, fmt.Errorf("%w: need at least one hospital", ErrInvalid)
	}
	if seed == 0 {
		seed = 1
	}
	if o.Roads <= 0 {
		o.Roads = n / 2
	}
	if o.Noise <= 0 {
		o.Noise = 0.2
	}
	if o.MaxDemand <= 0 {
		o.MaxDemand = 5
	}
	if len(o.Severities) == 0 {
		o.Severities = []float64{0.5, 0.3, 0.2}
	}
	rng := rand.New(rand.NewSource(seed))

	cells := rng.Perm(n * n)[:n]
	pts := make([]Point, n)
	for i, c := range cells {
		pts[i] = Point{X: float64(c % n), Y: float64(c / n)}
	}

	w := make([][]float64, n)
	for i := range w {
		w[i] = make([]float64, n)
		for j := range w[i] {
			if i != j {
				w[i][j] = -1
			}
		}
	}
	link := func(a, b int) {
		d := math.Hypot(pts[a].X-pts[b].X, pts[a].Y-pts[b].Y) * (1 + o.Noise*rng.Float64())
		d = math.Round(d*100) / 100
		w[a][b], w[b][a] = d, d
	}
	for i := 1; i < n; i++ {
		link(i, rng.Intn(i))
	}
	free := n*(n-1)/2 - (n - 1)
	for added := 0; added < o.Roads && added < free; {
		a, b := rng.Intn(n), rng.Intn(n)
		if a == b || w[a][b] >= 0 {
			continue
		}
		link(a, b)
		added++
	}

	demands := make([]float64, n)
	total := 0.0
	for i := range demands {
		demands[i] = float64(rng.Intn(o.MaxDemand + 1))
		total += demands[i]
	}

	s := &Scenario{
		Name:        fmt.Sprintf("random-%d-%d", n, seed),
		Weights:     w,
		Coordinates: pts,
		Demands:     demands,
	}
	occupied := make([]bool, n)
	for i := 0; i < patients; i++ {
		node := pick(rng, demands, total)
		occupied[node] = true
		s.Patients = append(s.Patients, Patient{ID: i + 1, Node: node, Severity: severity(rng, o.Severities)})
	}
	spot := func() int {
		for try := 0; try < 4*n; try++ {
			if c := rng.Intn(n); !occupied[c] {
				return c
			}
		}
		return rng.Intn(n)
	}
	for i := 0; i < hospitals; i++ {
		s.Hospitals = append(s.Hospitals, Hospital{ID: i + 1, Node: spot(), Capacity: 1 + rng.Intn(10)})
	}
	for i := 0; i < vehicles; i++ {
		s.Vehicles = append(s.Vehicles, Vehicle{ID: i + 1, Node: spot()})
	}
	return s, nil
}

func pick(rng *rand.Rand, weights []float64, total float64) int {
	if total <= 0 {
		return rng.Intn(len(weights))
	}
	u := rng.Float64() * total
	last := 0
	for i, x := range weights {
		if x <= 0 {
			continue
		}
		if u < x {
			return i
		}
		u -= x
		last = i
	}
	return last
}

// severity draws 1..len(probs) with the given relative probabilities.
func severity(rng *rand.Rand, probs []float64) int {
	total := 0.0
	for _, p := range probs {
		total += p
	}
	u := rng.Float64() * total
	for i, p := range probs {
		if u < p {
			return i + 1
		}
		u -= p
	}
	return len(probs)
}
