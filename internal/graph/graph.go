// Package graph holds the weighted directed city graph and its all-pairs
// shortest-path tables.
//
// A weight matrix entry w[i][j] >= 0 (i != j) is a direct edge; any negative
// entry means "no edge". Distances between unreachable pairs are +Inf and
// their paths are nil. The tables are computed once at construction.
package graph

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrEmptyMatrix   = errors.New("graph: empty weight matrix")
	ErrNotSquare     = errors.New("graph: weight matrix is not square")
	ErrInvalidWeight = errors.New("graph: weight is NaN or +Inf")
	ErrInvalidDemand = errors.New("graph: demand must be finite and non-negative")
	ErrInvalidCoords = errors.New("graph: coordinates length does not match node count")
	ErrNodeRange     = errors.New("graph: node out of range")
)

// Coord is a display-only 2D position.
type Coord struct {
	X, Y float64
}

// Graph is immutable after New returns.
type Graph struct {
	n       int
	weights [][]float64
	coords  []Coord
	demands []float64

	dist [][]float64
	prev [][]int
}

type Option func(*Graph)

// WithCoordinates attaches per-node display coordinates.
func WithCoordinates(c []Coord) Option {
	return func(g *Graph) { g.coords = append([]Coord(nil), c...) }
}

// WithDemands attaches per-node demand weights.
func WithDemands(d []float64) Option {
	return func(g *Graph) { g.demands = append([]float64(nil), d...) }
}

// New validates the weight matrix, copies it and computes all-pairs
// shortest paths.
func New(weights [][]float64, opts ...Option) (*Graph, error) {
	n := len(weights)
	if n == 0 {
		return nil, ErrEmptyMatrix
	}
	w := make([][]float64, n)
	for i, row := range weights {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d entries, want %d", ErrNotSquare, i, len(row), n)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 1) {
				return nil, fmt.Errorf("%w: w[%d][%d]=%v", ErrInvalidWeight, i, j, v)
			}
		}
		w[i] = append([]float64(nil), row...)
	}
	g := &Graph{n: n, weights: w}
	for _, opt := range opts {
		opt(g)
	}
	if g.coords != nil && len(g.coords) != n {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidCoords, len(g.coords), n)
	}
	if g.demands == nil {
		g.demands = make([]float64, n)
	}
	if len(g.demands) != n {
		return nil, fmt.Errorf("%w: got %d demands for %d nodes", ErrInvalidDemand, len(g.demands), n)
	}
	for i, d := range g.demands {
		if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, fmt.Errorf("%w: node %d demand %v", ErrInvalidDemand, i, d)
		}
	}
	g.ComputeAllPairs()
	return g, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return g.n }

// Valid reports whether n is a node of g.
func (g *Graph) Valid(n int) bool { return n >= 0 && n < g.n }

// Adjacent reports whether from->to is a direct edge.
func (g *Graph) Adjacent(from, to int) bool {
	if !g.Valid(from) || !g.Valid(to) || from == to {
		return false
	}
	return g.weights[from][to] >= 0
}

// EdgeWeight returns the direct edge weight and whether the edge exists.
func (g *Graph) EdgeWeight(from, to int) (float64, bool) {
	if !g.Adjacent(from, to) {
		return 0, false
	}
	return g.weights[from][to], true
}

// Neighbors lists the nodes reachable from a over one edge, ascending.
func (g *Graph) Neighbors(a int) []int {
	var out []int
	for to := 0; to < g.n; to++ {
		if g.Adjacent(a, to) {
			out = append(out, to)
		}
	}
	return out
}

// NodesReaching lists the nodes with a direct edge into b, ascending.
func (g *Graph) NodesReaching(b int) []int {
	var out []int
	for from := 0; from < g.n; from++ {
		if g.Adjacent(from, b) {
			out = append(out, from)
		}
	}
	return out
}

// Distance returns the shortest-path distance, +Inf when unreachable or when
// either node is out of range.
func (g *Graph) Distance(a, b int) float64 {
	if !g.Valid(a) || !g.Valid(b) {
		return math.Inf(1)
	}
	return g.dist[a][b]
}

// Reachable reports whether b can be reached from a.
func (g *Graph) Reachable(a, b int) bool {
	return !math.IsInf(g.Distance(a, b), 1)
}

// Path returns the node sequence a..b (both included). A path from a node to
// itself is [a]; an unreachable pair yields nil.
func (g *Graph) Path(a, b int) []int {
	if !g.Reachable(a, b) {
		return nil
	}
	prev := g.prev[a]
	var rev []int
	for cur := b; cur != a; cur = prev[cur] {
		rev = append(rev, cur)
	}
	rev = append(rev, a)
	out := make([]int, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out
}

// Nearest returns the candidate closest to from. Unreachable candidates are
// skipped; ok is false when none is reachable. Ties keep the earlier
// candidate.
func (g *Graph) Nearest(from int, candidates []int) (node int, dist float64, ok bool) {
	node, dist = -1, math.Inf(1)
	for _, c := range candidates {
		if d := g.Distance(from, c); d < dist {
			node, dist, ok = c, d, true
		}
	}
	return node, dist, ok
}

// Demand returns the demand weight of node n.
func (g *Graph) Demand(n int) float64 { return g.demands[n] }

// Demands returns a copy of all demand weights.
func (g *Graph) Demands() []float64 { return append([]float64(nil), g.demands...) }

// Coord returns the display coordinate of n, if coordinates were supplied.
func (g *Graph) Coord(n int) (Coord, bool) {
	if g.coords == nil || !g.Valid(n) {
		return Coord{}, false
	}
	return g.coords[n], true
}

// Distances returns a copy of the all-pairs distance table.
func (g *Graph) Distances() [][]float64 {
	out := make([][]float64, g.n)
	for i := range g.dist {
		out[i] = append([]float64(nil), g.dist[i]...)
	}
	return out
}
