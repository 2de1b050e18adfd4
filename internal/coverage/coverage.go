// Package coverage picks demand-weighted coverage targets for idle vehicles.
//
// A node's fitness as a centre of a set of members is the inverse of the
// demand-weighted mean shortest distance from it to the members. The
// candidate's own demand counts in the denominator with distance zero.
package coverage

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"ambuplan/internal/graph"
)

const (
	DefaultSeedings = 19
	DefaultRounds   = 11
)

var ErrTooManyTargets = errors.New("coverage: more targets requested than nodes")

// Clusterer is a k-median style heuristic with a fixed number of rounds.
type Clusterer struct {
	Seedings int // random initial centre sets tried
	Rounds   int // annotate + re-centre iterations
}

func Default() Clusterer {
	return Clusterer{Seedings: DefaultSeedings, Rounds: DefaultRounds}
}

// Targets runs the default clusterer.
func Targets(g *graph.Graph, k int, rng *rand.Rand) ([]int, error) {
	return Default().Targets(g, k, rng)
}

// Targets returns k distinct nodes, one centre per cluster. A nil rng uses a
// fixed seed.
func (c Clusterer) Targets(g *graph.Graph, k int, rng *rand.Rand) ([]int, error) {
	n := g.Len()
	if k <= 0 {
		return nil, nil
	}
	if k > n {
		return nil, fmt.Errorf("%w: k=%d, nodes=%d", ErrTooManyTargets, k, n)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if k == 1 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return []int{bestCentre(g, all)}, nil
	}

	seedings := c.Seedings
	if seedings <= 0 {
		seedings = DefaultSeedings
	}
	var centres []int
	bestSpread := -1.0
	for s := 0; s < seedings; s++ {
		cand := rng.Perm(n)[:k]
		if sp := spread(g, cand); sp > bestSpread {
			bestSpread, centres = sp, cand
		}
	}

	rounds := c.Rounds
	if rounds <= 0 {
		rounds = DefaultRounds
	}
	for r := 0; r < rounds; r++ {
		members := make([][]int, k)
		for node, cl := range Annotate(g, centres) {
			if cl >= 0 {
				members[cl] = append(members[cl], node)
			}
		}
		next := make([]int, k)
		for cl := range centres {
			switch len(members[cl]) {
			case 0:
				next[cl] = centres[cl]
			case 1:
				next[cl] = members[cl][0]
			default:
				next[cl] = bestCentre(g, members[cl])
			}
		}
		centres = next
	}
	return centres, nil
}

// Annotate maps each node to the index of its nearest centre, -1 when no
// centre is reachable. A centre always belongs to its own cluster; other ties
// go to the lower index.
func Annotate(g *graph.Graph, centres []int) []int {
	out := make([]int, g.Len())
	own := make(map[int]int, len(centres))
	for i, c := range centres {
		if _, dup := own[c]; !dup {
			own[c] = i
		}
	}
	for node := range out {
		if cl, ok := own[node]; ok {
			out[node] = cl
			continue
		}
		out[node] = -1
		best := math.Inf(1)
		for i, c := range centres {
			if d := g.Distance(node, c); d < best {
				best, out[node] = d, i
			}
		}
	}
	return out
}

// Fitness is the inverse demand-weighted mean distance from x to members.
// When no member carries demand every member weighs 1.
func Fitness(g *graph.Graph, x int, members []int) float64 {
	uniform := true
	for _, y := range members {
		if g.Demand(y) > 0 {
			uniform = false
			break
		}
	}
	weight := func(y int) float64 {
		if uniform {
			return 1
		}
		return g.Demand(y)
	}

	var num, den float64
	for _, y := range members {
		w := weight(y)
		den += w
		if y == x || w == 0 {
			continue
		}
		num += w * g.Distance(x, y)
	}
	if den == 0 {
		return 0
	}
	mean := num / den
	if mean == 0 {
		return math.Inf(1)
	}
	return 1 / mean
}

// bestCentre returns the member with the highest fitness; ties keep the
// earliest member.
func bestCentre(g *graph.Graph, members []int) int {
	best, bestFit := members[0], math.Inf(-1)
	for _, x := range members {
		if f := Fitness(g, x, members); f > bestFit {
			best, bestFit = x, f
		}
	}
	return best
}

// spread is the geometric mean of each centre's distance to its nearest
// fellow centre. Larger is better.
func spread(g *graph.Graph, centres []int) float64 {
	logSum := 0.0
	for i, a := range centres {
		nearest := math.Inf(1)
		for j, b := range centres {
			if i != j {
				nearest = math.Min(nearest, g.Distance(a, b))
			}
		}
		if nearest == 0 {
			return 0
		}
		logSum += math.Log(nearest)
	}
	return math.Exp(logSum / float64(len(centres)))
}
