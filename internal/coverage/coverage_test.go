package coverage

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambuplan/internal/graph"
)

func line(t *testing.T, n int, demands []float64) *graph.Graph {
	t.Helper()
	w := make([][]float64, n)
	for i := range w {
		w[i] = make([]float64, n)
		for j := range w[i] {
			switch {
			case i == j:
			case i-j == 1 || j-i == 1:
				w[i][j] = 1
			default:
				w[i][j] = -1
			}
		}
	}
	var opts []graph.Option
	if demands != nil {
		opts = append(opts, graph.WithDemands(demands))
	}
	g, err := graph.New(w, opts...)
	require.NoError(t, err)
	return g
}

func TestSingleTargetFollowsDominantDemand(t *testing.T) {
	g := line(t, 5, []float64{1, 1, 1, 1, 50})
	got, err := Targets(g, 1, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, []int{4}, got)
}

func TestSingleTargetWithoutDemandIsCentral(t *testing.T) {
	g := line(t, 5, nil)
	got, err := Targets(g, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, got)
}

func TestAllNodesAsTargets(t *testing.T) {
	g := line(t, 6, []float64{3, 0, 2, 1, 0, 5})
	got, err := Targets(g, 6, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	sort.Ints(got)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, got)
}

func TestTargetsAreDistinctAndReproducible(t *testing.T) {
	g := line(t, 12, []float64{1, 2, 3, 4, 5, 6, 6, 5, 4, 3, 2, 1})
	for k := 2; k <= 6; k++ {
		a, err := Targets(g, k, rand.New(rand.NewSource(int64(k))))
		require.NoError(t, err)
		b, err := Targets(g, k, rand.New(rand.NewSource(int64(k))))
		require.NoError(t, err)
		assert.Equal(t, a, b)
		require.Len(t, a, k)
		seen := map[int]bool{}
		for _, n := range a {
			assert.True(t, g.Valid(n))
			assert.False(t, seen[n], "duplicate target %d", n)
			seen[n] = true
		}
	}
}

func TestBounds(t *testing.T) {
	g := line(t, 3, nil)
	got, err := Targets(g, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = Targets(g, 4, nil)
	assert.ErrorIs(t, err, ErrTooManyTargets)
}

func TestAnnotateLeavesUnreachableUnassigned(t *testing.T) {
	g, err := graph.New([][]float64{
		{0, 1, -1},
		{1, 0, -1},
		{-1, -1, 0},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, -1}, Annotate(g, []int{1}))
}
