package opt

import (
	"slices"
	"sort"
)

// RankOrder decodes a position into a priority sequence: the indices of pos
// sorted by ascending value, equal values keeping index order.
func RankOrder(pos []float64) []int {
	idx := make([]int, len(pos))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return pos[idx[a]] < pos[idx[b]] })
	return idx
}

// TwoOptSwap returns a copy of route with the stops at positions i through k
// (inclusive, 0 <= i <= k < len(route)) in reverse order. Stops outside that
// range keep their positions and route itself is left untouched.
func TwoOptSwap(route []int, i, k int) []int {
	out := slices.Clone(route)
	slices.Reverse(out[i : k+1])
	return out
}
