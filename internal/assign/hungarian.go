// Package assign solves the minimum-cost assignment problem.
package assign

import (
	"errors"
	"fmt"
	"math"
)

// MaxCost bounds a single cell so potential sums cannot overflow.
const MaxCost = math.MaxInt32

var (
	ErrRagged       = errors.New("assign: rows have different lengths")
	ErrNegativeCost = errors.New("assign: negative cost")
	ErrCostTooLarge = errors.New("assign: cost exceeds MaxCost")
)

// Solve returns, for every row of the n×m cost matrix, the column it is
// matched to so that the total cost is minimal. When n > m the matrix is
// padded with zero-cost columns and rows landing on padding get -1.
//
// The implementation is the potentials form of the Hungarian method,
// O(n²·m) for n <= m.
func Solve(cost [][]int) ([]int, error) {
	n := len(cost)
	if n == 0 {
		return []int{}, nil
	}
	m := len(cost[0])
	for i, row := range cost {
		if len(row) != m {
			return nil, fmt.Errorf("%w: row %d has %d columns, row 0 has %d", ErrRagged, i, len(row), m)
		}
		for j, c := range row {
			switch {
			case c < 0:
				return nil, fmt.Errorf("%w: [%d][%d]=%d", ErrNegativeCost, i, j, c)
			case c > MaxCost:
				return nil, fmt.Errorf("%w: [%d][%d]=%d", ErrCostTooLarge, i, j, c)
			}
		}
	}

	cols := m
	if cols < n {
		cols = n
	}
	// a is 1-indexed; padded cells stay zero.
	a := make([][]int, n+1)
	for i := 1; i <= n; i++ {
		a[i] = make([]int, cols+1)
		copy(a[i][1:], cost[i-1])
	}

	const inf = math.MaxInt
	u := make([]int, n+1)
	v := make([]int, cols+1)
	match := make([]int, cols+1) // column -> row
	way := make([]int, cols+1)
	minv := make([]int, cols+1)
	used := make([]bool, cols+1)

	for i := 1; i <= n; i++ {
		match[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = inf
			used[j] = false
		}
		for {
			used[j0] = true
			i0, delta, j1 := match[j0], inf, 0
			for j := 1; j <= cols; j++ {
				if used[j] {
					continue
				}
				if cur := a[i0][j] - u[i0] - v[j]; cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= cols; j++ {
				if used[j] {
					u[match[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if match[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			match[j0] = match[j1]
			j0 = j1
		}
	}

	rows := make([]int, n)
	for i := range rows {
		rows[i] = -1
	}
	for j := 1; j <= m; j++ {
		if match[j] != 0 {
			rows[match[j]-1] = j - 1
		}
	}
	return rows, nil
}

// Total sums the cells picked by rows, skipping unmatched rows.
func Total(cost [][]int, rows []int) int {
	sum := 0
	for i, j := range rows {
		if j >= 0 {
			sum += cost[i][j]
		}
	}
	return sum
}
