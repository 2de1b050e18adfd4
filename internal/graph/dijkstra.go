package graph

import (
	"container/heap"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ComputeAllPairs runs one Dijkstra per source node and replaces the
// distance and predecessor tables. Sources are processed concurrently; each
// run writes only its own row. Calling it again on the same matrix yields
// identical tables.
func (g *Graph) ComputeAllPairs() {
	dist := make([][]float64, g.n)
	prev := make([][]int, g.n)
	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for src := 0; src < g.n; src++ {
		src := src
		eg.Go(func() error {
			dist[src], prev[src] = g.singleSource(src)
			return nil
		})
	}
	_ = eg.Wait()
	g.dist, g.prev = dist, prev
}

// singleSource settles nodes in order of (distance, id), so equal tentative
// distances are broken by the lowest node id.
func (g *Graph) singleSource(src int) ([]float64, []int) {
	dist := make([]float64, g.n)
	prev := make([]int, g.n)
	done := make([]bool, g.n)
	for i := range dist {
		dist[i] = math.Inf(1)
		prev[i] = -1
	}
	dist[src] = 0

	pq := &nodeQueue{}
	heap.Push(pq, queued{node: src, dist: 0})
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(queued)
		if done[cur.node] || cur.dist > dist[cur.node] {
			continue // stale entry
		}
		done[cur.node] = true
		row := g.weights[cur.node]
		for to := 0; to < g.n; to++ {
			if to == cur.node || row[to] < 0 || done[to] {
				continue
			}
			if alt := dist[cur.node] + row[to]; alt < dist[to] {
				dist[to] = alt
				prev[to] = cur.node
				heap.Push(pq, queued{node: to, dist: alt})
			}
		}
	}
	return dist, prev
}

type queued struct {
	node int
	dist float64
}

type nodeQueue []queued

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].node < q[j].node
}
func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x any)   { *q = append(*q, x.(queued)) }
func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
