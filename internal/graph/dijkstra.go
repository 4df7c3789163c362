// Package graph computes shortest distances over commit/file dependency
// edges. The ingestion layer uses it to reject multi-commit diffs whose
// dependency chain has an unreachable commit.
package graph

import (
	"container/heap"
	"math"
	"sort"
)

// Infinity is the distance reported for vertices unreachable from the
// start vertex.
const Infinity = math.MaxInt

// ShortestDistances runs Dijkstra's algorithm with unit edge weights over
// the directed adjacency list and returns the distance from start to every
// vertex appearing as a key or value (plus start itself). Unreachable
// vertices map to Infinity. Cycles are fine: a vertex's distance only ever
// decreases, so relaxation terminates.
func ShortestDistances(start string, adjacency map[string][]string) map[string]int {
	dist := make(map[string]int, len(adjacency)+1)
	for v, neighbors := range adjacency {
		dist[v] = Infinity
		for _, n := range neighbors {
			dist[n] = Infinity
		}
	}
	dist[start] = 0

	pq := make(vertexQueue, 0, len(dist))
	for v, d := range dist {
		pq = append(pq, vertexDist{vertex: v, dist: d})
	}
	heap.Init(&pq)

	for pq.Len() > 0 {
		cur := heap.Pop(&pq).(vertexDist)
		if cur.dist > dist[cur.vertex] {
			continue // Stale entry superseded by an earlier relaxation.
		}
		if cur.dist == Infinity {
			break // Everything left is unreachable.
		}

		for _, n := range adjacency[cur.vertex] {
			if d := cur.dist + 1; d < dist[n] {
				dist[n] = d
				heap.Push(&pq, vertexDist{vertex: n, dist: d})
			}
		}
	}

	return dist
}

// Unreachable returns the vertices with infinite distance from start, in
// sorted order for deterministic reporting.
func Unreachable(start string, adjacency map[string][]string) []string {
	var out []string
	for v, d := range ShortestDistances(start, adjacency) {
		if d == Infinity {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

type vertexDist struct {
	vertex string
	dist   int
}

// vertexQueue is a min-heap of vertices ordered by tentative distance.
// Relaxations push updated entries; stale ones are skipped on pop.
type vertexQueue []vertexDist

func (q vertexQueue) Len() int           { return len(q) }
func (q vertexQueue) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q vertexQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *vertexQueue) Push(x any)        { *q = append(*q, x.(vertexDist)) }
func (q *vertexQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
