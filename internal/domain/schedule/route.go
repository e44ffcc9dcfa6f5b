package schedule

import (
	"container/heap"
	"time"

	"github.com/okian/railflow/internal/domain/model"
)

type edge struct {
	section *model.Section
	to      string
}

type graph map[string][]edge

func newGraph(sections []model.Section) graph {
	g := make(graph)
	for i := range sections {
		s := &sections[i]
		g[s.StartPoint] = append(g[s.StartPoint], edge{section: s, to: s.EndPoint})
		g[s.EndPoint] = append(g[s.EndPoint], edge{section: s, to: s.StartPoint})
	}
	return g
}

type hop struct {
	section model.Section // oriented in the direction of travel
}

type item struct {
	point string
	cost  time.Duration
}

type pq []item

func (q pq) Len() int { return len(q) }
func (q pq) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].point < q[j].point
}
func (q pq) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pq) Push(x any)   { *q = append(*q, x.(item)) }
func (q *pq) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// route returns the fastest sequence of sections from origin to destination
// for a train running at speed. ok is false when destination is unreachable.
func (g graph) route(origin, destination string, speed float64) ([]hop, bool) {
	if origin == destination {
		return nil, true
	}
	dist := map[string]time.Duration{origin: 0}
	prev := map[string]edge{}
	from := map[string]string{}
	done := map[string]bool{}

	q := &pq{{point: origin}}
	for q.Len() > 0 {
		cur := heap.Pop(q).(item)
		if done[cur.point] {
			continue
		}
		done[cur.point] = true
		if cur.point == destination {
			break
		}
		for _, e := range g[cur.point] {
			if done[e.to] {
				continue
			}
			cost := cur.cost + e.section.TraversalTime(speed)
			if d, seen := dist[e.to]; !seen || cost < d {
				dist[e.to] = cost
				prev[e.to] = e
				from[e.to] = cur.point
				heap.Push(q, item{point: e.to, cost: cost})
			}
		}
	}
	if !done[destination] {
		return nil, false
	}

	var hops []hop
	for p := destination; p != origin; p = from[p] {
		e := prev[p]
		s := *e.section
		if s.StartPoint != from[p] {
			s = s.Reversed()
		}
		hops = append(hops, hop{section: s})
	}
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	return hops, true
}
