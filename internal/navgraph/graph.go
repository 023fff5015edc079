// Package navgraph plans and executes screen-to-screen navigation over a
// static transition graph.
package navgraph

import (
	"fmt"
	"image"
	"sync"
	"time"
)

// Action is one step of an edge's transition script.
type Action interface {
	isAction()
}

// Tap touches a fixed coordinate.
type Tap struct {
	At image.Point
}

// TapAnchor touches a named anchor from the current detection, with an
// optional fallback coordinate and bounded retries when the anchor is
// missing.
type TapAnchor struct {
	Name     string
	Fallback *image.Point
	Retries  int
}

// Swipe drags between two points.
type Swipe struct {
	From, To image.Point
	Duration time.Duration
}

// Sleep pauses the script.
type Sleep struct {
	Duration time.Duration
}

// Redetect refreshes the detection mid-script; some actions reveal anchors
// needed by later steps of the same edge.
type Redetect struct{}

func (Tap) isAction()       {}
func (TapAnchor) isAction() {}
func (Swipe) isAction()     {}
func (Sleep) isAction()     {}
func (Redetect) isAction()  {}

// Edge is one transition: source screen, destination screen, action script.
// Edges are immutable values held in the graph's arena.
type Edge struct {
	From   string
	To     string
	Script []Action
}

// Graph is the frozen transition graph: an index-addressed edge arena plus
// adjacency lists. Built once at startup, never mutated afterwards.
type Graph struct {
	mu     sync.Mutex
	edges  []Edge
	adj    map[string][]int
	frozen bool
}

func NewGraph() *Graph {
	return &Graph{adj: make(map[string][]int)}
}

// AddEdge appends an edge to the arena. Fails after Freeze.
func (g *Graph) AddEdge(e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return fmt.Errorf("graph frozen, cannot add edge %s->%s", e.From, e.To)
	}
	if e.From == "" || e.To == "" {
		return fmt.Errorf("edge with empty endpoint %q->%q", e.From, e.To)
	}

	g.edges = append(g.edges, e)
	g.adj[e.From] = append(g.adj[e.From], len(g.edges)-1)
	return nil
}

// Freeze ends construction.
func (g *Graph) Freeze() {
	g.mu.Lock()
	g.frozen = true
	g.mu.Unlock()
}

// Edge returns the arena entry at index i.
func (g *Graph) Edge(i int) Edge {
	return g.edges[i]
}

// EdgeCount returns the arena size.
func (g *Graph) EdgeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.edges)
}

// Plan runs BFS from one screen to another, bounded by maxDepth edges.
// Returns the shortest path as arena indices. (nil, true) means already
// there; (nil, false) means no path within the bound.
func (g *Graph) Plan(from, to string, maxDepth int) ([]int, bool) {
	if from == to {
		return nil, true
	}
	if maxDepth <= 0 {
		return nil, false
	}

	visited := map[string]bool{from: true}
	order := []hop{{screen: from, via: -1, prev: -1}}
	frontier := []int{0}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []int
		for _, oi := range frontier {
			cur := order[oi]
			for _, ei := range g.adj[cur.screen] {
				dst := g.edges[ei].To
				if visited[dst] {
					continue
				}
				visited[dst] = true
				order = append(order, hop{screen: dst, via: ei, prev: oi})
				if dst == to {
					return unwind(order, len(order)-1), true
				}
				next = append(next, len(order)-1)
			}
		}
		frontier = next
	}
	return nil, false
}

// hop is one BFS visit: the screen, the edge that reached it, and the
// index of the previous hop (-1 for the root).
type hop struct {
	screen string
	via    int
	prev   int
}

func unwind(order []hop, last int) []int {
	var path []int
	for i := last; order[i].via >= 0; i = order[i].prev {
		path = append(path, order[i].via)
	}
	// Reverse into source-to-target order.
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path
}
