// Package graph implements the anomaly knowledge graph: an append-only chain of
// anomaly events (nodes) linked by "occurred" edges between consecutive events.
//
// The graph grows without bound for the lifetime of the process. Nothing here
// prunes or persists it.
package graph

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vicelab/framewatch/pkg/frame"
)

// KindOccurred links an anomaly to the one recorded immediately before it.
const KindOccurred = "occurred"

// Node is a recorded anomaly event. Image is a private copy of the frame that
// triggered it and Seq is that frame's sequence number.
type Node struct {
	Index     int
	ID        string
	Timestamp time.Time
	Image     frame.Frame
	Score     float64
	Seq       uint64
}

// Edge connects two node indices.
type Edge struct {
	From int    `json:"from"`
	To   int    `json:"to"`
	Kind string `json:"kind"`
}

// Graph is safe for concurrent use. Appending a node and its linking edge is a
// single critical section, so concurrent appends never race for the same
// predecessor.
type Graph struct {
	mu    sync.RWMutex
	nodes []Node
	edges []Edge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{}
}

// AppendAnomaly records an anomaly with a deep copy of image and returns its
// 0-based index. Every node after the first is linked from its predecessor.
func (g *Graph) AppendAnomaly(image frame.Frame, score float64, now time.Time) int {
	node := Node{
		ID:        uuid.NewString(),
		Timestamp: now,
		Image:     image.Clone(),
		Score:     score,
		Seq:       image.Seq,
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	node.Index = len(g.nodes)
	g.nodes = append(g.nodes, node)
	if node.Index > 0 {
		g.edges = append(g.edges, Edge{
			From: node.Index - 1,
			To:   node.Index,
			Kind: KindOccurred,
		})
	}
	return node.Index
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Node returns the node at index i.
func (g *Graph) Node(i int) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i < 0 || i >= len(g.nodes) {
		return Node{}, false
	}
	return g.nodes[i], true
}

// Nodes returns a copy of the node list. Node images are shared and must not be
// modified.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns a copy of the edge list.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}
