package graph

import "time"

// NodeView is the JSON form of a node. Pixel data is left out; it is served
// separately as an image.
type NodeView struct {
	Index     int       `json:"index"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
	FrameSeq  uint64    `json:"frameSeq"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
}

// View is a consistent snapshot of the whole graph.
type View struct {
	Nodes []NodeView `json:"nodes"`
	Edges []Edge     `json:"edges"`
}

// Snapshot returns nodes and edges taken under one lock, so the edge list always
// refers to nodes present in the view.
func (g *Graph) Snapshot() View {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v := View{
		Nodes: make([]NodeView, len(g.nodes)),
		Edges: make([]Edge, len(g.edges)),
	}
	for i, n := range g.nodes {
		v.Nodes[i] = n.View()
	}
	copy(v.Edges, g.edges)
	return v
}

// View returns the node's metadata.
func (n Node) View() NodeView {
	return NodeView{
		Index:     n.Index,
		ID:        n.ID,
		Timestamp: n.Timestamp,
		Score:     n.Score,
		FrameSeq:  n.Seq,
		Width:     n.Image.Width,
		Height:    n.Image.Height,
	}
}
