package graph

import "github.com/dukex/deskflow/pkg/models"

// Index is a pre-computed lookup table over a graph.
type Index struct {
	nodes map[string]*models.Node
	out   map[string][]string
	start string
}

func NewIndex(g models.Graph) *Index {
	ix := &Index{
		nodes: make(map[string]*models.Node, len(g.Nodes)),
		out:   make(map[string][]string, len(g.Nodes)),
	}

	for _, node := range g.Nodes {
		if _, exists := ix.nodes[node.ID]; exists {
			continue
		}

		ix.nodes[node.ID] = node

		if ix.start == "" && node.Type == models.NodeStart {
			ix.start = node.ID
		}
	}

	for _, edge := range g.Edges {
		ix.out[edge.From] = append(ix.out[edge.From], edge.To)
	}

	return ix
}

// Start returns the id of the first start node.
func (ix *Index) Start() (string, bool) {
	return ix.start, ix.start != ""
}

func (ix *Index) Node(id string) (*models.Node, bool) {
	node, ok := ix.nodes[id]

	return node, ok
}

// Successors returns the edge targets of id in edge-list order.
func (ix *Index) Successors(id string) []string {
	return ix.out[id]
}

// next lists the nodes a traversal can reach from node: the chosen paths of a
// condition, the edge targets of everything else.
func (ix *Index) next(node *models.Node) []string {
	if node.Type == models.NodeEnd {
		return nil
	}

	if data, ok := node.Data.(models.ConditionData); ok {
		var paths []string

		for _, path := range []string{data.TruePath, data.FalsePath} {
			if _, exists := ix.nodes[path]; exists {
				paths = append(paths, path)
			}
		}

		return paths
	}

	if _, ok := node.Data.(models.UnknownNodeData); ok {
		return nil
	}

	return ix.out[node.ID]
}

// FindCycle reports a node that lies on a cycle reachable from start.
func (ix *Index) FindCycle() (string, bool) {
	const (
		unvisited = iota
		inProgress
		done
	)

	state := make(map[string]int, len(ix.nodes))

	type frame struct {
		id   string
		next []string
	}

	start, ok := ix.Start()
	if !ok {
		return "", false
	}

	stack := []frame{{id: start, next: ix.next(ix.nodes[start])}}
	state[start] = inProgress

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if len(top.next) == 0 {
			state[top.id] = done
			stack = stack[:len(stack)-1]

			continue
		}

		id := top.next[0]
		top.next = top.next[1:]

		switch state[id] {
		case inProgress:
			return id, true
		case unvisited:
			node, exists := ix.nodes[id]
			if !exists {
				continue
			}

			state[id] = inProgress
			stack = append(stack, frame{id: id, next: ix.next(node)})
		}
	}

	return "", false
}
