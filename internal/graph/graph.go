// Package graph records the directed transitions between integer nodes, in the order they were declared, so that
// callers can validate a move and render the whole graph.
package graph

func New() *Graph {
	return &Graph{
		edges:   make(map[int][]int),
		seen:    make(map[int]bool),
		inbound: make(map[int]int),
	}
}

type Graph struct {
	edges   map[int][]int
	order   []int
	seen    map[int]bool
	inbound map[int]int
}

func (g *Graph) AddTransition(from int, to int) {
	g.visit(from)
	g.visit(to)

	g.edges[from] = append(g.edges[from], to)
	g.inbound[to]++
}

func (g *Graph) visit(node int) {
	if g.seen[node] {
		return
	}

	g.seen[node] = true
	g.order = append(g.order, node)
}

// IsTerminal is true for nodes that were declared but have no outbound edge.
func (g *Graph) IsTerminal(node int) bool {
	return g.seen[node] && len(g.edges[node]) == 0
}

// IsStarting is true for nodes that were declared but are never the target of an edge.
func (g *Graph) IsStarting(node int) bool {
	return g.seen[node] && g.inbound[node] == 0
}

func (g *Graph) Transitions(node int) []int {
	return g.edges[node]
}

func (g *Graph) IsValid(node int) bool {
	return g.seen[node]
}

// Nodes returns every node in declaration order.
func (g *Graph) Nodes() []int {
	nodes := make([]int, len(g.order))
	copy(nodes, g.order)
	return nodes
}

type Transition struct {
	From int
	To   int
}

type Info struct {
	StartingNodes []int
	TerminalNodes []int
	Transitions   []Transition
}

func (g *Graph) Info() Info {
	var i Info
	for _, node := range g.order {
		for _, to := range g.edges[node] {
			i.Transitions = append(i.Transitions, Transition{From: node, To: to})
		}

		if g.IsStarting(node) {
			i.StartingNodes = append(i.StartingNodes, node)
		}

		if g.IsTerminal(node) {
			i.TerminalNodes = append(i.TerminalNodes, node)
		}
	}

	return i
}
