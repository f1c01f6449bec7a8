package toolexecutor

import "sort"

// depGraph is an arena-indexed view of the dependency relation. Node i's
// dependencies are deps[i]; dependents[i] is the reverse adjacency.
type depGraph struct {
	names      []string
	index      map[string]int
	deps       [][]int
	dependents [][]int
}

// newDepGraph builds a graph over names, in the given order. Edges to
// names outside the set are ignored.
func newDepGraph(names []string, edges func(name string) []string) *depGraph {
	g := &depGraph{
		names:      names,
		index:      make(map[string]int, len(names)),
		deps:       make([][]int, len(names)),
		dependents: make([][]int, len(names)),
	}
	for i, name := range names {
		g.index[name] = i
	}
	for i, name := range names {
		for _, dep := range edges(name) {
			j, ok := g.index[dep]
			if !ok {
				continue
			}
			g.deps[i] = append(g.deps[i], j)
			g.dependents[j] = append(g.dependents[j], i)
		}
	}
	return g
}

// closure marks root and everything it transitively depends on
func (g *depGraph) closure(root int) []bool {
	in := make([]bool, len(g.names))
	stack := []int{root}
	in[root] = true
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range g.deps[n] {
			if !in[d] {
				in[d] = true
				stack = append(stack, d)
			}
		}
	}
	return in
}

// kahn sorts the nodes selected by in, dependencies first. Ties are broken
// by arena index so the result is stable.
func (g *depGraph) kahn(in []bool) ([]string, error) {
	indegree := make([]int, len(g.names))
	total := 0
	for i := range g.names {
		if !in[i] {
			continue
		}
		total++
		for _, d := range g.deps[i] {
			if in[d] {
				indegree[i]++
			}
		}
	}

	var ready []int
	for i := range g.names {
		if in[i] && indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	sorted := make([]string, 0, total)
	done := make([]bool, len(g.names))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		done[n] = true
		sorted = append(sorted, g.names[n])

		var unlocked []int
		for _, m := range g.dependents[n] {
			if !in[m] {
				continue
			}
			indegree[m]--
			if indegree[m] == 0 {
				unlocked = append(unlocked, m)
			}
		}
		sort.Ints(unlocked)
		ready = append(ready, unlocked...)
	}

	if len(sorted) < total {
		var stuck []string
		for i := range g.names {
			if in[i] && !done[i] {
				stuck = append(stuck, g.names[i])
			}
		}
		return nil, &CyclicDependencyError{Tools: stuck}
	}
	return sorted, nil
}

// order returns root's transitive dependencies followed by root
func (g *depGraph) order(root string) ([]string, error) {
	i, ok := g.index[root]
	if !ok {
		return nil, ErrToolNotFound
	}
	return g.kahn(g.closure(i))
}

// sortAll orders every node in the graph
func (g *depGraph) sortAll() ([]string, error) {
	in := make([]bool, len(g.names))
	for i := range in {
		in[i] = true
	}
	return g.kahn(in)
}
