package resolve

import "sort"

// topoSort produces a build-safe install order over nodes' Deps edges
// using Kahn's algorithm, batching any cyclic equivalence classes
// together in name order -- cycles are never broken by removing edges.
func topoSort(nodes map[string]*ResolvedNode) ([]string, [][]string, error) {
	indegree := map[string]int{}
	dependents := map[string][]string{} // dep -> names that depend on it
	for name := range nodes {
		indegree[name] = 0
	}
	for name, n := range nodes {
		seen := map[string]bool{}
		for _, dep := range n.Deps {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if _, ok := nodes[dep]; !ok {
				continue
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, d := range indegree {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	removed := map[string]bool{}
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		if removed[name] {
			continue
		}
		removed[name] = true
		order = append(order, name)
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) == len(nodes) {
		return order, nil, nil
	}

	// Remaining nodes are either in a cycle or depend on one. Peel off one
	// strongly connected component at a time (Tarjan's first component has
	// no dependencies left among the remaining nodes) and append it as a
	// name-ordered batch; only components of more than one node are
	// reported as cycles.
	remaining := map[string]*ResolvedNode{}
	for name := range nodes {
		if !removed[name] {
			remaining[name] = nodes[name]
		}
	}

	var cycles [][]string
	for len(remaining) > 0 {
		scc := stronglyConnected(remaining)
		sort.Strings(scc)
		order = append(order, scc...)
		if len(scc) > 1 {
			cycles = append(cycles, scc)
		}
		for _, name := range scc {
			delete(remaining, name)
		}
	}

	return order, cycles, nil
}

// stronglyConnected returns one strongly connected component of the
// remaining dependency graph via Tarjan's algorithm, restricted to nodes
// still in play.
func stronglyConnected(nodes map[string]*ResolvedNode) []string {
	index := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	counter := 0
	var sccs [][]string

	var names []string
	for n := range nodes {
		names = append(names, n)
	}
	sort.Strings(names)

	var strongconnect func(v string)
	strongconnect = func(v string) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		deps := append([]string(nil), nodes[v].Deps...)
		sort.Strings(deps)
		for _, w := range deps {
			if _, ok := nodes[w]; !ok {
				continue
			}
			if _, visited := index[w]; !visited {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if lowlink[v] == index[v] {
			var comp []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, comp)
		}
	}

	for _, n := range names {
		if _, visited := index[n]; !visited {
			strongconnect(n)
		}
	}

	// Return the first SCC found that still contains a member still in
	// play -- stronglyConnected is called once per remaining component by
	// topoSort, so the first result is always valid; subsequent calls
	// operate on the shrinking remainder.
	return sccs[0]
}
