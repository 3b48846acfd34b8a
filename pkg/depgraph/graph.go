package depgraph

import (
	"sort"

	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/types"
)

// Graph is the directed acyclic dependency graph over service IDs. An edge
// A -> B means A depends on B.
type Graph struct {
	deps       map[string][]string // service -> services it depends on
	dependents map[string][]string // service -> services depending on it
}

// NewGraph builds a graph from service definitions.
func NewGraph(services []*types.ServiceDefinition) *Graph {
	g := &Graph{
		deps:       make(map[string][]string, len(services)),
		dependents: make(map[string][]string),
	}
	for _, svc := range services {
		g.deps[svc.ID] = append([]string(nil), svc.Dependencies...)
		for _, dep := range svc.Dependencies {
			g.dependents[dep] = append(g.dependents[dep], svc.ID)
		}
	}
	return g
}

// DependenciesOf returns the direct dependencies of a service.
func (g *Graph) DependenciesOf(id string) []string {
	return g.deps[id]
}

// DependentsOf returns the services that directly depend on the given one.
func (g *Graph) DependentsOf(id string) []string {
	out := append([]string(nil), g.dependents[id]...)
	sort.Strings(out)
	return out
}

// Sort returns the members of subset in dependency order (dependencies first)
// using Kahn's algorithm. Edges leaving the subset are ignored; ties are
// broken alphabetically so the order is deterministic. A cycle within the
// subset yields CircularDependency.
func (g *Graph) Sort(subset []string) ([]string, error) {
	in := make(map[string]bool, len(subset))
	for _, id := range subset {
		in[id] = true
	}

	indegree := make(map[string]int, len(subset))
	for _, id := range subset {
		indegree[id] = 0
		for _, dep := range g.deps[id] {
			if in[dep] {
				indegree[id]++
			}
		}
	}

	var ready []string
	for _, id := range subset {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	out := make([]string, 0, len(subset))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)

		freed := false
		for _, dependent := range g.dependents[id] {
			if !in[dependent] {
				continue
			}
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				freed = true
			}
		}
		if freed {
			sort.Strings(ready)
		}
	}

	if len(out) != len(subset) {
		var stuck []string
		for _, id := range subset {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, errdefs.New(errdefs.KindCircularDependency,
			"dependency cycle among services %v", stuck).
			WithDetails(map[string]any{"services": stuck})
	}
	return out, nil
}

// ReverseSort returns the subset in reverse dependency order (dependents
// first), the order services are stopped in.
func (g *Graph) ReverseSort(subset []string) ([]string, error) {
	order, err := g.Sort(subset)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// MissingDependencies returns, for each member of subset, its dependencies
// that are outside the subset. The caller decides whether those are satisfied
// some other way (e.g. already running).
func (g *Graph) MissingDependencies(subset []string) map[string][]string {
	in := make(map[string]bool, len(subset))
	for _, id := range subset {
		in[id] = true
	}
	out := make(map[string][]string)
	for _, id := range subset {
		for _, dep := range g.deps[id] {
			if !in[dep] {
				out[id] = append(out[id], dep)
			}
		}
	}
	return out
}
