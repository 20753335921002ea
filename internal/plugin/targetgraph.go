package plugin

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/discosat/satop-platform/internal/eventbus"
)

const (
	RootStartup  = "satop.startup"
	RootShutdown = "satop.shutdown"
)

// TargetFunc is a plugin's lifecycle step, looked up by (plugin, target)
// name at graph-build time.
type TargetFunc func() error

// TargetLookup resolves a plugin's declared target to its callable. Plugins
// that don't implement the target return ok=false; the target graph then
// runs it as a no-op (plugin business logic is out of scope for this core).
type TargetLookup func(pluginName, targetName string) (fn TargetFunc, ok bool)

type targetNode struct {
	id     string // "<plugin>.<target>" or one of the two synthetic roots
	fn     TargetFunc
	before []string
	after  []string
}

// TargetGraph is the precomputed lifecycle scheduler built from every
// plugin's declared targets (spec.md §4.E step 5).
type TargetGraph struct {
	nodes map[string]*targetNode
	// roots maps a root node id to the topological sequence of nodes in its
	// weakly connected component, precomputed at build time.
	roots map[string][]*targetNode
}

// BuildTargetGraph merges every plugin's declared targets with the two
// default targets, validates the resulting graph (edges resolve, no
// cycles, each weakly connected component has exactly one root), and
// precomputes each root's topological run order.
func BuildTargetGraph(descs []Descriptor, lookup TargetLookup) (*TargetGraph, error) {
	g := &TargetGraph{nodes: make(map[string]*targetNode), roots: make(map[string][]*targetNode)}

	g.nodes[RootStartup] = &targetNode{id: RootStartup}
	g.nodes[RootShutdown] = &targetNode{id: RootShutdown}

	for _, d := range descs {
		for targetName, spec := range d.mergedTargets() {
			id := d.Name + "." + targetName
			fn, _ := lookup(d.Name, spec.Function)
			g.nodes[id] = &targetNode{id: id, fn: fn, before: spec.Before, after: spec.After}
		}
	}

	if err := g.validateEdges(); err != nil {
		return nil, err
	}

	adjacency := g.directedAdjacency()
	if err := detectCycle(adjacency, g.nodeIDs()); err != nil {
		return nil, err
	}

	components := g.weaklyConnectedComponents()
	for _, comp := range components {
		root, err := singleRoot(comp, adjacency)
		if err != nil {
			return nil, err
		}
		orderIDs, err := topoOrder(comp, adjacency)
		if err != nil {
			return nil, err
		}
		order := make([]*targetNode, len(orderIDs))
		for i, id := range orderIDs {
			order[i] = g.nodes[id]
		}
		g.roots[root] = order
	}

	return g, nil
}

func (g *TargetGraph) nodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	return ids
}

// validateEdges ensures every before/after target names a node that exists.
func (g *TargetGraph) validateEdges() error {
	var errs *multierror.Error
	for id, n := range g.nodes {
		for _, b := range n.before {
			if _, ok := g.nodes[b]; !ok {
				errs = multierror.Append(errs, fmt.Errorf("target %q declares before %q which does not exist", id, b))
			}
		}
		for _, a := range n.after {
			if _, ok := g.nodes[a]; !ok {
				errs = multierror.Append(errs, fmt.Errorf("target %q declares after %q which does not exist", id, a))
			}
		}
	}
	return errs.ErrorOrNil()
}

// directedAdjacency returns edge -> dependents: an edge X->Y means "Y runs
// after X" (X must run first).
func (g *TargetGraph) directedAdjacency() map[string][]string {
	adj := make(map[string][]string)
	for id, n := range g.nodes {
		for _, before := range n.before {
			adj[id] = append(adj[id], before) // id runs before `before` => id -> before
		}
		for _, after := range n.after {
			adj[after] = append(adj[after], id) // id runs after `after` => after -> id
		}
	}
	return adj
}

func detectCycle(adj map[string][]string, ids []string) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(ids))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				return fmt.Errorf("cycle detected in target graph: %v -> %s", stack, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// weaklyConnectedComponents groups nodes ignoring edge direction.
func (g *TargetGraph) weaklyConnectedComponents() [][]string {
	undirected := make(map[string][]string)
	for id, n := range g.nodes {
		for _, b := range n.before {
			undirected[id] = append(undirected[id], b)
			undirected[b] = append(undirected[b], id)
		}
		for _, a := range n.after {
			undirected[id] = append(undirected[id], a)
			undirected[a] = append(undirected[a], id)
		}
	}

	visited := make(map[string]bool, len(g.nodes))
	var components [][]string

	ids := g.nodeIDs()
	sort.Strings(ids)
	for _, start := range ids {
		if visited[start] {
			continue
		}
		var comp []string
		queue := []string{start}
		visited[start] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			comp = append(comp, cur)
			for _, next := range undirected[cur] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		sort.Strings(comp)
		components = append(components, comp)
	}
	return components
}

func singleRoot(comp []string, adj map[string][]string) (string, error) {
	indeg := make(map[string]int, len(comp))
	inComp := make(map[string]bool, len(comp))
	for _, id := range comp {
		inComp[id] = true
	}
	for _, id := range comp {
		for _, next := range adj[id] {
			if inComp[next] {
				indeg[next]++
			}
		}
	}

	var roots []string
	for _, id := range comp {
		if indeg[id] == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)

	if len(roots) != 1 {
		return "", fmt.Errorf("target graph component %v must have exactly one root, found %v", comp, roots)
	}
	return roots[0], nil
}

func topoOrder(comp []string, adj map[string][]string) ([]string, error) {
	// Local Kahn's algorithm restricted to comp.
	inComp := make(map[string]bool, len(comp))
	for _, id := range comp {
		inComp[id] = true
	}
	indeg := make(map[string]int, len(comp))
	for _, id := range comp {
		indeg[id] = 0
	}
	for _, id := range comp {
		for _, next := range adj[id] {
			if inComp[next] {
				indeg[next]++
			}
		}
	}

	var ready []string
	for _, id := range comp {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		next := append([]string(nil), adj[id]...)
		sort.Strings(next)
		for _, n := range next {
			if !inComp[n] {
				continue
			}
			indeg[n]--
			if indeg[n] == 0 {
				ready = append(ready, n)
			}
		}
	}

	if len(order) != len(comp) {
		return nil, fmt.Errorf("failed to linearize target graph component %v", comp)
	}
	return order, nil
}

// Subscribe registers each precomputed root's topological run sequence on
// bus, so publishing satop.startup / satop.shutdown drives every plugin's
// lifecycle targets in dependency order.
func (g *TargetGraph) Subscribe(bus *eventbus.Bus) {
	for root, order := range g.roots {
		order := order
		bus.Subscribe(root, func(msg any) {
			for _, n := range order {
				if n.fn == nil {
					continue
				}
				if err := n.fn(); err != nil {
					bus.Publish("satop.target_error", fmt.Errorf("target %s: %w", n.id, err))
				}
			}
		})
	}
}
