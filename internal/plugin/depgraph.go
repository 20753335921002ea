package plugin

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// ResolveOrder performs an iterative topological sort over the plugins'
// declared dependencies (spec.md §4.E step 2). Missing dependencies and
// cycles are both fatal. Every missing dependency is reported in one
// aggregated error; cycles are only checked when no dependency is missing.
func ResolveOrder(descs []Descriptor) ([]Descriptor, error) {
	byName := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}

	var errs *multierror.Error
	for _, d := range descs {
		for _, dep := range d.Dependencies {
			if _, ok := byName[dep]; !ok {
				errs = multierror.Append(errs, fmt.Errorf("plugin %q depends on missing plugin %q", d.Name, dep))
			}
		}
	}
	if errs.ErrorOrNil() != nil {
		return nil, errs
	}

	// Kahn's algorithm: indegree = number of unresolved dependencies.
	indegree := make(map[string]int, len(descs))
	dependents := make(map[string][]string) // dep -> plugins that depend on it
	for _, d := range descs {
		indegree[d.Name] = len(d.Dependencies)
		for _, dep := range d.Dependencies {
			dependents[dep] = append(dependents[dep], d.Name)
		}
	}

	var ready []string
	for _, d := range descs {
		if indegree[d.Name] == 0 {
			ready = append(ready, d.Name)
		}
	}
	sort.Strings(ready) // deterministic order among equally-ready plugins

	var order []Descriptor
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		order = append(order, byName[name])

		next := append([]string(nil), dependents[name]...)
		sort.Strings(next)
		for _, dependent := range next {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(descs) {
		var cyclic []string
		for name, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, fmt.Errorf("dependency cycle detected among plugins: %v", cyclic)
	}

	return order, nil
}
