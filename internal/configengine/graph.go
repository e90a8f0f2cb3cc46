package configengine

import "fmt"

// depGraph records, per service, which other services in the same
// configuration produce the objects it consumes, and yields a
// topological start order from that.
type depGraph struct {
	order     []string
	dependsOn map[string][]string
}

func newDepGraph() *depGraph {
	return &depGraph{dependsOn: make(map[string][]string)}
}

// addNode records id in declaration order along with the IDs of the
// other services in this same configuration that produce an object this
// service consumes via an in/inout port.
func (g *depGraph) addNode(id string, dependsOn []string) {
	g.order = append(g.order, id)
	g.dependsOn[id] = dependsOn
}

// startOrder returns a topological order consistent with both
// declaration order and data dependencies: services producing outputs
// are started before services consuming them.
func (g *depGraph) startOrder() ([]string, error) {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(g.order))
	var out []string

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle detected at %q (path: %v)", id, append(path, id))
		}
		state[id] = visiting
		for _, dep := range g.dependsOn[id] {
			if _, known := g.dependsOn[dep]; !known {
				continue // producer isn't a node in this graph (e.g. pre-existing object)
			}
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = visited
		out = append(out, id)
		return nil
	}

	for _, id := range g.order {
		if err := visit(id, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// teardownOrder is startOrder reversed.
func (g *depGraph) teardownOrder() ([]string, error) {
	order, err := g.startOrder()
	if err != nil {
		return nil, err
	}
	reversed := make([]string, len(order))
	for i, id := range order {
		reversed[len(order)-1-i] = id
	}
	return reversed, nil
}
