package entity

import "sort"

// IdentityKey is the stable identity of a keyed instance.
type IdentityKey struct {
	Type string
	Key  string
}

// Graph is the full set of constructed instances for one build: the keyed
// identity index plus the top-level roots. Instances enter the index when
// any row supplies their primary key and are never removed, only enriched.
type Graph struct {
	index      map[IdentityKey]*Instance
	roots      []*Instance
	provenance *Provenance
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		index:      make(map[IdentityKey]*Instance),
		provenance: NewProvenance(),
	}
}

// AddRoot registers a top-level instance. Adding the same instance twice is
// a no-op.
func (g *Graph) AddRoot(in *Instance) {
	for _, r := range g.roots {
		if r == in {
			return
		}
	}
	g.roots = append(g.roots, in)
}

// removeRoot drops a root that was merged away during identity binding.
func (g *Graph) removeRoot(in *Instance) {
	for i, r := range g.roots {
		if r == in {
			g.roots = append(g.roots[:i], g.roots[i+1:]...)
			return
		}
	}
}

// Roots returns the top-level instances in registration order.
func (g *Graph) Roots() []*Instance {
	return append([]*Instance(nil), g.roots...)
}

// Lookup finds the keyed instance for an identity, if registered.
func (g *Graph) Lookup(typ, key string) (*Instance, bool) {
	in, ok := g.index[IdentityKey{Type: typ, Key: key}]
	return in, ok
}

// Keyed returns every keyed instance, ordered by (type, key) for
// deterministic iteration.
func (g *Graph) Keyed() []*Instance {
	out := make([]*Instance, 0, len(g.index))
	for _, in := range g.index {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].typ != out[j].typ {
			return out[i].typ < out[j].typ
		}
		return out[i].key < out[j].key
	})
	return out
}

// Identities returns the set of registered (type, key) pairs, sorted.
func (g *Graph) Identities() []IdentityKey {
	out := make([]IdentityKey, 0, len(g.index))
	for k := range g.index {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Reindex registers an already keyed instance in the identity index. Used
// when rehydrating a persisted graph; a no-op for unkeyed instances.
func (g *Graph) Reindex(in *Instance) {
	if in.keyed {
		g.index[IdentityKey{Type: in.typ, Key: in.key}] = in
	}
}

// Provenance returns the record-ordinal index for this graph.
func (g *Graph) Provenance() *Provenance { return g.provenance }

// Walk visits every instance reachable from the roots, parents before
// children, in deterministic order.
func (g *Graph) Walk(visit func(parent *Instance, edge string, in *Instance)) {
	for _, r := range g.roots {
		walk(nil, "", r, visit)
	}
}

func walk(parent *Instance, edge string, in *Instance, visit func(*Instance, string, *Instance)) {
	visit(parent, edge, in)
	for _, e := range in.Edges() {
		for _, c := range in.Children(e) {
			walk(in, e, c, visit)
		}
	}
}
