package entity

import (
	"fmt"
	"sort"
)

// MergeConflict records two rows disagreeing on a non-empty attribute value
// for the same entity. The first-observed value is retained; the conflict is
// reported, never silently dropped.
type MergeConflict struct {
	EntityType string
	Key        string // primary-key value, empty for unkeyed instances
	Attribute  string
	Existing   string
	Incoming   string
}

func (c MergeConflict) String() string {
	return fmt.Sprintf("%s(%s).%s: kept %q, rejected %q",
		c.EntityType, c.Key, c.Attribute, c.Existing, c.Incoming)
}

// DuplicateIdentityError reports that binding an unkeyed instance collided
// with an instance already registered under the same identity. The two are
// merged under the conflict policy; the event is informational, not fatal.
type DuplicateIdentityError struct {
	Type      string
	Key       string
	Conflicts []MergeConflict
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("entity: duplicate identity %s(%s): merged %d conflicting attribute(s)",
		e.Type, e.Key, len(e.Conflicts))
}

// Resolver resolves and merges entity identity against one graph's index.
// One resolver is scoped to one top-level key's row stream; resolvers share
// no state, so independent top-level graphs can be built in parallel.
type Resolver struct {
	graph *Graph
}

// NewResolver creates a resolver over the graph's identity index.
func NewResolver(g *Graph) *Resolver {
	return &Resolver{graph: g}
}

// Resolve returns the instance registered under (typ, key), creating and
// registering a keyed instance when the identity is new. Re-ingesting a row
// with the same primary-key value never creates a duplicate.
func (r *Resolver) Resolve(typ, key string) (in *Instance, existed bool) {
	ik := IdentityKey{Type: typ, Key: key}
	if in, ok := r.graph.index[ik]; ok {
		return in, true
	}
	in = New(typ)
	in.key = key
	in.keyed = true
	r.graph.index[ik] = in
	return in, false
}

// MergeField applies one incoming attribute under the first-wins policy:
// unset adopts, equal is a no-op, different reports a conflict and keeps the
// existing value. Empty incoming values are treated as unobserved.
func (r *Resolver) MergeField(dst *Instance, name, value string) *MergeConflict {
	if value == "" {
		return nil
	}
	existing, ok := dst.Attr(name)
	if !ok || existing == "" {
		dst.setAttr(name, value)
		return nil
	}
	if existing == value {
		return nil
	}
	return &MergeConflict{
		EntityType: dst.Type(),
		Key:        dst.Key(),
		Attribute:  name,
		Existing:   existing,
		Incoming:   value,
	}
}

// Merge applies a set of incoming attributes, returning every conflict
// raised. The destination's existing values always win.
func (r *Resolver) Merge(dst *Instance, incoming map[string]string) []MergeConflict {
	var conflicts []MergeConflict
	for _, name := range sortedNames(incoming) {
		if c := r.MergeField(dst, name, incoming[name]); c != nil {
			conflicts = append(conflicts, *c)
		}
	}
	return conflicts
}

// BindUnkeyed promotes an unkeyed instance into the keyed index. When
// another instance already occupies the identity, the two are merged under
// the conflict policy: the occupant wins attribute conflicts, adopts the
// bound instance's children, and the collision is reported. The returned
// instance is the canonical one for the identity.
func (r *Resolver) BindUnkeyed(in *Instance, key string) (*Instance, *DuplicateIdentityError) {
	if in.Keyed() {
		return in, nil
	}
	ik := IdentityKey{Type: in.Type(), Key: key}
	occupant, occupied := r.graph.index[ik]
	if !occupied {
		in.key = key
		in.keyed = true
		r.graph.index[ik] = in
		return in, nil
	}
	if occupant == in {
		return in, nil
	}

	conflicts := r.Merge(occupant, in.Attrs())
	for _, edge := range in.Edges() {
		for _, child := range in.Children(edge) {
			r.adoptChild(occupant, edge, child)
		}
	}
	r.graph.provenance.Merge(occupant.UID(), in.UID())
	r.graph.removeRoot(in)
	return occupant, &DuplicateIdentityError{Type: ik.Type, Key: ik.Key, Conflicts: conflicts}
}

// adoptChild moves a child to a new parent, dropping it when the same
// instance or an equal subtree is already attached.
func (r *Resolver) adoptChild(parent *Instance, edge string, child *Instance) {
	if parent.HasChild(edge, child) || parent.FindEqualChild(edge, child) != nil {
		return
	}
	parent.Attach(edge, child)
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
