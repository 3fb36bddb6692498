// Package entity holds the mutable output side of a build: typed entity
// instances, the identity index that deduplicates them across rows, and the
// merge machinery with its first-wins conflict policy.
package entity

import (
	"sort"

	"github.com/google/uuid"
)

// Instance is one constructed entity: a typed, string-valued attribute map
// plus exclusively owned children. An instance starts unkeyed and is
// promoted to keyed when a row supplies its primary-key value; the
// transition is irreversible.
type Instance struct {
	typ      string
	uid      string
	attrs    map[string]string
	children map[string][]*Instance // declared edge type → ordered instances
	key      string
	keyed    bool
}

// New creates an unkeyed instance of the given type. The uid is a transient
// handle, stable for the life of the instance but carrying no identity
// semantics.
func New(typ string) *Instance {
	return &Instance{
		typ:   typ,
		uid:   uuid.NewString(),
		attrs: make(map[string]string),
	}
}

// Rehydrate reconstructs an instance from persisted state. Snapshot loading
// only; live builds go through New and the resolver so the merge policy
// always applies.
func Rehydrate(typ, uid, key string, keyed bool, attrs map[string]string) *Instance {
	in := &Instance{
		typ:   typ,
		uid:   uid,
		attrs: make(map[string]string, len(attrs)),
		key:   key,
		keyed: keyed,
	}
	for k, v := range attrs {
		in.attrs[k] = v
	}
	return in
}

// Type returns the concrete entity type name.
func (in *Instance) Type() string { return in.typ }

// UID returns the transient handle.
func (in *Instance) UID() string { return in.uid }

// Keyed reports whether the primary key has been observed.
func (in *Instance) Keyed() bool { return in.keyed }

// Key returns the primary-key value, empty while unkeyed.
func (in *Instance) Key() string { return in.key }

// Attr returns an attribute value and whether it is set.
func (in *Instance) Attr(name string) (string, bool) {
	v, ok := in.attrs[name]
	return v, ok
}

// Attrs returns a copy of the attribute map.
func (in *Instance) Attrs() map[string]string {
	out := make(map[string]string, len(in.attrs))
	for k, v := range in.attrs {
		out[k] = v
	}
	return out
}

// AttrNames returns the set attribute names in sorted order.
func (in *Instance) AttrNames() []string {
	names := make([]string, 0, len(in.attrs))
	for k := range in.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// setAttr writes an attribute unconditionally. Callers outside the package
// go through Resolver.MergeField so the conflict policy always applies.
func (in *Instance) setAttr(name, value string) {
	in.attrs[name] = value
}

// Children returns the ordered child instances on a declared edge.
func (in *Instance) Children(edge string) []*Instance {
	return in.children[edge]
}

// Edges returns the edge names that have at least one child, sorted.
func (in *Instance) Edges() []string {
	names := make([]string, 0, len(in.children))
	for k := range in.children {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Attach appends a child on the named edge. Ownership is exclusive: a child
// belongs to exactly one parent.
func (in *Instance) Attach(edge string, child *Instance) {
	if in.children == nil {
		in.children = make(map[string][]*Instance)
	}
	in.children[edge] = append(in.children[edge], child)
}

// Detach removes a child from the named edge. A no-op when the child is not
// attached there.
func (in *Instance) Detach(edge string, child *Instance) {
	kids := in.children[edge]
	for i, c := range kids {
		if c == child {
			in.children[edge] = append(kids[:i], kids[i+1:]...)
			return
		}
	}
}

// HasChild reports whether the exact instance is already attached on the
// named edge.
func (in *Instance) HasChild(edge string, child *Instance) bool {
	for _, c := range in.children[edge] {
		if c == child {
			return true
		}
	}
	return false
}

// FindEqualChild returns an attached child on the named edge whose subtree
// equals the candidate, if any. Used to keep re-ingested identical rows from
// attaching duplicate unkeyed children.
func (in *Instance) FindEqualChild(edge string, candidate *Instance) *Instance {
	for _, c := range in.children[edge] {
		if c.Equal(candidate) {
			return c
		}
	}
	return nil
}

// Equal reports deep equality of type, attributes and child subtrees. The
// uid and keyed state are deliberately excluded: two observations of the
// same facts are equal regardless of when identity was bound.
func (in *Instance) Equal(other *Instance) bool {
	if in.typ != other.typ || len(in.attrs) != len(other.attrs) {
		return false
	}
	for k, v := range in.attrs {
		if ov, ok := other.attrs[k]; !ok || ov != v {
			return false
		}
	}
	if len(in.children) != len(other.children) {
		return false
	}
	for edge, kids := range in.children {
		okids := other.children[edge]
		if len(kids) != len(okids) {
			return false
		}
		for i := range kids {
			if !kids[i].Equal(okids[i]) {
				return false
			}
		}
	}
	return true
}

// Empty reports whether the instance carries no attributes and no children.
func (in *Instance) Empty() bool {
	return len(in.attrs) == 0 && len(in.children) == 0
}
