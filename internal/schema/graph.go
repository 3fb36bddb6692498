// Package schema holds the runtime form of the schema-graph contract: a
// read-only index of entity types, their attributes, child edges and
// polymorphic categories. It is built once from an api.Document and is never
// mutated afterwards; row ingestion consults it but can never add facts.
package schema

import (
	"fmt"

	"github.com/openjustice/entitygraph/api"
)

// UnknownTypeError reports a dotted path or type name that does not resolve
// against the schema. It is raised during spec validation only.
type UnknownTypeError struct {
	Path string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("schema: unknown type or attribute %q", e.Path)
}

// Edge is a directed parent→child relationship.
type Edge struct {
	Child       string // declared child type: an entity or category name
	Cardinality string // api.CardinalityOne or api.CardinalityMany
}

// Hop is one step of a resolved path between two types.
type Hop struct {
	From string // type owning the edge
	Edge Edge
}

// AttributeRef addresses a single attribute of an entity type.
type AttributeRef struct {
	Type      string
	Attribute string // empty when the path named a bare type
}

// Category groups the concrete subtypes of a polymorphic type.
type Category struct {
	Name     string
	Default  string
	Subtypes []string
}

type typeDef struct {
	name     string
	key      string
	category string // owning category when this is a concrete subtype
	attrs    map[string]struct{}
	edges    []Edge
}

// Graph is the read-only schema index.
type Graph struct {
	version    string
	types      map[string]*typeDef
	categories map[string]*Category
	roots      []string
}

// New builds a Graph from a schema document, checking internal consistency:
// every edge target must be a declared type, category defaults must be among
// their subtypes, and no name may be declared twice.
func New(doc *api.Document) (*Graph, error) {
	g := &Graph{
		version:    doc.Version,
		types:      make(map[string]*typeDef),
		categories: make(map[string]*Category),
	}

	register := func(name, key string, attrs []string, children []api.Child, category string) error {
		if _, dup := g.types[name]; dup {
			return fmt.Errorf("schema: type %q declared twice", name)
		}
		td := &typeDef{
			name:     name,
			key:      key,
			category: category,
			attrs:    make(map[string]struct{}, len(attrs)),
		}
		for _, a := range attrs {
			td.attrs[a] = struct{}{}
		}
		if key != "" {
			if _, ok := td.attrs[key]; !ok {
				return fmt.Errorf("schema: type %q: key %q is not among its attributes", name, key)
			}
		}
		for _, c := range children {
			card := c.Cardinality
			if card == "" {
				card = api.CardinalityMany
			}
			if card != api.CardinalityOne && card != api.CardinalityMany {
				return fmt.Errorf("schema: type %q: child %q has invalid cardinality %q", name, c.Type, card)
			}
			td.edges = append(td.edges, Edge{Child: c.Type, Cardinality: card})
		}
		g.types[name] = td
		return nil
	}

	for _, e := range doc.Entities {
		if err := register(e.Name, e.Key, e.Attributes, e.Children, ""); err != nil {
			return nil, err
		}
	}
	for _, c := range doc.Categories {
		if err := register(c.Name, c.Key, c.Attributes, c.Children, ""); err != nil {
			return nil, err
		}
		if len(c.Subtypes) == 0 {
			return nil, fmt.Errorf("schema: category %q declares no subtypes", c.Name)
		}
		cat := &Category{Name: c.Name, Default: c.Default, Subtypes: append([]string(nil), c.Subtypes...)}
		found := false
		for _, st := range c.Subtypes {
			if st == c.Default {
				found = true
			}
			// Subtypes share the category's key, attributes and edges.
			if err := register(st, c.Key, c.Attributes, c.Children, c.Name); err != nil {
				return nil, err
			}
		}
		if !found {
			return nil, fmt.Errorf("schema: category %q: default %q is not among its subtypes", c.Name, c.Default)
		}
		g.categories[c.Name] = cat
	}

	// Every edge must point at a declared type.
	incoming := make(map[string]bool)
	for name, td := range g.types {
		for _, e := range td.edges {
			child, ok := g.types[e.Child]
			if !ok {
				return nil, fmt.Errorf("schema: type %q: edge to undeclared type %q", name, e.Child)
			}
			incoming[e.Child] = true
			if child.category != "" {
				incoming[child.category] = true
			}
			// An edge to a category reaches all of its subtypes.
			if cat, ok := g.categories[e.Child]; ok {
				for _, st := range cat.Subtypes {
					incoming[st] = true
				}
			}
		}
	}

	for _, e := range doc.Entities {
		if !incoming[e.Name] {
			g.roots = append(g.roots, e.Name)
		}
	}
	for _, c := range doc.Categories {
		if !incoming[c.Name] {
			g.roots = append(g.roots, c.Name)
		}
	}
	return g, nil
}

// Version returns the document version the graph was built from.
func (g *Graph) Version() string { return g.version }

// Roots returns the entity types reachable by no incoming edge, in
// declaration order.
func (g *Graph) Roots() []string {
	return append([]string(nil), g.roots...)
}

// Has reports whether name is a declared type, category or subtype.
func (g *Graph) Has(name string) bool {
	_, ok := g.types[name]
	return ok
}

// TypeOf resolves a dotted destination path: "Person" names a type,
// "Person.surname" names an attribute of that type.
func (g *Graph) TypeOf(path string) (AttributeRef, error) {
	name, attr := splitPath(path)
	td, ok := g.types[name]
	if !ok {
		return AttributeRef{}, &UnknownTypeError{Path: path}
	}
	if attr != "" {
		if _, ok := td.attrs[attr]; !ok {
			return AttributeRef{}, &UnknownTypeError{Path: path}
		}
	}
	return AttributeRef{Type: name, Attribute: attr}, nil
}

// ChildEdges returns the ordered child edges of a type. Subtypes report
// their category's edges.
func (g *Graph) ChildEdges(name string) ([]Edge, error) {
	td, ok := g.types[name]
	if !ok {
		return nil, &UnknownTypeError{Path: name}
	}
	return append([]Edge(nil), td.edges...), nil
}

// IsAbstract reports whether name is a polymorphic category.
func (g *Graph) IsAbstract(name string) bool {
	_, ok := g.categories[name]
	return ok
}

// ConcreteSubtypes returns the declared subtypes of a category.
func (g *Graph) ConcreteSubtypes(name string) ([]string, bool) {
	cat, ok := g.categories[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), cat.Subtypes...), true
}

// DefaultSubtype returns the subtype materialized when no source override
// applies.
func (g *Graph) DefaultSubtype(name string) (string, bool) {
	cat, ok := g.categories[name]
	if !ok {
		return "", false
	}
	return cat.Default, true
}

// CategoryOf returns the owning category of a concrete subtype.
func (g *Graph) CategoryOf(name string) (string, bool) {
	td, ok := g.types[name]
	if !ok || td.category == "" {
		return "", false
	}
	return td.category, true
}

// IdentifyingAttribute returns the designated primary-key attribute of a
// type, if it has one.
func (g *Graph) IdentifyingAttribute(name string) (string, bool) {
	td, ok := g.types[name]
	if !ok || td.key == "" {
		return "", false
	}
	return td.key, true
}

// HasAttribute reports whether the type carries the named attribute.
func (g *Graph) HasAttribute(name, attr string) bool {
	td, ok := g.types[name]
	if !ok {
		return false
	}
	_, ok = td.attrs[attr]
	return ok
}

// PathTo finds the edge path from one type down to a target type or
// category. An edge pointing at a category also reaches each of its
// subtypes. The search is breadth-first over edges in declaration order, so
// the result is deterministic; ties resolve to the shallower, earlier-
// declared path.
func (g *Graph) PathTo(from, target string) ([]Hop, error) {
	if _, ok := g.types[from]; !ok {
		return nil, &UnknownTypeError{Path: from}
	}
	if _, ok := g.types[target]; !ok {
		return nil, &UnknownTypeError{Path: target}
	}
	if from == target {
		return nil, nil
	}
	targetCat, _ := g.CategoryOf(target)

	type state struct {
		typeName string
		path     []Hop
	}
	queue := []state{{typeName: from}}
	seen := map[string]bool{from: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		td := g.types[cur.typeName]
		for _, e := range td.edges {
			hop := Hop{From: cur.typeName, Edge: e}
			path := append(append([]Hop(nil), cur.path...), hop)
			if e.Child == target || (targetCat != "" && e.Child == targetCat) {
				return path, nil
			}
			if !seen[e.Child] {
				seen[e.Child] = true
				queue = append(queue, state{typeName: e.Child, path: path})
			}
		}
	}
	return nil, fmt.Errorf("schema: no path from %q to %q", from, target)
}

func splitPath(path string) (name, attr string) {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}
