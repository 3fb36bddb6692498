package build

import (
	"github.com/openjustice/entitygraph/internal/mapping"
	"github.com/openjustice/entitygraph/internal/schema"
)

// AncestorResolver picks the concrete entity type materialized for a schema
// edge. It is a pure lookup decided once per source, never per row: a
// source's enforced override wins, otherwise the schema's declared default
// subtype applies. Concrete types pass through unchanged.
type AncestorResolver struct {
	schema *schema.Graph
	spec   *mapping.Spec
}

// NewAncestorResolver creates a resolver for one source's spec.
func NewAncestorResolver(g *schema.Graph, spec *mapping.Spec) *AncestorResolver {
	return &AncestorResolver{schema: g, spec: spec}
}

// ChildType resolves the declared child type of an edge to the concrete
// type to instantiate.
func (a *AncestorResolver) ChildType(declared string) string {
	if !a.schema.IsAbstract(declared) {
		return declared
	}
	if concrete, ok := a.spec.EnforcedAncestorTypes[declared]; ok {
		return concrete
	}
	def, _ := a.schema.DefaultSubtype(declared)
	return def
}
