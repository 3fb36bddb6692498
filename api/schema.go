package api

// Document is the root of a schema-graph definition.
// It enumerates every entity type in the common schema, the attributes each
// type carries, and the parent/child edges between them. The document is an
// external, versioned contract: it is loaded once at process start and never
// mutated.
type Document struct {
	// Version of the schema contract.
	Version string `hcl:"version" json:"version"`
	// Entities are the concrete entity type definitions.
	Entities []Entity `hcl:"entity,block" json:"entities,omitempty"`
	// Categories are polymorphic entity types that must be materialized as
	// one of several concrete subtypes depending on source semantics.
	Categories []Category `hcl:"category,block" json:"categories,omitempty"`
}

// Entity defines one concrete entity type.
type Entity struct {
	// Name of the entity type, e.g. "Person".
	Name string `hcl:"name,label" json:"name"`
	// Key names the identifying attribute used for deduplication.
	// Empty for types that are never addressed by primary key.
	Key string `hcl:"key,optional" json:"key,omitempty"`
	// Attributes this type carries. All values are strings at this layer.
	Attributes []string `hcl:"attributes,optional" json:"attributes,omitempty"`
	// Children are the outgoing edges to child entity types.
	Children []Child `hcl:"child,block" json:"children,omitempty"`
}

// Category defines a polymorphic entity type. Its concrete subtypes share
// the category's key, attributes and child edges; a source-specific
// override (or the declared default) picks which subtype is materialized.
type Category struct {
	// Name of the abstract category, e.g. "Sentence".
	Name string `hcl:"name,label" json:"name"`
	// Default is the subtype used when a source declares no override.
	Default string `hcl:"default" json:"default"`
	// Subtypes enumerates the concrete types of this category.
	Subtypes []string `hcl:"subtypes" json:"subtypes"`
	// Key names the identifying attribute, shared by all subtypes.
	Key string `hcl:"key,optional" json:"key,omitempty"`
	// Attributes shared by all subtypes.
	Attributes []string `hcl:"attributes,optional" json:"attributes,omitempty"`
	// Children edges shared by all subtypes.
	Children []Child `hcl:"child,block" json:"children,omitempty"`
}

// Child is a directed edge from a parent type to a child type.
type Child struct {
	// Type is the child entity type or category name.
	Type string `hcl:"type,label" json:"type"`
	// Cardinality is "one" or "many". Defaults to "many".
	Cardinality string `hcl:"cardinality,optional" json:"cardinality,omitempty"`
}

// Edge cardinalities.
const (
	CardinalityOne  = "one"
	CardinalityMany = "many"
)
