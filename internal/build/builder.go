// Package build turns raw source rows into a typed entity graph, driven by
// a validated per-source mapping spec and the schema-graph contract. The
// builder routes every row field to its destination, materializes missing
// ancestors along the way, and enforces that no field is ever silently
// dropped.
package build

import (
	"sort"

	"github.com/openjustice/entitygraph/api"
	"github.com/openjustice/entitygraph/internal/entity"
	"github.com/openjustice/entitygraph/internal/mapping"
	"github.com/openjustice/entitygraph/internal/schema"
)

// fieldPlan is the compiled routing decision for one source field.
type fieldPlan struct {
	ignore   bool
	top      bool         // destination is an attribute of the top-level type
	attr     string       // destination attribute
	destType string       // destination type as written in the spec
	hops     []schema.Hop // edge path from the top-level type (child plans)
	isPK     bool         // field carries destType's primary key
}

// planSet is a spec compiled against a schema: one plan per known field.
// Compiled once per source; shared read-only by every builder in a batch.
type planSet struct {
	top         string
	topKeyField string
	fields      map[string]*fieldPlan
}

func compile(g *schema.Graph, spec *mapping.Spec) (*planSet, error) {
	top, topKeyField, err := mapping.TopLevel(spec, g)
	if err != nil {
		return nil, err
	}
	ps := &planSet{top: top, topKeyField: topKeyField, fields: make(map[string]*fieldPlan)}

	for field, dest := range spec.KeyMappings {
		_, attr, err := mapping.ParseDestination(dest)
		if err != nil {
			return nil, err
		}
		ps.fields[field] = &fieldPlan{top: true, attr: attr, destType: top}
	}
	for field, dest := range spec.ChildKeyMappings {
		plan, err := childPlan(g, top, dest)
		if err != nil {
			return nil, err
		}
		ps.fields[field] = plan
	}
	for field, dest := range spec.PrimaryKey {
		if plan, ok := ps.fields[field]; ok {
			plan.isPK = true
			continue
		}
		destType, attr, err := mapping.ParseDestination(dest)
		if err != nil {
			return nil, err
		}
		if destType == top {
			ps.fields[field] = &fieldPlan{top: true, attr: attr, destType: top, isPK: true}
			continue
		}
		plan, err := childPlan(g, top, dest)
		if err != nil {
			return nil, err
		}
		plan.isPK = true
		ps.fields[field] = plan
	}
	for field := range spec.KeysToIgnore {
		ps.fields[field] = &fieldPlan{ignore: true}
	}
	return ps, nil
}

func childPlan(g *schema.Graph, top, dest string) (*fieldPlan, error) {
	destType, attr, err := mapping.ParseDestination(dest)
	if err != nil {
		return nil, err
	}
	hops, err := g.PathTo(top, destType)
	if err != nil {
		return nil, err
	}
	return &fieldPlan{attr: attr, destType: destType, hops: hops}, nil
}

// EntityRef identifies an instance touched by one record.
type EntityRef struct {
	Type string
	Key  string // empty while unkeyed
	UID  string
}

// IngestResult summarizes one record's application to the graph. Conflicts
// and identity collisions are reported, never fatal; the graph keeps its
// first-observed values.
type IngestResult struct {
	Record     uint32
	Touched    []EntityRef
	Conflicts  []entity.MergeConflict
	Collisions []*entity.DuplicateIdentityError
}

// HasConflicts reports whether the record disagreed with previously
// observed values.
func (r *IngestResult) HasConflicts() bool {
	return len(r.Conflicts) > 0
}

// Builder ingests one top-level entity's row stream into an entity graph.
// It is not safe for concurrent use; rows for one top-level key must be
// applied in extraction order because the first-wins merge policy is
// order-sensitive at the field level.
type Builder struct {
	schema *schema.Graph
	spec   *mapping.Spec
	graph  *entity.Graph
	ids    *entity.Resolver
	anc    *AncestorResolver
	plans  *planSet

	root    *entity.Instance
	owners  map[*entity.Instance]*entity.Instance
	ordinal uint32
}

// NewBuilder compiles the spec against the schema and prepares a builder
// writing into the given graph. Spec-level failures surface here, before
// any row is processed.
func NewBuilder(g *schema.Graph, spec *mapping.Spec, graph *entity.Graph) (*Builder, error) {
	plans, err := compile(g, spec)
	if err != nil {
		return nil, err
	}
	return newBuilder(g, spec, graph, plans), nil
}

func newBuilder(g *schema.Graph, spec *mapping.Spec, graph *entity.Graph, plans *planSet) *Builder {
	return &Builder{
		schema: g,
		spec:   spec,
		graph:  graph,
		ids:    entity.NewResolver(graph),
		anc:    NewAncestorResolver(g, spec),
		plans:  plans,
		owners: make(map[*entity.Instance]*entity.Instance),
	}
}

// recordEntry is the per-record working instance for one destination type.
// All of a record's fields targeting the same concrete type hydrate a
// single instance, which is attached to the graph after the whole record
// has been routed.
type recordEntry struct {
	inst *entity.Instance
	hops []schema.Hop
	pk   string
}

// Ingest applies one record. The unknown-field check runs before any
// mutation, so a drifted row leaves the graph untouched.
func (b *Builder) Ingest(rec Record) (*IngestResult, error) {
	for _, f := range rec.Fields {
		if _, ok := b.plans.fields[f.Name]; !ok {
			return nil, &UnknownFieldError{Source: b.spec.Source, Field: f.Name}
		}
	}

	res := &IngestResult{Record: b.ordinal}
	b.ordinal++

	top, dup := b.topFor(rec)
	if dup != nil {
		res.Collisions = append(res.Collisions, dup)
		res.Conflicts = append(res.Conflicts, dup.Conflicts...)
	}

	entries := make(map[string]*recordEntry)
	var order []*recordEntry
	for _, f := range rec.Fields {
		plan := b.plans.fields[f.Name]
		switch {
		case plan.ignore:
		case plan.top:
			if c := b.ids.MergeField(top, plan.attr, f.Value); c != nil {
				res.Conflicts = append(res.Conflicts, *c)
			}
		default:
			e := b.entryFor(entries, &order, plan)
			if c := b.ids.MergeField(e.inst, plan.attr, f.Value); c != nil {
				res.Conflicts = append(res.Conflicts, *c)
			}
			if plan.isPK && f.Value != "" {
				e.pk = f.Value
			}
		}
	}

	// Attach shallow chains first so deeper paths can route through the
	// instances this record already materialized.
	sort.SliceStable(order, func(i, j int) bool {
		return len(order[i].hops) < len(order[j].hops)
	})
	attached := make(map[string]*entity.Instance)
	for _, e := range order {
		// A record that names a child type without observing any of its
		// values (blank CSV columns) contributes nothing at that level.
		if e.pk == "" && e.inst.Empty() {
			continue
		}
		parent := top
		for _, hop := range e.hops[:len(e.hops)-1] {
			parent = b.intermediate(parent, hop, attached, res)
		}
		canonical := b.attach(parent, e.hops[len(e.hops)-1], e, res)
		attached[canonical.Type()] = canonical
		b.markTouched(res, canonical)
	}

	b.markTouched(res, top)
	return res, nil
}

// Finalize verifies the batch-end invariants for this builder's graph: the
// top-level entity must have been identified by some row.
func (b *Builder) Finalize() error {
	for _, r := range b.graph.Roots() {
		if r.Type() == b.plans.top && !r.Keyed() {
			return &MissingPrimaryKeyError{EntityType: b.plans.top}
		}
	}
	return nil
}

// Graph returns the graph this builder writes into.
func (b *Builder) Graph() *entity.Graph { return b.graph }

// TopLevelType returns the entity type at the root of every record.
func (b *Builder) TopLevelType() string { return b.plans.top }

// TopKeyField returns the source field carrying the top-level primary key.
func (b *Builder) TopKeyField() string { return b.plans.topKeyField }

// topFor locates or creates the top-level instance for a record. A record
// without the key field joins the builder's unkeyed root; the first record
// that supplies the key promotes it, merging with any keyed occupant.
func (b *Builder) topFor(rec Record) (*entity.Instance, *entity.DuplicateIdentityError) {
	key, _ := rec.Get(b.plans.topKeyField)
	if key == "" {
		if b.root == nil {
			b.root = entity.New(b.plans.top)
			b.graph.AddRoot(b.root)
		}
		return b.root, nil
	}
	if b.root != nil && !b.root.Keyed() {
		canonical, dup := b.ids.BindUnkeyed(b.root, key)
		b.graph.AddRoot(canonical)
		b.root = canonical
		return canonical, dup
	}
	if b.root != nil && b.root.Key() == key {
		return b.root, nil
	}
	inst, _ := b.ids.Resolve(b.plans.top, key)
	b.graph.AddRoot(inst)
	b.root = inst
	return inst, nil
}

func (b *Builder) entryFor(entries map[string]*recordEntry, order *[]*recordEntry, plan *fieldPlan) *recordEntry {
	concrete := plan.destType
	if b.schema.IsAbstract(concrete) {
		concrete = b.anc.ChildType(concrete)
	}
	if e, ok := entries[concrete]; ok {
		return e
	}
	e := &recordEntry{inst: entity.New(concrete), hops: plan.hops}
	entries[concrete] = e
	*order = append(*order, e)
	return e
}

// intermediate materializes one pass-through level of a destination path:
// reuse what the record or the graph already has, create an empty instance
// otherwise.
func (b *Builder) intermediate(parent *entity.Instance, hop schema.Hop, attached map[string]*entity.Instance, res *IngestResult) *entity.Instance {
	declared := hop.Edge.Child
	concrete := b.anc.ChildType(declared)
	if in, ok := attached[concrete]; ok {
		return in
	}
	kids := parent.Children(declared)
	if len(kids) > 0 {
		if hop.Edge.Cardinality == api.CardinalityOne {
			return kids[0]
		}
		// A row describes one chain; later levels hang off the most
		// recently observed instance on this edge.
		return kids[len(kids)-1]
	}
	in := entity.New(concrete)
	parent.Attach(declared, in)
	b.owners[in] = parent
	b.markTouched(res, in)
	return in
}

// attach places a record's hydrated instance at its schema edge, resolving
// identity when the record supplied the type's primary key and deduplicating
// unkeyed repeats.
func (b *Builder) attach(parent *entity.Instance, hop schema.Hop, e *recordEntry, res *IngestResult) *entity.Instance {
	declared := hop.Edge.Child

	if e.pk != "" {
		kids := parent.Children(declared)
		if len(kids) == 1 && !kids[0].Keyed() && kids[0].Type() == e.inst.Type() {
			loose := kids[0]
			canonical, dup := b.ids.BindUnkeyed(loose, e.pk)
			if dup != nil {
				res.Collisions = append(res.Collisions, dup)
				res.Conflicts = append(res.Conflicts, dup.Conflicts...)
			}
			if canonical != loose {
				// The keyed occupant absorbed the unkeyed child; the
				// merged-away instance must not linger on this edge.
				parent.Detach(declared, loose)
				delete(b.owners, loose)
				if _, owned := b.owners[canonical]; !owned {
					parent.Attach(declared, canonical)
					b.owners[canonical] = parent
				}
			}
			res.Conflicts = append(res.Conflicts, b.ids.Merge(canonical, e.inst.Attrs())...)
			return canonical
		}
		canonical, _ := b.ids.Resolve(e.inst.Type(), e.pk)
		res.Conflicts = append(res.Conflicts, b.ids.Merge(canonical, e.inst.Attrs())...)
		if _, owned := b.owners[canonical]; !owned {
			parent.Attach(declared, canonical)
			b.owners[canonical] = parent
		}
		return canonical
	}

	kids := parent.Children(declared)
	if hop.Edge.Cardinality == api.CardinalityOne && len(kids) > 0 {
		canonical := kids[0]
		res.Conflicts = append(res.Conflicts, b.ids.Merge(canonical, e.inst.Attrs())...)
		return canonical
	}
	if eq := parent.FindEqualChild(declared, e.inst); eq != nil {
		return eq
	}
	parent.Attach(declared, e.inst)
	b.owners[e.inst] = parent
	return e.inst
}

func (b *Builder) markTouched(res *IngestResult, in *entity.Instance) {
	for _, t := range res.Touched {
		if t.UID == in.UID() {
			return
		}
	}
	res.Touched = append(res.Touched, EntityRef{Type: in.Type(), Key: in.Key(), UID: in.UID()})
	b.graph.Provenance().Touch(in.UID(), res.Record)
}
