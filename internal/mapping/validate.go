package mapping

import (
	"fmt"
	"sort"

	"github.com/openjustice/entitygraph/internal/schema"
)

// Validate checks a spec against the schema graph. It returns an
// *InvalidSpecError listing every problem found, so a spec author can fix a
// document in one pass. Validation runs once per source at load time.
func Validate(spec *Spec, g *schema.Graph) error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	// Every destination path must resolve to an attribute.
	resolve := func(bucket, field, dest string) (schema.AttributeRef, bool) {
		entityType, attr, err := ParseDestination(dest)
		if err != nil {
			addf("%s: field %q: %v", bucket, field, err)
			return schema.AttributeRef{}, false
		}
		ref, err := g.TypeOf(entityType + "." + attr)
		if err != nil {
			addf("%s: field %q: %v", bucket, field, err)
			return schema.AttributeRef{}, false
		}
		return ref, true
	}

	keyRefs := make(map[string]schema.AttributeRef)
	for _, field := range sortedKeys(spec.KeyMappings) {
		if ref, ok := resolve("key_mappings", field, spec.KeyMappings[field]); ok {
			keyRefs[field] = ref
		}
	}
	childRefs := make(map[string]schema.AttributeRef)
	for _, field := range sortedKeys(spec.ChildKeyMappings) {
		if ref, ok := resolve("child_key_mappings", field, spec.ChildKeyMappings[field]); ok {
			childRefs[field] = ref
		}
	}
	pkRefs := make(map[string]schema.AttributeRef)
	for _, field := range sortedKeys(spec.PrimaryKey) {
		if ref, ok := resolve("primary_key", field, spec.PrimaryKey[field]); ok {
			pkRefs[field] = ref
		}
	}

	// No source field may be claimed by more than one bucket.
	buckets := map[string][]string{}
	for field := range spec.KeyMappings {
		buckets[field] = append(buckets[field], "key_mappings")
	}
	for field := range spec.ChildKeyMappings {
		buckets[field] = append(buckets[field], "child_key_mappings")
	}
	for field := range spec.KeysToIgnore {
		buckets[field] = append(buckets[field], "keys_to_ignore")
	}
	for _, field := range sortedKeys(buckets) {
		if len(buckets[field]) > 1 {
			addf("field %q claimed by multiple buckets: %v", field, buckets[field])
		}
	}

	// A primary_key field may also appear as a regular mapping, but only
	// when both point at the same destination.
	for _, field := range sortedKeys(spec.PrimaryKey) {
		pkDest := spec.PrimaryKey[field]
		if dest, ok := spec.KeyMappings[field]; ok && dest != pkDest {
			addf("field %q maps to %q in key_mappings but %q in primary_key", field, dest, pkDest)
		}
		if dest, ok := spec.ChildKeyMappings[field]; ok && dest != pkDest {
			addf("field %q maps to %q in child_key_mappings but %q in primary_key", field, dest, pkDest)
		}
		if spec.KeysToIgnore.Contains(field) {
			addf("field %q is both a primary_key and ignored", field)
		}
	}

	// Each primary_key destination must be the designated identifying
	// attribute of its entity type.
	for _, field := range sortedKeys(pkRefs) {
		ref := pkRefs[field]
		idAttr, ok := g.IdentifyingAttribute(ref.Type)
		if !ok {
			addf("primary_key: field %q: type %q declares no identifying attribute", field, ref.Type)
			continue
		}
		if ref.Attribute != idAttr {
			addf("primary_key: field %q: %q is not the identifying attribute of %q (want %q)",
				field, ref.Attribute, ref.Type, idAttr)
		}
	}

	// Ancestor overrides must name an abstract category and pick one of its
	// declared concrete subtypes.
	for _, abstract := range sortedKeys(spec.EnforcedAncestorTypes) {
		concrete := spec.EnforcedAncestorTypes[abstract]
		subs, ok := g.ConcreteSubtypes(abstract)
		if !ok {
			addf("enforced_ancestor_types: %q is not an abstract category", abstract)
			continue
		}
		found := false
		for _, s := range subs {
			if s == concrete {
				found = true
				break
			}
		}
		if !found {
			addf("enforced_ancestor_types: %q is not a subtype of %q", concrete, abstract)
		}
	}

	// All key_mappings must land on one top-level entity type, and every
	// child mapping must be reachable from it.
	top, topErr := topLevelType(spec, g, keyRefs, pkRefs)
	if topErr != "" {
		addf("%s", topErr)
	} else {
		for _, field := range sortedKeys(childRefs) {
			ref := childRefs[field]
			hops, err := g.PathTo(top, ref.Type)
			if err != nil {
				addf("child_key_mappings: field %q: %v", field, err)
				continue
			}
			if len(hops) == 0 {
				addf("child_key_mappings: field %q targets the top-level type %q", field, top)
			}
		}

		// The top-level type must be identifiable by the end of a batch, so
		// the spec has to say which source field carries its primary key.
		hasTopPK := false
		for _, ref := range pkRefs {
			if ref.Type == top {
				hasTopPK = true
				break
			}
		}
		if !hasTopPK {
			addf("primary_key: no entry identifies the top-level type %q", top)
		}
	}

	if len(problems) > 0 {
		return &InvalidSpecError{Source: spec.Source, Problems: problems}
	}
	return nil
}

// TopLevel derives the top-level entity type the spec builds, and the source
// field carrying its primary key. It assumes the spec has passed Validate.
func TopLevel(spec *Spec, g *schema.Graph) (typeName, keyField string, err error) {
	keyRefs := make(map[string]schema.AttributeRef)
	for field, dest := range spec.KeyMappings {
		entityType, attr, perr := ParseDestination(dest)
		if perr != nil {
			return "", "", perr
		}
		keyRefs[field] = schema.AttributeRef{Type: entityType, Attribute: attr}
	}
	pkRefs := make(map[string]schema.AttributeRef)
	for field, dest := range spec.PrimaryKey {
		entityType, attr, perr := ParseDestination(dest)
		if perr != nil {
			return "", "", perr
		}
		pkRefs[field] = schema.AttributeRef{Type: entityType, Attribute: attr}
	}

	top, problem := topLevelType(spec, g, keyRefs, pkRefs)
	if problem != "" {
		return "", "", fmt.Errorf("%s", problem)
	}
	for _, field := range sortedKeys(pkRefs) {
		if pkRefs[field].Type == top {
			return top, field, nil
		}
	}
	return "", "", fmt.Errorf("no primary_key field for top-level type %q", top)
}

// topLevelType finds the single schema root all key_mappings target. When a
// spec has no key_mappings, the root-typed primary_key entry decides.
// Returns a problem description instead of an error so Validate can collect.
func topLevelType(spec *Spec, g *schema.Graph, keyRefs, pkRefs map[string]schema.AttributeRef) (string, string) {
	roots := map[string]bool{}
	for _, r := range g.Roots() {
		roots[r] = true
	}

	types := map[string]bool{}
	for _, ref := range keyRefs {
		types[ref.Type] = true
	}
	if len(types) == 0 {
		for _, ref := range pkRefs {
			if roots[ref.Type] {
				types[ref.Type] = true
			}
		}
	}

	switch len(types) {
	case 0:
		return "", "spec maps no top-level entity type"
	case 1:
		for t := range types {
			if !roots[t] {
				return "", fmt.Sprintf("key_mappings target %q, which is not a top-level type", t)
			}
			return t, ""
		}
	}
	names := sortedKeys(types)
	return "", fmt.Sprintf("key_mappings target multiple top-level types: %v", names)
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
