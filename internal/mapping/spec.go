// Package mapping loads and validates per-source mapping specifications:
// the declarative documents that translate a source's idiosyncratic field
// names into destination paths on the common schema. A spec is loaded once
// per source, validated against the schema graph, and is immutable for the
// duration of a batch.
package mapping

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Bucket identifies which part of a spec accounts for a source field.
type Bucket int

const (
	// BucketNone means the field is not covered by the spec.
	BucketNone Bucket = iota
	// BucketKey is a key_mappings entry (top-level entity attribute).
	BucketKey
	// BucketChildKey is a child_key_mappings entry (descendant attribute).
	BucketChildKey
	// BucketPrimaryKey is a primary_key entry only.
	BucketPrimaryKey
	// BucketIgnored is a keys_to_ignore entry.
	BucketIgnored
)

// Spec is one source's mapping specification.
type Spec struct {
	// Source is the identifier the spec was loaded under.
	Source string `yaml:"-"`

	// KeyMappings maps source fields to attributes of the top-level entity
	// type, as dotted "EntityType.attribute" paths.
	KeyMappings map[string]string `yaml:"key_mappings"`

	// ChildKeyMappings maps source fields to attributes of descendant
	// entity types, possibly several schema levels deep.
	ChildKeyMappings map[string]string `yaml:"child_key_mappings"`

	// PrimaryKey maps source fields to the identifying attribute of a
	// specific entity type, enabling deduplication across rows.
	PrimaryKey map[string]string `yaml:"primary_key"`

	// EnforcedAncestorTypes overrides the schema's default concrete subtype
	// for an abstract category, for this source only.
	EnforcedAncestorTypes map[string]string `yaml:"enforced_ancestor_types"`

	// KeysToIgnore lists source fields that are deliberately unmapped, each
	// with a human-readable justification.
	KeysToIgnore IgnoreSet `yaml:"keys_to_ignore"`
}

// IgnoreSet maps a deliberately unmapped field to its justification. The
// YAML form may be either a mapping (field: reason) or a plain sequence of
// field names.
type IgnoreSet map[string]string

// UnmarshalYAML accepts both the annotated mapping form and the bare list
// form used by older source configurations.
func (s *IgnoreSet) UnmarshalYAML(value *yaml.Node) error {
	out := make(IgnoreSet)
	switch value.Kind {
	case yaml.MappingNode:
		var m map[string]string
		if err := value.Decode(&m); err != nil {
			return err
		}
		for k, v := range m {
			out[k] = v
		}
	case yaml.SequenceNode:
		var fields []string
		if err := value.Decode(&fields); err != nil {
			return err
		}
		for _, f := range fields {
			out[f] = ""
		}
	default:
		return fmt.Errorf("keys_to_ignore must be a mapping or a sequence")
	}
	*s = out
	return nil
}

// Contains reports whether the field is in the ignore set.
func (s IgnoreSet) Contains(field string) bool {
	_, ok := s[field]
	return ok
}

// BucketOf reports which spec bucket accounts for a source field. A field
// present in key_mappings or child_key_mappings reports that bucket even
// when it also appears in primary_key; BucketPrimaryKey is reported only
// for fields whose sole mapping is the primary-key entry.
func (s *Spec) BucketOf(field string) Bucket {
	if _, ok := s.KeyMappings[field]; ok {
		return BucketKey
	}
	if _, ok := s.ChildKeyMappings[field]; ok {
		return BucketChildKey
	}
	if s.KeysToIgnore.Contains(field) {
		return BucketIgnored
	}
	if _, ok := s.PrimaryKey[field]; ok {
		return BucketPrimaryKey
	}
	return BucketNone
}

// Covered reports whether every ingested occurrence of the field is
// accounted for by the spec.
func (s *Spec) Covered(field string) bool {
	return s.BucketOf(field) != BucketNone
}

// ParseDestination splits a dotted "EntityType.attribute" destination path.
func ParseDestination(dest string) (entityType, attribute string, err error) {
	for i := 0; i < len(dest); i++ {
		if dest[i] == '.' {
			entityType, attribute = dest[:i], dest[i+1:]
			if entityType == "" || attribute == "" {
				return "", "", fmt.Errorf("malformed destination path %q", dest)
			}
			return entityType, attribute, nil
		}
	}
	return "", "", fmt.Errorf("destination path %q is not of the form EntityType.attribute", dest)
}
