// Package graphstore executes Cypher queries against the aquifer graph and
// exposes the schema vocabulary the generation and healing prompts rely on.
package graphstore

import "slices"

// Result holds the outcome of a graph query.
type Result struct {
	Query   string
	Columns []string
	Rows    []map[string]any
	Count   int
}

// Vocabulary is the fixed set of names the graph store recognizes. Queries
// referencing anything outside it are schema errors.
type Vocabulary struct {
	EntityKinds       []string `json:"entity_kinds"`
	RelationshipKinds []string `json:"relationship_kinds"`
	PropertyKeys      []string `json:"property_keys"`
}

// Empty reports whether the vocabulary carries no names at all, which
// disables schema checking.
func (v Vocabulary) Empty() bool {
	return len(v.EntityKinds) == 0 && len(v.RelationshipKinds) == 0
}

// HasEntityKind reports whether the label is a known entity kind.
func (v Vocabulary) HasEntityKind(kind string) bool {
	return slices.Contains(v.EntityKinds, kind)
}

// HasRelationshipKind reports whether the type is a known relationship kind.
func (v Vocabulary) HasRelationshipKind(kind string) bool {
	return slices.Contains(v.RelationshipKinds, kind)
}
