package cypher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/systemshift/bizops/internal/core"
)

// endpoints matches both ends of a relationship, skipping soft deleted nodes
func endpoints(from core.NodeRef, to core.NodeRef) (string, map[string]any) {
	return fmt.Sprintf("MATCH (from:%s {code: $fromCode}), (to:%s {code: $toCode})\nWHERE NOT %s AND NOT %s",
			ident(from.Type), ident(to.Type), isDeleted("from"), isDeleted("to")),
		map[string]any{"fromCode": from.Code, "toCode": to.Code}
}

// ReadRelationship reads one relationship between two nodes
func (b *Builder) ReadRelationship(from core.NodeRef, relType string, to core.NodeRef) Statement {
	match, params := endpoints(from, to)
	return Statement{
		Query:  fmt.Sprintf("%s\nMATCH (from)-[relationship:%s]->(to)\nRETURN relationship", match, ident(relType)),
		Params: params,
	}
}

// CreateRelationship creates a relationship. It returns no row when either
// endpoint is missing.
func (b *Builder) CreateRelationship(w *core.RelationshipWrite, stamp core.Stamp) Statement {
	match, params := endpoints(w.From, w.To)
	params["properties"] = setProps(w.Attributes)
	params["createMeta"] = CreateMeta(stamp)
	return Statement{
		Query: fmt.Sprintf("%s\nCREATE (from)-[relationship:%s]->(to)\nSET relationship += $properties, relationship += $createMeta\nRETURN relationship",
			match, ident(w.Type)),
		Params: params,
	}
}

// PatchRelationship creates or updates a relationship
func (b *Builder) PatchRelationship(w *core.RelationshipWrite, stamp core.Stamp) Statement {
	match, params := endpoints(w.From, w.To)
	params["properties"] = setProps(w.Attributes)
	params["createMeta"] = CreateMeta(stamp)
	params["updateMeta"] = UpdateMeta(stamp)

	var q strings.Builder
	q.WriteString(match)
	fmt.Fprintf(&q, "\nMERGE (from)-[relationship:%s]->(to)", ident(w.Type))
	q.WriteString("\nON CREATE SET relationship += $createMeta\nON MATCH SET relationship += $updateMeta")
	q.WriteString("\nSET relationship += $properties")
	if removes := removeProps(w.Attributes); len(removes) > 0 {
		for i, name := range removes {
			removes[i] = "relationship." + ident(name)
		}
		q.WriteString("\nREMOVE " + strings.Join(removes, ", "))
	}
	q.WriteString("\nRETURN relationship")
	return Statement{Query: q.String(), Params: params}
}

// DeleteRelationship removes a relationship and reports how many went
func (b *Builder) DeleteRelationship(from core.NodeRef, relType string, to core.NodeRef) Statement {
	match, params := endpoints(from, to)
	return Statement{
		Query:  fmt.Sprintf("%s\nMATCH (from)-[relationship:%s]->(to)\nDELETE relationship\nRETURN count(*) AS deleted", match, ident(relType)),
		Params: params,
	}
}

func setProps(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func removeProps(attrs map[string]any) []string {
	var out []string
	for k, v := range attrs {
		if v == nil {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
