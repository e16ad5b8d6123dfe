package cypher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/diff"
)

// WriteMode picks how the primary statement addresses the node
type WriteMode int

const (
	// Upsert MERGEs the node, creating it when absent
	Upsert WriteMode = iota
	// Create CREATEs the node; a duplicate trips the uniqueness constraint
	Create
)

// keyed holds the targets of one relationship kind, in first-seen order
type keyed struct {
	key   core.RelationshipKey
	codes []string
}

func groupRows(rows []core.RelationshipRow) []keyed {
	var out []keyed
	pos := make(map[core.RelationshipKey]int)
	for _, row := range rows {
		key := core.KeyOf(row)
		i, ok := pos[key]
		if !ok {
			i = len(out)
			pos[key] = i
			out = append(out, keyed{key: key})
		}
		out[i].codes = append(out[i].codes, row.Related.Code)
	}
	return out
}

// WriteNode builds the statements for a node write from its diff.
//
// The primary statement writes the node, removes relationships and writes the
// first batch of relationship targets. Further batches become supplementary
// statements, followed by a re-read of the node, all in one transaction.
func (b *Builder) WriteNode(mode WriteMode, req *core.WriteRequest, d diff.Result, stamp core.Stamp) Plan {
	params := map[string]any{
		"code":       req.Code,
		"createMeta": CreateMeta(stamp),
		"updateMeta": UpdateMeta(stamp),
	}
	label := ident(req.NodeType)

	var q strings.Builder
	if mode == Create {
		fmt.Fprintf(&q, "CREATE (node:%s {code: $code})\nSET node += $createMeta", label)
	} else {
		fmt.Fprintf(&q, "MERGE (node:%s {code: $code})\nON CREATE SET node += $createMeta\nON MATCH SET node += $updateMeta", label)
	}

	if len(d.Attributes.Set) > 0 {
		params["properties"] = d.Attributes.Set
		q.WriteString("\nSET node += $properties")
	}
	if len(d.Attributes.Remove) > 0 {
		removes := make([]string, len(d.Attributes.Remove))
		for i, name := range d.Attributes.Remove {
			removes[i] = "node." + ident(name)
		}
		q.WriteString("\nREMOVE " + strings.Join(removes, ", "))
	}
	if d.LocksChanged {
		params["lockedFields"] = d.Locks.Encode()
		fmt.Fprintf(&q, "\nSET node.%s = $lockedFields", ident(core.PropLockedFields))
	}

	if !d.Created {
		b.writeRemovals(&q, params, req)
	}

	batches := b.batches(d.Relationships.Added)
	plan := Plan{}
	if len(batches) > 0 {
		b.writeAdditions(&q, params, batches[0], req.UpsertRelated)
	}

	if len(batches) <= 1 {
		q.WriteString(readBack)
		plan.Statements = append(plan.Statements, Statement{Query: q.String(), Params: params})
	} else {
		q.WriteString("\nWITH DISTINCT node\nRETURN node")
		plan.Statements = append(plan.Statements, Statement{Query: q.String(), Params: params})
		for _, batch := range batches[1:] {
			plan.Statements = append(plan.Statements, b.supplementary(req, batch, stamp))
		}
		plan.Statements = append(plan.Statements, b.ReadNode(req.Ref()))
	}

	if len(d.Relationships.Added) > 0 {
		plan.Guard = guard(d.Relationships.Added, req.UpsertRelated)
	}
	return plan
}

// writeRemovals drops relationships that replace or to-one semantics leave
// behind, and the ones explicitly asked for
func (b *Builder) writeRemovals(q *strings.Builder, params map[string]any, req *core.WriteRequest) {
	n := 0
	for _, rel := range req.RelationshipsToMerge {
		if req.RelationshipAction != core.ActionReplace && !(rel.ToOne && len(rel.Codes) > 0) {
			continue
		}
		name := fmt.Sprintf("keepCodes%d", n)
		params[name] = rel.Codes
		fmt.Fprintf(q, "\nWITH DISTINCT node\nOPTIONAL MATCH (node)%s(deletedRelated%d:%s)\nWHERE NOT deletedRelated%d.code IN $%s\nDELETE deleted%d",
			arrow(rel.Direction, fmt.Sprintf("deleted%d", n), rel.Type), n, ident(rel.NodeType), n, name, n)
		n++
	}
	for _, rel := range req.RelationshipsToDelete {
		name := fmt.Sprintf("deleteCodes%d", n)
		params[name] = rel.Codes
		fmt.Fprintf(q, "\nWITH DISTINCT node\nOPTIONAL MATCH (node)%s(deletedRelated%d:%s)\nWHERE deletedRelated%d.code IN $%s\nDELETE deleted%d",
			arrow(rel.Direction, fmt.Sprintf("deleted%d", n), rel.Type), n, ident(rel.NodeType), n, name, n)
		n++
	}
}

// writeAdditions connects the node to each group of targets in a batch
func (b *Builder) writeAdditions(q *strings.Builder, params map[string]any, batch []keyed, upsert bool) {
	for i, group := range batch {
		codes := fmt.Sprintf("addCodes%d", i)
		params[codes] = group.codes
		related := fmt.Sprintf("related%d", i)
		rel := fmt.Sprintf("relationship%d", i)
		fmt.Fprintf(q, "\nWITH DISTINCT node\nUNWIND $%s AS relatedCode%d", codes, i)
		if upsert {
			fmt.Fprintf(q, "\nMERGE (%s:%s {code: relatedCode%d})\nON CREATE SET %s += $createMeta",
				related, ident(group.key.NodeType), i, related)
			fmt.Fprintf(q, "\nFOREACH (_ IN CASE WHEN %s THEN [] ELSE [1] END |\n  MERGE (node)%s(%s)\n  ON CREATE SET %s += $createMeta\n)",
				isDeleted(related), arrow(group.key.Direction, rel, group.key.Type), related, rel)
			continue
		}
		fmt.Fprintf(q, "\nOPTIONAL MATCH (%s:%s {code: relatedCode%d})\nWHERE NOT %s",
			related, ident(group.key.NodeType), i, isDeleted(related))
		fmt.Fprintf(q, "\nFOREACH (_ IN CASE WHEN %s IS NULL THEN [] ELSE [1] END |\n  MERGE (node)%s(%s)\n  ON CREATE SET %s += $createMeta\n)",
			related, arrow(group.key.Direction, rel, group.key.Type), related, rel)
	}
}

func (b *Builder) supplementary(req *core.WriteRequest, batch []keyed, stamp core.Stamp) Statement {
	params := map[string]any{
		"code":       req.Code,
		"createMeta": CreateMeta(stamp),
	}
	var q strings.Builder
	fmt.Fprintf(&q, "MATCH (node:%s {code: $code})", ident(req.NodeType))
	b.writeAdditions(&q, params, batch, req.UpsertRelated)
	return Statement{Query: q.String(), Params: params}
}

// batches splits targets into groups of at most batchSize codes
func (b *Builder) batches(rows []core.RelationshipRow) [][]keyed {
	var out [][]keyed
	for start := 0; start < len(rows); start += b.batchSize {
		end := start + b.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, groupRows(rows[start:end]))
	}
	return out
}

// isDeleted renders a test for the soft delete flag of variable
func isDeleted(variable string) string {
	return fmt.Sprintf("coalesce(%s.%s, false)", variable, ident(core.PropIsDeleted))
}

// guard reports requested related nodes that are soft deleted and, unless
// they will be upserted, those that do not exist. Each row carries the type,
// the code and whether the node was found deleted.
func guard(rows []core.RelationshipRow, upsert bool) *Statement {
	byType := make(map[string][]string)
	for _, row := range rows {
		byType[row.Related.Type] = append(byType[row.Related.Type], row.Related.Code)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	filter := "related IS NULL OR " + isDeleted("related")
	if upsert {
		filter = "related IS NOT NULL AND " + isDeleted("related")
	}

	params := make(map[string]any)
	parts := make([]string, 0, len(types))
	for i, t := range types {
		params[fmt.Sprintf("guardType%d", i)] = t
		params[fmt.Sprintf("guardCodes%d", i)] = dedupe(byType[t])
		parts = append(parts, fmt.Sprintf(
			"UNWIND $guardCodes%d AS code\nOPTIONAL MATCH (related:%s {code: code})\nWITH code, related WHERE %s\nRETURN $guardType%d AS type, code, related IS NOT NULL AS deleted",
			i, ident(t), filter, i))
	}
	return &Statement{Query: strings.Join(parts, "\nUNION ALL\n"), Params: params}
}

func dedupe(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// SoftDelete flags a node as deleted. It matches nothing when the node has
// any relationship.
func (b *Builder) SoftDelete(ref core.NodeRef, stamp core.Stamp) Statement {
	q := fmt.Sprintf(`MATCH (node:%s {code: $code})
WHERE NOT EXISTS { (node)--() }
SET node.%s = true,
    node.%s = $requestId,
    node.%s = $clientId,
    node.%s = $timestamp
RETURN node`,
		ident(ref.Type),
		ident(core.PropIsDeleted),
		ident(core.PropDeletedByRequest),
		ident(core.PropDeletedByClient),
		ident(core.PropDeletedTimestamp))
	return Statement{
		Query: q,
		Params: map[string]any{
			"code":      ref.Code,
			"requestId": stamp.RequestID,
			"clientId":  stamp.ClientID,
			"timestamp": stamp.Timestamp,
		},
	}
}

// MergeNodes moves relationships from the source to the destination, fills
// attributes the destination lacks, removes the source and re-reads the
// destination. moved must already exclude relationships that would become
// reflexive.
func (b *Builder) MergeNodes(req *core.MergeRequest, moved []core.RelationshipRow, fill map[string]any, stamp core.Stamp) Plan {
	label := ident(req.NodeType)
	var plan Plan

	for start := 0; start < len(moved); start += b.batchSize {
		end := start + b.batchSize
		if end > len(moved) {
			end = len(moved)
		}
		for _, group := range groupMoved(moved[start:end]) {
			var q strings.Builder
			fmt.Fprintf(&q, "MATCH (node:%s {code: $destinationCode})", label)
			fmt.Fprintf(&q, "\nUNWIND $rows AS row\nMATCH (related:%s {code: row.code})", ident(group.key.NodeType))
			fmt.Fprintf(&q, "\nMERGE (node)%s(related)\nON CREATE SET relationship += row.properties, relationship += $createMeta",
				arrow(group.key.Direction, "relationship", group.key.Type))
			plan.Statements = append(plan.Statements, Statement{
				Query: q.String(),
				Params: map[string]any{
					"destinationCode": req.DestinationCode,
					"rows":            group.rows,
					"createMeta":      CreateMeta(stamp),
				},
			})
		}
	}

	fillParams := map[string]any{
		"destinationCode": req.DestinationCode,
		"fill":            fill,
		"updateMeta":      UpdateMeta(stamp),
	}
	plan.Statements = append(plan.Statements,
		Statement{
			Query:  fmt.Sprintf("MATCH (node:%s {code: $destinationCode})\nSET node += $fill, node += $updateMeta", label),
			Params: fillParams,
		},
		Statement{
			Query:  fmt.Sprintf("MATCH (source:%s {code: $sourceCode})\nDETACH DELETE source", label),
			Params: map[string]any{"sourceCode": req.SourceCode},
		},
		b.ReadNode(core.NodeRef{Type: req.NodeType, Code: req.DestinationCode}),
	)
	return plan
}

type movedGroup struct {
	key  core.RelationshipKey
	rows []map[string]any
}

func groupMoved(rows []core.RelationshipRow) []movedGroup {
	var out []movedGroup
	pos := make(map[core.RelationshipKey]int)
	for _, row := range rows {
		key := core.KeyOf(row)
		i, ok := pos[key]
		if !ok {
			i = len(out)
			pos[key] = i
			out = append(out, movedGroup{key: key})
		}
		props := row.Attributes
		if props == nil {
			props = map[string]any{}
		}
		out[i].rows = append(out[i].rows, map[string]any{"code": row.Related.Code, "properties": props})
	}
	return out
}
