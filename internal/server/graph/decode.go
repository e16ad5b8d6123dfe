package graph

import (
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/apperror"
)

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// decodeNode folds node/relationship/related rows into a record. No rows
// means the node does not exist.
func decodeNode(records []*neo4j.Record) (core.Record, error) {
	if len(records) == 0 {
		return nil, nil
	}

	raw, ok := records[0].Get("node")
	if !ok {
		return nil, errors.New("record has no node column")
	}
	nodeValue, ok := raw.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("node column holds %T", raw)
	}
	node, err := core.NodeFromProperties(label(nodeValue), nodeValue.Props)
	if err != nil {
		return nil, fmt.Errorf("decoding %s node: %w", label(nodeValue), err)
	}

	var rows []core.RelationshipRow
	for _, rec := range records {
		relRaw, _ := rec.Get("relationship")
		relatedRaw, _ := rec.Get("related")
		rel, ok := relRaw.(neo4j.Relationship)
		if !ok {
			continue
		}
		related, ok := relatedRaw.(neo4j.Node)
		if !ok {
			continue
		}
		rows = append(rows, rowOf(nodeValue, rel, related))
	}

	if len(rows) == 0 {
		return core.NodeOnly{Node: node}, nil
	}
	return core.NodeWithRelationships{Node: node, Relationships: rows}, nil
}

func rowOf(node neo4j.Node, rel neo4j.Relationship, related neo4j.Node) core.RelationshipRow {
	dir := core.Incoming
	if rel.StartElementId == node.ElementId {
		dir = core.Outgoing
	}
	edge := core.RelationshipFromProperties(rel.Type, core.NodeRef{}, core.NodeRef{}, rel.Props)
	code, _ := related.Props[core.PropCode].(string)
	createdBy, _ := related.Props[core.PropCreatedByRequest].(string)
	return core.RelationshipRow{
		Type:                    rel.Type,
		Direction:               dir,
		Related:                 core.NodeRef{Type: label(related), Code: code},
		Attributes:              edge.Attributes,
		Metadata:                edge.Metadata,
		RelatedCreatedByRequest: createdBy,
	}
}

func label(n neo4j.Node) string {
	if len(n.Labels) == 0 {
		return ""
	}
	return n.Labels[0]
}

// decodeRelationship reads the relationship column of the first row. No rows
// means the relationship or one of its endpoints does not exist.
func decodeRelationship(records []*neo4j.Record, from, to core.NodeRef) (*core.Relationship, error) {
	if len(records) == 0 {
		return nil, nil
	}
	raw, ok := records[0].Get("relationship")
	if !ok {
		return nil, errors.New("record has no relationship column")
	}
	rel, ok := raw.(neo4j.Relationship)
	if !ok {
		return nil, fmt.Errorf("relationship column holds %T", raw)
	}
	return core.RelationshipFromProperties(rel.Type, from, to, rel.Props), nil
}

// missingRelated turns a guard row into the error reported to the caller:
// gone when the related node is soft deleted, a dependency error when absent
func missingRelated(rec *neo4j.Record) error {
	nodeType, _ := rec.Get("type")
	code, _ := rec.Get("code")
	if deleted, _ := rec.Get("deleted"); deleted == true {
		return apperror.Gone("Related node %v %v has been deleted", nodeType, code)
	}
	return apperror.Dependency("Missing related node %v %v", nodeType, code)
}

// classify maps driver errors onto the error taxonomy. Anything unexpected
// is logged in full and hidden behind an internal error.
func (r *Neo4jRepository) classify(err error, ref core.NodeRef) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && neoErr.Code == constraintViolation {
		return apperror.Conflict("%s %s already exists", ref.Type, ref.Code).WithInternal(err)
	}
	r.log.Error("neo4j query failed", zap.Stringer("node", ref), zap.Error(err))
	return apperror.Internal(err)
}
