package graph

import (
	"context"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/cypher"
	"github.com/systemshift/bizops/internal/server/diff"
)

// Repository defines the storage operations the CRUD service needs.
// Neo4jRepository implements it against the database; tests use an
// in-memory implementation.
type Repository interface {
	// Lifecycle
	Health(ctx context.Context) error
	EnsureConstraints(ctx context.Context, labels []string) error

	// Nodes. ReadNode returns nil, nil when the node does not exist.
	ReadNode(ctx context.Context, ref core.NodeRef) (core.Record, error)
	WriteNode(ctx context.Context, mode cypher.WriteMode, req *core.WriteRequest, d diff.Result, stamp core.Stamp) (core.Record, error)
	// SoftDeleteNode returns false when the node has relationships
	SoftDeleteNode(ctx context.Context, ref core.NodeRef, stamp core.Stamp) (bool, error)
	MergeNodes(ctx context.Context, req *core.MergeRequest, moved []core.RelationshipRow, fill map[string]any, stamp core.Stamp) (core.Record, error)

	// Relationships. ReadRelationship returns nil, nil when absent.
	ReadRelationship(ctx context.Context, from core.NodeRef, relType string, to core.NodeRef) (*core.Relationship, error)
	// CreateRelationship returns nil, nil when an endpoint is missing
	CreateRelationship(ctx context.Context, w *core.RelationshipWrite, stamp core.Stamp) (*core.Relationship, error)
	PatchRelationship(ctx context.Context, w *core.RelationshipWrite, stamp core.Stamp) (*core.Relationship, error)
	// DeleteRelationship returns false when there was nothing to delete
	DeleteRelationship(ctx context.Context, from core.NodeRef, relType string, to core.NodeRef) (bool, error)
}
