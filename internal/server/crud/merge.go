package crud

import (
	"context"

	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/events"
	"github.com/systemshift/bizops/internal/server/sanitize"
)

// Merge folds the source node into the destination: relationships move
// across, attributes the destination lacks are copied, and the source is
// removed
func (s *Service) Merge(ctx context.Context, p sanitize.MergeParams) (core.Record, error) {
	const op = "merge"
	req, err := sanitize.Merge(s.schemas.Current(), p)
	if err != nil {
		return nil, s.fail(op, err)
	}

	sourceRef := core.NodeRef{Type: req.NodeType, Code: req.SourceCode}
	destRef := core.NodeRef{Type: req.NodeType, Code: req.DestinationCode}

	source, err := s.read(ctx, sourceRef)
	if err != nil {
		return nil, s.fail(op, err)
	}
	dest, err := s.read(ctx, destRef)
	if err != nil {
		return nil, s.fail(op, err)
	}

	moved := movedRelationships(source, dest)
	fill := missingAttributes(source.Primary(), dest.Primary())

	rec, err := s.repo.MergeNodes(ctx, req, moved, fill, core.NewStamp(req.Actor, s.now()))
	if err != nil {
		return nil, s.fail(op, err)
	}
	s.count(op, outcomeWritten)
	s.events.Publish(events.ForMerge(req.Actor, source, rec)...)

	s.log.Info("nodes merged",
		zap.String("requestId", req.RequestID),
		zap.String("clientId", req.ClientID),
		zap.Stringer("source", sourceRef),
		zap.Stringer("destination", destRef),
		zap.Int("relationshipsMoved", len(moved)),
		zap.Int("attributesFilled", len(fill)))
	return rec, nil
}

// movedRelationships lists the source's relationships the destination does
// not already have. Relationships between the two nodes, or from the source
// to itself, would become reflexive and are dropped.
func movedRelationships(source, dest core.Record) []core.RelationshipRow {
	srcRef := source.Primary().Ref()
	destRef := dest.Primary().Ref()

	type key struct {
		rel     core.RelationshipKey
		related core.NodeRef
	}
	have := make(map[key]bool)
	for _, row := range dest.Rows() {
		have[key{core.KeyOf(row), row.Related}] = true
	}

	var out []core.RelationshipRow
	for _, row := range source.Rows() {
		if row.Related == srcRef || row.Related == destRef {
			continue
		}
		k := key{core.KeyOf(row), row.Related}
		if have[k] {
			continue
		}
		have[k] = true
		out = append(out, row)
	}
	return out
}

// missingAttributes returns the source attributes the destination has no
// value for
func missingAttributes(source, dest *core.Node) map[string]any {
	fill := make(map[string]any)
	for name, value := range source.Attributes {
		if value == nil {
			continue
		}
		if existing, ok := dest.Attributes[name]; ok && existing != nil {
			continue
		}
		fill[name] = value
	}
	return fill
}
