package events

import (
	"github.com/systemshift/bizops/internal/core"
)

// collector accumulates events, dropping repeats of the same change
type collector struct {
	seen   map[string]bool
	events []ChangeEvent
}

func newCollector() *collector {
	return &collector{seen: make(map[string]bool)}
}

func (c *collector) add(events ...ChangeEvent) {
	for _, e := range events {
		key := string(e.Event) + "|" + e.Type + "|" + e.Code
		if e.Relationship != nil {
			key += "|" + e.Relationship.Type + "|" + string(e.Relationship.Direction) + "|" + e.Relationship.NodeType + "|" + e.Relationship.NodeCode
		}
		if c.seen[key] {
			continue
		}
		c.seen[key] = true
		c.events = append(c.events, e)
	}
}

// nodeKind decides between created, deleted and updated by comparing the
// stored request markers against the current request
func nodeKind(node *core.Node, requestID string) Kind {
	switch {
	case node.DeletedByRequest != "" && node.DeletedByRequest == requestID:
		return DeletedNode
	case node.Metadata.CreatedByRequest == requestID:
		return CreatedNode
	default:
		return UpdatedNode
	}
}

// ForWrite derives the events of a node write from the record read back
// after it, plus the relationship rows the write removed
func ForWrite(actor core.Actor, rec core.Record, removed []core.RelationshipRow) []ChangeEvent {
	c := newCollector()
	node := rec.Primary()
	c.add(NodeEvent(nodeKind(node, actor.RequestID), actor, node.Ref()))

	for _, row := range rec.Rows() {
		if row.RelatedCreatedByRequest == actor.RequestID {
			c.add(NodeEvent(CreatedNode, actor, row.Related))
		}
		switch {
		case row.Metadata.CreatedByRequest == actor.RequestID:
			c.add(Pair(CreatedRelationship, actor, node.Ref(), row.Type, row.Direction, row.Related)...)
		case row.Metadata.UpdatedByRequest == actor.RequestID:
			c.add(Pair(UpdatedRelationship, actor, node.Ref(), row.Type, row.Direction, row.Related)...)
		}
	}

	for _, row := range removed {
		c.add(Pair(DeletedRelationship, actor, node.Ref(), row.Type, row.Direction, row.Related)...)
	}
	return c.events
}

// ForDelete derives the event of a soft delete
func ForDelete(actor core.Actor, ref core.NodeRef) []ChangeEvent {
	return []ChangeEvent{NodeEvent(DeletedNode, actor, ref)}
}

// ForMerge derives the events of folding source into destination. source is
// the record read before the merge; destination is read after it.
func ForMerge(actor core.Actor, source, destination core.Record) []ChangeEvent {
	c := newCollector()
	c.add(ForWrite(actor, destination, nil)...)

	src := source.Primary().Ref()
	for _, row := range source.Rows() {
		c.add(Pair(DeletedRelationship, actor, src, row.Type, row.Direction, row.Related)...)
	}
	c.add(NodeEvent(DeletedNode, actor, src))
	return c.events
}

// ForRelationship derives the pair of events for a change made through the
// relationship endpoints
func ForRelationship(kind Kind, actor core.Actor, rel *core.Relationship) []ChangeEvent {
	return Pair(kind, actor, rel.From, rel.Type, core.Outgoing, rel.To)
}
