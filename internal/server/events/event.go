package events

import (
	"strings"

	"github.com/systemshift/bizops/internal/core"
)

// Kind names the change an event records
type Kind string

const (
	CreatedNode         Kind = "CREATED_NODE"
	UpdatedNode         Kind = "UPDATED_NODE"
	DeletedNode         Kind = "DELETED_NODE"
	CreatedRelationship Kind = "CREATED_RELATIONSHIP"
	UpdatedRelationship Kind = "UPDATED_RELATIONSHIP"
	DeletedRelationship Kind = "DELETED_RELATIONSHIP"
)

// Action is the coarse verb older consumers switch on
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Action maps a kind onto its verb
func (k Kind) Action() Action {
	switch {
	case strings.HasPrefix(string(k), "CREATED_"):
		return ActionCreate
	case strings.HasPrefix(string(k), "DELETED_"):
		return ActionDelete
	default:
		return ActionUpdate
	}
}

// RelationshipRef describes a relationship from the event node's side
type RelationshipRef struct {
	Type      string         `json:"type"`
	Direction core.Direction `json:"direction"`
	NodeType  string         `json:"nodeType"`
	NodeCode  string         `json:"nodeCode"`
}

// ChangeEvent is one entry in the audit log. Events are values; nothing
// mutates one after it is queued.
type ChangeEvent struct {
	EventID      string           `json:"eventId"`
	Event        Kind             `json:"event"`
	Action       Action           `json:"action"`
	Code         string           `json:"code"`
	Type         string           `json:"type"`
	Relationship *RelationshipRef `json:"relationship,omitempty"`
	RequestID    string           `json:"requestId"`
	ClientID     string           `json:"clientId"`
	Time         int64            `json:"time"`

	// Derived from type and code for older readers
	Key   string `json:"key"`
	Model string `json:"model"`
	Name  string `json:"name"`
	Value string `json:"value"`
	Link  string `json:"link"`
}

// Ref returns the node the event is attributed to
func (e ChangeEvent) Ref() core.NodeRef {
	return core.NodeRef{Type: e.Type, Code: e.Code}
}

// PartitionKey keeps every event for one node on the same shard
func (e ChangeEvent) PartitionKey() string {
	return e.Type + "/" + e.Code
}

func decorate(e ChangeEvent) ChangeEvent {
	e.Key = strings.ToLower(e.Type) + "/" + e.Code
	e.Model = e.Type
	e.Name = core.PropCode
	e.Value = e.Code
	e.Link = "/" + e.Type + "/" + e.Code
	return e
}

// NodeEvent builds a node-level event
func NodeEvent(kind Kind, actor core.Actor, ref core.NodeRef) ChangeEvent {
	return decorate(ChangeEvent{
		Event:     kind,
		Action:    kind.Action(),
		Code:      ref.Code,
		Type:      ref.Type,
		RequestID: actor.RequestID,
		ClientID:  actor.ClientID,
	})
}

// RelationshipEvent builds the event attributed to from, describing the
// relationship in direction dir towards to
func RelationshipEvent(kind Kind, actor core.Actor, from core.NodeRef, relType string, dir core.Direction, to core.NodeRef) ChangeEvent {
	e := NodeEvent(kind, actor, from)
	e.Relationship = &RelationshipRef{
		Type:      relType,
		Direction: dir,
		NodeType:  to.Type,
		NodeCode:  to.Code,
	}
	return e
}

// Mirror returns the same relationship change attributed to the other end.
// Mirror(Mirror(e)) == e for every relationship event; node events are
// returned unchanged.
func Mirror(e ChangeEvent) ChangeEvent {
	if e.Relationship == nil {
		return e
	}
	rel := *e.Relationship
	out := e
	out.EventID = ""
	out.Type, out.Code = rel.NodeType, rel.NodeCode
	out.Relationship = &RelationshipRef{
		Type:      rel.Type,
		Direction: rel.Direction.Flip(),
		NodeType:  e.Type,
		NodeCode:  e.Code,
	}
	return decorate(out)
}

// Pair returns a relationship event and its mirror
func Pair(kind Kind, actor core.Actor, from core.NodeRef, relType string, dir core.Direction, to core.NodeRef) []ChangeEvent {
	e := RelationshipEvent(kind, actor, from, relType, dir, to)
	return []ChangeEvent{e, Mirror(e)}
}
