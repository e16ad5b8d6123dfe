package core

import "time"

// RelationshipAction controls how requested relationships reconcile with
// the stored ones
type RelationshipAction string

const (
	ActionNone    RelationshipAction = ""
	ActionMerge   RelationshipAction = "merge"
	ActionReplace RelationshipAction = "replace"
)

// Actor identifies who is making a request
type Actor struct {
	ClientID  string
	RequestID string
	UserID    string
}

// Stamp is the actor plus the clock reading used for metadata
type Stamp struct {
	Actor
	Timestamp string
}

// NewStamp stamps an actor with the current time
func NewStamp(actor Actor, now time.Time) Stamp {
	return Stamp{Actor: actor, Timestamp: now.UTC().Format(time.RFC3339Nano)}
}

// RelationshipRequest asks for relationships of one schema-declared kind
type RelationshipRequest struct {
	// Name is the schema property that declared the relationship, e.g. techLeads
	Name      string
	Type      string
	Direction Direction
	NodeType  string
	Codes     []string
	// ToOne is set when the schema allows at most one target
	ToOne bool
}

// Key identifies the kind of relationship independently of targets
func (r RelationshipRequest) Key() RelationshipKey {
	return RelationshipKey{Type: r.Type, Direction: r.Direction, NodeType: r.NodeType}
}

// RelationshipKey groups relationships by type, direction and related label
type RelationshipKey struct {
	Type      string
	Direction Direction
	NodeType  string
}

// KeyOf returns the grouping key of a stored row
func KeyOf(row RelationshipRow) RelationshipKey {
	return RelationshipKey{Type: row.Type, Direction: row.Direction, NodeType: row.Related.Type}
}

// WriteRequest is a sanitized, schema-checked node write
type WriteRequest struct {
	Actor
	NodeType string
	Code     string
	// Attributes holds coerced values; nil means delete the attribute
	Attributes            map[string]any
	RelationshipsToMerge  []RelationshipRequest
	RelationshipsToDelete []RelationshipRequest
	RelationshipAction    RelationshipAction
	UpsertRelated         bool
	LockFields            FieldSet
	UnlockFields          FieldSet
}

// Ref returns the target node's identity
func (w *WriteRequest) Ref() NodeRef {
	return NodeRef{Type: w.NodeType, Code: w.Code}
}

// AttributeNames lists the payload attribute names, including deletions
func (w *WriteRequest) AttributeNames() []string {
	names := make([]string, 0, len(w.Attributes))
	for k := range w.Attributes {
		names = append(names, k)
	}
	return names
}

// HasRelationships reports whether the request touches relationships
func (w *WriteRequest) HasRelationships() bool {
	return len(w.RelationshipsToMerge) > 0 || len(w.RelationshipsToDelete) > 0
}

// RelationshipWrite targets one relationship between two nodes
type RelationshipWrite struct {
	Actor
	From       NodeRef
	Type       string
	To         NodeRef
	Attributes map[string]any
}

// MergeRequest asks to fold one node into another of the same type
type MergeRequest struct {
	Actor
	NodeType        string
	SourceCode      string
	DestinationCode string
}
