package core

import (
	"sort"
	"strings"
)

// Direction of a relationship relative to the node being read or written
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// Flip returns the direction seen from the other end of the relationship
func (d Direction) Flip() Direction {
	if d == Outgoing {
		return Incoming
	}
	return Outgoing
}

// ParseDirection accepts "outgoing" or "incoming" in any case
func ParseDirection(s string) (Direction, bool) {
	switch Direction(strings.ToLower(s)) {
	case Outgoing:
		return Outgoing, true
	case Incoming:
		return Incoming, true
	}
	return "", false
}

// Stored property names used for bookkeeping. Anything starting with an
// underscore is metadata, never a business attribute.
const (
	PropCode             = "code"
	PropCreatedByRequest = "_createdByRequest"
	PropCreatedByClient  = "_createdByClient"
	PropCreatedByUser    = "_createdByUser"
	PropCreatedTimestamp = "_createdTimestamp"
	PropUpdatedByRequest = "_updatedByRequest"
	PropUpdatedByClient  = "_updatedByClient"
	PropUpdatedByUser    = "_updatedByUser"
	PropUpdatedTimestamp = "_updatedTimestamp"
	PropLockedFields     = "_lockedFields"
	PropIsDeleted        = "_isDeleted"
	PropDeletedByRequest = "_deletedByRequest"
	PropDeletedByClient  = "_deletedByClient"
	PropDeletedTimestamp = "_deletedTimestamp"
)

// IsMetadataKey reports whether a stored property is bookkeeping
func IsMetadataKey(key string) bool {
	return strings.HasPrefix(key, "_")
}

// Metadata records who created and last updated a node or relationship
type Metadata struct {
	CreatedByRequest string
	CreatedByClient  string
	CreatedByUser    string
	CreatedTimestamp string
	UpdatedByRequest string
	UpdatedByClient  string
	UpdatedByUser    string
	UpdatedTimestamp string
}

func metadataFromProps(props map[string]any) Metadata {
	str := func(k string) string {
		s, _ := props[k].(string)
		return s
	}
	return Metadata{
		CreatedByRequest: str(PropCreatedByRequest),
		CreatedByClient:  str(PropCreatedByClient),
		CreatedByUser:    str(PropCreatedByUser),
		CreatedTimestamp: str(PropCreatedTimestamp),
		UpdatedByRequest: str(PropUpdatedByRequest),
		UpdatedByClient:  str(PropUpdatedByClient),
		UpdatedByUser:    str(PropUpdatedByUser),
		UpdatedTimestamp: str(PropUpdatedTimestamp),
	}
}

// public returns the metadata fields safe to show callers. Request ids are
// internal and only feed event derivation.
func (m Metadata) public(into map[string]any) {
	set := func(k, v string) {
		if v != "" {
			into[k] = v
		}
	}
	set(PropCreatedByClient, m.CreatedByClient)
	set(PropCreatedByUser, m.CreatedByUser)
	set(PropCreatedTimestamp, m.CreatedTimestamp)
	set(PropUpdatedByClient, m.UpdatedByClient)
	set(PropUpdatedByUser, m.UpdatedByUser)
	set(PropUpdatedTimestamp, m.UpdatedTimestamp)
}

// NodeRef identifies a node by label and code
type NodeRef struct {
	Type string `json:"nodeType"`
	Code string `json:"nodeCode"`
}

func (r NodeRef) String() string {
	return r.Type + " " + r.Code
}

// Node is a business entity stored as a labeled graph node
type Node struct {
	Type         string
	Code         string
	Attributes   map[string]any
	Metadata     Metadata
	LockedFields LockedFields

	Deleted          bool
	DeletedByRequest string
}

// Ref returns the node's identity
func (n *Node) Ref() NodeRef {
	return NodeRef{Type: n.Type, Code: n.Code}
}

// NodeFromProperties splits stored properties into attributes and metadata
func NodeFromProperties(nodeType string, props map[string]any) (*Node, error) {
	node := &Node{
		Type:       nodeType,
		Attributes: make(map[string]any),
		Metadata:   metadataFromProps(props),
	}
	node.Code, _ = props[PropCode].(string)

	locked, err := ParseLockedFields(props[PropLockedFields])
	if err != nil {
		return nil, err
	}
	node.LockedFields = locked

	if deleted, ok := props[PropIsDeleted].(bool); ok {
		node.Deleted = deleted
	}
	node.DeletedByRequest, _ = props[PropDeletedByRequest].(string)

	for k, v := range props {
		if k == PropCode || IsMetadataKey(k) {
			continue
		}
		node.Attributes[k] = v
	}
	return node, nil
}

// Public returns the node as shown to API callers
func (n *Node) Public() map[string]any {
	out := make(map[string]any, len(n.Attributes)+8)
	for k, v := range n.Attributes {
		out[k] = v
	}
	out[PropCode] = n.Code
	n.Metadata.public(out)
	if len(n.LockedFields) > 0 {
		out[PropLockedFields] = n.LockedFields.Clone()
	}
	return out
}

// RelationshipRow is one relationship of a node, seen from that node
type RelationshipRow struct {
	Type       string
	Direction  Direction
	Related    NodeRef
	Attributes map[string]any
	Metadata   Metadata

	// RelatedCreatedByRequest lets the event notifier spot stub nodes
	// created by an upsert in the same request.
	RelatedCreatedByRequest string
}

// Record is the decoded result of reading a node: either NodeOnly or
// NodeWithRelationships.
type Record interface {
	Primary() *Node
	Rows() []RelationshipRow
	record()
}

// NodeOnly is a node that has no relationships
type NodeOnly struct {
	Node *Node
}

func (r NodeOnly) Primary() *Node          { return r.Node }
func (r NodeOnly) Rows() []RelationshipRow { return nil }
func (NodeOnly) record()                   {}

// NodeWithRelationships is a node and at least one relationship row
type NodeWithRelationships struct {
	Node          *Node
	Relationships []RelationshipRow
}

func (r NodeWithRelationships) Primary() *Node          { return r.Node }
func (r NodeWithRelationships) Rows() []RelationshipRow { return r.Relationships }
func (NodeWithRelationships) record()                   {}

// RelatedNode is the public shape of one relationship
type RelatedNode struct {
	Direction Direction `json:"direction"`
	NodeType  string    `json:"nodeType"`
	NodeCode  string    `json:"nodeCode"`
}

// Relationships groups relationships by type
type Relationships map[string][]RelatedNode

// GroupRelationships converts rows into the public grouped form, sorted so
// responses are stable.
func GroupRelationships(rows []RelationshipRow) Relationships {
	out := make(Relationships)
	for _, row := range rows {
		out[row.Type] = append(out[row.Type], RelatedNode{
			Direction: row.Direction,
			NodeType:  row.Related.Type,
			NodeCode:  row.Related.Code,
		})
	}
	for _, list := range out {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Direction != list[j].Direction {
				return list[i].Direction < list[j].Direction
			}
			if list[i].NodeType != list[j].NodeType {
				return list[i].NodeType < list[j].NodeType
			}
			return list[i].NodeCode < list[j].NodeCode
		})
	}
	return out
}

// NodeResponse is the body returned for node reads and writes
type NodeResponse struct {
	Node          map[string]any `json:"node"`
	Relationships Relationships  `json:"relationships"`
}

// NewNodeResponse builds the public response for a record
func NewNodeResponse(rec Record) NodeResponse {
	return NodeResponse{
		Node:          rec.Primary().Public(),
		Relationships: GroupRelationships(rec.Rows()),
	}
}

// WriteResult is the outcome of a node write
type WriteResult struct {
	Record     Record
	WasCreated bool
	// Written is false when the diff found nothing to change
	Written bool
}

// Relationship is a single stored edge addressed by both endpoints
type Relationship struct {
	Type       string
	From       NodeRef
	To         NodeRef
	Attributes map[string]any
	Metadata   Metadata
}

// RelationshipFromProperties splits stored edge properties
func RelationshipFromProperties(relType string, from, to NodeRef, props map[string]any) *Relationship {
	rel := &Relationship{
		Type:       relType,
		From:       from,
		To:         to,
		Attributes: make(map[string]any),
		Metadata:   metadataFromProps(props),
	}
	for k, v := range props {
		if !IsMetadataKey(k) {
			rel.Attributes[k] = v
		}
	}
	return rel
}

// Public returns the relationship as shown to API callers
func (r *Relationship) Public() map[string]any {
	out := make(map[string]any, len(r.Attributes)+6)
	for k, v := range r.Attributes {
		out[k] = v
	}
	r.Metadata.public(out)
	return out
}
