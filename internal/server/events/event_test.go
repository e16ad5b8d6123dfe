package events

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/bizops/internal/core"
)

var actor = core.Actor{ClientID: "biz-ops-admin", RequestID: "req-1"}

func TestKindAction(t *testing.T) {
	assert.Equal(t, ActionCreate, CreatedNode.Action())
	assert.Equal(t, ActionCreate, CreatedRelationship.Action())
	assert.Equal(t, ActionUpdate, UpdatedNode.Action())
	assert.Equal(t, ActionUpdate, UpdatedRelationship.Action())
	assert.Equal(t, ActionDelete, DeletedNode.Action())
	assert.Equal(t, ActionDelete, DeletedRelationship.Action())
}

func TestNodeEventDecoration(t *testing.T) {
	e := NodeEvent(UpdatedNode, actor, core.NodeRef{Type: "Team", Code: "platform"})

	assert.Equal(t, UpdatedNode, e.Event)
	assert.Equal(t, ActionUpdate, e.Action)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "biz-ops-admin", e.ClientID)
	assert.Nil(t, e.Relationship)

	assert.Equal(t, "team/platform", e.Key)
	assert.Equal(t, "Team", e.Model)
	assert.Equal(t, "code", e.Name)
	assert.Equal(t, "platform", e.Value)
	assert.Equal(t, "/Team/platform", e.Link)
	assert.Equal(t, "Team/platform", e.PartitionKey())
}

func TestMirror(t *testing.T) {
	team := core.NodeRef{Type: "Team", Code: "platform"}
	person := core.NodeRef{Type: "Person", Code: "jane"}

	e := RelationshipEvent(CreatedRelationship, actor, team, "HAS_TECH_LEAD", core.Outgoing, person)
	m := Mirror(e)

	assert.Equal(t, person, m.Ref())
	require.NotNil(t, m.Relationship)
	assert.Equal(t, RelationshipRef{
		Type:      "HAS_TECH_LEAD",
		Direction: core.Incoming,
		NodeType:  "Team",
		NodeCode:  "platform",
	}, *m.Relationship)
	assert.Equal(t, "person/jane", m.Key)
	assert.Equal(t, "/Person/jane", m.Link)
	assert.Equal(t, e.RequestID, m.RequestID)
	assert.Equal(t, e.Event, m.Event)

	// the original is untouched
	assert.Equal(t, core.Outgoing, e.Relationship.Direction)
	assert.Equal(t, team, e.Ref())
}

func TestMirrorLeavesNodeEventsAlone(t *testing.T) {
	e := NodeEvent(CreatedNode, actor, core.NodeRef{Type: "Team", Code: "platform"})
	assert.Equal(t, e, Mirror(e))
}

func TestMirrorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	kinds := gen.OneConstOf(CreatedRelationship, UpdatedRelationship, DeletedRelationship)
	types := gen.OneConstOf("Team", "Person", "System")
	dirs := gen.OneConstOf(core.Outgoing, core.Incoming)

	build := func(kind Kind, fromType, fromCode, toType, toCode string, dir core.Direction) ChangeEvent {
		return RelationshipEvent(kind, actor,
			core.NodeRef{Type: fromType, Code: fromCode}, "RELATES_TO", dir,
			core.NodeRef{Type: toType, Code: toCode})
	}

	properties.Property("mirroring twice is the identity", prop.ForAll(
		func(kind Kind, fromType, fromCode, toType, toCode string, dir core.Direction) bool {
			e := build(kind, fromType, fromCode, toType, toCode, dir)
			back := Mirror(Mirror(e))
			return back.Ref() == e.Ref() && *back.Relationship == *e.Relationship && back.Key == e.Key
		},
		kinds, types, gen.Identifier(), types, gen.Identifier(), dirs,
	))

	properties.Property("a mirror swaps endpoints and flips direction", prop.ForAll(
		func(kind Kind, fromType, fromCode, toType, toCode string, dir core.Direction) bool {
			e := build(kind, fromType, fromCode, toType, toCode, dir)
			m := Mirror(e)
			return m.Type == toType && m.Code == toCode &&
				m.Relationship.NodeType == fromType && m.Relationship.NodeCode == fromCode &&
				m.Relationship.Direction == dir.Flip() &&
				m.Relationship.Type == e.Relationship.Type &&
				m.Event == e.Event && m.Action == e.Action
		},
		kinds, types, gen.Identifier(), types, gen.Identifier(), dirs,
	))

	properties.TestingRun(t)
}
