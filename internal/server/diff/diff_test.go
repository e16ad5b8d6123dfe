package diff

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/schema"
)

var teamKinds = map[string]string{
	"name":         schema.KindString,
	"headcount":    schema.KindInt,
	"budget":       schema.KindFloat,
	"foundedOn":    schema.KindDate,
	"lastReviewed": schema.KindDateTime,
	"tags":         schema.KindString,
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		kind string
		a, b any
		want bool
	}{
		{"int and float", schema.KindInt, int64(3), float64(3), true},
		{"float and int", schema.KindFloat, 2.0, int64(2), true},
		{"different numbers", schema.KindInt, int64(3), int64(4), false},
		{"untyped numbers", "", int64(3), 3.0, true},
		{"date formats", schema.KindDate, "2020-01-02", "2020-01-02T00:00:00Z", true},
		{"datetime zones", schema.KindDateTime, "2020-01-02T10:00:00+02:00", "2020-01-02T08:00:00Z", true},
		{"case sensitive", schema.KindString, "Platform", "platform", false},
		{"lists", schema.KindString, []any{"a", "b"}, []any{"a", "b"}, true},
		{"list order", schema.KindString, []any{"a", "b"}, []any{"b", "a"}, false},
		{"list and scalar", schema.KindString, []any{"a"}, "a", false},
		{"string and number", "", "3", int64(3), false},
		{"nil", "", nil, nil, true},
		{"nil and value", "", nil, "x", false},
		{"bools", schema.KindBoolean, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.kind, tt.a, tt.b))
		})
	}
}

func TestAttributes(t *testing.T) {
	stored := map[string]any{
		"name":      "Platform",
		"headcount": int64(5),
		"foundedOn": "2020-01-02",
		"budget":    10.5,
	}
	requested := map[string]any{
		"name":      "Platform",
		"headcount": float64(6),
		"foundedOn": "2020-01-02T00:00:00Z",
		"budget":    nil,
		"missing":   nil,
		"tags":      []any{"x"},
	}

	changes := Attributes(teamKinds, stored, requested)
	assert.Equal(t, map[string]any{"headcount": float64(6), "tags": []any{"x"}}, changes.Set)
	assert.Equal(t, []string{"budget"}, changes.Remove)
	assert.Equal(t, []string{"budget", "headcount", "tags"}, changes.Names())
	assert.False(t, changes.Empty())
}

func TestAttributesNothingStored(t *testing.T) {
	changes := Attributes(teamKinds, nil, map[string]any{"name": "x", "budget": nil})
	assert.Equal(t, map[string]any{"name": "x"}, changes.Set)
	assert.Empty(t, changes.Remove)
}

func row(relType string, dir core.Direction, nodeType, code string) core.RelationshipRow {
	return core.RelationshipRow{Type: relType, Direction: dir, Related: core.NodeRef{Type: nodeType, Code: code}}
}

func techLeads(codes ...string) core.RelationshipRequest {
	return core.RelationshipRequest{Name: "techLeads", Type: "HAS_TECH_LEAD", Direction: core.Outgoing, NodeType: "Person", Codes: codes}
}

func TestRelationshipsReplaceVersusMerge(t *testing.T) {
	existing := []core.RelationshipRow{
		row("HAS_TECH_LEAD", core.Outgoing, "Person", "p1"),
		row("HAS_TECH_LEAD", core.Outgoing, "Person", "p2"),
		row("OWNS", core.Outgoing, "System", "s1"),
	}

	replace := Relationships(core.ActionReplace, existing, []core.RelationshipRequest{techLeads("p2", "p3")}, nil)
	assert.Equal(t, []core.RelationshipRow{row("HAS_TECH_LEAD", core.Outgoing, "Person", "p3")}, replace.Added)
	// OWNS is not touched by the request and survives
	assert.Equal(t, []core.RelationshipRow{row("HAS_TECH_LEAD", core.Outgoing, "Person", "p1")}, replace.Removed)

	merge := Relationships(core.ActionMerge, existing, []core.RelationshipRequest{techLeads("p2", "p3")}, nil)
	assert.Equal(t, []core.RelationshipRow{row("HAS_TECH_LEAD", core.Outgoing, "Person", "p3")}, merge.Added)
	assert.Empty(t, merge.Removed)

	noop := Relationships(core.ActionMerge, existing, []core.RelationshipRequest{techLeads("p1")}, nil)
	assert.True(t, noop.Empty())

	same := Relationships(core.ActionReplace, existing, []core.RelationshipRequest{techLeads("p1", "p2")}, nil)
	assert.True(t, same.Empty())
}

func TestRelationshipsToOne(t *testing.T) {
	existing := []core.RelationshipRow{row("HAS_PRODUCT_OWNER", core.Outgoing, "Person", "ann")}
	owner := core.RelationshipRequest{Name: "productOwner", Type: "HAS_PRODUCT_OWNER", Direction: core.Outgoing, NodeType: "Person", Codes: []string{"bob"}, ToOne: true}

	changes := Relationships(core.ActionMerge, existing, []core.RelationshipRequest{owner}, nil)
	assert.Equal(t, []core.RelationshipRow{row("HAS_PRODUCT_OWNER", core.Outgoing, "Person", "bob")}, changes.Added)
	assert.Equal(t, existing, changes.Removed)
}

func TestRelationshipsExplicitDeletes(t *testing.T) {
	existing := []core.RelationshipRow{
		row("HAS_TECH_LEAD", core.Outgoing, "Person", "p1"),
	}

	changes := Relationships(core.ActionMerge, existing, nil, []core.RelationshipRequest{techLeads("p1", "ghost")})
	assert.Equal(t, existing, changes.Removed)
	assert.Empty(t, changes.Added)

	none := Relationships(core.ActionMerge, existing, nil, []core.RelationshipRequest{techLeads("ghost")})
	assert.True(t, none.Empty())

	// replace plus an explicit delete of the same row reports it once
	both := Relationships(core.ActionReplace, existing, []core.RelationshipRequest{techLeads("p2")}, []core.RelationshipRequest{techLeads("p1")})
	assert.Len(t, both.Removed, 1)
}

func TestRelationshipsDirectionMatters(t *testing.T) {
	existing := []core.RelationshipRow{row("HAS_TEAM", core.Incoming, "Team", "parent")}
	subTeams := core.RelationshipRequest{Name: "subTeams", Type: "HAS_TEAM", Direction: core.Outgoing, NodeType: "Team", Codes: []string{"child"}}

	changes := Relationships(core.ActionReplace, existing, []core.RelationshipRequest{subTeams}, nil)
	assert.Len(t, changes.Added, 1)
	assert.Empty(t, changes.Removed, "the incoming HAS_TEAM is a different kind")
}

func TestLocks(t *testing.T) {
	stored := core.LockedFields{"name": "other-client"}

	next, changed := Locks(stored, "me", core.FieldSet{}, core.FieldSet{}, []string{"name"})
	assert.False(t, changed)
	assert.Equal(t, stored, next)

	next, changed = Locks(stored, "me", core.FieldSet{Names: []string{"headcount"}}, core.FieldSet{}, nil)
	assert.True(t, changed)
	assert.Equal(t, core.LockedFields{"name": "other-client", "headcount": "me"}, next)

	next, changed = Locks(stored, "other-client", core.FieldSet{Names: []string{"name"}}, core.FieldSet{}, nil)
	assert.False(t, changed, "re-locking a field you own changes nothing")
	assert.Equal(t, stored, next)

	next, changed = Locks(stored, "me", core.FieldSet{}, core.FieldSet{All: true}, nil)
	assert.True(t, changed)
	assert.Empty(t, next)
}

func TestWriteNoop(t *testing.T) {
	node := &core.Node{
		Type:         "Team",
		Code:         "platform",
		Attributes:   map[string]any{"name": "Platform", "headcount": int64(4)},
		LockedFields: core.LockedFields{},
	}
	existing := core.NodeWithRelationships{
		Node:          node,
		Relationships: []core.RelationshipRow{row("HAS_TECH_LEAD", core.Outgoing, "Person", "p1")},
	}
	req := &core.WriteRequest{
		Actor:                core.Actor{ClientID: "me", RequestID: "r1"},
		NodeType:             "Team",
		Code:                 "platform",
		Attributes:           map[string]any{"name": "Platform", "headcount": float64(4)},
		RelationshipsToMerge: []core.RelationshipRequest{techLeads("p1")},
		RelationshipAction:   core.ActionMerge,
	}

	res := Write(teamKinds, existing, req)
	assert.True(t, res.Noop())

	req.Attributes["name"] = "Platform Team"
	res = Write(teamKinds, existing, req)
	assert.False(t, res.Noop())
	assert.Equal(t, []string{"name"}, res.Attributes.Names())
}

func TestWriteCreate(t *testing.T) {
	req := &core.WriteRequest{
		Actor:      core.Actor{ClientID: "me", RequestID: "r1"},
		NodeType:   "Team",
		Code:       "platform",
		Attributes: map[string]any{"name": "Platform"},
		LockFields: core.FieldSet{All: true},
	}

	res := Write(teamKinds, nil, req)
	assert.True(t, res.Created)
	assert.False(t, res.Noop())
	assert.Equal(t, core.LockedFields{"name": "me"}, res.Locks)
}

func TestConflicts(t *testing.T) {
	stored := core.LockedFields{"name": "other-client", "headcount": "other-client"}
	node := &core.Node{Type: "Team", Code: "platform", Attributes: map[string]any{"name": "Platform", "headcount": int64(4)}, LockedFields: stored}
	existing := core.NodeOnly{Node: node}

	// unchanged locked field is fine
	req := &core.WriteRequest{Actor: core.Actor{ClientID: "me"}, Attributes: map[string]any{"name": "Platform"}}
	res := Write(teamKinds, existing, req)
	assert.Empty(t, Conflicts(stored, req, res))

	req = &core.WriteRequest{Actor: core.Actor{ClientID: "me"}, Attributes: map[string]any{"name": "New", "headcount": int64(4)}}
	res = Write(teamKinds, existing, req)
	assert.Equal(t, map[string]string{"name": "other-client"}, Conflicts(stored, req, res))

	// locking a field someone else holds conflicts even without a change
	req = &core.WriteRequest{Actor: core.Actor{ClientID: "me"}, Attributes: map[string]any{"headcount": int64(4)}, LockFields: core.FieldSet{All: true}}
	res = Write(teamKinds, existing, req)
	assert.Equal(t, map[string]string{"headcount": "other-client"}, Conflicts(stored, req, res))

	// unlocking in the same request lifts the conflict
	req = &core.WriteRequest{Actor: core.Actor{ClientID: "me"}, Attributes: map[string]any{"name": "New"}, UnlockFields: core.FieldSet{Names: []string{"name"}}}
	res = Write(teamKinds, existing, req)
	assert.Empty(t, Conflicts(stored, req, res))

	// owner writes freely
	req = &core.WriteRequest{Actor: core.Actor{ClientID: "other-client"}, Attributes: map[string]any{"name": "New"}}
	res = Write(teamKinds, existing, req)
	assert.Empty(t, Conflicts(stored, req, res))
}

// asAny widens a generator's result type to any, dropping its typed sieve
// and shrinker as Map would. gopter's Map treats a mapper returning any as
// returning *gopter.GenResult, so it cannot be used here.
func asAny(g gopter.Gen) gopter.Gen {
	anyType := reflect.TypeOf((*any)(nil)).Elem()
	return g.MapResult(func(r *gopter.GenResult) *gopter.GenResult {
		v, _ := r.Retrieve()
		return &gopter.GenResult{Result: v, ResultType: anyType, Shrinker: gopter.NoShrinker, Labels: r.Labels}
	})
}

func TestDiffProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	attrs := gen.MapOf(gen.Identifier(), gen.OneGenOf(
		asAny(gen.AlphaString()),
		asAny(gen.Int64()),
		asAny(gen.Bool()),
	))

	properties.Property("a stored state diffed against itself is empty", prop.ForAll(
		func(stored map[string]any) bool {
			return Attributes(nil, stored, stored).Empty()
		},
		attrs,
	))

	properties.Property("applying a diff makes the next diff empty", prop.ForAll(
		func(stored, requested map[string]any) bool {
			changes := Attributes(nil, stored, requested)
			after := make(map[string]any, len(stored))
			for k, v := range stored {
				after[k] = v
			}
			for k, v := range changes.Set {
				after[k] = v
			}
			for _, k := range changes.Remove {
				delete(after, k)
			}
			return Attributes(nil, after, requested).Empty()
		},
		attrs, attrs,
	))

	properties.Property("ints and floats of the same value are equal", prop.ForAll(
		func(i int32) bool {
			return Equal(schema.KindFloat, int64(i), float64(i)) && Equal("", float64(i), int64(i))
		},
		gen.Int32(),
	))

	codes := gen.SliceOf(gen.OneConstOf("a", "b", "c", "d"))
	properties.Property("replace with the stored targets is a no-op", prop.ForAll(
		func(stored []string) bool {
			var rows []core.RelationshipRow
			seen := map[string]bool{}
			for _, c := range stored {
				if !seen[c] {
					seen[c] = true
					rows = append(rows, row("HAS_TECH_LEAD", core.Outgoing, "Person", c))
				}
			}
			codes := make([]string, 0, len(rows))
			for _, r := range rows {
				codes = append(codes, r.Related.Code)
			}
			if len(codes) == 0 {
				return true
			}
			return Relationships(core.ActionReplace, rows, []core.RelationshipRequest{techLeads(codes...)}, nil).Empty()
		},
		codes,
	))

	properties.Property("merge never removes", prop.ForAll(
		func(stored, requested []string) bool {
			var rows []core.RelationshipRow
			for _, c := range stored {
				rows = append(rows, row("HAS_TECH_LEAD", core.Outgoing, "Person", c))
			}
			return len(Relationships(core.ActionMerge, rows, []core.RelationshipRequest{techLeads(requested...)}, nil).Removed) == 0
		},
		codes, codes,
	))

	properties.TestingRun(t)
}

func TestDedupe(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, dedupe([]string{"b", "a", "b", "a"}))
	require.Empty(t, dedupe(nil))
}
