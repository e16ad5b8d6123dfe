package diff

import (
	"sort"

	"github.com/systemshift/bizops/internal/core"
)

// Result is everything a node write would change
type Result struct {
	// Created is set when there is no stored node yet
	Created       bool
	Attributes    AttributeChanges
	Relationships RelationshipChanges
	Locks         core.LockedFields
	LocksChanged  bool
}

// Noop reports whether the write can be skipped entirely
func (r Result) Noop() bool {
	return !r.Created && r.Attributes.Empty() && r.Relationships.Empty() && !r.LocksChanged
}

// Write diffs a request against the stored record, which is nil when the
// node does not exist
func Write(kinds map[string]string, existing core.Record, req *core.WriteRequest) Result {
	var (
		stored map[string]any
		rows   []core.RelationshipRow
		locks  core.LockedFields
	)
	if existing != nil {
		node := existing.Primary()
		stored = node.Attributes
		rows = existing.Rows()
		locks = node.LockedFields
	}

	res := Result{
		Created:       existing == nil,
		Attributes:    Attributes(kinds, stored, req.Attributes),
		Relationships: Relationships(req.RelationshipAction, rows, req.RelationshipsToMerge, req.RelationshipsToDelete),
	}
	res.Locks, res.LocksChanged = Locks(locks, req.ClientID, req.LockFields, req.UnlockFields, PayloadFields(req))
	return res
}

// Locks returns the lock map after the request and whether it differs from
// the stored one
func Locks(stored core.LockedFields, clientID string, lock, unlock core.FieldSet, payload []string) (core.LockedFields, bool) {
	if lock.Empty() && unlock.Empty() {
		return stored.Clone(), false
	}
	next := stored.Apply(clientID, lock, unlock, payload)
	return next, !next.Equal(stored)
}

// Conflicts lists fields the write would change or lock that another client
// holds. Only attributes that really change are checked.
func Conflicts(stored core.LockedFields, req *core.WriteRequest, res Result) map[string]string {
	touched := res.Attributes.Names()
	touched = append(touched, core.LockTargets(req.LockFields, PayloadFields(req))...)
	return stored.Conflicts(req.ClientID, dedupe(touched), req.UnlockFields)
}

// PayloadFields lists the attributes a request writes, leaving out deletions
func PayloadFields(req *core.WriteRequest) []string {
	names := make([]string, 0, len(req.Attributes))
	for name, v := range req.Attributes {
		if v != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func dedupe(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	for i, n := range names {
		if i == 0 || n != names[i-1] {
			out = append(out, n)
		}
	}
	return out
}
