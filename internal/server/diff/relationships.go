package diff

import (
	"sort"

	"github.com/systemshift/bizops/internal/core"
)

// RelationshipChanges are the rows a write would add or remove, computed
// against the rows read before the write
type RelationshipChanges struct {
	Added   []core.RelationshipRow
	Removed []core.RelationshipRow
}

// Empty reports whether the relationships stay as they are
func (c RelationshipChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// Relationships applies the reconciliation rules to the stored rows:
// replace keeps exactly the requested targets of each touched kind, merge
// only adds, a to-one kind drops its previous target when a new one is
// given, and explicit deletions remove targets in either mode.
func Relationships(action core.RelationshipAction, existing []core.RelationshipRow, merge, remove []core.RelationshipRequest) RelationshipChanges {
	index := make(map[core.RelationshipKey]map[string]core.RelationshipRow)
	for _, row := range existing {
		key := core.KeyOf(row)
		if index[key] == nil {
			index[key] = make(map[string]core.RelationshipRow)
		}
		index[key][row.Related.Code] = row
	}

	var changes RelationshipChanges
	removed := make(map[core.RelationshipKey]map[string]bool)
	drop := func(key core.RelationshipKey, row core.RelationshipRow) {
		if removed[key] == nil {
			removed[key] = make(map[string]bool)
		}
		if !removed[key][row.Related.Code] {
			removed[key][row.Related.Code] = true
			changes.Removed = append(changes.Removed, row)
		}
	}

	for _, req := range merge {
		key := req.Key()
		have := index[key]
		want := make(map[string]bool, len(req.Codes))
		for _, code := range req.Codes {
			want[code] = true
			if _, ok := have[code]; !ok {
				changes.Added = append(changes.Added, core.RelationshipRow{
					Type:      req.Type,
					Direction: req.Direction,
					Related:   core.NodeRef{Type: req.NodeType, Code: code},
				})
			}
		}
		if action == core.ActionReplace || (req.ToOne && len(req.Codes) > 0) {
			for _, code := range sortedCodes(have) {
				if !want[code] {
					drop(key, have[code])
				}
			}
		}
	}

	for _, req := range remove {
		key := req.Key()
		for _, code := range req.Codes {
			if row, ok := index[key][code]; ok {
				drop(key, row)
			}
		}
	}
	return changes
}

func sortedCodes(rows map[string]core.RelationshipRow) []string {
	codes := make([]string, 0, len(rows))
	for code := range rows {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
