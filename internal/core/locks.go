package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// LockedFields maps a field name to the client id that owns it. It is kept as
// a structured map everywhere and only becomes a JSON string when stored.
type LockedFields map[string]string

// ParseLockedFields decodes the stored _lockedFields property
func ParseLockedFields(v any) (LockedFields, error) {
	switch raw := v.(type) {
	case nil:
		return LockedFields{}, nil
	case string:
		if raw == "" {
			return LockedFields{}, nil
		}
		var out LockedFields
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("decoding locked fields: %w", err)
		}
		if out == nil {
			out = LockedFields{}
		}
		return out, nil
	case map[string]any:
		out := make(LockedFields, len(raw))
		for k, owner := range raw {
			s, ok := owner.(string)
			if !ok {
				return nil, fmt.Errorf("locked field %s has non-string owner", k)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected locked fields value %T", v)
	}
}

// Encode returns the storage form: a JSON string, or nil when nothing is
// locked so the property gets removed.
func (l LockedFields) Encode() any {
	if len(l) == 0 {
		return nil
	}
	b, _ := json.Marshal(map[string]string(l))
	return string(b)
}

// Clone returns an independent copy
func (l LockedFields) Clone() LockedFields {
	out := make(LockedFields, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Equal compares contents
func (l LockedFields) Equal(other LockedFields) bool {
	if len(l) != len(other) {
		return false
	}
	for k, v := range l {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// FieldSet is the parsed value of the lockFields/unlockFields parameters
type FieldSet struct {
	All   bool
	Names []string
}

// ParseFieldSet parses "all" or a comma separated list of names
func ParseFieldSet(raw string) FieldSet {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return FieldSet{}
	}
	if raw == "all" {
		return FieldSet{All: true}
	}
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return FieldSet{Names: names}
}

// Empty reports whether the set names nothing
func (f FieldSet) Empty() bool {
	return !f.All && len(f.Names) == 0
}

// Contains reports whether name is covered by the set
func (f FieldSet) Contains(name string) bool {
	if f.All {
		return true
	}
	for _, n := range f.Names {
		if n == name {
			return true
		}
	}
	return false
}

// resolve expands "all" against the fields present in the payload
func (f FieldSet) resolve(payloadFields []string) []string {
	if f.All {
		return payloadFields
	}
	return f.Names
}

// Conflicts returns the fields among touched that are locked by a client other
// than clientID and are not being explicitly unlocked.
func (l LockedFields) Conflicts(clientID string, touched []string, unlock FieldSet) map[string]string {
	var out map[string]string
	for _, field := range touched {
		owner, locked := l[field]
		if !locked || owner == clientID || unlock.Contains(field) {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[field] = owner
	}
	return out
}

// Apply returns the lock map after unlocking and then locking. Callers check
// Conflicts first; Apply itself does not refuse anything.
func (l LockedFields) Apply(clientID string, lock, unlock FieldSet, payloadFields []string) LockedFields {
	out := l.Clone()
	if unlock.All {
		out = LockedFields{}
	} else {
		for _, name := range unlock.Names {
			delete(out, name)
		}
	}
	for _, name := range lock.resolve(payloadFields) {
		out[name] = clientID
	}
	return out
}

// LockTargets lists the fields a lock request would claim
func LockTargets(lock FieldSet, payloadFields []string) []string {
	names := append([]string(nil), lock.resolve(payloadFields)...)
	sort.Strings(names)
	return names
}
