// Package diff decides what a write would actually change, so writes that
// change nothing never reach the database.
package diff

import (
	"reflect"
	"sort"

	"github.com/systemshift/bizops/internal/server/schema"
)

// AttributeChanges are the attribute writes that differ from the stored node
type AttributeChanges struct {
	Set    map[string]any
	Remove []string
}

// Empty reports whether nothing changes
func (c AttributeChanges) Empty() bool {
	return len(c.Set) == 0 && len(c.Remove) == 0
}

// Names lists every attribute that changes, sorted
func (c AttributeChanges) Names() []string {
	names := make([]string, 0, len(c.Set)+len(c.Remove))
	for k := range c.Set {
		names = append(names, k)
	}
	names = append(names, c.Remove...)
	sort.Strings(names)
	return names
}

// Attributes compares requested values with stored ones. A nil request value
// deletes the attribute and only counts when the attribute exists.
func Attributes(kinds map[string]string, stored, requested map[string]any) AttributeChanges {
	changes := AttributeChanges{Set: make(map[string]any)}
	for name, want := range requested {
		have, exists := stored[name]
		if want == nil {
			if exists && have != nil {
				changes.Remove = append(changes.Remove, name)
			}
			continue
		}
		if !exists || !Equal(kinds[name], have, want) {
			changes.Set[name] = want
		}
	}
	sort.Strings(changes.Remove)
	return changes
}

// Equal compares two property values the way the schema kind sees them:
// numbers across int and float, dates irrespective of format, lists element
// by element. Strings stay case sensitive.
func Equal(kind string, a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	al, aList := asList(a)
	bl, bList := asList(b)
	if aList || bList {
		if !(aList && bList) || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !Equal(kind, al[i], bl[i]) {
				return false
			}
		}
		return true
	}

	if kind != "" {
		ca, errA := schema.Coerce(kind, a)
		cb, errB := schema.Coerce(kind, b)
		if errA == nil && errB == nil {
			a, b = ca, cb
		}
	}

	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
