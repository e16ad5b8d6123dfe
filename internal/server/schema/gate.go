package schema

import (
	"sort"
	"strings"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/apperror"
)

// RelationshipCheck describes one relationship a write wants to touch
type RelationshipCheck struct {
	NodeType         string
	RelatedType      string
	RelationshipType string
	Direction        core.Direction
	RelatedCode      string
}

// ValidateAttributes checks attribute names, kinds, enums and patterns against
// nodeType and returns the coerced values. nil values are deletions and pass
// through untouched.
func (s *Snapshot) ValidateAttributes(nodeType string, attrs map[string]any) (map[string]any, error) {
	t, ok := s.Types[nodeType]
	if !ok {
		return nil, apperror.Validation("Invalid node type `%s`", nodeType)
	}

	// sorted so the first reported error is deterministic
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]any, len(attrs))
	for _, name := range names {
		value := attrs[name]
		p, ok := t.Properties[name]
		if !ok || p.IsRelationship() {
			return nil, apperror.Validation("Invalid property `%s` on type `%s`", name, nodeType)
		}
		if value == nil {
			out[name] = nil
			continue
		}
		coerced, err := s.coerceProperty(t, p, value)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}
	return out, nil
}

func (s *Snapshot) coerceProperty(t *Type, p *Property, value any) (any, error) {
	if p.HasMany {
		list, ok := value.([]any)
		if !ok {
			return nil, invalidValue(t, p, value, "Must be a list")
		}
		out := make([]any, len(list))
		for i, item := range list {
			v, err := s.coerceScalar(t, p, item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return s.coerceScalar(t, p, value)
}

func (s *Snapshot) coerceScalar(t *Type, p *Property, value any) (any, error) {
	kind := t.Kind(p.Name)
	coerced, err := Coerce(kind, value)
	if err != nil {
		return nil, invalidValue(t, p, value, "Must be a "+kind).WithInternal(err)
	}
	if p.IsEnum() {
		str := coerced.(string)
		if !contains(p.enum, str) {
			return nil, invalidValue(t, p, value, "Must be one of "+strings.Join(p.enum, ", "))
		}
	}
	if p.pattern != nil {
		str, isString := coerced.(string)
		if !isString || !p.pattern.MatchString(str) {
			return nil, invalidValue(t, p, value, "Must match pattern "+p.Pattern)
		}
	}
	return coerced, nil
}

// ValidateRelationship checks that the relationship is declared by either
// end and that the related code is acceptable for the related type
func (s *Snapshot) ValidateRelationship(check RelationshipCheck) (*Property, error) {
	if _, ok := s.Types[check.RelatedType]; !ok {
		return nil, apperror.Validation("Invalid node type `%s`", check.RelatedType)
	}
	p, ok := s.FindRelationship(check.NodeType, check.RelationshipType, check.Direction, check.RelatedType)
	if !ok {
		return nil, apperror.Validation("`%s` is not a valid %s relationship from %s to %s",
			check.RelationshipType, check.Direction, check.NodeType, check.RelatedType)
	}
	if check.RelatedCode != "" {
		if err := s.ValidateCode(check.RelatedType, check.RelatedCode); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ValidateCode applies the type's code pattern, if it declares one
func (s *Snapshot) ValidateCode(nodeType, code string) error {
	t, ok := s.Types[nodeType]
	if !ok {
		return apperror.Validation("Invalid node type `%s`", nodeType)
	}
	if t.codePattern != nil && !t.codePattern.MatchString(code) {
		return apperror.Validation("Invalid value `%s` for property `code` on type `%s`", code, nodeType)
	}
	return nil
}

func invalidValue(t *Type, p *Property, value any, reason string) *apperror.Error {
	return apperror.Validation("Invalid value `%v` for property `%s` on type `%s`: %s", value, p.Name, t.Name, reason)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

