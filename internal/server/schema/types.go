package schema

import (
	"regexp"
	"sort"

	"github.com/systemshift/bizops/internal/core"
)

// Primitive property kinds. Any other kind is an enum name or a node type.
const (
	KindBoolean  = "Boolean"
	KindFloat    = "Float"
	KindInt      = "Int"
	KindString   = "String"
	KindDate     = "Date"
	KindDateTime = "DateTime"
	KindTime     = "Time"
)

var primitives = map[string]bool{
	KindBoolean:  true,
	KindFloat:    true,
	KindInt:      true,
	KindString:   true,
	KindDate:     true,
	KindDateTime: true,
	KindTime:     true,
}

// IsPrimitive reports whether kind is a scalar kind rather than an enum or type
func IsPrimitive(kind string) bool {
	return primitives[kind]
}

// Property is one declared property of a type: an attribute or a relationship
type Property struct {
	Name              string         `yaml:"-"`
	Type              string         `yaml:"type"`
	Description       string         `yaml:"description"`
	Label             string         `yaml:"label"`
	Pattern           string         `yaml:"pattern"`
	Required          bool           `yaml:"required"`
	DeprecationReason string         `yaml:"deprecationReason"`
	HasMany           bool           `yaml:"hasMany"`
	Relationship      string         `yaml:"relationship"`
	Direction         core.Direction `yaml:"direction"`

	pattern *regexp.Regexp
	enum    []string
}

// IsRelationship reports whether the property declares a relationship
func (p *Property) IsRelationship() bool {
	return p.Relationship != ""
}

// IsEnum reports whether the property takes values from an enum
func (p *Property) IsEnum() bool {
	return p.enum != nil
}

// Type is a node label and its declared properties
type Type struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Properties  map[string]*Property `yaml:"properties"`

	codePattern *regexp.Regexp
}

// Property looks up a declared property
func (t *Type) Property(name string) (*Property, bool) {
	p, ok := t.Properties[name]
	return p, ok
}

// Kind returns the declared kind of an attribute, or "" when unknown
func (t *Type) Kind(name string) string {
	if p, ok := t.Properties[name]; ok && !p.IsRelationship() {
		if p.IsEnum() {
			return KindString
		}
		return p.Type
	}
	return ""
}

// Kinds returns attribute name to kind for every non-relationship property
func (t *Type) Kinds() map[string]string {
	out := make(map[string]string, len(t.Properties))
	for name := range t.Properties {
		if kind := t.Kind(name); kind != "" {
			out[name] = kind
		}
	}
	return out
}

// Relationships lists relationship properties sorted by name
func (t *Type) Relationships() []*Property {
	var out []*Property
	for _, p := range t.Properties {
		if p.IsRelationship() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot is an immutable, fully resolved schema. A request reads one
// snapshot and uses it throughout.
type Snapshot struct {
	Version        string
	Types          map[string]*Type
	Enums          map[string][]string
	StringPatterns map[string]string
}

// Type looks up a node type
func (s *Snapshot) Type(name string) (*Type, bool) {
	t, ok := s.Types[name]
	return t, ok
}

// TypeNames lists all type names, sorted
func (s *Snapshot) TypeNames() []string {
	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RelationshipProperty finds a relationship property declared on nodeType
func (s *Snapshot) RelationshipProperty(nodeType, name string) (*Property, bool) {
	t, ok := s.Types[nodeType]
	if !ok {
		return nil, false
	}
	p, ok := t.Properties[name]
	if !ok || !p.IsRelationship() {
		return nil, false
	}
	return p, true
}

// FindRelationship returns the declaration of relType between nodeType and
// relatedType in the given direction. The declaration may live on either
// type; when it lives on relatedType its direction is read flipped.
func (s *Snapshot) FindRelationship(nodeType, relType string, dir core.Direction, relatedType string) (*Property, bool) {
	if t, ok := s.Types[nodeType]; ok {
		for _, p := range t.Properties {
			if p.Relationship == relType && p.Direction == dir && p.Type == relatedType {
				return p, true
			}
		}
	}
	if t, ok := s.Types[relatedType]; ok {
		for _, p := range t.Properties {
			if p.Relationship == relType && p.Direction == dir.Flip() && p.Type == nodeType {
				return p, true
			}
		}
	}
	return nil, false
}
