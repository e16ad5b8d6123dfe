package sanitize

import (
	"encoding/json"
	"sort"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/apperror"
	"github.com/systemshift/bizops/internal/server/config"
	"github.com/systemshift/bizops/internal/server/logging"
	"github.com/systemshift/bizops/internal/server/schema"
)

// Module provides the request sanitizer
var Module = fx.Module("sanitize",
	fx.Provide(New),
)

// deletePrefix marks a body key as a list of relationships to remove
const deletePrefix = "!"

// legacyIDKey is the identifier key older clients send alongside or instead of code
const legacyIDKey = "id"

// Mode distinguishes the create-only POST path from PATCH
type Mode int

const (
	ModeCreate Mode = iota
	ModeUpdate
)

// NodeParams is the raw input of a node write, as received over HTTP
type NodeParams struct {
	Headers
	NodeType           string
	Code               string
	Body               map[string]any
	RelationshipAction string
	Upsert             bool
	LockFields         string
	UnlockFields       string
}

// RelationshipParams is the raw input of a relationship read or write
type RelationshipParams struct {
	Headers
	FromType         string
	FromCode         string
	RelationshipType string
	ToType           string
	ToCode           string
	Body             map[string]any
}

// MergeParams is the raw input of a node merge
type MergeParams struct {
	Headers
	NodeType        string
	SourceCode      string
	DestinationCode string
}

// Sanitizer normalizes and validates raw request input
type Sanitizer struct {
	exceptions map[string]bool
	log        *zap.Logger
}

// New creates a sanitizer that also accepts the configured legacy attribute
// names
func New(cfg *config.Config, log *zap.Logger) *Sanitizer {
	exceptions := make(map[string]bool, len(cfg.Schema.AttributeNameExceptions))
	for _, name := range cfg.Schema.AttributeNameExceptions {
		if name = strings.TrimSpace(name); name != "" {
			exceptions[name] = true
		}
	}
	return &Sanitizer{
		exceptions: exceptions,
		log:        log.With(logging.Component("sanitize")),
	}
}

// Actor validates the identity headers
func Actor(h Headers) (core.Actor, error) {
	if err := validate.Struct(h); err != nil {
		return core.Actor{}, formatValidationError(err, headerMessages)
	}
	return core.Actor{ClientID: h.ClientID, RequestID: h.RequestID, UserID: h.UserID}, nil
}

// NodeType normalizes a type name (Team, team and TEAM are the same type) and
// checks it against the schema
func NodeType(snap *schema.Snapshot, raw string) (string, error) {
	normalized := normalizeType(raw)
	if !matches(normalized, "nodetype") {
		return "", apperror.Validation("Invalid node type `%s`", raw)
	}
	if _, ok := snap.Type(normalized); !ok {
		return "", apperror.Validation("Invalid node type `%s`", raw)
	}
	return normalized, nil
}

func normalizeType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	return strings.ToUpper(raw[:1]) + strings.ToLower(raw[1:])
}

// Code lowercases and checks a node code
func Code(raw string) (string, error) {
	code := strings.ToLower(strings.TrimSpace(raw))
	if !matches(code, "nodecode") {
		return "", apperror.Validation("Invalid node identifier `%s`", raw)
	}
	return code, nil
}

// RelationshipType checks an UPPER_SNAKE_CASE relationship name
func RelationshipType(raw string) (string, error) {
	if !matches(raw, "reltype") {
		return "", apperror.Validation("Invalid relationship `%s`", raw)
	}
	return raw, nil
}

// AttributeName accepts camelCase names and configured exceptions
func (s *Sanitizer) AttributeName(name string) error {
	if s.exceptions[name] || matches(name, "attrname") {
		return nil
	}
	return apperror.Validation("Invalid attribute `%s`", name)
}

// NodeRef sanitizes a type and code pair
func NodeRef(snap *schema.Snapshot, rawType, rawCode string) (core.NodeRef, error) {
	nodeType, err := NodeType(snap, rawType)
	if err != nil {
		return core.NodeRef{}, err
	}
	code, err := Code(rawCode)
	if err != nil {
		return core.NodeRef{}, err
	}
	if err := snap.ValidateCode(nodeType, code); err != nil {
		return core.NodeRef{}, err
	}
	return core.NodeRef{Type: nodeType, Code: code}, nil
}

// WriteRequest turns a node write into a schema-checked request
func (s *Sanitizer) WriteRequest(snap *schema.Snapshot, mode Mode, p NodeParams) (*core.WriteRequest, error) {
	actor, err := Actor(p.Headers)
	if err != nil {
		return nil, err
	}
	ref, err := NodeRef(snap, p.NodeType, p.Code)
	if err != nil {
		return nil, err
	}

	req := &core.WriteRequest{
		Actor:         actor,
		NodeType:      ref.Type,
		Code:          ref.Code,
		Attributes:    make(map[string]any),
		UpsertRelated: p.Upsert,
		LockFields:    core.ParseFieldSet(p.LockFields),
		UnlockFields:  core.ParseFieldSet(p.UnlockFields),
	}

	keys := make([]string, 0, len(p.Body))
	for k := range p.Body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := p.Body[key]
		switch {
		case key == core.PropCode || key == legacyIDKey:
			if err := checkBodyCode(value, ref.Code); err != nil {
				return nil, err
			}
		case strings.HasPrefix(key, deletePrefix):
			if mode == ModeCreate {
				return nil, apperror.Validation("Cannot remove relationships when creating a node: `%s`", key)
			}
			rel, err := s.relationshipRequest(snap, ref.Type, strings.TrimPrefix(key, deletePrefix), value)
			if err != nil {
				return nil, err
			}
			req.RelationshipsToDelete = append(req.RelationshipsToDelete, rel)
		default:
			if prop, ok := snap.RelationshipProperty(ref.Type, key); ok {
				rel, err := s.relationshipFromProperty(snap, ref.Type, prop, value)
				if err != nil {
					return nil, err
				}
				req.RelationshipsToMerge = append(req.RelationshipsToMerge, rel)
				continue
			}
			if core.IsMetadataKey(key) {
				return nil, apperror.Validation("Invalid attribute `%s`", key)
			}
			if err := s.AttributeName(key); err != nil {
				return nil, err
			}
			req.Attributes[key] = value
		}
	}

	if req.Attributes, err = snap.ValidateAttributes(ref.Type, req.Attributes); err != nil {
		return nil, err
	}

	for _, fields := range []core.FieldSet{req.LockFields, req.UnlockFields} {
		for _, name := range fields.Names {
			if err := s.AttributeName(name); err != nil {
				return nil, err
			}
		}
	}

	action, err := parseAction(p.RelationshipAction)
	if err != nil {
		return nil, err
	}
	if mode == ModeCreate {
		action = core.ActionMerge
	} else if req.HasRelationships() && action == core.ActionNone {
		return nil, apperror.Validation("PATCHing relationships requires a relationshipAction query param set to `merge` or `replace`")
	}
	req.RelationshipAction = action

	s.log.Debug("sanitized write",
		zap.String("requestId", actor.RequestID),
		zap.String("clientId", actor.ClientID),
		zap.String("type", req.NodeType),
		zap.String("code", req.Code),
		zap.Strings("attributes", sortedKeys(req.Attributes)),
		zap.Int("relationshipsToMerge", len(req.RelationshipsToMerge)),
		zap.Int("relationshipsToDelete", len(req.RelationshipsToDelete)),
		zap.String("relationshipAction", string(action)),
		zap.Bool("upsert", req.UpsertRelated))
	return req, nil
}

func checkBodyCode(value any, code string) error {
	s, ok := value.(string)
	if !ok || strings.ToLower(s) != code {
		return apperror.Validation("Conflicting code attribute `%v` for %s", value, code)
	}
	return nil
}

func parseAction(raw string) (core.RelationshipAction, error) {
	switch core.RelationshipAction(strings.ToLower(raw)) {
	case core.ActionNone:
		return core.ActionNone, nil
	case core.ActionMerge:
		return core.ActionMerge, nil
	case core.ActionReplace:
		return core.ActionReplace, nil
	}
	return "", apperror.Validation("Invalid relationshipAction `%s`, must be `merge` or `replace`", raw)
}

func (s *Sanitizer) relationshipRequest(snap *schema.Snapshot, nodeType, name string, value any) (core.RelationshipRequest, error) {
	prop, ok := snap.RelationshipProperty(nodeType, name)
	if !ok {
		return core.RelationshipRequest{}, apperror.Validation("Invalid relationship `%s` on type `%s`", name, nodeType)
	}
	return s.relationshipFromProperty(snap, nodeType, prop, value)
}

func (s *Sanitizer) relationshipFromProperty(snap *schema.Snapshot, nodeType string, prop *schema.Property, value any) (core.RelationshipRequest, error) {
	if _, err := RelationshipType(prop.Relationship); err != nil {
		return core.RelationshipRequest{}, err
	}
	raw, err := codeList(prop.Name, value)
	if err != nil {
		return core.RelationshipRequest{}, err
	}

	seen := make(map[string]bool, len(raw))
	codes := make([]string, 0, len(raw))
	for _, r := range raw {
		code, err := Code(r)
		if err != nil {
			return core.RelationshipRequest{}, err
		}
		if _, err := snap.ValidateRelationship(schema.RelationshipCheck{
			NodeType:         nodeType,
			RelatedType:      prop.Type,
			RelationshipType: prop.Relationship,
			Direction:        prop.Direction,
			RelatedCode:      code,
		}); err != nil {
			return core.RelationshipRequest{}, err
		}
		if !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}

	if !prop.HasMany && len(codes) > 1 {
		return core.RelationshipRequest{}, apperror.Validation("Can only have one %s", prop.Name)
	}
	return core.RelationshipRequest{
		Name:      prop.Name,
		Type:      prop.Relationship,
		Direction: prop.Direction,
		NodeType:  prop.Type,
		Codes:     codes,
		ToOne:     !prop.HasMany,
	}, nil
}

// codeList accepts a single code or a list of codes
func codeList(name string, value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, apperror.Validation("Invalid relationship value for `%s`: codes must be strings", name)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, apperror.Validation("Invalid relationship value for `%s`: expected a code or a list of codes", name)
}

// RelationshipAddress sanitizes the endpoints and type of a relationship URL
// and checks the schema declares it
func RelationshipAddress(snap *schema.Snapshot, p RelationshipParams) (from core.NodeRef, relType string, to core.NodeRef, err error) {
	if from, err = NodeRef(snap, p.FromType, p.FromCode); err != nil {
		return
	}
	if relType, err = RelationshipType(p.RelationshipType); err != nil {
		return
	}
	if to, err = NodeRef(snap, p.ToType, p.ToCode); err != nil {
		return
	}
	_, err = snap.ValidateRelationship(schema.RelationshipCheck{
		NodeType:         from.Type,
		RelatedType:      to.Type,
		RelationshipType: relType,
		Direction:        core.Outgoing,
		RelatedCode:      to.Code,
	})
	return
}

// Relationship sanitizes the addressing and body of a relationship write
func (s *Sanitizer) Relationship(snap *schema.Snapshot, p RelationshipParams) (*core.RelationshipWrite, error) {
	actor, err := Actor(p.Headers)
	if err != nil {
		return nil, err
	}
	from, relType, to, err := RelationshipAddress(snap, p)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]any, len(p.Body))
	for key, value := range p.Body {
		if core.IsMetadataKey(key) {
			return nil, apperror.Validation("Invalid attribute `%s`", key)
		}
		if err := s.AttributeName(key); err != nil {
			return nil, err
		}
		v, err := scalar(key, value)
		if err != nil {
			return nil, err
		}
		attrs[key] = v
	}

	s.log.Debug("sanitized relationship",
		zap.String("requestId", actor.RequestID),
		zap.String("clientId", actor.ClientID),
		zap.Stringer("from", from),
		zap.String("relationship", relType),
		zap.Stringer("to", to))
	return &core.RelationshipWrite{Actor: actor, From: from, Type: relType, To: to, Attributes: attrs}, nil
}

// scalar admits the values a graph property can hold
func scalar(key string, value any) (any, error) {
	switch v := value.(type) {
	case nil, bool, string, float64, int64:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, apperror.Validation("Invalid value `%s` for `%s`", v, key)
		}
		return f, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			s, err := scalar(key, item)
			if err != nil {
				return nil, err
			}
			if s == nil {
				return nil, apperror.Validation("Invalid value for `%s`: lists cannot hold null", key)
			}
			if _, nested := s.([]any); nested {
				return nil, apperror.Validation("Invalid value for `%s`: lists cannot be nested", key)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, apperror.Validation("Invalid value for `%s`: objects are not supported", key)
}

// Merge sanitizes a node merge request
func Merge(snap *schema.Snapshot, p MergeParams) (*core.MergeRequest, error) {
	actor, err := Actor(p.Headers)
	if err != nil {
		return nil, err
	}
	switch {
	case p.NodeType == "":
		return nil, apperror.Validation("No type parameter supplied")
	case p.SourceCode == "":
		return nil, apperror.Validation("No sourceCode parameter supplied")
	case p.DestinationCode == "":
		return nil, apperror.Validation("No destinationCode parameter supplied")
	}
	source, err := NodeRef(snap, p.NodeType, p.SourceCode)
	if err != nil {
		return nil, err
	}
	destination, err := NodeRef(snap, p.NodeType, p.DestinationCode)
	if err != nil {
		return nil, err
	}
	if source.Code == destination.Code {
		return nil, apperror.Validation("Source and destination codes are the same: `%s`", source.Code)
	}
	return &core.MergeRequest{
		Actor:           actor,
		NodeType:        source.Type,
		SourceCode:      source.Code,
		DestinationCode: destination.Code,
	}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
