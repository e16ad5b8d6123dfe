// Package graphtest provides an in-memory graph.Repository that follows the
// same write semantics as the Cypher the Neo4j repository runs.
package graphtest

import (
	"context"
	"sort"
	"sync"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/apperror"
	"github.com/systemshift/bizops/internal/server/cypher"
	"github.com/systemshift/bizops/internal/server/diff"
	"github.com/systemshift/bizops/internal/server/graph"
)

var _ graph.Repository = (*Memory)(nil)

type edge struct {
	Type  string
	From  core.NodeRef
	To    core.NodeRef
	Props map[string]any
}

// Memory is a Repository backed by maps
type Memory struct {
	mu    sync.Mutex
	nodes map[core.NodeRef]map[string]any
	edges []*edge

	// Err, when set, is returned by every call
	Err error
	// Writes counts calls that could mutate the graph
	Writes int
	// Constraints records the labels passed to EnsureConstraints
	Constraints []string
}

// NewMemory returns an empty graph
func NewMemory() *Memory {
	return &Memory{nodes: make(map[core.NodeRef]map[string]any)}
}

// Seed stores a node with the given properties, bypassing metadata
func (m *Memory) Seed(ref core.NodeRef, props map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := map[string]any{core.PropCode: ref.Code}
	for k, v := range props {
		stored[k] = v
	}
	m.nodes[ref] = stored
}

// Link stores a relationship, bypassing metadata
func (m *Memory) Link(from core.NodeRef, relType string, to core.NodeRef, props map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if props == nil {
		props = map[string]any{}
	}
	m.edges = append(m.edges, &edge{Type: relType, From: from, To: to, Props: props})
}

// Node returns a copy of a node's stored properties
func (m *Memory) Node(ref core.NodeRef) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	props, ok := m.nodes[ref]
	if !ok {
		return nil, false
	}
	return copyProps(props), true
}

// RelationshipCount counts stored relationships
func (m *Memory) RelationshipCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.edges)
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func merge(into, from map[string]any) {
	for k, v := range from {
		if v == nil {
			delete(into, k)
			continue
		}
		into[k] = v
	}
}

func (m *Memory) Health(context.Context) error { return m.Err }

func (m *Memory) EnsureConstraints(_ context.Context, labels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Constraints = append([]string(nil), labels...)
	return m.Err
}

func (m *Memory) ReadNode(_ context.Context, ref core.NodeRef) (core.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.read(ref)
}

func (m *Memory) read(ref core.NodeRef) (core.Record, error) {
	props, ok := m.nodes[ref]
	if !ok {
		return nil, nil
	}
	node, err := core.NodeFromProperties(ref.Type, copyProps(props))
	if err != nil {
		return nil, err
	}

	var rows []core.RelationshipRow
	for _, e := range m.edges {
		if e.From == ref {
			rows = append(rows, m.row(e, core.Outgoing, e.To))
		}
		if e.To == ref {
			rows = append(rows, m.row(e, core.Incoming, e.From))
		}
	}
	if len(rows) == 0 {
		return core.NodeOnly{Node: node}, nil
	}
	return core.NodeWithRelationships{Node: node, Relationships: rows}, nil
}

func (m *Memory) row(e *edge, dir core.Direction, related core.NodeRef) core.RelationshipRow {
	rel := core.RelationshipFromProperties(e.Type, e.From, e.To, copyProps(e.Props))
	createdBy, _ := m.nodes[related][core.PropCreatedByRequest].(string)
	return core.RelationshipRow{
		Type:                    e.Type,
		Direction:               dir,
		Related:                 related,
		Attributes:              rel.Attributes,
		Metadata:                rel.Metadata,
		RelatedCreatedByRequest: createdBy,
	}
}

// matches reports whether e is a relationship of node of the given kind,
// returning the node at the other end
func matches(e *edge, node core.NodeRef, relType string, dir core.Direction, relatedType string) (core.NodeRef, bool) {
	if e.Type != relType {
		return core.NodeRef{}, false
	}
	if dir == core.Outgoing && e.From == node && e.To.Type == relatedType {
		return e.To, true
	}
	if dir == core.Incoming && e.To == node && e.From.Type == relatedType {
		return e.From, true
	}
	return core.NodeRef{}, false
}

func (m *Memory) removeWhere(keep func(*edge) bool) {
	out := m.edges[:0]
	for _, e := range m.edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	m.edges = out
}

func (m *Memory) findEdge(from core.NodeRef, relType string, to core.NodeRef) *edge {
	for _, e := range m.edges {
		if e.Type == relType && e.From == from && e.To == to {
			return e
		}
	}
	return nil
}

func orient(node core.NodeRef, dir core.Direction, related core.NodeRef) (core.NodeRef, core.NodeRef) {
	if dir == core.Incoming {
		return related, node
	}
	return node, related
}

func contains(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// deleted reports whether ref is stored and soft deleted
func (m *Memory) deleted(ref core.NodeRef) bool {
	flag, _ := m.nodes[ref][core.PropIsDeleted].(bool)
	return flag
}

// checkRelated rejects targets that are soft deleted or, without upsert,
// absent. The first offender in node order decides the error.
func (m *Memory) checkRelated(rows []core.RelationshipRow, upsert bool) error {
	var bad []core.NodeRef
	for _, row := range rows {
		_, ok := m.nodes[row.Related]
		if (ok && m.deleted(row.Related)) || (!ok && !upsert) {
			bad = append(bad, row.Related)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Slice(bad, func(i, j int) bool { return bad[i].String() < bad[j].String() })
	if m.deleted(bad[0]) {
		return apperror.Gone("Related node %s %s has been deleted", bad[0].Type, bad[0].Code)
	}
	return apperror.Dependency("Missing related node %s %s", bad[0].Type, bad[0].Code)
}

func (m *Memory) WriteNode(_ context.Context, mode cypher.WriteMode, req *core.WriteRequest, d diff.Result, stamp core.Stamp) (core.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	ref := req.Ref()
	props, exists := m.nodes[ref]
	if mode == cypher.Create && exists {
		return nil, apperror.Conflict("%s %s already exists", ref.Type, ref.Code)
	}
	if err := m.checkRelated(d.Relationships.Added, req.UpsertRelated); err != nil {
		return nil, err
	}
	m.Writes++

	if !exists {
		props = map[string]any{core.PropCode: ref.Code}
		merge(props, cypher.CreateMeta(stamp))
		m.nodes[ref] = props
	} else {
		merge(props, cypher.UpdateMeta(stamp))
	}
	merge(props, d.Attributes.Set)
	for _, name := range d.Attributes.Remove {
		delete(props, name)
	}
	if d.LocksChanged {
		props[core.PropLockedFields] = d.Locks.Encode()
	}

	if !d.Created {
		for _, rel := range req.RelationshipsToMerge {
			if req.RelationshipAction != core.ActionReplace && !(rel.ToOne && len(rel.Codes) > 0) {
				continue
			}
			m.removeWhere(func(e *edge) bool {
				related, ok := matches(e, ref, rel.Type, rel.Direction, rel.NodeType)
				return !ok || contains(rel.Codes, related.Code)
			})
		}
		for _, rel := range req.RelationshipsToDelete {
			m.removeWhere(func(e *edge) bool {
				related, ok := matches(e, ref, rel.Type, rel.Direction, rel.NodeType)
				return !ok || !contains(rel.Codes, related.Code)
			})
		}
	}

	for _, row := range d.Relationships.Added {
		if _, ok := m.nodes[row.Related]; !ok {
			if !req.UpsertRelated {
				continue
			}
			stub := map[string]any{core.PropCode: row.Related.Code}
			merge(stub, cypher.CreateMeta(stamp))
			m.nodes[row.Related] = stub
		}
		from, to := orient(ref, row.Direction, row.Related)
		if m.findEdge(from, row.Type, to) != nil {
			continue
		}
		props := map[string]any{}
		merge(props, cypher.CreateMeta(stamp))
		m.edges = append(m.edges, &edge{Type: row.Type, From: from, To: to, Props: props})
	}

	return m.read(ref)
}

func (m *Memory) SoftDeleteNode(_ context.Context, ref core.NodeRef, stamp core.Stamp) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	props, ok := m.nodes[ref]
	if !ok {
		return false, nil
	}
	for _, e := range m.edges {
		if e.From == ref || e.To == ref {
			return false, nil
		}
	}
	m.Writes++
	props[core.PropIsDeleted] = true
	props[core.PropDeletedByRequest] = stamp.RequestID
	props[core.PropDeletedByClient] = stamp.ClientID
	props[core.PropDeletedTimestamp] = stamp.Timestamp
	return true, nil
}

func (m *Memory) MergeNodes(_ context.Context, req *core.MergeRequest, moved []core.RelationshipRow, fill map[string]any, stamp core.Stamp) (core.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.Writes++

	dest := core.NodeRef{Type: req.NodeType, Code: req.DestinationCode}
	source := core.NodeRef{Type: req.NodeType, Code: req.SourceCode}

	for _, row := range moved {
		if _, ok := m.nodes[row.Related]; !ok {
			continue
		}
		from, to := orient(dest, row.Direction, row.Related)
		if m.findEdge(from, row.Type, to) != nil {
			continue
		}
		props := copyProps(row.Attributes)
		merge(props, cypher.CreateMeta(stamp))
		m.edges = append(m.edges, &edge{Type: row.Type, From: from, To: to, Props: props})
	}

	if props, ok := m.nodes[dest]; ok {
		merge(props, fill)
		merge(props, cypher.UpdateMeta(stamp))
	}

	delete(m.nodes, source)
	m.removeWhere(func(e *edge) bool { return e.From != source && e.To != source })

	return m.read(dest)
}

func (m *Memory) ReadRelationship(_ context.Context, from core.NodeRef, relType string, to core.NodeRef) (*core.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	e := m.findEdge(from, relType, to)
	if e == nil || !m.endpointsLive(from, to) {
		return nil, nil
	}
	return core.RelationshipFromProperties(relType, from, to, copyProps(e.Props)), nil
}

// endpointsLive reports whether both nodes exist and neither is soft deleted
func (m *Memory) endpointsLive(from, to core.NodeRef) bool {
	_, a := m.nodes[from]
	_, b := m.nodes[to]
	return a && b && !m.deleted(from) && !m.deleted(to)
}

func (m *Memory) CreateRelationship(_ context.Context, w *core.RelationshipWrite, stamp core.Stamp) (*core.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if !m.endpointsLive(w.From, w.To) {
		return nil, nil
	}
	m.Writes++
	props := map[string]any{}
	merge(props, w.Attributes)
	merge(props, cypher.CreateMeta(stamp))
	m.edges = append(m.edges, &edge{Type: w.Type, From: w.From, To: w.To, Props: props})
	return core.RelationshipFromProperties(w.Type, w.From, w.To, copyProps(props)), nil
}

func (m *Memory) PatchRelationship(_ context.Context, w *core.RelationshipWrite, stamp core.Stamp) (*core.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if !m.endpointsLive(w.From, w.To) {
		return nil, nil
	}
	m.Writes++
	e := m.findEdge(w.From, w.Type, w.To)
	if e == nil {
		e = &edge{Type: w.Type, From: w.From, To: w.To, Props: map[string]any{}}
		merge(e.Props, cypher.CreateMeta(stamp))
		m.edges = append(m.edges, e)
	} else {
		merge(e.Props, cypher.UpdateMeta(stamp))
	}
	merge(e.Props, w.Attributes)
	return core.RelationshipFromProperties(w.Type, w.From, w.To, copyProps(e.Props)), nil
}

func (m *Memory) DeleteRelationship(_ context.Context, from core.NodeRef, relType string, to core.NodeRef) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if !m.endpointsLive(from, to) {
		return false, nil
	}
	before := len(m.edges)
	m.removeWhere(func(e *edge) bool { return !(e.Type == relType && e.From == from && e.To == to) })
	if len(m.edges) == before {
		return false, nil
	}
	m.Writes++
	return true, nil
}
