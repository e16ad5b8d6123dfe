// Package crud orchestrates node and relationship writes: sanitize, read the
// stored state, diff, check locks, write, and emit change events.
package crud

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/apperror"
	"github.com/systemshift/bizops/internal/server/cypher"
	"github.com/systemshift/bizops/internal/server/diff"
	"github.com/systemshift/bizops/internal/server/events"
	"github.com/systemshift/bizops/internal/server/graph"
	"github.com/systemshift/bizops/internal/server/logging"
	"github.com/systemshift/bizops/internal/server/metrics"
	"github.com/systemshift/bizops/internal/server/sanitize"
	"github.com/systemshift/bizops/internal/server/schema"
)

// Module provides the CRUD service
var Module = fx.Module("crud",
	fx.Provide(NewService),
)

// Write outcomes recorded in bizops_writes_total
const (
	outcomeWritten = "written"
	outcomeNoop    = "noop"
	outcomeError   = "error"
)

// Service implements the node and relationship operations
type Service struct {
	repo      graph.Repository
	schemas   *schema.Registry
	sanitizer *sanitize.Sanitizer
	events    events.Publisher
	metrics   *metrics.Registry
	log       *zap.Logger
	now       func() time.Time
}

// NewService creates the service
func NewService(repo graph.Repository, schemas *schema.Registry, sanitizer *sanitize.Sanitizer, publisher events.Publisher, m *metrics.Registry, log *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		schemas:   schemas,
		sanitizer: sanitizer,
		events:    publisher,
		metrics:   m,
		log:       log.With(logging.Component("crud")),
		now:       time.Now,
	}
}

func (s *Service) count(operation, outcome string) {
	s.metrics.WritesTotal.WithLabelValues(operation, outcome).Inc()
}

// fail counts a failed write and passes the error through
func (s *Service) fail(operation string, err error) error {
	s.count(operation, outcomeError)
	return err
}

// read loads a node, failing when it is absent or soft deleted
func (s *Service) read(ctx context.Context, ref core.NodeRef) (core.Record, error) {
	rec, err := s.repo.ReadNode(ctx, ref)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperror.NotFound("%s %s does not exist", ref.Type, ref.Code)
	}
	if rec.Primary().Deleted {
		return nil, apperror.Gone("%s %s has been deleted", ref.Type, ref.Code)
	}
	return rec, nil
}

// Get reads a node and its relationships
func (s *Service) Get(ctx context.Context, rawType, rawCode string) (core.Record, error) {
	ref, err := sanitize.NodeRef(s.schemas.Current(), rawType, rawCode)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, ref)
}

// Create writes a node that must not exist yet
func (s *Service) Create(ctx context.Context, p sanitize.NodeParams) (core.WriteResult, error) {
	const op = "create"
	snap := s.schemas.Current()

	req, err := s.sanitizer.WriteRequest(snap, sanitize.ModeCreate, p)
	if err != nil {
		return core.WriteResult{}, s.fail(op, err)
	}

	existing, err := s.repo.ReadNode(ctx, req.Ref())
	if err != nil {
		return core.WriteResult{}, s.fail(op, err)
	}
	if existing != nil {
		if existing.Primary().Deleted {
			return core.WriteResult{}, s.fail(op, apperror.Gone("%s %s has been deleted", req.NodeType, req.Code))
		}
		return core.WriteResult{}, s.fail(op, apperror.Conflict("%s %s already exists", req.NodeType, req.Code))
	}

	d := diff.Write(kinds(snap, req.NodeType), nil, req)
	return s.write(ctx, op, cypher.Create, req, nil, d)
}

// Patch creates or updates a node
func (s *Service) Patch(ctx context.Context, p sanitize.NodeParams) (core.WriteResult, error) {
	const op = "patch"
	snap := s.schemas.Current()

	req, err := s.sanitizer.WriteRequest(snap, sanitize.ModeUpdate, p)
	if err != nil {
		return core.WriteResult{}, s.fail(op, err)
	}

	existing, err := s.repo.ReadNode(ctx, req.Ref())
	if err != nil {
		return core.WriteResult{}, s.fail(op, err)
	}
	if existing != nil && existing.Primary().Deleted {
		return core.WriteResult{}, s.fail(op, apperror.Gone("%s %s has been deleted", req.NodeType, req.Code))
	}

	d := diff.Write(kinds(snap, req.NodeType), existing, req)

	if existing != nil {
		if locked := diff.Conflicts(existing.Primary().LockedFields, req, d); len(locked) > 0 {
			return core.WriteResult{}, s.fail(op, lockedError(locked))
		}
	}

	if d.Noop() {
		s.count(op, outcomeNoop)
		s.log.Debug("write is a no-op",
			zap.String("requestId", req.RequestID),
			zap.Stringer("node", req.Ref()))
		return core.WriteResult{Record: existing}, nil
	}

	return s.write(ctx, op, cypher.Upsert, req, existing, d)
}

func (s *Service) write(ctx context.Context, op string, mode cypher.WriteMode, req *core.WriteRequest, existing core.Record, d diff.Result) (core.WriteResult, error) {
	stamp := core.NewStamp(req.Actor, s.now())
	rec, err := s.repo.WriteNode(ctx, mode, req, d, stamp)
	if err != nil {
		return core.WriteResult{}, s.fail(op, err)
	}
	s.count(op, outcomeWritten)

	created := existing == nil && rec.Primary().Metadata.CreatedByRequest == req.RequestID
	s.events.Publish(events.ForWrite(req.Actor, rec, d.Relationships.Removed)...)

	s.log.Info("node written",
		zap.String("requestId", req.RequestID),
		zap.String("clientId", req.ClientID),
		zap.Stringer("node", req.Ref()),
		zap.Bool("created", created),
		zap.Strings("attributes", d.Attributes.Names()),
		zap.Int("relationshipsAdded", len(d.Relationships.Added)),
		zap.Int("relationshipsRemoved", len(d.Relationships.Removed)))
	return core.WriteResult{Record: rec, WasCreated: created, Written: true}, nil
}

// Delete soft deletes a node that has no relationships
func (s *Service) Delete(ctx context.Context, h sanitize.Headers, rawType, rawCode string) error {
	const op = "delete"
	actor, err := sanitize.Actor(h)
	if err != nil {
		return s.fail(op, err)
	}
	ref, err := sanitize.NodeRef(s.schemas.Current(), rawType, rawCode)
	if err != nil {
		return s.fail(op, err)
	}

	rec, err := s.read(ctx, ref)
	if err != nil {
		return s.fail(op, err)
	}
	if rows := rec.Rows(); len(rows) > 0 {
		return s.fail(op, blockedDelete(ref, rows))
	}

	ok, err := s.repo.SoftDeleteNode(ctx, ref, core.NewStamp(actor, s.now()))
	if err != nil {
		return s.fail(op, err)
	}
	if !ok {
		// a relationship appeared since the read
		return s.fail(op, apperror.Conflict("Cannot delete %s %s while it has relationships", ref.Type, ref.Code))
	}
	s.count(op, outcomeWritten)
	s.events.Publish(events.ForDelete(actor, ref)...)

	s.log.Info("node deleted",
		zap.String("requestId", actor.RequestID),
		zap.String("clientId", actor.ClientID),
		zap.Stringer("node", ref))
	return nil
}

func kinds(snap *schema.Snapshot, nodeType string) map[string]string {
	t, ok := snap.Type(nodeType)
	if !ok {
		return nil
	}
	return t.Kinds()
}

func lockedError(locked map[string]string) error {
	fields := make([]string, 0, len(locked))
	owners := make(map[string]any, len(locked))
	for field, owner := range locked {
		fields = append(fields, field)
		owners[field] = owner
	}
	sort.Strings(fields)
	return apperror.Validation("Cannot write fields locked by another client: %s", strings.Join(fields, ", ")).
		WithDetails(map[string]any{"lockedFields": owners})
}

func blockedDelete(ref core.NodeRef, rows []core.RelationshipRow) error {
	seen := make(map[string]bool)
	var types []string
	for _, row := range rows {
		if !seen[row.Type] {
			seen[row.Type] = true
			types = append(types, row.Type)
		}
	}
	sort.Strings(types)
	return apperror.Conflict("Cannot delete %s %s while it has relationships: %s", ref.Type, ref.Code, strings.Join(types, ", ")).
		WithDetails(map[string]any{"relationships": types})
}
