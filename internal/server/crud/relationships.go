package crud

import (
	"context"

	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/apperror"
	"github.com/systemshift/bizops/internal/server/events"
	"github.com/systemshift/bizops/internal/server/sanitize"
)

func relationshipNotFound(from core.NodeRef, relType string, to core.NodeRef) error {
	return apperror.NotFound("%s relationship from %s %s to %s %s does not exist",
		relType, from.Type, from.Code, to.Type, to.Code)
}

func endpointNotFound(from, to core.NodeRef) error {
	return apperror.NotFound("%s %s or %s %s does not exist", from.Type, from.Code, to.Type, to.Code)
}

// liveEndpoints fails with not found or gone unless both ends of a
// relationship exist and neither is soft deleted
func (s *Service) liveEndpoints(ctx context.Context, from, to core.NodeRef) error {
	if _, err := s.read(ctx, from); err != nil {
		return err
	}
	_, err := s.read(ctx, to)
	return err
}

// GetRelationship reads one relationship
func (s *Service) GetRelationship(ctx context.Context, p sanitize.RelationshipParams) (*core.Relationship, error) {
	from, relType, to, err := sanitize.RelationshipAddress(s.schemas.Current(), p)
	if err != nil {
		return nil, err
	}
	rel, err := s.repo.ReadRelationship(ctx, from, relType, to)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, relationshipNotFound(from, relType, to)
	}
	return rel, nil
}

// CreateRelationship creates a relationship that must not exist yet
func (s *Service) CreateRelationship(ctx context.Context, p sanitize.RelationshipParams) (*core.Relationship, error) {
	const op = "create_relationship"
	w, err := s.sanitizer.Relationship(s.schemas.Current(), p)
	if err != nil {
		return nil, s.fail(op, err)
	}

	if err := s.liveEndpoints(ctx, w.From, w.To); err != nil {
		return nil, s.fail(op, err)
	}
	existing, err := s.repo.ReadRelationship(ctx, w.From, w.Type, w.To)
	if err != nil {
		return nil, s.fail(op, err)
	}
	if existing != nil {
		return nil, s.fail(op, apperror.Conflict("%s relationship from %s %s to %s %s already exists",
			w.Type, w.From.Type, w.From.Code, w.To.Type, w.To.Code))
	}

	rel, err := s.repo.CreateRelationship(ctx, w, core.NewStamp(w.Actor, s.now()))
	if err != nil {
		return nil, s.fail(op, err)
	}
	if rel == nil {
		return nil, s.fail(op, endpointNotFound(w.From, w.To))
	}
	s.count(op, outcomeWritten)
	s.events.Publish(events.ForRelationship(events.CreatedRelationship, w.Actor, rel)...)
	s.logRelationship("relationship created", w)
	return rel, nil
}

// PatchRelationship creates or updates a relationship. created reports
// whether this request created it.
func (s *Service) PatchRelationship(ctx context.Context, p sanitize.RelationshipParams) (rel *core.Relationship, created bool, err error) {
	const op = "patch_relationship"
	w, err := s.sanitizer.Relationship(s.schemas.Current(), p)
	if err != nil {
		return nil, false, s.fail(op, err)
	}
	if err := s.liveEndpoints(ctx, w.From, w.To); err != nil {
		return nil, false, s.fail(op, err)
	}

	rel, err = s.repo.PatchRelationship(ctx, w, core.NewStamp(w.Actor, s.now()))
	if err != nil {
		return nil, false, s.fail(op, err)
	}
	if rel == nil {
		return nil, false, s.fail(op, endpointNotFound(w.From, w.To))
	}
	s.count(op, outcomeWritten)

	created = rel.Metadata.CreatedByRequest == w.RequestID
	kind := events.UpdatedRelationship
	if created {
		kind = events.CreatedRelationship
	}
	s.events.Publish(events.ForRelationship(kind, w.Actor, rel)...)
	s.logRelationship("relationship written", w)
	return rel, created, nil
}

// DeleteRelationship removes a relationship
func (s *Service) DeleteRelationship(ctx context.Context, p sanitize.RelationshipParams) error {
	const op = "delete_relationship"
	actor, err := sanitize.Actor(p.Headers)
	if err != nil {
		return s.fail(op, err)
	}
	from, relType, to, err := sanitize.RelationshipAddress(s.schemas.Current(), p)
	if err != nil {
		return s.fail(op, err)
	}
	if err := s.liveEndpoints(ctx, from, to); err != nil {
		return s.fail(op, err)
	}

	deleted, err := s.repo.DeleteRelationship(ctx, from, relType, to)
	if err != nil {
		return s.fail(op, err)
	}
	if !deleted {
		return s.fail(op, relationshipNotFound(from, relType, to))
	}
	s.count(op, outcomeWritten)
	s.events.Publish(events.ForRelationship(events.DeletedRelationship, actor, &core.Relationship{
		Type: relType,
		From: from,
		To:   to,
	})...)
	s.logRelationship("relationship deleted", &core.RelationshipWrite{Actor: actor, From: from, Type: relType, To: to})
	return nil
}

func (s *Service) logRelationship(msg string, w *core.RelationshipWrite) {
	s.log.Info(msg,
		zap.String("requestId", w.RequestID),
		zap.String("clientId", w.ClientID),
		zap.Stringer("from", w.From),
		zap.String("relationship", w.Type),
		zap.Stringer("to", w.To))
}
