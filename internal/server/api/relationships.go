package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/systemshift/bizops/internal/server/sanitize"
)

func relationshipParams(r *http.Request, body map[string]any) sanitize.RelationshipParams {
	return sanitize.RelationshipParams{
		Headers:          identity(r),
		FromType:         chi.URLParam(r, "fromType"),
		FromCode:         chi.URLParam(r, "fromCode"),
		RelationshipType: chi.URLParam(r, "relType"),
		ToType:           chi.URLParam(r, "toType"),
		ToCode:           chi.URLParam(r, "toCode"),
		Body:             body,
	}
}

// GetRelationship handles GET /relationship/{fromType}/{fromCode}/{relType}/{toType}/{toCode}
func (s *Server) GetRelationship(w http.ResponseWriter, r *http.Request) {
	rel, err := s.crud.GetRelationship(r.Context(), relationshipParams(r, nil))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel.Public())
}

// CreateRelationship handles POST on a relationship
func (s *Server) CreateRelationship(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rel, err := s.crud.CreateRelationship(r.Context(), relationshipParams(r, body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel.Public())
}

// PatchRelationship handles PATCH on a relationship
func (s *Server) PatchRelationship(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rel, created, err := s.crud.PatchRelationship(r.Context(), relationshipParams(r, body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, rel.Public())
}

// DeleteRelationship handles DELETE on a relationship
func (s *Server) DeleteRelationship(w http.ResponseWriter, r *http.Request) {
	if err := s.crud.DeleteRelationship(r.Context(), relationshipParams(r, nil)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
