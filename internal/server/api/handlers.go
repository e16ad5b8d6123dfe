package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/apperror"
	"github.com/systemshift/bizops/internal/server/sanitize"
)

// nodeParams collects the raw input of a node write
func nodeParams(r *http.Request, body map[string]any) sanitize.NodeParams {
	q := r.URL.Query()
	return sanitize.NodeParams{
		Headers:            identity(r),
		NodeType:           chi.URLParam(r, "type"),
		Code:               chi.URLParam(r, "code"),
		Body:               body,
		RelationshipAction: q.Get("relationshipAction"),
		Upsert:             boolParam(r, "upsert"),
		LockFields:         q.Get("lockFields"),
		UnlockFields:       q.Get("unlockFields"),
	}
}

// GetNode handles GET /node/{type}/{code}
func (s *Server) GetNode(w http.ResponseWriter, r *http.Request) {
	rec, err := s.crud.Get(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, core.NewNodeResponse(rec))
}

// CreateNode handles POST /node/{type}/{code}
func (s *Server) CreateNode(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.crud.Create(r.Context(), nodeParams(r, body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, core.NewNodeResponse(res.Record))
}

// PatchNode handles PATCH /node/{type}/{code}
// Responds 201 when the node did not exist before the request
func (s *Server) PatchNode(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.crud.Patch(r.Context(), nodeParams(r, body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.WasCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, core.NewNodeResponse(res.Record))
}

// DeleteNode handles DELETE /node/{type}/{code}
func (s *Server) DeleteNode(w http.ResponseWriter, r *http.Request) {
	err := s.crud.Delete(r.Context(), identity(r), chi.URLParam(r, "type"), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MergeRequest is the request body for merging two nodes
type MergeRequest struct {
	Type            string `json:"type"`
	SourceCode      string `json:"sourceCode"`
	DestinationCode string `json:"destinationCode"`
}

// MergeNodes handles POST /merge
func (s *Server) MergeNodes(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, r, apperror.Validation("Invalid merge request: %v", err))
		return
	}

	rec, err := s.crud.Merge(r.Context(), sanitize.MergeParams{
		Headers:         identity(r),
		NodeType:        req.Type,
		SourceCode:      req.SourceCode,
		DestinationCode: req.DestinationCode,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, core.NewNodeResponse(rec))
}

// HealthCheck handles GET /__health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.repo.Health(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// SchemaResponse describes the schema snapshot in effect
type SchemaResponse struct {
	Version string   `json:"version"`
	Types   []string `json:"types"`
}

// Schema handles GET /__schema
func (s *Server) Schema(w http.ResponseWriter, r *http.Request) {
	snap := s.schemas.Current()
	writeJSON(w, http.StatusOK, SchemaResponse{
		Version: snap.Version,
		Types:   snap.TypeNames(),
	})
}
