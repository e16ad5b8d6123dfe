package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/server/apperror"
	"github.com/systemshift/bizops/internal/server/sanitize"
)

const (
	headerClientID  = "client-id"
	headerRequestID = "x-request-id"
	headerUserID    = "client-user-id"

	maxBodyBytes = 1 << 20
)

func identity(r *http.Request) sanitize.Headers {
	return sanitize.Headers{
		ClientID:  r.Header.Get(headerClientID),
		RequestID: r.Header.Get(headerRequestID),
		UserID:    r.Header.Get(headerUserID),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps err onto its status. Unclassified errors are logged with
// their cause and reach the caller only as a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := apperror.ToHTTPError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("requestId", r.Header.Get(headerRequestID)),
			zap.Error(err))
	}
	writeJSON(w, status, body)
}

// decodeBody reads a JSON object body. An empty body is an empty object.
// Numbers are kept as json.Number so integers survive unchanged.
func decodeBody(r *http.Request) (map[string]any, error) {
	if r.Body == nil {
		return map[string]any{}, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, apperror.Validation("Could not read request body")
	}
	if len(raw) > maxBodyBytes {
		return nil, apperror.Validation("Request body is too large")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body any
	if err := dec.Decode(&body); err != nil {
		return nil, apperror.Validation("Invalid JSON body: %v", err)
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, apperror.Validation("Request body must be a JSON object")
	}
	return obj, nil
}

func boolParam(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
