package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without internal error",
			err:      NotFound("Team team-a not found"),
			expected: "not_found: Team team-a not found",
		},
		{
			name:     "with internal error",
			err:      Internal(errors.New("connection refused")),
			expected: "internal_error: An internal error occurred (connection refused)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestTaxonomyStatuses(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Validation("x").HTTPStatus)
	assert.Equal(t, http.StatusConflict, Conflict("x").HTTPStatus)
	assert.Equal(t, http.StatusNotFound, NotFound("x").HTTPStatus)
	assert.Equal(t, http.StatusGone, Gone("x").HTTPStatus)
	assert.Equal(t, http.StatusBadRequest, Dependency("x").HTTPStatus)
	assert.Equal(t, http.StatusInternalServerError, Internal(nil).HTTPStatus)
}

func TestStatusFollowsWrapping(t *testing.T) {
	wrapped := fmt.Errorf("writing node: %w", Gone("Team team-a has been deleted"))
	assert.Equal(t, http.StatusGone, Status(wrapped))
	assert.Equal(t, http.StatusInternalServerError, Status(errors.New("boom")))
}

func TestToHTTPErrorHidesInternalMessage(t *testing.T) {
	status, body := ToHTTPError(errors.New("neo4j: socket closed"))
	require.Equal(t, http.StatusInternalServerError, status)

	inner := body["error"].(map[string]any)
	assert.Equal(t, CodeInternal, inner["code"])
	assert.Equal(t, "An internal error occurred", inner["message"])
}

func TestToHTTPErrorIncludesDetails(t *testing.T) {
	err := Validation("Cannot write locked fields").WithDetails(map[string]any{
		"lockedFields": map[string]string{"name": "client-x"},
	})
	status, body := ToHTTPError(err)
	require.Equal(t, http.StatusBadRequest, status)

	inner := body["error"].(map[string]any)
	assert.Contains(t, inner, "details")
}
