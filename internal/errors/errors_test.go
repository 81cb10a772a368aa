package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("leave forum: %w", Invariant("last admin"))

	assert.ErrorIs(t, err, ErrInvariant)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, KindInvariant, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestMapErrorToHTTP(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"validation", Validation("title is required"), http.StatusBadRequest, "VALIDATION_ERROR", "title is required"},
		{"not found", NotFound("forum not found"), http.StatusNotFound, "NOT_FOUND", "forum not found"},
		{"permission", Permission("admin privileges required"), http.StatusForbidden, "PERMISSION_DENIED", "admin privileges required"},
		{"conflict", Conflict("already hidden"), http.StatusConflict, "CONFLICT", "already hidden"},
		{"invariant", Invariant("last admin"), http.StatusUnprocessableEntity, "INVARIANT_VIOLATION", "last admin"},
		{"unauthenticated", Unauthenticated("bad token"), http.StatusUnauthorized, "UNAUTHENTICATED", "bad token"},
		{"internal hides cause", Internal(errors.New("dsn=secret")), http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"},
		{"unclassified", errors.New("raw"), http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpErr := MapErrorToHTTP(tt.err)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.code, httpErr.Code)
			assert.Equal(t, tt.msg, httpErr.Message)
		})
	}
}

func TestValidationDetailsReachResponse(t *testing.T) {
	err := ValidationWithDetails("invalid input", map[string]string{"title": "required"})
	resp := MapErrorToHTTP(err).ToErrorResponse()

	assert.Equal(t, "invalid input", resp.Error)
	assert.Equal(t, "required", resp.Details["title"])
}
