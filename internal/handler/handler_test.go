package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfshare/internal/auth"
	apperrors "shelfshare/internal/errors"
)

func newContext(t *testing.T) echo.Context {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	return echo.New().NewContext(req, httptest.NewRecorder())
}

func TestPathID(t *testing.T) {
	c := newContext(t)
	want := uuid.New()
	c.SetParamNames("forumId", "bookId")
	c.SetParamValues(want.String(), "42")

	got, err := pathID(c, "forumId")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = pathID(c, "bookId")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "must be a UUID", appErr.Details["bookId"])
}

func TestCallerID(t *testing.T) {
	c := newContext(t)
	_, err := callerID(c)
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	id := uuid.New()
	c.Set(ClaimsKey, &auth.Claims{UserID: id})
	got, err := callerID(c)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestFailHidesInternalCause(t *testing.T) {
	c := newContext(t)

	err := fail(c, zerolog.Nop(), apperrors.Internal(errors.New("dial tcp 10.0.0.3:3306")))
	var he *echo.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	body, ok := he.Message.(apperrors.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, "internal server error", body.Error)

	err = fail(c, zerolog.Nop(), apperrors.Invariant("last admin"))
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusUnprocessableEntity, he.Code)
}
