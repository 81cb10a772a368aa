package handler

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"shelfshare/internal/auth"
	apperrors "shelfshare/internal/errors"
)

// ClaimsKey is the echo context key holding the caller's validated *auth.Claims.
const ClaimsKey = "auth_claims"

// MessageResponse is a plain acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}

// fail converts err into an echo error carrying an ErrorResponse body.
// Internal causes are logged here and never reach the client.
func fail(c echo.Context, logger zerolog.Logger, err error) error {
	httpErr := apperrors.MapErrorToHTTP(err)
	if httpErr.StatusCode >= 500 {
		logger.Error().Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("request failed")
	}
	return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
}

// bindAndValidate decodes the body into req and runs struct validation.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperrors.Validation("invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	return nil
}

// pathID parses a UUID path parameter.
func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.ValidationWithDetails("invalid path parameter", map[string]string{
			name: "must be a UUID",
		})
	}
	return id, nil
}

// callerClaims returns the claims the JWT guard stored for this request.
func callerClaims(c echo.Context) (*auth.Claims, error) {
	claims, ok := c.Get(ClaimsKey).(*auth.Claims)
	if !ok || claims == nil {
		return nil, apperrors.Unauthenticated("missing or invalid token")
	}
	return claims, nil
}

func callerID(c echo.Context) (uuid.UUID, error) {
	claims, err := callerClaims(c)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserID, nil
}
