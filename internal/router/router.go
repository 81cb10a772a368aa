package router

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	"shelfshare/internal/auth"
	apperrors "shelfshare/internal/errors"
	"shelfshare/internal/handler"
	"shelfshare/internal/observability"
	"shelfshare/internal/ratelimit"
)

// Handlers groups the endpoint handlers mounted under /api.
type Handlers struct {
	Auth  *handler.AuthHandler
	User  *handler.UserHandler
	Book  *handler.BookHandler
	Forum *handler.ForumHandler
}

// Register wires routes and middleware.
func Register(
	e *echo.Echo,
	logger zerolog.Logger,
	jwtService *auth.JWTService,
	tokenStore auth.TokenStoreInterface,
	authLimiter *ratelimit.KeyedRateLimiter,
	h Handlers,
) {
	e.HTTPErrorHandler = ErrorHandler(logger)
	e.Validator = NewValidator()

	e.Use(middleware.RequestID())
	e.Use(observability.RequestLogger(logger))
	e.Use(observability.RequestMetrics())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	api := e.Group("/api")
	guard := RequireAccessToken(jwtService, tokenStore)

	authGroup := api.Group("/auth", ratelimit.Middleware(authLimiter, logger))
	authGroup.POST("/register", h.Auth.Register)
	authGroup.POST("/login", h.Auth.Login)
	authGroup.POST("/refresh", h.Auth.Refresh)
	authGroup.POST("/logout", h.Auth.Logout, guard...)

	secured := api.Group("", guard...)

	secured.GET("/users/me", h.User.GetProfile)
	secured.PATCH("/users/me", h.User.EditProfile)
	secured.DELETE("/users/me", h.User.DeleteAccount)
	secured.GET("/users/me/books", h.User.GetOwnBooks)

	secured.POST("/books", h.Book.AddBook)
	secured.PATCH("/books/:bookId", h.Book.EditBook)
	secured.DELETE("/books/:bookId", h.Book.RemoveBook)

	secured.POST("/forums", h.Forum.CreateForum)
	secured.POST("/forums/join", h.Forum.JoinForum)
	secured.GET("/forums/:forumId", h.Forum.GetForum)
	secured.PATCH("/forums/:forumId", h.Forum.EditForum)
	secured.DELETE("/forums/:forumId", h.Forum.DeleteForum)
	secured.DELETE("/forums/:forumId/leave", h.Forum.LeaveForum)
	secured.GET("/forums/:forumId/users/:memberId", h.Forum.GetMember)
	secured.PATCH("/forums/:forumId/users/:memberId", h.Forum.MakeAdmin)
	secured.DELETE("/forums/:forumId/users/:memberId", h.Forum.RemoveMember)
	secured.PATCH("/forums/:forumId/books/:bookId/hide", h.Forum.HideBook)
	secured.PATCH("/forums/:forumId/books/:bookId/unhide", h.Forum.UnhideBook)
}

// RequireAccessToken verifies the bearer token, rejects refresh tokens and
// revoked access tokens, and stores the claims under handler.ClaimsKey.
func RequireAccessToken(jwtService *auth.JWTService, tokenStore auth.TokenStoreInterface) []echo.MiddlewareFunc {
	verify := echojwt.WithConfig(echojwt.Config{
		ContextKey:  handler.ClaimsKey,
		TokenLookup: "header:" + echo.HeaderAuthorization + ":Bearer ",
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			return jwtService.ValidateToken(token, auth.TokenTypeAccess)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return apperrors.Unauthenticated("missing or invalid token")
		},
	})

	revoked := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := c.Get(handler.ClaimsKey).(*auth.Claims)
			if !ok {
				return apperrors.Unauthenticated("missing or invalid token")
			}
			blacklisted, err := tokenStore.IsAccessTokenBlacklisted(c.Request().Context(), claims.ID)
			if err != nil {
				return apperrors.Internal(err)
			}
			if blacklisted {
				return apperrors.Unauthenticated("token has been revoked")
			}
			return next(c)
		}
	}

	return []echo.MiddlewareFunc{verify, revoked}
}

// ErrorHandler renders every error as an errors.ErrorResponse.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			status int
			body   apperrors.ErrorResponse
			he     *echo.HTTPError
		)
		if errors.As(err, &he) {
			status = he.Code
			switch msg := he.Message.(type) {
			case apperrors.ErrorResponse:
				body = msg
			case string:
				body = apperrors.ErrorResponse{Error: msg, Code: codeForStatus(status)}
			default:
				body = apperrors.ErrorResponse{Error: strings.ToLower(http.StatusText(status)), Code: codeForStatus(status)}
			}
		} else {
			httpErr := apperrors.MapErrorToHTTP(err)
			if httpErr.StatusCode >= http.StatusInternalServerError {
				logger.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
			}
			status = httpErr.StatusCode
			body = httpErr.ToErrorResponse()
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(apperrors.KindValidation)
	case http.StatusUnauthorized:
		return string(apperrors.KindUnauthenticated)
	case http.StatusForbidden:
		return string(apperrors.KindPermission)
	case http.StatusNotFound:
		return string(apperrors.KindNotFound)
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusConflict:
		return string(apperrors.KindConflict)
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	}
	if status >= http.StatusInternalServerError {
		return string(apperrors.KindInternal)
	}
	return "HTTP_ERROR"
}

// CustomValidator wraps validator for Echo and reports failures as
// validation errors keyed by JSON field name.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a validator that names fields by their json tag.
func NewValidator() *CustomValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &CustomValidator{validator: v}
}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	err := cv.validator.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.Validation("invalid request")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = describe(fe)
	}
	return apperrors.ValidationWithDetails("invalid request", details)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
