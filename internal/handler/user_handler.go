package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"shelfshare/internal/model"
	"shelfshare/internal/service"
)

// UserHandler serves the caller's own account.
type UserHandler struct {
	accountService service.AccountService
	catalogService service.CatalogService
	logger         zerolog.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(accountService service.AccountService, catalogService service.CatalogService, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		accountService: accountService,
		catalogService: catalogService,
		logger:         logger,
	}
}

// EditProfileRequest carries optional profile changes.
type EditProfileRequest struct {
	Name            *string `json:"name" validate:"omitempty,max=50"`
	Email           *string `json:"email" validate:"omitempty,email"`
	CurrentPassword *string `json:"current_password"`
	NewPassword     *string `json:"new_password" validate:"omitempty,min=8"`
}

// GetProfile godoc
// @Summary Get own profile
// @Description Account details plus a summary of every joined forum.
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.Profile
// @Failure 401 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /users/me [get]
func (h *UserHandler) GetProfile(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return fail(c, h.logger, err)
	}
	profile, err := h.accountService.GetOwnProfile(c.Request().Context(), caller)
	if err != nil {
		return fail(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, profile)
}

// EditProfile godoc
// @Summary Edit own profile
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body EditProfileRequest true "Fields to change"
// @Success 200 {object} model.User
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /users/me [patch]
func (h *UserHandler) EditProfile(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return fail(c, h.logger, err)
	}
	var req EditProfileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, h.logger, err)
	}

	user, err := h.accountService.EditOwnProfile(c.Request().Context(), caller, service.ProfileEdit{
		Name:            req.Name,
		Email:           req.Email,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		return fail(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, user)
}

// DeleteAccount godoc
// @Summary Delete own account
// @Description Removes the account from every forum. Where the caller was an admin, another member is promoted.
// @Tags users
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /users/me [delete]
func (h *UserHandler) DeleteAccount(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return fail(c, h.logger, err)
	}
	if err := h.accountService.DeleteAccount(c.Request().Context(), caller); err != nil {
		return fail(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetOwnBooks godoc
// @Summary List own books
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.Book
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /users/me/books [get]
func (h *UserHandler) GetOwnBooks(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return fail(c, h.logger, err)
	}
	books, err := h.catalogService.GetOwnBooks(c.Request().Context(), caller)
	if err != nil {
		return fail(c, h.logger, err)
	}
	if books == nil {
		books = []model.Book{}
	}
	return c.JSON(http.StatusOK, books)
}
