package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"shelfshare/internal/service"
)

// BookHandler handles catalog endpoints.
type BookHandler struct {
	catalogService service.CatalogService
	logger         zerolog.Logger
}

// NewBookHandler creates a new book handler.
func NewBookHandler(catalogService service.CatalogService, logger zerolog.Logger) *BookHandler {
	return &BookHandler{catalogService: catalogService, logger: logger}
}

// AddBookRequest represents a book to add to the caller's shelf.
type AddBookRequest struct {
	Title  string `json:"title" validate:"required,max=255"`
	Author string `json:"author" validate:"required,max=255"`
	Genre  string `json:"genre" validate:"max=100"`
}

// EditBookRequest carries optional catalog changes.
type EditBookRequest struct {
	Title  *string `json:"title" validate:"omitempty,max=255"`
	Author *string `json:"author" validate:"omitempty,max=255"`
	Genre  *string `json:"genre" validate:"omitempty,max=100"`
}

// AddBook godoc
// @Summary Add a book to own shelf
// @Description Reuses the catalog item when a book with the same normalized title and author exists.
// @Tags books
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body AddBookRequest true "Book"
// @Success 201 {object} model.Book
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /books [post]
func (h *BookHandler) AddBook(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return fail(c, h.logger, err)
	}
	var req AddBookRequest
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, h.logger, err)
	}

	book, err := h.catalogService.AddOwnedBook(c.Request().Context(), caller, service.BookInput{
		Title:  req.Title,
		Author: req.Author,
		Genre:  req.Genre,
	})
	if err != nil {
		return fail(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, book)
}

// EditBook godoc
// @Summary Edit a catalog item
// @Description Caller must own the book. When the edit collides with another item, the two are merged.
// @Tags books
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param bookId path string true "Book ID"
// @Param request body EditBookRequest true "Fields to change"
// @Success 200 {object} service.EditBookResult
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /books/{bookId} [patch]
func (h *BookHandler) EditBook(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return fail(c, h.logger, err)
	}
	bookID, err := pathID(c, "bookId")
	if err != nil {
		return fail(c, h.logger, err)
	}
	var req EditBookRequest
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, h.logger, err)
	}

	res, err := h.catalogService.EditBook(c.Request().Context(), caller, bookID, service.BookEdit{
		Title:  req.Title,
		Author: req.Author,
		Genre:  req.Genre,
	})
	if err != nil {
		return fail(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, res)
}

// RemoveBook godoc
// @Summary Remove a book from own shelf
// @Tags books
// @Security BearerAuth
// @Param bookId path string true "Book ID"
// @Success 204
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /books/{bookId} [delete]
func (h *BookHandler) RemoveBook(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return fail(c, h.logger, err)
	}
	bookID, err := pathID(c, "bookId")
	if err != nil {
		return fail(c, h.logger, err)
	}
	if err := h.catalogService.RemoveOwnedBook(c.Request().Context(), caller, bookID); err != nil {
		return fail(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}
