package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"shelfshare/internal/model"
	"shelfshare/internal/service"
)

// ForumHandler handles forum endpoints.
type ForumHandler struct {
	forumService service.ForumService
	logger       zerolog.Logger
}

// NewForumHandler creates a new forum handler.
func NewForumHandler(forumService service.ForumService, logger zerolog.Logger) *ForumHandler {
	return &ForumHandler{forumService: forumService, logger: logger}
}

// CreateForumRequest represents a new forum.
type CreateForumRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Location    string `json:"location" validate:"required,max=255"`
	Description string `json:"description"`
}

// FeaturedRequest is the forum's highlighted book and quote.
type FeaturedRequest struct {
	Book  string `json:"book" validate:"max=255"`
	Quote string `json:"quote"`
}

// EditForumRequest carries optional forum settings.
type EditForumRequest struct {
	Name                 *string          `json:"name" validate:"omitempty,max=255"`
	Location             *string          `json:"location" validate:"omitempty,max=255"`
	Description          *string          `json:"description"`
	ExternalLink         *string          `json:"external_link" validate:"omitempty,url"`
	InviteCode           *string          `json:"invite_code" validate:"omitempty,max=64"`
	RegenerateInviteCode bool             `json:"regenerate_invite_code"`
	Featured             *FeaturedRequest `json:"featured"`
}

// JoinForumRequest carries an invite code.
type JoinForumRequest struct {
	InviteCode string `json:"invite_code" validate:"required"`
}

// JoinForumResponse identifies the joined forum.
type JoinForumResponse struct {
	ForumID uuid.UUID `json:"forum_id"`
}

// CreateForum godoc
// @Summary Create a forum
// @Description The creator becomes its first admin.
// @Tags forums
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateForumRequest true "Forum"
// @Success 201 {object} model.Forum
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /forums [post]
func (h *ForumHandler) CreateForum(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return fail(c, h.logger, err)
	}
	var req CreateForumRequest
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, h.logger, err)
	}

	forum, err := h.forumService.CreateForum(c.Request().Context(), caller, service.CreateForumInput{
		Name:        req.Name,
		Location:    req.Location,
		Description: req.Description,
	})
	if err != nil {
		return fail(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, forum)
}

// JoinForum godoc
// @Summary Join a forum by invite code
// @Tags forums
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body JoinForumRequest true "Invite code"
// @Success 200 {object} JoinForumResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /forums/join [post]
func (h *ForumHandler) JoinForum(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return fail(c, h.logger, err)
	}
	var req JoinForumRequest
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, h.logger, err)
	}

	forumID, err := h.forumService.JoinForum(c.Request().Context(), caller, req.InviteCode)
	if err != nil {
		return fail(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, JoinForumResponse{ForumID: forumID})
}

// GetForum godoc
// @Summary Get forum details
// @Description Roster and the members' books minus the hidden set. Admins also receive hidden_books and hidden_count.
// @Tags forums
// @Produce json
// @Security BearerAuth
// @Param forumId path string true "Forum ID"
// @Success 200 {object} service.ForumDetails
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /forums/{forumId} [get]
func (h *ForumHandler) GetForum(c echo.Context) error {
	caller, forumID, err := h.callerAndForum(c)
	if err != nil {
		return fail(c, h.logger, err)
	}
	details, err := h.forumService.GetForumDetails(c.Request().Context(), caller, forumID)
	if err != nil {
		return fail(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, details)
}

// EditForum godoc
// @Summary Edit forum settings
// @Tags forums
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param forumId path string true "Forum ID"
// @Param request body EditForumRequest true "Fields to change"
// @Success 200 {object} model.Forum
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /forums/{forumId} [patch]
func (h *ForumHandler) EditForum(c echo.Context) error {
	caller, forumID, err := h.callerAndForum(c)
	if err != nil {
		return fail(c, h.logger, err)
	}
	var req EditForumRequest
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, h.logger, err)
	}

	edit := service.ForumEdit{
		Name:                 req.Name,
		Location:             req.Location,
		Description:          req.Description,
		ExternalLink:         req.ExternalLink,
		InviteCode:           req.InviteCode,
		RegenerateInviteCode: req.RegenerateInviteCode,
	}
	if req.Featured != nil {
		edit.Featured = &model.Featured{Book: req.Featured.Book, Quote: req.Featured.Quote}
	}

	forum, err := h.forumService.EditForumDetails(c.Request().Context(), caller, forumID, edit)
	if err != nil {
		return fail(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, forum)
}

// DeleteForum godoc
// @Summary Delete a forum
// @Tags forums
// @Security BearerAuth
// @Param forumId path string true "Forum ID"
// @Success 204
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /forums/{forumId} [delete]
func (h *ForumHandler) DeleteForum(c echo.Context) error {
	caller, forumID, err := h.callerAndForum(c)
	if err != nil {
		return fail(c, h.logger, err)
	}
	if err := h.forumService.DeleteForum(c.Request().Context(), caller, forumID); err != nil {
		return fail(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// LeaveForum godoc
// @Summary Leave a forum
// @Description The last admin cannot leave; promote another member or delete the forum.
// @Tags forums
// @Security BearerAuth
// @Param forumId path string true "Forum ID"
// @Success 204
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 422 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /forums/{forumId}/leave [delete]
func (h *ForumHandler) LeaveForum(c echo.Context) error {
	caller, forumID, err := h.callerAndForum(c)
	if err != nil {
		return fail(c, h.logger, err)
	}
	if err := h.forumService.LeaveForum(c.Request().Context(), caller, forumID); err != nil {
		return fail(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetMember godoc
// @Summary Get a member's details
// @Tags forums
// @Produce json
// @Security BearerAuth
// @Param forumId path string true "Forum ID"
// @Param memberId path string true "Member user ID"
// @Success 200 {object} service.MemberDetails
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /forums/{forumId}/users/{memberId} [get]
func (h *ForumHandler) GetMember(c echo.Context) error {
	caller, forumID, memberID, err := h.callerForumAnd(c, "memberId")
	if err != nil {
		return fail(c, h.logger, err)
	}
	details, err := h.forumService.GetMemberDetails(c.Request().Context(), caller, forumID, memberID)
	if err != nil {
		return fail(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, details)
}

// MakeAdmin godoc
// @Summary Promote a member to admin
// @Tags forums
// @Security BearerAuth
// @Param forumId path string true "Forum ID"
// @Param memberId path string true "Member user ID"
// @Success 204
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /forums/{forumId}/users/{memberId} [patch]
func (h *ForumHandler) MakeAdmin(c echo.Context) error {
	caller, forumID, memberID, err := h.callerForumAnd(c, "memberId")
	if err != nil {
		return fail(c, h.logger, err)
	}
	if err := h.forumService.MakeAdmin(c.Request().Context(), caller, forumID, memberID); err != nil {
		return fail(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RemoveMember godoc
// @Summary Remove a member from a forum
// @Tags forums
// @Security BearerAuth
// @Param forumId path string true "Forum ID"
// @Param memberId path string true "Member user ID"
// @Success 204
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /forums/{forumId}/users/{memberId} [delete]
func (h *ForumHandler) RemoveMember(c echo.Context) error {
	caller, forumID, memberID, err := h.callerForumAnd(c, "memberId")
	if err != nil {
		return fail(c, h.logger, err)
	}
	if err := h.forumService.RemoveUser(c.Request().Context(), caller, forumID, memberID); err != nil {
		return fail(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HideBook godoc
// @Summary Hide a book from the forum view
// @Tags forums
// @Security BearerAuth
// @Param forumId path string true "Forum ID"
// @Param bookId path string true "Book ID"
// @Success 204
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /forums/{forumId}/books/{bookId}/hide [patch]
func (h *ForumHandler) HideBook(c echo.Context) error {
	caller, forumID, bookID, err := h.callerForumAnd(c, "bookId")
	if err != nil {
		return fail(c, h.logger, err)
	}
	if err := h.forumService.HideBook(c.Request().Context(), caller, forumID, bookID); err != nil {
		return fail(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// UnhideBook godoc
// @Summary Show a hidden book again
// @Tags forums
// @Security BearerAuth
// @Param forumId path string true "Forum ID"
// @Param bookId path string true "Book ID"
// @Success 204
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /forums/{forumId}/books/{bookId}/unhide [patch]
func (h *ForumHandler) UnhideBook(c echo.Context) error {
	caller, forumID, bookID, err := h.callerForumAnd(c, "bookId")
	if err != nil {
		return fail(c, h.logger, err)
	}
	if err := h.forumService.UnhideBook(c.Request().Context(), caller, forumID, bookID); err != nil {
		return fail(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ForumHandler) callerAndForum(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	caller, err := callerID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	forumID, err := pathID(c, "forumId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return caller, forumID, nil
}

func (h *ForumHandler) callerForumAnd(c echo.Context, param string) (uuid.UUID, uuid.UUID, uuid.UUID, error) {
	caller, forumID, err := h.callerAndForum(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, err
	}
	id, err := pathID(c, param)
	if err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, err
	}
	return caller, forumID, id, nil
}
