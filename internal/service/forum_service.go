package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	apperrors "shelfshare/internal/errors"
	"shelfshare/internal/model"
	"shelfshare/internal/repository"
)

const (
	inviteAlphabet   = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz"
	inviteCodeLength = 12
)

// CreateForumInput carries the fields of a new forum.
type CreateForumInput struct {
	Name        string
	Location    string
	Description string
}

// ForumEdit carries optional forum settings. Nil means unchanged.
type ForumEdit struct {
	Name                 *string
	Location             *string
	Description          *string
	ExternalLink         *string
	InviteCode           *string
	RegenerateInviteCode bool
	Featured             *model.Featured
}

// MemberView is one roster entry.
type MemberView struct {
	UserID   uuid.UUID  `json:"user_id"`
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	Role     model.Role `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// ForumDetails is the aggregated forum view. HiddenBooks and HiddenCount are
// set only for admins.
type ForumDetails struct {
	Forum       model.Forum   `json:"forum"`
	MemberCount int           `json:"member_count"`
	BookCount   int           `json:"book_count"`
	Members     []MemberView  `json:"members"`
	Books       []model.Book  `json:"books"`
	HiddenCount *int          `json:"hidden_count,omitempty"`
	HiddenBooks *[]model.Book `json:"hidden_books,omitempty"`
}

// MemberDetails is one member's profile as seen from inside a forum.
type MemberDetails struct {
	Member MemberView   `json:"member"`
	Books  []model.Book `json:"books"`
}

// ForumService implements forum membership, roles, the hidden set and the
// aggregated view. Every forum with members keeps at least one admin.
type ForumService interface {
	CreateForum(ctx context.Context, callerID uuid.UUID, in CreateForumInput) (*model.Forum, error)
	GetForumDetails(ctx context.Context, callerID, forumID uuid.UUID) (*ForumDetails, error)
	EditForumDetails(ctx context.Context, callerID, forumID uuid.UUID, in ForumEdit) (*model.Forum, error)
	JoinForum(ctx context.Context, callerID uuid.UUID, inviteCode string) (uuid.UUID, error)
	LeaveForum(ctx context.Context, callerID, forumID uuid.UUID) error
	DeleteForum(ctx context.Context, callerID, forumID uuid.UUID) error
	GetMemberDetails(ctx context.Context, callerID, forumID, memberID uuid.UUID) (*MemberDetails, error)
	MakeAdmin(ctx context.Context, callerID, forumID, targetID uuid.UUID) error
	RemoveUser(ctx context.Context, callerID, forumID, targetID uuid.UUID) error
	HideBook(ctx context.Context, callerID, forumID, bookID uuid.UUID) error
	UnhideBook(ctx context.Context, callerID, forumID, bookID uuid.UUID) error
}

type forumService struct {
	store  repository.Transactor
	logger zerolog.Logger
}

// NewForumService creates a new forum service.
func NewForumService(store repository.Transactor, logger zerolog.Logger) ForumService {
	return &forumService{store: store, logger: logger}
}

func newInviteCode() (string, error) {
	return gonanoid.Generate(inviteAlphabet, inviteCodeLength)
}

// lockForum loads and locks the forum row. Membership changes take this lock
// first so role checks see committed state.
func lockForum(ctx context.Context, repos repository.Repositories, forumID uuid.UUID) (*model.Forum, error) {
	forum, err := repos.Forums.FindByIDForUpdate(ctx, forumID)
	if err != nil {
		return nil, notFoundOr(err, "forum not found")
	}
	return forum, nil
}

// membership returns the caller's edge, or nil when they are not a member.
func membership(ctx context.Context, repos repository.Repositories, forumID, userID uuid.UUID) (*model.ForumMember, error) {
	m, err := repos.Memberships.Find(ctx, forumID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return m, err
}

func requireAdmin(ctx context.Context, repos repository.Repositories, forumID, callerID uuid.UUID) error {
	m, err := membership(ctx, repos, forumID, callerID)
	if err != nil {
		return err
	}
	if m == nil || m.Role != model.RoleAdmin {
		return apperrors.Permission("admin privileges required")
	}
	return nil
}

func (s *forumService) CreateForum(ctx context.Context, callerID uuid.UUID, in CreateForumInput) (*model.Forum, error) {
	name := strings.TrimSpace(in.Name)
	location := strings.TrimSpace(in.Location)
	if name == "" || location == "" {
		return nil, finish("create_forum", apperrors.Validation("name and location are required"))
	}

	var forum *model.Forum
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := loadCaller(ctx, repos, callerID, false); err != nil {
			return err
		}

		code, err := newInviteCode()
		if err != nil {
			return err
		}
		forum = &model.Forum{
			Name:        name,
			Location:    location,
			Description: strings.TrimSpace(in.Description),
			InviteCode:  code,
		}
		if err := repos.Forums.Create(ctx, forum); err != nil {
			return err
		}
		return repos.Memberships.Add(ctx, forum.ID, callerID, model.RoleAdmin)
	})
	if err != nil {
		return nil, finish("create_forum", err)
	}
	return forum, finish("create_forum", nil)
}

// GetForumDetails returns the roster and the union of members' books minus the
// hidden set. Only admins see which books are hidden.
func (s *forumService) GetForumDetails(ctx context.Context, callerID, forumID uuid.UUID) (*ForumDetails, error) {
	var details *ForumDetails
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		forum, err := repos.Forums.FindByID(ctx, forumID)
		if err != nil {
			return notFoundOr(err, "forum not found")
		}
		caller, err := membership(ctx, repos, forumID, callerID)
		if err != nil {
			return err
		}
		if caller == nil {
			return apperrors.Permission("you are not a member of this forum")
		}

		roster, err := repos.Memberships.ListByForum(ctx, forumID)
		if err != nil {
			return err
		}
		members, err := memberViews(ctx, repos, roster)
		if err != nil {
			return err
		}
		visible, hiddenOwned, err := forumBooks(ctx, repos, forumID, memberIDs(roster))
		if err != nil {
			return err
		}

		details = &ForumDetails{
			Forum:       *forum,
			MemberCount: len(roster),
			BookCount:   len(visible),
			Members:     members,
			Books:       visible,
		}

		if caller.Role == model.RoleAdmin {
			hiddenIDs, err := repos.Forums.ListHiddenBookIDs(ctx, forumID)
			if err != nil {
				return err
			}
			hidden, err := repos.Books.ListByIDs(ctx, hiddenIDs)
			if err != nil {
				return err
			}
			details.HiddenCount = &hiddenOwned
			details.HiddenBooks = &hidden
		}
		return nil
	})
	if err != nil {
		return nil, finish("get_forum_details", err)
	}
	return details, finish("get_forum_details", nil)
}

func (s *forumService) EditForumDetails(ctx context.Context, callerID, forumID uuid.UUID, in ForumEdit) (*model.Forum, error) {
	in.Name = trimOptional(in.Name)
	in.Location = trimOptional(in.Location)
	in.Description = trimOptional(in.Description)
	in.ExternalLink = trimOptional(in.ExternalLink)
	in.InviteCode = trimOptional(in.InviteCode)

	if in.Name == nil && in.Location == nil && in.Description == nil && in.ExternalLink == nil &&
		in.InviteCode == nil && !in.RegenerateInviteCode && in.Featured == nil {
		return nil, finish("edit_forum_details", apperrors.Validation("at least one field must be provided"))
	}
	if (in.Name != nil && *in.Name == "") || (in.Location != nil && *in.Location == "") {
		return nil, finish("edit_forum_details", apperrors.Validation("name and location cannot be empty"))
	}
	if in.InviteCode != nil && *in.InviteCode == "" {
		return nil, finish("edit_forum_details", apperrors.Validation("invite code cannot be empty"))
	}
	if in.InviteCode != nil && in.RegenerateInviteCode {
		return nil, finish("edit_forum_details", apperrors.Validation("set an invite code or regenerate it, not both"))
	}

	var forum *model.Forum
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		forum, err = lockForum(ctx, repos, forumID)
		if err != nil {
			return err
		}
		if err := requireAdmin(ctx, repos, forumID, callerID); err != nil {
			return err
		}

		if in.Name != nil {
			forum.Name = *in.Name
		}
		if in.Location != nil {
			forum.Location = *in.Location
		}
		if in.Description != nil {
			forum.Description = *in.Description
		}
		if in.ExternalLink != nil {
			forum.ExternalLink = *in.ExternalLink
		}
		if in.Featured != nil {
			forum.Featured = model.Featured{
				Book:  strings.TrimSpace(in.Featured.Book),
				Quote: strings.TrimSpace(in.Featured.Quote),
			}
		}

		switch {
		case in.InviteCode != nil && *in.InviteCode != forum.InviteCode:
			taken, err := repos.Forums.InviteCodeTaken(ctx, *in.InviteCode, forumID)
			if err != nil {
				return err
			}
			if taken {
				return apperrors.Conflict("invite code already in use")
			}
			forum.InviteCode = *in.InviteCode
		case in.RegenerateInviteCode:
			code, err := newInviteCode()
			if err != nil {
				return err
			}
			forum.InviteCode = code
		}

		return repos.Forums.Update(ctx, forum)
	})
	if err != nil {
		return nil, finish("edit_forum_details", err)
	}
	return forum, finish("edit_forum_details", nil)
}

// JoinForum adds the caller as a plain member of the forum the code belongs to.
func (s *forumService) JoinForum(ctx context.Context, callerID uuid.UUID, inviteCode string) (uuid.UUID, error) {
	inviteCode = strings.TrimSpace(inviteCode)
	if inviteCode == "" {
		return uuid.Nil, finish("join_forum", apperrors.Validation("invite code is required"))
	}

	var forumID uuid.UUID
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := loadCaller(ctx, repos, callerID, false); err != nil {
			return err
		}
		forum, err := repos.Forums.FindByInviteCode(ctx, inviteCode)
		if err != nil {
			return notFoundOr(err, "invalid invite code")
		}
		forumID = forum.ID

		existing, err := membership(ctx, repos, forum.ID, callerID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperrors.Conflict("you are already a member of this forum")
		}
		return repos.Memberships.Add(ctx, forum.ID, callerID, model.RoleMember)
	})
	if err != nil {
		return uuid.Nil, finish("join_forum", err)
	}
	return forumID, finish("join_forum", nil)
}

// LeaveForum removes the caller from a forum. The last admin cannot leave.
func (s *forumService) LeaveForum(ctx context.Context, callerID, forumID uuid.UUID) error {
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := lockForum(ctx, repos, forumID); err != nil {
			return err
		}
		caller, err := membership(ctx, repos, forumID, callerID)
		if err != nil {
			return err
		}
		if caller == nil {
			return apperrors.Conflict("you are not a member of this forum")
		}

		if caller.Role == model.RoleAdmin {
			roster, err := repos.Memberships.ListByForumForUpdate(ctx, forumID)
			if err != nil {
				return err
			}
			if countAdmins(roster) == 1 {
				return apperrors.Invariant("you are the last admin; promote another admin or delete the forum")
			}
		}

		_, err = repos.Memberships.Remove(ctx, forumID, callerID)
		return err
	})
	return finish("leave_forum", err)
}

// DeleteForum removes every membership edge, the hidden set and the forum.
func (s *forumService) DeleteForum(ctx context.Context, callerID, forumID uuid.UUID) error {
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := lockForum(ctx, repos, forumID); err != nil {
			return err
		}
		if err := requireAdmin(ctx, repos, forumID, callerID); err != nil {
			return err
		}

		former, err := repos.Memberships.RemoveAllForForum(ctx, forumID)
		if err != nil {
			return err
		}
		if err := repos.Forums.Delete(ctx, forumID); err != nil {
			return err
		}
		s.logger.Info().
			Str("forum_id", forumID.String()).
			Int("members", len(former)).
			Msg("forum deleted")
		return nil
	})
	return finish("delete_forum", err)
}

func (s *forumService) GetMemberDetails(ctx context.Context, callerID, forumID, memberID uuid.UUID) (*MemberDetails, error) {
	var details *MemberDetails
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := repos.Forums.FindByID(ctx, forumID); err != nil {
			return notFoundOr(err, "forum not found")
		}
		caller, err := membership(ctx, repos, forumID, callerID)
		if err != nil {
			return err
		}
		if caller == nil {
			return apperrors.Permission("you must be a member to view member details")
		}
		target, err := membership(ctx, repos, forumID, memberID)
		if err != nil {
			return err
		}
		if target == nil {
			return apperrors.NotFound("member not found in this forum")
		}

		views, err := memberViews(ctx, repos, []model.ForumMember{*target})
		if err != nil {
			return err
		}
		books, _, err := forumBooks(ctx, repos, forumID, []uuid.UUID{memberID})
		if err != nil {
			return err
		}
		details = &MemberDetails{Member: views[0], Books: books}
		return nil
	})
	if err != nil {
		return nil, finish("get_member_details", err)
	}
	return details, finish("get_member_details", nil)
}

// MakeAdmin promotes a member. Promotion is idempotent and never demotes.
func (s *forumService) MakeAdmin(ctx context.Context, callerID, forumID, targetID uuid.UUID) error {
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := lockForum(ctx, repos, forumID); err != nil {
			return err
		}
		if err := requireAdmin(ctx, repos, forumID, callerID); err != nil {
			return err
		}
		target, err := membership(ctx, repos, forumID, targetID)
		if err != nil {
			return err
		}
		if target == nil {
			return apperrors.Conflict("user is not a member of this forum")
		}
		if target.Role == model.RoleAdmin {
			return nil
		}
		return repos.Memberships.SetRole(ctx, forumID, targetID, model.RoleAdmin)
	})
	return finish("make_admin", err)
}

// RemoveUser removes another member. Admins leave through LeaveForum.
func (s *forumService) RemoveUser(ctx context.Context, callerID, forumID, targetID uuid.UUID) error {
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := lockForum(ctx, repos, forumID); err != nil {
			return err
		}
		if err := requireAdmin(ctx, repos, forumID, callerID); err != nil {
			return err
		}
		if targetID == callerID {
			return apperrors.Permission("admins cannot remove themselves; leave the forum instead")
		}
		removed, err := repos.Memberships.Remove(ctx, forumID, targetID)
		if err != nil {
			return err
		}
		if !removed {
			return apperrors.Conflict("user is not a member of this forum")
		}
		return nil
	})
	return finish("remove_user", err)
}

func (s *forumService) HideBook(ctx context.Context, callerID, forumID, bookID uuid.UUID) error {
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := lockForum(ctx, repos, forumID); err != nil {
			return err
		}
		if err := requireAdmin(ctx, repos, forumID, callerID); err != nil {
			return err
		}
		if _, err := repos.Books.FindByID(ctx, bookID); err != nil {
			return notFoundOr(err, "book not found")
		}
		hidden, err := repos.Forums.IsHidden(ctx, forumID, bookID)
		if err != nil {
			return err
		}
		if hidden {
			return apperrors.Conflict("book is already hidden")
		}
		return repos.Forums.Hide(ctx, forumID, bookID)
	})
	return finish("hide_book", err)
}

func (s *forumService) UnhideBook(ctx context.Context, callerID, forumID, bookID uuid.UUID) error {
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := lockForum(ctx, repos, forumID); err != nil {
			return err
		}
		if err := requireAdmin(ctx, repos, forumID, callerID); err != nil {
			return err
		}
		removed, err := repos.Forums.Unhide(ctx, forumID, bookID)
		if err != nil {
			return err
		}
		if !removed {
			return apperrors.Conflict("book is not hidden")
		}
		return nil
	})
	return finish("unhide_book", err)
}

func countAdmins(roster []model.ForumMember) int {
	n := 0
	for _, m := range roster {
		if m.Role == model.RoleAdmin {
			n++
		}
	}
	return n
}

func memberIDs(roster []model.ForumMember) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(roster))
	for _, m := range roster {
		ids = append(ids, m.UserID)
	}
	return ids
}

// memberViews joins roster entries with account names, keeping roster order.
func memberViews(ctx context.Context, repos repository.Repositories, roster []model.ForumMember) ([]MemberView, error) {
	users, err := repos.Users.ListByIDs(ctx, memberIDs(roster))
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	views := make([]MemberView, 0, len(roster))
	for _, m := range roster {
		u, ok := byID[m.UserID]
		if !ok {
			return nil, repository.ErrMirrorDiverged
		}
		views = append(views, MemberView{
			UserID:   m.UserID,
			Name:     u.Name,
			Email:    u.Email,
			Role:     m.Role,
			JoinedAt: m.JoinedAt,
		})
	}
	return views, nil
}

// forumBooks returns the distinct books owned by userIDs that the forum does not
// hide, sorted by title, plus how many distinct owned books are hidden.
func forumBooks(ctx context.Context, repos repository.Repositories, forumID uuid.UUID, userIDs []uuid.UUID) ([]model.Book, int, error) {
	owned, err := repos.Users.ListOwnedBooksByUsers(ctx, userIDs)
	if err != nil {
		return nil, 0, err
	}
	hiddenIDs, err := repos.Forums.ListHiddenBookIDs(ctx, forumID)
	if err != nil {
		return nil, 0, err
	}
	hidden := make(map[uuid.UUID]struct{}, len(hiddenIDs))
	for _, id := range hiddenIDs {
		hidden[id] = struct{}{}
	}

	seen := make(map[uuid.UUID]struct{}, len(owned))
	books := make([]model.Book, 0, len(owned))
	hiddenOwned := 0
	for _, o := range owned {
		if _, dup := seen[o.BookID]; dup {
			continue
		}
		seen[o.BookID] = struct{}{}
		if _, ok := hidden[o.BookID]; ok {
			hiddenOwned++
			continue
		}
		books = append(books, o.Book)
	}

	sort.SliceStable(books, func(i, j int) bool {
		return books[i].Title < books[j].Title
	})
	return books, hiddenOwned, nil
}
