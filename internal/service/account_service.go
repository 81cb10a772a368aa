package service

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shelfshare/internal/cache"
	apperrors "shelfshare/internal/errors"
	"shelfshare/internal/model"
	"shelfshare/internal/observability"
	"shelfshare/internal/repository"
)

// MinPasswordLength applies to registration and password changes.
const MinPasswordLength = 8

// PasswordHasher hashes and verifies account secrets.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// ProfileForum summarizes one joined forum on the owner's profile.
type ProfileForum struct {
	ForumID          uuid.UUID  `json:"forum_id"`
	Name             string     `json:"name"`
	Location         string     `json:"location"`
	Role             model.Role `json:"role"`
	MemberCount      int        `json:"member_count"`
	MembersBookCount int        `json:"members_book_count"`
}

// Profile is the caller's own account view.
type Profile struct {
	ID     uuid.UUID      `json:"id"`
	Name   string         `json:"name"`
	Email  string         `json:"email"`
	Forums []ProfileForum `json:"forums"`
}

// ProfileEdit carries optional profile changes. Nil means unchanged.
type ProfileEdit struct {
	Name            *string
	Email           *string
	CurrentPassword *string
	NewPassword     *string
}

// AccountService manages the caller's own account.
type AccountService interface {
	GetOwnProfile(ctx context.Context, callerID uuid.UUID) (*Profile, error)
	EditOwnProfile(ctx context.Context, callerID uuid.UUID, in ProfileEdit) (*model.User, error)
	DeleteAccount(ctx context.Context, callerID uuid.UUID) error
}

type accountService struct {
	store  repository.Transactor
	hasher PasswordHasher
	picker SuccessorPicker
	cache  *cache.Client
	logger zerolog.Logger
}

// NewAccountService creates a new account service.
func NewAccountService(
	store repository.Transactor,
	hasher PasswordHasher,
	picker SuccessorPicker,
	cache *cache.Client,
	logger zerolog.Logger,
) AccountService {
	if picker == nil {
		picker = RandomSuccessor{}
	}
	return &accountService{
		store:  store,
		hasher: hasher,
		picker: picker,
		cache:  cache,
		logger: logger,
	}
}

// GetOwnProfile returns the account with a summary of every joined forum,
// read from the user side of the membership edge.
func (s *accountService) GetOwnProfile(ctx context.Context, callerID uuid.UUID) (*Profile, error) {
	var profile *Profile
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		user, err := loadCaller(ctx, repos, callerID, false)
		if err != nil {
			return err
		}
		joined, err := repos.Memberships.ListByUser(ctx, callerID)
		if err != nil {
			return err
		}

		profile = &Profile{
			ID:     user.ID,
			Name:   user.Name,
			Email:  user.Email,
			Forums: make([]ProfileForum, 0, len(joined)),
		}
		for _, j := range joined {
			forum, err := repos.Forums.FindByID(ctx, j.ForumID)
			if err != nil {
				return err
			}
			roster, err := repos.Memberships.ListByForum(ctx, j.ForumID)
			if err != nil {
				return err
			}
			books, _, err := forumBooks(ctx, repos, j.ForumID, memberIDs(roster))
			if err != nil {
				return err
			}
			profile.Forums = append(profile.Forums, ProfileForum{
				ForumID:          forum.ID,
				Name:             forum.Name,
				Location:         forum.Location,
				Role:             j.Role,
				MemberCount:      len(roster),
				MembersBookCount: len(books),
			})
		}
		return nil
	})
	if err != nil {
		return nil, finish("get_own_profile", err)
	}
	return profile, finish("get_own_profile", nil)
}

func (s *accountService) EditOwnProfile(ctx context.Context, callerID uuid.UUID, in ProfileEdit) (*model.User, error) {
	in.Name = trimOptional(in.Name)
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		in.Email = &email
	}

	if in.Name == nil && in.Email == nil && in.NewPassword == nil {
		return nil, finish("edit_own_profile", apperrors.Validation("at least one field must be provided"))
	}
	if in.Name != nil && *in.Name == "" {
		return nil, finish("edit_own_profile", apperrors.Validation("name cannot be empty"))
	}
	if in.Email != nil && *in.Email == "" {
		return nil, finish("edit_own_profile", apperrors.Validation("email cannot be empty"))
	}
	if in.NewPassword != nil {
		if in.CurrentPassword == nil || *in.CurrentPassword == "" {
			return nil, finish("edit_own_profile", apperrors.Validation("current password is required to set a new password"))
		}
		if len(*in.NewPassword) < MinPasswordLength {
			return nil, finish("edit_own_profile", apperrors.ValidationWithDetails("password too short", map[string]string{
				"new_password": "must be at least 8 characters",
			}))
		}
	}

	var user *model.User
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		user, err = loadCaller(ctx, repos, callerID, true)
		if err != nil {
			return err
		}

		if in.Name != nil {
			user.Name = *in.Name
		}
		if in.Email != nil && *in.Email != user.Email {
			taken, err := repos.Users.EmailTaken(ctx, *in.Email, callerID)
			if err != nil {
				return err
			}
			if taken {
				return apperrors.Conflict("email already in use")
			}
			user.Email = *in.Email
		}
		if in.NewPassword != nil {
			if err := s.hasher.Compare(user.PasswordHash, *in.CurrentPassword); err != nil {
				return apperrors.Permission("current password is incorrect")
			}
			hash, err := s.hasher.Hash(*in.NewPassword)
			if err != nil {
				return err
			}
			user.PasswordHash = hash
		}

		return repos.Users.Update(ctx, user)
	})
	if err != nil {
		return nil, finish("edit_own_profile", err)
	}
	return user, finish("edit_own_profile", nil)
}

// succession records one promotion decided during account deletion.
type succession struct {
	forumID     uuid.UUID
	successorID uuid.UUID
}

// DeleteAccount removes the caller. In every forum where the caller is an admin
// and other members remain, the picker chooses one of them, who is promoted
// before the caller's membership is removed. Forums the caller was alone in are
// left empty.
func (s *accountService) DeleteAccount(ctx context.Context, callerID uuid.UUID) error {
	var promoted []succession
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		promoted = nil

		if _, err := loadCaller(ctx, repos, callerID, true); err != nil {
			return err
		}
		// Every read below is a locking read. Plain reads under REPEATABLE READ
		// would keep the snapshot of the first one and miss a co-admin who left
		// while this transaction waited for a forum lock.
		joined, err := repos.Memberships.ListByUserForUpdate(ctx, callerID)
		if err != nil {
			return err
		}
		adminOf := make([]uuid.UUID, 0, len(joined))
		for _, j := range joined {
			if j.Role == model.RoleAdmin {
				adminOf = append(adminOf, j.ForumID)
			}
		}
		sort.Slice(adminOf, func(i, k int) bool { return adminOf[i].String() < adminOf[k].String() })

		for _, forumID := range adminOf {
			if _, err := lockForum(ctx, repos, forumID); err != nil {
				return err
			}
			roster, err := repos.Memberships.ListByForumForUpdate(ctx, forumID)
			if err != nil {
				return err
			}

			others := make([]model.ForumMember, 0, len(roster))
			for _, m := range roster {
				if m.UserID != callerID {
					others = append(others, m)
				}
			}
			if len(others) == 0 {
				continue
			}

			successor := s.picker.Pick(others)
			if successor.Role == model.RoleAdmin {
				continue
			}
			if err := repos.Memberships.SetRole(ctx, forumID, successor.UserID, model.RoleAdmin); err != nil {
				return err
			}
			promoted = append(promoted, succession{forumID: forumID, successorID: successor.UserID})
		}

		if _, err := repos.Memberships.RemoveAllForUser(ctx, callerID); err != nil {
			return err
		}
		return repos.Users.Delete(ctx, callerID)
	})
	if err != nil {
		return finish("delete_account", err)
	}

	for _, p := range promoted {
		observability.RecordSuccession(s.picker.Name())
		s.logger.Info().
			Str("forum_id", p.forumID.String()).
			Str("successor_id", p.successorID.String()).
			Str("policy", s.picker.Name()).
			Msg("admin succession")
	}
	invalidateOwnBooks(ctx, s.cache, callerID)
	return finish("delete_account", nil)
}
