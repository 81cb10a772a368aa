package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shelfshare/internal/model"
)

// ErrMirrorDiverged is returned when the forum side and the user side of a
// membership edge disagree. It always aborts the surrounding transaction.
var ErrMirrorDiverged = errors.New("membership mirror diverged")

// MembershipRepository treats a membership as one edge: every write touches
// forum_members and user_forums together. Nothing else writes either table.
type MembershipRepository interface {
	Add(ctx context.Context, forumID, userID uuid.UUID, role model.Role) error
	SetRole(ctx context.Context, forumID, userID uuid.UUID, role model.Role) error
	Remove(ctx context.Context, forumID, userID uuid.UUID) (bool, error)
	RemoveAllForForum(ctx context.Context, forumID uuid.UUID) ([]uuid.UUID, error)
	RemoveAllForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	Find(ctx context.Context, forumID, userID uuid.UUID) (*model.ForumMember, error)
	ListByForum(ctx context.Context, forumID uuid.UUID) ([]model.ForumMember, error)
	ListByForumForUpdate(ctx context.Context, forumID uuid.UUID) ([]model.ForumMember, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.UserForum, error)
	ListByUserForUpdate(ctx context.Context, userID uuid.UUID) ([]model.UserForum, error)
}

type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository creates a new membership repository.
func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) Add(ctx context.Context, forumID, userID uuid.UUID, role model.Role) error {
	now := time.Now().UTC()
	db := r.db.WithContext(ctx)
	if err := db.Create(&model.ForumMember{
		ForumID:  forumID,
		UserID:   userID,
		Role:     role,
		JoinedAt: now,
	}).Error; err != nil {
		return fmt.Errorf("add forum member: %w", err)
	}
	if err := db.Create(&model.UserForum{
		UserID:   userID,
		ForumID:  forumID,
		Role:     role,
		JoinedAt: now,
	}).Error; err != nil {
		return fmt.Errorf("add joined forum: %w", err)
	}
	return nil
}

func (r *membershipRepository) SetRole(ctx context.Context, forumID, userID uuid.UUID, role model.Role) error {
	db := r.db.WithContext(ctx)
	forumSide := db.Model(&model.ForumMember{}).
		Where("forum_id = ? AND user_id = ?", forumID, userID).
		Update("role", role)
	if forumSide.Error != nil {
		return fmt.Errorf("set member role: %w", forumSide.Error)
	}
	userSide := db.Model(&model.UserForum{}).
		Where("user_id = ? AND forum_id = ?", userID, forumID).
		Update("role", role)
	if userSide.Error != nil {
		return fmt.Errorf("set joined forum role: %w", userSide.Error)
	}
	if forumSide.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	if userSide.RowsAffected != forumSide.RowsAffected {
		return fmt.Errorf("set role %s/%s: %w", forumID, userID, ErrMirrorDiverged)
	}
	return nil
}

// Remove deletes one edge. It reports false when no edge existed.
func (r *membershipRepository) Remove(ctx context.Context, forumID, userID uuid.UUID) (bool, error) {
	db := r.db.WithContext(ctx)
	forumSide := db.Where("forum_id = ? AND user_id = ?", forumID, userID).Delete(&model.ForumMember{})
	if forumSide.Error != nil {
		return false, fmt.Errorf("remove forum member: %w", forumSide.Error)
	}
	userSide := db.Where("user_id = ? AND forum_id = ?", userID, forumID).Delete(&model.UserForum{})
	if userSide.Error != nil {
		return false, fmt.Errorf("remove joined forum: %w", userSide.Error)
	}
	if userSide.RowsAffected != forumSide.RowsAffected {
		return false, fmt.Errorf("remove %s/%s: %w", forumID, userID, ErrMirrorDiverged)
	}
	return forumSide.RowsAffected > 0, nil
}

// RemoveAllForForum deletes every edge of a forum and returns the former members.
func (r *membershipRepository) RemoveAllForForum(ctx context.Context, forumID uuid.UUID) ([]uuid.UUID, error) {
	db := r.db.WithContext(ctx)
	var userIDs []uuid.UUID
	if err := db.Model(&model.ForumMember{}).Where("forum_id = ?", forumID).
		Pluck("user_id", &userIDs).Error; err != nil {
		return nil, fmt.Errorf("list forum members: %w", err)
	}
	forumSide := db.Where("forum_id = ?", forumID).Delete(&model.ForumMember{})
	if forumSide.Error != nil {
		return nil, fmt.Errorf("remove forum members: %w", forumSide.Error)
	}
	userSide := db.Where("forum_id = ?", forumID).Delete(&model.UserForum{})
	if userSide.Error != nil {
		return nil, fmt.Errorf("remove joined forums: %w", userSide.Error)
	}
	if userSide.RowsAffected != forumSide.RowsAffected {
		return nil, fmt.Errorf("remove forum %s: %w", forumID, ErrMirrorDiverged)
	}
	return userIDs, nil
}

// RemoveAllForUser deletes every edge of a user and returns the forums left.
func (r *membershipRepository) RemoveAllForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	db := r.db.WithContext(ctx)
	var forumIDs []uuid.UUID
	if err := db.Model(&model.ForumMember{}).Where("user_id = ?", userID).
		Pluck("forum_id", &forumIDs).Error; err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	forumSide := db.Where("user_id = ?", userID).Delete(&model.ForumMember{})
	if forumSide.Error != nil {
		return nil, fmt.Errorf("remove forum members: %w", forumSide.Error)
	}
	userSide := db.Where("user_id = ?", userID).Delete(&model.UserForum{})
	if userSide.Error != nil {
		return nil, fmt.Errorf("remove joined forums: %w", userSide.Error)
	}
	if userSide.RowsAffected != forumSide.RowsAffected {
		return nil, fmt.Errorf("remove user %s: %w", userID, ErrMirrorDiverged)
	}
	return forumIDs, nil
}

func (r *membershipRepository) Find(ctx context.Context, forumID, userID uuid.UUID) (*model.ForumMember, error) {
	var member model.ForumMember
	if err := r.db.WithContext(ctx).
		Where("forum_id = ? AND user_id = ?", forumID, userID).
		First(&member).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

// ListByForum returns the roster in join order.
func (r *membershipRepository) ListByForum(ctx context.Context, forumID uuid.UUID) ([]model.ForumMember, error) {
	return r.listByForum(r.db.WithContext(ctx), forumID)
}

// ListByForumForUpdate returns the roster in join order and locks its rows.
// A locking read sees the latest committed rows even under REPEATABLE READ,
// where plain reads keep the transaction's first snapshot.
func (r *membershipRepository) ListByForumForUpdate(ctx context.Context, forumID uuid.UUID) ([]model.ForumMember, error) {
	return r.listByForum(r.db.WithContext(ctx).Clauses(forUpdate), forumID)
}

func (r *membershipRepository) listByForum(db *gorm.DB, forumID uuid.UUID) ([]model.ForumMember, error) {
	var members []model.ForumMember
	if err := db.Where("forum_id = ?", forumID).
		Order("joined_at ASC").Order("user_id ASC").
		Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// ListByUser returns the user's mirrored memberships in join order.
func (r *membershipRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.UserForum, error) {
	return r.listByUser(r.db.WithContext(ctx), userID)
}

// ListByUserForUpdate returns the user's memberships and locks them, so roles
// cannot change under the caller until the transaction ends.
func (r *membershipRepository) ListByUserForUpdate(ctx context.Context, userID uuid.UUID) ([]model.UserForum, error) {
	return r.listByUser(r.db.WithContext(ctx).Clauses(forUpdate), userID)
}

func (r *membershipRepository) listByUser(db *gorm.DB, userID uuid.UUID) ([]model.UserForum, error) {
	var forums []model.UserForum
	if err := db.Where("user_id = ?", userID).
		Order("joined_at ASC").Order("forum_id ASC").
		Find(&forums).Error; err != nil {
		return nil, err
	}
	return forums, nil
}
