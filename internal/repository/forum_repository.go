package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shelfshare/internal/model"
)

// ForumRepository defines forum and hidden-set persistence operations.
// Membership rows live in MembershipRepository.
type ForumRepository interface {
	Create(ctx context.Context, forum *model.Forum) error
	Update(ctx context.Context, forum *model.Forum) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Forum, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Forum, error)
	FindByInviteCode(ctx context.Context, code string) (*model.Forum, error)
	InviteCodeTaken(ctx context.Context, code string, excludeID uuid.UUID) (bool, error)
	// Hidden set
	IsHidden(ctx context.Context, forumID, bookID uuid.UUID) (bool, error)
	Hide(ctx context.Context, forumID, bookID uuid.UUID) error
	Unhide(ctx context.Context, forumID, bookID uuid.UUID) (bool, error)
	ListHiddenBookIDs(ctx context.Context, forumID uuid.UUID) ([]uuid.UUID, error)
}

type forumRepository struct {
	db *gorm.DB
}

// NewForumRepository creates a new forum repository.
func NewForumRepository(db *gorm.DB) ForumRepository {
	return &forumRepository{db: db}
}

func (r *forumRepository) Create(ctx context.Context, forum *model.Forum) error {
	return r.db.WithContext(ctx).Omit("Members", "HiddenBooks").Create(forum).Error
}

func (r *forumRepository) Update(ctx context.Context, forum *model.Forum) error {
	return r.db.WithContext(ctx).Model(forum).
		Select("name", "location", "description", "external_link", "invite_code",
			"featured_book", "featured_quote", "updated_at").
		Updates(forum).Error
}

// Delete removes the forum and its hidden set. Membership edges must already be gone.
func (r *forumRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("forum_id = ?", id).Delete(&model.HiddenBook{}).Error; err != nil {
		return fmt.Errorf("delete hidden set: %w", err)
	}
	res := db.Where("id = ?", id).Delete(&model.Forum{})
	if res.Error != nil {
		return fmt.Errorf("delete forum: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *forumRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Forum, error) {
	var forum model.Forum
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&forum).Error; err != nil {
		return nil, err
	}
	return &forum, nil
}

// FindByIDForUpdate finds a forum by ID with a row-level lock. Every membership
// change takes this lock first so role checks see committed state.
func (r *forumRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Forum, error) {
	var forum model.Forum
	if err := r.db.WithContext(ctx).Clauses(forUpdate).
		Where("id = ?", id).First(&forum).Error; err != nil {
		return nil, err
	}
	return &forum, nil
}

// FindByInviteCode finds a forum by invite code with a row-level lock.
func (r *forumRepository) FindByInviteCode(ctx context.Context, code string) (*model.Forum, error) {
	var forum model.Forum
	if err := r.db.WithContext(ctx).Clauses(forUpdate).
		Where("invite_code = ?", code).First(&forum).Error; err != nil {
		return nil, err
	}
	return &forum, nil
}

func (r *forumRepository) InviteCodeTaken(ctx context.Context, code string, excludeID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Forum{}).
		Where("invite_code = ? AND id <> ?", code, excludeID).
		Count(&count).Error
	return count > 0, err
}

func (r *forumRepository) IsHidden(ctx context.Context, forumID, bookID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.HiddenBook{}).
		Where("forum_id = ? AND book_id = ?", forumID, bookID).
		Count(&count).Error
	return count > 0, err
}

func (r *forumRepository) Hide(ctx context.Context, forumID, bookID uuid.UUID) error {
	return r.db.WithContext(ctx).Create(&model.HiddenBook{
		ForumID:  forumID,
		BookID:   bookID,
		HiddenAt: time.Now().UTC(),
	}).Error
}

func (r *forumRepository) Unhide(ctx context.Context, forumID, bookID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("forum_id = ? AND book_id = ?", forumID, bookID).
		Delete(&model.HiddenBook{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *forumRepository) ListHiddenBookIDs(ctx context.Context, forumID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.HiddenBook{}).
		Where("forum_id = ?", forumID).
		Order("hidden_at ASC").
		Pluck("book_id", &ids).Error
	return ids, err
}
