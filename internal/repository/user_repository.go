package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shelfshare/internal/model"
)

// UserRepository defines account and owned-set persistence operations.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	Update(ctx context.Context, user *model.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	EmailTaken(ctx context.Context, email string, excludeID uuid.UUID) (bool, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.User, error)
	// Owned set
	ListOwnedBooks(ctx context.Context, userID uuid.UUID) ([]model.Book, error)
	ListOwnedBooksByUsers(ctx context.Context, userIDs []uuid.UUID) ([]model.OwnedBook, error)
	OwnsBook(ctx context.Context, userID, bookID uuid.UUID) (bool, error)
	AddOwnedBook(ctx context.Context, userID, bookID uuid.UUID) error
	RemoveOwnedBook(ctx context.Context, userID, bookID uuid.UUID) (bool, error)
	ReplaceOwnedBook(ctx context.Context, userID, oldBookID, newBookID uuid.UUID) error
	ListOwnerIDs(ctx context.Context, bookID uuid.UUID) ([]uuid.UUID, error)
	ListOtherOwnerIDsForUpdate(ctx context.Context, bookID, excludeUserID uuid.UUID) ([]uuid.UUID, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository builds a GORM-backed repository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) Update(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Model(user).
		Select("name", "email", "password_hash", "updated_at").
		Updates(user).Error
}

// Delete removes the account and its owned set. Membership edges must already be gone.
func (r *userRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("user_id = ?", id).Delete(&model.OwnedBook{}).Error; err != nil {
		return fmt.Errorf("delete owned books: %w", err)
	}
	res := db.Where("id = ?", id).Delete(&model.User{})
	if res.Error != nil {
		return fmt.Errorf("delete user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByIDForUpdate finds a user by ID with a row-level lock.
func (r *userRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Clauses(forUpdate).
		Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) EmailTaken(ctx context.Context, email string, excludeID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Where("email = ? AND id <> ?", email, excludeID).
		Count(&count).Error
	return count > 0, err
}

func (r *userRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.User, error) {
	var users []model.User
	if len(ids) == 0 {
		return users, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// ListOwnedBooks returns the user's books sorted by title.
func (r *userRepository) ListOwnedBooks(ctx context.Context, userID uuid.UUID) ([]model.Book, error) {
	var books []model.Book
	err := r.db.WithContext(ctx).Model(&model.Book{}).
		Joins("JOIN owned_books ON owned_books.book_id = books.id").
		Where("owned_books.user_id = ?", userID).
		Order("books.title ASC").Order("books.id ASC").
		Find(&books).Error
	if err != nil {
		return nil, err
	}
	return books, nil
}

// ListOwnedBooksByUsers returns owned-set entries for several users with the book loaded,
// in insertion order per user.
func (r *userRepository) ListOwnedBooksByUsers(ctx context.Context, userIDs []uuid.UUID) ([]model.OwnedBook, error) {
	var owned []model.OwnedBook
	if len(userIDs) == 0 {
		return owned, nil
	}
	err := r.db.WithContext(ctx).Preload("Book").
		Where("user_id IN ?", userIDs).
		Order("added_at ASC").Order("book_id ASC").
		Find(&owned).Error
	if err != nil {
		return nil, err
	}
	return owned, nil
}

func (r *userRepository) OwnsBook(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.OwnedBook{}).
		Where("user_id = ? AND book_id = ?", userID, bookID).
		Count(&count).Error
	return count > 0, err
}

func (r *userRepository) AddOwnedBook(ctx context.Context, userID, bookID uuid.UUID) error {
	return r.db.WithContext(ctx).Create(&model.OwnedBook{
		UserID:  userID,
		BookID:  bookID,
		AddedAt: time.Now().UTC(),
	}).Error
}

func (r *userRepository) RemoveOwnedBook(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND book_id = ?", userID, bookID).
		Delete(&model.OwnedBook{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReplaceOwnedBook points the user's reference to oldBookID at newBookID, keeping its
// position. If the user already owns newBookID the old reference is dropped instead.
func (r *userRepository) ReplaceOwnedBook(ctx context.Context, userID, oldBookID, newBookID uuid.UUID) error {
	owns, err := r.OwnsBook(ctx, userID, newBookID)
	if err != nil {
		return fmt.Errorf("check target ownership: %w", err)
	}
	db := r.db.WithContext(ctx).Model(&model.OwnedBook{}).
		Where("user_id = ? AND book_id = ?", userID, oldBookID)
	if owns {
		return db.Delete(&model.OwnedBook{}).Error
	}
	return db.Update("book_id", newBookID).Error
}

func (r *userRepository) ListOwnerIDs(ctx context.Context, bookID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.OwnedBook{}).
		Where("book_id = ?", bookID).
		Pluck("user_id", &ids).Error
	return ids, err
}

// ListOtherOwnerIDsForUpdate locks and returns every owner of bookID except excludeUserID.
func (r *userRepository) ListOtherOwnerIDsForUpdate(ctx context.Context, bookID, excludeUserID uuid.UUID) ([]uuid.UUID, error) {
	var owned []model.OwnedBook
	err := r.db.WithContext(ctx).Clauses(forUpdate).
		Where("book_id = ? AND user_id <> ?", bookID, excludeUserID).
		Find(&owned).Error
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(owned))
	for _, o := range owned {
		ids = append(ids, o.UserID)
	}
	return ids, nil
}
