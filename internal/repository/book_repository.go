package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shelfshare/internal/model"
)

// BookRepository defines catalog persistence operations.
type BookRepository interface {
	Create(ctx context.Context, book *model.Book) error
	Update(ctx context.Context, book *model.Book) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Book, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Book, error)
	FindByIdentityKey(ctx context.Context, key string) (*model.Book, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Book, error)
}

type bookRepository struct {
	db *gorm.DB
}

// NewBookRepository creates a new catalog repository.
func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(ctx context.Context, book *model.Book) error {
	return r.db.WithContext(ctx).Create(book).Error
}

func (r *bookRepository) Update(ctx context.Context, book *model.Book) error {
	return r.db.WithContext(ctx).Model(book).
		Select("title", "author", "genre", "identity_key", "updated_at").
		Updates(book).Error
}

// Delete removes a catalog item and every forum's hidden reference to it.
// Owned references must already be gone.
func (r *bookRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("book_id = ?", id).Delete(&model.HiddenBook{}).Error; err != nil {
		return fmt.Errorf("delete hidden refs: %w", err)
	}
	if err := db.Where("id = ?", id).Delete(&model.Book{}).Error; err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

func (r *bookRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	var book model.Book
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

// FindByIDForUpdate finds a catalog item by ID with a row-level lock.
func (r *bookRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	var book model.Book
	if err := r.db.WithContext(ctx).Clauses(forUpdate).
		Where("id = ?", id).First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

// FindByIdentityKey finds the catalog item holding a normalized title/author key, locking it.
func (r *bookRepository) FindByIdentityKey(ctx context.Context, key string) (*model.Book, error) {
	var book model.Book
	if err := r.db.WithContext(ctx).Clauses(forUpdate).
		Where("identity_key = ?", key).First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Book, error) {
	var books []model.Book
	if len(ids) == 0 {
		return books, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).
		Order("title ASC").Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}
