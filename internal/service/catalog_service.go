package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"shelfshare/internal/cache"
	apperrors "shelfshare/internal/errors"
	"shelfshare/internal/model"
	"shelfshare/internal/observability"
	"shelfshare/internal/repository"
)

// BookInput carries the fields of a book being added to a collection.
type BookInput struct {
	Title  string
	Author string
	Genre  string
}

// BookEdit carries the optional fields of a book edit. Nil means unchanged.
type BookEdit struct {
	Title  *string
	Author *string
	Genre  *string
}

// EditBookResult reports where the caller's reference ended up.
type EditBookResult struct {
	BookID uuid.UUID `json:"book_id"`
	Merged bool      `json:"merged"`
}

// CatalogService maintains the shared catalog and each user's owned set.
type CatalogService interface {
	AddOwnedBook(ctx context.Context, callerID uuid.UUID, in BookInput) (*model.Book, error)
	EditBook(ctx context.Context, callerID, bookID uuid.UUID, in BookEdit) (*EditBookResult, error)
	RemoveOwnedBook(ctx context.Context, callerID, bookID uuid.UUID) error
	GetOwnBooks(ctx context.Context, callerID uuid.UUID) ([]model.Book, error)
}

type catalogService struct {
	store  repository.Transactor
	cache  *cache.Client
	logger zerolog.Logger
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(store repository.Transactor, cache *cache.Client, logger zerolog.Logger) CatalogService {
	return &catalogService{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// AddOwnedBook reuses the catalog item matching the normalized title and author
// or creates one, then adds it to the caller's owned set. Adding a book the
// caller already owns is a no-op.
func (s *catalogService) AddOwnedBook(ctx context.Context, callerID uuid.UUID, in BookInput) (*model.Book, error) {
	title := strings.TrimSpace(in.Title)
	author := strings.TrimSpace(in.Author)
	if title == "" || author == "" {
		return nil, finish("add_owned_book", apperrors.Validation("title and author are required"))
	}
	if err := checkBookText("title", title); err != nil {
		return nil, finish("add_owned_book", err)
	}
	if err := checkBookText("author", author); err != nil {
		return nil, finish("add_owned_book", err)
	}
	key := IdentityKey(title, author)

	var book *model.Book
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := loadCaller(ctx, repos, callerID, true); err != nil {
			return err
		}

		existing, err := repos.Books.FindByIdentityKey(ctx, key)
		switch {
		case err == nil:
			book = existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			book = &model.Book{
				Title:       title,
				Author:      author,
				Genre:       strings.TrimSpace(in.Genre),
				IdentityKey: key,
			}
			// A concurrent creator of the same key makes this fail on the
			// unique index; the transaction is re-run and finds its row.
			if err := repos.Books.Create(ctx, book); err != nil {
				return err
			}
		default:
			return err
		}

		owns, err := repos.Users.OwnsBook(ctx, callerID, book.ID)
		if err != nil {
			return err
		}
		if owns {
			return nil
		}
		return repos.Users.AddOwnedBook(ctx, callerID, book.ID)
	})
	if err != nil {
		return nil, finish("add_owned_book", err)
	}

	invalidateOwnBooks(ctx, s.cache, callerID)
	return book, finish("add_owned_book", nil)
}

// EditBook edits a book the caller owns. When the new title and author match a
// different catalog item, the caller's reference moves to that item instead,
// its genre is backfilled if missing, and the old item is deleted once nobody
// else owns it.
func (s *catalogService) EditBook(ctx context.Context, callerID, bookID uuid.UUID, in BookEdit) (*EditBookResult, error) {
	in.Title = trimOptional(in.Title)
	in.Author = trimOptional(in.Author)
	in.Genre = trimOptional(in.Genre)

	if in.Title == nil && in.Author == nil && in.Genre == nil {
		return nil, finish("edit_book", apperrors.Validation("at least one of title, author or genre must be provided"))
	}
	if (in.Title != nil && *in.Title == "") || (in.Author != nil && *in.Author == "") {
		return nil, finish("edit_book", apperrors.Validation("title and author cannot be empty"))
	}
	if in.Title != nil {
		if err := checkBookText("title", *in.Title); err != nil {
			return nil, finish("edit_book", err)
		}
	}
	if in.Author != nil {
		if err := checkBookText("author", *in.Author); err != nil {
			return nil, finish("edit_book", err)
		}
	}

	var (
		result   *EditBookResult
		affected []uuid.UUID
	)
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		result = nil
		affected = nil

		if _, err := loadCaller(ctx, repos, callerID, true); err != nil {
			return err
		}

		book, err := repos.Books.FindByIDForUpdate(ctx, bookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.Permission("you do not own this book")
			}
			return err
		}
		owns, err := repos.Users.OwnsBook(ctx, callerID, bookID)
		if err != nil {
			return err
		}
		if !owns {
			return apperrors.Permission("you do not own this book")
		}

		title, author := book.Title, book.Author
		if in.Title != nil {
			title = *in.Title
		}
		if in.Author != nil {
			author = *in.Author
		}
		key := IdentityKey(title, author)

		if key != book.IdentityKey {
			target, err := repos.Books.FindByIdentityKey(ctx, key)
			if err == nil && target.ID != book.ID {
				affected, err = s.merge(ctx, repos, callerID, book, target, in.Genre)
				if err != nil {
					return err
				}
				result = &EditBookResult{BookID: target.ID, Merged: true}
				return nil
			}
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		book.Title = title
		book.Author = author
		book.IdentityKey = key
		if in.Genre != nil {
			book.Genre = *in.Genre
		}
		if err := repos.Books.Update(ctx, book); err != nil {
			return err
		}
		affected, err = repos.Users.ListOwnerIDs(ctx, book.ID)
		if err != nil {
			return err
		}
		result = &EditBookResult{BookID: book.ID}
		return nil
	})
	if err != nil {
		return nil, finish("edit_book", err)
	}

	if result.Merged {
		observability.RecordBookMerge()
		s.logger.Info().
			Str("user_id", callerID.String()).
			Str("from_book_id", bookID.String()).
			Str("to_book_id", result.BookID.String()).
			Msg("book merged into existing catalog item")
	}
	invalidateOwnBooks(ctx, s.cache, affected...)
	return result, finish("edit_book", nil)
}

// merge moves the caller's reference from book to target and returns every
// user whose owned list changed.
func (s *catalogService) merge(ctx context.Context, repos repository.Repositories, callerID uuid.UUID, book, target *model.Book, genre *string) ([]uuid.UUID, error) {
	if err := repos.Users.ReplaceOwnedBook(ctx, callerID, book.ID, target.ID); err != nil {
		return nil, err
	}

	if target.Genre == "" && genre != nil && *genre != "" {
		target.Genre = *genre
		if err := repos.Books.Update(ctx, target); err != nil {
			return nil, err
		}
	}

	others, err := repos.Users.ListOtherOwnerIDsForUpdate(ctx, book.ID, callerID)
	if err != nil {
		return nil, err
	}
	if len(others) == 0 {
		if err := repos.Books.Delete(ctx, book.ID); err != nil {
			return nil, err
		}
	}

	return repos.Users.ListOwnerIDs(ctx, target.ID)
}

// RemoveOwnedBook drops the caller's reference. The catalog item is kept.
func (s *catalogService) RemoveOwnedBook(ctx context.Context, callerID, bookID uuid.UUID) error {
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := loadCaller(ctx, repos, callerID, true); err != nil {
			return err
		}
		removed, err := repos.Users.RemoveOwnedBook(ctx, callerID, bookID)
		if err != nil {
			return err
		}
		if !removed {
			return apperrors.NotFound("book not found in your collection")
		}
		return nil
	})
	if err != nil {
		return finish("remove_owned_book", err)
	}

	invalidateOwnBooks(ctx, s.cache, callerID)
	return finish("remove_owned_book", nil)
}

// GetOwnBooks lists the caller's books sorted by title.
func (s *catalogService) GetOwnBooks(ctx context.Context, callerID uuid.UUID) ([]model.Book, error) {
	if data, _ := s.cache.Get(ctx, ownBooksCacheKey(callerID)); data != nil {
		var cached []model.Book
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	var books []model.Book
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := loadCaller(ctx, repos, callerID, false); err != nil {
			return err
		}
		var err error
		books, err = repos.Users.ListOwnedBooks(ctx, callerID)
		return err
	})
	if err != nil {
		return nil, finish("get_own_books", err)
	}

	if payload, err := json.Marshal(books); err == nil {
		_ = s.cache.Set(ctx, ownBooksCacheKey(callerID), payload, ownBooksCacheTTL)
	}
	return books, finish("get_own_books", nil)
}
