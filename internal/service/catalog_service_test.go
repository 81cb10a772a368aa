package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "shelfshare/internal/errors"
	"shelfshare/internal/model"
)

func countBooks(t *testing.T, e *engine) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Book{}).Count(&n).Error)
	return n
}

func TestAddOwnedBook(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ana := e.newUser(t, "ana")

	book, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: "  Dune ", Author: "Frank Herbert", Genre: "sci-fi"})
	require.NoError(t, err)
	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, "Frank Herbert", book.Author)
	assert.Equal(t, "sci-fi", book.Genre)

	t.Run("same normalized book is idempotent", func(t *testing.T) {
		again, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: "dune", Author: " FRANK   herbert"})
		require.NoError(t, err)
		assert.Equal(t, book.ID, again.ID)
		assert.Equal(t, "Dune", again.Title, "stored case is kept")

		books, err := e.catalog.GetOwnBooks(ctx, ana)
		require.NoError(t, err)
		assert.Len(t, books, 1)
		assert.EqualValues(t, 1, countBooks(t, e))
	})

	t.Run("second owner reuses the catalog item", func(t *testing.T) {
		ben := e.newUser(t, "ben")
		got, err := e.catalog.AddOwnedBook(ctx, ben, BookInput{Title: "DUNE", Author: "frank herbert"})
		require.NoError(t, err)
		assert.Equal(t, book.ID, got.ID)
		assert.EqualValues(t, 1, countBooks(t, e))
	})

	t.Run("empty fields", func(t *testing.T) {
		_, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: "   ", Author: "x"})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("control characters rejected", func(t *testing.T) {
		_, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: "A\x1fB", Author: "C"})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		_, err = e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: "A", Author: "B\x1fC"})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		assert.EqualValues(t, 1, countBooks(t, e))
	})

	t.Run("oversized title rejected", func(t *testing.T) {
		_, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: strings.Repeat("\uFDFA", MaxBookFieldLength+1), Author: "x"})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("expanding text at the limit is stored", func(t *testing.T) {
		got, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: strings.Repeat("\uFDFA", MaxBookFieldLength), Author: strings.Repeat("ß", MaxBookFieldLength)})
		require.NoError(t, err)
		assert.Len(t, got.IdentityKey, 64)
	})

	t.Run("unknown caller", func(t *testing.T) {
		_, err := e.catalog.AddOwnedBook(ctx, uuid.New(), BookInput{Title: "a", Author: "b"})
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestAddOwnedBookConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	users := make([]uuid.UUID, 6)
	for i := range users {
		users[i] = e.newUser(t, uuid.NewString()[:8])
	}

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, len(users))
	errs := make([]error, len(users))
	for i, u := range users {
		wg.Add(1)
		go func(i int, u uuid.UUID) {
			defer wg.Done()
			b, err := e.catalog.AddOwnedBook(ctx, u, BookInput{Title: "Solaris", Author: "Lem"})
			errs[i] = err
			if b != nil {
				ids[i] = b.ID
			}
		}(i, u)
	}
	wg.Wait()

	for i := range users {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.EqualValues(t, 1, countBooks(t, e))
	e.assertConsistent(t)
}

func TestEditBookMergesIntoExistingItem(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ana := e.newUser(t, "ana")
	ben := e.newUser(t, "ben")

	dune, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: "Dune", Author: "Herbert"})
	require.NoError(t, err)
	messiah, err := e.catalog.AddOwnedBook(ctx, ben, BookInput{Title: "Dune Messiah", Author: "Frank Herbert"})
	require.NoError(t, err)

	res, err := e.catalog.EditBook(ctx, ben, messiah.ID, BookEdit{
		Title:  ptr(" dune "),
		Author: ptr("herbert "),
		Genre:  ptr("sci-fi"),
	})
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.Equal(t, dune.ID, res.BookID)

	survivor, err := e.store.Repositories().Books.FindByID(ctx, dune.ID)
	require.NoError(t, err)
	assert.Equal(t, "sci-fi", survivor.Genre, "genre backfilled")
	assert.Equal(t, "Dune", survivor.Title)

	_, err = e.store.Repositories().Books.FindByID(ctx, messiah.ID)
	assert.Error(t, err, "pre-edit item deleted")
	assert.EqualValues(t, 1, countBooks(t, e))

	for _, u := range []uuid.UUID{ana, ben} {
		books, err := e.catalog.GetOwnBooks(ctx, u)
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, dune.ID, books[0].ID)
	}
	e.assertConsistent(t)
}

func TestEditBookMergeKeepsGenreAndSharedItem(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ana := e.newUser(t, "ana")
	ben := e.newUser(t, "ben")
	cat := e.newUser(t, "cat")

	target, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: "Dune", Author: "Herbert", Genre: "classic"})
	require.NoError(t, err)
	shared, err := e.catalog.AddOwnedBook(ctx, ben, BookInput{Title: "Dun", Author: "Herbert"})
	require.NoError(t, err)
	_, err = e.catalog.AddOwnedBook(ctx, cat, BookInput{Title: "dun", Author: "herbert"})
	require.NoError(t, err)

	res, err := e.catalog.EditBook(ctx, ben, shared.ID, BookEdit{Title: ptr("Dune"), Genre: ptr("sci-fi")})
	require.NoError(t, err)
	assert.True(t, res.Merged)

	survivor, err := e.store.Repositories().Books.FindByID(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "classic", survivor.Genre, "existing genre is not overwritten")

	kept, err := e.store.Repositories().Books.FindByID(ctx, shared.ID)
	require.NoError(t, err, "item still owned by cat survives")
	assert.Equal(t, "Dun", kept.Title)

	catBooks, err := e.catalog.GetOwnBooks(ctx, cat)
	require.NoError(t, err)
	require.Len(t, catBooks, 1)
	assert.Equal(t, shared.ID, catBooks[0].ID)
	e.assertConsistent(t)
}

func TestEditBookMergeWhenCallerAlreadyOwnsTarget(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ana := e.newUser(t, "ana")

	first, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: "Ubik", Author: "Dick"})
	require.NoError(t, err)
	second, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: "Ubick", Author: "Dick"})
	require.NoError(t, err)

	res, err := e.catalog.EditBook(ctx, ana, second.ID, BookEdit{Title: ptr("UBIK")})
	require.NoError(t, err)
	assert.Equal(t, first.ID, res.BookID)

	books, err := e.catalog.GetOwnBooks(ctx, ana)
	require.NoError(t, err)
	assert.Len(t, books, 1, "no duplicate reference after merge")
	assert.EqualValues(t, 1, countBooks(t, e))
}

func TestEditBookInPlace(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ana := e.newUser(t, "ana")
	ben := e.newUser(t, "ben")

	book, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: "Neuromancer", Author: "Gibson"})
	require.NoError(t, err)
	_, err = e.catalog.AddOwnedBook(ctx, ben, BookInput{Title: "Neuromancer", Author: "Gibson"})
	require.NoError(t, err)

	res, err := e.catalog.EditBook(ctx, ana, book.ID, BookEdit{Author: ptr("William Gibson"), Genre: ptr("cyberpunk")})
	require.NoError(t, err)
	assert.False(t, res.Merged)
	assert.Equal(t, book.ID, res.BookID)

	benBooks, err := e.catalog.GetOwnBooks(ctx, ben)
	require.NoError(t, err)
	require.Len(t, benBooks, 1)
	assert.Equal(t, "William Gibson", benBooks[0].Author)
	assert.Equal(t, "cyberpunk", benBooks[0].Genre)

	again, err := e.catalog.AddOwnedBook(ctx, e.newUser(t, "cat"), BookInput{Title: "neuromancer", Author: "william gibson"})
	require.NoError(t, err)
	assert.Equal(t, book.ID, again.ID, "identity key follows the edit")
}

func TestEditBookErrors(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ana := e.newUser(t, "ana")
	ben := e.newUser(t, "ben")
	book, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: "Kindred", Author: "Butler"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		caller uuid.UUID
		bookID uuid.UUID
		edit   BookEdit
		want   error
	}{
		{"not owner", ben, book.ID, BookEdit{Genre: ptr("x")}, apperrors.ErrPermission},
		{"missing book", ana, uuid.New(), BookEdit{Genre: ptr("x")}, apperrors.ErrPermission},
		{"no fields", ana, book.ID, BookEdit{}, apperrors.ErrValidation},
		{"blank title", ana, book.ID, BookEdit{Title: ptr("  ")}, apperrors.ErrValidation},
		{"control character in author", ana, book.ID, BookEdit{Author: ptr("But\x1fler")}, apperrors.ErrValidation},
		{"unknown caller", uuid.New(), book.ID, BookEdit{Genre: ptr("x")}, apperrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.catalog.EditBook(ctx, tt.caller, tt.bookID, tt.edit)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRemoveOwnedBookKeepsSharedItem(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ana := e.newUser(t, "ana")
	ben := e.newUser(t, "ben")

	book, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: "Piranesi", Author: "Clarke"})
	require.NoError(t, err)
	_, err = e.catalog.AddOwnedBook(ctx, ben, BookInput{Title: "Piranesi", Author: "Clarke"})
	require.NoError(t, err)

	require.NoError(t, e.catalog.RemoveOwnedBook(ctx, ana, book.ID))

	_, err = e.store.Repositories().Books.FindByID(ctx, book.ID)
	assert.NoError(t, err)
	benBooks, err := e.catalog.GetOwnBooks(ctx, ben)
	require.NoError(t, err)
	assert.Len(t, benBooks, 1)

	err = e.catalog.RemoveOwnedBook(ctx, ana, book.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetOwnBooksSortedByTitle(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ana := e.newUser(t, "ana")

	for _, title := range []string{"Zazie", "Austerlitz", "Middlemarch"} {
		_, err := e.catalog.AddOwnedBook(ctx, ana, BookInput{Title: title, Author: "Various"})
		require.NoError(t, err)
	}

	books, err := e.catalog.GetOwnBooks(ctx, ana)
	require.NoError(t, err)
	require.Len(t, books, 3)
	assert.Equal(t, "Austerlitz", books[0].Title)
	assert.Equal(t, "Middlemarch", books[1].Title)
	assert.Equal(t, "Zazie", books[2].Title)

	_, err = e.catalog.GetOwnBooks(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
