package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"shelfshare/internal/db"
	"shelfshare/internal/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	gdb, err := db.Open("sqlite", dsn)
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func seedUserAndForum(t *testing.T, repos Repositories) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	user := &model.User{Name: "ana", Email: uuid.NewString() + "@example.com", PasswordHash: "x"}
	require.NoError(t, repos.Users.Create(ctx, user))
	forum := &model.Forum{Name: "Readers", Location: "Lisbon", InviteCode: uuid.NewString()}
	require.NoError(t, repos.Forums.Create(ctx, forum))
	return user.ID, forum.ID
}

func TestMembershipRepository_WritesBothSides(t *testing.T) {
	ctx := context.Background()
	gdb := setupTestDB(t)
	repos := NewStore(gdb).Repositories()
	userID, forumID := seedUserAndForum(t, repos)

	require.NoError(t, repos.Memberships.Add(ctx, forumID, userID, model.RoleMember))

	member, err := repos.Memberships.Find(ctx, forumID, userID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleMember, member.Role)

	joined, err := repos.Memberships.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, joined, 1)
	assert.Equal(t, forumID, joined[0].ForumID)
	assert.Equal(t, member.JoinedAt.Unix(), joined[0].JoinedAt.Unix())

	require.NoError(t, repos.Memberships.SetRole(ctx, forumID, userID, model.RoleAdmin))
	joined, err = repos.Memberships.ListByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, joined[0].Role)

	removed, err := repos.Memberships.Remove(ctx, forumID, userID)
	require.NoError(t, err)
	assert.True(t, removed)

	var left int64
	require.NoError(t, gdb.Model(&model.UserForum{}).Count(&left).Error)
	assert.Zero(t, left)

	removed, err = repos.Memberships.Remove(ctx, forumID, userID)
	require.NoError(t, err)
	assert.False(t, removed)

	err = repos.Memberships.SetRole(ctx, forumID, userID, model.RoleAdmin)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestMembershipRepository_LockingListsInsideTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	userID, forumID := seedUserAndForum(t, store.Repositories())
	require.NoError(t, store.Repositories().Memberships.Add(ctx, forumID, userID, model.RoleAdmin))

	err := store.WithTransaction(ctx, func(ctx context.Context, repos Repositories) error {
		roster, err := repos.Memberships.ListByForumForUpdate(ctx, forumID)
		require.NoError(t, err)
		require.Len(t, roster, 1)
		assert.Equal(t, userID, roster[0].UserID)

		joined, err := repos.Memberships.ListByUserForUpdate(ctx, userID)
		require.NoError(t, err)
		require.Len(t, joined, 1)
		assert.Equal(t, model.RoleAdmin, joined[0].Role)
		return nil
	})
	require.NoError(t, err)
}

func TestMembershipRepository_DuplicateEdge(t *testing.T) {
	ctx := context.Background()
	repos := NewStore(setupTestDB(t)).Repositories()
	userID, forumID := seedUserAndForum(t, repos)

	require.NoError(t, repos.Memberships.Add(ctx, forumID, userID, model.RoleMember))
	err := repos.Memberships.Add(ctx, forumID, userID, model.RoleMember)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestMembershipRepository_DetectsDivergence(t *testing.T) {
	ctx := context.Background()
	gdb := setupTestDB(t)
	repos := NewStore(gdb).Repositories()
	userID, forumID := seedUserAndForum(t, repos)
	require.NoError(t, repos.Memberships.Add(ctx, forumID, userID, model.RoleMember))

	// Break the mirror behind the repository's back.
	require.NoError(t, gdb.Where("user_id = ?", userID).Delete(&model.UserForum{}).Error)

	err := repos.Memberships.SetRole(ctx, forumID, userID, model.RoleAdmin)
	assert.ErrorIs(t, err, ErrMirrorDiverged)
	_, err = repos.Memberships.RemoveAllForUser(ctx, userID)
	assert.ErrorIs(t, err, ErrMirrorDiverged)
}

func TestMembershipRepository_RemoveAll(t *testing.T) {
	ctx := context.Background()
	repos := NewStore(setupTestDB(t)).Repositories()
	ana, forumA := seedUserAndForum(t, repos)
	ben, forumB := seedUserAndForum(t, repos)

	require.NoError(t, repos.Memberships.Add(ctx, forumA, ana, model.RoleAdmin))
	require.NoError(t, repos.Memberships.Add(ctx, forumA, ben, model.RoleMember))
	require.NoError(t, repos.Memberships.Add(ctx, forumB, ben, model.RoleAdmin))

	former, err := repos.Memberships.RemoveAllForForum(ctx, forumA)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{ana, ben}, former)

	left, err := repos.Memberships.RemoveAllForUser(ctx, ben)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{forumB}, left)

	roster, err := repos.Memberships.ListByForum(ctx, forumB)
	require.NoError(t, err)
	assert.Empty(t, roster)
}

func TestStore_WithTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	gdb := setupTestDB(t)
	store := NewStore(gdb)
	userID, forumID := seedUserAndForum(t, store.Repositories())

	boom := errors.New("boom")
	calls := 0
	err := store.WithTransaction(ctx, func(ctx context.Context, repos Repositories) error {
		calls++
		if err := repos.Memberships.Add(ctx, forumID, userID, model.RoleAdmin); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "non-retryable errors are not retried")

	_, err = store.Repositories().Memberships.Find(ctx, forumID, userID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestStore_WithTransactionRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	retried := 0
	store := NewStore(setupTestDB(t), WithMaxRetries(3), WithRetryHook(func(error) { retried++ }))

	calls := 0
	err := store.WithTransaction(ctx, func(ctx context.Context, repos Repositories) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retried)

	calls = 0
	err = store.WithTransaction(ctx, func(ctx context.Context, repos Repositories) error {
		calls++
		return gorm.ErrDuplicatedKey
	})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	assert.Equal(t, 4, calls, "one attempt plus three retries")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("nope"), false},
		{"not found", gorm.ErrRecordNotFound, false},
		{"duplicate key", fmt.Errorf("wrapped: %w", gorm.ErrDuplicatedKey), true},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, true},
		{"mysql syntax", &mysql.MySQLError{Number: 1064}, false},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"pg check violation", &pgconn.PgError{Code: "23514"}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestBookRepository_IdentityKeyUnique(t *testing.T) {
	ctx := context.Background()
	repos := NewStore(setupTestDB(t)).Repositories()

	first := &model.Book{Title: "Dune", Author: "Herbert", IdentityKey: "key-dune-herbert"}
	require.NoError(t, repos.Books.Create(ctx, first))

	err := repos.Books.Create(ctx, &model.Book{Title: "DUNE", Author: "herbert", IdentityKey: "key-dune-herbert"})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	found, err := repos.Books.FindByIdentityKey(ctx, "key-dune-herbert")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestUserRepository_ReplaceOwnedBook(t *testing.T) {
	ctx := context.Background()
	repos := NewStore(setupTestDB(t)).Repositories()
	userID, _ := seedUserAndForum(t, repos)

	oldBook := &model.Book{Title: "Dnue", Author: "Herbert", IdentityKey: "key-dnue-herbert"}
	newBook := &model.Book{Title: "Dune", Author: "Herbert", IdentityKey: "key-dune-herbert"}
	require.NoError(t, repos.Books.Create(ctx, oldBook))
	require.NoError(t, repos.Books.Create(ctx, newBook))
	require.NoError(t, repos.Users.AddOwnedBook(ctx, userID, oldBook.ID))

	require.NoError(t, repos.Users.ReplaceOwnedBook(ctx, userID, oldBook.ID, newBook.ID))
	books, err := repos.Users.ListOwnedBooks(ctx, userID)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, newBook.ID, books[0].ID)

	// Owning both collapses to one reference.
	require.NoError(t, repos.Users.AddOwnedBook(ctx, userID, oldBook.ID))
	require.NoError(t, repos.Users.ReplaceOwnedBook(ctx, userID, oldBook.ID, newBook.ID))
	books, err = repos.Users.ListOwnedBooks(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, books, 1)
}
