//go:build integration
// +build integration

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"shelfshare/internal/db"
	apperrors "shelfshare/internal/errors"
	"shelfshare/internal/model"
	"shelfshare/internal/repository"
)

// containerDrivers start a throwaway database per test and return its DSN.
// MySQL runs at its default REPEATABLE READ isolation.
var containerDrivers = map[string]func(t *testing.T) string{
	"postgres": startPostgres,
	"mysql":    startMySQL,
}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("shelfshare"),
		postgres.WithUsername("shelfshare"),
		postgres.WithPassword("shelfshare"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func startMySQL(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := mysql.Run(ctx,
		"mysql:8.0",
		mysql.WithDatabase("shelfshare"),
		mysql.WithUsername("shelfshare"),
		mysql.WithPassword("shelfshare"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})
	dsn, err := container.ConnectionString(ctx, "charset=utf8mb4", "parseTime=True", "loc=UTC")
	require.NoError(t, err)
	return dsn
}

// newContainerEngine runs the services over a real connection pool, so row
// locks, snapshots and unique indexes race for real.
func newContainerEngine(t *testing.T, driver string) *engine {
	t.Helper()
	gdb, err := db.Open(driver, containerDrivers[driver](t))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	store := repository.NewStore(gdb, repository.WithMaxRetries(10))
	return newEngineOn(gdb, store, store, EarliestJoinedSuccessor{})
}

func forEachDriver(t *testing.T, run func(t *testing.T, e *engine)) {
	for driver := range containerDrivers {
		t.Run(driver, func(t *testing.T) {
			run(t, newContainerEngine(t, driver))
		})
	}
}

// coAdminForum creates a forum where a and b are admins and c is a plain
// member, joined in that order.
func coAdminForum(t *testing.T, e *engine) (forumID, a, b, c uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	a = e.newUser(t, uuid.NewString()[:8])
	b = e.newUser(t, uuid.NewString()[:8])
	c = e.newUser(t, uuid.NewString()[:8])
	forum, err := e.forums.CreateForum(ctx, a, CreateForumInput{Name: "Race", Location: "Porto"})
	require.NoError(t, err)
	for _, u := range []uuid.UUID{b, c} {
		_, err := e.forums.JoinForum(ctx, u, forum.InviteCode)
		require.NoError(t, err)
	}
	require.NoError(t, e.forums.MakeAdmin(ctx, a, forum.ID, b))
	return forum.ID, a, b, c
}

func assertForumHasAdmin(t *testing.T, e *engine, forumID uuid.UUID) {
	t.Helper()
	roster, err := e.store.Repositories().Memberships.ListByForum(context.Background(), forumID)
	require.NoError(t, err)
	require.NotEmpty(t, roster)
	assert.Positive(t, countAdmins(roster), "forum %s lost its last admin", forumID)
}

func TestContainerCoAdminsDeleteAccountsConcurrently(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		for round := 0; round < 5; round++ {
			forumID, a, b, c := coAdminForum(t, e)

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i, u := range []uuid.UUID{a, b} {
				wg.Add(1)
				go func(i int, u uuid.UUID) {
					defer wg.Done()
					errs[i] = e.accounts.DeleteAccount(ctx, u)
				}(i, u)
			}
			wg.Wait()
			require.NoError(t, errs[0])
			require.NoError(t, errs[1])

			assert.Equal(t, model.RoleAdmin, e.role(t, forumID, c), "round %d: the remaining member inherits the forum", round)
			assertForumHasAdmin(t, e, forumID)
		}
		e.assertConsistent(t)
	})
}

func TestContainerDeleteAccountRacesLeaveForum(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		for round := 0; round < 5; round++ {
			forumID, a, b, _ := coAdminForum(t, e)

			var wg sync.WaitGroup
			var deleteErr, leaveErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				deleteErr = e.accounts.DeleteAccount(ctx, a)
			}()
			go func() {
				defer wg.Done()
				leaveErr = e.forums.LeaveForum(ctx, b, forumID)
			}()
			wg.Wait()

			require.NoError(t, deleteErr)
			if leaveErr != nil {
				assert.ErrorIs(t, leaveErr, apperrors.ErrInvariant, "round %d", round)
			}
			assertForumHasAdmin(t, e, forumID)
		}
		e.assertConsistent(t)
	})
}

func TestContainerAdminsRaceToLeave(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()

		const admins = 6
		creator := e.newUser(t, "creator")
		forum, err := e.forums.CreateForum(ctx, creator, CreateForumInput{Name: "Race", Location: "Porto"})
		require.NoError(t, err)

		leavers := []uuid.UUID{creator}
		for i := 1; i < admins; i++ {
			u := e.newUser(t, uuid.NewString()[:8])
			_, err := e.forums.JoinForum(ctx, u, forum.InviteCode)
			require.NoError(t, err)
			require.NoError(t, e.forums.MakeAdmin(ctx, creator, forum.ID, u))
			leavers = append(leavers, u)
		}
		plain := e.newUser(t, "plain")
		_, err = e.forums.JoinForum(ctx, plain, forum.InviteCode)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, len(leavers))
		for i, u := range leavers {
			wg.Add(1)
			go func(i int, u uuid.UUID) {
				defer wg.Done()
				errs[i] = e.forums.LeaveForum(ctx, u, forum.ID)
			}(i, u)
		}
		wg.Wait()

		refused := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, apperrors.ErrInvariant)
				refused++
			}
		}
		assert.Equal(t, 1, refused, "the last admin standing is refused")
		e.assertConsistent(t)
	})
}

func TestContainerConcurrentAddsShareOneBook(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()

		const owners = 8
		ids := make([]uuid.UUID, owners)
		for i := range ids {
			ids[i] = e.newUser(t, uuid.NewString()[:8])
		}

		var wg sync.WaitGroup
		errs := make([]error, owners)
		for i, u := range ids {
			wg.Add(1)
			go func(i int, u uuid.UUID) {
				defer wg.Done()
				_, errs[i] = e.catalog.AddOwnedBook(ctx, u, BookInput{Title: "  Dune ", Author: "Frank HERBERT"})
			}(i, u)
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		var books int64
		require.NoError(t, e.db.Model(&model.Book{}).Count(&books).Error)
		assert.EqualValues(t, 1, books)
		var owned int64
		require.NoError(t, e.db.Model(&model.OwnedBook{}).Count(&owned).Error)
		assert.EqualValues(t, owners, owned)
		e.assertConsistent(t)
	})
}
