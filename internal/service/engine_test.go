package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"shelfshare/internal/db"
	"shelfshare/internal/model"
	"shelfshare/internal/repository"
)

// engine bundles the services over one in-memory database.
type engine struct {
	db       *gorm.DB
	store    *repository.Store
	catalog  CatalogService
	forums   ForumService
	accounts AccountService
}

func newEngine(t *testing.T) *engine {
	return newEngineWithPicker(t, EarliestJoinedSuccessor{})
}

func newEngineWithPicker(t *testing.T, picker SuccessorPicker) *engine {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	gdb, err := db.Open("sqlite", dsn)
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	store := repository.NewStore(gdb, repository.WithMaxRetries(3))
	return newEngineOn(gdb, store, store, picker)
}

func newEngineOn(gdb *gorm.DB, store *repository.Store, tx repository.Transactor, picker SuccessorPicker) *engine {
	logger := zerolog.Nop()
	return &engine{
		db:       gdb,
		store:    store,
		catalog:  NewCatalogService(tx, nil, logger),
		forums:   NewForumService(tx, logger),
		accounts: NewAccountService(tx, testHasher(), picker, nil, logger),
	}
}

func (e *engine) newUser(t *testing.T, name string) uuid.UUID {
	t.Helper()
	user := &model.User{
		Name:         name,
		Email:        name + "@example.com",
		PasswordHash: hashed(t, "password123"),
	}
	require.NoError(t, e.store.Repositories().Users.Create(context.Background(), user))
	return user.ID
}

func (e *engine) role(t *testing.T, forumID, userID uuid.UUID) model.Role {
	t.Helper()
	m, err := e.store.Repositories().Memberships.Find(context.Background(), forumID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ""
	}
	require.NoError(t, err)
	return m.Role
}

// assertConsistent checks the standing invariants over the whole database:
// both membership tables hold the same edges and every non-empty forum has an admin.
func (e *engine) assertConsistent(t *testing.T) {
	t.Helper()

	var forumSide []model.ForumMember
	require.NoError(t, e.db.Order("forum_id, user_id").Find(&forumSide).Error)
	var userSide []model.UserForum
	require.NoError(t, e.db.Order("forum_id, user_id").Find(&userSide).Error)

	edge := func(f, u uuid.UUID, r model.Role) string { return f.String() + "/" + u.String() + "/" + string(r) }
	var left, right []string
	for _, m := range forumSide {
		left = append(left, edge(m.ForumID, m.UserID, m.Role))
	}
	for _, m := range userSide {
		right = append(right, edge(m.ForumID, m.UserID, m.Role))
	}
	sort.Strings(left)
	sort.Strings(right)
	assert.Equal(t, left, right, "membership mirror diverged")

	members := map[uuid.UUID]int{}
	admins := map[uuid.UUID]int{}
	for _, m := range forumSide {
		members[m.ForumID]++
		if m.Role == model.RoleAdmin {
			admins[m.ForumID]++
		}
	}
	for forumID, n := range members {
		if n > 0 {
			assert.Positive(t, admins[forumID], "forum %s has members but no admin", forumID)
		}
	}

	var dangling int64
	require.NoError(t, e.db.Model(&model.OwnedBook{}).
		Where("book_id NOT IN (?)", e.db.Model(&model.Book{}).Select("id")).
		Count(&dangling).Error)
	assert.Zero(t, dangling, "owned reference to a missing book")
}

func ptr[T any](v T) *T { return &v }

// faultyTransactor runs transactions on a real store but swaps in a membership
// repository that fails on chosen operations.
type faultyTransactor struct {
	inner  repository.Transactor
	failOn string
}

func (f *faultyTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	return f.inner.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		repos.Memberships = &faultyMemberships{MembershipRepository: repos.Memberships, failOn: f.failOn}
		return fn(ctx, repos)
	})
}

var errInjected = errors.New("injected store failure")

type faultyMemberships struct {
	repository.MembershipRepository
	failOn string
}

func (f *faultyMemberships) RemoveAllForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	if f.failOn == "RemoveAllForUser" {
		return nil, errInjected
	}
	return f.MembershipRepository.RemoveAllForUser(ctx, userID)
}

func (f *faultyMemberships) Add(ctx context.Context, forumID, userID uuid.UUID, role model.Role) error {
	if f.failOn == "Add" {
		return errInjected
	}
	return f.MembershipRepository.Add(ctx, forumID, userID, role)
}

// recordingTransactor notes every roster read made through the membership
// repository, so tests can check which reads were locking ones.
type recordingTransactor struct {
	inner repository.Transactor
	mu    sync.Mutex
	reads []string
}

func (r *recordingTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	return r.inner.WithTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		repos.Memberships = &recordingMemberships{MembershipRepository: repos.Memberships, owner: r}
		return fn(ctx, repos)
	})
}

func (r *recordingTransactor) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, name)
}

type recordingMemberships struct {
	repository.MembershipRepository
	owner *recordingTransactor
}

func (m *recordingMemberships) ListByForum(ctx context.Context, forumID uuid.UUID) ([]model.ForumMember, error) {
	m.owner.record("ListByForum")
	return m.MembershipRepository.ListByForum(ctx, forumID)
}

func (m *recordingMemberships) ListByForumForUpdate(ctx context.Context, forumID uuid.UUID) ([]model.ForumMember, error) {
	m.owner.record("ListByForumForUpdate")
	return m.MembershipRepository.ListByForumForUpdate(ctx, forumID)
}

func (m *recordingMemberships) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.UserForum, error) {
	m.owner.record("ListByUser")
	return m.MembershipRepository.ListByUser(ctx, userID)
}

func (m *recordingMemberships) ListByUserForUpdate(ctx context.Context, userID uuid.UUID) ([]model.UserForum, error) {
	m.owner.record("ListByUserForUpdate")
	return m.MembershipRepository.ListByUserForUpdate(ctx, userID)
}
