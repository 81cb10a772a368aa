package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultMaxRetries = 5

// forUpdate locks selected rows until the surrounding transaction ends.
// Dialects without row locks (sqlite) drop the clause; their writers are serialized anyway.
var forUpdate = clause.Locking{Strength: "UPDATE"}

// Repositories bundles every repository bound to the same transactional scope.
type Repositories struct {
	Users       UserRepository
	Books       BookRepository
	Forums      ForumRepository
	Memberships MembershipRepository
}

// Transactor runs fn inside one atomic scope spanning users, books and forums.
// fn may be invoked more than once when the store reports a retryable conflict,
// so it must not have side effects outside the repositories it is given.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// Store is the gorm-backed Transactor.
type Store struct {
	db         *gorm.DB
	maxRetries uint64
	logger     zerolog.Logger
	onRetry    func(err error)
}

var _ Transactor = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxRetries bounds how many times a conflicting transaction is re-run.
func WithMaxRetries(n int) StoreOption {
	return func(s *Store) {
		if n >= 0 {
			s.maxRetries = uint64(n)
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithRetryHook registers a callback invoked before each retry.
func WithRetryHook(fn func(err error)) StoreOption {
	return func(s *Store) {
		s.onRetry = fn
	}
}

// NewStore creates a new store.
func NewStore(db *gorm.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:         db,
		maxRetries: defaultMaxRetries,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repositories returns repositories bound to the plain connection.
// Use them only for single-statement work; multi-step work goes through WithTransaction.
func (s *Store) Repositories() Repositories {
	return newRepositories(s.db)
}

func newRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Users:       &userRepository{db: db},
		Books:       &bookRepository{db: db},
		Forums:      &forumRepository{db: db},
		Memberships: &membershipRepository{db: db},
	}
}

// WithTransaction executes fn within a database transaction, re-running it from
// scratch when the database reports a deadlock, serialization failure, busy lock
// or a raced unique index. Any error returned by fn rolls the transaction back.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(ctx, newRepositories(tx))
		})
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond

	b := backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx)
	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		s.logger.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying transaction")
		if s.onRetry != nil {
			s.onRetry(err)
		}
	})
}

// IsRetryable reports whether err is a transient conflict that a fresh
// transaction attempt may resolve.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// 1213 deadlock, 1205 lock wait timeout
		return myErr.Number == 1213 || myErr.Number == 1205
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}
