package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shelfshare/internal/cache"
	apperrors "shelfshare/internal/errors"
	"shelfshare/internal/model"
	"shelfshare/internal/observability"
	"shelfshare/internal/repository"
)

const ownBooksCacheTTL = 5 * time.Minute

func ownBooksCacheKey(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:books", userID)
}

// invalidateOwnBooks drops cached owned-book lists. Called only after commit.
func invalidateOwnBooks(ctx context.Context, c *cache.Client, userIDs ...uuid.UUID) {
	for _, id := range userIDs {
		_ = c.Delete(ctx, ownBooksCacheKey(id))
	}
}

// notFoundOr maps a missing row to a NotFound error carrying msg and anything
// else to an internal error. The store error stays wrapped so retry
// classification still sees it.
func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(msg)
	}
	return apperrors.Internal(err)
}

// classify leaves domain errors untouched and wraps everything else as internal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *apperrors.Error
	if errors.As(err, &e) {
		return err
	}
	return apperrors.Internal(err)
}

// finish classifies err and records the operation outcome.
func finish(operation string, err error) error {
	err = classify(err)
	outcome := "ok"
	if err != nil {
		outcome = string(apperrors.KindOf(err))
	}
	observability.RecordOperation(operation, outcome)
	return err
}

// loadCaller returns the calling account or NotFound.
func loadCaller(ctx context.Context, repos repository.Repositories, callerID uuid.UUID, lock bool) (*model.User, error) {
	var (
		user *model.User
		err  error
	)
	if lock {
		user, err = repos.Users.FindByIDForUpdate(ctx, callerID)
	} else {
		user, err = repos.Users.FindByID(ctx, callerID)
	}
	if err != nil {
		return nil, notFoundOr(err, "user not found")
	}
	return user, nil
}
