package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestJWTServiceRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret")
	userID := uuid.New()

	accessID, access, err := svc.GenerateAccessToken(userID, "ana@example.com")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(access, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, accessID, claims.ID)
	assert.Equal(t, "ana@example.com", claims.Email)
	assert.InDelta(t, AccessTokenExpiry.Seconds(), svc.Remaining(claims).Seconds(), 5)
}

func TestJWTServiceRejectsWrongType(t *testing.T) {
	svc := NewJWTService("test-secret")
	_, refresh, err := svc.GenerateRefreshToken(uuid.New(), "ana@example.com")
	require.NoError(t, err)

	_, err = svc.ValidateToken(refresh, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken(refresh, TokenTypeRefresh)
	assert.NoError(t, err)
}

func TestJWTServiceRejectsForeignSignature(t *testing.T) {
	_, token, err := NewJWTService("one").GenerateAccessToken(uuid.New(), "a@b.c")
	require.NoError(t, err)

	_, err = NewJWTService("two").ValidateToken(token, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTServiceRejectsExpired(t *testing.T) {
	svc := NewJWTService("test-secret")
	_, token, err := svc.GenerateAccessToken(uuid.New(), "a@b.c")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(AccessTokenExpiry + time.Minute) }
	_, err = svc.ValidateToken(token, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBcryptHasher(t *testing.T) {
	h := &BcryptHasher{Cost: bcrypt.MinCost}

	hash, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NoError(t, h.Compare(hash, "correct horse"))
	assert.Error(t, h.Compare(hash, "wrong horse"))
}

func TestTokenStoreWithoutRedisFailsSafe(t *testing.T) {
	store := NewTokenStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, store.StoreRefreshToken(ctx, "id", uuid.New(), time.Minute))
	_, err := store.GetRefreshToken(ctx, "id")
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)

	blacklisted, err := store.IsAccessTokenBlacklisted(ctx, "id")
	require.NoError(t, err)
	assert.False(t, blacklisted)
}
