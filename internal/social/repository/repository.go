package repository

import (
	"context"
	"errors"
	"time"

	"famnet-backend/internal/social/domain"
)

// ErrUserNotFound is returned by updates that target a missing user.
var ErrUserNotFound = errors.New("user not found")

// UserRepository is the user-profile store as seen by the notification pipeline.
// Lookups return (nil, nil) when the record does not exist.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	// FindFollowers returns the users following userID, each with Following populated.
	FindFollowers(ctx context.Context, userID string) ([]domain.User, error)
	// UpdatePreferences writes the opt-in flags only; token fields are left untouched.
	UpdatePreferences(ctx context.Context, userID string, prefs domain.NotificationPreferences) error
	// SaveToken assigns the token to userID and removes it from any other user.
	SaveToken(ctx context.Context, userID string, reg domain.TokenRegistration) error
	ClearUserToken(ctx context.Context, userID string) error
	// BulkClearTokens nulls the token on every user holding one of tokens, in one update.
	BulkClearTokens(ctx context.Context, tokens []string) (int64, error)
	// FindStaleTokens returns up to limit token holders not checked since before,
	// never-checked first, then oldest check first, ties by user ID.
	FindStaleTokens(ctx context.Context, before time.Time, limit int) ([]domain.User, error)
	// TouchToken records a successful check of the user's current token.
	TouchToken(ctx context.Context, userID string, at time.Time) error
	// MarkTokenChecked records a check that neither confirmed nor rejected the token.
	MarkTokenChecked(ctx context.Context, userID string, at time.Time) error
}

type PostRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Post, error)
}
