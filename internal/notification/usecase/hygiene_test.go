package usecase

import (
	"context"
	"errors"
	"testing"

	socialdomain "famnet-backend/internal/social/domain"
	"famnet-backend/internal/social/repository"
	"famnet-backend/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingUsers wraps a repository and fails bulk clears.
type failingUsers struct {
	repository.UserRepository
	calls int
}

func (f *failingUsers) BulkClearTokens(context.Context, []string) (int64, error) {
	f.calls++
	return 0, errors.New("connection reset")
}

// countingUsers records the token lists passed to BulkClearTokens.
type countingUsers struct {
	repository.UserRepository
	batches [][]string
}

func (c *countingUsers) BulkClearTokens(ctx context.Context, tokens []string) (int64, error) {
	c.batches = append(c.batches, tokens)
	return c.UserRepository.BulkClearTokens(ctx, tokens)
}

func userWithToken(id, username, token string) socialdomain.User {
	prefs := socialdomain.DefaultPreferences()
	if token != "" {
		prefs.FCMToken = &token
		prefs.TokenValid = true
	}
	return socialdomain.User{ID: id, Username: username, NotificationPreferences: prefs}
}

func TestCleanupInvalidTokens_ClearsOwners(t *testing.T) {
	store := repository.NewMemoryStore()
	store.PutUser(userWithToken("b", "bob", "T"))
	store.PutUser(userWithToken("c", "carol", "other"))
	users := &countingUsers{UserRepository: store.Users()}
	m := metrics.New("test")

	h := NewTokenHygiene(users, m, nil)
	h.CleanupInvalidTokens(context.Background(), []string{"T", "", "T", " "})

	require.Len(t, users.batches, 1)
	assert.Equal(t, []string{"T"}, users.batches[0])

	b, _ := store.Users().FindByID(context.Background(), "b")
	assert.Nil(t, b.NotificationPreferences.FCMToken)
	assert.False(t, b.NotificationPreferences.TokenValid)
	c, _ := store.Users().FindByID(context.Background(), "c")
	assert.Equal(t, "other", c.NotificationPreferences.Token())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenCleanups.WithLabelValues("ok")))

	// Idempotent
	assert.NotPanics(t, func() { h.CleanupInvalidTokens(context.Background(), []string{"T"}) })
	b, _ = store.Users().FindByID(context.Background(), "b")
	assert.Nil(t, b.NotificationPreferences.FCMToken)
}

func TestCleanupInvalidTokens_EmptyIsNoop(t *testing.T) {
	users := &countingUsers{UserRepository: repository.NewMemoryStore().Users()}
	NewTokenHygiene(users, nil, nil).CleanupInvalidTokens(context.Background(), []string{"", "  "})
	assert.Empty(t, users.batches)
}

func TestCleanupInvalidTokens_SwallowsErrors(t *testing.T) {
	users := &failingUsers{}
	m := metrics.New("test")

	assert.NotPanics(t, func() {
		NewTokenHygiene(users, m, nil).CleanupInvalidTokens(context.Background(), []string{"T"})
	})
	assert.Equal(t, 1, users.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenCleanups.WithLabelValues("error")))
}
