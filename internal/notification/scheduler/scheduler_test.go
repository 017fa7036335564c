package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"famnet-backend/internal/social/domain"
	"famnet-backend/internal/social/repository"
	"famnet-backend/pkg/fcm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	mu      sync.Mutex
	checked []string
	results map[string]fcm.Result
}

func (f *fakeValidator) ValidateToken(_ context.Context, token string) fcm.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, token)
	if r, ok := f.results[token]; ok {
		return r
	}
	return fcm.Result{Success: true}
}

func (f *fakeValidator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.checked)
}

func putUser(s *repository.MemoryStore, id, token string, lastSync time.Time) {
	prefs := domain.DefaultPreferences()
	prefs.FCMToken = &token
	prefs.TokenValid = true
	prefs.LastSyncAt = &lastSync
	prefs.TokenCheckedAt = &lastSync
	s.PutUser(domain.User{ID: id, NotificationPreferences: prefs})
}

func TestRunOnce_ClearsRejectedTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := repository.NewMemoryStore()
	putUser(store, "old-ok", "tok-ok", now.Add(-10*24*time.Hour))
	putUser(store, "old-dead", "tok-dead", now.Add(-10*24*time.Hour))
	putUser(store, "old-flaky", "tok-flaky", now.Add(-10*24*time.Hour))
	putUser(store, "fresh", "tok-fresh", now.Add(-time.Hour))

	v := &fakeValidator{results: map[string]fcm.Result{
		"tok-dead":  {InvalidToken: true, Error: "unregistered"},
		"tok-flaky": {Error: "unavailable"},
	}}
	s := NewTokenSweepScheduler(store.Users(), v, nil, time.Hour, 7*24*time.Hour, nil)
	s.now = func() time.Time { return now }

	checked, invalid := s.RunOnce(context.Background())

	assert.Equal(t, 3, checked)
	assert.Equal(t, 1, invalid)
	assert.NotContains(t, v.checked, "tok-fresh")

	ctx := context.Background()
	dead, _ := store.Users().FindByID(ctx, "old-dead")
	assert.Nil(t, dead.NotificationPreferences.FCMToken)

	ok, _ := store.Users().FindByID(ctx, "old-ok")
	require.NotNil(t, ok.NotificationPreferences.LastSyncAt)
	assert.Equal(t, now, *ok.NotificationPreferences.LastSyncAt)

	flaky, _ := store.Users().FindByID(ctx, "old-flaky")
	assert.Equal(t, "tok-flaky", flaky.NotificationPreferences.Token())
	assert.Equal(t, now.Add(-10*24*time.Hour), *flaky.NotificationPreferences.LastSyncAt)
	require.NotNil(t, flaky.NotificationPreferences.TokenCheckedAt)
	assert.Equal(t, now, *flaky.NotificationPreferences.TokenCheckedAt)
}

func TestRunOnce_InconclusiveTokensDoNotBlockLaterBatches(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := repository.NewMemoryStore()
	putUser(store, "a-flaky", "tok-flaky", now.Add(-10*24*time.Hour))
	putUser(store, "b-dead", "tok-dead", now.Add(-10*24*time.Hour))
	putUser(store, "c-unconfigured", "tok-noclient", now.Add(-10*24*time.Hour))

	v := &fakeValidator{results: map[string]fcm.Result{
		"tok-flaky":    {Error: "unavailable"},
		"tok-dead":     {InvalidToken: true, Error: "unregistered"},
		"tok-noclient": {Error: fcm.ErrNotInitialized.Error(), Err: fcm.ErrNotInitialized},
	}}
	s := NewTokenSweepScheduler(store.Users(), v, nil, time.Hour, 7*24*time.Hour, nil)
	s.now = func() time.Time { return now }
	s.batchSize = 1

	for i := 0; i < 5; i++ {
		s.RunOnce(context.Background())
	}

	assert.Equal(t, []string{"tok-flaky", "tok-dead", "tok-noclient"}, v.checked)
	dead, _ := store.Users().FindByID(context.Background(), "b-dead")
	assert.Nil(t, dead.NotificationPreferences.FCMToken)
}

func TestRunOnce_NeverCheckedTokensFirst(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := repository.NewMemoryStore()
	putUser(store, "a-old", "tok-old", now.Add(-30*24*time.Hour))
	tok := "tok-new"
	prefs := domain.DefaultPreferences()
	prefs.FCMToken = &tok
	store.PutUser(domain.User{ID: "z-never", NotificationPreferences: prefs})

	v := &fakeValidator{}
	s := NewTokenSweepScheduler(store.Users(), v, nil, time.Hour, 7*24*time.Hour, nil)
	s.now = func() time.Time { return now }
	s.batchSize = 1

	s.RunOnce(context.Background())
	s.RunOnce(context.Background())

	assert.Equal(t, []string{"tok-new", "tok-old"}, v.checked)
}

func TestRunOnce_NothingStale(t *testing.T) {
	store := repository.NewMemoryStore()
	putUser(store, "fresh", "tok-fresh", time.Now())
	v := &fakeValidator{}

	s := NewTokenSweepScheduler(store.Users(), v, nil, time.Hour, 24*time.Hour, nil)
	checked, invalid := s.RunOnce(context.Background())

	assert.Zero(t, checked)
	assert.Zero(t, invalid)
	assert.Zero(t, v.calls())
}

func TestStartStop(t *testing.T) {
	store := repository.NewMemoryStore()
	putUser(store, "old", "tok-old", time.Now().Add(-48*time.Hour))
	v := &fakeValidator{}

	s := NewTokenSweepScheduler(store.Users(), v, nil, time.Hour, 24*time.Hour, nil)
	s.Start(context.Background())
	require.Eventually(t, func() bool { return v.calls() == 1 }, time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestStart_DisabledWithoutInterval(t *testing.T) {
	v := &fakeValidator{}
	s := NewTokenSweepScheduler(repository.NewMemoryStore().Users(), v, nil, 0, time.Hour, nil)
	s.Start(context.Background())
	s.Stop()
	assert.Zero(t, v.calls())
}
