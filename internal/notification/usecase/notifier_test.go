package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"famnet-backend/internal/notification/domain"
	socialdomain "famnet-backend/internal/social/domain"
	"famnet-backend/internal/social/repository"
	"famnet-backend/pkg/fcm"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendCall struct {
	token        string
	tokens       []string
	notification fcm.NotificationData
}

type fakePushSender struct {
	mu      sync.Mutex
	singles []sendCall
	batches []sendCall

	result      fcm.Result
	batchResult *fcm.BatchResult
}

func (f *fakePushSender) SendOne(_ context.Context, token string, n fcm.NotificationData) fcm.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singles = append(f.singles, sendCall{token: token, notification: n})
	if f.result == (fcm.Result{}) {
		return fcm.Result{Success: true, MessageID: "msg-1"}
	}
	return f.result
}

func (f *fakePushSender) SendBatch(_ context.Context, tokens []string, n fcm.NotificationData) fcm.BatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, sendCall{tokens: tokens, notification: n})
	if f.batchResult != nil {
		return *f.batchResult
	}
	return fcm.BatchResult{Success: true, SuccessCount: len(tokens), Results: make([]fcm.Result, len(tokens))}
}

type fixture struct {
	store    *repository.MemoryStore
	sender   *fakePushSender
	notifier *Notifier
}

func newFixture() *fixture {
	store := repository.NewMemoryStore()
	sender := &fakePushSender{}
	return &fixture{
		store:    store,
		sender:   sender,
		notifier: NewNotifier(store.Users(), store.Posts(), sender, nil, nil, nil),
	}
}

func (f *fixture) token(t *testing.T, userID string) *string {
	t.Helper()
	u, err := f.store.Users().FindByID(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.NotificationPreferences.FCMToken
}

func seedLikeScenario(f *fixture) {
	f.store.PutUser(userWithToken("a", "A", "tok-a"))
	f.store.PutUser(userWithToken("b", "B", "abc"))
	f.store.PutPost(socialdomain.Post{ID: "p1", UserID: "b", Caption: "Family picnic"})
}

func TestNotifyLike_EndToEnd(t *testing.T) {
	f := newFixture()
	seedLikeScenario(f)

	res := f.notifier.NotifyLike(context.Background(), "p1", "a", "A")

	require.NotNil(t, res)
	assert.True(t, res.Success)
	require.Len(t, f.sender.singles, 1)
	call := f.sender.singles[0]
	assert.Equal(t, "abc", call.token)
	assert.Equal(t, "A liked your post", call.notification.Title)
	assert.Equal(t, "Family picnic", call.notification.Body)
	assert.Equal(t, "/post/p1", call.notification.ClickAction)
	assert.Equal(t, "/post/p1", call.notification.Data["clickTarget"])
	assert.Equal(t, "like", call.notification.Data["type"])
}

func TestNotifyLike_InvalidTokenIsCleared(t *testing.T) {
	f := newFixture()
	seedLikeScenario(f)
	f.sender.result = fcm.Result{Success: false, InvalidToken: true, Error: "unregistered"}

	res := f.notifier.NotifyLike(context.Background(), "p1", "a", "A")

	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.True(t, res.InvalidToken)
	assert.Nil(t, f.token(t, "b"))
	assert.NotNil(t, f.token(t, "a"))
}

func TestNotifyLike_TransientFailureKeepsToken(t *testing.T) {
	f := newFixture()
	seedLikeScenario(f)
	f.sender.result = fcm.Result{Success: false, Error: "deadline exceeded"}

	res := f.notifier.NotifyLike(context.Background(), "p1", "a", "A")

	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, "abc", *f.token(t, "b"))
}

func TestNotifyLike_SelfNotificationSuppressed(t *testing.T) {
	f := newFixture()
	seedLikeScenario(f)

	res := f.notifier.NotifyLike(context.Background(), "p1", "b", "B")

	assert.Nil(t, res)
	assert.Empty(t, f.sender.singles)
}

func TestNotify_SkipsSilently(t *testing.T) {
	disabled := userWithToken("c", "C", "tok-c")
	disabled.NotificationPreferences.PushEnabled = false

	noToken := userWithToken("d", "D", "")

	likesOff := userWithToken("e", "E", "tok-e")
	likesOff.NotificationPreferences.Likes = false

	tests := []struct {
		name   string
		owner  socialdomain.User
		postID string
	}{
		{"push disabled", disabled, "p-c"},
		{"no token", noToken, "p-d"},
		{"likes off", likesOff, "p-e"},
		{"missing post", disabled, "p-missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.store.PutUser(tt.owner)
			f.store.PutPost(socialdomain.Post{ID: "p-" + tt.owner.ID, UserID: tt.owner.ID})

			res := f.notifier.NotifyLike(context.Background(), tt.postID, "a", "A")

			assert.Nil(t, res)
			assert.Empty(t, f.sender.singles)
		})
	}
}

func TestNotify_PushDisabledBlocksEveryEvent(t *testing.T) {
	f := newFixture()
	c := userWithToken("c", "C", "tok-c")
	c.NotificationPreferences = socialdomain.NotificationPreferences{
		PushEnabled: false,
		PostType:    socialdomain.PostTypeAll,
		Likes:       true,
		Comments:    true,
		Follow:      true,
		Unfollow:    true,
		FCMToken:    c.NotificationPreferences.FCMToken,
	}
	f.store.PutUser(c)
	f.store.PutUser(userWithToken("a", "A", "tok-a"))
	f.store.PutPost(socialdomain.Post{ID: "pc", UserID: "c"})
	f.store.PutFollow("c", "a")

	ctx := context.Background()
	assert.Nil(t, f.notifier.NotifyLike(ctx, "pc", "a", "A"))
	assert.Nil(t, f.notifier.NotifyComment(ctx, "pc", "c1", "a", "A", "hi"))
	assert.Nil(t, f.notifier.NotifySave(ctx, "pc", "a", "A"))
	assert.Nil(t, f.notifier.NotifyFollow(ctx, "c", "a", "A"))
	assert.Nil(t, f.notifier.NotifyUnfollow(ctx, "c", "a", "A"))
	assert.Nil(t, f.notifier.NotifyNewPost(ctx, "pa", "a", "A", "hello"))

	assert.Empty(t, f.sender.singles)
	assert.Empty(t, f.sender.batches)
}

func TestNotifyComment(t *testing.T) {
	f := newFixture()
	seedLikeScenario(f)

	res := f.notifier.NotifyComment(context.Background(), "p1", "c7", "a", "A", "So cute!")

	require.NotNil(t, res)
	require.Len(t, f.sender.singles, 1)
	n := f.sender.singles[0].notification
	assert.Equal(t, "New Comment", n.Title)
	assert.Equal(t, `A commented on your post: "So cute!"`, n.Body)
	assert.Equal(t, "/post/p1#comment-c7", n.ClickAction)
}

func TestNotifyFollowAndUnfollow(t *testing.T) {
	f := newFixture()
	b := userWithToken("b", "B", "abc")
	b.NotificationPreferences.Unfollow = true
	f.store.PutUser(b)

	ctx := context.Background()
	require.NotNil(t, f.notifier.NotifyFollow(ctx, "b", "a", "A"))
	require.NotNil(t, f.notifier.NotifyUnfollow(ctx, "b", "a", "A"))
	assert.Nil(t, f.notifier.NotifyFollow(ctx, "b", "b", "B"))
	assert.Nil(t, f.notifier.NotifyFollow(ctx, "ghost", "a", "A"))

	require.Len(t, f.sender.singles, 2)
	assert.Equal(t, "New Follower", f.sender.singles[0].notification.Title)
	assert.Equal(t, "/profile/A", f.sender.singles[0].notification.ClickAction)
	assert.Equal(t, "A unfollowed you", f.sender.singles[1].notification.Body)
}

func TestNotifySave_UsesLikesFlag(t *testing.T) {
	f := newFixture()
	seedLikeScenario(f)

	require.NotNil(t, f.notifier.NotifySave(context.Background(), "p1", "a", "A"))
	require.Len(t, f.sender.singles, 1)
	assert.Equal(t, "Post Saved", f.sender.singles[0].notification.Title)
	assert.Equal(t, `A saved your post: "Family picnic"`, f.sender.singles[0].notification.Body)

	b := userWithToken("b", "B", "abc")
	b.NotificationPreferences.Likes = false
	f.store.PutUser(b)
	assert.Nil(t, f.notifier.NotifySave(context.Background(), "p1", "a", "A"))
	assert.Len(t, f.sender.singles, 1)
}

func TestNotifyNewPost_FiltersFollowers(t *testing.T) {
	f := newFixture()
	f.store.PutUser(userWithToken("poster", "P", "tok-poster"))

	all := userWithToken("f1", "F1", "tok-f1")
	all.NotificationPreferences.PostType = socialdomain.PostTypeAll
	f.store.PutUser(all)
	f.store.PutFollow("f1", "poster")

	// f2 has followingOnly but its following set does not include the poster,
	// simulating a follower list that is out of sync with the following list.
	followingOnly := userWithToken("f2", "F2", "tok-f2")
	followingOnly.NotificationPreferences.PostType = socialdomain.PostTypeFollowing
	f.store.PutUser(followingOnly)

	staleFollowers := &staticFollowers{
		UserRepository: f.store.Users(),
		followers: []socialdomain.User{
			withFollowing(all, "poster"),
			withFollowing(followingOnly, "someone-else"),
		},
	}
	notifier := NewNotifier(staleFollowers, f.store.Posts(), f.sender, nil, nil, nil)

	res := notifier.NotifyNewPost(context.Background(), "p42", "poster", "P", "Baby's first steps")

	require.NotNil(t, res)
	require.Len(t, f.sender.batches, 1)
	assert.Equal(t, []string{"tok-f1"}, f.sender.batches[0].tokens)
	assert.Equal(t, "New Post", f.sender.batches[0].notification.Title)
	assert.Equal(t, "/post/p42", f.sender.batches[0].notification.ClickAction)
}

func TestNotifyNewPost_ExcludesPosterAndCleansInvalidTokens(t *testing.T) {
	f := newFixture()
	f.store.PutUser(userWithToken("poster", "P", "tok-poster"))
	f.store.PutUser(userWithToken("f1", "F1", "tok-f1"))
	f.store.PutUser(userWithToken("f2", "F2", "tok-dead"))
	f.store.PutFollow("f1", "poster")
	f.store.PutFollow("f2", "poster")
	f.store.PutFollow("poster", "poster")
	f.sender.batchResult = &fcm.BatchResult{
		Success:       true,
		SuccessCount:  1,
		FailureCount:  1,
		InvalidTokens: []string{"tok-dead"},
	}

	res := f.notifier.NotifyNewPost(context.Background(), "p1", "poster", "P", "")

	require.NotNil(t, res)
	require.Len(t, f.sender.batches, 1)
	assert.ElementsMatch(t, []string{"tok-f1", "tok-dead"}, f.sender.batches[0].tokens)
	assert.Nil(t, f.token(t, "f2"))
	assert.NotNil(t, f.token(t, "f1"))
}

func TestNotifyNewPost_NoFollowers(t *testing.T) {
	f := newFixture()
	f.store.PutUser(userWithToken("poster", "P", "tok-poster"))

	assert.Nil(t, f.notifier.NotifyNewPost(context.Background(), "p1", "poster", "P", "hi"))
	assert.Empty(t, f.sender.batches)
}

func TestNotify_StoreErrorsBecomeResults(t *testing.T) {
	store := repository.NewMemoryStore()
	sender := &fakePushSender{}
	broken := &brokenUsers{UserRepository: store.Users()}
	n := NewNotifier(broken, brokenPosts{}, sender, nil, nil, nil)
	ctx := context.Background()

	like := n.NotifyLike(ctx, "p1", "a", "A")
	require.NotNil(t, like)
	assert.False(t, like.Success)
	assert.Equal(t, "posts offline", like.Error)

	follow := n.NotifyFollow(ctx, "b", "a", "A")
	require.NotNil(t, follow)
	assert.Equal(t, "users offline", follow.Error)

	post := n.NotifyNewPost(ctx, "p1", "a", "A", "")
	require.NotNil(t, post)
	assert.False(t, post.Success)
	assert.Equal(t, "users offline", post.Error)

	assert.Empty(t, sender.singles)
}

func TestNotify_PanicIsContained(t *testing.T) {
	f := newFixture()
	seedLikeScenario(f)
	n := NewNotifier(f.store.Users(), f.store.Posts(), panickingSender{}, nil, nil, nil)

	var res *fcm.Result
	assert.NotPanics(t, func() { res = n.NotifyLike(context.Background(), "p1", "a", "A") })
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "provider exploded")
}

func TestNotify_UninitializedClient(t *testing.T) {
	f := newFixture()
	seedLikeScenario(f)
	var client *fcm.Client
	n := NewNotifier(f.store.Users(), f.store.Posts(), client, nil, nil, nil)

	res := n.NotifyLike(context.Background(), "p1", "a", "A")
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, fcm.ErrNotInitialized.Error(), res.Error)
	assert.Equal(t, "abc", *f.token(t, "b"))
}

func TestHandle_Routes(t *testing.T) {
	f := newFixture()
	seedLikeScenario(f)
	ctx := context.Background()

	e := domain.NewEvent(domain.EventLike, "a", "A", "p1")
	require.NoError(t, f.notifier.Handle(ctx, e))
	assert.Len(t, f.sender.singles, 1)

	err := f.notifier.Handle(ctx, domain.Event{Type: domain.EventType("mention")})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

// End to end through the real FCM client with a provider that rejects the token.
func TestNotifyLike_RealClientUnregisteredToken(t *testing.T) {
	f := newFixture()
	seedLikeScenario(f)
	errGone := errors.New("registration token is not registered")
	client := fcm.NewClientWithSender(rejectingSender{err: errGone}, fcm.Options{
		IsInvalidToken: func(err error) bool { return errors.Is(err, errGone) },
	})
	n := NewNotifier(f.store.Users(), f.store.Posts(), client, nil, nil, nil)

	res := n.NotifyLike(context.Background(), "p1", "a", "A")

	require.NotNil(t, res)
	assert.True(t, res.InvalidToken)
	assert.Nil(t, f.token(t, "b"))
}

type staticFollowers struct {
	repository.UserRepository
	followers []socialdomain.User
}

func (s *staticFollowers) FindFollowers(context.Context, string) ([]socialdomain.User, error) {
	return s.followers, nil
}

func withFollowing(u socialdomain.User, ids ...string) socialdomain.User {
	u.Following = ids
	return u
}

type brokenUsers struct {
	repository.UserRepository
}

func (brokenUsers) FindByID(context.Context, string) (*socialdomain.User, error) {
	return nil, errors.New("users offline")
}

func (brokenUsers) FindFollowers(context.Context, string) ([]socialdomain.User, error) {
	return nil, errors.New("users offline")
}

type brokenPosts struct{}

func (brokenPosts) FindByID(context.Context, string) (*socialdomain.Post, error) {
	return nil, errors.New("posts offline")
}

type panickingSender struct{}

func (panickingSender) SendOne(context.Context, string, fcm.NotificationData) fcm.Result {
	panic("provider exploded")
}

func (panickingSender) SendBatch(context.Context, []string, fcm.NotificationData) fcm.BatchResult {
	panic("provider exploded")
}

type rejectingSender struct{ err error }

func (r rejectingSender) Send(context.Context, *messaging.Message) (string, error) {
	return "", r.err
}

func (r rejectingSender) SendDryRun(context.Context, *messaging.Message) (string, error) {
	return "", r.err
}

func (r rejectingSender) SendEachForMulticast(context.Context, *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	return nil, r.err
}
