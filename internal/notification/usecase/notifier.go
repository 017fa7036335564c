package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"famnet-backend/internal/notification/domain"
	socialdomain "famnet-backend/internal/social/domain"
	"famnet-backend/internal/social/repository"
	"famnet-backend/pkg/fcm"
	"famnet-backend/pkg/metrics"

	"go.uber.org/zap"
)

// ErrUnknownEvent is returned by Handle for event types nobody is notified about.
var ErrUnknownEvent = errors.New("unknown event type")

// PushSender is the delivery capability the notifiers need. *fcm.Client implements it.
type PushSender interface {
	SendOne(ctx context.Context, token string, notification fcm.NotificationData) fcm.Result
	SendBatch(ctx context.Context, tokens []string, notification fcm.NotificationData) fcm.BatchResult
}

// Notifier turns domain events into push notifications.
//
// Every Notify method returns nil when nothing was sent on purpose (recipient
// missing, self-notification, opted out, no device) and a result otherwise.
// Internal failures come back as a result with Success false; nothing panics
// or returns an error to the triggering action.
type Notifier struct {
	users   repository.UserRepository
	posts   repository.PostRepository
	sender  PushSender
	hygiene *TokenHygiene
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewNotifier(
	users repository.UserRepository,
	posts repository.PostRepository,
	sender PushSender,
	hygiene *TokenHygiene,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hygiene == nil {
		hygiene = NewTokenHygiene(users, m, logger)
	}
	return &Notifier{
		users:   users,
		posts:   posts,
		sender:  sender,
		hygiene: hygiene,
		metrics: m,
		logger:  logger,
	}
}

// Handle routes an event to its notifier.
func (n *Notifier) Handle(ctx context.Context, e domain.Event) error {
	switch e.Type {
	case domain.EventLike:
		n.NotifyLike(ctx, e.TargetID, e.ActorID, e.ActorUsername)
	case domain.EventComment:
		n.NotifyComment(ctx, e.TargetID, e.CommentID, e.ActorID, e.ActorUsername, e.Text)
	case domain.EventFollow:
		n.NotifyFollow(ctx, e.TargetID, e.ActorID, e.ActorUsername)
	case domain.EventUnfollow:
		n.NotifyUnfollow(ctx, e.TargetID, e.ActorID, e.ActorUsername)
	case domain.EventSave:
		n.NotifySave(ctx, e.TargetID, e.ActorID, e.ActorUsername)
	case domain.EventNewPost:
		n.NotifyNewPost(ctx, e.TargetID, e.ActorID, e.ActorUsername, e.Text)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	return nil
}

func (n *Notifier) NotifyLike(ctx context.Context, postID, actorID, actorUsername string) (res *fcm.Result) {
	defer n.guard(domain.EventLike, func(msg string) { res = &fcm.Result{Error: msg} })

	post, owner, err := n.postOwner(ctx, postID)
	if err != nil {
		return n.fail(domain.EventLike, err)
	}
	if owner == nil {
		return n.skip(domain.EventLike, "recipient not found", zap.String("post_id", postID))
	}
	return n.deliver(ctx, domain.EventLike, owner, actorID, map[string]interface{}{
		DataPostID:        postID,
		DataActorID:       actorID,
		DataActorUsername: actorUsername,
		DataPostCaption:   post.Caption,
	})
}

func (n *Notifier) NotifyComment(ctx context.Context, postID, commentID, actorID, actorUsername, text string) (res *fcm.Result) {
	defer n.guard(domain.EventComment, func(msg string) { res = &fcm.Result{Error: msg} })

	_, owner, err := n.postOwner(ctx, postID)
	if err != nil {
		return n.fail(domain.EventComment, err)
	}
	if owner == nil {
		return n.skip(domain.EventComment, "recipient not found", zap.String("post_id", postID))
	}
	return n.deliver(ctx, domain.EventComment, owner, actorID, map[string]interface{}{
		DataPostID:        postID,
		DataCommentID:     commentID,
		DataActorID:       actorID,
		DataActorUsername: actorUsername,
		DataCommentText:   text,
	})
}

func (n *Notifier) NotifyFollow(ctx context.Context, targetUserID, actorID, actorUsername string) (res *fcm.Result) {
	defer n.guard(domain.EventFollow, func(msg string) { res = &fcm.Result{Error: msg} })
	return n.notifyUser(ctx, domain.EventFollow, targetUserID, actorID, actorUsername)
}

func (n *Notifier) NotifyUnfollow(ctx context.Context, targetUserID, actorID, actorUsername string) (res *fcm.Result) {
	defer n.guard(domain.EventUnfollow, func(msg string) { res = &fcm.Result{Error: msg} })
	return n.notifyUser(ctx, domain.EventUnfollow, targetUserID, actorID, actorUsername)
}

func (n *Notifier) NotifySave(ctx context.Context, postID, actorID, actorUsername string) (res *fcm.Result) {
	defer n.guard(domain.EventSave, func(msg string) { res = &fcm.Result{Error: msg} })

	post, owner, err := n.postOwner(ctx, postID)
	if err != nil {
		return n.fail(domain.EventSave, err)
	}
	if owner == nil {
		return n.skip(domain.EventSave, "recipient not found", zap.String("post_id", postID))
	}
	return n.deliver(ctx, domain.EventSave, owner, actorID, map[string]interface{}{
		DataPostID:        postID,
		DataActorID:       actorID,
		DataActorUsername: actorUsername,
		DataPostCaption:   post.Caption,
	})
}

// NotifyNewPost fans a new post out to the poster's followers whose settings
// accept it. The poster never receives their own post.
func (n *Notifier) NotifyNewPost(ctx context.Context, postID, posterID, posterUsername, caption string) (res *fcm.BatchResult) {
	defer n.guard(domain.EventNewPost, func(msg string) { res = &fcm.BatchResult{Results: []fcm.Result{}, Error: msg} })

	followers, err := n.users.FindFollowers(ctx, posterID)
	if err != nil {
		n.metrics.ObserveNotification(string(domain.EventNewPost), "failed")
		n.logger.Error("failed to load followers", zap.String("poster_id", posterID), zap.Error(err))
		return &fcm.BatchResult{Results: []fcm.Result{}, Error: err.Error()}
	}

	seen := make(map[string]bool, len(followers))
	tokens := make([]string, 0, len(followers))
	for _, f := range followers {
		if f.ID == posterID {
			continue
		}
		prefs := f.NotificationPreferences
		if !ShouldReceivePost(prefs, f.Following, posterID) {
			continue
		}
		tok := prefs.Token()
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	if len(tokens) == 0 {
		n.skip(domain.EventNewPost, "no eligible followers", zap.String("post_id", postID), zap.Int("followers", len(followers)))
		return nil
	}

	content := BuildContent(domain.EventNewPost, map[string]interface{}{
		DataPostID:        postID,
		DataActorID:       posterID,
		DataActorUsername: posterUsername,
		DataPostCaption:   caption,
	})
	result := n.sender.SendBatch(ctx, tokens, toNotification(content))

	if len(result.InvalidTokens) > 0 {
		n.metrics.ObserveInvalidTokens(len(result.InvalidTokens))
		n.hygiene.CleanupInvalidTokens(ctx, result.InvalidTokens)
	}

	outcome := "sent"
	if !result.Success {
		outcome = "failed"
	}
	n.metrics.ObserveNotification(string(domain.EventNewPost), outcome)
	n.logger.Info("new post fan-out",
		zap.String("post_id", postID),
		zap.Int("recipients", len(tokens)),
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount),
	)
	return &result
}

func (n *Notifier) notifyUser(ctx context.Context, eventType domain.EventType, targetUserID, actorID, actorUsername string) *fcm.Result {
	target, err := n.users.FindByID(ctx, targetUserID)
	if err != nil {
		return n.fail(eventType, err)
	}
	if target == nil {
		return n.skip(eventType, "recipient not found", zap.String("user_id", targetUserID))
	}
	return n.deliver(ctx, eventType, target, actorID, map[string]interface{}{
		DataActorID:       actorID,
		DataActorUsername: actorUsername,
	})
}

// postOwner resolves a post and the user who owns it. Either may be nil when missing.
func (n *Notifier) postOwner(ctx context.Context, postID string) (*socialdomain.Post, *socialdomain.User, error) {
	post, err := n.posts.FindByID(ctx, postID)
	if err != nil || post == nil {
		return nil, nil, err
	}
	owner, err := n.users.FindByID(ctx, post.UserID)
	if err != nil {
		return nil, nil, err
	}
	return post, owner, nil
}

func (n *Notifier) deliver(ctx context.Context, eventType domain.EventType, recipient *socialdomain.User, actorID string, data map[string]interface{}) *fcm.Result {
	if recipient.ID == actorID {
		return n.skip(eventType, "self notification", zap.String("user_id", recipient.ID))
	}
	prefs := recipient.NotificationPreferences
	if !IsEnabled(prefs, eventType.PreferenceKey()) {
		return n.skip(eventType, "disabled by preferences", zap.String("user_id", recipient.ID))
	}
	token := prefs.Token()
	if token == "" {
		return n.skip(eventType, "no registered token", zap.String("user_id", recipient.ID))
	}

	content := BuildContent(eventType, data)
	result := n.sender.SendOne(ctx, token, toNotification(content))

	if result.InvalidToken {
		n.metrics.ObserveInvalidTokens(1)
		n.hygiene.CleanupInvalidTokens(ctx, []string{token})
	}
	if result.Success {
		n.metrics.ObserveNotification(string(eventType), "sent")
		n.logger.Info("notification sent", zap.String("event", string(eventType)), zap.String("user_id", recipient.ID))
	} else {
		n.metrics.ObserveNotification(string(eventType), "failed")
		n.logger.Warn("notification failed",
			zap.String("event", string(eventType)),
			zap.String("user_id", recipient.ID),
			zap.Bool("invalid_token", result.InvalidToken),
			zap.String("error", result.Error),
		)
	}
	return &result
}

func (n *Notifier) skip(eventType domain.EventType, reason string, fields ...zap.Field) *fcm.Result {
	n.metrics.ObserveNotification(string(eventType), "skipped")
	n.logger.Debug("notification skipped", append(fields, zap.String("event", string(eventType)), zap.String("reason", reason))...)
	return nil
}

func (n *Notifier) fail(eventType domain.EventType, err error) *fcm.Result {
	n.metrics.ObserveNotification(string(eventType), "failed")
	n.logger.Error("notification lookup failed", zap.String("event", string(eventType)), zap.Error(err))
	return &fcm.Result{Success: false, Error: err.Error(), Err: err}
}

// guard must be deferred directly so recover sees the panic.
func (n *Notifier) guard(eventType domain.EventType, set func(msg string)) {
	if r := recover(); r != nil {
		n.metrics.ObserveNotification(string(eventType), "failed")
		n.logger.Error("notifier panic recovered", zap.String("event", string(eventType)), zap.Any("panic", r), zap.Stack("stack"))
		set(fmt.Sprintf("internal error: %v", r))
	}
}

func toNotification(c domain.Content) fcm.NotificationData {
	return fcm.NotificationData{
		Title:       c.Title,
		Body:        strings.TrimSpace(c.Body),
		Data:        c.Data,
		ClickAction: c.ClickTarget,
	}
}
