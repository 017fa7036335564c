package domain

import (
	"strings"

	"github.com/google/uuid"
)

// EventType identifies the domain action a notification is about.
type EventType string

const (
	EventLike     EventType = "like"
	EventComment  EventType = "comment"
	EventFollow   EventType = "follow"
	EventUnfollow EventType = "unfollow"
	EventSave     EventType = "save"
	EventNewPost  EventType = "new_post"
)

// ParseEventType returns the event type and whether it is one we notify on.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case EventLike, EventComment, EventFollow, EventUnfollow, EventSave, EventNewPost:
		return t, true
	}
	return t, false
}

// PreferenceKey names the opt-in setting consulted for an event.
type PreferenceKey string

const (
	PrefLikes    PreferenceKey = "likes"
	PrefComments PreferenceKey = "comments"
	PrefFollow   PreferenceKey = "follow"
	PrefUnfollow PreferenceKey = "unfollow"
	PrefPosts    PreferenceKey = "posts"
)

// PreferenceKey maps the event to its opt-in flag. Saves ride on the likes flag.
func (t EventType) PreferenceKey() PreferenceKey {
	switch t {
	case EventLike, EventSave:
		return PrefLikes
	case EventComment:
		return PrefComments
	case EventFollow:
		return PrefFollow
	case EventUnfollow:
		return PrefUnfollow
	case EventNewPost:
		return PrefPosts
	}
	return ""
}

// Event is built when a domain action succeeds and consumed by exactly one notifier call.
// TargetID is the post for like/comment/save/new_post and the user for follow/unfollow.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	ActorID       string    `json:"actorId"`
	ActorUsername string    `json:"actorUsername"`
	TargetID      string    `json:"targetId"`
	CommentID     string    `json:"commentId,omitempty"`
	// Text is the comment body for comments and the caption for new posts.
	Text string `json:"text,omitempty"`
}

// NewEvent stamps a fresh event id.
func NewEvent(t EventType, actorID, actorUsername, targetID string) Event {
	return Event{
		ID:            uuid.New().String(),
		Type:          t,
		ActorID:       actorID,
		ActorUsername: actorUsername,
		TargetID:      targetID,
	}
}

// Content is the rendered push message.
type Content struct {
	Title       string
	Body        string
	ClickTarget string
	Data        map[string]string
}
