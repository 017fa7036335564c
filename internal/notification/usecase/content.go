package usecase

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"famnet-backend/internal/notification/domain"
)

// Keys understood by BuildContent. Every key present is also copied into the push data payload.
const (
	DataPostID        = "postId"
	DataCommentID     = "commentId"
	DataActorID       = "actorId"
	DataActorUsername = "actorUsername"
	DataPostCaption   = "postCaption"
	DataCommentText   = "commentText"

	DataClickTarget = "clickTarget"
	DataType        = "type"
)

const (
	likeCaptionLimit = 100
	snippetLimit     = 50

	// FCM caps a whole message at 4KB; the data payload gets half of it.
	dataValueLimit = 200
	dataBudget     = 2048
)

// dataKeys survive payload trimming; everything else may be dropped to fit the budget.
var dataKeys = map[string]bool{
	DataType:          true,
	DataClickTarget:   true,
	DataPostID:        true,
	DataCommentID:     true,
	DataActorID:       true,
	DataActorUsername: true,
}

// BuildContent renders title, body and click target for an event.
func BuildContent(eventType domain.EventType, data map[string]interface{}) domain.Content {
	actor := str(data[DataActorUsername])
	if actor == "" {
		actor = "Someone"
	}
	postID := str(data[DataPostID])

	var c domain.Content
	switch eventType {
	case domain.EventLike:
		c.Title = actor + " liked your post"
		c.Body = Truncate(strings.TrimSpace(str(data[DataPostCaption])), likeCaptionLimit)
		if c.Body == "" {
			c.Body = "No caption"
		}
		c.ClickTarget = "/post/" + postID
	case domain.EventComment:
		c.Title = "New Comment"
		c.Body = withSnippet(actor+" commented on your post", str(data[DataCommentText]))
		c.ClickTarget = fmt.Sprintf("/post/%s#comment-%s", postID, str(data[DataCommentID]))
	case domain.EventFollow:
		c.Title = "New Follower"
		c.Body = actor + " started following you"
		c.ClickTarget = "/profile/" + str(data[DataActorUsername])
	case domain.EventUnfollow:
		c.Title = "Follower Update"
		c.Body = actor + " unfollowed you"
		c.ClickTarget = "/profile/" + str(data[DataActorUsername])
	case domain.EventSave:
		c.Title = "Post Saved"
		c.Body = withSnippet(actor+" saved your post", str(data[DataPostCaption]))
		c.ClickTarget = "/post/" + postID
	case domain.EventNewPost:
		c.Title = "New Post"
		c.Body = withSnippet(actor+" shared a new post", str(data[DataPostCaption]))
		c.ClickTarget = "/post/" + postID
	default:
		c.Title = "New Notification"
		c.Body = "You have a new notification"
		c.ClickTarget = "/"
	}

	c.Data = make(map[string]string, len(data)+2)
	for k, v := range data {
		c.Data[k] = Truncate(str(v), dataValueLimit)
	}
	c.Data[DataClickTarget] = c.ClickTarget
	c.Data[DataType] = string(eventType)
	fitData(c.Data, dataBudget)
	return c
}

// fitData drops the largest optional entries until the payload is within budget bytes.
func fitData(data map[string]string, budget int) {
	size := 0
	optional := make([]string, 0, len(data))
	for k, v := range data {
		size += len(k) + len(v)
		if !dataKeys[k] {
			optional = append(optional, k)
		}
	}
	if size <= budget {
		return
	}

	sort.Strings(optional)
	sort.SliceStable(optional, func(i, j int) bool {
		return len(data[optional[i]]) > len(data[optional[j]])
	})
	for _, k := range optional {
		if size <= budget {
			return
		}
		size -= len(k) + len(data[k])
		delete(data, k)
	}
}

// Truncate cuts text longer than limit runes, trims trailing whitespace and appends "...".
// Text within the limit is returned unchanged.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimRightFunc(string(runes[:limit]), unicode.IsSpace) + "..."
}

func withSnippet(lead, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return lead
	}
	return fmt.Sprintf("%s: \"%s\"", lead, Truncate(text, snippetLimit))
}

// str coerces payload values; FCM data must be string-only.
func str(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
