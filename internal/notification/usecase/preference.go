package usecase

import (
	"famnet-backend/internal/notification/domain"
	socialdomain "famnet-backend/internal/social/domain"
)

// IsEnabled reports whether prefs allow a push for key. The master switch
// overrides every stored sub-setting, so stale flags on a disabled profile
// never produce a push.
func IsEnabled(prefs socialdomain.NotificationPreferences, key domain.PreferenceKey) bool {
	if !prefs.PushEnabled {
		return false
	}
	switch key {
	case domain.PrefPosts:
		return socialdomain.ParsePostType(string(prefs.PostType)) != socialdomain.PostTypeNone
	case domain.PrefLikes:
		return prefs.Likes
	case domain.PrefComments:
		return prefs.Comments
	case domain.PrefFollow:
		return prefs.Follow
	case domain.PrefUnfollow:
		return prefs.Unfollow
	}
	return false
}

// ShouldReceivePost decides whether a follower gets the new-post push from posterID.
func ShouldReceivePost(prefs socialdomain.NotificationPreferences, following []string, posterID string) bool {
	if !IsEnabled(prefs, domain.PrefPosts) {
		return false
	}
	switch socialdomain.ParsePostType(string(prefs.PostType)) {
	case socialdomain.PostTypeAll:
		return true
	case socialdomain.PostTypeFollowing:
		for _, id := range following {
			if id == posterID {
				return true
			}
		}
	}
	return false
}
