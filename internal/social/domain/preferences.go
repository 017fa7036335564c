package domain

import (
	"strings"
	"time"
)

// PostType controls which new posts reach a user.
type PostType string

const (
	PostTypeAll       PostType = "all"       // every new post from anyone
	PostTypeFollowing PostType = "following" // only from accounts the user follows
	PostTypeNone      PostType = "none"
)

// ParsePostType normalizes a stored value. Anything unrecognized, including
// spellings from older app versions, is treated as none.
func ParsePostType(s string) PostType {
	switch PostType(strings.ToLower(strings.TrimSpace(s))) {
	case PostTypeAll:
		return PostTypeAll
	case PostTypeFollowing:
		return PostTypeFollowing
	default:
		return PostTypeNone
	}
}

// NotificationPreferences is embedded in the user profile.
type NotificationPreferences struct {
	PushEnabled bool     `json:"pushEnabled" gorm:"column:push_enabled"`
	PostType    PostType `json:"postType" gorm:"column:post_type;type:varchar(16)"`
	Likes       bool     `json:"likes" gorm:"column:likes"`
	Comments    bool     `json:"comments" gorm:"column:comments"`
	Follow      bool     `json:"follow" gorm:"column:follow"`
	Unfollow    bool     `json:"unfollow" gorm:"column:unfollow"`

	// FCMToken is nil when the user has no deliverable device.
	FCMToken       *string    `json:"-" gorm:"column:fcm_token;index"`
	TokenTimestamp *time.Time `json:"tokenTimestamp,omitempty" gorm:"column:token_timestamp"`
	TokenValid     bool       `json:"tokenValid" gorm:"column:token_valid"`
	DeviceInfo     string     `json:"deviceInfo,omitempty" gorm:"column:device_info"`
	LastSyncAt     *time.Time `json:"lastSyncAt,omitempty" gorm:"column:last_sync_at"`
	// TokenCheckedAt is the last provider check of any outcome; the stale-token sweep orders by it.
	TokenCheckedAt *time.Time `json:"-" gorm:"column:token_checked_at;index"`
}

// DefaultPreferences is what a new profile starts with.
func DefaultPreferences() NotificationPreferences {
	return NotificationPreferences{
		PushEnabled: true,
		PostType:    PostTypeAll,
		Likes:       true,
		Comments:    true,
		Follow:      true,
		Unfollow:    false,
	}
}

// Token returns the registered push token, or "" when there is none.
func (p NotificationPreferences) Token() string {
	if p.FCMToken == nil {
		return ""
	}
	return strings.TrimSpace(*p.FCMToken)
}

func (p NotificationPreferences) HasToken() bool {
	return p.Token() != ""
}

// TokenRegistration is what a client reports when it obtains or refreshes a push token.
type TokenRegistration struct {
	Token      string
	DeviceInfo string
	At         time.Time
}
