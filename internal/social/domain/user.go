package domain

import "time"

// User is the slice of the profile record the notification pipeline reads.
type User struct {
	ID                      string                  `json:"id" gorm:"primaryKey"`
	Username                string                  `json:"username" gorm:"uniqueIndex;not null"`
	NotificationPreferences NotificationPreferences `json:"notificationPreferences" gorm:"embedded;embeddedPrefix:notif_"`
	// Following holds the ids of accounts this user follows. Loaded separately.
	Following []string  `json:"following,omitempty" gorm:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Follows reports whether the user follows userID.
func (u *User) Follows(userID string) bool {
	for _, id := range u.Following {
		if id == userID {
			return true
		}
	}
	return false
}

type Post struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index;not null"`
	Caption   string    `json:"caption"`
	CreatedAt time.Time `json:"created_at"`
}

// Follow is one edge of the social graph: FollowerID follows FolloweeID.
type Follow struct {
	FollowerID string    `json:"follower_id" gorm:"primaryKey"`
	FolloweeID string    `json:"followee_id" gorm:"primaryKey;index"`
	CreatedAt  time.Time `json:"created_at"`
}
