package repository

import (
	"context"
	"errors"
	"time"

	"famnet-backend/internal/social/domain"

	"gorm.io/gorm"
)

type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a UserRepository backed by Postgres
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

func (r *gormUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *gormUserRepository) FindFollowers(ctx context.Context, userID string) ([]domain.User, error) {
	db := r.db.WithContext(ctx)

	var followers []domain.User
	sub := db.Model(&domain.Follow{}).Select("follower_id").Where("followee_id = ?", userID)
	if err := db.Where("id IN (?)", sub).Find(&followers).Error; err != nil {
		return nil, err
	}
	if len(followers) == 0 {
		return followers, nil
	}

	ids := make([]string, len(followers))
	for i, f := range followers {
		ids[i] = f.ID
	}
	var edges []domain.Follow
	if err := db.Where("follower_id IN ?", ids).Find(&edges).Error; err != nil {
		return nil, err
	}

	following := make(map[string][]string, len(followers))
	for _, e := range edges {
		following[e.FollowerID] = append(following[e.FollowerID], e.FolloweeID)
	}
	for i := range followers {
		followers[i].Following = following[followers[i].ID]
	}
	return followers, nil
}

func (r *gormUserRepository) UpdatePreferences(ctx context.Context, userID string, prefs domain.NotificationPreferences) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"notif_push_enabled": prefs.PushEnabled,
		"notif_post_type":    string(prefs.PostType),
		"notif_likes":        prefs.Likes,
		"notif_comments":     prefs.Comments,
		"notif_follow":       prefs.Follow,
		"notif_unfollow":     prefs.Unfollow,
		"updated_at":         time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SaveToken moves the token to userID atomically
func (r *gormUserRepository) SaveToken(ctx context.Context, userID string, reg domain.TokenRegistration) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.User{}).
			Where("notif_fcm_token = ? AND id <> ?", reg.Token, userID).
			Updates(map[string]interface{}{
				"notif_fcm_token":   nil,
				"notif_token_valid": false,
			}).Error; err != nil {
			return err
		}

		res := tx.Model(&domain.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"notif_fcm_token":        reg.Token,
			"notif_token_timestamp":  reg.At,
			"notif_token_valid":      true,
			"notif_device_info":      reg.DeviceInfo,
			"notif_last_sync_at":     reg.At,
			"notif_token_checked_at": reg.At,
			"updated_at":             time.Now(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

func (r *gormUserRepository) ClearUserToken(ctx context.Context, userID string) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"notif_fcm_token":   nil,
		"notif_token_valid": false,
		"updated_at":        time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *gormUserRepository) BulkClearTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("notif_fcm_token IN ?", tokens).
		Updates(map[string]interface{}{
			"notif_fcm_token":   nil,
			"notif_token_valid": false,
		})
	return res.RowsAffected, res.Error
}

func (r *gormUserRepository) FindStaleTokens(ctx context.Context, before time.Time, limit int) ([]domain.User, error) {
	var users []domain.User
	err := r.db.WithContext(ctx).
		Where("notif_fcm_token IS NOT NULL").
		Where("notif_token_checked_at IS NULL OR notif_token_checked_at < ?", before).
		Order("notif_token_checked_at ASC NULLS FIRST").
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *gormUserRepository) TouchToken(ctx context.Context, userID string, at time.Time) error {
	return r.updateToken(ctx, userID, map[string]interface{}{
		"notif_token_valid":      true,
		"notif_last_sync_at":     at,
		"notif_token_checked_at": at,
	})
}

func (r *gormUserRepository) MarkTokenChecked(ctx context.Context, userID string, at time.Time) error {
	return r.updateToken(ctx, userID, map[string]interface{}{
		"notif_token_checked_at": at,
	})
}

// updateToken applies updates when the user holds a token. A user without one is left
// alone; a missing user is ErrUserNotFound.
func (r *gormUserRepository) updateToken(ctx context.Context, userID string, updates map[string]interface{}) error {
	db := r.db.WithContext(ctx)
	res := db.Model(&domain.User{}).
		Where("id = ? AND notif_fcm_token IS NOT NULL", userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.Model(&domain.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

type gormPostRepository struct {
	db *gorm.DB
}

func NewGormPostRepository(db *gorm.DB) PostRepository {
	return &gormPostRepository{db: db}
}

func (r *gormPostRepository) FindByID(ctx context.Context, id string) (*domain.Post, error) {
	var post domain.Post
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &post, nil
}
