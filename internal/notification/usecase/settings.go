package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	socialdomain "famnet-backend/internal/social/domain"
	"famnet-backend/internal/social/repository"
	"famnet-backend/pkg/fcm"

	"go.uber.org/zap"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmptyToken   = errors.New("token is required")
	ErrNoToken      = errors.New("no push token registered")
	ErrPushDisabled = errors.New("push notifications are disabled")
)

// DefaultRefreshAfter is how old a token may get before the client is asked to refresh it.
const DefaultRefreshAfter = 7 * 24 * time.Hour

// TokenChecker is the part of the delivery client the settings service uses.
type TokenChecker interface {
	ValidateToken(ctx context.Context, token string) fcm.Result
	SendOne(ctx context.Context, token string, notification fcm.NotificationData) fcm.Result
}

// SettingsPatch is a partial preferences update. Nil fields are left unchanged.
type SettingsPatch struct {
	PushEnabled *bool   `json:"pushEnabled"`
	PostType    *string `json:"postType"`
	Likes       *bool   `json:"likes"`
	Comments    *bool   `json:"comments"`
	Follow      *bool   `json:"follow"`
	Unfollow    *bool   `json:"unfollow"`
}

// Settings is the user-facing view of the preferences. The token itself never leaves the server.
type Settings struct {
	socialdomain.NotificationPreferences
	HasToken bool `json:"hasToken"`
}

type TokenStatus struct {
	HasToken       bool       `json:"hasToken"`
	TokenValid     bool       `json:"tokenValid"`
	NeedsRefresh   bool       `json:"needsRefresh"`
	TokenTimestamp *time.Time `json:"tokenTimestamp,omitempty"`
	DeviceInfo     string     `json:"deviceInfo,omitempty"`
}

type SettingsService struct {
	users        repository.UserRepository
	push         TokenChecker
	hygiene      *TokenHygiene
	refreshAfter time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

func NewSettingsService(users repository.UserRepository, push TokenChecker, hygiene *TokenHygiene, refreshAfter time.Duration, logger *zap.Logger) *SettingsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hygiene == nil {
		hygiene = NewTokenHygiene(users, nil, logger)
	}
	if refreshAfter <= 0 {
		refreshAfter = DefaultRefreshAfter
	}
	return &SettingsService{
		users:        users,
		push:         push,
		hygiene:      hygiene,
		refreshAfter: refreshAfter,
		now:          time.Now,
		logger:       logger,
	}
}

func (s *SettingsService) user(ctx context.Context, userID string) (*socialdomain.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *SettingsService) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toSettings(u.NotificationPreferences), nil
}

// UpdateSettings applies patch to the stored opt-ins. Token fields cannot be written here.
func (s *SettingsService) UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (*Settings, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	prefs := u.NotificationPreferences
	if patch.PushEnabled != nil {
		prefs.PushEnabled = *patch.PushEnabled
	}
	if patch.PostType != nil {
		prefs.PostType = socialdomain.ParsePostType(*patch.PostType)
	}
	if patch.Likes != nil {
		prefs.Likes = *patch.Likes
	}
	if patch.Comments != nil {
		prefs.Comments = *patch.Comments
	}
	if patch.Follow != nil {
		prefs.Follow = *patch.Follow
	}
	if patch.Unfollow != nil {
		prefs.Unfollow = *patch.Unfollow
	}

	if err := s.users.UpdatePreferences(ctx, userID, prefs); err != nil {
		return nil, s.storeErr("update preferences", userID, err)
	}
	s.logger.Info("preferences updated", zap.String("user_id", userID), zap.Bool("push_enabled", prefs.PushEnabled))
	return toSettings(prefs), nil
}

// RegisterToken binds a device token to userID. A token belongs to one user
// at a time, so any previous owner loses it.
func (s *SettingsService) RegisterToken(ctx context.Context, userID, token, deviceInfo string) (*TokenStatus, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}

	at := s.now()
	reg := socialdomain.TokenRegistration{Token: token, DeviceInfo: strings.TrimSpace(deviceInfo), At: at}
	if err := s.users.SaveToken(ctx, userID, reg); err != nil {
		return nil, s.storeErr("save token", userID, err)
	}
	s.logger.Info("push token registered", zap.String("user_id", userID), zap.String("device", reg.DeviceInfo))
	return &TokenStatus{HasToken: true, TokenValid: true, TokenTimestamp: &at, DeviceInfo: reg.DeviceInfo}, nil
}

func (s *SettingsService) UnregisterToken(ctx context.Context, userID string) error {
	if err := s.users.ClearUserToken(ctx, userID); err != nil {
		return s.storeErr("clear token", userID, err)
	}
	s.logger.Info("push token removed", zap.String("user_id", userID))
	return nil
}

func (s *SettingsService) TokenStatus(ctx context.Context, userID string) (*TokenStatus, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.status(u.NotificationPreferences), nil
}

func (s *SettingsService) status(p socialdomain.NotificationPreferences) *TokenStatus {
	st := &TokenStatus{
		HasToken:       p.HasToken(),
		TokenValid:     p.HasToken() && p.TokenValid,
		TokenTimestamp: p.TokenTimestamp,
		DeviceInfo:     p.DeviceInfo,
	}
	switch {
	case !st.HasToken:
	case !st.TokenValid, p.TokenTimestamp == nil:
		st.NeedsRefresh = true
	default:
		st.NeedsRefresh = s.now().Sub(*p.TokenTimestamp) > s.refreshAfter
	}
	return st
}

// ValidateToken checks the stored token with a dry-run send and clears it when
// the provider no longer accepts it.
func (s *SettingsService) ValidateToken(ctx context.Context, userID string) (*TokenStatus, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	token := u.NotificationPreferences.Token()
	if token == "" {
		return nil, ErrNoToken
	}

	res := s.push.ValidateToken(ctx, token)
	switch {
	case res.Success:
		at := s.now()
		if err := s.users.TouchToken(ctx, userID, at); err != nil {
			s.logger.Warn("failed to record token check", zap.String("user_id", userID), zap.Error(err))
		}
		u.NotificationPreferences.TokenValid = true
		u.NotificationPreferences.LastSyncAt = &at
	case res.InvalidToken:
		s.hygiene.CleanupInvalidTokens(ctx, []string{token})
		u.NotificationPreferences.FCMToken = nil
		u.NotificationPreferences.TokenValid = false
	default:
		return nil, fmt.Errorf("validate token: %w", res.Cause())
	}
	return s.status(u.NotificationPreferences), nil
}

// SendTest pushes a test message to the caller's own device. Per-type flags
// are ignored but the master switch is not.
func (s *SettingsService) SendTest(ctx context.Context, userID string) (*fcm.Result, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	prefs := u.NotificationPreferences
	if !prefs.PushEnabled {
		return nil, ErrPushDisabled
	}
	token := prefs.Token()
	if token == "" {
		return nil, ErrNoToken
	}

	res := s.push.SendOne(ctx, token, fcm.NotificationData{
		Title:       "Test Notification",
		Body:        "Push notifications are working",
		Data:        map[string]string{DataType: "test", DataClickTarget: "/"},
		ClickAction: "/",
	})
	if res.InvalidToken {
		s.hygiene.CleanupInvalidTokens(ctx, []string{token})
	}
	return &res, nil
}

func (s *SettingsService) storeErr(op, userID string, err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrUserNotFound
	}
	s.logger.Error("settings store error", zap.String("op", op), zap.String("user_id", userID), zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

func toSettings(p socialdomain.NotificationPreferences) *Settings {
	p.PostType = socialdomain.ParsePostType(string(p.PostType))
	return &Settings{NotificationPreferences: p, HasToken: p.HasToken()}
}
