package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"famnet-backend/internal/social/domain"
)

// MemoryStore keeps users, posts and follows in process. It backs the "memory"
// store driver for local runs and is the fixture store in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]domain.User
	posts   map[string]domain.Post
	follows map[string]map[string]bool // follower -> followees
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]domain.User),
		posts:   make(map[string]domain.Post),
		follows: make(map[string]map[string]bool),
	}
}

// Users returns the store as a UserRepository.
func (s *MemoryStore) Users() UserRepository { return memoryUsers{s} }

// Posts returns the store as a PostRepository.
func (s *MemoryStore) Posts() PostRepository { return memoryPosts{s} }

func (s *MemoryStore) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Following = nil
	s.users[u.ID] = u
}

func (s *MemoryStore) PutPost(p domain.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = p
}

func (s *MemoryStore) PutFollow(followerID, followeeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.follows[followerID] == nil {
		s.follows[followerID] = make(map[string]bool)
	}
	s.follows[followerID][followeeID] = true
}

// must be called with mu held
func (s *MemoryStore) withFollowing(u domain.User) domain.User {
	u.Following = nil
	for id := range s.follows[u.ID] {
		u.Following = append(u.Following, id)
	}
	if u.NotificationPreferences.FCMToken != nil {
		tok := *u.NotificationPreferences.FCMToken
		u.NotificationPreferences.FCMToken = &tok
	}
	return u
}

type memoryUsers struct{ s *MemoryStore }

func (m memoryUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, nil
	}
	out := m.s.withFollowing(u)
	return &out, nil
}

func (m memoryUsers) FindFollowers(_ context.Context, userID string) ([]domain.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	followers := []domain.User{}
	for followerID, followees := range m.s.follows {
		if !followees[userID] {
			continue
		}
		if u, ok := m.s.users[followerID]; ok {
			followers = append(followers, m.s.withFollowing(u))
		}
	}
	return followers, nil
}

func (m memoryUsers) UpdatePreferences(_ context.Context, userID string, prefs domain.NotificationPreferences) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	p := &u.NotificationPreferences
	p.PushEnabled = prefs.PushEnabled
	p.PostType = prefs.PostType
	p.Likes = prefs.Likes
	p.Comments = prefs.Comments
	p.Follow = prefs.Follow
	p.Unfollow = prefs.Unfollow
	m.s.users[userID] = u
	return nil
}

func (m memoryUsers) SaveToken(_ context.Context, userID string, reg domain.TokenRegistration) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	for id, other := range m.s.users {
		if id != userID && other.NotificationPreferences.Token() == reg.Token {
			other.NotificationPreferences.FCMToken = nil
			other.NotificationPreferences.TokenValid = false
			m.s.users[id] = other
		}
	}
	tok, at := reg.Token, reg.At
	p := &u.NotificationPreferences
	p.FCMToken = &tok
	p.TokenTimestamp = &at
	p.TokenValid = true
	p.DeviceInfo = reg.DeviceInfo
	p.LastSyncAt = &at
	p.TokenCheckedAt = &at
	m.s.users[userID] = u
	return nil
}

func (m memoryUsers) ClearUserToken(_ context.Context, userID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.NotificationPreferences.FCMToken = nil
	u.NotificationPreferences.TokenValid = false
	m.s.users[userID] = u
	return nil
}

func (m memoryUsers) BulkClearTokens(_ context.Context, tokens []string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	dead := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		dead[t] = true
	}
	var n int64
	for id, u := range m.s.users {
		if u.NotificationPreferences.FCMToken != nil && dead[*u.NotificationPreferences.FCMToken] {
			u.NotificationPreferences.FCMToken = nil
			u.NotificationPreferences.TokenValid = false
			m.s.users[id] = u
			n++
		}
	}
	return n, nil
}

func (m memoryUsers) FindStaleTokens(_ context.Context, before time.Time, limit int) ([]domain.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	stale := []domain.User{}
	for _, u := range m.s.users {
		p := u.NotificationPreferences
		if p.FCMToken == nil {
			continue
		}
		if p.TokenCheckedAt == nil || p.TokenCheckedAt.Before(before) {
			stale = append(stale, m.s.withFollowing(u))
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		a, b := stale[i].NotificationPreferences.TokenCheckedAt, stale[j].NotificationPreferences.TokenCheckedAt
		switch {
		case a == nil && b == nil:
		case a == nil:
			return true
		case b == nil:
			return false
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return stale[i].ID < stale[j].ID
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (m memoryUsers) TouchToken(_ context.Context, userID string, at time.Time) error {
	return m.updateToken(userID, func(p *domain.NotificationPreferences) {
		p.TokenValid = true
		p.LastSyncAt = &at
		p.TokenCheckedAt = &at
	})
}

func (m memoryUsers) MarkTokenChecked(_ context.Context, userID string, at time.Time) error {
	return m.updateToken(userID, func(p *domain.NotificationPreferences) {
		p.TokenCheckedAt = &at
	})
}

func (m memoryUsers) updateToken(userID string, apply func(p *domain.NotificationPreferences)) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if u.NotificationPreferences.FCMToken == nil {
		return nil
	}
	apply(&u.NotificationPreferences)
	m.s.users[userID] = u
	return nil
}

type memoryPosts struct{ s *MemoryStore }

func (m memoryPosts) FindByID(_ context.Context, id string) (*domain.Post, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	p, ok := m.s.posts[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}
