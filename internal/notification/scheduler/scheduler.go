package scheduler

import (
	"context"
	"sync"
	"time"

	"famnet-backend/internal/notification/usecase"
	"famnet-backend/internal/social/repository"
	"famnet-backend/pkg/fcm"

	"go.uber.org/zap"
)

const defaultBatchSize = 200

// TokenValidator dry-runs a token against the push provider.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) fcm.Result
}

// TokenSweepScheduler periodically re-checks tokens that have not been
// verified recently and clears the ones the provider rejects.
type TokenSweepScheduler struct {
	users      repository.UserRepository
	validator  TokenValidator
	hygiene    *usecase.TokenHygiene
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
	logger     *zap.Logger

	started  bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

func NewTokenSweepScheduler(
	users repository.UserRepository,
	validator TokenValidator,
	hygiene *usecase.TokenHygiene,
	interval, staleAfter time.Duration,
	logger *zap.Logger,
) *TokenSweepScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hygiene == nil {
		hygiene = usecase.NewTokenHygiene(users, nil, logger)
	}
	return &TokenSweepScheduler{
		users:      users,
		validator:  validator,
		hygiene:    hygiene,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  defaultBatchSize,
		now:        time.Now,
		logger:     logger,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins the sweep loop. A zero interval disables it.
func (s *TokenSweepScheduler) Start(ctx context.Context) {
	s.started = true
	if s.interval <= 0 || s.validator == nil {
		s.logger.Info("token sweep disabled")
		close(s.done)
		return
	}

	s.logger.Info("starting token sweep", zap.Duration("interval", s.interval), zap.Duration("stale_after", s.staleAfter))
	go func() {
		defer close(s.done)

		s.RunOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-s.stopChan:
				s.logger.Info("token sweep stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *TokenSweepScheduler) Stop() {
	if !s.started {
		return
	}
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}

// RunOnce checks one batch of stale tokens and returns how many were checked
// and how many were found invalid.
func (s *TokenSweepScheduler) RunOnce(ctx context.Context) (checked, invalid int) {
	cutoff := s.now().Add(-s.staleAfter)
	users, err := s.users.FindStaleTokens(ctx, cutoff, s.batchSize)
	if err != nil {
		s.logger.Error("failed to load stale tokens", zap.Error(err))
		return 0, 0
	}
	if len(users) == 0 {
		return 0, 0
	}

	var dead []string
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		token := u.NotificationPreferences.Token()
		if token == "" {
			continue
		}
		checked++

		res := s.validator.ValidateToken(ctx, token)
		var err error
		switch {
		case res.Success:
			err = s.users.TouchToken(ctx, u.ID, s.now())
		case res.InvalidToken:
			dead = append(dead, token)
			err = s.users.MarkTokenChecked(ctx, u.ID, s.now())
		default:
			// Recorded so the next batch moves past this token instead of retrying it.
			s.logger.Debug("token check inconclusive", zap.String("user_id", u.ID), zap.String("error", res.Error))
			err = s.users.MarkTokenChecked(ctx, u.ID, s.now())
		}
		if err != nil {
			s.logger.Warn("failed to record token check", zap.String("user_id", u.ID), zap.Error(err))
		}
	}

	if len(dead) > 0 {
		s.hygiene.CleanupInvalidTokens(ctx, dead)
	}
	s.logger.Info("token sweep finished", zap.Int("checked", checked), zap.Int("invalid", len(dead)))
	return checked, len(dead)
}
