package usecase

import (
	"context"
	"strings"

	"famnet-backend/internal/social/repository"
	"famnet-backend/pkg/metrics"

	"go.uber.org/zap"
)

type TokenHygiene struct {
	users   repository.UserRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewTokenHygiene(users repository.UserRepository, m *metrics.Metrics, logger *zap.Logger) *TokenHygiene {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenHygiene{users: users, metrics: m, logger: logger}
}

// CleanupInvalidTokens clears every stored copy of the given tokens in one bulk update.
// Failures are logged and swallowed.
func (h *TokenHygiene) CleanupInvalidTokens(ctx context.Context, tokens []string) {
	seen := make(map[string]bool, len(tokens))
	unique := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		unique = append(unique, t)
	}
	if len(unique) == 0 {
		return
	}

	cleared, err := h.users.BulkClearTokens(ctx, unique)
	if err != nil {
		h.metrics.ObserveCleanup("error")
		h.logger.Error("failed to clear invalid tokens", zap.Int("tokens", len(unique)), zap.Error(err))
		return
	}
	h.metrics.ObserveCleanup("ok")
	h.logger.Info("cleared invalid tokens", zap.Int("tokens", len(unique)), zap.Int64("users", cleared))
}
