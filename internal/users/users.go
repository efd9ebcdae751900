package users

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vkchatbot/vkchatbot/internal/vk"
)

// Lookup resolves VK user ids to profiles.
type Lookup interface {
	UsersGet(ctx context.Context, ids []int64) ([]vk.User, error)
}

// Service resolves display names for message senders, caching profiles in
// memory for the process lifetime. Names change rarely enough that the cache
// never expires.
type Service struct {
	lookup Lookup
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[int64]vk.User
}

// NewService creates a user name service.
func NewService(log *slog.Logger, lookup Lookup) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		lookup: lookup,
		logger: log.With(slog.String("service", "users")),
		cache:  make(map[int64]vk.User),
	}
}

// DisplayName returns "First Last" for the user, or "id<N>" when the profile
// cannot be resolved. Negative ids belong to communities and are not looked
// up.
func (s *Service) DisplayName(ctx context.Context, userID int64) string {
	if userID <= 0 {
		return fmt.Sprintf("id%d", userID)
	}

	s.mu.RLock()
	user, ok := s.cache[userID]
	s.mu.RUnlock()
	if ok {
		return user.FirstName + " " + user.LastName
	}

	profiles, err := s.lookup.UsersGet(ctx, []int64{userID})
	if err != nil || len(profiles) == 0 {
		if err != nil {
			s.logger.Warn("failed to resolve user", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return fmt.Sprintf("id%d", userID)
	}

	s.mu.Lock()
	s.cache[userID] = profiles[0]
	s.mu.Unlock()
	return profiles[0].FirstName + " " + profiles[0].LastName
}
