// Package directory resolves user display fields and push-notification
// targets for the delivery core. It is the chat core's view of the wider
// user subsystem, not a full profile service.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"nesgem/infrastructure"
	"nesgem/internal/cache"
	"nesgem/internal/database"
)

// DisplayName picks the best human-readable name for a user: username,
// then "first last", then email, then phone number.
func DisplayName(username, firstName, lastName, email, phone string) string {
	if username != "" {
		return username
	}
	if full := strings.TrimSpace(firstName + " " + lastName); full != "" {
		return full
	}
	if email != "" {
		return email
	}
	return phone
}

type Service struct {
	db    *database.Database
	cache *cache.RedisCache
	ttl   time.Duration
	log   *slog.Logger
}

func NewService(db *database.Database, cache *cache.RedisCache, ttl time.Duration, log *slog.Logger) *Service {
	return &Service{db: db, cache: cache, ttl: ttl, log: log}
}

func (s *Service) ResolveDisplayName(ctx context.Context, userID string) (string, error) {
	key := "directory:name:" + userID
	if name, err := s.cached(ctx, key); err == nil {
		return name, nil
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return "", err
	}

	name := DisplayName(user.Username, user.FirstName, user.LastName, user.Email, user.PhoneNumber)
	s.store(ctx, key, name)
	return name, nil
}

func (s *Service) ResolvePushToken(ctx context.Context, userID string) (string, error) {
	key := "directory:push:" + userID
	if token, err := s.cached(ctx, key); err == nil {
		return token, nil
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return "", err
	}

	s.store(ctx, key, user.PushToken)
	return user.PushToken, nil
}

// SubscribePushToken stores the client's push token and drops the stale
// cache entry so the next dispatch sees it.
func (s *Service) SubscribePushToken(ctx context.Context, userID, token string) error {
	if token == "" {
		return infrastructure.ErrInvalidInput
	}

	res := s.db.WithContext(ctx).Model(&database.User{}).Where("id = ?", userID).Update("push_token", token)
	if res.Error != nil {
		return fmt.Errorf("failed to update push token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return infrastructure.ErrUserNotFound
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, "directory:push:"+userID); err != nil {
			s.log.Warn("failed to invalidate push token cache", "user_id", userID, "error", err)
		}
	}
	return nil
}

func (s *Service) findUser(ctx context.Context, userID string) (*database.User, error) {
	var user database.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, infrastructure.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) cached(ctx context.Context, key string) (string, error) {
	if s.cache == nil {
		return "", redis.Nil
	}
	return s.cache.Get(ctx, key)
}

func (s *Service) store(ctx context.Context, key, value string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.log.Warn("failed to cache directory entry", "key", key, "error", err)
	}
}
