package di

import (
	"database/sql"
	"log/slog"

	"nesgem/config"
	"nesgem/internal/api"
	"nesgem/internal/cache"
	"nesgem/internal/chat"
	"nesgem/internal/database"
	"nesgem/internal/directory"
	"nesgem/internal/notifications"
	"nesgem/internal/socket"
	"nesgem/pkg/jwt"
)

func provideChatRepository(db *sql.DB) chat.ChatRepository {
	return chat.NewPostgresChatRepository(db)
}

func provideMessageRepository(db *sql.DB) chat.MessageRepository {
	return chat.NewPostgresMessageRepository(db)
}

func provideDeliveryRepository(db *sql.DB) chat.DeliveryRepository {
	return chat.NewPostgresDeliveryRepository(db)
}

func provideDirectory(cfg *config.Config, db *database.Database, rc *cache.RedisCache, logger *slog.Logger) *directory.Service {
	return directory.NewService(db, rc, cfg.DirectoryTTL, logger)
}

func provideDispatcher(cfg *config.Config) notifications.Dispatcher {
	return notifications.NewFCMClient(cfg.FCMEndpoint, cfg.FCMServerKey)
}

func provideCoordinatorOptions(cfg *config.Config) chat.CoordinatorOptions {
	return chat.CoordinatorOptions{
		PreviewLength: cfg.PreviewLength,
		DeepLinkBase:  cfg.DeepLinkBase,
	}
}

func provideJWT(cfg *config.Config) *jwt.JWT {
	return jwt.NewJWT(cfg.JWTSecret, 15*60)
}

func provideSessionOptions(cfg *config.Config) socket.SessionOptions {
	return socket.SessionOptions{
		WriteTimeout:   cfg.WriteTimeout,
		PongTimeout:    cfg.PongTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
	}
}

func provideServer(
	gateway *socket.Gateway,
	dir *directory.Service,
	chats chat.ChatRepository,
	messages chat.MessageRepository,
	tokens *jwt.JWT,
	cfg *config.Config,
	logger *slog.Logger,
) *api.Server {
	return api.NewServer(gateway, dir, chats, messages, tokens, cfg.RateLimitRPS, logger)
}
