//go:build wireinject
// +build wireinject

package di

import (
	"database/sql"
	"log/slog"

	"github.com/google/wire"

	"nesgem/config"
	"nesgem/internal/api"
	"nesgem/internal/cache"
	"nesgem/internal/chat"
	"nesgem/internal/database"
	"nesgem/internal/directory"
	"nesgem/internal/presence"
	"nesgem/internal/socket"
)

func InitializeServer(cfg *config.Config, db *database.Database, sqlDB *sql.DB, rc *cache.RedisCache, logger *slog.Logger) *api.Server {
	wire.Build(
		provideChatRepository,
		provideMessageRepository,
		provideDeliveryRepository,
		presence.NewRegistry,
		provideDirectory,
		provideDispatcher,
		provideCoordinatorOptions,
		chat.NewCoordinator,
		wire.Bind(new(chat.Presence), new(*presence.Registry)),
		wire.Bind(new(chat.Directory), new(*directory.Service)),
		wire.Bind(new(socket.Core), new(*chat.Coordinator)),
		provideJWT,
		provideSessionOptions,
		socket.NewGateway,
		provideServer,
	)
	return nil
}
