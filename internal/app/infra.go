package app

import (
	"context"

	"portfolio-chat/internal/config"
	"portfolio-chat/internal/logger"
	"portfolio-chat/internal/ratelimit"
	"portfolio-chat/internal/repository/db"
	"portfolio-chat/internal/repository/postgres"
)

// NewRateLimitStore returns the shared Redis store when one is configured and
// the in-process map otherwise. The returned func releases the store.
func NewRateLimitStore(ctx context.Context, rateLimitConfig config.RateLimitConfig) (ratelimit.Store, func(), error) {
	if rateLimitConfig.RedisURL == "" {
		return ratelimit.NewMemoryStore(), func() {}, nil
	}

	store, err := ratelimit.NewRedisStoreFromURL(ctx, rateLimitConfig.RedisURL)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to connect to Redis")
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

// OpenStore returns nil when no store is configured or it cannot be reached;
// the relay then runs without conversation logging.
func OpenStore(storeConfig config.StoreConfig) db.Database {
	if !storeConfig.Enabled() {
		return nil
	}

	database, err := postgres.NewPostgresDB(storeConfig)
	if err != nil {
		logger.Log.WithError(err).Error("Conversation store unavailable, logging disabled")
		return nil
	}
	logger.Log.Info("Conversation store connected")
	return database
}
