package storage

import (
	"context"
	"fmt"

	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Service bundles the optional backing stores. Either field may be nil when
// its address is not configured.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// Open connects to whatever cfg enables and migrates the profile table.
func Open(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Service, error) {
	s := &Service{}

	if cfg.DatabaseURL != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.WithContext(ctx).AutoMigrate(&models.Profile{}); err != nil {
			return nil, fmt.Errorf("failed to migrate profiles: %w", err)
		}
		s.DB = db
		logger.Info().Msg("connected to postgres")
	} else {
		logger.Info().Msg("DATABASE_URL not set, profiles disabled")
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.Redis = rdb
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	} else {
		logger.Info().Msg("REDIS_ADDR not set, waiting queues are memory only")
	}

	return s, nil
}

// Close releases every open connection.
func (s *Service) Close() error {
	var firstErr error
	if s.Redis != nil {
		firstErr = s.Redis.Close()
	}
	if s.DB != nil {
		if sqlDB, err := s.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
