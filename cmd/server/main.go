package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cospace/internal/api"
	"cospace/internal/cache"
	"cospace/internal/config"
	"cospace/internal/routers"
	"cospace/internal/session"
	"cospace/internal/store"
	"cospace/internal/syncer"
)

// Indirections for tests.
var (
	listenAndServe = http.ListenAndServe
	exitFunc       = defaultExit
	exit           = os.Exit
)

func defaultExit(err error) {
	log.Printf("cospace: %v", err)
	exit(1)
}

func main() {
	if err := run(context.Background()); err != nil {
		exitFunc(err)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	st := store.NewGormStore(db, logger)
	if err := st.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Redis is best effort: without it rooms still work, rejoining
	// clients just lose editor continuity hints.
	var stateCache *cache.RoomStateCache
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, room state cache disabled",
			zap.String("addr", cfg.RedisAddr), zap.Error(err))
	} else {
		stateCache = cache.NewRoomStateCache(rdb, logger)
	}

	registry := session.NewRegistry(logger)
	coordinator := syncer.New(st, logger, cfg.DebounceInterval)

	h := api.NewHandlers(logger, st, stateCache, registry, coordinator, cfg.JoinGrace, cfg.TokenTTL)
	router := routers.New(h)

	addr := ":" + cfg.Port
	logger.Info("cospace listening", zap.String("addr", addr))
	return listenAndServe(addr, router)
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PostgresDSN != "" {
		return gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	}
	// sqlite fallback for local development
	return gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{})
}
