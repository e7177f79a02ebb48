package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"woodland-client/internal/api"
	"woodland-client/internal/cache"
	"woodland-client/internal/config"
	"woodland-client/internal/repo"
	"woodland-client/internal/service"
	"woodland-client/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. Load Config
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		panic(err)
	}

	// 2. Init Logger
	if err := logger.InitLogger(cfg.Bridge.Mode); err != nil {
		panic(err)
	}
	defer logger.Log.Sync()

	logger.Log.Info("Starting client...", zap.String("mode", cfg.Bridge.Mode), zap.String("server", cfg.Server.BaseURL))

	// 3. Init Journal & Cache
	db, err := repo.OpenDB(cfg.Journal)
	if err != nil {
		logger.Log.Fatal("failed to open journal", zap.Error(err))
	}
	var journal service.Journal
	if db != nil {
		journal = repo.NewJournal(db)
	}

	var store cache.Store = cache.NewMemoryStore()
	if cfg.Cache.Driver == "redis" {
		rdb, err := repo.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Log.Fatal("failed to open redis", zap.Error(err))
		}
		defer rdb.Close()
		ns := uuid.NewString()
		store = cache.Namespace(cache.NewRedisStore(rdb, cfg.Redis.Prefix, cfg.Cache.TTL), ns)
		logger.Log.Info("redis cache namespace", zap.String("namespace", ns))
	}

	// 3.5 Init Services
	services := service.NewContainer(cfg, store, journal)
	if err := services.Start(ctx); err != nil {
		logger.Log.Fatal("failed to start services", zap.Error(err))
	}
	defer services.Close(context.Background())

	// 4. Init Router
	if cfg.Bridge.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	api.RegisterRoutes(r, services)

	// 5. Start Bridge
	addr := fmt.Sprintf("127.0.0.1:%s", cfg.Bridge.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Bridge listening", zap.String("addr", addr))
		errCh <- r.Run(addr)
	}()

	select {
	case <-ctx.Done():
		logger.Log.Info("Shutting down")
	case err := <-errCh:
		logger.Log.Error("Bridge failed", zap.Error(err))
	}
}
