package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"shelfshare/docs"
	"shelfshare/internal/auth"
	"shelfshare/internal/cache"
	"shelfshare/internal/config"
	"shelfshare/internal/db"
	"shelfshare/internal/handler"
	"shelfshare/internal/observability"
	"shelfshare/internal/ratelimit"
	"shelfshare/internal/repository"
	"shelfshare/internal/router"
	"shelfshare/internal/service"
)

// @title Shelfshare API
// @version 1.0
// @description Book-sharing forums: shared catalog, forum membership with a standing admin, and account succession.
// @host localhost:8080
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger := observability.InitLogger("shelfshare", cfg.LogLevel, cfg.LogPretty)
	observability.RegisterMetrics()

	gormDB, err := db.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("database init")
	}
	if os.Getenv("RESET_DB") == "true" {
		logger.Warn().Msg("RESET_DB=true detected, dropping all tables")
		if err := db.Reset(gormDB); err != nil {
			logger.Fatal().Err(err).Msg("reset database")
		}
	}
	if err := db.Migrate(gormDB); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	store := repository.NewStore(gormDB,
		repository.WithMaxRetries(cfg.TxMaxRetries),
		repository.WithLogger(logger),
		repository.WithRetryHook(func(err error) {
			observability.RecordTxRetry(retryReason(err))
		}),
	)

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cacheClient.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	if err := cacheClient.Ping(pingCtx); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, caching and token revocation degraded")
	}
	cancelPing()

	picker, err := service.NewSuccessorPicker(cfg.SuccessionPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("succession policy")
	}

	// Initialize auth components
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	tokenStore := auth.NewTokenStore(cacheClient)
	hasher := auth.NewBcryptHasher()

	// Initialize services
	authService := service.NewAuthService(store.Repositories().Users, hasher, jwtService, tokenStore)
	catalogService := service.NewCatalogService(store, cacheClient, logger)
	forumService := service.NewForumService(store, logger)
	accountService := service.NewAccountService(store, hasher, picker, cacheClient, logger)

	authLimiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer authLimiter.Stop()

	if cfg.SwaggerHost != "" {
		docs.SwaggerInfo.Host = strings.TrimPrefix(strings.TrimPrefix(cfg.SwaggerHost, "https://"), "http://")
	}

	e := echo.New()
	e.HideBanner = true
	router.Register(e, logger, jwtService, tokenStore, authLimiter, router.Handlers{
		Auth:  handler.NewAuthHandler(authService, logger),
		User:  handler.NewUserHandler(accountService, catalogService, logger),
		Book:  handler.NewBookHandler(catalogService, logger),
		Forum: handler.NewForumHandler(forumService, logger),
	})

	addr := ":" + cfg.ServerPort
	go func() {
		logger.Info().
			Str("addr", addr).
			Str("db_driver", cfg.DBDriver).
			Str("succession_policy", picker.Name()).
			Msg("server starting")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

func retryReason(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return "duplicate_key"
	default:
		return "lock_conflict"
	}
}
