package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	cronpkg "github.com/activemerchant/active-merchant-sub021/internal/cron"
	"github.com/activemerchant/active-merchant-sub021/internal/gateway"
	"github.com/activemerchant/active-merchant-sub021/internal/middleware"
	"github.com/activemerchant/active-merchant-sub021/internal/router"
	"github.com/activemerchant/active-merchant-sub021/internal/tokencache"
)

func main() {
	// --- Logger ---
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Redis (optional, in-memory fallback) ---
	rdb, err := config.NewRedis(cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory token cache and idempotency guard", zap.Error(err))
	}

	// --- Token cache ---
	var (
		store   tokencache.Store
		sweeper cronpkg.Sweeper
	)
	if rdb != nil {
		store = tokencache.NewRedisStore(rdb, "gw:token")
	} else {
		mem := tokencache.NewMemoryStore()
		store, sweeper = mem, mem
	}
	tokens := tokencache.New(store, tokencache.WithLogger(logger))

	// --- Gateways ---
	gateways, err := gateway.NewSet(cfg.Gateways, gateway.Deps{Logger: logger, Tokens: tokens})
	if err != nil {
		logger.Fatal("Failed to configure gateways", zap.Error(err))
	}

	if hasArg("--list-gateways") {
		for _, name := range gateways.Names() {
			gw, _ := gateways.Get(name)
			fmt.Printf("%s\t%s\n", name, gw.Name())
		}
		return
	}

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true

	// --- Routes ---
	router.Setup(e, gateways, logger, router.Options{
		APIKey:      cfg.API.Key,
		HashFile:    cfg.API.HashFile,
		Transcripts: cfg.Log.Transcripts,
		Deduper:     middleware.NewDeduper(rdb, 24*time.Hour),
	})

	// --- Cron Scheduler ---
	scheduler := cronpkg.New(sweeper, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting gateway server", zap.String("addr", addr), zap.Strings("gateways", gateways.Names()))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop cron
	ctx := scheduler.Stop()
	<-ctx.Done()

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if rdb != nil {
		_ = rdb.Close()
	}
	logger.Info("Server exited")
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func hasArg(name string) bool {
	for _, arg := range os.Args[1:] {
		if arg == name {
			return true
		}
	}
	return false
}
