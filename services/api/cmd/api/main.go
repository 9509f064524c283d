package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bookshelf/internal/util"
	"bookshelf/services/api/internal/app"
	"bookshelf/services/api/internal/config"
	"bookshelf/services/api/internal/security"
	"bookshelf/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(config.ResolvePath())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	shutdownTimeout, err := config.ParseShutdownTimeout(cfg.ShutdownTimeout)
	if err != nil {
		log.Fatalf("failed to parse shutdown timeout: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DatabaseURL:        cfg.DatabaseURL,
		RedisAddr:          cfg.RedisAddr,
		RedisPassword:      cfg.RedisPassword,
		TokenSecret:        []byte(cfg.JWTSecret),
		SessionTTL:         sessionTTL,
		JWTIssuer:          cfg.JWTIssuer,
		JWTAudience:        cfg.JWTAudience,
		JWTLeeway:          jwtLeeway,
		PasswordHashCost:   cfg.PasswordHashCost,
		SavedBooksStrategy: cfg.SavedBooksStrategy,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer func() {
		if err := appCore.Close(); err != nil {
			logger.Error("close app", "err", err)
		}
	}()
	if cfg.DatabaseURL == "" {
		logger.Warn("no databaseURL configured, users are kept in memory")
	}

	monitor, err := security.NewFailureMonitor(security.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("failed to init failure monitor: %v", err)
	}
	defer monitor.Close()

	httpServer := server.New(server.Config{
		App:            appCore,
		Monitor:        monitor,
		TrustedProxies: trusted,
		AllowedOrigins: cfg.AllowedOrigins,
		Ready:          appCore.Ping,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api server listening", "addr", addr, "saved_books_strategy", cfg.SavedBooksStrategy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down", "timeout", shutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
