package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/wicara/internal/assist"
	"github.com/Tyrowin/wicara/internal/config"
	"github.com/Tyrowin/wicara/internal/logging"
	"github.com/Tyrowin/wicara/internal/ratelimit"
	"github.com/Tyrowin/wicara/internal/server"
	"github.com/Tyrowin/wicara/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting Wicara relay", "port", cfg.Server.Port, "db_driver", cfg.Database.Driver)

	st, err := store.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := server.Options{
		Config: cfg.Server,
		Store:  st,
		Logger: logger,
	}

	if cfg.Redis.Addr != "" {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.Redis.Addr, cfg.Redis.Password, "wicara:login", cfg.Redis.LoginLimit, cfg.Redis.LoginWindow)
		if err != nil {
			return fmt.Errorf("login limiter: %w", err)
		}
		defer limiter.Close()
		if err := limiter.Ping(context.Background()); err != nil {
			logger.Warn("redis unreachable; logins will be rejected until it recovers", "addr", cfg.Redis.Addr, "err", err)
		}
		opts.LoginLimiter = limiter
	}

	var gen assist.TextGenerator
	if cfg.Assist.GeminiAPIKey != "" {
		client, err := assist.NewGeminiClient(cfg.Assist.GeminiAPIKey, cfg.Assist.Model)
		if err != nil {
			return fmt.Errorf("gemini client: %w", err)
		}
		gen = client
	} else {
		logger.Warn("GEMINI_API_KEY not set; translation and assistant use fallbacks")
	}
	opts.Assistant = assist.NewAssistant(gen, cfg.Assist.Timeout, logger)

	srv, err := server.New(opts)
	if err != nil {
		return err
	}
	srv.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		return srv.Shutdown()
	})
	return g.Wait()
}
