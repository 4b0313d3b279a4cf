package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/smith3v/flashdeck/pkg/api"
	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/config"
	"github.com/smith3v/flashdeck/pkg/db"
	"github.com/smith3v/flashdeck/pkg/decks"
	"github.com/smith3v/flashdeck/pkg/identity"
	"github.com/smith3v/flashdeck/pkg/logger"
	"github.com/smith3v/flashdeck/pkg/progress"
	"github.com/smith3v/flashdeck/pkg/study"
	"github.com/spf13/pflag"
	"gorm.io/gorm"
)

func main() {
	fs := pflag.NewFlagSet("flashdeck", pflag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML config file")
	migrateOnly := fs.Bool("migrate-only", false, "apply the schema and exit")
	seedUser := fs.String("seed-user", "", "register this email before serving")
	seedPassword := fs.String("seed-password", "", "password for --seed-user")
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := logger.Configure(logger.Options{
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
		Format: cfg.Log.Format,
	}); err != nil {
		logger.Error("failed to configure logger", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gdb, err := db.Open(ctx, cfg.Database, cfg.Log.GormLevel)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	if err := db.Migrate(gdb); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	if *migrateOnly {
		logger.Info("schema is up to date")
		return
	}

	tokens := identity.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.ResetTokenTTL)
	ids, err := identity.NewService(gdb, tokens, identity.LogNotifier{}, identity.Options{
		BcryptCost:        cfg.Auth.BcryptCost,
		RequireResetToken: cfg.Auth.RequireResetToken,
	})
	if err != nil {
		logger.Error("failed to create identity service", "error", err)
		os.Exit(1)
	}

	if *seedUser != "" {
		if err := seed(ctx, ids, *seedUser, *seedPassword); err != nil {
			logger.Error("failed to seed user", "email", *seedUser, "error", err)
			os.Exit(1)
		}
	}

	if err := serve(ctx, cfg, gdb, ids); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

// seed registers a user, treating an existing account as success.
func seed(ctx context.Context, ids *identity.Service, email, password string) error {
	user, _, err := ids.Register(ctx, email, password)
	if apperr.Is(err, apperr.KindConflict) {
		logger.Info("seed user already exists", "email", email)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("seed user created", "email", user.Email, "user_id", user.ID)
	return nil
}

func serve(ctx context.Context, cfg config.Config, gdb *gorm.DB, ids *identity.Service) error {
	e := api.New(cfg.Server, cfg.Log.Level, api.Services{
		DB:       gdb,
		Identity: ids,
		Decks:    decks.NewRepository(gdb),
		Recorder: study.NewRecorder(gdb),
		Progress: progress.NewAggregator(gdb),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr)
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
