package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prontivus/telecare/internal/api"
	"github.com/prontivus/telecare/internal/app"
	iauth "github.com/prontivus/telecare/internal/auth"
	"github.com/prontivus/telecare/internal/database"
	"github.com/prontivus/telecare/internal/realtime"
	"github.com/prontivus/telecare/internal/services"
	"github.com/prontivus/telecare/internal/telecrypt"
	"github.com/prontivus/telecare/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("telecare-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	cipher, err := telecrypt.NewChannelCipher([]byte(cfg.Telemedicine.EncryptionKey))
	if err != nil {
		return fmt.Errorf("initialise channel cipher: %w", err)
	}

	verifier, err := iauth.NewAccessTokenVerifier(iauth.AccessTokenConfig{
		Secret: cfg.Auth.JWT.Secret,
		Issuer: cfg.Auth.JWT.Issuer,
	})
	if err != nil {
		return fmt.Errorf("initialise token verifier: %w", err)
	}

	issuer, err := iauth.NewLinkIssuer(iauth.JoinLinkConfig{
		Secret: cfg.Auth.JoinLink.Secret,
		TTL:    cfg.Auth.JoinLink.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise link issuer: %w", err)
	}

	registry := realtime.NewInMemoryRegistry()

	analyticsSvc, err := services.NewAnalyticsService(db)
	if err != nil {
		return fmt.Errorf("initialise analytics service: %w", err)
	}

	consentSvc, err := services.NewConsentService(db,
		services.WithConsentTTL(cfg.Telemedicine.ConsentTTL),
		services.WithRequiredVersions(cfg.Telemedicine.ConsentVersions),
	)
	if err != nil {
		return fmt.Errorf("initialise consent service: %w", err)
	}

	sessionSvc, err := services.NewSessionService(db, cipher, registry, issuer, consentSvc,
		services.WithAnalyticsComputer(analyticsSvc),
		services.WithDefaultMaxParticipants(cfg.Telemedicine.MaxParticipants),
	)
	if err != nil {
		return fmt.Errorf("initialise session service: %w", err)
	}

	chatSvc, err := services.NewChatService(db, cipher)
	if err != nil {
		return fmt.Errorf("initialise chat service: %w", err)
	}

	fileSvc, err := services.NewFileService(db, cipher)
	if err != nil {
		return fmt.Errorf("initialise file service: %w", err)
	}

	relay := realtime.NewRelay(registry, sessionSvc)

	router, err := api.NewRouter(api.Deps{
		Config:    cfg,
		Verifier:  verifier,
		Sessions:  sessionSvc,
		Consents:  consentSvc,
		Chat:      chatSvc,
		Files:     fileSvc,
		Analytics: analyticsSvc,
		Registry:  registry,
		Relay:     relay,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	sessionSvc.Drain()

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.Open(convertDatabaseConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	out := database.Config{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		DSN:    cfg.Database.DSN,
	}

	switch strings.ToLower(cfg.Database.Driver) {
	case "postgres", "postgresql":
		out.Host = cfg.Database.Postgres.Host
		out.Port = cfg.Database.Postgres.Port
		out.Name = cfg.Database.Postgres.Database
		out.User = cfg.Database.Postgres.Username
		out.Password = cfg.Database.Postgres.Password
	case "mysql":
		out.Host = cfg.Database.MySQL.Host
		out.Port = cfg.Database.MySQL.Port
		out.Name = cfg.Database.MySQL.Database
		out.User = cfg.Database.MySQL.Username
		out.Password = cfg.Database.MySQL.Password
	}

	return out
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("resolve database handle", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("close database", zap.Error(err))
	}
}
