package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lborres/templatex"
	fileadapter "github.com/lborres/templatex/adapters/file"
	fiberadapter "github.com/lborres/templatex/adapters/fiber"
	"github.com/lborres/templatex/adapters/mail"
	"github.com/lborres/templatex/adapters/memory"
	pgxadapter "github.com/lborres/templatex/adapters/pgx"
	redisadapter "github.com/lborres/templatex/adapters/redis"
	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/internal/config"
	"github.com/lborres/templatex/pkg/logger"
	"github.com/lborres/templatex/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	// Load .env when present; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(registry)

	// Step 1: Account storage and documents
	var (
		authStorage core.AuthStorage
		documents   core.DocumentStore
	)
	if cfg.DatabaseURL != "" {
		if err := pgxadapter.RunMigrations(cfg.DatabaseURL); err != nil {
			return err
		}
		pool, err := pgxadapter.Connect(ctx, cfg.DatabaseURL, pgxadapter.DefaultPoolConfig(), log)
		if err != nil {
			return err
		}
		defer pool.Close()

		docs := pgxadapter.NewDocumentStore(pool, log)
		defer docs.Close()
		authStorage, documents = pgxadapter.New(pool), docs
	} else {
		log.Warn("DATABASE_URL not set, keeping accounts and documents in memory")
		authStorage, documents = memory.NewAuthStorage(), memory.NewDocumentStore()
	}

	// Step 2: Client storage and session cache
	var (
		newStorage   fiberadapter.StorageFactory
		sessionCache core.SessionCache
	)
	if cfg.RedisAddr != "" {
		rdb, err := redisadapter.NewClient(ctx, redisadapter.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			return err
		}
		defer rdb.Close()

		sessionCache = redisadapter.NewSessionCache(rdb, "", cfg.SessionCacheTTL)
		newStorage = func(clientID string) (core.LocalStorage, error) {
			return redisadapter.NewLocalStorage(rdb, "", clientID), nil
		}
	} else {
		if err := os.MkdirAll(cfg.PreferencesDir, 0o755); err != nil {
			return err
		}
		newStorage = func(clientID string) (core.LocalStorage, error) {
			return fileadapter.NewLocalStorage(filepath.Join(cfg.PreferencesDir, clientID+".yaml")), nil
		}
	}

	// Step 3: Mail
	smtpConfig := mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}
	var mailer core.Mailer = mail.NewLog(log)
	if smtpConfig.IsConfigured() {
		mailer = mail.NewSMTP(smtpConfig)
	}

	// Step 4: Account backend shared by every client
	backend, err := templatex.NewBackend(templatex.BackendConfig{
		Database:      authStorage,
		Mailer:        mailer,
		CacheAdapter:  sessionCache,
		SessionConfig: &templatex.SessionConfig{MaxAge: cfg.SessionMaxAge},
		BaseURL:       cfg.BaseURL,
		ResetURL:      cfg.PasswordResetURL,
		Logger:        log,
	})
	if err != nil {
		return err
	}
	go sweepSessions(ctx, backend, log)

	// Step 5: HTTP surface
	clients := fiberadapter.NewClients(fiberadapter.ClientsConfig{
		Auth:       backend,
		Documents:  documents,
		NewStorage: newStorage,
		Policy: core.PolicyConfig{
			NewcomerWindow: cfg.NewcomerWindow,
			ResendCooldown: cfg.ResendCooldown,
			CensorWords:    cfg.CensorWords,
			CensorMask:     cfg.CensorMask,
		},
		IdleTimeout: cfg.ClientIdleTimeout,
		MaxClients:  cfg.MaxClients,
		Metrics:     recorder,
		Logger:      log,
	})
	defer clients.Close()
	go clients.RunSweeper(ctx, time.Minute)

	app := fiber.New(fiber.Config{
		AppName:     "templatex",
		BodyLimit:   1 * 1024 * 1024,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 2 * time.Minute,
	})
	adapter := fiberadapter.New(fiberadapter.Config{
		Clients:      clients,
		Auth:         backend,
		Gatherer:     registry,
		SecureCookie: cfg.SecureCookies,
		Logger:       log,
	})
	if err := adapter.Setup(app); err != nil {
		return err
	}

	listenErr := make(chan error, 1)
	go func() {
		log.Info("server starting", slog.String("port", cfg.Port))
		listenErr <- app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("server shutdown error", slog.Any("error", err))
	}
	return nil
}

func sweepSessions(ctx context.Context, backend *templatex.AuthService, log *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := backend.SweepSessions(ctx)
			if err != nil {
				log.Warn("session sweep failed", slog.Any("error", err))
				continue
			}
			log.Debug("expired sessions deleted", slog.Int("count", n))
		}
	}
}
