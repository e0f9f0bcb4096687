package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"guest-gallery-backend/internal/config"
	"guest-gallery-backend/internal/hub"
	"guest-gallery-backend/internal/notify"
	"guest-gallery-backend/internal/query"
	"guest-gallery-backend/internal/repository"
	"guest-gallery-backend/internal/services"
	"guest-gallery-backend/internal/session"
	"guest-gallery-backend/internal/storage"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func Run() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open stores
	photoStore, userStore, closeDB, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to open database")
	}
	defer closeDB()

	blobs, blobReader, closeBlobs, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("Failed to open blob storage")
	}
	defer closeBlobs()

	notifier := openNotifier(cfg.APNs)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize services
	photoService := services.NewPhotoService(photoStore, userStore, blobs, notifier, cfg.Upload.MaxBytes)
	userService := services.NewUserService(userStore)

	// Query layer
	queryCache := query.NewCache(cfg.Cache, registry)
	go queryCache.Run(ctx)
	queries := query.NewClient(photoService, userService, queryCache)

	// Sessions
	tokens := session.NewTokens(cfg.Session.JWTSecret, cfg.Session.TokenTTL)
	manager := session.NewManager(tokens, session.NewProvisioner(queries))
	redirectURL := cfg.OAuth.RedirectURL
	if redirectURL == "" {
		redirectURL = cfg.Server.PublicURL + "/auth/google/callback"
	}
	provider := session.NewGoogleProvider(cfg.OAuth.GoogleClientID, cfg.OAuth.GoogleClientSecret, redirectURL)

	router := NewRouter(Deps{
		Queries:      queries,
		Sessions:     manager,
		Provider:     provider,
		Hub:          hub.New(queries),
		Blobs:        blobReader,
		Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Upload:       cfg.Upload,
		CookieSecure: cfg.Session.CookieSecure,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "gallery"),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Str("database", cfg.Database.Driver).
			Str("storage", cfg.Storage.Driver).
			Bool("cache", cfg.Cache.Enabled).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	queryCache.Wait()
	photoService.Wait()

	log.Info().Msg("Server exited")
}

// openDatabase connects the configured document store
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (repository.PhotoStore, repository.UserStore, func(), error) {
	switch cfg.Driver {
	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to parse database config: %w", err)
		}
		if cfg.MaxConns > 0 {
			poolCfg.MaxConns = cfg.MaxConns
		}

		db, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		log.Info().Msg("Database connection established")

		if err := repository.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}

		return repository.NewPhotoRepository(db), repository.NewUserRepository(db), db.Close, nil

	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err := repository.OpenBolt(cfg.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info().Str("path", cfg.Path).Msg("Bolt database opened")

		closeFn := func() {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close bolt database")
			}
		}
		return db.Photos(), db.Users(), closeFn, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// openStorage opens the configured blob store. The reader is nil when blobs are served elsewhere.
func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, storage.Reader, func(), error) {
	switch cfg.Storage.Driver {
	case "s3":
		s3Storage, err := storage.NewS3Storage(ctx, storage.S3Config{
			Region:    cfg.AWS.Region,
			Bucket:    cfg.AWS.S3Bucket,
			AccessKey: cfg.AWS.AccessKey,
			SecretKey: cfg.AWS.SecretKey,
			Endpoint:  cfg.AWS.Endpoint,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return s3Storage, nil, func() {}, nil

	case "local":
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create blob directory: %w", err)
		}
		local, err := storage.NewLocalStorage(cfg.Storage.Path, cfg.Server.PublicURL+"/blobs")
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := local.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close blob storage")
			}
		}
		return local, local, closeFn, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// openNotifier returns the APNs notifier, or a no-op when push is not configured
func openNotifier(cfg config.APNsConfig) notify.Notifier {
	if cfg.KeyPath == "" {
		log.Info().Msg("APNs not configured, like notifications disabled")
		return notify.Nop{}
	}

	apns, err := notify.NewAPNs(notify.APNsConfig{
		KeyPath:    cfg.KeyPath,
		KeyID:      cfg.KeyID,
		TeamID:     cfg.TeamID,
		Topic:      cfg.Topic,
		Production: cfg.Production,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create APNs client, like notifications disabled")
		return notify.Nop{}
	}
	return apns
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
