package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/avc/patientforms/internal/config"
	"github.com/avc/patientforms/internal/domain/patientform"
	"github.com/avc/patientforms/internal/platform/blobstore"
	"github.com/avc/patientforms/internal/platform/db"
	"github.com/avc/patientforms/internal/platform/downloadtoken"
	"github.com/avc/patientforms/internal/platform/formsapi"
	"github.com/avc/patientforms/internal/platform/hipaa"
	"github.com/avc/patientforms/internal/platform/metrics"
	"github.com/avc/patientforms/internal/platform/middleware"
	"github.com/avc/patientforms/internal/platform/sessionstore"
	"github.com/avc/patientforms/internal/screen"
)

const version = "0.1.0"

// recordBackend is the configured record store. forms is nil for the remote
// store, which has its own CRUD surface.
type recordBackend struct {
	factory screen.StoreFactory
	forms   *patientform.Service
	health  db.Pinger
	close   func()
}

func openRecordStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*recordBackend, error) {
	switch cfg.RecordStore {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, err
		}
		svc := patientform.NewService(patientform.NewRepoPG(pool), logger)
		return &recordBackend{factory: serviceFactory(svc), forms: svc, health: pool, close: pool.Close}, nil

	case config.StoreSQLite:
		repo, closeFn, err := patientform.NewRepoSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		svc := patientform.NewService(repo, logger)
		return &recordBackend{factory: serviceFactory(svc), forms: svc, close: func() { closeFn() }}, nil

	case config.StoreRemote:
		client, err := formsapi.NewClient(formsapi.Config{
			BaseURL:    cfg.FormsAPIURL,
			Token:      cfg.FormsToken,
			RetryCount: 2,
		}, patientform.Columns(), logger)
		if err != nil {
			return nil, err
		}
		return &recordBackend{
			factory: func(screen.Owner) screen.RecordStore { return client },
			close:   func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown record store %q", cfg.RecordStore)
}

func serviceFactory(svc *patientform.Service) screen.StoreFactory {
	return func(owner screen.Owner) screen.RecordStore {
		return patientform.NewScreenStore(svc, owner)
	}
}

func openArtifactStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	var store blobstore.BlobStore
	switch cfg.ArtifactStore {
	case config.ArtifactsMemory:
		store = blobstore.NewInMemoryBlobStore()
	case config.ArtifactsFS:
		fs, err := blobstore.NewFSBlobStore(cfg.ArtifactDir)
		if err != nil {
			return nil, err
		}
		store = fs
	case config.ArtifactsS3:
		s3, err := blobstore.NewS3BlobStore(ctx, blobstore.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		store = s3
	default:
		return nil, fmt.Errorf("unknown artifact store %q", cfg.ArtifactStore)
	}

	if cfg.HIPAAEncryptionKey == "" {
		return store, nil
	}
	cipher, err := hipaa.NewArtifactCipherFromHex(cfg.HIPAAEncryptionKey)
	if err != nil {
		return nil, err
	}
	return blobstore.NewEncryptedBlobStore(store, cipher), nil
}

func openSessionStore(ctx context.Context, cfg *config.Config) (sessionstore.Store, func(), error) {
	if cfg.RedisURL == "" {
		return sessionstore.NewMemoryStore(cfg.SessionTTL), func() {}, nil
	}
	client, err := sessionstore.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return sessionstore.NewKVStore(sessionstore.NewRedisKV(client), cfg.SessionTTL), func() { client.Close() }, nil
}

func newPseudonymizer(cfg *config.Config) (*hipaa.Pseudonymizer, error) {
	if cfg.PseudonymKey == "" {
		return hipaa.NewEphemeralPseudonymizer()
	}
	return hipaa.NewPseudonymizer([]byte(cfg.PseudonymKey))
}

// app holds everything the HTTP server serves.
type app struct {
	cfg         *config.Config
	logger      zerolog.Logger
	records     *recordBackend
	artifacts   blobstore.BlobStore
	tokens      *downloadtoken.Signer
	disclosures *hipaa.DisclosureStore
	registry    *screen.Registry
	metrics     *metrics.Metrics
	closers     []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*app, error) {
	a := &app{cfg: cfg, logger: logger, disclosures: hipaa.NewDisclosureStore()}
	fail := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	records, err := openRecordStore(ctx, cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("record store: %w", err))
	}
	a.records = records
	a.closers = append(a.closers, records.close)

	if a.artifacts, err = openArtifactStore(ctx, cfg); err != nil {
		return fail(fmt.Errorf("artifact store: %w", err))
	}

	sessions, closeSessions, err := openSessionStore(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("session store: %w", err))
	}
	a.closers = append(a.closers, closeSessions)

	if a.tokens, err = downloadtoken.NewSigner([]byte(cfg.DownloadTokenSecret), cfg.DownloadTokenTTL); err != nil {
		return fail(err)
	}
	pseudo, err := newPseudonymizer(cfg)
	if err != nil {
		return fail(err)
	}

	a.metrics = metrics.New(reg, gatherer)
	a.registry = screen.NewRegistry(records.factory, sessions, screen.Deps{
		Exporter:     screen.NewExporter(patientform.Columns(), pseudo),
		Materializer: screen.NewMaterializer(a.artifacts, a.tokens, a.disclosures, logger),
		Metrics:      a.metrics,
		Logger:       logger,
	})
	return a, nil
}

func (a *app) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(a.metrics.Middleware())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders(a.cfg.IsProduction()))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  a.cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Content-Type", middleware.RequestIDHeader, screen.HeaderUserID, screen.HeaderSuperuser},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Content-Disposition"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":       "ok",
			"version":      version,
			"record_store": a.cfg.RecordStore,
		})
	})
	if a.records.health != nil {
		e.GET("/health/db", db.HealthHandler(a.records.health))
	}
	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1", middleware.RequestTimeout(30*time.Second))

	if a.records.forms != nil {
		patientform.NewHandler(a.records.forms).RegisterRoutes(apiV1)
	}
	screen.NewHandler(a.registry).RegisterRoutes(apiV1, middleware.RateLimit(middleware.ExportRateLimit()))
	blobstore.NewBlobHandler(a.artifacts, a.tokens).RegisterRoutes(apiV1)
	hipaa.NewDisclosureHandler(a.disclosures).RegisterRoutes(apiV1)

	return e
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	a, err := buildApp(ctx, cfg, logger, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info().
		Str("record_store", cfg.RecordStore).
		Str("artifact_store", cfg.ArtifactStore).
		Bool("artifact_encryption", cfg.HIPAAEncryptionKey != "").
		Bool("redis_sessions", cfg.RedisURL != "").
		Msg("stores ready")

	e := a.routes()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
