package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/b24gate/internal/gateway/http"
	"github.com/aussiebroadwan/b24gate/internal/gateway/metrics"
	"github.com/aussiebroadwan/b24gate/internal/gateway/service"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store/drivers/postgres"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store/drivers/sqlite"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store/sqlstore"
	"github.com/aussiebroadwan/b24gate/internal/gateway/upstream"
	"github.com/aussiebroadwan/b24gate/pkg/b24"
	"github.com/aussiebroadwan/b24gate/pkg/cryptox"
	"github.com/aussiebroadwan/b24gate/pkg/jwtx"
	"github.com/aussiebroadwan/b24gate/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the gateway with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db       store.Store
	codec    *jwtx.Codec
	platform *b24.Client
	registry *prometheus.Registry
	metrics  *metrics.Collector

	// Services
	resolver       *service.AuthResolver
	issuer         *service.SessionIssuer
	installService *service.InstallService
	profileService *service.ProfileService
	listener       *service.RenewalListener
	keeper         *service.CredentialKeeper

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "b24gate",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	codec, err := jwtx.NewCodec([]byte(cfg.JWTSecret), cfg.JWTAlgorithm)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}
	app.codec = codec

	app.initMetrics()
	app.initPlatform()
	app.initServices()
	app.initHTTP()

	return app, nil
}

// Migrate opens the database, applies migrations and closes it again.
func Migrate(cfg Config) error {
	app := &Application{
		cfg:    cfg,
		logger: slogx.New(slogx.Config{Service: "b24gate", Version: BuildVersion, Env: cfg.Env, Level: cfg.LogLevel, Format: cfg.LogFormat}),
	}
	if err := app.initDatabase(); err != nil {
		return err
	}
	return app.db.Close()
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.Start()

	app.logger.Info("gateway starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.stopWorkers()
			_ = app.db.Close()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains HTTP traffic first, then the workers that may still be
// writing renewed credentials, then closes the database.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.stopWorkers()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("gateway stopped")
	return nil
}

// Start begins the background workers. Run calls it; callers serving
// Handler themselves must call it too.
func (app *Application) Start() {
	app.listener.Start()
	if app.keeper != nil {
		app.keeper.Start()
	}
}

// Handler returns the gateway's HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.router
}

func (app *Application) stopWorkers() {
	if app.keeper != nil {
		app.keeper.Stop()
	}
	app.listener.Stop()
}

// initDatabase opens the store selected by DATABASE_URL and applies migrations.
func (app *Application) initDatabase() error {
	opts, err := app.storeOptions()
	if err != nil {
		return err
	}

	var db store.Store

	if app.cfg.Postgres() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		db, err = postgres.NewStore(ctx, app.cfg.DatabaseURL, opts...)
	} else {
		db, err = sqlite.NewStore(app.cfg.DatabaseURL, opts...)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "postgres", app.cfg.Postgres())
	return nil
}

func (app *Application) storeOptions() ([]sqlstore.Option, error) {
	material, err := app.cfg.CredentialsKeyMaterial()
	if err != nil {
		return nil, err
	}
	if material == nil {
		app.logger.Warn("CREDENTIALS_KEY not set, platform tokens are stored in plaintext")
		return nil, nil
	}

	sealer, err := cryptox.NewSealer(material)
	if err != nil {
		return nil, fmt.Errorf("failed to build credentials sealer: %w", err)
	}
	return []sqlstore.Option{sqlstore.WithSealer(sealer)}, nil
}

func (app *Application) initMetrics() {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.NewCollector(app.registry)
}

// initPlatform builds the upstream client shared by the exchange, profile
// and keeper paths.
func (app *Application) initPlatform() {
	c := b24.NewClient(app.cfg.ClientID, app.cfg.ClientSecret)
	c.OAuthURL = app.cfg.OAuthURL
	if scheme := app.cfg.PortalScheme; scheme != "https" {
		c.Endpoint = func(domain string) string { return scheme + "://" + domain + "/rest/" }
	}
	c.HTTPClient = upstream.NewHTTPClient(app.cfg.UpstreamTimeout, app.cfg.UpstreamAllowPrivate)
	c.Observe = app.metrics.ObserveUpstream
	app.platform = c

	if app.cfg.UpstreamAllowPrivate {
		app.logger.Warn("upstream requests to private networks are allowed")
	}
}

func (app *Application) initServices() {
	up := upstream.New(app.platform)

	app.listener = service.NewRenewalListener(app.db, app.cfg.RenewalBuffer)
	app.listener.Observer = app.metrics
	app.listener.Attach(app.platform)

	app.resolver = &service.AuthResolver{
		Tokens:   app.codec,
		Store:    app.db,
		Upstream: up,
	}
	app.issuer = service.NewSessionIssuer(app.codec, app.cfg.SessionLifetime)
	app.installService = &service.InstallService{Store: app.db}
	app.profileService = &service.ProfileService{Upstream: up}

	if app.cfg.KeeperInterval > 0 {
		app.keeper = service.NewCredentialKeeper(
			app.db,
			up,
			app.logger,
			app.cfg.KeeperInterval,
			app.cfg.KeeperStaleAfter,
		)
		app.keeper.Observer = app.metrics
	} else {
		app.logger.Info("credential keeper disabled")
	}
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)

	router.Resolver = app.resolver
	router.Issuer = app.issuer
	router.InstallService = app.installService
	router.ProfileService = app.profileService
	router.Metrics = app.metrics
	router.Gatherer = app.registry
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
