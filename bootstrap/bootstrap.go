// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/docstream/adapters/clock"
	apihttp "github.com/artpar/docstream/adapters/http"
	"github.com/artpar/docstream/adapters/idgen"
	"github.com/artpar/docstream/adapters/memory"
	"github.com/artpar/docstream/adapters/metrics"
	"github.com/artpar/docstream/adapters/postgres"
	"github.com/artpar/docstream/adapters/projection"
	"github.com/artpar/docstream/adapters/sqlite"
	"github.com/artpar/docstream/app"
	"github.com/artpar/docstream/config"
	"github.com/artpar/docstream/domain/ratelimit"
	"github.com/artpar/docstream/domain/streaming"
	"github.com/artpar/docstream/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Store      ports.DocumentStore
	Documents  *app.DocumentService
	Registry   *streaming.Registry
	Metrics    *metrics.Collector
	Router     chi.Router
	HTTPServer *http.Server

	holder  *config.Holder
	limiter *memory.Limiter
}

// Options controls application initialization.
type Options struct {
	// ConfigPath is the YAML file to load. When it does not exist the
	// configuration comes from DOCSTREAM_* environment variables.
	ConfigPath string

	// Config is used as-is when set, bypassing file and environment loading.
	Config *config.Config

	// Watch enables hot reload on file change and SIGHUP.
	Watch bool

	// MetricsRegistry replaces the default Prometheus registry.
	MetricsRegistry *prometheus.Registry
}

// New creates and initializes the application.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadWithFallback(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Str("version", apihttp.BuildVersion).Msg("initializing docstream")

	a := &App{
		Logger: logger,
		Config: cfg,
	}

	if opts.Watch && opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err == nil {
			holder, err := config.NewHolder(opts.ConfigPath, logger)
			if err != nil {
				return nil, err
			}
			a.holder = holder
		}
	}

	store, err := OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.Store = store

	if cfg.Metrics.Enabled {
		if opts.MetricsRegistry != nil {
			a.Metrics = metrics.NewWithRegistry(opts.MetricsRegistry)
		} else {
			a.Metrics = metrics.New()
		}
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initHTTPServer(opts); err != nil {
		if a.limiter != nil {
			a.limiter.Close()
		}
		store.Close()
		return nil, err
	}

	if a.holder != nil {
		a.watchConfig()
	}

	return a, nil
}

// OpenStore opens the document store selected by the database config.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (ports.DocumentStore, error) {
	switch cfg.Driver {
	case "memory":
		logger.Info().Msg("using in-memory document store")
		return memory.NewDocumentStore(), nil

	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MigrateOnStart:  true,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("postgres document store initialized")
		return store, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Str("dsn", cfg.DSN).Msg("sqlite document store initialized")
		return sqlite.NewDocumentStore(db), nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func (a *App) initHTTPServer(opts Options) error {
	cfg := a.Config

	a.Registry = streaming.NewRegistry()

	deps := app.BridgeDeps{
		Registry:  a.Registry,
		Projector: projection.NewEngine(),
		Logger:    a.Logger.With().Str("component", "stream").Logger(),
	}
	// A nil *Collector must not become a non-nil interface.
	if a.Metrics != nil {
		deps.Observer = a.Metrics
	}
	bridge := app.NewStreamBridge(deps)

	a.Documents = app.NewDocumentService(a.Store, idgen.UUID{}, clock.Real{}, a.Logger,
		app.DocumentServiceConfig{ArchiveDir: cfg.Archives.Dir})

	views := make([]apihttp.View, 0, len(cfg.Views))
	for _, v := range cfg.Views {
		views = append(views, apihttp.View{Name: v.Name, Expr: v.Expr, Collection: v.Collection})
	}

	routerCfg := apihttp.RouterConfig{
		Metrics:        a.Metrics,
		MetricsPath:    cfg.Metrics.Path,
		RequestTimeout: cfg.Server.RequestTimeout,
		EnableOpenAPI:  cfg.OpenAPI.Enabled,
		APIKeyHashes:   a.apiKeyHashes,
	}
	policy := ratelimit.Policy{
		Limit: cfg.RateLimit.RequestsPerMinute,
		Per:   time.Minute,
		Burst: cfg.RateLimit.Burst,
	}
	if policy.Enabled() {
		a.limiter = memory.NewLimiter(policy, memory.LimiterConfig{})
		routerCfg.RateLimiter = a.limiter
		routerCfg.Clock = clock.Real{}
	}
	if a.Metrics != nil && opts.MetricsRegistry != nil {
		routerCfg.MetricsHandler = promhttp.HandlerFor(opts.MetricsRegistry, promhttp.HandlerOpts{})
	}
	a.Router = apihttp.NewRouter(apihttp.NewHealthHandler(a.Store), a.Logger, routerCfg)

	server := apihttp.NewServer(a.Registry, bridge, a.Logger, apihttp.ServerConfig{
		Flush: cfg.Streaming.FlushEnabled(),
	})
	docs := apihttp.NewDocumentHandler(a.Documents, views)
	if err := server.Register(a.Router, docs.Endpoints()...); err != nil {
		return fmt.Errorf("register endpoints: %w", err)
	}
	a.Registry.Freeze()

	if err := bridge.ValidateProjections(); err != nil {
		return fmt.Errorf("validate projections: %w", err)
	}

	a.HTTPServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      a.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.Logger.Info().
		Int("streaming_handlers", len(a.Registry.Handlers())).
		Int("views", len(views)).
		Bool("auth", len(cfg.Auth.KeyHashes) > 0).
		Int("rate_limit_rpm", policy.Limit).
		Msg("http server configured")
	return nil
}

// apiKeyHashes reads the key hashes from the live config when reloading is on.
func (a *App) apiKeyHashes() []string {
	if a.holder != nil {
		return a.holder.APIKeyHashes()
	}
	return a.Config.Auth.KeyHashes
}

func (a *App) watchConfig() {
	a.holder.OnChange(func(cfg *config.Config) {
		if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
		if a.Metrics != nil {
			a.Metrics.ConfigReloads.Inc()
			a.Metrics.ConfigLastReload.SetToCurrentTime()
		}
	})
	a.holder.OnError(func(error) {
		if a.Metrics != nil {
			a.Metrics.ConfigReloadErrors.Inc()
		}
	})

	if err := a.holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable")
	}
	a.holder.WatchSignals()
}

// Run starts the HTTP server and blocks until a signal or server error.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application. In-flight streams get the
// configured shutdown timeout to finish.
func (a *App) Shutdown() error {
	timeout := a.Config.Server.ShutdownTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.limiter != nil {
		a.limiter.Close()
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("store close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// setupLogger configures the global level and returns the root logger.
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
