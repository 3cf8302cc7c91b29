package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/japi/internal/blog"
	"github.com/conduit-lang/japi/internal/cli/config"
	"github.com/conduit-lang/japi/internal/cli/ui"
	"github.com/conduit-lang/japi/internal/orm/schema"
	"github.com/conduit-lang/japi/internal/orm/storage"
	"github.com/conduit-lang/japi/internal/orm/storage/memory"
	"github.com/conduit-lang/japi/internal/orm/storage/redisstore"
	"github.com/conduit-lang/japi/internal/orm/storage/sqlstore"
	"github.com/conduit-lang/japi/internal/web/handler"
	"github.com/conduit-lang/japi/internal/web/middleware"
	"github.com/conduit-lang/japi/internal/web/router"
	"github.com/conduit-lang/japi/internal/web/server"
)

// metricsNamespace prefixes every exported metric
const metricsNamespace = "japi"

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo blog API",
		Long: `Start the JSON:API server for the demo blog types (User, Admin, Post
and Comment) on the configured storage backend.

Configuration is read from ./japi.yaml (or --config) and JAPI_* environment
variables, e.g. JAPI_STORAGE_DRIVER=sqlite JAPI_STORAGE_DSN=file:blog.db.

Examples:
  japi serve
  japi serve --port 9000
  japi serve --config deploy/japi.yaml`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides server.port)")
	cmd.Flags().Bool("debug", false, "Enable debug mode (overrides api.debug)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile(cmd))
	if err != nil {
		cmd.PrintErr(ui.ConfigError(err, noColor(cmd)))
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("debug") {
		cfg.API.Debug, _ = cmd.Flags().GetBool("debug")
	}

	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := blog.Registry()
	backend, err := openStorage(ctx, cfg, registry, log)
	if err != nil {
		return err
	}

	if cfg.Demo.Seed {
		n, err := blog.Seed(ctx, registry, backend.adapter)
		if err != nil {
			backend.close()
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
		log.Info("seeded demo data", zap.Int("resources", n))
	}

	h, err := newHandler(cfg, registry, backend.adapter, log)
	if err != nil {
		backend.close()
		return err
	}

	srvConfig := server.DefaultConfig(h)
	srvConfig.Address = cfg.Address()
	srvConfig.ReadTimeout = cfg.Server.ReadTimeout
	srvConfig.WriteTimeout = cfg.Server.WriteTimeout
	srvConfig.IdleTimeout = cfg.Server.IdleTimeout
	if cfg.Server.TLS.Enabled() {
		srvConfig.TLSConfig = &server.TLSConfig{
			CertFile: cfg.Server.TLS.CertFile,
			KeyFile:  cfg.Server.TLS.KeyFile,
		}
	}
	srv, err := server.New(srvConfig)
	if err != nil {
		backend.close()
		return err
	}

	gs := server.NewGracefulShutdown(srv, cfg.Server.ShutdownTimeout, log)
	gs.RegisterHook(func(ctx context.Context) error {
		return backend.close()
	})

	scheme := "http"
	if srvConfig.TLSConfig != nil {
		scheme = "https"
	}
	infoColor := color.New(color.FgCyan)
	if noColor(cmd) {
		infoColor.DisableColor()
	}
	infoColor.Fprintf(cmd.OutOrStdout(), "Serving %s://%s%s/ from %s storage\n",
		scheme, cfg.Address(), cfg.Server.APIPrefix, cfg.Storage.Driver)

	return gs.Run(ctx)
}

// backend is an opened storage adapter and the function releasing it
type backend struct {
	adapter storage.Adapter
	close   func() error
}

// openStorage connects to the configured storage drivers. SQL backends
// get their tables created on first use. With storage.routes set the
// adapter is a storage.Router over one backend per driver.
func openStorage(ctx context.Context, cfg *config.Config, registry *schema.Registry, log *zap.Logger) (*backend, error) {
	for _, route := range cfg.Storage.Routes {
		if !registry.Has(route.Type) {
			return nil, fmt.Errorf("storage.routes: unknown resource type %q", route.Type)
		}
	}

	opened := make(map[string]*backend)
	closeAll := func() error {
		var errs []error
		for _, b := range opened {
			errs = append(errs, b.close())
		}
		return errors.Join(errs...)
	}
	for _, driver := range cfg.Storage.Drivers() {
		b, err := openDriver(ctx, driver, cfg, registry, log)
		if err != nil {
			closeAll()
			return nil, err
		}
		opened[driver] = b
	}

	fallback := opened[cfg.Storage.Driver]
	if len(cfg.Storage.Routes) == 0 {
		return fallback, nil
	}
	router := storage.NewRouter(registry, fallback.adapter)
	for _, route := range cfg.Storage.Routes {
		router.Route(route.Type, opened[route.Driver].adapter)
		log.Info("routed resource type",
			zap.String("type", route.Type), zap.String("driver", route.Driver))
	}
	return &backend{adapter: router, close: closeAll}, nil
}

func openDriver(ctx context.Context, driver string, cfg *config.Config, registry *schema.Registry, log *zap.Logger) (*backend, error) {
	log = log.Named("storage").With(zap.String("driver", driver))

	switch driver {
	case config.DriverMemory:
		return &backend{adapter: memory.New(registry), close: func() error { return nil }}, nil

	case config.DriverSQLite, config.DriverPostgres:
		db, dialect, err := sqlstore.Open(ctx, driver, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		store, err := sqlstore.New(db, dialect, registry, blog.Tables(), sqlstore.WithLogger(log))
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("storage ready")
		return &backend{adapter: store, close: db.Close}, nil

	case config.DriverRedis:
		store, err := redisstore.New(registry, redisstore.Config{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		log.Info("storage ready", zap.String("addr", cfg.Storage.Redis.Addr))
		return &backend{adapter: store, close: store.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

// newHandler assembles the dispatcher, its middleware and the metrics
// endpoint
func newHandler(cfg *config.Config, registry *schema.Registry, adapter storage.Adapter, log *zap.Logger) (http.Handler, error) {
	api, err := handler.New(registry, adapter,
		handler.WithBaseURI(cfg.LinkBase()),
		handler.WithDebug(cfg.API.Debug),
		handler.WithLogger(log.Named("api")),
		handler.WithMaxPageSize(cfg.API.MaxPageSize),
		handler.WithMaxIncludeDepth(cfg.API.MaxIncludeDepth),
		handler.WithMaxBodySize(cfg.API.MaxBodySize),
	)
	if err != nil {
		return nil, err
	}

	var skip []string
	middlewares := []middleware.Middleware{middleware.RequestID()}
	var metrics *middleware.Metrics
	if cfg.Metrics.Enabled {
		metrics = middleware.NewMetrics(metricsNamespace)
		skip = append(skip, cfg.Metrics.Path)
		middlewares = append(middlewares, metrics.Instrument(router.EndpointLabel))
	}
	middlewares = append(middlewares,
		middleware.AccessLog(log.Named("http"), skip...),
		middleware.Recovery(log.Named("http")),
	)

	r := router.New(api, cfg.Server.APIPrefix, middlewares...)
	if metrics != nil {
		r.Mount(cfg.Metrics.Path, metrics.Handler())
	}
	return r, nil
}
