package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"aigem/internal/config"
	apierrors "aigem/internal/errors"
	"aigem/internal/infrastructure"
	"aigem/internal/license"
	"aigem/internal/middleware"
	"aigem/internal/security"
	handlers "aigem/internal/transport/http"
	ws "aigem/internal/websocket"
	"aigem/pkg/contracts"
	"aigem/pkg/contracts/domain"
)

// Application wires the license core to the local API.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	Platform      security.Platform
	Fingerprinter *security.Fingerprinter
	Store         *license.ActivationStore
	Validator     *license.Validator
	Scheduler     *license.HeartbeatScheduler
	Gate          *middleware.LicenseGate
	Hub           *ws.Hub

	Router *chi.Mux
	Server *http.Server

	server license.LicenseServer
}

// Option customises construction, mainly for tests.
type Option func(*Application)

// WithPlatform replaces the platform of the running OS.
func WithPlatform(p security.Platform) Option {
	return func(a *Application) { a.Platform = p }
}

// WithLicenseServer replaces the HTTP licensing client.
func WithLicenseServer(s license.LicenseServer) Option {
	return func(a *Application) { a.server = s }
}

// WithOTelProviders reuses already initialised telemetry providers.
func WithOTelProviders(p *infrastructure.OTelProviders) Option {
	return func(a *Application) { a.OTelProviders = p }
}

// NewApplication loads configuration, initialises logging and builds the application.
func NewApplication(opts ...Option) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(cfg, logger, opts...)
}

// New builds every component from cfg without starting anything.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	a := &Application{Config: cfg, Logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	logger.Info("Application starting",
		slog.String("version", contracts.Version),
		slog.String("api_base_url", cfg.License.APIBaseURL))

	if a.OTelProviders == nil {
		providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
		a.OTelProviders = providers
	}

	if err := a.initializeLicense(); err != nil {
		return nil, fmt.Errorf("failed to initialize license core: %w", err)
	}

	if err := a.setupRouter(); err != nil {
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}

	a.Server = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      a.Router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}
	return a, nil
}

func (a *Application) initializeLicense() error {
	cfg := a.Config.License

	if a.Platform == nil {
		a.Platform = security.Current()
	}
	a.Fingerprinter = security.NewFingerprinter(a.Platform,
		security.WithCacheDuration(cfg.FingerprintCacheTTL.Duration),
		security.WithFingerprintLogger(a.Logger))

	store, err := license.NewPlatformStore(a.Platform, cfg.StorageFile, license.WithStoreLogger(a.Logger))
	if err != nil {
		return err
	}
	a.Store = store

	if a.server == nil {
		a.server = license.NewClient(license.WithBaseURL(cfg.APIBaseURL))
	}

	metrics, err := license.InitializeLicenseMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	a.Validator = license.NewValidatorFromConfig(cfg, store, a.server, a.Fingerprinter,
		license.WithLogger(a.Logger),
		license.WithMetrics(metrics))
	a.Scheduler = license.NewHeartbeatScheduler(a.Validator, cfg.HeartbeatInterval.Duration, a.Logger)

	hubMetrics, err := ws.NewHubMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}
	a.Hub = ws.NewHub(a.Logger, hubMetrics)
	a.Gate = middleware.NewLicenseGate(a.Validator, a.Logger)

	a.Validator.Subscribe(func(status domain.ValidationStatus) {
		a.Gate.InvalidateCache()
		a.Hub.BroadcastStatus(status)
	})

	a.Logger.Info("License core initialized",
		slog.String("platform", a.Platform.Name()),
		slog.String("record", store.Path()))
	return nil
}

func (a *Application) setupRouter() error {
	r := chi.NewRouter()
	errorHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Logging.Development)

	r.Use(middleware.RequestID)

	// The websocket route must not sit behind middleware that wraps the ResponseWriter.
	r.Handle("/ws", ws.NewUpgrader(a.Hub,
		a.Config.WebSocket.ReadBufferSize,
		a.Config.WebSocket.WriteBufferSize,
		a.Config.WebSocket.PongWait.Duration,
		middleware.LocalOrigins(a.Config.Server.Port)...))

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	otelMiddleware, err := middleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return err
	}

	r.Group(func(r chi.Router) {
		r.Use(otelMiddleware.Handler)
		r.Use(middleware.StructuredLogger(a.Logger))
		r.Use(apierrors.RecoveryMiddleware(errorHandler))
		r.Use(apierrors.NewErrorMiddleware(errorHandler, a.Logger).Handler)
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: middleware.LocalOrigins(a.Config.Server.Port),
			Logger:         a.Logger,
		}))
		r.Use(middleware.NewRateLimiter(20, 40, a.Logger).Handler)

		health := handlers.NewHealthHandler(a.Validator, a.Logger)
		r.Get("/healthz", health.HealthCheck)
		r.Get("/api/version", health.Version)

		licenseHandler := handlers.NewLicenseHandler(
			a.Validator,
			a.Fingerprinter,
			a.Gate,
			middleware.NewRequestValidator(a.Logger, errorHandler),
			errorHandler,
			a.Hub,
			a.Logger,
		)
		r.Mount("/api/license", licenseHandler.Routes())

		r.NotFound(errorHandler.NotFound)
		r.MethodNotAllowed(errorHandler.MethodNotAllowed)
	})

	a.Router = r
	return nil
}

// Run serves the API and runs the heartbeat scheduler until ctx ends, then
// shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (a *Application) Serve(ctx context.Context, listener net.Listener) error {
	a.Hub.Start()
	a.Hub.BroadcastStatus(a.Validator.Validate(ctx))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "Local license API listening",
			slog.String("address", listener.Addr().String()))
		if err := a.Server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.Scheduler.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop()
	})

	return g.Wait()
}

// Stop shuts the server, hub and telemetry down within the configured timeout.
func (a *Application) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout.Duration)
	defer cancel()

	a.Logger.InfoContext(ctx, "Shutting down")

	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	a.Hub.Stop()
	if err := a.OTelProviders.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// RunUntilSignal runs the application until SIGINT or SIGTERM.
func (a *Application) RunUntilSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}
