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

	"golang.org/x/sync/errgroup"

	"falconlic/internal/config"
	apierrors "falconlic/internal/errors"
	"falconlic/internal/infrastructure"
	"falconlic/internal/license"
	"falconlic/internal/middleware"
	"falconlic/internal/renewal"
	"falconlic/internal/store/postgres"
	transport "falconlic/internal/transport/http"
)

const AppName = "falconlic"

// connectTimeout bounds the initial database connect and schema setup.
const connectTimeout = 10 * time.Second

// Application is the assembled license authority: configuration,
// storage, the domain services, the HTTP server and the renewal
// scanner.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	Providers *infrastructure.OTelProviders

	DB      *postgres.DB
	Server  *http.Server
	Scanner *renewal.Scanner
}

// NewApplication loads configuration and wires every component. The
// master key and the database are both required; failing either is
// fatal at startup rather than at first request.
func NewApplication(configFile string) (*Application, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", infrastructure.ServiceVersion),
		slog.Int("port", cfg.Server.Port))

	providers, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	masterKey, err := license.LoadMasterKey(cfg.Security.MasterKeyFile)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := postgres.Connect(ctx, postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := postgres.InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	codec, err := license.NewCodec(masterKey)
	if err != nil {
		db.Close()
		return nil, err
	}
	tokens, err := license.NewTokenMinter(masterKey)
	if err != nil {
		db.Close()
		return nil, err
	}

	clock := license.SystemClock()
	licenses := postgres.NewLicenseStore(db)
	bindingStore := postgres.NewBindingStore(db)
	audit := postgres.NewAuditStore(db)

	bindings := license.NewBindings(bindingStore, audit, clock, logger)
	issuer := license.NewIssuer(codec, licenses, audit, clock, logger)
	engine := license.NewEngine(codec, licenses, bindings, audit, tokens, clock, logger)

	errs := apierrors.NewErrorHandler(logger, false)

	var otelMW *middleware.OTelMiddleware
	if mw, err := middleware.NewOTelMiddleware(providers); err != nil {
		logger.Warn("telemetry middleware unavailable", slog.String("error", err.Error()))
	} else {
		otelMW = mw
	}

	router := transport.NewRouter(transport.RouterDeps{
		License:   transport.NewLicenseHandler(engine, bindings, licenses, errs, logger),
		Admin:     transport.NewAdminHandler(issuer, audit, errs, logger),
		Tiers:     transport.NewTiersHandler(),
		Webhook:   transport.NewWebhookHandler(issuer, licenses, cfg.Security.WebhookSecrets, errs, logger),
		Health:    transport.NewHealthHandler(db, infrastructure.ServiceVersion),
		Errors:    errs,
		OTel:      otelMW,
		Security:  cfg.Security,
		Providers: providers,
		Logger:    logger,
	})

	app := &Application{
		Config:    cfg,
		Logger:    logger,
		Providers: providers,
		DB:        db,
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}

	if cfg.Renewal.Enabled {
		notifier := &renewal.LogNotifier{Logger: logger}
		app.Scanner = renewal.NewScanner(licenses, notifier, clock, cfg.Renewal.ScanInterval, logger)
	}

	return app, nil
}

// Run serves until SIGINT/SIGTERM, then shuts down within the
// configured timeout. The renewal scanner runs alongside the server and
// stops with it.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.Scanner != nil {
		g.Go(func() error {
			if err := a.Scanner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("renewal scanner: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	if closeErr := a.DB.Close(); closeErr != nil {
		a.Logger.Error("database close failed", slog.String("error", closeErr.Error()))
	}
	if a.Providers != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if otelErr := a.Providers.Shutdown(shutdownCtx); otelErr != nil {
			a.Logger.Error("telemetry shutdown failed", slog.String("error", otelErr.Error()))
		}
	}
	infrastructure.CloseLogFile()

	if err != nil {
		return err
	}
	a.Logger.Info("shutdown complete")
	return nil
}
