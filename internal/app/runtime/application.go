// Package runtime wires configuration, storage, the application services
// and the HTTP server into one runnable unit.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	app "github.com/smarter-poker/diamond-ledger/internal/app"
	"github.com/smarter-poker/diamond-ledger/internal/app/events"
	"github.com/smarter-poker/diamond-ledger/internal/app/events/kafka"
	"github.com/smarter-poker/diamond-ledger/internal/app/httpapi"
	"github.com/smarter-poker/diamond-ledger/internal/app/storage/postgres"
	"github.com/smarter-poker/diamond-ledger/internal/config"
	"github.com/smarter-poker/diamond-ledger/pkg/logger"
)

// Application manages the HTTP server and service lifecycles.
type Application struct {
	cfg *config.Config
	log *logger.Logger

	app       *app.Application
	server    *http.Server
	publisher events.Publisher
	store     *postgres.Store
}

// NewApplication constructs a runnable instance from configuration. With
// no database DSN the ledger runs on the in-memory store.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load("")
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	var stores app.Stores
	var pgStore *postgres.Store
	if cfg.Database.DSN != "" {
		store, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if cfg.Database.Migrate {
			if err := store.Migrate(); err != nil {
				store.Close()
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		pgStore = store
		stores = app.Stores{
			Ledger:    store,
			Burns:     store,
			Escrows:   store,
			Reconcile: store,
			Fairness:  store,
		}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_DSN not set; using in-memory storage")
	}

	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = kafka.NewPublisher(cfg.Kafka.Brokers)
		log.WithField("brokers", fmt.Sprint(cfg.Kafka.Brokers)).Info("kafka event stream enabled")
	}

	application, err := app.New(stores, app.Options{
		Publisher:     publisher,
		AuditInterval: cfg.Ledger.AuditInterval,
		SnapshotKeep:  cfg.Ledger.SnapshotKeep,
		BaseClaim:     cfg.Ledger.BaseClaim,
		EscrowTTL:     cfg.Ledger.EscrowTTL,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	handler, err := httpapi.NewHandler(application, httpapi.Config{
		AuditFile: cfg.HTTP.AuditFile,
		RateLimit: cfg.HTTP.RateLimit,
		RateBurst: cfg.HTTP.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("build http handler: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Application{
		cfg:       cfg,
		log:       log,
		app:       application,
		server:    server,
		publisher: publisher,
		store:     pgStore,
	}, nil
}

// App exposes the wired services, mainly for tests.
func (a *Application) App() *app.Application { return a.app }

// Run starts the services and the HTTP server and blocks until the context
// is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.server.Addr).Info("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, the background services and the
// infrastructure connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("http server shutdown")
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("services shutdown")
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.WithError(err).Warn("closing event publisher")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Warn("closing database")
		}
	}
	return nil
}
