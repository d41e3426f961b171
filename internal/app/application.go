package app

import (
	"context"
	"fmt"
	"time"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	"github.com/smarter-poker/diamond-ledger/internal/app/events"
	"github.com/smarter-poker/diamond-ledger/internal/app/scheduler"
	burnfeesvc "github.com/smarter-poker/diamond-ledger/internal/app/services/burnfee"
	escrowsvc "github.com/smarter-poker/diamond-ledger/internal/app/services/escrow"
	fairnesssvc "github.com/smarter-poker/diamond-ledger/internal/app/services/fairness"
	ledgersvc "github.com/smarter-poker/diamond-ledger/internal/app/services/ledger"
	reconcilesvc "github.com/smarter-poker/diamond-ledger/internal/app/services/reconcile"
	streaksvc "github.com/smarter-poker/diamond-ledger/internal/app/services/streak"
	"github.com/smarter-poker/diamond-ledger/internal/app/storage"
	"github.com/smarter-poker/diamond-ledger/internal/app/storage/memory"
	"github.com/smarter-poker/diamond-ledger/internal/app/system"
	"github.com/smarter-poker/diamond-ledger/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Ledger    storage.LedgerStore
	Burns     storage.BurnStore
	Escrows   storage.EscrowStore
	Reconcile storage.ReconcileStore
	Fairness  storage.FairnessStore
}

// Options tunes the background machinery.
type Options struct {
	Publisher     events.Publisher // nil discards events
	AuditInterval time.Duration    // baseline reconciliation cadence
	SnapshotKeep  int              // snapshots retained by the daily prune
	BaseClaim     int64            // unscaled daily claim reward
	EscrowTTL     time.Duration    // default lock lifetime
}

// Application ties the ledger services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Engine   *ledgersvc.Engine
	BurnFees *burnfeesvc.Service
	Streaks  *streaksvc.Service
	Escrows  *escrowsvc.Manager
	Auditor  *reconcilesvc.Auditor
	Fairness *fairnesssvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Burns == nil {
		stores.Burns = mem
	}
	if stores.Escrows == nil {
		stores.Escrows = mem
	}
	if stores.Reconcile == nil {
		stores.Reconcile = mem
	}
	if stores.Fairness == nil {
		stores.Fairness = mem
	}

	if opts.SnapshotKeep <= 0 {
		opts.SnapshotKeep = 500
	}

	manager := system.NewManager()

	engine := ledgersvc.NewEngine(stores.Ledger, stores.Reconcile, opts.Publisher, log)
	burnFees := burnfeesvc.NewService(engine, stores.Burns, log)
	streaks := streaksvc.NewService(engine, stores.Ledger, log)
	if opts.BaseClaim > 0 {
		streaks.SetBaseClaim(opts.BaseClaim)
	}
	escrows := escrowsvc.NewManager(engine, stores.Escrows, stores.Fairness, opts.Publisher, log)
	if opts.EscrowTTL > 0 {
		escrows.SetTTL(opts.EscrowTTL)
	}
	auditor := reconcilesvc.NewAuditor(stores.Ledger, stores.Burns, stores.Reconcile, engine, log)
	fairness := fairnesssvc.NewService(stores.Fairness, log)

	poller := reconcilesvc.NewPoller(auditor, opts.AuditInterval, log)
	engine.SetAuditNotify(poller.Notify, reconcilesvc.NotifyEvery)

	jobs := scheduler.New(log)
	jobs.Add(scheduler.Job{
		Name: "escrow-sweep",
		Spec: "@every 5m",
		Run: func(ctx context.Context) error {
			_, err := escrows.SweepExpired(ctx)
			return err
		},
	})
	jobs.Add(scheduler.Job{
		Name: "streak-sweep",
		Spec: "@hourly",
		Run: func(ctx context.Context) error {
			_, err := streaks.SweepExpired(ctx)
			return err
		},
	})
	keep := opts.SnapshotKeep
	jobs.Add(scheduler.Job{
		Name: "snapshot-prune",
		Spec: "@daily",
		Run: func(ctx context.Context) error {
			// A pass already running covers the snapshot; still prune.
			if _, err := auditor.Audit(ctx); err != nil && !ledgererr.Retryable(err) {
				return err
			}
			_, err := auditor.Prune(ctx, keep)
			return err
		},
	})

	for _, svc := range []system.Service{poller, jobs} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:  manager,
		log:      log,
		Engine:   engine,
		BurnFees: burnFees,
		Streaks:  streaks,
		Escrows:  escrows,
		Auditor:  auditor,
		Fairness: fairness,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start creates the reserved wallets, loads the freeze flag and begins all
// registered services.
func (a *Application) Start(ctx context.Context) error {
	if err := a.Engine.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap engine: %w", err)
	}
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
