package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	"github.com/smarter-poker/diamond-ledger/internal/app/system"
	"github.com/smarter-poker/diamond-ledger/pkg/logger"
)

// DefaultInterval is the baseline cadence between audit passes. The engine
// also nudges the poller after a burst of journal appends so variance is
// caught sooner under load.
const DefaultInterval = 1 * time.Minute

// NotifyEvery is how many journal appends trigger an opportunistic pass.
const NotifyEvery = 250

// Poller runs the auditor on a schedule. Passes are single-flight: a
// notification landing mid-pass is absorbed instead of queueing a second
// run.
type Poller struct {
	auditor  *Auditor
	interval time.Duration
	log      *logger.Logger

	nudge chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Poller)(nil)

func NewPoller(auditor *Auditor, interval time.Duration, log *logger.Logger) *Poller {
	if log == nil {
		log = logger.NewDefault("reconcile-poller")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		auditor:  auditor,
		interval: interval,
		log:      log,
		nudge:    make(chan struct{}, 1),
	}
}

func (p *Poller) Name() string { return "reconcile-poller" }

// Notify requests an out-of-band pass. Never blocks; registered with the
// engine as its audit callback.
func (p *Poller) Notify() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.run(runCtx)
			case <-p.nudge:
				p.run(runCtx)
			}
		}
	}()

	p.log.Info("reconciliation poller started")
	return nil
}

func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run(ctx context.Context) {
	if _, err := p.auditor.Audit(ctx); err != nil {
		if ledgererr.KindOf(err) == ledgererr.KindResourceBusy {
			p.log.Debug("reconciliation pass skipped, another is running")
			return
		}
		p.log.WithError(err).Error("reconciliation pass failed")
	}
}
