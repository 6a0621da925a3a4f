package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Poller drives the orchestrator's background loop: dispatching queued runs
// and polling the executor for progress on active ones.
type Poller struct {
	orch     *Orchestrator
	interval time.Duration
	log      *zap.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewPoller creates a poller ticking at the given interval.
func NewPoller(orch *Orchestrator, interval time.Duration, log *zap.Logger) *Poller {
	return &Poller{
		orch:     orch,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the background loop.
func (p *Poller) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop signals the poller to stop and waits for the loop to exit.
func (p *Poller) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick performs one dispatch-and-poll pass. Exposed so tests and the e2e
// harness can drive the loop synchronously.
func (p *Poller) Tick(ctx context.Context) {
	// Drain the dispatch queue before polling so a freshly queued run gets
	// to the executor in the same pass.
	for p.orch.dispatchOne(ctx) {
	}
	p.orch.pollActive(ctx)
}
