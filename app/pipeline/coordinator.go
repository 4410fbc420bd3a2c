package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type Scheduler interface {
	Start()
	Stop(ctx context.Context) error
}

type LedgerPinger interface {
	Ping(ctx context.Context) error
}

// HealthReporter is implemented by bus clients that can report their state.
type HealthReporter interface {
	Health() map[string]interface{}
}

// Coordinator owns the lifecycle of the scheduler and aggregates health.
type Coordinator struct {
	scheduler     Scheduler
	ledger        LedgerPinger
	stats         *Stats
	bus           HealthReporter
	shutdownGrace time.Duration

	mu      sync.Mutex
	running atomic.Bool
}

func NewCoordinator(scheduler Scheduler, ledger LedgerPinger, stats *Stats, bus HealthReporter, shutdownGrace time.Duration) *Coordinator {
	return &Coordinator{
		scheduler:     scheduler,
		ledger:        ledger,
		stats:         stats,
		bus:           bus,
		shutdownGrace: shutdownGrace,
	}
}

// Start verifies the ledger is reachable and starts polling.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return nil
	}

	if err := c.ledger.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach ledger: %w", err)
	}

	c.scheduler.Start()
	c.running.Store(true)

	return nil
}

// Stop cancels pending polls and waits up to the shutdown grace period for
// running cycles. It reports whether every cycle finished in time.
func (c *Coordinator) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Swap(false) {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.shutdownGrace)
	defer cancel()

	if err := c.scheduler.Stop(ctx); err != nil {
		slog.Warn("Shutdown grace period exceeded, abandoning running cycles", "grace", c.shutdownGrace.String(), "error", err)
		return false
	}

	slog.Info("Pipeline stopped cleanly")
	return true
}

func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Health combines scheduler stats with a ledger ping. Only a ledger outage
// changes the process status; per-feed failures are reported under "scheduler".
func (c *Coordinator) Health(ctx context.Context) map[string]interface{} {
	scheduler := c.stats.Health()

	ledger := map[string]interface{}{"status": StatusHealthy}
	if err := c.ledger.Ping(ctx); err != nil {
		ledger["status"] = StatusUnhealthy
		ledger["error"] = err.Error()
	}

	health := map[string]interface{}{
		"status":    ledger["status"],
		"running":   c.Running(),
		"scheduler": scheduler,
		"ledger":    ledger,
	}

	if c.bus != nil {
		health["bus"] = c.bus.Health()
	}

	return health
}
