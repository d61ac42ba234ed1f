package jobs

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/akmatori/alertflow/internal/services"
)

// EscalationRunner runs one escalation cycle
type EscalationRunner interface {
	RunCycle(ctx context.Context, workers int) (*services.CycleResult, error)
}

// EscalationWorker drives the escalation engine on a fixed interval
type EscalationWorker struct {
	runner  EscalationRunner
	workers int
}

// NewEscalationWorker creates a worker that evaluates alerts with the given parallelism
func NewEscalationWorker(runner EscalationRunner, workers int) *EscalationWorker {
	if workers < 1 {
		workers = 1
	}
	return &EscalationWorker{runner: runner, workers: workers}
}

// RunOnce executes a single cycle
func (w *EscalationWorker) RunOnce(ctx context.Context) (*services.CycleResult, error) {
	return w.runner.RunCycle(ctx, w.workers)
}

// Start runs a cycle immediately and then every interval until stop is closed.
// An in-flight cycle is cancelled when stop closes.
func (w *EscalationWorker) Start(interval time.Duration, stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithFields(log.Fields{
		"interval": interval,
		"workers":  w.workers,
	}).Info("Escalation worker started")

	w.tick(ctx)
	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-stop:
			log.Info("Escalation worker stopped")
			return
		}
	}
}

func (w *EscalationWorker) tick(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("Escalation cycle error")
	}
}
