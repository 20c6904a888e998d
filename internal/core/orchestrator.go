package core

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Orchestrator runs one worker per configured account and aggregates their
// lifecycle. Workers are independent; one account failing never stops the
// others.
type Orchestrator struct {
	workers map[string]*Worker
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	fatal map[string]error
}

// NewOrchestrator creates an empty orchestrator. Register workers with
// AddWorker before calling Start.
func NewOrchestrator(logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		workers: make(map[string]*Worker),
		logger:  logger,
		done:    make(chan struct{}),
		fatal:   make(map[string]error),
	}
}

// AddWorker registers a worker under its account name.
func (o *Orchestrator) AddWorker(name string, w *Worker) {
	o.workers[name] = w
}

// Start launches all workers and returns immediately. Done unblocks when
// every worker has stopped.
func (o *Orchestrator) Start(ctx context.Context) error {
	if len(o.workers) == 0 {
		return errors.New("no accounts configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	var wg sync.WaitGroup
	for name, w := range o.workers {
		wg.Add(1)
		go func(name string, w *Worker) {
			defer wg.Done()
			if err := w.Run(runCtx); err != nil {
				o.mu.Lock()
				o.fatal[name] = err
				o.mu.Unlock()
				o.logger.Error("account worker gave up",
					zap.String("account", name),
					zap.Error(err))
				return
			}
			o.logger.Info("account worker stopped", zap.String("account", name))
		}(name, w)
	}

	go func() {
		wg.Wait()
		close(o.done)
	}()
	return nil
}

// Stop signals all workers to finish and waits for them.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	<-o.done
}

// Done unblocks once every worker has stopped.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Status returns the current per-account view.
func (o *Orchestrator) Status() map[string]AccountStatus {
	statuses := make(map[string]AccountStatus, len(o.workers))
	for name, w := range o.workers {
		statuses[name] = w.Status()
	}
	return statuses
}

// FatalErrors returns the errors of workers that gave up, keyed by account
// name.
func (o *Orchestrator) FatalErrors() map[string]error {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]error, len(o.fatal))
	for name, err := range o.fatal {
		out[name] = err
	}
	return out
}

// AllFailed reports whether every worker stopped with a fatal error, which
// is the only condition the daemon exits non-zero on.
func (o *Orchestrator) AllFailed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.workers) > 0 && len(o.fatal) == len(o.workers)
}
