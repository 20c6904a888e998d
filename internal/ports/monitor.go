package ports

import (
	"context"

	"github.com/mikey/llm-mail-sorter/internal/core"
)

// MailMonitor defines the interface for the account monitoring service
type MailMonitor interface {
	// Start launches a worker for every configured account
	Start(ctx context.Context) error

	// Stop asks all workers to shut down and waits for them to finish
	Stop()

	// Done is closed once every worker has stopped
	Done() <-chan struct{}

	// Status reports the current state of each account worker
	Status() map[string]core.AccountStatus

	// FatalErrors reports workers that gave up permanently, keyed by account name
	FatalErrors() map[string]error

	// AllFailed reports whether every worker gave up permanently
	AllFailed() bool
}
