package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/llm-mail-sorter/internal/config"
	"github.com/mikey/llm-mail-sorter/internal/core"
	"github.com/mikey/llm-mail-sorter/internal/factory"
	"github.com/mikey/llm-mail-sorter/internal/logging"
	"github.com/mikey/llm-mail-sorter/internal/ports"
	"github.com/mikey/llm-mail-sorter/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewMailboxFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewMonitorFactory); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return nil, err
	}

	// Register LLM client
	if err := container.Provide(func(f *factory.LLMFactory) (core.LLMClient, error) {
		return f.CreateLLMClient()
	}); err != nil {
		return nil, err
	}

	// Register fingerprint store
	if err := container.Provide(func(f *factory.StoreFactory) (core.FingerprintStore, error) {
		return f.CreateFingerprintStore()
	}); err != nil {
		return nil, err
	}

	// Register monitor configuration
	if err := container.Provide(func(cfg *config.Config) (config.MonitorConfig, error) {
		return cfg.GetMonitor()
	}); err != nil {
		return nil, err
	}

	// Register classification dispatcher
	if err := container.Provide(func(llmClient core.LLMClient, logger *zap.Logger, mon config.MonitorConfig) *core.Dispatcher {
		return core.NewDispatcher(
			llmClient,
			logger,
			mon.BatchSize,
			mon.RetryDelay,
			mon.MaxBatchAttempts,
			mon.MaxMessageAttempts,
			mon.MaxConcurrentRequests,
		)
	}); err != nil {
		return nil, err
	}

	// Register mailbox factory
	if err := container.Provide(func(f *factory.MailboxFactory) (core.MailboxFactory, error) {
		return f.CreateMailboxFactory()
	}); err != nil {
		return nil, err
	}

	// Register mail monitor
	if err := container.Provide(func(f *factory.MonitorFactory) (ports.MailMonitor, error) {
		return f.CreateMailMonitor()
	}); err != nil {
		return nil, err
	}

	return container, nil
}
