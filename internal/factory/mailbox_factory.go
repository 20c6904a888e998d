package factory

import (
	"fmt"

	"github.com/mikey/llm-mail-sorter/internal/adapters/imap"
	"github.com/mikey/llm-mail-sorter/internal/config"
	"github.com/mikey/llm-mail-sorter/internal/core"
	"go.uber.org/zap"
)

// MailboxFactory creates IMAP mailbox clients for account workers
type MailboxFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewMailboxFactory creates a new mailbox factory
func NewMailboxFactory(cfg *config.Config, logger *zap.Logger) *MailboxFactory {
	return &MailboxFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateMailboxFactory returns a constructor that binds each account to a
// fresh IMAP client with the configured listing options
func (f *MailboxFactory) CreateMailboxFactory() (core.MailboxFactory, error) {
	monitorConfig, err := f.cfg.GetMonitor()
	if err != nil {
		return nil, fmt.Errorf("invalid monitor configuration: %w", err)
	}

	opts := imap.Options{
		LookbackDays: monitorConfig.LookbackDays,
		MaxPerCycle:  monitorConfig.MaxPerCycle,
	}
	logger := f.logger

	return func(account *core.Account) core.Mailbox {
		return imap.NewClient(account, opts, logger)
	}, nil
}
