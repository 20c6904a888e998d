package factory

import (
	"fmt"

	"github.com/mikey/llm-mail-sorter/internal/categories"
	"github.com/mikey/llm-mail-sorter/internal/config"
	"github.com/mikey/llm-mail-sorter/internal/core"
	"github.com/mikey/llm-mail-sorter/internal/ports"
	"go.uber.org/zap"
)

// MonitorFactory creates the mail monitor from the configured accounts
type MonitorFactory struct {
	cfg            *config.Config
	logger         *zap.Logger
	dispatcher     *core.Dispatcher
	store          core.FingerprintStore
	mailboxFactory core.MailboxFactory
}

// NewMonitorFactory creates a new monitor factory
func NewMonitorFactory(
	cfg *config.Config,
	logger *zap.Logger,
	dispatcher *core.Dispatcher,
	store core.FingerprintStore,
	mailboxFactory core.MailboxFactory,
) *MonitorFactory {
	return &MonitorFactory{
		cfg:            cfg,
		logger:         logger,
		dispatcher:     dispatcher,
		store:          store,
		mailboxFactory: mailboxFactory,
	}
}

// CreateMailMonitor builds one worker per configured account and wires them
// into an orchestrator
func (f *MonitorFactory) CreateMailMonitor() (ports.MailMonitor, error) {
	accountConfigs, err := f.cfg.GetAccounts()
	if err != nil {
		return nil, err
	}
	if len(accountConfigs) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}

	monitorConfig, err := f.cfg.GetMonitor()
	if err != nil {
		return nil, fmt.Errorf("invalid monitor configuration: %w", err)
	}
	workerCfg := core.WorkerConfig{
		IdleTimeout:        monitorConfig.IdleTimeout,
		MaxPerCycle:        monitorConfig.MaxPerCycle,
		ReconnectBaseDelay: monitorConfig.ReconnectBaseDelay,
		ReconnectMaxDelay:  monitorConfig.ReconnectMaxDelay,
		StorageRetryDelay:  monitorConfig.StorageRetryDelay,
		DryRun:             monitorConfig.DryRun,
	}
	if workerCfg.DryRun {
		f.logger.Info("Dry run enabled: messages will be classified but not moved or recorded")
	}

	orch := core.NewOrchestrator(f.logger)
	seen := make(map[string]bool, len(accountConfigs))
	for _, ac := range accountConfigs {
		account, err := BuildAccount(ac)
		if err != nil {
			return nil, err
		}
		if seen[account.Name] {
			return nil, fmt.Errorf("duplicate account name: %s", account.Name)
		}
		seen[account.Name] = true

		set := categories.NewSet(account.Categories)
		worker := core.NewWorker(
			account,
			f.mailboxFactory(account),
			f.store,
			f.dispatcher,
			set,
			f.logger,
			workerCfg,
		)
		orch.AddWorker(account.Name, worker)
	}

	return orch, nil
}

// BuildAccount validates one account entry and fills in the defaults: port
// 993, TLS on, and the standard category list when none is configured.
func BuildAccount(ac config.AccountConfig) (*core.Account, error) {
	if ac.Name == "" {
		return nil, fmt.Errorf("account is missing a name")
	}
	if ac.Host == "" {
		return nil, fmt.Errorf("account %s is missing a host", ac.Name)
	}
	if ac.Username == "" {
		return nil, fmt.Errorf("account %s is missing a username", ac.Name)
	}

	account := &core.Account{
		Name:     ac.Name,
		Host:     ac.Host,
		Port:     ac.Port,
		TLS:      true,
		Username: ac.Username,
		Password: ac.Password,
		Folders:  ac.Folders,
	}
	if account.Port == 0 {
		account.Port = 993
	}
	if ac.TLS != nil {
		account.TLS = *ac.TLS
	}

	if len(ac.Categories) == 0 {
		account.Categories = core.DefaultCategories()
		return account, nil
	}
	account.Categories = make([]core.Category, 0, len(ac.Categories))
	for _, cc := range ac.Categories {
		if cc.Name == "" {
			return nil, fmt.Errorf("account %s has a category without a name", ac.Name)
		}
		folder := cc.Folder
		if folder == "" {
			folder = cc.Name
		}
		account.Categories = append(account.Categories, core.Category{
			Name:        cc.Name,
			Description: cc.Description,
			Folder:      folder,
		})
	}
	return account, nil
}
