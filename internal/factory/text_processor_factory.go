package factory

import (
	"github.com/mikey/llm-mail-sorter/internal/config"
	"github.com/mikey/llm-mail-sorter/internal/utils"
	"go.uber.org/zap"
)

// TextProcessorFactory creates the text processor the LLM adapters use to
// bound message bodies before they go to a provider
type TextProcessorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewTextProcessorFactory creates a new TextProcessorFactory
func NewTextProcessorFactory(cfg *config.Config, logger *zap.Logger) *TextProcessorFactory {
	return &TextProcessorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateTextProcessor creates a new TextProcessor
func (f *TextProcessorFactory) CreateTextProcessor() *utils.TextProcessor {
	if f.cfg.GetLLM().MaxBodySize <= 0 {
		f.logger.Warn("llm.max_body_size is not positive, message bodies will be sent untruncated")
	}
	return utils.NewTextProcessor(f.logger)
}
