package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Dispatcher turns unhandled messages into routing decisions by batching
// them through the classification service. One Dispatcher is shared by all
// account workers so the semaphore bounds concurrent requests globally.
type Dispatcher struct {
	llmClient          LLMClient
	logger             *zap.Logger
	batchSize          int
	retryDelay         time.Duration
	maxBatchAttempts   int
	maxMessageAttempts int
	sem                chan struct{}
}

// NewDispatcher creates a dispatcher. Batch size, attempt counts and the
// concurrency bound are clamped to at least one.
func NewDispatcher(
	llmClient LLMClient,
	logger *zap.Logger,
	batchSize int,
	retryDelay time.Duration,
	maxBatchAttempts int,
	maxMessageAttempts int,
	maxConcurrent int,
) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 1
	}
	if maxBatchAttempts <= 0 {
		maxBatchAttempts = 1
	}
	if maxMessageAttempts <= 0 {
		maxMessageAttempts = 1
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		llmClient:          llmClient,
		logger:             logger,
		batchSize:          batchSize,
		retryDelay:         retryDelay,
		maxBatchAttempts:   maxBatchAttempts,
		maxMessageAttempts: maxMessageAttempts,
		sem:                make(chan struct{}, maxConcurrent),
	}
}

// Dispatch classifies the inputs against the account's categories and
// returns one decision per input, in input order. A message whose
// classification fails gets a decision with Err set and a nil Category;
// Dispatch itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, inputs []ClassifierInput, resolver CategoryResolver) []RoutingDecision {
	decisions := make([]RoutingDecision, len(inputs))
	for i := range inputs {
		decisions[i].Ref = inputs[i].Ref
	}

	for start := 0; start < len(inputs); start += d.batchSize {
		end := start + d.batchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		d.dispatchChunk(ctx, inputs[start:end], decisions[start:end], resolver)
	}
	return decisions
}

// dispatchChunk tries the whole chunk first, then falls back to classifying
// each message on its own so one bad message cannot sink its batchmates.
func (d *Dispatcher) dispatchChunk(ctx context.Context, chunk []ClassifierInput, decisions []RoutingDecision, resolver CategoryResolver) {
	results, err := d.categorizeWithRetry(ctx, chunk, resolver.List(), d.maxBatchAttempts)
	if err == nil {
		d.applyResults(chunk, decisions, results, resolver)
		return
	}

	if ctx.Err() != nil {
		for i := range decisions {
			decisions[i].Err = &ClassificationError{Fingerprint: chunk[i].Ref.Fingerprint, Reason: "shutdown before classification"}
		}
		return
	}

	d.logger.Warn("batch classification failed, retrying messages individually",
		zap.Int("batch_size", len(chunk)),
		zap.Error(err))

	for i := range chunk {
		if ctx.Err() != nil {
			decisions[i].Err = &ClassificationError{Fingerprint: chunk[i].Ref.Fingerprint, Reason: "shutdown before classification"}
			continue
		}
		single := chunk[i : i+1]
		results, err := d.categorizeWithRetry(ctx, single, resolver.List(), d.maxMessageAttempts)
		if err != nil {
			decisions[i].Err = &ClassificationError{Fingerprint: chunk[i].Ref.Fingerprint, Reason: err.Error()}
			continue
		}
		d.applyResults(single, decisions[i:i+1], results, resolver)
	}
}

// applyResults maps raw classifier results onto decisions, rejecting
// out-of-range indexes and category names outside the configured list. An
// input no result accounts for becomes a failed decision.
func (d *Dispatcher) applyResults(chunk []ClassifierInput, decisions []RoutingDecision, results []ClassifierResult, resolver CategoryResolver) {
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(chunk) {
			d.logger.Warn("classifier returned out-of-range index",
				zap.Int("index", r.Index),
				zap.Int("batch_size", len(chunk)))
			continue
		}
		dec := &decisions[r.Index]
		if dec.Category != nil || dec.Err != nil {
			// First answer for an index wins.
			continue
		}

		cat, ok := resolver.Resolve(r.Category)
		if !ok {
			dec.Err = &ClassificationError{
				Fingerprint: chunk[r.Index].Ref.Fingerprint,
				Reason:      "unknown category " + r.Category,
			}
			continue
		}
		dec.Category = cat
		dec.Confidence = r.Confidence
		dec.Rationale = r.Rationale
	}

	for i := range decisions {
		if decisions[i].Category == nil && decisions[i].Err == nil {
			decisions[i].Err = &ClassificationError{
				Fingerprint: chunk[i].Ref.Fingerprint,
				Reason:      "no result returned for message",
			}
		}
	}
}

func (d *Dispatcher) categorizeWithRetry(ctx context.Context, batch []ClassifierInput, cats []Category, attempts int) ([]ClassifierResult, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if !Sleep(ctx, d.retryDelay) {
				return nil, ctx.Err()
			}
		}
		results, err := d.categorize(ctx, batch, cats)
		if err == nil {
			return results, nil
		}
		lastErr = err
		d.logger.Warn("classification request failed",
			zap.Int("attempt", attempt),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
	}
	return nil, lastErr
}

func (d *Dispatcher) categorize(ctx context.Context, batch []ClassifierInput, cats []Category) ([]ClassifierResult, error) {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-d.sem }()
	return d.llmClient.CategorizeBatch(ctx, batch, cats)
}
