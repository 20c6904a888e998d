package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WorkerConfig carries the monitoring-loop tunables one worker needs.
type WorkerConfig struct {
	IdleTimeout        time.Duration
	MaxPerCycle        int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	StorageRetryDelay  time.Duration
	DryRun             bool
}

// Worker drives one account: connect, drain the backlog, idle until the
// server announces new mail, drain again. Connection failures reconnect
// with backoff; rejected credentials stop the worker for good.
type Worker struct {
	account    *Account
	mailbox    Mailbox
	store      FingerprintStore
	dispatcher *Dispatcher
	resolver   CategoryResolver
	logger     *zap.Logger
	cfg        WorkerConfig

	mu      sync.Mutex
	state   WorkerState
	lastErr error
}

// NewWorker creates a worker for one account.
func NewWorker(
	account *Account,
	mailbox Mailbox,
	store FingerprintStore,
	dispatcher *Dispatcher,
	resolver CategoryResolver,
	logger *zap.Logger,
	cfg WorkerConfig,
) *Worker {
	return &Worker{
		account:    account,
		mailbox:    mailbox,
		store:      store,
		dispatcher: dispatcher,
		resolver:   resolver,
		logger:     logger,
		cfg:        cfg,
		state:      StateDisconnected,
	}
}

// Status returns the worker's current lifecycle state.
func (w *Worker) Status() AccountStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := AccountStatus{State: w.state}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	return st
}

func (w *Worker) setState(state WorkerState, err error) {
	w.mu.Lock()
	w.state = state
	w.lastErr = err
	w.mu.Unlock()
}

// Run drives the account until ctx is cancelled or authentication fails.
// The returned error is nil on clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	backoff := &Backoff{Base: w.cfg.ReconnectBaseDelay, Max: w.cfg.ReconnectMaxDelay}

	for {
		if ctx.Err() != nil {
			w.setState(StateStopped, nil)
			return nil
		}

		w.setState(StateConnecting, nil)
		if err := w.mailbox.Connect(ctx); err != nil {
			if IsAuthError(err) {
				w.logger.Error("authentication rejected, giving up on account",
					zap.String("account", w.account.Name),
					zap.Error(err))
				w.setState(StateStopped, err)
				return err
			}
			delay := backoff.Next()
			w.setState(StateDisconnected, err)
			w.logger.Warn("connect failed, backing off",
				zap.String("account", w.account.Name),
				zap.Duration("delay", delay),
				zap.Error(err))
			if !Sleep(ctx, delay) {
				w.setState(StateStopped, nil)
				return nil
			}
			continue
		}
		backoff.Reset()

		err := w.session(ctx)
		_ = w.mailbox.Close()
		if err == nil {
			w.setState(StateStopped, nil)
			return nil
		}
		if IsAuthError(err) {
			w.setState(StateStopped, err)
			return err
		}

		delay := backoff.Next()
		w.setState(StateDisconnected, err)
		w.logger.Warn("session ended, reconnecting",
			zap.String("account", w.account.Name),
			zap.Duration("delay", delay),
			zap.Error(err))
		if !Sleep(ctx, delay) {
			w.setState(StateStopped, nil)
			return nil
		}
	}
}

// session loops drain-then-idle on one connection. It returns nil on clean
// shutdown and an error when the connection is no longer usable.
func (w *Worker) session(ctx context.Context) error {
	for {
		if err := w.drain(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		w.setState(StateIdling, nil)
		event, err := w.mailbox.AwaitNotification(ctx, w.cfg.IdleTimeout)
		if err != nil {
			return err
		}
		if event == IdleClosed {
			if ctx.Err() != nil {
				return nil
			}
			return &ConnectionError{Account: w.account.Name, Op: "idle", Err: errors.New("connection closed")}
		}
		w.logger.Debug("idle wait ended",
			zap.String("account", w.account.Name),
			zap.String("event", event.String()))
	}
}

// drain processes unhandled messages until the folders are caught up. It
// keeps listing only while full listings still make progress, so messages
// that persistently fail classification cannot spin the loop.
func (w *Worker) drain(ctx context.Context) error {
	w.setState(StateDraining, nil)
	for {
		refs, err := w.listWithStorageRetry(ctx)
		if err != nil {
			return err
		}
		if len(refs) == 0 || ctx.Err() != nil {
			return nil
		}

		handled, err := w.processRefs(ctx, refs)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if w.cfg.MaxPerCycle <= 0 || len(refs) < w.cfg.MaxPerCycle || handled == 0 {
			return nil
		}
	}
}

func (w *Worker) listWithStorageRetry(ctx context.Context) ([]*MessageRef, error) {
	for {
		refs, err := w.mailbox.ListUnhandled(ctx, w.store)
		if err == nil {
			return refs, nil
		}
		if !IsStorageError(err) {
			return nil, err
		}
		w.logger.Warn("fingerprint store unavailable, stalling cycle",
			zap.String("account", w.account.Name),
			zap.Error(err))
		if !Sleep(ctx, w.cfg.StorageRetryDelay) {
			return nil, nil
		}
	}
}

// processRefs fetches bodies, classifies them and routes the decisions. It
// reports how many messages were fully handled.
func (w *Worker) processRefs(ctx context.Context, refs []*MessageRef) (int, error) {
	inputs := make([]ClassifierInput, 0, len(refs))
	for _, ref := range refs {
		if ctx.Err() != nil {
			return 0, nil
		}
		body, err := w.mailbox.FetchBody(ctx, ref)
		if err != nil {
			if errors.Is(err, ErrMessageGone) {
				w.logger.Debug("message vanished before fetch",
					zap.String("account", ref.Account),
					zap.String("folder", ref.Folder),
					zap.String("subject", ref.Subject))
				continue
			}
			return 0, err
		}
		inputs = append(inputs, ClassifierInput{Ref: ref, Body: body})
	}
	if len(inputs) == 0 {
		return 0, nil
	}

	decisions := w.dispatcher.Dispatch(ctx, inputs, w.resolver)

	handled := 0
	for i := range decisions {
		if ctx.Err() != nil {
			return handled, nil
		}
		ok, err := w.route(ctx, &decisions[i])
		if err != nil {
			return handled, err
		}
		if ok {
			handled++
		}
	}
	return handled, nil
}

// route executes one decision: move the message to its category folder,
// then record the fingerprint. Failed classifications leave the message in
// place so a later cycle retries it.
func (w *Worker) route(ctx context.Context, dec *RoutingDecision) (bool, error) {
	ref := dec.Ref
	if dec.Err != nil {
		w.logger.Warn("leaving message in place",
			zap.String("account", ref.Account),
			zap.String("folder", ref.Folder),
			zap.String("subject", ref.Subject),
			zap.Error(dec.Err))
		return false, nil
	}

	// The listing already filtered known fingerprints, but the message may
	// have been handled since, e.g. by an overlapping drain after an idle
	// notification.
	seen, err := w.hasWithStorageRetry(ctx, ref.Fingerprint)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	if w.cfg.DryRun {
		w.logger.Info("dry run, would route message",
			zap.String("account", ref.Account),
			zap.String("category", dec.Category.Name),
			zap.String("folder", dec.Category.Folder),
			zap.String("subject", ref.Subject),
			zap.Float64("confidence", dec.Confidence))
		return false, nil
	}

	if !strings.EqualFold(dec.Category.Folder, ref.Folder) {
		if err := w.mailbox.Move(ctx, ref, dec.Category.Folder); err != nil {
			return false, err
		}
	}

	rec := &ProcessedRecord{
		Fingerprint: ref.Fingerprint,
		Account:     ref.Account,
		ProcessedAt: time.Now().UTC(),
		Sender:      ref.From,
		Subject:     ref.Subject,
		Category:    dec.Category.Name,
	}
	if err := w.recordWithStorageRetry(ctx, rec); err != nil {
		return false, err
	}

	w.logger.Info("message routed",
		zap.String("account", ref.Account),
		zap.String("category", dec.Category.Name),
		zap.String("folder", dec.Category.Folder),
		zap.String("subject", ref.Subject),
		zap.Float64("confidence", dec.Confidence))
	return true, nil
}

func (w *Worker) hasWithStorageRetry(ctx context.Context, fingerprint string) (bool, error) {
	for {
		seen, err := w.store.Has(ctx, fingerprint)
		if err == nil {
			return seen, nil
		}
		if !IsStorageError(err) {
			return false, err
		}
		w.logger.Warn("fingerprint store unavailable, stalling cycle",
			zap.String("account", w.account.Name),
			zap.Error(err))
		if !Sleep(ctx, w.cfg.StorageRetryDelay) {
			return false, ctx.Err()
		}
	}
}

func (w *Worker) recordWithStorageRetry(ctx context.Context, rec *ProcessedRecord) error {
	for {
		err := w.store.Record(ctx, rec)
		if err == nil {
			return nil
		}
		if !IsStorageError(err) {
			return err
		}
		w.logger.Warn("fingerprint store unavailable, stalling cycle",
			zap.String("account", w.account.Name),
			zap.Error(err))
		if !Sleep(ctx, w.cfg.StorageRetryDelay) {
			return ctx.Err()
		}
	}
}
