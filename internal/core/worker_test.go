package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore is an in-memory FingerprintStore whose next failuresLeft
// operations fail with a StorageError.
type fakeStore struct {
	mu           sync.Mutex
	records      map[string]*ProcessedRecord
	failuresLeft int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*ProcessedRecord)}
}

func (s *fakeStore) failNext(n int) {
	s.mu.Lock()
	s.failuresLeft = n
	s.mu.Unlock()
}

func (s *fakeStore) seed(rec *ProcessedRecord) {
	s.mu.Lock()
	s.records[rec.Fingerprint] = rec
	s.mu.Unlock()
}

func (s *fakeStore) maybeFail(op string) error {
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return &StorageError{Op: op, Err: errors.New("store offline")}
	}
	return nil
}

func (s *fakeStore) Has(ctx context.Context, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail("has"); err != nil {
		return false, err
	}
	_, ok := s.records[fingerprint]
	return ok, nil
}

func (s *fakeStore) Record(ctx context.Context, rec *ProcessedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail("record"); err != nil {
		return err
	}
	if _, ok := s.records[rec.Fingerprint]; !ok {
		s.records[rec.Fingerprint] = rec
	}
	return nil
}

func (s *fakeStore) Prune(ctx context.Context, olderThan time.Duration, account string) (int64, error) {
	return 0, nil
}

func (s *fakeStore) Reset(ctx context.Context, account string) (int64, error) {
	return 0, nil
}

func (s *fakeStore) List(ctx context.Context, account string, fn func(*ProcessedRecord) error) error {
	return nil
}

func (s *fakeStore) CategoryStats(ctx context.Context, account string) (map[string]int64, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *fakeStore) category(fingerprint string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[fingerprint]; ok {
		return rec.Category
	}
	return ""
}

// fakeMailbox scripts one account's mailbox. AwaitNotification first
// consumes idleEvents, then blocks until the context is cancelled the way
// the IMAP adapter does during shutdown; idling is closed when the worker
// first reaches that steady state.
type fakeMailbox struct {
	mu           sync.Mutex
	connectErrs  []error // consumed per Connect call; exhausted means success
	connectCalls int
	listErrs     []error // consumed per ListUnhandled call; nil entries succeed
	unhandled    []*MessageRef
	bodies       map[string]string
	gone         map[string]bool
	moved        map[string]string // fingerprint -> target folder
	limit        int               // cap listings like the adapter's max-per-cycle option
	idleEvents   []IdleEvent
	idleCalls    int
	onIdle       func(call int) []*MessageRef // extra messages arriving during idle
	closes       int

	idling   chan struct{}
	idleOnce sync.Once
}

func newFakeMailbox(refs ...*MessageRef) *fakeMailbox {
	m := &fakeMailbox{
		unhandled: refs,
		bodies:    make(map[string]string),
		gone:      make(map[string]bool),
		moved:     make(map[string]string),
		idling:    make(chan struct{}),
	}
	for _, ref := range refs {
		m.bodies[ref.Fingerprint] = "body of " + ref.Subject
	}
	return m
}

func (m *fakeMailbox) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
	if len(m.connectErrs) > 0 {
		err := m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
		return err
	}
	return nil
}

func (m *fakeMailbox) ListUnhandled(ctx context.Context, known FingerprintSet) ([]*MessageRef, error) {
	m.mu.Lock()
	if len(m.listErrs) > 0 {
		err := m.listErrs[0]
		m.listErrs = m.listErrs[1:]
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	present := make([]*MessageRef, 0, len(m.unhandled))
	for _, ref := range m.unhandled {
		if m.moved[ref.Fingerprint] == "" {
			present = append(present, ref)
		}
	}
	limit := m.limit
	m.mu.Unlock()

	out := make([]*MessageRef, 0, len(present))
	for _, ref := range present {
		seen, err := known.Has(ctx, ref.Fingerprint)
		if err != nil {
			return nil, err
		}
		if !seen {
			out = append(out, ref)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *fakeMailbox) FetchBody(ctx context.Context, ref *MessageRef) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone[ref.Fingerprint] {
		return "", fmt.Errorf("uid %d in %s: %w", ref.UID, ref.Folder, ErrMessageGone)
	}
	return m.bodies[ref.Fingerprint], nil
}

func (m *fakeMailbox) Move(ctx context.Context, ref *MessageRef, folder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moved[ref.Fingerprint] = folder
	return nil
}

func (m *fakeMailbox) AwaitNotification(ctx context.Context, timeout time.Duration) (IdleEvent, error) {
	m.mu.Lock()
	m.idleCalls++
	if m.onIdle != nil {
		for _, ref := range m.onIdle(m.idleCalls) {
			m.unhandled = append(m.unhandled, ref)
			m.bodies[ref.Fingerprint] = "body of " + ref.Subject
		}
	}
	if len(m.idleEvents) > 0 {
		event := m.idleEvents[0]
		m.idleEvents = m.idleEvents[1:]
		m.mu.Unlock()
		return event, nil
	}
	m.mu.Unlock()

	m.idleOnce.Do(func() { close(m.idling) })
	<-ctx.Done()
	return IdleClosed, nil
}

func (m *fakeMailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *fakeMailbox) movedTo(fingerprint string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moved[fingerprint]
}

func (m *fakeMailbox) connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

func msg(account, folder string, uid uint32, from, subject string) *MessageRef {
	date := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := fmt.Sprintf("<%d@%s>", uid, account)
	return &MessageRef{
		UID:         uid,
		Account:     account,
		Folder:      folder,
		MessageID:   id,
		From:        from,
		To:          "me@example.com",
		Subject:     subject,
		Date:        date,
		Fingerprint: Fingerprint(account, id, from, subject, date),
	}
}

func newTestWorker(mbox *fakeMailbox, store *fakeStore, llm *fakeLLM, cfg WorkerConfig) *Worker {
	dispatcher := NewDispatcher(llm, zap.NewNop(), 10, 0, 1, 1, 4)
	account := &Account{Name: "work", Host: "imap.example.com"}
	return NewWorker(account, mbox, store, dispatcher, testResolver(), zap.NewNop(), cfg)
}

func defaultWorkerConfig() WorkerConfig {
	return WorkerConfig{IdleTimeout: time.Minute, MaxPerCycle: 100}
}

func startWorker(ctx context.Context, w *Worker) chan error {
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done
}

func waitIdle(t *testing.T, m *fakeMailbox) {
	t.Helper()
	select {
	case <-m.idling:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached idle")
	}
}

func waitResult(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
		return nil
	}
}

func TestWorkerDrainsBacklogAndRoutes(t *testing.T) {
	m1 := msg("work", "INBOX", 1, "spammer@example.com", "cheap pills")
	m2 := msg("work", "INBOX", 2, "shop@example.com", "your order shipped")
	mbox := newFakeMailbox(m1, m2)
	store := newFakeStore()
	llm := &fakeLLM{fn: func(_ int, batch []ClassifierInput, _ []Category) ([]ClassifierResult, error) {
		results := make([]ClassifierResult, len(batch))
		for i := range batch {
			cat := "SPAM"
			if strings.Contains(batch[i].Ref.Subject, "order") {
				cat = "RECEIPTS"
			}
			results[i] = ClassifierResult{Index: i, Category: cat, Confidence: 90, Rationale: "test"}
		}
		return results, nil
	}}
	w := newTestWorker(mbox, store, llm, defaultWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorker(ctx, w)
	waitIdle(t, mbox)
	cancel()
	require.NoError(t, waitResult(t, done))

	require.Equal(t, "Spam", mbox.movedTo(m1.Fingerprint))
	require.Equal(t, "Receipts", mbox.movedTo(m2.Fingerprint))
	require.Equal(t, 2, store.count())
	require.Equal(t, "SPAM", store.category(m1.Fingerprint))
	require.Equal(t, "RECEIPTS", store.category(m2.Fingerprint))
	require.Equal(t, StateStopped, w.Status().State)
}

func TestWorkerKeepsInPlaceCategoryWhereItIs(t *testing.T) {
	m1 := msg("work", "INBOX", 1, "alice@example.com", "lunch tomorrow?")
	mbox := newFakeMailbox(m1)
	store := newFakeStore()
	llm := &fakeLLM{fn: classifyAll("INBOX")}
	w := newTestWorker(mbox, store, llm, defaultWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorker(ctx, w)
	waitIdle(t, mbox)
	cancel()
	require.NoError(t, waitResult(t, done))

	require.Empty(t, mbox.movedTo(m1.Fingerprint))
	require.Equal(t, 1, store.count())
	require.Equal(t, "INBOX", store.category(m1.Fingerprint))
}

func TestWorkerDryRunTouchesNothing(t *testing.T) {
	m1 := msg("work", "INBOX", 1, "spammer@example.com", "cheap pills")
	mbox := newFakeMailbox(m1)
	store := newFakeStore()
	llm := &fakeLLM{fn: classifyAll("SPAM")}
	cfg := defaultWorkerConfig()
	cfg.DryRun = true
	w := newTestWorker(mbox, store, llm, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorker(ctx, w)
	waitIdle(t, mbox)
	cancel()
	require.NoError(t, waitResult(t, done))

	require.Positive(t, llm.callCount())
	require.Empty(t, mbox.movedTo(m1.Fingerprint))
	require.Zero(t, store.count())
}

func TestWorkerSkipsAlreadyHandledMessages(t *testing.T) {
	m1 := msg("work", "INBOX", 1, "spammer@example.com", "cheap pills")
	m2 := msg("work", "INBOX", 2, "spammer@example.com", "more pills")
	mbox := newFakeMailbox(m1, m2)
	store := newFakeStore()
	store.seed(&ProcessedRecord{Fingerprint: m1.Fingerprint, Account: "work", Category: "SPAM"})
	llm := &fakeLLM{fn: classifyAll("SPAM")}
	w := newTestWorker(mbox, store, llm, defaultWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorker(ctx, w)
	waitIdle(t, mbox)
	cancel()
	require.NoError(t, waitResult(t, done))

	require.Empty(t, mbox.movedTo(m1.Fingerprint))
	require.Equal(t, "Spam", mbox.movedTo(m2.Fingerprint))
	require.Equal(t, 2, store.count())
}

func TestWorkerAuthFailureIsFatal(t *testing.T) {
	mbox := newFakeMailbox()
	mbox.connectErrs = []error{&AuthError{Account: "work", Err: errors.New("LOGIN failed")}}
	w := newTestWorker(mbox, newFakeStore(), &fakeLLM{fn: classifyAll("INBOX")}, defaultWorkerConfig())

	done := startWorker(context.Background(), w)
	err := waitResult(t, done)

	require.Error(t, err)
	require.True(t, IsAuthError(err))
	st := w.Status()
	require.Equal(t, StateStopped, st.State)
	require.Contains(t, st.LastError, "authentication failed")
	require.Equal(t, 1, mbox.connects())
}

func TestWorkerRetriesConnectUntilItSucceeds(t *testing.T) {
	m1 := msg("work", "INBOX", 1, "spammer@example.com", "cheap pills")
	mbox := newFakeMailbox(m1)
	mbox.connectErrs = []error{
		&ConnectionError{Account: "work", Op: "dial", Err: errors.New("connection refused")},
		&ConnectionError{Account: "work", Op: "dial", Err: errors.New("connection refused")},
	}
	store := newFakeStore()
	llm := &fakeLLM{fn: classifyAll("SPAM")}
	w := newTestWorker(mbox, store, llm, defaultWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorker(ctx, w)
	waitIdle(t, mbox)
	cancel()
	require.NoError(t, waitResult(t, done))

	require.Equal(t, 3, mbox.connects())
	require.Equal(t, "Spam", mbox.movedTo(m1.Fingerprint))
}

func TestWorkerReconnectsWhenConnectionDrops(t *testing.T) {
	mbox := newFakeMailbox()
	mbox.idleEvents = []IdleEvent{IdleClosed}
	w := newTestWorker(mbox, newFakeStore(), &fakeLLM{fn: classifyAll("INBOX")}, defaultWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorker(ctx, w)
	waitIdle(t, mbox)
	cancel()
	require.NoError(t, waitResult(t, done))

	require.Equal(t, 2, mbox.connects())
}

func TestWorkerReconnectsWhenListingFails(t *testing.T) {
	m1 := msg("work", "INBOX", 1, "alice@example.com", "hello")
	mbox := newFakeMailbox(m1)
	mbox.listErrs = []error{
		&ConnectionError{Account: "work", Op: "search INBOX", Err: errors.New("broken pipe")},
	}
	store := newFakeStore()
	w := newTestWorker(mbox, store, &fakeLLM{fn: classifyAll("RECEIPTS")}, defaultWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorker(ctx, w)
	waitIdle(t, mbox)
	cancel()
	require.NoError(t, waitResult(t, done))

	// The interrupted cycle recorded nothing; the message was handled once
	// after the reconnect.
	require.Equal(t, 2, mbox.connects())
	require.Equal(t, "Receipts", mbox.movedTo(m1.Fingerprint))
	require.Equal(t, 1, store.count())
}

func TestWorkerDrainsAgainOnNewMailNotification(t *testing.T) {
	late := msg("work", "INBOX", 9, "shop@example.com", "your order shipped")
	mbox := newFakeMailbox()
	mbox.idleEvents = []IdleEvent{IdleNewMessage}
	mbox.onIdle = func(call int) []*MessageRef {
		if call == 1 {
			return []*MessageRef{late}
		}
		return nil
	}
	store := newFakeStore()
	llm := &fakeLLM{fn: classifyAll("RECEIPTS")}
	w := newTestWorker(mbox, store, llm, defaultWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorker(ctx, w)
	waitIdle(t, mbox)
	cancel()
	require.NoError(t, waitResult(t, done))

	require.Equal(t, "Receipts", mbox.movedTo(late.Fingerprint))
	require.Equal(t, 1, store.count())
}

func TestWorkerStallsUntilStoreRecovers(t *testing.T) {
	m1 := msg("work", "INBOX", 1, "spammer@example.com", "cheap pills")
	mbox := newFakeMailbox(m1)
	store := newFakeStore()
	store.failNext(3)
	llm := &fakeLLM{fn: classifyAll("SPAM")}
	w := newTestWorker(mbox, store, llm, defaultWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorker(ctx, w)
	waitIdle(t, mbox)
	cancel()
	require.NoError(t, waitResult(t, done))

	require.Equal(t, "Spam", mbox.movedTo(m1.Fingerprint))
	require.Equal(t, 1, store.count())
	// Storage failures stall the cycle rather than dropping the connection.
	require.Equal(t, 1, mbox.connects())
}

func TestWorkerSkipsVanishedMessages(t *testing.T) {
	m1 := msg("work", "INBOX", 1, "spammer@example.com", "cheap pills")
	m2 := msg("work", "INBOX", 2, "shop@example.com", "your order shipped")
	mbox := newFakeMailbox(m1, m2)
	mbox.gone[m1.Fingerprint] = true
	store := newFakeStore()
	llm := &fakeLLM{fn: classifyAll("RECEIPTS")}
	w := newTestWorker(mbox, store, llm, defaultWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorker(ctx, w)
	waitIdle(t, mbox)
	cancel()
	require.NoError(t, waitResult(t, done))

	require.Empty(t, mbox.movedTo(m1.Fingerprint))
	require.Equal(t, "Receipts", mbox.movedTo(m2.Fingerprint))
	require.Equal(t, 1, store.count())
}

func TestWorkerLeavesUnclassifiableMailInPlace(t *testing.T) {
	m1 := msg("work", "INBOX", 1, "odd@example.com", "unparseable")
	mbox := newFakeMailbox(m1)
	store := newFakeStore()
	llm := &fakeLLM{fn: func(_ int, _ []ClassifierInput, _ []Category) ([]ClassifierResult, error) {
		return nil, errors.New("model unavailable")
	}}
	w := newTestWorker(mbox, store, llm, defaultWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorker(ctx, w)
	waitIdle(t, mbox)
	cancel()
	require.NoError(t, waitResult(t, done))

	require.Empty(t, mbox.movedTo(m1.Fingerprint))
	require.Zero(t, store.count())
	// One batch attempt plus one single-message fallback.
	require.Equal(t, 2, llm.callCount())
}

func TestWorkerDrainsInFullCyclesUntilCaughtUp(t *testing.T) {
	refs := []*MessageRef{
		msg("work", "INBOX", 1, "a@example.com", "one"),
		msg("work", "INBOX", 2, "b@example.com", "two"),
		msg("work", "INBOX", 3, "c@example.com", "three"),
		msg("work", "INBOX", 4, "d@example.com", "four"),
		msg("work", "INBOX", 5, "e@example.com", "five"),
	}
	mbox := newFakeMailbox(refs...)
	mbox.limit = 2
	store := newFakeStore()
	llm := &fakeLLM{fn: classifyAll("SPAM")}
	cfg := defaultWorkerConfig()
	cfg.MaxPerCycle = 2
	w := newTestWorker(mbox, store, llm, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorker(ctx, w)
	waitIdle(t, mbox)
	cancel()
	require.NoError(t, waitResult(t, done))

	for _, ref := range refs {
		require.Equal(t, "Spam", mbox.movedTo(ref.Fingerprint), ref.Subject)
	}
	require.Equal(t, 5, store.count())
}

func TestWorkerStopsListingWhenNothingProgresses(t *testing.T) {
	m1 := msg("work", "INBOX", 1, "odd@example.com", "unparseable")
	mbox := newFakeMailbox(m1)
	mbox.limit = 1
	store := newFakeStore()
	llm := &fakeLLM{fn: func(_ int, _ []ClassifierInput, _ []Category) ([]ClassifierResult, error) {
		return nil, errors.New("model unavailable")
	}}
	cfg := defaultWorkerConfig()
	cfg.MaxPerCycle = 1
	w := newTestWorker(mbox, store, llm, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorker(ctx, w)
	// Reaching idle at all proves a full listing with no progress ends the
	// drain instead of spinning on the same message.
	waitIdle(t, mbox)
	cancel()
	require.NoError(t, waitResult(t, done))

	require.Zero(t, store.count())
	require.Equal(t, 2, llm.callCount())
}
