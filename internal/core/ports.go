package core

import (
	"context"
	"time"
)

// LLMClient defines the interface for the external classification service.
type LLMClient interface {
	// CategorizeBatch classifies a batch of messages against the account's
	// category list. It returns one result per input; Index ties a result
	// back to its input position.
	CategorizeBatch(ctx context.Context, batch []ClassifierInput, categories []Category) ([]ClassifierResult, error)
}

// FingerprintSet is the read side of the fingerprint store, sufficient for
// listing code that only needs membership checks.
type FingerprintSet interface {
	// Has reports whether a processed record exists for the fingerprint.
	Has(ctx context.Context, fingerprint string) (bool, error)
}

// FingerprintStore is the durable record of already-handled messages. It is
// shared by all workers; implementations serialize mutations internally.
type FingerprintStore interface {
	FingerprintSet

	// Record stores a processed record. Recording an already-present
	// fingerprint is a no-op, not an error.
	Record(ctx context.Context, rec *ProcessedRecord) error

	// Prune deletes records older than the given age, optionally scoped to
	// one account (empty string means all), and returns the number deleted.
	Prune(ctx context.Context, olderThan time.Duration, account string) (int64, error)

	// Reset deletes all records, optionally scoped to one account, and
	// returns the number deleted.
	Reset(ctx context.Context, account string) (int64, error)

	// List streams records through fn in insertion order, optionally scoped
	// to one account. It stops early when fn returns an error.
	List(ctx context.Context, account string, fn func(*ProcessedRecord) error) error

	// CategoryStats returns per-category record counts, optionally scoped to
	// one account.
	CategoryStats(ctx context.Context, account string) (map[string]int64, error)

	// Close releases the underlying storage.
	Close() error
}

// Mailbox is one authenticated session to one account's folders. A worker
// owns exactly one Mailbox; Connect may be called again after a failure to
// establish a fresh session on the same value.
type Mailbox interface {
	// Connect dials, authenticates and verifies the configured folders.
	// Credential rejection surfaces as AuthError, anything else as
	// ConnectionError.
	Connect(ctx context.Context) error

	// ListUnhandled enumerates messages in the source folders whose
	// fingerprints are not in known, oldest first, without fetching bodies.
	ListUnhandled(ctx context.Context, known FingerprintSet) ([]*MessageRef, error)

	// FetchBody retrieves the text content of one message for
	// classification, leaving flags untouched.
	FetchBody(ctx context.Context, ref *MessageRef) (string, error)

	// Move relocates a message to the target folder. Moving to the folder
	// the message already lives in is a no-op success. Flags and content are
	// never altered.
	Move(ctx context.Context, ref *MessageRef, folder string) error

	// AwaitNotification blocks until the server signals new mail in the
	// primary folder, the timeout elapses, or the connection goes away.
	AwaitNotification(ctx context.Context, timeout time.Duration) (IdleEvent, error)

	// Close tears the session down.
	Close() error
}

// MailboxFactory builds a Mailbox for an account. Injected so workers can be
// exercised against fakes.
type MailboxFactory func(account *Account) Mailbox

// CategoryResolver maps classifier-returned category names onto an account's
// configured categories.
type CategoryResolver interface {
	// Resolve returns the configured category for a name, or false when the
	// name is not configured.
	Resolve(name string) (*Category, bool)

	// List returns the categories in their configured order.
	List() []Category
}
