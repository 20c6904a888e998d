package core

import (
	"time"
)

// Account holds the connection parameters and routing configuration for one
// monitored mailbox. Immutable after load.
type Account struct {
	Name       string
	Host       string
	Port       int
	TLS        bool
	Username   string
	Password   string
	Folders    []string
	Categories []Category
}

// SourceFolders returns the folders scanned for unhandled mail, INBOX when
// none are configured.
func (a *Account) SourceFolders() []string {
	if len(a.Folders) == 0 {
		return []string{"INBOX"}
	}
	return a.Folders
}

// PrimaryFolder returns the folder watched during idle waits.
func (a *Account) PrimaryFolder() string {
	return a.SourceFolders()[0]
}

// Category describes one routing target: the name the classifier chooses
// between, a free-text description fed to the classifier, and the mailbox
// folder messages of this category are moved to.
type Category struct {
	Name        string
	Description string
	Folder      string
}

// DefaultCategories returns the stock category set used when an account
// configures none.
func DefaultCategories() []Category {
	return []Category{
		{Name: "SPAM", Description: "Unsolicited bulk mail, phishing attempts, scams and other junk", Folder: "Spam"},
		{Name: "RECEIPTS", Description: "Order confirmations, invoices, payment receipts and shipping notifications", Folder: "Receipts"},
		{Name: "PROMOTIONS", Description: "Marketing mail, newsletters, sales offers and promotional announcements", Folder: "Promotions"},
		{Name: "UPDATES", Description: "Automated notifications from services and apps, such as alerts, reminders and status updates", Folder: "Updates"},
		{Name: "INBOX", Description: "Personal or business correspondence that needs attention", Folder: "INBOX"},
	}
}

// MessageRef is the envelope-level handle for one message in a source
// folder. Bodies are fetched separately on demand.
type MessageRef struct {
	UID         uint32
	Account     string
	Folder      string
	MessageID   string
	From        string
	To          string
	Subject     string
	Date        time.Time
	Fingerprint string
}

// ProcessedRecord marks one message as handled. Fingerprint, Account and
// ProcessedAt are the dedup triple; the remaining fields only feed the state
// inspection tooling.
type ProcessedRecord struct {
	Fingerprint string
	Account     string
	ProcessedAt time.Time
	Sender      string
	Subject     string
	Category    string
}

// ClassifierInput pairs a message reference with the body text submitted to
// the classification service.
type ClassifierInput struct {
	Ref  *MessageRef
	Body string
}

// ClassifierResult is one raw answer from the classification service.
// Index refers to the position of the corresponding input in the batch,
// Confidence is on the service's 0-100 scale.
type ClassifierResult struct {
	Index      int
	Category   string
	Confidence float64
	Rationale  string
}

// RoutingDecision is the dispatcher's verdict for one message. Category is
// resolved against the account's configured list; it is nil and Err is set
// when classification failed or named an unknown category.
type RoutingDecision struct {
	Ref        *MessageRef
	Category   *Category
	Confidence float64
	Rationale  string
	Err        error
}

// IdleEvent is the outcome of one idle wait on a mailbox connection.
type IdleEvent int

const (
	// IdleNewMessage means the server signalled new mail in the watched folder.
	IdleNewMessage IdleEvent = iota
	// IdleTimedOut means the wait elapsed without a notification.
	IdleTimedOut
	// IdleClosed means the connection went away and must be re-established.
	IdleClosed
)

func (e IdleEvent) String() string {
	switch e {
	case IdleNewMessage:
		return "new_message"
	case IdleTimedOut:
		return "timed_out"
	case IdleClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WorkerState is the observable lifecycle state of an account worker.
type WorkerState int

const (
	StateDisconnected WorkerState = iota
	StateConnecting
	StateDraining
	StateIdling
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateDraining:
		return "draining"
	case StateIdling:
		return "idling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// AccountStatus is the orchestrator's per-account view.
type AccountStatus struct {
	State     WorkerState
	LastError string
}
