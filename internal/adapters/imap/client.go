package imap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/mikey/llm-mail-sorter/internal/core"
)

var errNotConnected = errors.New("not connected")

// Options holds the listing bounds for one mailbox session.
type Options struct {
	// LookbackDays bounds the SINCE search window when scanning folders.
	LookbackDays int
	// MaxPerCycle caps how many unhandled messages one listing pass may
	// return across all folders. Zero means no cap.
	MaxPerCycle int
}

// Client implements core.Mailbox on top of one IMAP connection. A Client is
// owned by a single worker goroutine and is not safe for concurrent use.
type Client struct {
	account *core.Account
	opts    Options
	logger  *zap.Logger

	cli      *imapclient.Client
	notify   chan struct{}
	selected string
}

// NewClient creates an unconnected session for the given account. Call
// Connect before any other method.
func NewClient(account *core.Account, opts Options, logger *zap.Logger) *Client {
	return &Client{
		account: account,
		opts:    opts,
		logger:  logger,
		notify:  make(chan struct{}, 1),
	}
}

// Connect dials the server, authenticates and verifies that the source
// folders exist. Any previous connection on this Client is discarded first.
func (c *Client) Connect(ctx context.Context) error {
	if c.cli != nil {
		_ = c.cli.Close()
		c.cli = nil
	}
	c.selected = ""

	addr := fmt.Sprintf("%s:%d", c.account.Host, c.account.Port)
	imapOpts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					select {
					case c.notify <- struct{}{}:
					default:
					}
				}
			},
		},
	}

	var (
		cli *imapclient.Client
		err error
	)
	if c.account.TLS {
		cli, err = imapclient.DialTLS(addr, imapOpts)
	} else {
		cli, err = imapclient.DialStartTLS(addr, imapOpts)
	}
	if err != nil {
		return &core.ConnectionError{Account: c.account.Name, Op: "dial " + addr, Err: err}
	}

	if err := cli.Login(c.account.Username, c.account.Password).Wait(); err != nil {
		_ = cli.Close()
		return &core.AuthError{Account: c.account.Name, Err: err}
	}
	c.cli = cli

	for _, folder := range c.account.SourceFolders() {
		if err := c.selectFolder(folder); err != nil {
			_ = cli.Close()
			c.cli = nil
			return err
		}
	}

	c.logger.Info("connected to mailbox",
		zap.String("account", c.account.Name),
		zap.String("addr", addr),
		zap.Strings("folders", c.account.SourceFolders()),
	)
	return nil
}

// ListUnhandled scans the source folders for messages within the lookback
// window whose fingerprints are not in known, oldest first, capped at
// MaxPerCycle across all folders.
func (c *Client) ListUnhandled(ctx context.Context, known core.FingerprintSet) ([]*core.MessageRef, error) {
	since := time.Now().AddDate(0, 0, -c.opts.LookbackDays)

	var refs []*core.MessageRef
	for _, folder := range c.account.SourceFolders() {
		limit := 0
		if c.opts.MaxPerCycle > 0 {
			limit = c.opts.MaxPerCycle - len(refs)
			if limit <= 0 {
				break
			}
		}
		folderRefs, err := c.listFolder(ctx, folder, since, known, limit)
		if err != nil {
			return nil, err
		}
		refs = append(refs, folderRefs...)
	}
	return refs, nil
}

func (c *Client) listFolder(ctx context.Context, folder string, since time.Time, known core.FingerprintSet, limit int) ([]*core.MessageRef, error) {
	if err := c.selectFolder(folder); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{Since: since}
	searchData, err := c.cli.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &core.ConnectionError{Account: c.account.Name, Op: "search " + folder, Err: err}
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSetNum(uids...)
	fetchOpts := &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	}

	fetchCmd := c.cli.Fetch(uidSet, fetchOpts)
	var refs []*core.MessageRef
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		refs = append(refs, c.refFromBuffer(folder, buf))
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, &core.ConnectionError{Account: c.account.Name, Op: "fetch envelopes " + folder, Err: err}
	}

	// Fetch responses may arrive in any order.
	sort.Slice(refs, func(i, j int) bool { return refs[i].UID < refs[j].UID })

	var out []*core.MessageRef
	for _, ref := range refs {
		seen, err := known.Has(ctx, ref.Fingerprint)
		if err != nil {
			return nil, err
		}
		if seen {
			continue
		}
		out = append(out, ref)
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	c.logger.Debug("scanned folder",
		zap.String("account", c.account.Name),
		zap.String("folder", folder),
		zap.Int("candidates", len(refs)),
		zap.Int("unhandled", len(out)),
	)
	return out, nil
}

func (c *Client) refFromBuffer(folder string, buf *imapclient.FetchMessageBuffer) *core.MessageRef {
	ref := &core.MessageRef{
		UID:     uint32(buf.UID),
		Account: c.account.Name,
		Folder:  folder,
	}
	if buf.Envelope != nil {
		ref.MessageID = buf.Envelope.MessageID
		ref.Subject = buf.Envelope.Subject
		ref.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			ref.From = buf.Envelope.From[0].Addr()
		}
		if len(buf.Envelope.To) > 0 {
			ref.To = buf.Envelope.To[0].Addr()
		}
	}
	ref.Fingerprint = core.Fingerprint(c.account.Name, ref.MessageID, ref.From, ref.Subject, ref.Date)
	return ref
}

// FetchBody retrieves the text content of one message without marking it
// read. It returns core.ErrMessageGone when the message has vanished since
// it was listed.
func (c *Client) FetchBody(ctx context.Context, ref *core.MessageRef) (string, error) {
	if err := c.selectFolder(ref.Folder); err != nil {
		return "", err
	}

	uidSet := imap.UIDSetNum(imap.UID(ref.UID))
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := c.cli.Fetch(uidSet, fetchOpts)
	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return "", fmt.Errorf("uid %d in %s: %w", ref.UID, ref.Folder, core.ErrMessageGone)
	}

	buf, err := msg.Collect()
	if err != nil {
		_ = fetchCmd.Close()
		return "", &core.ConnectionError{Account: c.account.Name, Op: "fetch body", Err: err}
	}
	if err := fetchCmd.Close(); err != nil {
		return "", &core.ConnectionError{Account: c.account.Name, Op: "fetch body", Err: err}
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return "", nil
	}
	return extractText(raw), nil
}

// Move relocates a message to the target folder, creating the folder on
// demand. Moving a message to the folder it already lives in is a no-op.
func (c *Client) Move(ctx context.Context, ref *core.MessageRef, folder string) error {
	if folder == "" || strings.EqualFold(folder, ref.Folder) {
		return nil
	}
	if err := c.selectFolder(ref.Folder); err != nil {
		return err
	}

	uidSet := imap.UIDSetNum(imap.UID(ref.UID))
	_, err := c.cli.Move(uidSet, folder).Wait()
	if err == nil {
		return nil
	}

	c.logger.Debug("move failed, creating target folder and retrying",
		zap.String("account", c.account.Name),
		zap.String("folder", folder),
		zap.Error(err),
	)
	// Create failing (usually because the folder already exists) is fine,
	// the retried move decides.
	_ = c.cli.Create(folder, nil).Wait()
	if _, err := c.cli.Move(uidSet, folder).Wait(); err != nil {
		return &core.ConnectionError{Account: c.account.Name, Op: "move to " + folder, Err: err}
	}
	return nil
}

// AwaitNotification idles on the primary folder until the server announces
// new mail, the timeout elapses, or ctx is cancelled. Cancellation yields
// IdleClosed with a nil error.
func (c *Client) AwaitNotification(ctx context.Context, timeout time.Duration) (core.IdleEvent, error) {
	if err := c.selectFolder(c.account.PrimaryFolder()); err != nil {
		return core.IdleClosed, err
	}

	// Drop any notification that arrived while the caller was draining.
	select {
	case <-c.notify:
	default:
	}

	idleCmd, err := c.cli.Idle()
	if err != nil {
		return core.IdleClosed, &core.ConnectionError{Account: c.account.Name, Op: "idle", Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var event core.IdleEvent
	select {
	case <-ctx.Done():
		_ = idleCmd.Close()
		_ = idleCmd.Wait()
		return core.IdleClosed, nil
	case <-c.notify:
		event = core.IdleNewMessage
	case <-timer.C:
		event = core.IdleTimedOut
	}

	if err := idleCmd.Close(); err != nil {
		return core.IdleClosed, &core.ConnectionError{Account: c.account.Name, Op: "idle", Err: err}
	}
	if err := idleCmd.Wait(); err != nil {
		return core.IdleClosed, &core.ConnectionError{Account: c.account.Name, Op: "idle", Err: err}
	}
	return event, nil
}

// Close logs out and drops the connection.
func (c *Client) Close() error {
	if c.cli == nil {
		return nil
	}
	err := c.cli.Logout().Wait()
	if err != nil {
		err = c.cli.Close()
	}
	c.cli = nil
	c.selected = ""
	return err
}

func (c *Client) selectFolder(folder string) error {
	if c.cli == nil {
		return &core.ConnectionError{Account: c.account.Name, Op: "select " + folder, Err: errNotConnected}
	}
	if c.selected == folder {
		return nil
	}
	if _, err := c.cli.Select(folder, nil).Wait(); err != nil {
		c.selected = ""
		return &core.ConnectionError{Account: c.account.Name, Op: "select " + folder, Err: err}
	}
	c.selected = folder
	return nil
}
