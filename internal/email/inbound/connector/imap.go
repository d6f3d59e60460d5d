package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

const defaultFolder = "INBOX"

// imapClient is the subset of *imapclient.Client used here, with results
// reduced to interfaces so tests can fake them.
type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
	UIDExpunge(uids imap.UIDSet) expungeWaiter
}

type (
	commandWaiter interface{ Wait() error }
	selectWaiter  interface {
		Wait() (*imap.SelectData, error)
	}
	searchWaiter interface {
		Wait() (*imap.SearchData, error)
	}
	fetchWaiter interface {
		Collect() ([]*imapclient.FetchMessageBuffer, error)
		Close() error
	}
	expungeWaiter interface{ Close() error }
)

// IMAPFetcher polls one folder of an IMAP or IMAPS mailbox.
type IMAPFetcher struct {
	settings
	dial func(models.InboundAccount) (imapClient, error)
}

// NewIMAPFetcher builds an IMAP connector.
func NewIMAPFetcher(opts ...Option) *IMAPFetcher {
	f := &IMAPFetcher{settings: newSettings(opts)}
	f.dial = f.dialServer
	return f
}

func withIMAPDialer(f *IMAPFetcher, dial func(models.InboundAccount) (imapClient, error)) *IMAPFetcher {
	f.dial = dial
	return f
}

func (f *IMAPFetcher) Name() string { return "imap" }

// Fetch logs in, selects the account folder and drains it into handler.
func (f *IMAPFetcher) Fetch(ctx context.Context, account models.InboundAccount, handler Handler) error {
	if handler == nil {
		return errors.New("imap fetcher requires a handler")
	}
	if err := checkCredentials(f.Name(), account); err != nil {
		return err
	}
	client, err := f.dial(account)
	if err != nil {
		return fmt.Errorf("imap connect: %w", err)
	}
	folder := account.Folder
	if folder == "" {
		folder = defaultFolder
	}
	sess := &imapSession{client: client, folder: folder, deleteAfterFetch: f.deleteAfterFetch}
	defer f.closeSession(f.Name(), sess)

	if err := client.Login(account.Username, account.Password).Wait(); err != nil {
		return fmt.Errorf("imap auth: %w", err)
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("imap select %s: %w", folder, err)
	}
	if err := f.drain(ctx, f.Name(), account, sess, handler); err != nil {
		return err
	}
	sess.loggedOut = true
	if err := client.Logout().Wait(); err != nil {
		return fmt.Errorf("imap logout: %w", err)
	}
	return nil
}

func (f *IMAPFetcher) dialServer(account models.InboundAccount) (imapClient, error) {
	if account.Host == "" {
		return nil, fmt.Errorf("imap account %s missing host", account.ID)
	}
	kind, _ := kindOf(account.Type)
	port := account.Port
	if port == 0 {
		port = 143
		if kind.tls {
			port = 993
		}
	}
	addr := net.JoinHostPort(account.Host, strconv.Itoa(port))
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: f.dialTimeout}}
	var (
		client *imapclient.Client
		err    error
	)
	if kind.tls {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return liveIMAPClient{client}, nil
}

type imapSession struct {
	client           imapClient
	folder           string
	deleteAfterFetch bool
	loggedOut        bool
}

// list returns candidate messages in UID order. Without deletion the folder
// keeps history, so only unseen messages are candidates.
func (s *imapSession) list(context.Context) ([]envelope, error) {
	criteria := &imap.SearchCriteria{}
	if !s.deleteAfterFetch {
		criteria.NotFlag = []imap.Flag{imap.FlagSeen}
	}
	found, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	uids := found.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bufs, err := s.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		RFC822Size:   true,
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}
	sort.Slice(bufs, func(i, j int) bool { return bufs[i].UID < bufs[j].UID })

	envs := make([]envelope, 0, len(bufs))
	for _, buf := range bufs {
		uid := strconv.FormatUint(uint64(buf.UID), 10)
		envs = append(envs, envelope{
			uid:      uid,
			num:      uint32(buf.UID),
			size:     buf.RFC822Size,
			received: buf.InternalDate,
			meta:     map[string]string{"imap_uid": uid, "imap_folder": s.folder},
		})
	}
	return envs, nil
}

// retrieve uses BODY.PEEK so an unhandled message keeps its unseen state.
func (s *imapSession) retrieve(_ context.Context, env envelope) ([]byte, error) {
	bufs, err := s.client.Fetch(imap.UIDSetNum(imap.UID(env.num)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	}).Collect()
	if err != nil {
		return nil, err
	}
	for _, buf := range bufs {
		if buf.UID == imap.UID(env.num) && len(buf.BodySection) > 0 {
			return buf.BodySection[0].Bytes, nil
		}
	}
	return nil, fmt.Errorf("uid %d: no body returned", env.num)
}

func (s *imapSession) ack(_ context.Context, handled []envelope) error {
	uids := make([]imap.UID, len(handled))
	for i, env := range handled {
		uids[i] = imap.UID(env.num)
	}
	set := imap.UIDSetNum(uids...)

	if !s.deleteAfterFetch {
		seen := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagSeen}}
		if err := s.client.Store(set, seen, nil).Close(); err != nil {
			return fmt.Errorf("store seen: %w", err)
		}
		return nil
	}
	deleted := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagDeleted}}
	if err := s.client.Store(set, deleted, nil).Close(); err != nil {
		return fmt.Errorf("store deleted: %w", err)
	}
	if err := s.client.UIDExpunge(set).Close(); err != nil {
		return fmt.Errorf("expunge: %w", err)
	}
	return nil
}

// close drops the connection. A clean run has already sent LOGOUT.
func (s *imapSession) close() error {
	if !s.loggedOut {
		_ = s.client.Logout().Wait()
	}
	return s.client.Close()
}

// liveIMAPClient adapts *imapclient.Client to imapClient.
type liveIMAPClient struct{ *imapclient.Client }

func (c liveIMAPClient) Login(username, password string) commandWaiter {
	return c.Client.Login(username, password)
}

func (c liveIMAPClient) Logout() commandWaiter { return c.Client.Logout() }

func (c liveIMAPClient) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return c.Client.Select(mailbox, options)
}

func (c liveIMAPClient) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return c.Client.UIDSearch(criteria, options)
}

func (c liveIMAPClient) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return c.Client.Fetch(numSet, options)
}

func (c liveIMAPClient) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return c.Client.Store(numSet, store, options)
}

func (c liveIMAPClient) UIDExpunge(uids imap.UIDSet) expungeWaiter {
	return c.Client.UIDExpunge(uids)
}
