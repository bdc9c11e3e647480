// Package mail implements the Mailbox interface over IMAP and SMTP, plus an
// in-memory variant for testing.
package mail

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomail "github.com/emersion/go-message/mail"

	"github.com/itsvetkov1/Sentient-Inbox/internal/config"
	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
)

// IMAPMailbox reads unread messages over IMAP and sends replies over SMTP.
// Each operation opens its own IMAP session; FetchUnread records the UID and
// envelope of each returned message so MarkRead, Flag, and SendReply can act
// on message IDs later in the same process.
type IMAPMailbox struct {
	imapAddr string
	smtpAddr string
	username string
	password string
	from     string
	folder   string
	startTLS bool
	logger   inbox.Logger

	mu   sync.Mutex
	seen map[string]fetchedMessage // message ID -> UID and reply envelope
}

type fetchedMessage struct {
	uid     imap.UID
	sender  string
	subject string
}

// NewIMAPMailbox creates a mailbox from the mail config. The account
// password is read from the configured environment variable.
func NewIMAPMailbox(cfg config.MailConfig, logger inbox.Logger) (*IMAPMailbox, error) {
	password := os.Getenv(cfg.PasswordEnv)
	if password == "" {
		return nil, fmt.Errorf("mail password environment variable %s is not set", cfg.PasswordEnv)
	}
	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if logger == nil {
		logger = inbox.NewNopLogger()
	}
	return &IMAPMailbox{
		imapAddr: cfg.IMAPHost + ":" + cfg.IMAPPort,
		smtpAddr: cfg.SMTPHost + ":" + cfg.SMTPPort,
		username: cfg.Username,
		password: password,
		from:     cfg.FromAddress,
		folder:   folder,
		startTLS: cfg.StartTLS,
		logger:   logger,
		seen:     make(map[string]fetchedMessage),
	}, nil
}

// connect dials the IMAP server, authenticates, and selects the folder.
// The caller must Logout the returned client.
func (b *IMAPMailbox) connect(_ context.Context) (*imapclient.Client, error) {
	var client *imapclient.Client
	var err error
	if b.startTLS {
		client, err = imapclient.DialStartTLS(b.imapAddr, nil)
	} else {
		client, err = imapclient.DialTLS(b.imapAddr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", b.imapAddr, err)
	}

	if err := client.Login(b.username, b.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authenticating as %s: %w", b.username, err)
	}
	if _, err := client.Select(b.folder, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("selecting %s: %w", b.folder, err)
	}
	return client, nil
}

// FetchUnread returns all messages in the folder without the \Seen flag.
// Bodies are fetched with BODY.PEEK so fetching does not mark them read.
func (b *IMAPMailbox) FetchUnread(ctx context.Context) ([]inbox.Message, error) {
	client, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching unread messages: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	var messages []inbox.Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			b.logger.Warn("skipping message that failed to collect", "error", err)
			continue
		}

		m, ok := b.messageFromBuffer(buf, buf.FindBodySection(bodySection))
		if !ok {
			continue
		}
		b.remember(m, buf.UID)
		messages = append(messages, m)
	}
	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetching unread messages: %w", err)
	}

	b.logger.Debug("fetched unread messages", "count", len(messages))
	return messages, nil
}

// MarkRead adds the \Seen flag to a previously fetched message.
func (b *IMAPMailbox) MarkRead(ctx context.Context, id string) error {
	return b.storeFlag(ctx, id, imap.FlagSeen)
}

// Flag adds the \Flagged flag to a previously fetched message so it stands
// out for human review.
func (b *IMAPMailbox) Flag(ctx context.Context, id string) error {
	return b.storeFlag(ctx, id, imap.FlagFlagged)
}

func (b *IMAPMailbox) storeFlag(ctx context.Context, id string, flag imap.Flag) error {
	fm, err := b.lookup(id)
	if err != nil {
		return err
	}

	client, err := b.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	storeCmd := client.Store(imap.UIDSetNum(fm.uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{flag},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("storing flag %s on message %s: %w", flag, id, err)
	}
	return nil
}

func (b *IMAPMailbox) remember(m inbox.Message, uid imap.UID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen[m.ID] = fetchedMessage{uid: uid, sender: m.Sender, subject: m.Subject}
}

func (b *IMAPMailbox) lookup(id string) (fetchedMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fm, ok := b.seen[id]
	if !ok {
		return fetchedMessage{}, fmt.Errorf("message %s was not fetched in this session", id)
	}
	return fm, nil
}

// messageFromBuffer converts one fetched IMAP message into a Message. The
// In-Reply-To envelope field, when present, identifies the thread; otherwise
// the message starts its own thread.
func (b *IMAPMailbox) messageFromBuffer(buf *imapclient.FetchMessageBuffer, rawBody []byte) (inbox.Message, bool) {
	if buf.Envelope == nil || buf.Envelope.MessageID == "" {
		b.logger.Warn("skipping message without envelope", "uid", buf.UID)
		return inbox.Message{}, false
	}
	env := buf.Envelope

	m := inbox.Message{
		ID:         env.MessageID,
		Subject:    env.Subject,
		ReceivedAt: env.Date,
	}
	if len(env.InReplyTo) > 0 {
		m.ThreadID = env.InReplyTo[0]
	} else {
		m.ThreadID = env.MessageID
	}
	if len(env.From) > 0 {
		from := env.From[0]
		if from.Name != "" {
			m.Sender = fmt.Sprintf("%s <%s>", from.Name, from.Addr())
		} else {
			m.Sender = from.Addr()
		}
	}
	for _, to := range env.To {
		m.Recipients = append(m.Recipients, to.Addr())
	}
	m.Body = extractTextBody(rawBody)
	return m, true
}

// extractTextBody parses a raw RFC 5322 message and returns its text/plain
// part, falling back to the raw bytes when MIME parsing fails.
func extractTextBody(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	mr, err := gomail.CreateReader(strings.NewReader(string(raw)))
	if err != nil {
		return string(raw)
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		h, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if !strings.HasPrefix(contentType, "text/plain") {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		return string(body)
	}
	return ""
}

// Compile-time check that IMAPMailbox implements the Mailbox interface
var _ inbox.Mailbox = (*IMAPMailbox)(nil)
