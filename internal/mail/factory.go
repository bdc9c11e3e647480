package mail

import (
	"fmt"

	"github.com/itsvetkov1/Sentient-Inbox/internal/config"
	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
)

// NewMailboxFromConfig creates a Mailbox implementation based on the mail
// config type.
func NewMailboxFromConfig(cfg config.MailConfig, logger inbox.Logger) (inbox.Mailbox, error) {
	switch cfg.Type {
	case "imap":
		if cfg.IMAPHost == "" || cfg.SMTPHost == "" {
			return nil, fmt.Errorf("imap mailbox requires imap_host and smtp_host to be set")
		}
		return NewIMAPMailbox(cfg, logger)
	case "memory":
		return NewMemoryMailbox(), nil
	default:
		return nil, fmt.Errorf("unknown mail type: %s", cfg.Type)
	}
}
