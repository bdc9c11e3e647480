package mail

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SendReply sends a plain-text reply to the sender of a previously fetched
// message over SMTP. The reply carries In-Reply-To and References headers so
// mail clients thread it under the original.
func (b *IMAPMailbox) SendReply(ctx context.Context, id string, body string) error {
	fm, err := b.lookup(id)
	if err != nil {
		return err
	}

	to, err := replyAddress(fm.sender)
	if err != nil {
		return fmt.Errorf("resolving reply address for message %s: %w", id, err)
	}

	msg := buildReply(b.from, to, replySubject(fm.subject), id, body)
	auth := sasl.NewPlainClient("", b.username, b.password)
	if err := smtp.SendMail(b.smtpAddr, auth, b.from, []string{to}, strings.NewReader(msg)); err != nil {
		return fmt.Errorf("sending reply to %s: %w", to, err)
	}

	b.logger.Info("sent reply", "message_id", id, "to", to)
	return nil
}

// replyAddress extracts the bare address from a sender like
// "Jane Doe <jane@example.com>".
func replyAddress(sender string) (string, error) {
	addr, err := mail.ParseAddress(sender)
	if err != nil {
		return "", fmt.Errorf("parsing address %q: %w", sender, err)
	}
	return addr.Address, nil
}

// replySubject prefixes the subject with "Re: " unless it already has one.
func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// buildReply renders a minimal RFC 5322 text message.
func buildReply(from, to, subject, inReplyTo, body string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	fmt.Fprintf(&sb, "In-Reply-To: %s\r\n", inReplyTo)
	fmt.Fprintf(&sb, "References: %s\r\n", inReplyTo)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return sb.String()
}
