package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	gomessage "github.com/emersion/go-message/mail"

	"InsightDigest/internal/domain"
	"InsightDigest/internal/ports"
)

const maxBodyBytes = 256 << 10

// IMAPConfig holds mailbox polling settings.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	Timeout  time.Duration
}

// IMAPInbox implements ports.Inbox. Messages are fetched read-only so the
// mailbox flags stay untouched.
type IMAPInbox struct {
	cfg    IMAPConfig
	logger *slog.Logger
}

var _ ports.Inbox = (*IMAPInbox)(nil)

// NewIMAPInbox validates cfg and returns an inbox poller.
func NewIMAPInbox(cfg IMAPConfig, logger *slog.Logger) (*IMAPInbox, error) {
	if cfg.Host == "" {
		return nil, errors.New("imap: server is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("imap: username and password are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &IMAPInbox{cfg: cfg, logger: logger}, nil
}

// FetchNewMessages returns messages received strictly after since, oldest first.
func (i *IMAPInbox) FetchNewMessages(ctx context.Context, since time.Time) ([]domain.InboundMessage, error) {
	addr := net.JoinHostPort(i.cfg.Host, strconv.Itoa(i.cfg.Port))
	c, err := client.DialWithDialerTLS(&net.Dialer{Timeout: i.cfg.Timeout}, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	c.Timeout = i.cfg.Timeout

	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()
	defer func() { _ = c.Logout() }()

	if err := c.Login(i.cfg.Username, i.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(i.cfg.Mailbox, true); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", i.cfg.Mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	if !since.IsZero() {
		// SINCE has day granularity; the exact cut happens below.
		criteria.Since = since
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	fetched := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, fetched)
	}()

	var out []domain.InboundMessage
	for msg := range fetched {
		inbound, ok := i.convert(msg, section)
		if !ok || !inbound.ReceivedAt.After(since) {
			continue
		}
		out = append(out, inbound)
	}
	if err := <-done; err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	sortByReceived(out)
	return out, nil
}

func (i *IMAPInbox) convert(msg *imap.Message, section *imap.BodySectionName) (domain.InboundMessage, bool) {
	if msg == nil || msg.Envelope == nil {
		return domain.InboundMessage{}, false
	}
	inbound := domain.InboundMessage{
		Subject:    msg.Envelope.Subject,
		ReceivedAt: msg.InternalDate,
	}
	if len(msg.Envelope.From) > 0 {
		from := msg.Envelope.From[0]
		inbound.Sender = from.MailboxName + "@" + from.HostName
	}

	if literal := msg.GetBody(section); literal != nil {
		body, err := extractBody(literal)
		if err != nil {
			if i.logger != nil {
				i.logger.Warn("unreadable inbound message", "uid", msg.Uid, "error", err)
			}
			return domain.InboundMessage{}, false
		}
		inbound.Body = body
	}
	return inbound, true
}

// extractBody returns the first text/plain part, falling back to text/html.
func extractBody(r io.Reader) (string, error) {
	mr, err := gomessage.CreateReader(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	var htmlBody string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read part: %w", err)
		}
		header, ok := part.Header.(*gomessage.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := mime.ParseMediaType(header.Get("Content-Type"))
		if mediaType == "" {
			mediaType = "text/plain"
		}
		raw, err := io.ReadAll(part.Body)
		if err != nil {
			return "", fmt.Errorf("read %s part: %w", mediaType, err)
		}
		switch mediaType {
		case "text/plain":
			return string(raw), nil
		case "text/html":
			if htmlBody == "" {
				htmlBody = string(raw)
			}
		}
	}
	return htmlBody, nil
}

func sortByReceived(messages []domain.InboundMessage) {
	sort.SliceStable(messages, func(a, b int) bool {
		return messages[a].ReceivedAt.Before(messages[b].ReceivedAt)
	})
}
