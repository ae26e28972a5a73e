// Package mail sends digests over SMTP and polls the reply mailbox over IMAP.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	gomail "github.com/wneessen/go-mail"

	"InsightDigest/internal/domain"
	"InsightDigest/internal/ports"
)

const smtpsPort = 465

// SMTPConfig holds outbound transport settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender implements ports.MailSender.
type SMTPSender struct {
	cfg SMTPConfig
}

var _ ports.MailSender = (*SMTPSender)(nil)

// NewSMTPSender validates cfg and returns a sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp: server is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp: from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{cfg: cfg}, nil
}

// Send dials the server and delivers one message. Errors are returned
// unwrapped; the caller decides whether they are fatal.
func (s *SMTPSender) Send(ctx context.Context, email domain.Email) error {
	msg, err := buildMessage(s.cfg.From, email)
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send to %d recipients: %w", len(email.Recipients), err)
	}
	return nil
}

func (s *SMTPSender) clientOptions() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTimeout(s.cfg.Timeout),
	}
	if s.cfg.Port == smtpsPort {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

// buildMessage assembles the MIME message. Inline images are embedded under
// their map key, which is also the Content-ID the HTML body references.
func buildMessage(from string, email domain.Email) (*gomail.Msg, error) {
	if len(email.Recipients) == 0 {
		return nil, errors.New("smtp: no recipients")
	}

	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", from, err)
	}
	if err := msg.To(email.Recipients...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetDate()
	msg.SetBodyString(gomail.TypeTextHTML, email.HTMLBody)

	names := make([]string, 0, len(email.InlineImages))
	for name := range email.InlineImages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := msg.EmbedReader(name, bytes.NewReader(email.InlineImages[name])); err != nil {
			return nil, fmt.Errorf("embed %s: %w", name, err)
		}
	}

	return msg, nil
}
