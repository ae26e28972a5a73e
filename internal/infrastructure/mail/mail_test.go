package mail

import (
	"bytes"
	"strings"
	"testing"

	"InsightDigest/internal/domain"
)

func TestBuildMessage(t *testing.T) {
	t.Parallel()

	msg, err := buildMessage("digest@example.com", domain.Email{
		Recipients:   []string{"a@example.com", "b@example.com"},
		Subject:      "Acme: Weekly Media & Analytics Brief (2026-10-18)",
		HTMLBody:     `<p>Hello</p><img src="cid:source_2026-10-15.png">`,
		InlineImages: map[string][]byte{"source_2026-10-15.png": []byte("\x89PNGfake")},
	})
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	raw := buf.String()
	for _, want := range []string{
		"digest@example.com",
		"a@example.com",
		"b@example.com",
		"Weekly Media & Analytics Brief",
		"text/html",
		"Content-Id: <source_2026-10-15.png>",
	} {
		if !strings.Contains(raw, want) {
			t.Fatalf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestBuildMessageRequiresRecipients(t *testing.T) {
	t.Parallel()

	if _, err := buildMessage("digest@example.com", domain.Email{Subject: "x"}); err == nil {
		t.Fatal("expected error without recipients")
	}
	if _, err := buildMessage("not an address", domain.Email{Recipients: []string{"a@example.com"}}); err == nil {
		t.Fatal("expected invalid from error")
	}
}

func TestConstructorsValidate(t *testing.T) {
	t.Parallel()

	if _, err := NewSMTPSender(SMTPConfig{From: "a@example.com"}); err == nil {
		t.Fatal("expected missing host error")
	}
	sender, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "a@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	if sender.cfg.Port != 587 {
		t.Fatalf("expected default port 587, got %d", sender.cfg.Port)
	}

	if _, err := NewIMAPInbox(IMAPConfig{Host: "imap.example.com"}, nil); err == nil {
		t.Fatal("expected missing credentials error")
	}
	inbox, err := NewIMAPInbox(IMAPConfig{Host: "imap.example.com", Username: "u", Password: "p"}, nil)
	if err != nil {
		t.Fatalf("NewIMAPInbox: %v", err)
	}
	if inbox.cfg.Port != 993 || inbox.cfg.Mailbox != "INBOX" {
		t.Fatalf("unexpected defaults %+v", inbox.cfg)
	}
}

func TestExtractBodyPrefersPlainText(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"From: Ops <ops@example.com>",
		"Subject: Re: Daily brief",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Weekly</p>",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Weekly",
		"",
		"> On Monday you wrote:",
		"--b1--",
		"",
	}, "\r\n")

	body, err := extractBody(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("extractBody: %v", err)
	}
	if !strings.HasPrefix(body, "Weekly") {
		t.Fatalf("expected plain part, got %q", body)
	}
}

func TestExtractBodyFallsBackToHTML(t *testing.T) {
	t.Parallel()

	raw := "From: ops@example.com\r\nContent-Type: text/html; charset=utf-8\r\n\r\n<div>fortnightly</div>\r\n"
	body, err := extractBody(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("extractBody: %v", err)
	}
	if !strings.Contains(body, "<div>fortnightly</div>") {
		t.Fatalf("expected html body, got %q", body)
	}
}
