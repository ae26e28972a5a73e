package command

import (
	"errors"
	"testing"

	"InsightDigest/internal/domain"
)

func TestParseKeywords(t *testing.T) {
	t.Parallel()

	cases := []struct {
		body string
		want domain.Cadence
	}{
		{"Daily", domain.CadenceDaily},
		{"WEEKLY", domain.CadenceWeekly},
		{"fortnightly", domain.CadenceFortnightly},
		{"\n\n   Weekly  \r\nThanks!\n-- \nJane", domain.CadenceWeekly},
		{"<html><body><div>daily</div><div><br></div><blockquote>On Mon you wrote</blockquote></body></html>", domain.CadenceDaily},
		{"<p>Fortnightly</p><p>Sent from my phone</p>", domain.CadenceFortnightly},
	}

	for _, tc := range cases {
		got, ok := Parse(tc.body)
		if !ok || got != tc.want {
			t.Fatalf("Parse(%q) = %q, %v; want %q", tc.body, got, ok, tc.want)
		}
	}
}

func TestParseRejectsEverythingElse(t *testing.T) {
	t.Parallel()

	bodies := []string{
		"",
		"   \n\t\n",
		"> weekly",
		"Weekly please",
		"weekly.",
		"Thanks, daily is fine\nweekly",
		"monthly",
		"Hi team,\ndaily",
		"<html><body><blockquote>weekly</blockquote></body></html>",
	}

	for _, body := range bodies {
		if got, ok := Parse(body); ok {
			t.Fatalf("Parse(%q) = %q, want no directive", body, got)
		}
	}
}

func TestAuthorizer(t *testing.T) {
	t.Parallel()

	auth := NewAuthorizer([]string{"Editor <Editor@Museum.org>", "ops@museum.org", "not an address"})

	for _, sender := range []string{"editor@museum.org", "The Editor <EDITOR@museum.org>", "ops@museum.org"} {
		if err := auth.Authorize(sender); err != nil {
			t.Fatalf("Authorize(%q): %v", sender, err)
		}
	}

	for _, sender := range []string{"", "stranger@example.com", "garbage"} {
		err := auth.Authorize(sender)
		if !errors.Is(err, domain.ErrAuthorization) {
			t.Fatalf("Authorize(%q) = %v, want ErrAuthorization", sender, err)
		}
	}
}
