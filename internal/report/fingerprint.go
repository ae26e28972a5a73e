package report

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Fingerprint identifies a report instance by its generation date and the
// recipient set, independent of recipient order and case.
func Fingerprint(generatedAt time.Time, recipients []string) string {
	sum := sha256.Sum256([]byte(generatedAt.Format(time.DateOnly) + "|" + strings.Join(normalizeRecipients(recipients), ",")))
	return hex.EncodeToString(sum[:])
}

// RecipientKey is the identity of a recipient set, used as the store key.
func RecipientKey(recipients []string) string {
	sum := sha256.Sum256([]byte(strings.Join(normalizeRecipients(recipients), ",")))
	return hex.EncodeToString(sum[:8])
}

func normalizeRecipients(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
