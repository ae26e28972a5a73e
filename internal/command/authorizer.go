package command

import (
	"fmt"
	"net/mail"
	"strings"

	"InsightDigest/internal/domain"
)

// Authorizer checks inbound senders against a static allow-list.
type Authorizer struct {
	allowed map[string]struct{}
}

// NewAuthorizer builds an allow-list; entries may be bare or named addresses.
func NewAuthorizer(senders []string) *Authorizer {
	allowed := make(map[string]struct{}, len(senders))
	for _, sender := range senders {
		if addr := normalizeAddress(sender); addr != "" {
			allowed[addr] = struct{}{}
		}
	}
	return &Authorizer{allowed: allowed}
}

// Authorize returns domain.ErrAuthorization unless sender is allow-listed.
func (a *Authorizer) Authorize(sender string) error {
	addr := normalizeAddress(sender)
	if addr == "" {
		return fmt.Errorf("sender %q is not a valid address: %w", sender, domain.ErrAuthorization)
	}
	if _, ok := a.allowed[addr]; !ok {
		return fmt.Errorf("sender %s: %w", addr, domain.ErrAuthorization)
	}
	return nil
}

func normalizeAddress(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parsed, err := mail.ParseAddress(value)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Address)
}
