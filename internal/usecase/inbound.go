package usecase

import (
	"context"
	"fmt"
	"time"

	"InsightDigest/internal/command"
	"InsightDigest/internal/domain"
	"InsightDigest/internal/retry"
)

// applyInbound polls the reply mailbox and applies authorized cadence
// commands in arrival order. An unavailable mailbox only delays commands to
// the next run; it never blocks the digest.
func (p *Pipeline) applyInbound(ctx context.Context, key string, state domain.ScheduleState, now time.Time) (domain.ScheduleState, error) {
	if p.inbox == nil {
		return state, nil
	}

	var messages []domain.InboundMessage
	policy := p.settings.Retry.WithTimeout(p.settings.InboxTimeout)
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var fetchErr error
		messages, fetchErr = p.inbox.FetchNewMessages(ctx, state.InboxCheckedAt)
		return fetchErr
	})
	if err != nil {
		p.warn("inbox unavailable, commands deferred", "error", err)
		return state, nil
	}

	dirty := false
	checked := state.InboxCheckedAt
	for _, msg := range messages {
		if msg.ReceivedAt.After(checked) {
			checked = msg.ReceivedAt
		}

		if err := p.authorizer.Authorize(msg.Sender); err != nil {
			p.info("inbound command ignored", "reason", "unauthorized", "error", err)
			continue
		}
		cadence, ok := command.Parse(msg.Body)
		if !ok {
			p.debug("inbound command ignored", "reason", "not a command", "sender", msg.Sender)
			continue
		}

		next, changed, err := p.machine.SetCadence(state, cadence, now)
		if err != nil {
			return state, fmt.Errorf("apply cadence %s: %w", cadence, err)
		}
		if !changed {
			p.info("inbound command ignored", "reason", "unchanged", "cadence", cadence, "sender", msg.Sender)
			continue
		}
		state = next
		dirty = true
		p.info("inbound command applied",
			"cadence", cadence,
			"sender", msg.Sender,
			"next_due_at", state.NextDueAt.Format(time.RFC3339),
		)
	}

	if checked.After(state.InboxCheckedAt) {
		state.InboxCheckedAt = checked
		dirty = true
	}
	if !dirty {
		return state, nil
	}

	saved, err := p.store.SaveSchedule(ctx, key, state)
	if err != nil {
		return state, fmt.Errorf("save schedule after inbound commands: %w", err)
	}
	return saved, nil
}
