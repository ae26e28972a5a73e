package usecase

import (
	"context"
	"fmt"
	"time"

	"InsightDigest/internal/domain"
	"InsightDigest/internal/retry"
)

// deliver renders and sends the report, then records the send and advances
// the schedule in one commit. The record is only written after a confirmed
// send: a crash in between re-sends next time instead of losing the report.
func (p *Pipeline) deliver(ctx context.Context, key string, state domain.ScheduleState, rep domain.Report, fingerprint string, now time.Time) (Outcome, error) {
	email, err := p.renderer.Render(rep, p.settings.Recipients)
	if err != nil {
		return "", fmt.Errorf("render report: %w: %w", domain.ErrFatalData, err)
	}

	policy := p.settings.Retry.WithTimeout(p.settings.SendTimeout)
	if err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return p.sender.Send(ctx, email)
	}); err != nil {
		p.logError("report not delivered",
			"fingerprint", fingerprint,
			"subject", email.Subject,
			"recipients", len(email.Recipients),
			"error", err,
		)
		return "", fmt.Errorf("send report: %w: %w", domain.ErrDelivery, err)
	}

	next, err := p.machine.MarkRun(state, now)
	if err != nil {
		return "", err
	}
	record := domain.SendRecord{Fingerprint: fingerprint, SentAt: p.clock()}
	if _, err := p.store.CommitRun(ctx, key, record, next, p.settings.HistoryLimit); err != nil {
		p.logError("report sent but not recorded", "fingerprint", fingerprint, "error", err)
		return "", fmt.Errorf("commit run: %w", err)
	}

	p.info("report sent",
		"fingerprint", fingerprint,
		"news_items", len(rep.NewsItems),
		"charts", len(rep.ChartRefs),
		"next_due_at", next.NextDueAt.Format(time.RFC3339),
	)
	return OutcomeSent, nil
}

// reconcile handles a due schedule whose report was already delivered:
// nothing is sent, the schedule is advanced so the next run is a no-op.
func (p *Pipeline) reconcile(ctx context.Context, key string, state domain.ScheduleState, now time.Time, fingerprint string) (Outcome, error) {
	p.info("report already sent, skipping", "fingerprint", fingerprint)

	next, err := p.machine.MarkRun(state, now)
	if err != nil {
		return "", err
	}
	if _, err := p.store.SaveSchedule(ctx, key, next); err != nil {
		return "", fmt.Errorf("reconcile schedule: %w", err)
	}
	return OutcomeDuplicate, nil
}
