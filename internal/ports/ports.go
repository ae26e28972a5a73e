package ports

import (
	"context"
	"time"

	"InsightDigest/internal/domain"
)

// NewsSource pulls fresh news candidates for a topic profile.
type NewsSource interface {
	FetchCandidates(ctx context.Context, profile domain.TopicProfile) ([]domain.NewsCandidate, error)
}

// AnalyticsSource queries the analytics warehouse for one dimension and window.
type AnalyticsSource interface {
	QueryWindow(ctx context.Context, dimension domain.Dimension, window domain.DateRange) ([]domain.AnalyticsRow, error)
}

// Scorer rates a single candidate against the topic profile and summarizes it.
type Scorer interface {
	ScoreAndSummarize(ctx context.Context, candidate domain.NewsCandidate, profile domain.TopicProfile) (domain.Assessment, error)
}

// Narrator writes the narrative paragraph for a set of trend comparisons.
type Narrator interface {
	Narrate(ctx context.Context, comparisons []domain.TrendComparison) (string, error)
}

// ChartRenderer rasterizes a ranked bar chart.
type ChartRenderer interface {
	RenderBarChart(ctx context.Context, title string, entries []domain.TrendEntry) ([]byte, error)
}

// MailSender delivers a rendered email. Not idempotent.
type MailSender interface {
	Send(ctx context.Context, email domain.Email) error
}

// Inbox polls the reply mailbox.
type Inbox interface {
	FetchNewMessages(ctx context.Context, since time.Time) ([]domain.InboundMessage, error)
}

// ScheduleRepository persists the schedule record and the bounded send history.
type ScheduleRepository interface {
	LoadSchedule(ctx context.Context, key string) (domain.ScheduleState, error)
	SaveSchedule(ctx context.Context, key string, state domain.ScheduleState) (domain.ScheduleState, error)
	HasSendRecord(ctx context.Context, key, fingerprint string) (bool, error)
	// CommitRun stores the send record, trims history to keep entries and
	// saves the advanced schedule atomically.
	CommitRun(ctx context.Context, key string, record domain.SendRecord, state domain.ScheduleState, keep int) (domain.ScheduleState, error)
}

// RunLocker provides cross-invocation mutual exclusion. TryLock never blocks:
// it returns domain.ErrLockContention when the lock is held elsewhere.
type RunLocker interface {
	TryLock(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// Alerter reports aborted runs to operators.
type Alerter interface {
	Alert(ctx context.Context, message string) error
}

// Scheduler controls when pipelines execute in loop mode.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
