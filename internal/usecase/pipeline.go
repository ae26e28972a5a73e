package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"InsightDigest/internal/command"
	"InsightDigest/internal/domain"
	"InsightDigest/internal/ports"
	"InsightDigest/internal/relevance"
	"InsightDigest/internal/report"
	"InsightDigest/internal/retry"
	"InsightDigest/internal/schedule"
	"InsightDigest/internal/trend"
)

const releaseTimeout = 10 * time.Second

// Outcome classifies a run that finished without error.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeNotDue    Outcome = "not_due"
	OutcomeDuplicate Outcome = "duplicate"
)

// Settings are the static knobs of a pipeline.
type Settings struct {
	Recipients     []string
	DefaultCadence domain.Cadence
	Profile        domain.TopicProfile
	Dimensions     []domain.Dimension
	WindowDays     int
	TrendTopK      int
	HistoryLimit   int
	// Retry is the base policy; the timeouts below override its per-attempt timeout.
	Retry            retry.Policy
	InboxTimeout     time.Duration
	AnalyticsTimeout time.Duration
	SendTimeout      time.Duration
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
// Inbox and Alerter are optional.
type PipelineDeps struct {
	News       ports.NewsSource
	Analytics  ports.AnalyticsSource
	Filter     *relevance.Filter
	Composer   *report.Composer
	Renderer   *report.Renderer
	Sender     ports.MailSender
	Inbox      ports.Inbox
	Store      ports.ScheduleRepository
	Locker     ports.RunLocker
	Alerter    ports.Alerter
	Machine    *schedule.Machine
	Authorizer *command.Authorizer
	Settings   Settings
	Location   *time.Location
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Pipeline runs one guarded digest invocation: lock, inbound commands,
// schedule check, fetch, compose, idempotent send, commit.
type Pipeline struct {
	news       ports.NewsSource
	analytics  ports.AnalyticsSource
	filter     *relevance.Filter
	composer   *report.Composer
	renderer   *report.Renderer
	sender     ports.MailSender
	inbox      ports.Inbox
	store      ports.ScheduleRepository
	locker     ports.RunLocker
	alerter    ports.Alerter
	machine    *schedule.Machine
	authorizer *command.Authorizer
	settings   Settings
	loc        *time.Location
	clock      func() time.Time
	logger     *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		news:       deps.News,
		analytics:  deps.Analytics,
		filter:     deps.Filter,
		composer:   deps.Composer,
		renderer:   deps.Renderer,
		sender:     deps.Sender,
		inbox:      deps.Inbox,
		store:      deps.Store,
		locker:     deps.Locker,
		alerter:    deps.Alerter,
		machine:    deps.Machine,
		authorizer: deps.Authorizer,
		settings:   deps.Settings,
		loc:        deps.Location,
		clock:      deps.Clock,
		logger:     deps.Logger,
	}
	if p.loc == nil {
		p.loc = time.UTC
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.machine == nil {
		p.machine = schedule.NewMachine(p.loc)
	}
	if p.authorizer == nil {
		p.authorizer = command.NewAuthorizer(nil)
	}
	if p.settings.HistoryLimit <= 0 {
		p.settings.HistoryLimit = 30
	}
	if !p.settings.DefaultCadence.Valid() {
		p.settings.DefaultCadence = domain.CadenceDaily
	}
	return p
}

// Run executes one invocation. Lock contention returns
// domain.ErrLockContention; aborted runs wrap domain.ErrFatalData or
// domain.ErrDelivery and trigger a best-effort alert.
func (p *Pipeline) Run(ctx context.Context) (Outcome, error) {
	if err := p.validate(); err != nil {
		return "", err
	}

	key := report.RecipientKey(p.settings.Recipients)
	release, err := p.locker.TryLock(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrLockContention) {
			p.info("lock contention, exiting", "key", key)
		}
		return "", err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			p.warn("release run lock", "key", key, "error", err)
		}
	}()

	outcome, err := p.runLocked(ctx, key)
	if err != nil {
		p.logError("run aborted", "key", key, "error", err)
		p.alert(ctx, fmt.Sprintf("InsightDigest run aborted: %v", err))
		return "", err
	}
	p.info("run finished", "key", key, "outcome", outcome)
	return outcome, nil
}

func (p *Pipeline) validate() error {
	switch {
	case len(p.settings.Recipients) == 0:
		return errors.New("pipeline: no recipients configured")
	case p.locker == nil || p.store == nil:
		return errors.New("pipeline: lock and store are required")
	case p.news == nil || p.analytics == nil || p.sender == nil:
		return errors.New("pipeline: news, analytics and mail adapters are required")
	case p.filter == nil || p.composer == nil || p.renderer == nil:
		return errors.New("pipeline: filter, composer and renderer are required")
	}
	return nil
}

func (p *Pipeline) runLocked(ctx context.Context, key string) (Outcome, error) {
	now := p.clock().In(p.loc)

	state, err := p.loadOrCreate(ctx, key, now)
	if err != nil {
		return "", err
	}

	state, err = p.applyInbound(ctx, key, state, now)
	if err != nil {
		return "", err
	}

	if !p.machine.IsDue(state, now) {
		p.info("schedule not due", "cadence", state.Cadence, "next_due_at", state.NextDueAt.Format(time.RFC3339))
		return OutcomeNotDue, nil
	}

	fingerprint := report.Fingerprint(now, p.settings.Recipients)
	sent, err := p.store.HasSendRecord(ctx, key, fingerprint)
	if err != nil {
		return "", fmt.Errorf("check send record: %w", err)
	}
	if sent {
		return p.reconcile(ctx, key, state, now, fingerprint)
	}

	rep, err := p.build(ctx, state, now)
	if err != nil {
		return "", err
	}

	return p.deliver(ctx, key, state, rep, fingerprint, now)
}

func (p *Pipeline) loadOrCreate(ctx context.Context, key string, now time.Time) (domain.ScheduleState, error) {
	state, err := p.store.LoadSchedule(ctx, key)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.ScheduleState{}, fmt.Errorf("load schedule: %w", err)
	}

	state, err = p.machine.New(p.settings.DefaultCadence, now)
	if err != nil {
		return domain.ScheduleState{}, err
	}
	// Replies older than the schedule itself are not commands for it.
	state.InboxCheckedAt = now
	state, err = p.store.SaveSchedule(ctx, key, state)
	if err != nil {
		return domain.ScheduleState{}, fmt.Errorf("create schedule: %w", err)
	}
	p.info("schedule created", "cadence", state.Cadence, "next_due_at", state.NextDueAt.Format(time.RFC3339))
	return state, nil
}

// build fetches both datasets and composes the report. Any error here
// aborts the run before anything is sent.
func (p *Pipeline) build(ctx context.Context, state domain.ScheduleState, now time.Time) (domain.Report, error) {
	var (
		items       []domain.ScoredNewsItem
		comparisons []domain.TrendComparison
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = p.fetchNews(gctx, now)
		return err
	})
	g.Go(func() error {
		var err error
		comparisons, err = p.fetchTrends(gctx, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Report{}, err
	}

	return p.composer.Compose(ctx, report.Input{
		GeneratedAt: now,
		Cadence:     state.Cadence,
		News:        items,
		Comparisons: comparisons,
	}), nil
}

func (p *Pipeline) fetchNews(ctx context.Context, now time.Time) ([]domain.ScoredNewsItem, error) {
	candidates, err := p.news.FetchCandidates(ctx, p.settings.Profile)
	if err != nil {
		if !errors.Is(err, domain.ErrFatalData) {
			err = fmt.Errorf("%w: %w", domain.ErrFatalData, err)
		}
		return nil, fmt.Errorf("fetch news: %w", err)
	}

	unique := relevance.Dedupe(candidates)
	result := p.filter.Apply(ctx, unique, p.settings.Profile, now)
	if result.Skipped > 0 {
		p.warn("news scoring incomplete", "error", domain.ErrPartialData, "skipped", result.Skipped)
	}
	p.debug("news filtered",
		"fetched", len(candidates),
		"unique", len(unique),
		"stale", result.Stale,
		"selected", len(result.Selected()),
	)
	return result.Items, nil
}

func (p *Pipeline) fetchTrends(ctx context.Context, now time.Time) ([]domain.TrendComparison, error) {
	current, prior := trend.Windows(now, p.settings.WindowDays)
	policy := p.settings.Retry.WithTimeout(p.settings.AnalyticsTimeout)

	type window struct {
		dimension domain.Dimension
		current   []domain.AnalyticsRow
		prior     []domain.AnalyticsRow
	}
	windows := make([]window, len(p.settings.Dimensions))

	g, gctx := errgroup.WithContext(ctx)
	for i, dim := range p.settings.Dimensions {
		windows[i].dimension = dim
		for _, q := range []struct {
			rng domain.DateRange
			dst *[]domain.AnalyticsRow
		}{
			{rng: current, dst: &windows[i].current},
			{rng: prior, dst: &windows[i].prior},
		} {
			dim, q := dim, q
			g.Go(func() error {
				return retry.Do(gctx, policy, func(ctx context.Context) error {
					rows, err := p.analytics.QueryWindow(ctx, dim, q.rng)
					if err != nil {
						return err
					}
					*q.dst = rows
					return nil
				})
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch analytics: %w: %w", domain.ErrFatalData, err)
	}

	comparisons := make([]domain.TrendComparison, 0, len(windows))
	for _, w := range windows {
		cmp, err := trend.Compare(w.dimension, current, prior, w.current, w.prior, p.settings.TrendTopK)
		if err != nil {
			return nil, fmt.Errorf("compare %s: %w: %w", w.dimension, domain.ErrFatalData, err)
		}
		comparisons = append(comparisons, cmp)
	}
	return comparisons, nil
}

func (p *Pipeline) alert(ctx context.Context, message string) {
	if p.alerter == nil {
		return
	}
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := p.alerter.Alert(alertCtx, message); err != nil {
		p.warn("alert failed", "error", err)
	}
}

func (p *Pipeline) debug(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Pipeline) info(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *Pipeline) logError(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Error(msg, args...)
	}
}
