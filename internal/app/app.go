package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"InsightDigest/internal/command"
	"InsightDigest/internal/config"
	"InsightDigest/internal/domain"
	"InsightDigest/internal/infrastructure/analytics"
	"InsightDigest/internal/infrastructure/chart"
	"InsightDigest/internal/infrastructure/llm"
	"InsightDigest/internal/infrastructure/lock"
	"InsightDigest/internal/infrastructure/mail"
	"InsightDigest/internal/infrastructure/newsfeed"
	"InsightDigest/internal/infrastructure/scheduler"
	"InsightDigest/internal/infrastructure/storage"
	"InsightDigest/internal/infrastructure/telegram"
	"InsightDigest/internal/logging"
	"InsightDigest/internal/ports"
	"InsightDigest/internal/relevance"
	"InsightDigest/internal/report"
	"InsightDigest/internal/retry"
	"InsightDigest/internal/scanner"
	"InsightDigest/internal/schedule"
	"InsightDigest/internal/usecase"
)

const stopTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	pipeline *usecase.Pipeline
	logger   *slog.Logger
	closers  []func() error
}

// New builds every adapter from cfg. Close releases them.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &Application{cfg: cfg, logger: baseLogger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	var locker ports.RunLocker = store
	if cfg.Lock.Backend == config.LockBackendRedis {
		redisLocker, err := lock.Dial(ctx, lock.Config{
			Address:  cfg.Lock.Redis.Address,
			Password: cfg.Lock.Redis.Password,
			DB:       cfg.Lock.Redis.DB,
			TTL:      cfg.Lock.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis lock: %w", err)
		}
		a.closers = append(a.closers, redisLocker.Close)
		locker = redisLocker
	}

	policy := retryPolicy(cfg.Retry)

	registry := scanner.NewRegistry()
	registry.Register(newsfeed.NewNewsAPIScanner(nil))
	registry.Register(newsfeed.NewRSSScanner(nil))
	source := newsfeed.NewStrategySource(registry, cfg.News.Sources,
		policy.WithTimeout(cfg.Retry.FetchTimeout), baseLogger.With("component", "source"))

	analyticsSource, err := analytics.NewBigQuerySource(ctx, analytics.Config{
		ProjectID:       cfg.Analytics.ProjectID,
		Table:           cfg.Analytics.Table,
		CredentialsFile: cfg.Analytics.CredentialsFile,
		Location:        cfg.Analytics.Location,
		EventName:       cfg.Analytics.EventName,
	}, baseLogger.With("component", "analytics"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, analyticsSource.Close)

	chatClient := llm.NewChatGPTClient(cfg.ChatGPT).WithRetry(policy.WithTimeout(cfg.Retry.LLMTimeout))

	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.Mail.SMTPServer,
		Port:     cfg.Mail.SMTPPort,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		Timeout:  cfg.Retry.SendTimeout,
	})
	if err != nil {
		return nil, err
	}

	var inbox ports.Inbox
	if cfg.Mail.IMAPServer != "" && cfg.Mail.Password != "" {
		imapInbox, err := mail.NewIMAPInbox(mail.IMAPConfig{
			Host:     cfg.Mail.IMAPServer,
			Port:     cfg.Mail.IMAPPort,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			Mailbox:  cfg.Mail.Mailbox,
			Timeout:  cfg.Retry.FetchTimeout,
		}, baseLogger.With("component", "inbox"))
		if err != nil {
			return nil, err
		}
		inbox = imapInbox
	} else {
		baseLogger.Info("inbound commands disabled: no imap server or password configured")
	}

	var alerter ports.Alerter
	if cfg.Notifications.Telegram.BotToken != "" && cfg.Notifications.Telegram.ChatID != "" {
		alerter = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	dimensions, err := cfg.Analytics.ParsedDimensions()
	if err != nil {
		return nil, err
	}
	cadence, _ := domain.ParseCadence(cfg.Report.DefaultCadence)
	loc := cfg.Scheduler.Location()

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		News:      source,
		Analytics: analyticsSource,
		Filter: relevance.NewFilter(chatClient, relevance.Options{
			Threshold:   cfg.News.Threshold,
			TopK:        cfg.News.TopK,
			MaxAge:      cfg.News.MaxAge,
			Concurrency: cfg.News.Concurrency,
		}, baseLogger.With("component", "relevance")),
		Composer:   report.NewComposer(chatClient, chart.NewBarRenderer(), baseLogger.With("component", "composer")),
		Renderer:   report.NewRenderer(cfg.Report.Title),
		Sender:     sender,
		Inbox:      inbox,
		Store:      store,
		Locker:     locker,
		Alerter:    alerter,
		Machine:    schedule.NewMachine(loc),
		Authorizer: command.NewAuthorizer(cfg.Report.AllowedSenders),
		Settings: usecase.Settings{
			Recipients:       cfg.Report.Recipients,
			DefaultCadence:   cadence,
			Profile:          cfg.News.Topic.Profile(),
			Dimensions:       dimensions,
			WindowDays:       cfg.Analytics.WindowDays,
			TrendTopK:        cfg.Analytics.TopK,
			HistoryLimit:     cfg.Report.HistoryLimit,
			Retry:            policy,
			InboxTimeout:     cfg.Retry.FetchTimeout,
			AnalyticsTimeout: cfg.Retry.AnalyticsTimeout,
			SendTimeout:      cfg.Retry.SendTimeout,
		},
		Location: loc,
		Logger:   baseLogger.With("component", "pipeline"),
	})

	ok = true
	return a, nil
}

// Run performs a single guarded invocation.
func (a *Application) Run(ctx context.Context) (usecase.Outcome, error) {
	return a.pipeline.Run(ctx)
}

// Loop runs the pipeline on every interval tick until ctx is cancelled.
func (a *Application) Loop(ctx context.Context, interval time.Duration) error {
	sched := usecase.NewScheduler(scheduler.NewIntervalScheduler(interval), a.pipeline, a.logger.With("component", "scheduler"))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("loop mode started", "interval", interval.String())

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return sched.Stop(stopCtx)
}

// Close releases adapters in reverse order of creation.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Status is the persisted view of one recipient set's schedule.
type Status struct {
	Key      string
	Schedule domain.ScheduleState
	Sends    []domain.SendRecord
}

// ReadStatus opens only the store and reports the schedule and send history.
func ReadStatus(ctx context.Context, cfg config.Config) (Status, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return Status{}, err
	}
	defer store.Close()

	key := report.RecipientKey(cfg.Report.Recipients)
	state, err := store.LoadSchedule(ctx, key)
	if err != nil {
		return Status{}, fmt.Errorf("load schedule %s: %w", key, err)
	}
	sends, err := store.History(ctx, key)
	if err != nil {
		return Status{}, fmt.Errorf("load history %s: %w", key, err)
	}
	return Status{Key: key, Schedule: state, Sends: sends}, nil
}

func openStore(ctx context.Context, cfg config.Config) (*storage.Store, error) {
	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Lock.TTL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		policy.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		policy.MaxDelay = cfg.MaxDelay
	}
	return policy
}
