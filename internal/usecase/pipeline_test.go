package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"InsightDigest/internal/command"
	"InsightDigest/internal/domain"
	"InsightDigest/internal/relevance"
	"InsightDigest/internal/report"
	"InsightDigest/internal/retry"
	"InsightDigest/internal/schedule"
)

var recipients = []string{"team@example.com"}

type memoryStore struct {
	mu      sync.Mutex
	states  map[string]domain.ScheduleState
	records map[string][]domain.SendRecord
	commits int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{states: map[string]domain.ScheduleState{}, records: map[string][]domain.SendRecord{}}
}

func (m *memoryStore) LoadSchedule(_ context.Context, key string) (domain.ScheduleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[key]
	if !ok {
		return domain.ScheduleState{}, domain.ErrNotFound
	}
	return state, nil
}

func (m *memoryStore) SaveSchedule(_ context.Context, key string, state domain.ScheduleState) (domain.ScheduleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(key, state)
}

func (m *memoryStore) save(key string, state domain.ScheduleState) (domain.ScheduleState, error) {
	if current, ok := m.states[key]; ok && current.Version != state.Version {
		return state, domain.ErrVersionConflict
	}
	state.Version++
	m.states[key] = state
	return state, nil
}

func (m *memoryStore) HasSendRecord(_ context.Context, key, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records[key] {
		if r.Fingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) CommitRun(_ context.Context, key string, record domain.SendRecord, state domain.ScheduleState, keep int) (domain.ScheduleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved, err := m.save(key, state)
	if err != nil {
		return state, err
	}
	records := append(m.records[key], record)
	if len(records) > keep {
		records = records[len(records)-keep:]
	}
	m.records[key] = records
	m.commits++
	return saved, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held bool
}

func (l *fakeLocker) TryLock(context.Context, string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, domain.ErrLockContention
	}
	l.held = true
	return func(context.Context) error {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
		return nil
	}, nil
}

type fakeNews struct {
	candidates []domain.NewsCandidate
	err        error
}

func (f fakeNews) FetchCandidates(context.Context, domain.TopicProfile) ([]domain.NewsCandidate, error) {
	return f.candidates, f.err
}

type fakeAnalytics struct {
	err error
}

func (f fakeAnalytics) QueryWindow(_ context.Context, dim domain.Dimension, window domain.DateRange) ([]domain.AnalyticsRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.AnalyticsRow{
		{Date: window.Start, Dimension: dim, DimensionValue: "alpha", MetricValue: 10},
		{Date: window.End, Dimension: dim, DimensionValue: "beta", MetricValue: 4},
	}, nil
}

type fakeScorer struct {
	failID string
}

func (f fakeScorer) ScoreAndSummarize(_ context.Context, c domain.NewsCandidate, _ domain.TopicProfile) (domain.Assessment, error) {
	if c.ID == f.failID {
		return domain.Assessment{}, errors.New("model timeout")
	}
	return domain.Assessment{Score: 0.9, Summary: "Summary of " + c.Headline}, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []domain.Email
	err  error
}

func (f *fakeSender) Send(_ context.Context, email domain.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, email)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeInbox struct {
	messages []domain.InboundMessage
}

func (f fakeInbox) FetchNewMessages(_ context.Context, since time.Time) ([]domain.InboundMessage, error) {
	var out []domain.InboundMessage
	for _, m := range f.messages {
		if m.ReceivedAt.After(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeAlerter struct {
	messages []string
}

func (f *fakeAlerter) Alert(_ context.Context, message string) error {
	f.messages = append(f.messages, message)
	return nil
}

type harness struct {
	store   *memoryStore
	locker  *fakeLocker
	sender  *fakeSender
	alerter *fakeAlerter
	news    fakeNews
	data    fakeAnalytics
	scorer  fakeScorer
	inbox   *fakeInbox
	now     time.Time
}

func newHarness(now time.Time) *harness {
	return &harness{
		store:   newMemoryStore(),
		locker:  &fakeLocker{},
		sender:  &fakeSender{},
		alerter: &fakeAlerter{},
		news:    fakeNews{candidates: candidates(now, 5)},
		now:     now,
	}
}

func candidates(now time.Time, n int) []domain.NewsCandidate {
	out := make([]domain.NewsCandidate, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.NewsCandidate{
			ID:          fmt.Sprintf("c%d", i),
			Headline:    fmt.Sprintf("Headline %d", i),
			URL:         fmt.Sprintf("https://news.example.com/%d", i),
			Source:      "Wire",
			PublishedAt: now.Add(-time.Duration(i) * time.Hour),
		})
	}
	return out
}

func (h *harness) pipeline() *Pipeline {
	deps := PipelineDeps{
		News:       h.news,
		Analytics:  h.data,
		Filter:     relevance.NewFilter(h.scorer, relevance.Options{}, nil),
		Composer:   report.NewComposer(nil, nil, nil),
		Renderer:   report.NewRenderer("Acme"),
		Sender:     h.sender,
		Store:      h.store,
		Locker:     h.locker,
		Alerter:    h.alerter,
		Machine:    schedule.NewMachine(time.UTC),
		Authorizer: command.NewAuthorizer([]string{"Boss <boss@example.com>"}),
		Settings: Settings{
			Recipients:     recipients,
			DefaultCadence: domain.CadenceDaily,
			Dimensions:     []domain.Dimension{domain.DimensionSource, domain.DimensionCountry},
			WindowDays:     3,
			TrendTopK:      5,
			HistoryLimit:   30,
			Retry:          retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		},
		Location: time.UTC,
		Clock:    func() time.Time { return h.now },
	}
	if h.inbox != nil {
		deps.Inbox = h.inbox
	}
	return NewPipeline(deps)
}

func (h *harness) state(t *testing.T) domain.ScheduleState {
	t.Helper()
	state, err := h.store.LoadSchedule(context.Background(), report.RecipientKey(recipients))
	if err != nil {
		t.Fatalf("load schedule: %v", err)
	}
	return state
}

func (h *harness) seed(t *testing.T, state domain.ScheduleState) {
	t.Helper()
	if _, err := h.store.SaveSchedule(context.Background(), report.RecipientKey(recipients), state); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
}

func TestRunTwiceSendsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC))
	p := h.pipeline()

	first, err := p.Run(context.Background())
	if err != nil || first != OutcomeSent {
		t.Fatalf("first run: outcome=%s err=%v", first, err)
	}
	second, err := p.Run(context.Background())
	if err != nil || second != OutcomeNotDue {
		t.Fatalf("second run: outcome=%s err=%v", second, err)
	}

	if h.sender.count() != 1 || h.store.commits != 1 {
		t.Fatalf("expected one send and one record, got %d sends %d commits", h.sender.count(), h.store.commits)
	}
	state := h.state(t)
	if want := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC); !state.NextDueAt.Equal(want) {
		t.Fatalf("next due %s, want %s", state.NextDueAt, want)
	}
	if h.locker.held {
		t.Fatal("lock not released")
	}
}

func TestRunWeeklyEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC))
	machine := schedule.NewMachine(time.UTC)
	state, err := machine.New(domain.CadenceWeekly, time.Date(2026, 10, 5, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.seed(t, state)

	outcome, err := h.pipeline().Run(context.Background())
	if err != nil || outcome != OutcomeSent {
		t.Fatalf("run: outcome=%s err=%v", outcome, err)
	}

	got := h.state(t)
	if want := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC); !got.NextDueAt.Equal(want) {
		t.Fatalf("next due %s, want %s", got.NextDueAt, want)
	}
	if got.NextDueAt.Weekday() != time.Monday {
		t.Fatalf("weekly schedule left Monday: %s", got.NextDueAt.Weekday())
	}
	subject := h.sender.sent[0].Subject
	if subject != "Acme: Weekly Media & Analytics Brief (2026-10-13)" {
		t.Fatalf("unexpected subject %q", subject)
	}
}

func TestRunSkipsAlreadySentReport(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC))
	key := report.RecipientKey(recipients)
	state, _ := schedule.NewMachine(time.UTC).New(domain.CadenceDaily, h.now)
	h.seed(t, state)
	h.store.records[key] = []domain.SendRecord{{Fingerprint: report.Fingerprint(h.now, recipients), SentAt: h.now}}

	outcome, err := h.pipeline().Run(context.Background())
	if err != nil || outcome != OutcomeDuplicate {
		t.Fatalf("run: outcome=%s err=%v", outcome, err)
	}
	if h.sender.count() != 0 {
		t.Fatal("duplicate report was sent")
	}
	if h.state(t).LastRunAt == nil {
		t.Fatal("schedule was not reconciled")
	}
}

func TestRunSendsWhenOneCandidateFailsScoring(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC))
	h.scorer = fakeScorer{failID: "c3"}

	outcome, err := h.pipeline().Run(context.Background())
	if err != nil || outcome != OutcomeSent {
		t.Fatalf("run: outcome=%s err=%v", outcome, err)
	}

	body := h.sender.sent[0].HTMLBody
	for _, id := range []int{1, 2, 4, 5} {
		if !strings.Contains(body, fmt.Sprintf("Headline %d", id)) {
			t.Fatalf("report missing Headline %d", id)
		}
	}
	if strings.Contains(body, "Headline 3") {
		t.Fatal("failed candidate leaked into the report")
	}
}

func TestRunInboundCommandsRequireAuthorization(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC)
	h := newHarness(now)
	state, _ := schedule.NewMachine(time.UTC).New(domain.CadenceDaily, now.Add(-48*time.Hour))
	state.InboxCheckedAt = now.Add(-48 * time.Hour)
	h.seed(t, state)
	h.inbox = &fakeInbox{messages: []domain.InboundMessage{
		{Sender: "stranger@example.com", Body: "fortnightly", ReceivedAt: now.Add(-2 * time.Hour)},
	}}

	if _, err := h.pipeline().Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := h.state(t)
	if got.Cadence != domain.CadenceDaily {
		t.Fatalf("unauthorized command changed cadence to %s", got.Cadence)
	}
	if !got.InboxCheckedAt.Equal(now.Add(-2 * time.Hour)) {
		t.Fatalf("inbox high-water mark not advanced: %s", got.InboxCheckedAt)
	}
}

func TestRunAppliesAuthorizedCadenceChange(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC)
	h := newHarness(now)
	state, _ := schedule.NewMachine(time.UTC).New(domain.CadenceDaily, now.Add(-48*time.Hour))
	state.InboxCheckedAt = now.Add(-48 * time.Hour)
	h.seed(t, state)
	h.inbox = &fakeInbox{messages: []domain.InboundMessage{
		{Sender: "BOSS@example.com", Body: "Weekly\n\nthanks", ReceivedAt: now.Add(-3 * time.Hour)},
		{Sender: "boss@example.com", Body: "> weekly", ReceivedAt: now.Add(-2 * time.Hour)},
	}}

	outcome, err := h.pipeline().Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := h.state(t)
	if got.Cadence != domain.CadenceWeekly {
		t.Fatalf("expected weekly cadence, got %s", got.Cadence)
	}
	if outcome != OutcomeSent {
		t.Fatalf("expected the Monday slot to be due, got %s", outcome)
	}
}

func TestRunLockContention(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC))
	h.locker.held = true

	_, err := h.pipeline().Run(context.Background())
	if !errors.Is(err, domain.ErrLockContention) {
		t.Fatalf("expected lock contention, got %v", err)
	}
	if domain.ExitCode(err) != domain.ExitLockContention {
		t.Fatalf("expected exit code 2, got %d", domain.ExitCode(err))
	}
	if h.sender.count() != 0 || len(h.alerter.messages) != 0 {
		t.Fatal("contended run must be a silent no-op")
	}
}

func TestRunAbortsWithoutAnalytics(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC))
	h.data = fakeAnalytics{err: errors.New("permission denied")}

	_, err := h.pipeline().Run(context.Background())
	if !errors.Is(err, domain.ErrFatalData) {
		t.Fatalf("expected ErrFatalData, got %v", err)
	}
	if h.sender.count() != 0 || h.store.commits != 0 {
		t.Fatal("aborted run must not send or record")
	}
	if len(h.alerter.messages) != 1 {
		t.Fatalf("expected one alert, got %d", len(h.alerter.messages))
	}
	if h.state(t).LastRunAt != nil {
		t.Fatal("aborted run advanced the schedule")
	}
}

func TestRunDeliveryFailureKeepsScheduleDue(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC))
	h.sender.err = errors.New("550 mailbox unavailable")

	_, err := h.pipeline().Run(context.Background())
	if !errors.Is(err, domain.ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	if domain.ExitCode(err) != domain.ExitFailure {
		t.Fatalf("expected exit code 1, got %d", domain.ExitCode(err))
	}
	if h.store.commits != 0 {
		t.Fatal("send record written without a send")
	}

	h.sender.err = nil
	outcome, err := h.pipeline().Run(context.Background())
	if err != nil || outcome != OutcomeSent {
		t.Fatalf("retry run: outcome=%s err=%v", outcome, err)
	}
}

func TestRunNewsUnavailableIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC))
	h.news = fakeNews{err: errors.New("all sources down")}

	_, err := h.pipeline().Run(context.Background())
	if !errors.Is(err, domain.ErrFatalData) {
		t.Fatalf("expected ErrFatalData, got %v", err)
	}
	if h.sender.count() != 0 {
		t.Fatal("no report may be sent without news data")
	}
}
