package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"InsightDigest/internal/domain"
)

const (
	defaultTimezone = "UTC"

	configPathEnv      = "INSIGHT_DIGEST_CONFIG"
	openAIKeyEnv       = "OPENAI_API_KEY"
	openAIModelEnv     = "OPENAI_MODEL"
	newsAPIKeyEnv      = "NEWS_API_KEY"
	googleCredsEnv     = "GOOGLE_APPLICATION_CREDENTIALS"
	emailFromEnv       = "EMAIL_FROM"
	emailToEnv         = "EMAIL_TO"
	emailPasswordEnv   = "EMAIL_PASSWORD"
	smtpServerEnv      = "SMTP_SERVER"
	smtpPortEnv        = "SMTP_PORT"
	imapServerEnv      = "IMAP_SERVER"
	databaseDSNEnv     = "DATABASE_DSN"
	redisAddressEnv    = "REDIS_ADDRESS"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	logLevelEnv        = "LOG_LEVEL"
	logFormatEnv       = "LOG_FORMAT"
	envFile            = ".env"
	envFileLocal       = ".env.local"
	DriverSQLite       = "sqlite"
	DriverPostgres     = "postgres"
	LockBackendStore   = "store"
	LockBackendRedis   = "redis"
	defaultOpenAIModel = "gpt-4o-mini"
)

// Config holds high-level settings required across the application.
type Config struct {
	Report        ReportConfig       `yaml:"report"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Database      DatabaseConfig     `yaml:"database"`
	Lock          LockConfig         `yaml:"lock"`
	News          NewsConfig         `yaml:"news"`
	Analytics     AnalyticsConfig    `yaml:"analytics"`
	ChatGPT       ChatGPTConfig      `yaml:"chatgpt"`
	Mail          MailConfig         `yaml:"mail"`
	Notifications NotificationConfig `yaml:"notifications"`
	Retry         RetryConfig        `yaml:"retry"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// ReportConfig describes who receives the digest and who may change its cadence.
type ReportConfig struct {
	Title          string   `yaml:"title"`
	Recipients     []string `yaml:"recipients"`
	AllowedSenders []string `yaml:"allowedSenders"`
	DefaultCadence string   `yaml:"defaultCadence"`
	// HistoryLimit bounds the number of retained send records.
	HistoryLimit int `yaml:"historyLimit"`
}

// SchedulerConfig defines the schedule timezone and the optional loop interval.
type SchedulerConfig struct {
	Timezone     string         `yaml:"timezone"`
	LoopInterval time.Duration  `yaml:"loopInterval"`
	location     *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// DatabaseConfig selects the SQL driver for the schedule store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LockConfig selects the run lock backend.
type LockConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig holds connection details for the redis lock backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NewsConfig groups the topic profile, relevance knobs and news sources.
type NewsConfig struct {
	Topic       TopicConfig    `yaml:"topic"`
	MaxAge      time.Duration  `yaml:"maxAge"`
	Threshold   float64        `yaml:"threshold"`
	TopK        int            `yaml:"topK"`
	Concurrency int            `yaml:"concurrency"`
	APIKey      string         `yaml:"apiKey"`
	Sources     []SourceConfig `yaml:"sources"`
}

// TopicConfig is the static topic profile used for relevance scoring.
type TopicConfig struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Themes   []string `yaml:"themes"`
}

// Profile converts the topic settings into the domain type.
func (t TopicConfig) Profile() domain.TopicProfile {
	return domain.TopicProfile{Name: t.Name, Keywords: t.Keywords, Themes: t.Themes}
}

// SourceConfig describes a single news source with its scanner strategy.
type SourceConfig struct {
	Name    string            `yaml:"name"`
	Scanner string            `yaml:"scanner"`
	URL     string            `yaml:"url"`
	APIKey  string            `yaml:"apiKey"`
	Options map[string]string `yaml:"options"`
}

// AnalyticsConfig points at the BigQuery analytics export.
type AnalyticsConfig struct {
	ProjectID       string `yaml:"projectId"`
	Table           string `yaml:"table"`
	CredentialsFile string `yaml:"credentialsFile"`
	Location        string `yaml:"location"`
	// EventName is the GA4 event counted as the metric.
	EventName  string   `yaml:"eventName"`
	WindowDays int      `yaml:"windowDays"`
	TopK       int      `yaml:"topK"`
	Dimensions []string `yaml:"dimensions"`
}

// ParsedDimensions returns the configured dimensions as domain values.
func (a AnalyticsConfig) ParsedDimensions() ([]domain.Dimension, error) {
	dims := make([]domain.Dimension, 0, len(a.Dimensions))
	for _, raw := range a.Dimensions {
		dim, err := domain.ParseDimension(raw)
		if err != nil {
			return nil, err
		}
		dims = append(dims, dim)
	}
	return dims, nil
}

// ChatGPTConfig defines how to contact the chat completions API.
type ChatGPTConfig struct {
	Endpoint          string `yaml:"endpoint"`
	Model             string `yaml:"model"`
	APIKey            string `yaml:"apiKey"`
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
}

// MailConfig holds SMTP and IMAP settings for one mailbox.
type MailConfig struct {
	From       string `yaml:"from"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	SMTPServer string `yaml:"smtpServer"`
	SMTPPort   int    `yaml:"smtpPort"`
	IMAPServer string `yaml:"imapServer"`
	IMAPPort   int    `yaml:"imapPort"`
	Mailbox    string `yaml:"mailbox"`
}

// NotificationConfig encapsulates outbound alert channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// RetryConfig bounds retries and per-call timeouts of external collaborators.
type RetryConfig struct {
	MaxAttempts      int           `yaml:"maxAttempts"`
	InitialDelay     time.Duration `yaml:"initialDelay"`
	MaxDelay         time.Duration `yaml:"maxDelay"`
	FetchTimeout     time.Duration `yaml:"fetchTimeout"`
	AnalyticsTimeout time.Duration `yaml:"analyticsTimeout"`
	LLMTimeout       time.Duration `yaml:"llmTimeout"`
	SendTimeout      time.Duration `yaml:"sendTimeout"`
}

// LoggingConfig sets the slog level and handler format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads .env files, the YAML configuration (path argument or
// INSIGHT_DIGEST_CONFIG) decoded over defaults, and environment overrides.
func Load(path string) (Config, error) {
	loadDotEnv()

	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	cfg.fillSourceKeys()

	return cfg, nil
}

func loadDotEnv() {
	for _, name := range []string{envFileLocal, envFile} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		// Existing environment variables win over file values.
		if err := godotenv.Load(name); err != nil {
			log.Printf("config: cannot load %s: %v", name, err)
		}
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(openAIKeyEnv); v != "" {
		c.ChatGPT.APIKey = v
	}
	if v := os.Getenv(openAIModelEnv); v != "" {
		c.ChatGPT.Model = v
	}
	if v := os.Getenv(newsAPIKeyEnv); v != "" {
		c.News.APIKey = v
	}
	if v := os.Getenv(googleCredsEnv); v != "" {
		c.Analytics.CredentialsFile = v
	}
	if v := os.Getenv(emailFromEnv); v != "" {
		c.Mail.From = v
	}
	if v := os.Getenv(emailToEnv); v != "" {
		c.Report.Recipients = splitList(v)
	}
	if v := os.Getenv(emailPasswordEnv); v != "" {
		c.Mail.Password = v
	}
	if v := os.Getenv(smtpServerEnv); v != "" {
		c.Mail.SMTPServer = v
	}
	if v := os.Getenv(smtpPortEnv); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Mail.SMTPPort = port
		} else {
			log.Printf("config: ignoring invalid %s=%q", smtpPortEnv, v)
		}
	}
	if v := os.Getenv(imapServerEnv); v != "" {
		c.Mail.IMAPServer = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(redisAddressEnv); v != "" {
		c.Lock.Redis.Address = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(logFormatEnv); v != "" {
		c.Logging.Format = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

// fillSourceKeys hands the shared NewsAPI key to newsapi sources without their own.
func (c *Config) fillSourceKeys() {
	for i := range c.News.Sources {
		if c.News.Sources[i].Scanner == "newsapi" && c.News.Sources[i].APIKey == "" {
			c.News.Sources[i].APIKey = c.News.APIKey
		}
	}
	if c.Mail.Username == "" {
		c.Mail.Username = c.Mail.From
	}
}

// Validate reports every configuration problem it finds.
func (c Config) Validate() error {
	var errs []error

	if len(c.Report.Recipients) == 0 {
		errs = append(errs, errors.New("report.recipients: at least one recipient is required"))
	}
	if _, ok := domain.ParseCadence(c.Report.DefaultCadence); !ok {
		errs = append(errs, fmt.Errorf("report.defaultCadence: unknown cadence %q", c.Report.DefaultCadence))
	}
	if c.Report.HistoryLimit <= 0 {
		errs = append(errs, errors.New("report.historyLimit must be positive"))
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	switch c.Lock.Backend {
	case LockBackendStore:
	case LockBackendRedis:
		if c.Lock.Redis.Address == "" {
			errs = append(errs, errors.New("lock.redis.address is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.backend: unsupported backend %q", c.Lock.Backend))
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, errors.New("lock.ttl must be positive"))
	}

	if c.News.Threshold < 0 || c.News.Threshold > 1 {
		errs = append(errs, fmt.Errorf("news.threshold %.2f is outside [0,1]", c.News.Threshold))
	}
	if c.News.TopK <= 0 {
		errs = append(errs, errors.New("news.topK must be positive"))
	}
	if c.News.MaxAge < 0 {
		errs = append(errs, errors.New("news.maxAge must not be negative"))
	}
	for _, source := range c.News.Sources {
		if source.Name == "" || source.Scanner == "" {
			errs = append(errs, errors.New("news.sources: every source needs a name and a scanner"))
		}
	}

	if c.Analytics.WindowDays <= 0 {
		errs = append(errs, errors.New("analytics.windowDays must be positive"))
	}
	if c.Analytics.TopK <= 0 {
		errs = append(errs, errors.New("analytics.topK must be positive"))
	}
	if _, err := c.Analytics.ParsedDimensions(); err != nil {
		errs = append(errs, fmt.Errorf("analytics.dimensions: %w", err))
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry.maxAttempts must be positive"))
	}

	return errors.Join(errs...)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Report: ReportConfig{
			Title:          "InsightDigest",
			DefaultCadence: string(domain.CadenceDaily),
			HistoryLimit:   30,
		},
		Scheduler: SchedulerConfig{Timezone: defaultTimezone, location: tz},
		Database:  DatabaseConfig{Driver: DriverSQLite, DSN: "file:insightdigest.db?_pragma=busy_timeout(5000)"},
		Lock:      LockConfig{Backend: LockBackendStore, TTL: 30 * time.Minute},
		News: NewsConfig{
			MaxAge:      72 * time.Hour,
			Threshold:   0.5,
			TopK:        5,
			Concurrency: 3,
			Sources: []SourceConfig{
				{Name: "newsapi", Scanner: "newsapi", Options: map[string]string{"language": "en", "pageSize": "10"}},
			},
		},
		Analytics: AnalyticsConfig{
			EventName:  "session_start",
			WindowDays: 3,
			TopK:       5,
			Dimensions: []string{string(domain.DimensionSource), string(domain.DimensionCountry)},
		},
		ChatGPT: ChatGPTConfig{
			Endpoint:          "https://api.openai.com/v1/chat/completions",
			Model:             defaultOpenAIModel,
			RequestsPerMinute: 60,
		},
		Mail: MailConfig{
			SMTPServer: "smtp.gmail.com",
			SMTPPort:   587,
			IMAPServer: "imap.gmail.com",
			IMAPPort:   993,
			Mailbox:    "INBOX",
		},
		Retry: RetryConfig{
			MaxAttempts:      3,
			InitialDelay:     time.Second,
			MaxDelay:         15 * time.Second,
			FetchTimeout:     30 * time.Second,
			AnalyticsTimeout: 60 * time.Second,
			LLMTimeout:       45 * time.Second,
			SendTimeout:      60 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}
