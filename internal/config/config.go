// Package config loads and validates outreach configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/retry"
)

// CredentialsEnv names the variable that points at a credentials file when
// no --credentials flag is given.
const CredentialsEnv = "OUTREACH_CREDENTIALS_FILE"

// Stage names accepted by RequireFor.
const (
	StageDiscovery  = "discovery"
	StageEnrichment = "enrichment"
	StageDelivery   = "delivery"
	StageReport     = "report"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	DB         DBConfig         `mapstructure:"db"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Places     PlacesConfig     `mapstructure:"places"`
	Hunter     HunterConfig     `mapstructure:"hunter"`
	Mailgun    MailgunConfig    `mapstructure:"mailgun"`
	Website    WebsiteConfig    `mapstructure:"website"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Report     ReportConfig     `mapstructure:"report"`
	Alert      AlertConfig      `mapstructure:"alert"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Templates  TemplatesConfig  `mapstructure:"templates"`
}

// ServerConfig controls the monitoring HTTP server.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// PlacesConfig holds the Google Places credentials.
type PlacesConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	SearchURL  string        `mapstructure:"search_url"`
	GeocodeURL string        `mapstructure:"geocode_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// HunterConfig holds the Hunter credentials.
type HunterConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SearchLimit int           `mapstructure:"search_limit"`
}

// MailgunConfig holds the Mailgun credentials and tracking flags.
type MailgunConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Domain      string        `mapstructure:"domain"`
	Region      string        `mapstructure:"region"`
	BaseURL     string        `mapstructure:"base_url"`
	From        string        `mapstructure:"from"`
	ReplyTo     string        `mapstructure:"reply_to"`
	TrackOpens  bool          `mapstructure:"track_opens"`
	TrackClicks bool          `mapstructure:"track_clicks"`
	TestMode    bool          `mapstructure:"test_mode"`
	Tags        []string      `mapstructure:"tags"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// WebsiteConfig governs the fallback website crawl.
type WebsiteConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxPages      int           `mapstructure:"max_pages"`
}

// DiscoveryConfig supplies defaults for the discover command and run.
type DiscoveryConfig struct {
	Location     string  `mapstructure:"location"`
	RadiusMeters float64 `mapstructure:"radius_meters"`
	Category     string  `mapstructure:"category"`
	Limit        int     `mapstructure:"limit"`
}

// EnrichmentConfig tunes contact selection.
type EnrichmentConfig struct {
	Limit             int           `mapstructure:"limit"`
	MinConfidence     int           `mapstructure:"min_confidence"`
	InvalidRetryAfter time.Duration `mapstructure:"invalid_retry_after"`
	PreferredPrefixes []string      `mapstructure:"preferred_prefixes"`
}

// DeliveryConfig carries throughput limits and message settings.
type DeliveryConfig struct {
	Timezone   string        `mapstructure:"timezone"`
	RunLimit   int           `mapstructure:"run_limit"`
	DailyCap   int           `mapstructure:"daily_cap"`
	Cooldown   time.Duration `mapstructure:"cooldown"`
	MinDelay   time.Duration `mapstructure:"min_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	TemplateID string        `mapstructure:"template"`
	Link       string        `mapstructure:"link"`
	SenderName string        `mapstructure:"sender_name"`
}

// ReportConfig sets the default reporting window.
type ReportConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// AlertConfig configures the alert sinks.
type AlertConfig struct {
	WebhookURL    string        `mapstructure:"webhook_url"`
	Format        string        `mapstructure:"format"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SendSummary   bool          `mapstructure:"send_summary"`
	PubSubProject string        `mapstructure:"pubsub_project"`
	PubSubTopic   string        `mapstructure:"pubsub_topic"`
}

// ArchiveConfig selects where reports are archived.
type ArchiveConfig struct {
	Driver  string `mapstructure:"driver"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// RateLimitConfig caps request rates per external API.
type RateLimitConfig struct {
	PlacesRPS  float64 `mapstructure:"places_rps"`
	HunterRPS  float64 `mapstructure:"hunter_rps"`
	MailgunRPS float64 `mapstructure:"mailgun_rps"`
	WebhookRPS float64 `mapstructure:"webhook_rps"`
	Burst      int     `mapstructure:"burst"`
}

// RetryConfig shapes the shared backoff policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// TemplatesConfig points at an optional YAML template catalog.
type TemplatesConfig struct {
	File string `mapstructure:"file"`
}

// legacyEnv maps config keys to the bare variable names older credentials
// files use, so those files keep working without the OUTREACH_ prefix.
var legacyEnv = map[string]string{
	"places.api_key":     "GOOGLE_PLACES_API_KEY",
	"hunter.api_key":     "HUNTER_API_KEY",
	"mailgun.api_key":    "MAILGUN_API_KEY",
	"mailgun.domain":     "MAILGUN_DOMAIN",
	"mailgun.region":     "MAILGUN_REGION",
	"delivery.link":      "FIVERR_AFFILIATE_LINK",
	"delivery.daily_cap": "MAX_EMAILS_PER_DAY",
	"delivery.run_limit": "MAX_EMAILS_PER_RUN",
	"alert.webhook_url":  "DISCORD_WEBHOOK_URL",
	"logging.level":      "LOG_LEVEL",
	"server.port":        "DASHBOARD_PORT",
	"db.dsn":             "DATABASE_URL",
}

// Load builds a Config from the credentials file, disk and environment.
// Variables already present in the environment win over the credentials file.
func Load(path, credentialsPath string) (Config, error) {
	if credentialsPath == "" {
		credentialsPath = os.Getenv(CredentialsEnv)
	}
	if credentialsPath != "" {
		if err := godotenv.Load(credentialsPath); err != nil {
			return Config{}, fmt.Errorf("load credentials %s: %w", credentialsPath, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, legacy := range legacyEnv {
		primary := "OUTREACH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, primary, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("places.api_key", "")
	v.SetDefault("places.search_url", "")
	v.SetDefault("places.geocode_url", "")
	v.SetDefault("places.timeout", "15s")
	v.SetDefault("hunter.api_key", "")
	v.SetDefault("hunter.base_url", "")
	v.SetDefault("hunter.timeout", "15s")
	v.SetDefault("hunter.search_limit", 10)
	v.SetDefault("mailgun.api_key", "")
	v.SetDefault("mailgun.domain", "")
	v.SetDefault("mailgun.region", "us")
	v.SetDefault("mailgun.base_url", "")
	v.SetDefault("mailgun.from", "")
	v.SetDefault("mailgun.reply_to", "")
	v.SetDefault("mailgun.track_opens", true)
	v.SetDefault("mailgun.track_clicks", true)
	v.SetDefault("mailgun.test_mode", false)
	v.SetDefault("mailgun.tags", []string{"outreach"})
	v.SetDefault("mailgun.timeout", "30s")
	v.SetDefault("website.enabled", true)
	v.SetDefault("website.user_agent", "outreach-pipeline/1.0")
	v.SetDefault("website.respect_robots", true)
	v.SetDefault("website.timeout", "10s")
	v.SetDefault("website.max_pages", 4)

	v.SetDefault("discovery.location", "")
	v.SetDefault("discovery.radius_meters", 25000)
	v.SetDefault("discovery.category", "")
	v.SetDefault("discovery.limit", 60)
	v.SetDefault("enrichment.limit", 50)
	v.SetDefault("enrichment.min_confidence", 50)
	v.SetDefault("enrichment.invalid_retry_after", "720h")
	v.SetDefault("enrichment.preferred_prefixes", []string{})
	v.SetDefault("delivery.timezone", "UTC")
	v.SetDefault("delivery.run_limit", 100)
	v.SetDefault("delivery.daily_cap", 1000)
	v.SetDefault("delivery.cooldown", "24h")
	v.SetDefault("delivery.min_delay", "5s")
	v.SetDefault("delivery.max_delay", "15s")
	v.SetDefault("delivery.template", "default")
	v.SetDefault("delivery.link", "")
	v.SetDefault("delivery.sender_name", "")
	v.SetDefault("report.window", "24h")

	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("alert.format", "discord")
	v.SetDefault("alert.timeout", "10s")
	v.SetDefault("alert.send_summary", true)
	v.SetDefault("alert.pubsub_project", "")
	v.SetDefault("alert.pubsub_topic", "")
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.base_dir", "reports-archive")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "")

	v.SetDefault("ratelimit.places_rps", 5)
	v.SetDefault("ratelimit.hunter_rps", 1)
	v.SetDefault("ratelimit.mailgun_rps", 5)
	v.SetDefault("ratelimit.webhook_rps", 1)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("templates.file", "")
}

// Validate enforces reasonable limits. Credentials are checked per stage by
// RequireFor so a report-only run does not need mail credentials.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Enrichment.MinConfidence < 0 || c.Enrichment.MinConfidence > 100 {
		return fmt.Errorf("enrichment.min_confidence must be within 0..100")
	}
	if c.Delivery.DailyCap < 0 {
		return fmt.Errorf("delivery.daily_cap must be >= 0")
	}
	if c.Delivery.MinDelay > c.Delivery.MaxDelay {
		return fmt.Errorf("delivery.min_delay must not exceed delivery.max_delay")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch strings.ToLower(c.Mailgun.Region) {
	case "", "us", "eu":
	default:
		return fmt.Errorf("mailgun.region must be us or eu")
	}
	switch c.Alert.Format {
	case "discord", "slack":
	default:
		return fmt.Errorf("alert.format must be discord or slack")
	}
	if (c.Alert.PubSubProject == "") != (c.Alert.PubSubTopic == "") {
		return fmt.Errorf("alert.pubsub_project and alert.pubsub_topic must be set together")
	}
	switch c.Archive.Driver {
	case "", "none", "local":
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when archive.driver is gcs")
		}
	default:
		return fmt.Errorf("archive.driver must be none, local or gcs")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	return nil
}

// RequireFor reports the first credential a stage needs but lacks.
func (c Config) RequireFor(stage string) error {
	required := [][2]string{{"db.dsn", c.DB.DSN}}
	switch stage {
	case StageDiscovery:
		required = append(required, [2]string{"places.api_key", c.Places.APIKey})
	case StageEnrichment:
		required = append(required, [2]string{"hunter.api_key", c.Hunter.APIKey})
	case StageDelivery:
		required = append(required,
			[2]string{"mailgun.api_key", c.Mailgun.APIKey},
			[2]string{"mailgun.domain", c.Mailgun.Domain},
		)
	case StageReport:
	default:
		return &apperr.ConfigurationError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", stage)}
	}
	for _, r := range required {
		if strings.TrimSpace(r[1]) == "" {
			return apperr.Missing(r[0])
		}
	}
	return nil
}

// Location resolves delivery.timezone; the daily cap resets at its midnight.
func (c Config) Location() (*time.Location, error) {
	if c.Delivery.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Delivery.Timezone)
	if err != nil {
		return nil, fmt.Errorf("delivery.timezone %q: %w", c.Delivery.Timezone, err)
	}
	return loc, nil
}

// FromAddress is mailgun.from, or noreply@ the sending domain when unset.
func (c Config) FromAddress() string {
	if c.Mailgun.From != "" {
		return c.Mailgun.From
	}
	if c.Mailgun.Domain == "" {
		return ""
	}
	return "noreply@" + c.Mailgun.Domain
}

// RetryPolicy converts the retry section into the shared policy.
func (c Config) RetryPolicy() retry.Policy {
	p := retry.Default()
	if c.Retry.MaxAttempts > 0 {
		p.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.BaseDelay > 0 {
		p.BaseDelay = c.Retry.BaseDelay
	}
	if c.Retry.MaxDelay > 0 {
		p.MaxDelay = c.Retry.MaxDelay
	}
	return p
}
