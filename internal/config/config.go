package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/rabdya767/Stock-ATH-Alert/internal/catalog"
	"github.com/rabdya767/Stock-ATH-Alert/internal/logging"
	"github.com/rabdya767/Stock-ATH-Alert/internal/report"
	"github.com/rabdya767/Stock-ATH-Alert/internal/version"
)

// Provider kinds.
const (
	ProviderNAV   = "nav"
	ProviderStock = "stock"
)

// Notification channels besides the console.
const (
	ChannelStdout   = "stdout"
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

// State backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

const envPrefix = "ATHWATCH"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Report    ReportConfig    `mapstructure:"report"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Email     EmailConfig     `mapstructure:"email"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	State     StateConfig     `mapstructure:"state"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ProviderConfig selects and tunes the price source.
type ProviderConfig struct {
	Kind           string        `mapstructure:"kind"`
	NAVBaseURL     string        `mapstructure:"nav_base_url"`
	StockBaseURL   string        `mapstructure:"stock_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	TrailingYear   bool          `mapstructure:"trailing_year"`
}

// CatalogConfig lists tracked instruments.
type CatalogConfig struct {
	// UseDefaults includes the built-in fund list for the nav provider.
	UseDefaults bool                 `mapstructure:"use_defaults"`
	Instruments []catalog.Instrument `mapstructure:"instruments"`
	Additional  []catalog.Instrument `mapstructure:"additional"`
	Selection   []string             `mapstructure:"selection"`
	Symbols     []string             `mapstructure:"symbols"`
}

// AlertingConfig defines alert thresholds and the message subject.
type AlertingConfig struct {
	Thresholds []float64 `mapstructure:"thresholds"`
	Subject    string    `mapstructure:"subject"`
}

// ReportConfig controls rendering.
type ReportConfig struct {
	Style          string `mapstructure:"style"`
	ConsoleStyle   string `mapstructure:"console_style"`
	StaleAfterDays int    `mapstructure:"stale_after_days"`
	Currency       string `mapstructure:"currency"`
}

// NotifyConfig routes reports.
type NotifyConfig struct {
	Channel string `mapstructure:"channel"`
}

// EmailConfig describes SMTP delivery.
type EmailConfig struct {
	Host        string        `mapstructure:"host" validate:"required,hostname|ip"`
	Port        int           `mapstructure:"port" validate:"min=1,max=65535"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password" validate:"required_with=Username"`
	From        string        `mapstructure:"from" validate:"required"`
	To          []string      `mapstructure:"to" validate:"required,min=1,dive,email"`
	TLS         string        `mapstructure:"tls" validate:"oneof=auto implicit starttls none"`
	Timeout     time.Duration `mapstructure:"timeout"`
	FallbackDir string        `mapstructure:"fallback_dir"`
}

// Validate checks the SMTP settings with their struct tags.
func (e EmailConfig) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(e); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
	Style    string `mapstructure:"style"`
}

// StateConfig selects the alert state backend.
type StateConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the watch cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Cron            string        `mapstructure:"cron"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// legacyEnv maps keys to the environment names used by older deployments.
var legacyEnv = map[string]string{
	"catalog.selection": "INPUT_SCHEMES",
	"catalog.symbols":   "STOCKS",
	"email.host":        "SMTP_HOST",
	"email.port":        "SMTP_PORT",
	"email.username":    "SMTP_USERNAME",
	"email.password":    "SMTP_PASSWORD",
	"email.from":        "EMAIL_FROM",
	"email.to":          "EMAIL_TO",
	"state.path":        "STATE_FILE",
}

// Load builds configuration from a .env file, config file, environment, and defaults.
func Load(path string) (*Config, error) {
	// a missing .env is the normal case outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func bindLegacyEnv(v *viper.Viper) error {
	replacer := strings.NewReplacer(".", "_")
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(replacer.Replace(key))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}
	// provider.kind has no default; normalize infers it from the catalog.
	if err := v.BindEnv("provider.kind", envPrefix+"_PROVIDER_KIND"); err != nil {
		return fmt.Errorf("bind env provider.kind: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "athwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("provider.nav_base_url", "https://api.mfapi.in")
	v.SetDefault("provider.stock_base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("provider.request_timeout", "10s")
	v.SetDefault("provider.user_agent", "")
	v.SetDefault("provider.trailing_year", true)

	v.SetDefault("catalog.use_defaults", true)
	v.SetDefault("catalog.instruments", []catalog.Instrument{})
	v.SetDefault("catalog.additional", []catalog.Instrument{})
	v.SetDefault("catalog.selection", []string{})
	v.SetDefault("catalog.symbols", []string{})

	v.SetDefault("alerting.thresholds", []float64{2, 5, 10, 20})
	v.SetDefault("alerting.subject", "")

	v.SetDefault("report.style", string(report.PlainTable))
	v.SetDefault("report.console_style", string(report.PlainTable))
	v.SetDefault("report.stale_after_days", report.DefaultStaleAfterDays)
	v.SetDefault("report.currency", "₹")

	v.SetDefault("notify.channel", ChannelStdout)

	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.to", []string{})
	v.SetDefault("email.tls", "auto")
	v.SetDefault("email.timeout", "10s")
	v.SetDefault("email.fallback_dir", "")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.style", string(report.PlainList))

	v.SetDefault("state.backend", BackendFile)
	v.SetDefault("state.path", "state.json")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x41544857))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("export.max_data_points", 5000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalize() {
	c.Provider.Kind = strings.ToLower(strings.TrimSpace(c.Provider.Kind))
	c.Notify.Channel = strings.ToLower(strings.TrimSpace(c.Notify.Channel))
	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))
	c.Email.TLS = strings.ToLower(strings.TrimSpace(c.Email.TLS))
	if c.Provider.UserAgent == "" {
		c.Provider.UserAgent = version.UserAgent()
	}
	c.Email.To = trimAll(c.Email.To)
	c.Catalog.Selection = trimAll(c.Catalog.Selection)
	c.Catalog.Symbols = trimAll(c.Catalog.Symbols)

	// Ticker symbols without an explicit provider mean the stock provider.
	if c.Provider.Kind == "" {
		c.Provider.Kind = ProviderNAV
		if len(c.Catalog.Symbols) > 0 {
			c.Provider.Kind = ProviderStock
		}
	}
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Provider.Kind {
	case ProviderNAV, ProviderStock:
	default:
		return fmt.Errorf("provider.kind must be %q or %q, got %q", ProviderNAV, ProviderStock, c.Provider.Kind)
	}
	if c.Provider.RequestTimeout <= 0 {
		return fmt.Errorf("provider.request_timeout must be greater than zero")
	}

	if len(c.Alerting.Thresholds) == 0 {
		return fmt.Errorf("alerting.thresholds must not be empty")
	}
	for _, t := range c.Alerting.Thresholds {
		if t <= 0 {
			return fmt.Errorf("alerting.thresholds must be positive, got %v", t)
		}
	}

	for key, style := range map[string]string{
		"report.style":         c.Report.Style,
		"report.console_style": c.Report.ConsoleStyle,
		"telegram.style":       c.Telegram.Style,
	} {
		if _, err := report.ParseStyle(style); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if c.Report.StaleAfterDays < 0 {
		return fmt.Errorf("report.stale_after_days cannot be negative")
	}

	switch c.Notify.Channel {
	case ChannelStdout:
	case ChannelEmail:
		if err := c.Email.Validate(); err != nil {
			return err
		}
	case ChannelTelegram:
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token 必须配置")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id 必须配置")
		}
	default:
		return fmt.Errorf("notify.channel must be one of stdout, email, telegram, got %q", c.Notify.Channel)
	}

	switch c.State.Backend {
	case BackendFile:
		if c.State.Path == "" {
			return fmt.Errorf("state.path is required for the file backend")
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("state.backend must be %q or %q, got %q", BackendFile, BackendPostgres, c.State.Backend)
	}

	if c.Scheduler.Cron != "" {
		if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
			return fmt.Errorf("scheduler.cron: %w", err)
		}
	} else if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}

	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// Subject returns the configured subject or a provider-specific default.
func (c *Config) Subject() string {
	if c.Alerting.Subject != "" {
		return c.Alerting.Subject
	}
	if c.Provider.Kind == ProviderStock {
		return "📉 Stock Alert: Down from ATH"
	}
	return "📉 Fund Alert: Down from ATH"
}

// BuildCatalog assembles the run's instrument list.
func (c *Config) BuildCatalog() catalog.Catalog {
	src := catalog.Source{
		Selection: c.Catalog.Selection,
		Symbols:   c.Catalog.Symbols,
	}
	if c.Provider.Kind == ProviderNAV && c.Catalog.UseDefaults {
		src.Defaults = append(src.Defaults, catalog.DefaultFunds...)
		src.Additional = append(src.Additional, catalog.AdditionalFunds...)
	}
	src.Defaults = append(src.Defaults, c.Catalog.Instruments...)
	src.Additional = append(src.Additional, c.Catalog.Additional...)
	return catalog.Build(src)
}

// ReportOptions maps report settings onto formatter options.
func (c *Config) ReportOptions() report.Options {
	return report.Options{
		StaleAfterDays: c.Report.StaleAfterDays,
		Currency:       c.Report.Currency,
		Title:          c.Subject(),
	}
}
