// Package daemon wires linkpulse together: configuration, storage,
// payment providers, collaborators, the scheduler and the HTTP server.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/linkpulse/linkpulse/internal/domain"
)

// Config is the full linkpulse configuration, loaded from
// ~/.linkpulse/config.toml with secrets overridable from the environment.
type Config struct {
	API       APIConfig       `toml:"api"`
	Database  DatabaseConfig  `toml:"database"`
	Log       LogConfig       `toml:"log"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Payments  PaymentsConfig  `toml:"payments"`
	Pricing   []PriceConfig   `toml:"pricing"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	SEO       SEOConfig       `toml:"seo"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// APIConfig is the HTTP listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DatabaseConfig locates the SQLite database directory.
type DatabaseConfig struct {
	Dir string `toml:"dir"` // default: ~/.linkpulse
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// LedgerConfig holds ledger policy.
type LedgerConfig struct {
	InitialBonus        int64 `toml:"initial_bonus"`
	AllowNegativeAdjust bool  `toml:"allow_negative_adjust"`
	CheckCost           int64 `toml:"check_cost"` // credits per on-demand check
}

// PaymentsConfig groups the payment providers.
type PaymentsConfig struct {
	LiqPay    LiqPayConfig    `toml:"liqpay"`
	WayForPay WayForPayConfig `toml:"wayforpay"`
	Monobank  MonobankConfig  `toml:"monobank"`
}

// LiqPayConfig configures LiqPay.
type LiqPayConfig struct {
	Enabled    bool   `toml:"enabled"`
	PublicKey  string `toml:"public_key"`
	PrivateKey string `toml:"private_key"`
	ResultURL  string `toml:"result_url"`
	ServerURL  string `toml:"server_url"`
	Sandbox    bool   `toml:"sandbox"`
}

// WayForPayConfig configures WayForPay.
type WayForPayConfig struct {
	Enabled         bool   `toml:"enabled"`
	MerchantAccount string `toml:"merchant_account"`
	SecretKey       string `toml:"secret_key"`
	Domain          string `toml:"domain"`
	ServiceURL      string `toml:"service_url"`
	ReturnURL       string `toml:"return_url"`
}

// MonobankConfig configures the static jar link.
type MonobankConfig struct {
	Enabled bool   `toml:"enabled"`
	JarURL  string `toml:"jar_url"`
}

// PriceConfig is one row of the amount → credits table. Amount is a
// string so "49.00" survives TOML without float rounding.
type PriceConfig struct {
	Currency string `toml:"currency"`
	Amount   string `toml:"amount"`
	Credits  int64  `toml:"credits"`
}

// SchedulerConfig controls the watch scheduler.
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
	Hour     int    `toml:"hour"`
	Weekday  string `toml:"weekday"`
	Timezone string `toml:"timezone"`
	Workers  int    `toml:"workers"`
	MaxLinks int    `toml:"max_links"`
}

// SEOConfig configures the backlink data provider.
type SEOConfig struct {
	BaseURL       string  `toml:"base_url"`
	Login         string  `toml:"login"`
	Password      string  `toml:"password"`
	Timeout       string  `toml:"timeout"`
	Limit         int     `toml:"limit"`
	RatePerSecond float64 `toml:"rate_per_second"`
}

// TelegramConfig configures notification delivery.
type TelegramConfig struct {
	Token   string `toml:"token"`
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Dir: Home(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Ledger: LedgerConfig{
			CheckCost: 1,
		},
		Pricing: []PriceConfig{
			{Currency: "UAH", Amount: "49", Credits: 50},
			{Currency: "UAH", Amount: "199", Credits: 250},
			{Currency: "UAH", Amount: "499", Credits: 700},
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Interval: "1h",
			Hour:     7,
			Weekday:  "monday",
			Timezone: "UTC",
			Workers:  4,
			MaxLinks: 10,
		},
		SEO: SEOConfig{
			BaseURL:       "https://api.dataforseo.com",
			Timeout:       "30s",
			Limit:         100,
			RatePerSecond: 1,
		},
		Telegram: TelegramConfig{
			BaseURL: "https://api.telegram.org",
			Timeout: "10s",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Home returns the linkpulse home directory ($LINKPULSE_HOME or ~/.linkpulse).
func Home() string {
	if h := os.Getenv("LINKPULSE_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".linkpulse"
	}
	return filepath.Join(home, ".linkpulse")
}

// LoadConfig reads the TOML file at path (default: <home>/config.toml),
// loads .env files, applies LINKPULSE_* overrides and validates the result.
// A missing default file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(Home(), "config.toml")
	}
	if _, err := os.Stat(path); err == nil {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("%w: parse %s: %v", domain.ErrConfiguration, path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("%w: unknown keys in %s: %v", domain.ErrConfiguration, path, undecoded)
		}
	} else if explicit {
		return cfg, fmt.Errorf("%w: config file %s: %v", domain.ErrConfiguration, path, err)
	}

	// Missing .env files are fine; existing variables win.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(Home(), ".env"))
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// applyEnv overrides secrets and a few deployment knobs from LINKPULSE_*.
func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"LINKPULSE_API_HOST":             &cfg.API.Host,
		"LINKPULSE_DATABASE_DIR":         &cfg.Database.Dir,
		"LINKPULSE_LOG_LEVEL":            &cfg.Log.Level,
		"LINKPULSE_LIQPAY_PUBLIC_KEY":    &cfg.Payments.LiqPay.PublicKey,
		"LINKPULSE_LIQPAY_PRIVATE_KEY":   &cfg.Payments.LiqPay.PrivateKey,
		"LINKPULSE_WAYFORPAY_MERCHANT":   &cfg.Payments.WayForPay.MerchantAccount,
		"LINKPULSE_WAYFORPAY_SECRET_KEY": &cfg.Payments.WayForPay.SecretKey,
		"LINKPULSE_MONOBANK_JAR_URL":     &cfg.Payments.Monobank.JarURL,
		"LINKPULSE_SEO_LOGIN":            &cfg.SEO.Login,
		"LINKPULSE_SEO_PASSWORD":         &cfg.SEO.Password,
		"LINKPULSE_TELEGRAM_TOKEN":       &cfg.Telegram.Token,
		"LINKPULSE_SCHEDULER_TIMEZONE":   &cfg.Scheduler.Timezone,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("LINKPULSE_API_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: LINKPULSE_API_PORT=%q", domain.ErrConfiguration, v)
		}
		cfg.API.Port = port
	}
	return nil
}

// Validate checks everything startup depends on. Every failure wraps
// ErrConfiguration.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{domain.ErrConfiguration}, args...)...))
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		add("api.port %d out of range", c.API.Port)
	}
	if _, err := c.PriceTable(); err != nil {
		errs = append(errs, err)
	}
	if c.Ledger.InitialBonus < 0 || c.Ledger.CheckCost < 0 {
		add("ledger amounts must not be negative")
	}

	lp := c.Payments.LiqPay
	if lp.Enabled && (lp.PublicKey == "" || lp.PrivateKey == "") {
		add("payments.liqpay is enabled without public_key and private_key")
	}
	wfp := c.Payments.WayForPay
	if wfp.Enabled && (wfp.MerchantAccount == "" || wfp.SecretKey == "" || wfp.Domain == "") {
		add("payments.wayforpay is enabled without merchant_account, secret_key and domain")
	}
	if c.Payments.Monobank.Enabled && c.Payments.Monobank.JarURL == "" {
		add("payments.monobank is enabled without jar_url")
	}

	s := c.Scheduler
	if s.Hour < 0 || s.Hour > 23 {
		add("scheduler.hour %d outside 0..23", s.Hour)
	}
	if _, err := ParseWeekday(s.Weekday); err != nil {
		errs = append(errs, err)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		add("scheduler.timezone %q: %v", s.Timezone, err)
	}
	if d, err := parseDuration(s.Interval, time.Hour); err != nil {
		add("scheduler.interval %q", s.Interval)
	} else if d > time.Hour {
		add("scheduler.interval %s exceeds 1h", d)
	}
	if s.Enabled && (c.SEO.Login == "" || c.SEO.Password == "" || c.Telegram.Token == "") {
		add("scheduler is enabled but seo credentials or telegram token are missing")
	}
	if _, err := parseDuration(c.SEO.Timeout, 30*time.Second); err != nil {
		add("seo.timeout %q", c.SEO.Timeout)
	}
	if _, err := parseDuration(c.Telegram.Timeout, 10*time.Second); err != nil {
		add("telegram.timeout %q", c.Telegram.Timeout)
	}

	return errors.Join(errs...)
}

// PriceTable builds the domain price table from [[pricing]] rows.
func (c Config) PriceTable() (*domain.PriceTable, error) {
	tiers := make([]domain.PriceTier, 0, len(c.Pricing))
	for _, p := range c.Pricing {
		amount, err := decimal.NewFromString(strings.TrimSpace(p.Amount))
		if err != nil {
			return nil, fmt.Errorf("%w: pricing amount %q", domain.ErrConfiguration, p.Amount)
		}
		tiers = append(tiers, domain.PriceTier{Currency: p.Currency, Amount: amount, Credits: p.Credits})
	}
	return domain.NewPriceTable(tiers)
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for name, d := range weekdays {
		if s == name || (len(s) == 3 && strings.HasPrefix(name, s)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", domain.ErrConfiguration, s)
}

// parseDuration parses a Go duration, using def for the empty string.
func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
