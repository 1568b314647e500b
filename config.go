package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

const (
	defaultDataDir = "data"

	defaultTimerDuration      = 24 * time.Hour
	defaultPollInterval       = 30 * time.Second
	defaultRearmDelay         = time.Second
	defaultSendTimeout        = 15 * time.Second
	defaultMaxParallelSends   = 4
	defaultAlertRatePerMinute = 6
	defaultNATSSubject        = "vigil.checkin"

	// defaultAlertMessage is the lead line of the broadcast sent when a
	// check-in deadline passes. The dispatcher appends deadline details.
	defaultAlertMessage = "EMERGENCY ALERT: a scheduled safety check-in was missed. Please try to reach the monitored person immediately."
)

type Config struct {
	StatusAddr    string // HTTP status/API listen address, e.g. ":8080"
	StatusTLSAddr string // optional HTTPS listen address, e.g. ":8443"
	DataDir       string

	// TimerDuration is the countdown applied when a reset does not carry an
	// explicit duration. PollInterval drives the expiry scan; RearmDelay is
	// the pause between dispatching an alert and starting the next cycle.
	TimerDuration time.Duration
	PollInterval  time.Duration
	RearmDelay    time.Duration
	StartUnarmed  bool

	AlertMessage       string
	MaxParallelSends   int
	SendTimeout        time.Duration
	AlertRatePerMinute int

	// DiscordBotToken is loaded exclusively from secrets.toml (or the
	// GOVIGIL_DISCORD_TOKEN environment variable) and is never written
	// back to config.toml.
	DiscordBotToken string
	DiscordGuildID  string
	DiscordCommands bool

	// NATSURL enables the check-in pulse listener when non-empty.
	NATSURL     string
	NATSSubject string

	SeedContacts []Contact

	LogDebug bool
}

type fileConfig struct {
	StatusListen    string `toml:"status_listen"`
	StatusTLSListen string `toml:"status_tls_listen"`
	DataDir         string `toml:"data_dir"`

	TimerDurationMin *int  `toml:"timer_duration_minutes"`
	PollIntervalSec  *int  `toml:"poll_interval_seconds"`
	RearmDelayMS     *int  `toml:"rearm_delay_ms"`
	StartUnarmed     *bool `toml:"start_unarmed"`

	AlertMessage       string `toml:"alert_message"`
	MaxParallelSends   *int   `toml:"max_parallel_sends"`
	SendTimeoutSec     *int   `toml:"send_timeout_seconds"`
	AlertRatePerMinute *int   `toml:"alert_rate_per_minute"`

	DiscordGuildID  string `toml:"discord_guild_id"`
	DiscordCommands *bool  `toml:"discord_commands"`

	NATSURL     string `toml:"nats_url"`
	NATSSubject string `toml:"nats_subject"`

	Contacts []fileContact `toml:"contacts"`

	LogDebug *bool `toml:"log_debug"`

	// The bot token lives exclusively in secrets.toml and is never read
	// from or written to config.toml.
	DiscordBotToken string `toml:"-"`
}

type fileContact struct {
	Name          string `toml:"name"`
	DestinationID string `toml:"destination_id"`
}

// secretsConfig holds sensitive values that operators may prefer to keep out
// of the main config.toml so it can be checked into version control or shared
// more freely.
//
// When present, these values override any corresponding fields from
// config.toml.
type secretsConfig struct {
	DiscordBotToken string `toml:"discord_bot_token"`
}

func loadConfig(configPath, secretsPath string) Config {
	cfg := defaultConfig()

	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if fc, ok, err := loadConfigFile(configPath); err != nil {
		fatal("config file", err, "path", configPath)
	} else if ok {
		applyFileConfig(&cfg, *fc)
	} else {
		// Config file doesn't exist, write out defaults
		if err := rewriteConfigFile(configPath, cfg); err != nil {
			fatal("write default config", err, "path", configPath)
		}
		logger.Info("created default config file", "path", configPath)
	}

	// Optional secrets overlay: if data_dir/secrets.toml exists, values from
	// that file override sensitive fields like the bot token.
	if secretsPath == "" {
		secretsPath = filepath.Join(cfg.DataDir, "secrets.toml")
	}
	if sc, ok, err := loadSecretsFile(secretsPath); err != nil {
		fatal("secrets file", err, "path", secretsPath)
	} else if ok {
		applySecretsConfig(&cfg, *sc)
	}
	if tok := strings.TrimSpace(os.Getenv("GOVIGIL_DISCORD_TOKEN")); tok != "" {
		cfg.DiscordBotToken = tok
	}

	cfg.SeedContacts = normalizeContacts(cfg.SeedContacts)
	return cfg
}

// defaultConfig returns a Config populated with built-in defaults that act
// as the base for both runtime config loading and example config generation.
func defaultConfig() Config {
	return Config{
		StatusAddr: ":8080",
		// StatusTLSAddr defaults to empty (disabled) so operators explicitly
		// opt in to HTTPS for the status API.
		StatusTLSAddr:      "",
		DataDir:            defaultDataDir,
		TimerDuration:      defaultTimerDuration,
		PollInterval:       defaultPollInterval,
		RearmDelay:         defaultRearmDelay,
		StartUnarmed:       false,
		AlertMessage:       defaultAlertMessage,
		MaxParallelSends:   defaultMaxParallelSends,
		SendTimeout:        defaultSendTimeout,
		AlertRatePerMinute: defaultAlertRatePerMinute,
		DiscordBotToken:    "",
		DiscordGuildID:     "",
		DiscordCommands:    true,
		NATSURL:            "",
		NATSSubject:        defaultNATSSubject,
		SeedContacts:       nil,
		LogDebug:           false,
	}
}

func defaultConfigPath() string {
	return filepath.Join(defaultDataDir, "config.toml")
}

func loadConfigFile(path string) (*fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg fileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, true, nil
}

func loadSecretsFile(path string) (*secretsConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg secretsConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, true, nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.StatusListen != "" {
		cfg.StatusAddr = normalizeListenAddr(fc.StatusListen)
	}
	if fc.StatusTLSListen != "" {
		cfg.StatusTLSAddr = normalizeListenAddr(fc.StatusTLSListen)
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.TimerDurationMin != nil && *fc.TimerDurationMin > 0 {
		cfg.TimerDuration = time.Duration(*fc.TimerDurationMin) * time.Minute
	}
	if fc.PollIntervalSec != nil && *fc.PollIntervalSec > 0 {
		cfg.PollInterval = time.Duration(*fc.PollIntervalSec) * time.Second
	}
	if fc.RearmDelayMS != nil && *fc.RearmDelayMS >= 0 {
		cfg.RearmDelay = time.Duration(*fc.RearmDelayMS) * time.Millisecond
	}
	if fc.StartUnarmed != nil {
		cfg.StartUnarmed = *fc.StartUnarmed
	}
	if fc.AlertMessage != "" {
		cfg.AlertMessage = fc.AlertMessage
	}
	if fc.MaxParallelSends != nil && *fc.MaxParallelSends > 0 {
		cfg.MaxParallelSends = *fc.MaxParallelSends
	}
	if fc.SendTimeoutSec != nil && *fc.SendTimeoutSec > 0 {
		cfg.SendTimeout = time.Duration(*fc.SendTimeoutSec) * time.Second
	}
	if fc.AlertRatePerMinute != nil && *fc.AlertRatePerMinute >= 0 {
		cfg.AlertRatePerMinute = *fc.AlertRatePerMinute
	}
	if fc.DiscordGuildID != "" {
		cfg.DiscordGuildID = strings.TrimSpace(fc.DiscordGuildID)
	}
	if fc.DiscordCommands != nil {
		cfg.DiscordCommands = *fc.DiscordCommands
	}
	if fc.NATSURL != "" {
		cfg.NATSURL = strings.TrimSpace(fc.NATSURL)
	}
	if fc.NATSSubject != "" {
		cfg.NATSSubject = strings.TrimSpace(fc.NATSSubject)
	}
	if len(fc.Contacts) > 0 {
		contacts := make([]Contact, 0, len(fc.Contacts))
		for _, c := range fc.Contacts {
			contacts = append(contacts, Contact{Name: c.Name, DestinationID: c.DestinationID})
		}
		cfg.SeedContacts = contacts
	}
	if fc.LogDebug != nil {
		cfg.LogDebug = *fc.LogDebug
	}
}

func applySecretsConfig(cfg *Config, sc secretsConfig) {
	if sc.DiscordBotToken != "" {
		cfg.DiscordBotToken = strings.TrimSpace(sc.DiscordBotToken)
	}
}

// normalizeListenAddr is forgiving: if the operator specified only a port
// like "8080", treat it as ":8080" so net.Listen accepts it.
func normalizeListenAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr != "" && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	return addr
}

// normalizeContacts trims stray whitespace from seeded contact fields so a
// hand-edited config.toml cannot smuggle newlines into destination ids.
func normalizeContacts(contacts []Contact) []Contact {
	if len(contacts) == 0 {
		return nil
	}
	out := make([]Contact, 0, len(contacts))
	for _, c := range contacts {
		c.Name = strings.TrimSpace(c.Name)
		c.DestinationID = strings.TrimSpace(c.DestinationID)
		if c.Name == "" && c.DestinationID == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

type EffectiveConfig struct {
	StatusAddr         string `json:"status_listen"`
	StatusTLSAddr      string `json:"status_tls_listen,omitempty"`
	DataDir            string `json:"data_dir"`
	TimerDuration      string `json:"timer_duration"`
	PollInterval       string `json:"poll_interval"`
	RearmDelay         string `json:"rearm_delay"`
	StartUnarmed       bool   `json:"start_unarmed,omitempty"`
	AlertMessageSet    bool   `json:"alert_message_set"`
	MaxParallelSends   int    `json:"max_parallel_sends"`
	SendTimeout        string `json:"send_timeout"`
	AlertRatePerMinute int    `json:"alert_rate_per_minute"`
	DiscordTokenSet    bool   `json:"discord_token_set"`
	DiscordGuildID     string `json:"discord_guild_id,omitempty"`
	DiscordCommands    bool   `json:"discord_commands"`
	NATSURL            string `json:"nats_url,omitempty"`
	NATSSubject        string `json:"nats_subject,omitempty"`
	SeedContacts       int    `json:"seed_contacts"`
	LogDebug           bool   `json:"log_debug,omitempty"`
}

func (cfg Config) Effective() EffectiveConfig {
	return EffectiveConfig{
		StatusAddr:         cfg.StatusAddr,
		StatusTLSAddr:      cfg.StatusTLSAddr,
		DataDir:            cfg.DataDir,
		TimerDuration:      cfg.TimerDuration.String(),
		PollInterval:       cfg.PollInterval.String(),
		RearmDelay:         cfg.RearmDelay.String(),
		StartUnarmed:       cfg.StartUnarmed,
		AlertMessageSet:    strings.TrimSpace(cfg.AlertMessage) != "",
		MaxParallelSends:   cfg.MaxParallelSends,
		SendTimeout:        cfg.SendTimeout.String(),
		AlertRatePerMinute: cfg.AlertRatePerMinute,
		DiscordTokenSet:    strings.TrimSpace(cfg.DiscordBotToken) != "",
		DiscordGuildID:     cfg.DiscordGuildID,
		DiscordCommands:    cfg.DiscordCommands,
		NATSURL:            cfg.NATSURL,
		NATSSubject:        cfg.NATSSubject,
		SeedContacts:       len(cfg.SeedContacts),
		LogDebug:           cfg.LogDebug,
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.StatusAddr) == "" && strings.TrimSpace(cfg.StatusTLSAddr) == "" {
		return fmt.Errorf("status_listen or status_tls_listen is required")
	}
	if cfg.TimerDuration <= 0 {
		return fmt.Errorf("timer_duration_minutes must be > 0, got %s", cfg.TimerDuration)
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll_interval_seconds must be > 0, got %s", cfg.PollInterval)
	}
	if cfg.RearmDelay < 0 {
		return fmt.Errorf("rearm_delay_ms cannot be negative")
	}
	if cfg.MaxParallelSends <= 0 {
		return fmt.Errorf("max_parallel_sends must be > 0, got %d", cfg.MaxParallelSends)
	}
	if cfg.SendTimeout <= 0 {
		return fmt.Errorf("send_timeout_seconds must be > 0, got %s", cfg.SendTimeout)
	}
	if cfg.AlertRatePerMinute < 0 {
		return fmt.Errorf("alert_rate_per_minute cannot be negative")
	}
	if strings.TrimSpace(cfg.DiscordBotToken) == "" {
		return fmt.Errorf("discord_bot_token is required (set it in secrets.toml or GOVIGIL_DISCORD_TOKEN)")
	}
	if strings.TrimSpace(cfg.NATSURL) != "" && strings.TrimSpace(cfg.NATSSubject) == "" {
		return fmt.Errorf("nats_subject is required when nats_url is set")
	}
	for i, c := range cfg.SeedContacts {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("contacts[%d]: name is required", i)
		}
	}
	return nil
}

type runtimeOverrides struct {
	statusAddr    string
	statusTLSAddr string
	dataDir       string
	natsURL       string
	startUnarmed  *bool
}

func applyRuntimeOverrides(cfg *Config, o runtimeOverrides) {
	if strings.TrimSpace(o.statusAddr) != "" {
		cfg.StatusAddr = normalizeListenAddr(o.statusAddr)
	}
	if strings.TrimSpace(o.statusTLSAddr) != "" {
		cfg.StatusTLSAddr = normalizeListenAddr(o.statusTLSAddr)
	}
	if strings.TrimSpace(o.dataDir) != "" {
		cfg.DataDir = strings.TrimSpace(o.dataDir)
	}
	if strings.TrimSpace(o.natsURL) != "" {
		cfg.NATSURL = strings.TrimSpace(o.natsURL)
	}
	if o.startUnarmed != nil {
		cfg.StartUnarmed = *o.startUnarmed
	}
}
