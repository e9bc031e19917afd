// Package config loads Mailroom configuration from config.yaml plus
// MAILROOM_-prefixed auth environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the Mailroom service.
type Config struct {
	Polling PollingConfig `yaml:"polling"`
	Triage  TriageConfig  `yaml:"triage"`
	Labels  LabelConfig   `yaml:"labels"`
	Logging LoggingConfig `yaml:"logging"`

	// Auth is never populated from YAML -- see LoadFromEnv.
	Auth AuthConfig `yaml:"-"`

	// Resolved is computed by ResolveCategories once Triage.Categories is
	// known. Populated by LoadFromEnv/Load; nil until then.
	Resolved []ResolvedCategory `yaml:"-"`
}

// PollingConfig controls the fallback poll interval and SSE debounce window.
type PollingConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	DebounceSeconds int `yaml:"debounce_seconds"`
}

func (c PollingConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c PollingConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds) * time.Second
}

// TriageConfig holds the screener mailbox name and the user-provided
// (not-yet-resolved) triage categories.
type TriageConfig struct {
	ScreenerMailbox string           `yaml:"screener_mailbox"`
	Categories      []CategoryConfig `yaml:"categories"`
}

// LabelConfig holds the error/warning label names.
type LabelConfig struct {
	MailroomError   string `yaml:"mailroom_error"`
	MailroomWarning string `yaml:"mailroom_warning"`
	WarningsEnabled bool   `yaml:"warnings_enabled"`
}

// LoggingConfig holds the minimum log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AuthConfig holds credentials and provider hostnames. Always sourced from
// environment variables, never from config.yaml, so secrets never land in
// a checked-in file.
type AuthConfig struct {
	JMAPToken       string
	JMAPHostname    string
	CardDAVHost     string
	CardDAVUsername string
	CardDAVPassword string
}

const (
	defaultJMAPHostname    = "api.fastmail.com"
	defaultCardDAVHostname = "carddav.fastmail.com"
)

// MailHostname returns the JMAP API hostname, defaulting to Fastmail's.
func (a AuthConfig) MailHostname() string {
	if a.JMAPHostname != "" {
		return a.JMAPHostname
	}
	return defaultJMAPHostname
}

// CardDAVHostname returns the CardDAV hostname, defaulting to Fastmail's.
func (a AuthConfig) CardDAVHostname() string {
	if a.CardDAVHost != "" {
		return a.CardDAVHost
	}
	return defaultCardDAVHostname
}

const healthPortDefault = 8080

// HealthPort is the TCP port the /healthz server listens on. Fixed by
// convention; overridable via MAILROOM_HEALTH_PORT for local testing
// without port collisions.
func HealthPort() int {
	if v := os.Getenv("MAILROOM_HEALTH_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			return port
		}
	}
	return healthPortDefault
}

func defaults(cfg *Config) {
	if cfg.Polling.IntervalSeconds == 0 {
		cfg.Polling.IntervalSeconds = 60
	}
	if cfg.Polling.DebounceSeconds == 0 {
		cfg.Polling.DebounceSeconds = 3
	}
	if cfg.Triage.ScreenerMailbox == "" {
		cfg.Triage.ScreenerMailbox = "Screener"
	}
	if len(cfg.Triage.Categories) == 0 {
		cfg.Triage.Categories = defaultCategories()
	}
	if cfg.Labels.MailroomError == "" {
		cfg.Labels.MailroomError = "@MailroomError"
	}
	if cfg.Labels.MailroomWarning == "" {
		cfg.Labels.MailroomWarning = "@MailroomWarning"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Load reads and parses config.yaml at path, applies defaults, resolves
// triage categories, and returns the completed Config. It does not touch
// environment variables; use LoadFromEnv for the full startup path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	// WarningsEnabled defaults to true; yaml.Unmarshal leaves an absent
	// bool key at its zero value, so seed it before unmarshaling.
	cfg.Labels.WarningsEnabled = true

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	defaults(&cfg)

	resolved, err := ResolveCategories(cfg.Triage.Categories)
	if err != nil {
		return nil, err
	}
	cfg.Resolved = resolved

	return &cfg, nil
}

// resolveConfigPath returns the path to config.yaml: MAILROOM_CONFIG env
// var if set, otherwise "./config.yaml".
func resolveConfigPath() string {
	if p := os.Getenv("MAILROOM_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// LoadFromEnv is the full startup configuration load: an optional .env
// file, config.yaml (MAILROOM_CONFIG env var or ./config.yaml), and
// MAILROOM_-prefixed auth environment variables. Returns a fatal error if
// the config file is missing or the required jmap token env var is unset.
func LoadFromEnv() (*Config, error) {
	// Load .env file if present (no error if missing) so local development
	// can keep secrets out of the shell profile.
	_ = godotenv.Load()

	path := resolveConfigPath()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf(
			"config file not found: %s\nCopy config.yaml.example to config.yaml and edit it, "+
				"or set MAILROOM_CONFIG to point at one", path,
		)
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	cfg.Auth.JMAPToken = os.Getenv("MAILROOM_JMAP_TOKEN")
	cfg.Auth.JMAPHostname = os.Getenv("MAILROOM_JMAP_HOSTNAME")
	cfg.Auth.CardDAVHost = os.Getenv("MAILROOM_CARDDAV_HOSTNAME")
	cfg.Auth.CardDAVUsername = os.Getenv("MAILROOM_CARDDAV_USERNAME")
	cfg.Auth.CardDAVPassword = os.Getenv("MAILROOM_CARDDAV_PASSWORD")

	if cfg.Auth.JMAPToken == "" {
		return nil, fmt.Errorf("MAILROOM_JMAP_TOKEN environment variable is required")
	}

	return cfg, nil
}

// TriageLabels returns all triage label names, for mailbox validation at
// startup.
func (c *Config) TriageLabels() []string {
	labels := make([]string, len(c.Resolved))
	for i, r := range c.Resolved {
		labels[i] = r.Label
	}
	return labels
}

// CategoryByLabel returns the resolved category whose action label
// matches, and whether it was found.
func (c *Config) CategoryByLabel(label string) (ResolvedCategory, bool) {
	for _, r := range c.Resolved {
		if r.Label == label {
			return r, true
		}
	}
	return ResolvedCategory{}, false
}

// RequiredMailboxes returns every mailbox name that must exist at startup:
// Inbox, Screener, the error label (always a mailbox-as-label), each
// category's action label and destination mailbox, and the warning label
// when enabled.
func (c *Config) RequiredMailboxes() []string {
	set := map[string]struct{}{
		"Inbox":                    {},
		c.Triage.ScreenerMailbox:   {},
		c.Labels.MailroomError:     {},
	}
	for _, r := range c.Resolved {
		set[r.Label] = struct{}{}
		set[r.DestinationMailbox] = struct{}{}
	}
	if c.Labels.WarningsEnabled {
		set[c.Labels.MailroomWarning] = struct{}{}
	}
	return sortedKeys(set)
}

// ContactGroups returns every distinct contact group name required at
// startup.
func (c *Config) ContactGroups() []string {
	set := map[string]struct{}{}
	for _, r := range c.Resolved {
		set[r.ContactGroup] = struct{}{}
	}
	return sortedKeys(set)
}
