package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS        NATSConfig        `yaml:"nats"`
	Agent       AgentConfig       `yaml:"agent"`
	Calendar    CalendarConfig    `yaml:"calendar"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type NATSConfig struct {
	URL               string `yaml:"url"`
	InboundSubject    string `yaml:"inbound_subject"`
	OutboundSubject   string `yaml:"outbound_subject"`
	CredentialsBucket string `yaml:"credentials_bucket"`
}

type AgentConfig struct {
	ID          string         `yaml:"id"`
	UserID      string         `yaml:"user_id"`
	Name        string         `yaml:"name"`
	Concurrency int            `yaml:"concurrency"`
	Options     map[string]any `yaml:"options"`
}

type CalendarConfig struct {
	Backend string `yaml:"backend"` // google or ics
	ICSDir  string `yaml:"ics_dir"`
}

type CredentialsConfig struct {
	File string `yaml:"file"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AgentOptions is the typed view of an agent's options after interpolation
type AgentOptions struct {
	ExpectedUpdatePeriod       string        `yaml:"expected_update_period"`
	ExpectedUpdatePeriodInDays string        `yaml:"expected_update_period_in_days"`
	CalendarID                 string        `yaml:"calendar_id"`
	Google                     GoogleOptions `yaml:"google"`
}

// GoogleOptions holds service account credentials. Key and KeyFile are alternatives.
type GoogleOptions struct {
	KeyFile             string `yaml:"key_file"`
	Key                 string `yaml:"key"`
	KeySecret           string `yaml:"key_secret"`
	ServiceAccountEmail string `yaml:"service_account_email"`
}

func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("NATS URL is required")
	}
	if c.NATS.InboundSubject == "" {
		return fmt.Errorf("NATS inbound subject is required")
	}
	if c.NATS.OutboundSubject == "" {
		return fmt.Errorf("NATS outbound subject is required")
	}
	if c.Agent.ID == "" {
		return fmt.Errorf("agent: id is required")
	}
	if c.Agent.UserID == "" {
		return fmt.Errorf("agent: user_id is required")
	}
	if len(c.Agent.Options) == 0 {
		return fmt.Errorf("agent: options are required")
	}

	if c.Agent.Name == "" {
		c.Agent.Name = c.Agent.ID
	}
	if c.Agent.Concurrency <= 0 {
		c.Agent.Concurrency = 1
	}

	switch c.Calendar.Backend {
	case "":
		c.Calendar.Backend = "google"
	case "google", "ics":
	default:
		return fmt.Errorf("calendar: unsupported backend %q", c.Calendar.Backend)
	}
	if c.Calendar.ICSDir == "" {
		c.Calendar.ICSDir = "calendars"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// DecodeAgentOptions converts raw (possibly interpolated) options into AgentOptions
func DecodeAgentOptions(raw map[string]any) (*AgentOptions, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode agent options: %w", err)
	}

	var options AgentOptions
	if err := yaml.Unmarshal(data, &options); err != nil {
		return nil, fmt.Errorf("failed to decode agent options: %w", err)
	}

	return &options, nil
}

// UpdatePeriod parses the expected update period.
// A bare integer is a number of days; anything else must be a Go duration.
func (o *AgentOptions) UpdatePeriod() (time.Duration, error) {
	value := strings.TrimSpace(o.ExpectedUpdatePeriod)
	if value == "" {
		value = strings.TrimSpace(o.ExpectedUpdatePeriodInDays)
	}
	if value == "" {
		return 0, fmt.Errorf("expected update period is required")
	}

	if days, err := strconv.Atoi(value); err == nil {
		if days <= 0 {
			return 0, fmt.Errorf("expected update period must be positive, got %d days", days)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	period, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid expected update period %q: %w", value, err)
	}
	if period <= 0 {
		return 0, fmt.Errorf("expected update period must be positive, got %v", period)
	}
	return period, nil
}
