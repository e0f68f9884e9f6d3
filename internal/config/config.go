package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models stakeline.yml.
type Config struct {
	Stakes struct {
		DefaultCurrency string `yaml:"default_currency"`
	} `yaml:"stakes"`
	Categories []string `yaml:"categories"`
	Auth       struct {
		JWTSecret       string `yaml:"jwt_secret"`
		AllowUserHeader bool   `yaml:"allow_user_header"`
	} `yaml:"auth"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// Webhook is one outbound activity subscription.
type Webhook struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	ActivityTypes  []string `yaml:"activity_types"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Disabled       bool     `yaml:"disabled"`
}

// Matches reports whether the webhook subscribes to the activity type.
// An empty filter subscribes to everything.
func (w Webhook) Matches(activityType string) bool {
	if len(w.ActivityTypes) == 0 {
		return true
	}
	for _, t := range w.ActivityTypes {
		if t == activityType {
			return true
		}
	}
	return false
}

// KnownCategory reports whether name is in the configured catalog.
func (c *Config) KnownCategory(name string) bool {
	for _, cat := range c.Categories {
		if cat == name {
			return true
		}
	}
	return false
}

// DefaultCurrency returns the configured stake currency, USD if unset.
func (c *Config) DefaultCurrency() string {
	if c.Stakes.DefaultCurrency == "" {
		return "USD"
	}
	return c.Stakes.DefaultCurrency
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with sl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if cur := c.Stakes.DefaultCurrency; cur != "" && len(cur) != 3 {
		return fmt.Errorf("config.stakes.default_currency must be a 3-letter code, got %q", cur)
	}
	for i, cat := range c.Categories {
		if cat == "" {
			return fmt.Errorf("config.categories[%d] is empty", i)
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		u, err := url.Parse(wh.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
		if wh.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stakeline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `stakes:
  default_currency: USD

categories:
  - fitness
  - productivity
  - health
  - learning
  - finance
  - other

auth:
  jwt_secret: ""
  allow_user_header: true

webhooks: []
`
