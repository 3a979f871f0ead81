package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	PolicyCycle    = "cycle"
	PolicyDoneOnly = "done-only"

	DriverJSON   = "json"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config models khatma.yml.
type Config struct {
	Locale  string `yaml:"locale" json:"locale"`
	Policy  string `yaml:"policy" json:"policy"`
	Storage struct {
		Driver string `yaml:"driver" json:"driver"`
		Path   string `yaml:"path" json:"path"`
	} `yaml:"storage" json:"storage"`
	Server struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
	Log struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Locale {
	case "ar", "en":
	default:
		return fmt.Errorf("config.locale must be 'ar' or 'en', got %q", c.Locale)
	}
	switch c.Policy {
	case PolicyCycle, PolicyDoneOnly:
	default:
		return fmt.Errorf("config.policy must be %q or %q, got %q", PolicyCycle, PolicyDoneOnly, c.Policy)
	}
	switch c.Storage.Driver {
	case DriverJSON, DriverSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("config.storage.path is required for driver %s", c.Storage.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config.storage.driver must be json, sqlite or memory, got %q", c.Storage.Driver)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q not recognised", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// StoragePath resolves the storage path relative to workspace.
func (c *Config) StoragePath(workspace string) string {
	if c.Storage.Path == "" || filepath.IsAbs(c.Storage.Path) {
		return c.Storage.Path
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.Storage.Path)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "khatma.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with khatma config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `# Language of user-facing messages: ar or en.
locale: ar

# Task lifecycle:
#   cycle     - available -> reserved -> done -> available, holder only after the first claim
#   done-only - available -> done, no cancellation
policy: cycle

storage:
  # json, sqlite or memory
  driver: json
  path: data.json

server:
  addr: 0.0.0.0:5000
  base_path: ""

log:
  level: info
  format: text
`
