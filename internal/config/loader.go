package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. FACTORY_FACTORY_MAX_ITERATIONS
const EnvPrefix = "FACTORY"

// secretKeys are omitted from the defaults map, so they are bound to the
// environment explicitly
var secretKeys = []string{
	"agent.anthropic_api_key",
	"agent.openai_api_key",
	"agent.base_url",
	"gateway.shared_secret",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file when it exists, applies FACTORY_ environment
// overrides and the provider API key fallbacks, and fills default paths.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}
	for _, key := range secretKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Agent.AnthropicAPIKey == "" {
		cfg.Agent.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Agent.OpenAIAPIKey == "" {
		cfg.Agent.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".factory")
	}
	if cfg.Factory.ArchivePath == "" {
		cfg.Factory.ArchivePath = filepath.Join(cfg.DataDir, "history.db")
	}

	return cfg, nil
}

// setDefaults registers every key of cfg so that environment overrides
// reach nested fields on Unmarshal
func setDefaults(v *viper.Viper, cfg *Config) error {
	values, err := toMap(cfg)
	if err != nil {
		return err
	}
	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if nested, ok := val.(map[string]interface{}); ok {
				walk(key, nested)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", values)
	return nil
}

func toMap(cfg *Config) (map[string]interface{}, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return m, nil
}

// Save writes cfg to the config path, creating its directory
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	values, err := toMap(cfg)
	if err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.MergeConfigMap(values); err != nil {
		return fmt.Errorf("failed to stage config: %w", err)
	}
	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Chmod(configPath, 0600)
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".factory", "factory.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
