// Package cli holds the flagledger command-line tool's profile config and output
// rendering.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigPathEnv overrides the config file location.
	ConfigPathEnv = "FLAGLEDGER_CONFIG"
	BaseURLEnv    = "FLAGLEDGER_BASE_URL"
	APIKeyEnv     = "FLAGLEDGER_API_KEY"
)

// Config represents the CLI configuration
type Config struct {
	DefaultEnv   string               `yaml:"default_env"`
	Environments map[string]EnvConfig `yaml:"environments"`
}

// EnvConfig represents configuration for a specific environment.
// APIKey is only needed for flag mutations.
type EnvConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".flagledger", "config.yaml"), nil
}

// LoadConfig loads the configuration from file. A missing file yields an empty config
// defaulting to "dev".
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{
				DefaultEnv:   "dev",
				Environments: make(map[string]EnvConfig),
			}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Environments == nil {
		cfg.Environments = make(map[string]EnvConfig)
	}
	return &cfg, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// EnvNames returns the configured environment names in sorted order.
func (c *Config) EnvNames() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetEnvConfig resolves the connection settings for envName.
// Priority: command flags > environment variables > config file.
// It returns the settings and the effective environment name.
func GetEnvConfig(envName, baseURLFlag, apiKeyFlag string) (*EnvConfig, string, error) {
	envBaseURL := os.Getenv(BaseURLEnv)
	envAPIKey := os.Getenv(APIKeyEnv)

	// A base URL from flags or env vars is enough on its own.
	if baseURLFlag != "" || envBaseURL != "" {
		out := EnvConfig{BaseURL: firstNonEmpty(baseURLFlag, envBaseURL), APIKey: firstNonEmpty(apiKeyFlag, envAPIKey)}
		if envName == "" {
			envName = "custom"
		}
		return &out, envName, nil
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, "", err
	}
	if envName == "" {
		envName = cfg.DefaultEnv
	}

	envCfg, ok := cfg.Environments[envName]
	if !ok {
		return nil, "", fmt.Errorf("environment '%s' not found in config (run 'flagledger config init')", envName)
	}
	envCfg.APIKey = firstNonEmpty(apiKeyFlag, envAPIKey, envCfg.APIKey)

	if envCfg.BaseURL == "" {
		return nil, "", fmt.Errorf("base_url must be configured for environment '%s'", envName)
	}
	return &envCfg, envName, nil
}

// InitConfig creates a default config file pointing at a local server. It refuses to
// overwrite an existing file unless force is set.
func InitConfig(force bool) (string, error) {
	path, err := GetConfigPath()
	if err != nil {
		return "", err
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := &Config{
		DefaultEnv: "dev",
		Environments: map[string]EnvConfig{
			"dev": {
				BaseURL: "http://localhost:8080",
				APIKey:  "admin-123",
			},
		},
	}
	return path, SaveConfig(cfg)
}

// SetEnv stores settings for name, creating the config file if needed. makeDefault
// also switches default_env to name.
func SetEnv(name string, env EnvConfig, makeDefault bool) error {
	if name == "" {
		return errors.New("environment name is required")
	}
	if env.BaseURL == "" {
		return errors.New("base URL is required")
	}
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	cfg.Environments[name] = env
	if makeDefault || len(cfg.Environments) == 1 {
		cfg.DefaultEnv = name
	}
	return SaveConfig(cfg)
}

// MaskKey hides all but the last four characters of an API key.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
