// Package config loads and hot-reloads service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Slack     SlackConfig     `mapstructure:"slack" yaml:"slack"`
	OpenAI    OpenAIConfig    `mapstructure:"openai" yaml:"openai"`
	FileMaker FileMakerConfig `mapstructure:"filemaker" yaml:"filemaker"`
	Limits    LimitsConfig    `mapstructure:"limits" yaml:"limits"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// SlackConfig holds the Slack app credentials.
type SlackConfig struct {
	BotToken      string `mapstructure:"bot_token" yaml:"bot_token"`
	SigningSecret string `mapstructure:"signing_secret" yaml:"signing_secret"`
	// OpenFileURL is the fmp:// link offered in the summary message.
	OpenFileURL string `mapstructure:"open_file_url" yaml:"open_file_url"`
}

// OpenAIConfig holds the extraction model settings.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	Model   string `mapstructure:"model" yaml:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// FileMakerConfig holds the card store connection settings.
type FileMakerConfig struct {
	Server   string `mapstructure:"server" yaml:"server"`
	Database string `mapstructure:"database" yaml:"database"`
	Layout   string `mapstructure:"layout" yaml:"layout"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// LimitsConfig carries the batch intake and reporting policy. Both
// values track external platform ceilings; they are policy constants,
// not computed.
type LimitsConfig struct {
	// MaxImages caps simultaneous extraction calls per batch.
	MaxImages int `mapstructure:"max_images" yaml:"max_images"`
	// ChunkSize is how many rendered cards go into one message.
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: "8080"},
		Slack: SlackConfig{
			BotToken:      "${SLACK_BOT_TOKEN}",
			SigningSecret: "${SLACK_SIGNING_SECRET}",
		},
		OpenAI: OpenAIConfig{
			APIKey: "${OPENAI_API_KEY}",
			Model:  "gpt-4o",
		},
		FileMaker: FileMakerConfig{
			Layout:   "for_FilemakerDataAPI",
			Username: "${FM_USERNAME}",
			Password: "${FM_PASSWORD}",
		},
		Limits: LimitsConfig{MaxImages: 5, ChunkSize: 5},
	}
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("server", defaults.Server)
	viper.SetDefault("slack", defaults.Slack)
	viper.SetDefault("openai", defaults.OpenAI)
	viper.SetDefault("filemaker", defaults.FileMaker)
	viper.SetDefault("limits", defaults.Limits)

	// Environment variables with MEISHI_ prefix
	viper.SetEnvPrefix("MEISHI")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.meishi")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// Resolved returns a copy of the config with every ${ENV_VAR}
// credential reference expanded.
func (c *Config) Resolved() Config {
	out := *c
	out.Slack.BotToken = ResolveEnvVars(c.Slack.BotToken)
	out.Slack.SigningSecret = ResolveEnvVars(c.Slack.SigningSecret)
	out.OpenAI.APIKey = ResolveEnvVars(c.OpenAI.APIKey)
	out.FileMaker.Server = ResolveEnvVars(c.FileMaker.Server)
	out.FileMaker.Database = ResolveEnvVars(c.FileMaker.Database)
	out.FileMaker.Username = ResolveEnvVars(c.FileMaker.Username)
	out.FileMaker.Password = ResolveEnvVars(c.FileMaker.Password)
	return out
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# meishi configuration
# Credentials use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export SLACK_BOT_TOKEN=xxx OPENAI_API_KEY=xxx FM_USERNAME=xxx FM_PASSWORD=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
