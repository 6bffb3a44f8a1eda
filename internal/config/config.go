package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/harun/multichat/pkg/model"
	"github.com/harun/multichat/pkg/session"
)

// Config represents the main MultiChat configuration
type Config struct {
	// Web server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Session store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Model provider and request options
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Scheduled store backups
	Backup BackupConfig `json:"backup" mapstructure:"backup"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Audit log
	Audit AuditConfig `json:"audit" mapstructure:"audit"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds web server configuration
type ServerConfig struct {
	Addr                string `json:"addr" mapstructure:"addr" validate:"required,hostname_port"`
	// ModelTimeoutSeconds bounds one model call; 0 waits for the reply
	ModelTimeoutSeconds int    `json:"model_timeout_seconds" mapstructure:"model_timeout_seconds" validate:"gte=0"`
}

// StoreConfig selects the session store backend
type StoreConfig struct {
	Backend string `json:"backend" mapstructure:"backend" validate:"required,oneof=json sqlite"`
	Path    string `json:"path" mapstructure:"path"`
}

// ModelConfig holds provider settings and request options
type ModelConfig struct {
	Provider     string  `json:"provider" mapstructure:"provider" validate:"required,oneof=bedrock anthropic openai"`
	Region       string  `json:"region" mapstructure:"region"`
	APIKey       string  `json:"api_key" mapstructure:"api_key"`
	BaseURL      string  `json:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Model        string  `json:"model" mapstructure:"model" validate:"required"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens" validate:"gt=0,lte=200000"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
}

// BackupConfig holds scheduled backup settings
type BackupConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Dir      string `json:"dir" mapstructure:"dir"`
	Schedule string `json:"schedule" mapstructure:"schedule"`
	Keep     int    `json:"keep" mapstructure:"keep" validate:"gte=0"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level" validate:"required,oneof=debug info warn error"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size" validate:"gte=0"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age" validate:"gte=0"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// AuditConfig holds audit log settings
type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:8501",
		},
		Store: StoreConfig{
			Backend: session.BackendJSON,
		},
		Model: ModelConfig{
			Provider:  model.ProviderBedrock,
			Region:    model.DefaultRegion,
			Model:     model.DefaultModel,
			MaxTokens: model.DefaultMaxTokens,
		},
		Backup: BackupConfig{
			Enabled:  false,
			Schedule: session.DefaultBackupSchedule,
			Keep:     session.DefaultBackupKeep,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
	}
}

// DefaultDataDir returns ~/.multichat
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".multichat"), nil
}

// ApplyDefaultPaths fills unset file locations relative to DataDir
func (c *Config) ApplyDefaultPaths() error {
	if c.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	}

	if c.Store.Path == "" {
		name := "sessions.json"
		if c.Store.Backend == session.BackendSQLite {
			name = "sessions.db"
		}
		c.Store.Path = filepath.Join(c.DataDir, name)
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(c.DataDir, "backups")
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "multichat.log")
	}
	if c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(c.DataDir, "audit.log")
	}
	return nil
}

// ModelOptions returns the request options carried by the config
func (c *Config) ModelOptions() model.Options {
	return model.Options{
		Model:        c.Model.Model,
		MaxTokens:    c.Model.MaxTokens,
		Temperature:  c.Model.Temperature,
		SystemPrompt: c.Model.SystemPrompt,
	}
}

// ProviderConfig returns the provider settings carried by the config.
// The API key falls back to the provider's usual environment variable.
func (c *Config) ProviderConfig() model.ProviderConfig {
	apiKey := c.Model.APIKey
	if apiKey == "" {
		switch c.Model.Provider {
		case model.ProviderAnthropic:
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		case model.ProviderOpenAI:
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	return model.ProviderConfig{
		Name:    c.Model.Provider,
		APIKey:  apiKey,
		BaseURL: c.Model.BaseURL,
		Region:  c.Model.Region,
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", strings.ToLower(fe.Namespace()), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	// API keys may come from the environment, so only the bedrock region is checked here
	if c.Model.Provider == model.ProviderBedrock && c.Model.Region == "" {
		return fmt.Errorf("model.region is required for the bedrock provider")
	}

	if c.Backup.Enabled {
		if c.Store.Backend != session.BackendJSON && c.Store.Backend != session.BackendSQLite {
			return fmt.Errorf("backup requires a known store backend")
		}
		if c.Backup.Schedule == "" {
			return fmt.Errorf("backup.schedule is required when backups are enabled")
		}
		if c.Backup.Keep == 0 {
			return fmt.Errorf("backup.keep must be positive when backups are enabled")
		}
	}

	return nil
}
