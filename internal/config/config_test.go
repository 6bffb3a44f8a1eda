package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/multichat/pkg/model"
	"github.com/harun/multichat/pkg/session"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "127.0.0.1:8501", cfg.Server.Addr)
	assert.Zero(t, cfg.Server.ModelTimeoutSeconds)
	assert.Equal(t, session.BackendJSON, cfg.Store.Backend)
	assert.Equal(t, model.ProviderBedrock, cfg.Model.Provider)
	assert.Equal(t, model.DefaultRegion, cfg.Model.Region)
	assert.Equal(t, model.DefaultModel, cfg.Model.Model)
	assert.Equal(t, 10000, cfg.Model.MaxTokens)
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.NoError(t, cfg.Validate())
}

func TestApplyDefaultPaths(t *testing.T) {
	t.Run("json backend", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = t.TempDir()
		require.NoError(t, cfg.ApplyDefaultPaths())

		assert.Equal(t, filepath.Join(cfg.DataDir, "sessions.json"), cfg.Store.Path)
		assert.Equal(t, filepath.Join(cfg.DataDir, "backups"), cfg.Backup.Dir)
		assert.Equal(t, filepath.Join(cfg.DataDir, "multichat.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(cfg.DataDir, "audit.log"), cfg.Audit.Path)
	})

	t.Run("sqlite backend", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = t.TempDir()
		cfg.Store.Backend = session.BackendSQLite
		require.NoError(t, cfg.ApplyDefaultPaths())
		assert.Equal(t, filepath.Join(cfg.DataDir, "sessions.db"), cfg.Store.Path)
	})

	t.Run("explicit paths kept", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = "/data"
		cfg.Store.Path = "/elsewhere/s.json"
		require.NoError(t, cfg.ApplyDefaultPaths())
		assert.Equal(t, "/elsewhere/s.json", cfg.Store.Path)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "openai provider", mutate: func(c *Config) { c.Model.Provider = model.ProviderOpenAI }},
		{name: "unknown provider", mutate: func(c *Config) { c.Model.Provider = "gemini" }, wantErr: "config.model.provider"},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "redis" }, wantErr: "config.store.backend"},
		{name: "zero max tokens", mutate: func(c *Config) { c.Model.MaxTokens = 0 }, wantErr: "config.model.maxtokens"},
		{name: "bad temperature", mutate: func(c *Config) { c.Model.Temperature = 3 }, wantErr: "config.model.temperature"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "config.logging.level"},
		{name: "bad addr", mutate: func(c *Config) { c.Server.Addr = "nope" }, wantErr: "config.server.addr"},
		{name: "bad base url", mutate: func(c *Config) { c.Model.BaseURL = "::" }, wantErr: "config.model.baseurl"},
		{name: "bedrock without region", mutate: func(c *Config) { c.Model.Region = "" }, wantErr: "model.region"},
		{name: "backup without keep", mutate: func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Keep = 0
		}, wantErr: "backup.keep"},
		{name: "backup without schedule", mutate: func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Schedule = ""
		}, wantErr: "backup.schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestModelOptionsAndProviderConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Temperature = 0.3
	cfg.Model.SystemPrompt = "be brief"

	opts := cfg.ModelOptions()
	assert.Equal(t, model.DefaultModel, opts.Model)
	assert.Equal(t, 10000, opts.MaxTokens)
	assert.Equal(t, 0.3, opts.Temperature)
	assert.Equal(t, "be brief", opts.SystemPrompt)

	pc := cfg.ProviderConfig()
	assert.Equal(t, model.ProviderBedrock, pc.Name)
	assert.Equal(t, model.DefaultRegion, pc.Region)
}

func TestProviderConfigFallsBackToEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")
	t.Setenv("OPENAI_API_KEY", "sk-openai-env")

	cfg := DefaultConfig()
	cfg.Model.Provider = model.ProviderAnthropic
	assert.Equal(t, "sk-ant-from-env", cfg.ProviderConfig().APIKey)

	cfg.Model.Provider = model.ProviderOpenAI
	assert.Equal(t, "sk-openai-env", cfg.ProviderConfig().APIKey)

	cfg.Model.APIKey = "sk-explicit"
	assert.Equal(t, "sk-explicit", cfg.ProviderConfig().APIKey)
}

func TestConfigString(t *testing.T) {
	s := DefaultConfig().String()
	assert.Contains(t, s, `"provider": "bedrock"`)
	assert.Contains(t, s, `"backend": "json"`)
}
