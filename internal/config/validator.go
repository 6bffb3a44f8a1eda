package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/harun/multichat/pkg/model"
	"github.com/harun/multichat/pkg/session"
)

var regionPattern = regexp.MustCompile(`^[a-z]{2}(-gov)?-[a-z]+-\d$`)

// Validator validates individual configuration values.
// It backs the configure wizard and reports advisory problems that
// struct validation does not catch.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates a model provider name
func (v *Validator) ValidateProvider(provider string) error {
	valid := []string{model.ProviderBedrock, model.ProviderAnthropic, model.ProviderOpenAI}
	for _, p := range valid {
		if provider == p {
			return nil
		}
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s)", provider, strings.Join(valid, ", "))
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case model.ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case model.ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateRegion validates an AWS region name
func (v *Validator) ValidateRegion(region string) error {
	if !regionPattern.MatchString(region) {
		return fmt.Errorf("invalid AWS region: %q", region)
	}
	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateBackend validates a session store backend
func (v *Validator) ValidateBackend(backend string) error {
	if backend != session.BackendJSON && backend != session.BackendSQLite {
		return fmt.Errorf("invalid store backend: %s (must be one of: %s, %s)", backend, session.BackendJSON, session.BackendSQLite)
	}
	return nil
}

// ValidateSchedule validates a five-field cron expression
func (v *Validator) ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateProvider(cfg.Model.Provider); err != nil {
		errors = append(errors, err)
	}
	switch cfg.Model.Provider {
	case model.ProviderBedrock:
		if err := v.ValidateRegion(cfg.Model.Region); err != nil {
			errors = append(errors, err)
		}
	case model.ProviderAnthropic, model.ProviderOpenAI:
		if key := cfg.ProviderConfig().APIKey; key != "" {
			if err := v.ValidateAPIKey(key, cfg.Model.Provider); err != nil {
				errors = append(errors, err)
			}
		} else {
			errors = append(errors, fmt.Errorf("no API key configured for provider %s", cfg.Model.Provider))
		}
	}

	if err := v.ValidateModel(cfg.Model.Model); err != nil {
		errors = append(errors, err)
	}
	if cfg.Model.Temperature != 0 {
		if err := v.ValidateTemperature(cfg.Model.Temperature); err != nil {
			errors = append(errors, err)
		}
	}
	if err := v.ValidateMaxTokens(cfg.Model.MaxTokens); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateBackend(cfg.Store.Backend); err != nil {
		errors = append(errors, err)
	}
	if cfg.Backup.Enabled {
		if err := v.ValidateSchedule(cfg.Backup.Schedule); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
