package core

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrorTolerance controls whether a failed node aborts the owning workflow
// (§9 Open Question 1). Decided explicitly: "medium" is the default and
// means the workflow continues past any non-critical-path node failure,
// matching the behaviour exercised by scenario S2.
type ErrorTolerance string

const (
	ErrorToleranceLow    ErrorTolerance = "low"
	ErrorToleranceMedium ErrorTolerance = "medium"
	ErrorToleranceHigh   ErrorTolerance = "high"
)

// EngineConfig carries the environment/config options enumerated in §6.
type EngineConfig struct {
	ParallelExecution          bool           `yaml:"parallel_execution" env:"FLEET_PARALLEL_EXECUTION" envDefault:"true"`
	ErrorTolerance             ErrorTolerance `yaml:"error_tolerance" env:"FLEET_ERROR_TOLERANCE" envDefault:"medium"`
	RetryFailedNodes           bool           `yaml:"retry_failed_nodes" env:"FLEET_RETRY_FAILED_NODES" envDefault:"false"`
	HeartbeatInterval          time.Duration  `yaml:"heartbeat_interval" env:"FLEET_HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTimeout           time.Duration  `yaml:"heartbeat_timeout" env:"FLEET_HEARTBEAT_TIMEOUT" envDefault:"60s"`
	WorkflowCleanupMaxAgeHours int            `yaml:"workflow_cleanup_max_age_hours" env:"FLEET_WORKFLOW_CLEANUP_MAX_AGE_HOURS" envDefault:"72"`
	MaxParallelNodes           int            `yaml:"max_parallel_nodes" env:"FLEET_MAX_PARALLEL_NODES" envDefault:"8"`
}

// DefaultEngineConfig returns the documented defaults from §6/§9.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ParallelExecution:          true,
		ErrorTolerance:             ErrorToleranceMedium,
		RetryFailedNodes:           false,
		HeartbeatInterval:          30 * time.Second,
		HeartbeatTimeout:           60 * time.Second,
		WorkflowCleanupMaxAgeHours: 72,
		MaxParallelNodes:           8,
	}
}

// Validate rejects configuration that would make the engine misbehave.
func (c EngineConfig) Validate() error {
	switch c.ErrorTolerance {
	case ErrorToleranceLow, ErrorToleranceMedium, ErrorToleranceHigh:
	default:
		return &FrameworkError{Op: "EngineConfig.Validate", Kind: "config", Message: fmt.Sprintf("unknown error_tolerance %q", c.ErrorTolerance), Err: ErrInvalidConfiguration}
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return &FrameworkError{Op: "EngineConfig.Validate", Kind: "config", Message: "heartbeat_timeout must exceed heartbeat_interval", Err: ErrInvalidConfiguration}
	}
	if c.MaxParallelNodes <= 0 {
		return &FrameworkError{Op: "EngineConfig.Validate", Kind: "config", Message: "max_parallel_nodes must be positive", Err: ErrInvalidConfiguration}
	}
	if c.WorkflowCleanupMaxAgeHours <= 0 {
		return &FrameworkError{Op: "EngineConfig.Validate", Kind: "config", Message: "workflow_cleanup_max_age_hours must be positive", Err: ErrInvalidConfiguration}
	}
	return nil
}

// ServiceResilienceConfig carries the per-service resilience tuning
// enumerated in §6 (rate limiter, circuit breaker, retry all share one
// config block, matching the source's per-service dict).
type ServiceResilienceConfig struct {
	Name string `yaml:"name" env:"-"`

	// Circuit breaker (C5)
	FailureThreshold int           `yaml:"failure_threshold" envDefault:"5"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" envDefault:"30s"`
	SuccessThreshold int           `yaml:"success_threshold" envDefault:"2"`
	CallTimeout      time.Duration `yaml:"timeout" envDefault:"10s"`

	// Retry engine (C6)
	MaxRetries      int     `yaml:"max_retries" envDefault:"3"`
	BaseDelay       time.Duration `yaml:"base_delay" envDefault:"200ms"`
	MaxDelay        time.Duration `yaml:"max_delay" envDefault:"30s"`
	ExponentialBase float64 `yaml:"exponential_base" envDefault:"2.0"`
	Jitter          bool    `yaml:"jitter" envDefault:"true"`

	// Rate limiter (C4)
	Algorithm          string  `yaml:"algorithm" envDefault:"sliding_window"`
	RequestsPerMinute  int     `yaml:"requests_per_minute" envDefault:"100"`
	BurstCapacity      int     `yaml:"burst_capacity" envDefault:"20"`
	RefillRate         float64 `yaml:"refill_rate" envDefault:"1.0"`
	AdaptiveThreshold  float64 `yaml:"adaptive_threshold" envDefault:"0.8"`
	BackoffFactor      float64 `yaml:"backoff_factor" envDefault:"0.5"`
	RecoveryFactor     float64 `yaml:"recovery_factor" envDefault:"1.1"`
	WindowSize         time.Duration `yaml:"window_size" envDefault:"60s"`

	// Failover (C10)
	CooldownSeconds int `yaml:"cooldown_seconds" envDefault:"300"`
}

// DefaultServiceResilienceConfig returns the §6-documented defaults for a
// named service.
func DefaultServiceResilienceConfig(name string) ServiceResilienceConfig {
	return ServiceResilienceConfig{
		Name:              name,
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		SuccessThreshold:  2,
		CallTimeout:       10 * time.Second,
		MaxRetries:        3,
		BaseDelay:         200 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		ExponentialBase:   2.0,
		Jitter:            true,
		Algorithm:         "sliding_window",
		RequestsPerMinute: 100,
		BurstCapacity:     20,
		RefillRate:        1.0,
		AdaptiveThreshold: 0.8,
		BackoffFactor:     0.5,
		RecoveryFactor:    1.1,
		WindowSize:        60 * time.Second,
		CooldownSeconds:   300,
	}
}

// Validate rejects nonsensical per-service resilience tuning.
func (c ServiceResilienceConfig) Validate() error {
	if c.Name == "" {
		return &FrameworkError{Op: "ServiceResilienceConfig.Validate", Kind: "config", Message: "name is required", Err: ErrMissingConfiguration}
	}
	if c.FailureThreshold <= 0 || c.SuccessThreshold <= 0 {
		return &FrameworkError{Op: "ServiceResilienceConfig.Validate", Kind: "config", ID: c.Name, Message: "failure_threshold and success_threshold must be positive", Err: ErrInvalidConfiguration}
	}
	if c.MaxRetries < 0 {
		return &FrameworkError{Op: "ServiceResilienceConfig.Validate", Kind: "config", ID: c.Name, Message: "max_retries cannot be negative", Err: ErrInvalidConfiguration}
	}
	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return &FrameworkError{Op: "ServiceResilienceConfig.Validate", Kind: "config", ID: c.Name, Message: "base_delay must be positive and max_delay must not be smaller", Err: ErrInvalidConfiguration}
	}
	if c.ExponentialBase <= 1.0 {
		return &FrameworkError{Op: "ServiceResilienceConfig.Validate", Kind: "config", ID: c.Name, Message: "exponential_base must exceed 1.0", Err: ErrInvalidConfiguration}
	}
	if c.RequestsPerMinute <= 0 || c.BurstCapacity <= 0 {
		return &FrameworkError{Op: "ServiceResilienceConfig.Validate", Kind: "config", ID: c.Name, Message: "requests_per_minute and burst_capacity must be positive", Err: ErrInvalidConfiguration}
	}
	if c.AdaptiveThreshold <= 0 || c.AdaptiveThreshold >= 1 {
		return &FrameworkError{Op: "ServiceResilienceConfig.Validate", Kind: "config", ID: c.Name, Message: "adaptive_threshold must be in (0,1)", Err: ErrInvalidConfiguration}
	}
	if c.CooldownSeconds <= 0 {
		return &FrameworkError{Op: "ServiceResilienceConfig.Validate", Kind: "config", ID: c.Name, Message: "cooldown_seconds must be positive", Err: ErrInvalidConfiguration}
	}
	return nil
}

// LoadYAMLStrict decodes YAML into dst, rejecting unknown fields rather than
// silently ignoring them (§9 design note on heterogeneous config dicts).
func LoadYAMLStrict(data []byte, dst interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		return &FrameworkError{Op: "LoadYAMLStrict", Kind: "config", Err: fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)}
	}
	return nil
}

// LoadDotEnv loads a local .env file if present; a missing file is not an
// error, matching godotenv.Load's typical optional-file use in the pack.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return &FrameworkError{Op: "LoadDotEnv", Kind: "config", Err: err}
	}
	return nil
}

// ParseEnv decodes typed environment variables into dst using struct tags,
// matching the `env` package convention used elsewhere in the pack.
func ParseEnv(dst interface{}) error {
	if err := env.Parse(dst); err != nil {
		return &FrameworkError{Op: "ParseEnv", Kind: "config", Err: fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)}
	}
	return nil
}
