// Package config manages devstack configuration
package config

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/kizashix/devstack/pkg/orchestrator"
)

// Config holds the devstack configuration
type Config struct {
	Backend  ServiceConfig `mapstructure:"backend"`
	Frontend ServiceConfig `mapstructure:"frontend"`

	// ConflictPolicy decides how occupied ports are handled: auto, prompt,
	// or fail
	ConflictPolicy string `mapstructure:"conflict_policy"`

	// SkipChecks disables port probing before launch
	SkipChecks bool `mapstructure:"skip_checks"`

	// Manifest optionally points at a YAML service manifest that replaces
	// the backend/frontend sections entirely
	Manifest string `mapstructure:"manifest"`
}

// ServiceConfig describes one of the two built-in services
type ServiceConfig struct {
	Port    int      `mapstructure:"port"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Dir     string   `mapstructure:"dir"`

	Health HealthConfig `mapstructure:"health"`
}

// HealthConfig describes a service's health polling parameters
type HealthConfig struct {
	// Path of the HTTP health endpoint; empty disables the check
	Path string `mapstructure:"path"`

	// IntervalSeconds between polling attempts
	IntervalSeconds int `mapstructure:"interval_seconds"`

	// TimeoutSeconds per health request
	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	// MaxAttempts bounds the polling loop
	MaxAttempts int `mapstructure:"max_attempts"`

	// ExpectStatuses lists HTTP status codes accepted as healthy
	ExpectStatuses []int `mapstructure:"expect_statuses"`
}

// Load loads configuration from file, environment, and defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.devstack")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DEVSTACK")
	v.AutomaticEnv()

	setDefaults(v)

	// Missing config file is fine: defaults describe a stock checkout.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("conflict_policy", "prompt")
	v.SetDefault("skip_checks", false)

	v.SetDefault("backend.port", 8080)
	v.SetDefault("backend.command", "uvicorn")
	v.SetDefault("backend.dir", "./backend")
	v.SetDefault("backend.health.path", "/health")
	v.SetDefault("backend.health.interval_seconds", 2)
	v.SetDefault("backend.health.timeout_seconds", 5)
	v.SetDefault("backend.health.max_attempts", 30)
	v.SetDefault("backend.health.expect_statuses", []int{http.StatusOK})

	v.SetDefault("frontend.port", 5173)
	v.SetDefault("frontend.command", "npm")
	v.SetDefault("frontend.dir", ".")
	v.SetDefault("frontend.health.path", "/")
	v.SetDefault("frontend.health.interval_seconds", 2)
	v.SetDefault("frontend.health.timeout_seconds", 5)
	v.SetDefault("frontend.health.max_attempts", 30)
	v.SetDefault("frontend.health.expect_statuses", []int{http.StatusOK})
}

// ToManifest converts the backend/frontend sections into an orchestration
// manifest, backend first. Default command lines are derived from the
// configured ports so a port override does not desynchronize the args.
func (c *Config) ToManifest() (*orchestrator.Manifest, error) {
	backend := c.Backend.toService("backend")
	if len(backend.Args) == 0 && backend.Command == "uvicorn" {
		backend.Args = []string{
			"open_webui.main:app",
			"--host", "127.0.0.1",
			"--port", fmt.Sprintf("%d", backend.Port),
		}
	}

	frontend := c.Frontend.toService("frontend")
	if len(frontend.Args) == 0 && frontend.Command == "npm" {
		frontend.Args = []string{"run", "dev", "--", "--port", fmt.Sprintf("%d", frontend.Port)}
	}

	m := &orchestrator.Manifest{
		Services: []orchestrator.ServiceManifest{backend, frontend},
	}
	m.ApplyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (s ServiceConfig) toService(name string) orchestrator.ServiceManifest {
	svc := orchestrator.ServiceManifest{
		Name:    name,
		Command: s.Command,
		Args:    s.Args,
		Dir:     s.Dir,
		Port:    s.Port,
	}

	if s.Health.Path != "" {
		svc.HealthCheck = orchestrator.HealthCheckConfig{
			Path:           s.Health.Path,
			Interval:       time.Duration(s.Health.IntervalSeconds) * time.Second,
			Timeout:        time.Duration(s.Health.TimeoutSeconds) * time.Second,
			MaxAttempts:    s.Health.MaxAttempts,
			ExpectStatuses: s.Health.ExpectStatuses,
		}
	}

	return svc
}
