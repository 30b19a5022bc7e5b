package orchestrator

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kizashix/devstack/pkg/launch"
)

// Manifest declares the services managed by one orchestration run, in
// dependency order: earlier services must be healthy before later ones are
// launched.
type Manifest struct {
	// Services in launch order
	Services []ServiceManifest `yaml:"services"`

	// Internal: absolute path to the manifest file (populated during load)
	manifestPath string `yaml:"-"`
}

// ServiceManifest declares a single managed service.
type ServiceManifest struct {
	// Name of the service (e.g. "backend", "frontend")
	Name string `yaml:"name"`

	// Command and arguments to run
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// Working directory for the command (relative paths resolve against
	// the manifest location)
	Dir string `yaml:"dir"`

	// TCP port the service binds
	Port int `yaml:"port"`

	// Environment variables for the service process
	Environment map[string]string `yaml:"environment"`

	// Health check configuration; a zero value means no health check and
	// the service is considered healthy immediately after launch
	HealthCheck HealthCheckConfig `yaml:"healthcheck"`
}

// HealthCheckConfig defines health check parameters for one service.
type HealthCheckConfig struct {
	// HTTP path of the health endpoint (e.g. "/health")
	Path string `yaml:"path"`

	// Interval between polling attempts
	Interval time.Duration `yaml:"interval"`

	// Timeout for each health check request
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts bounds the polling loop
	MaxAttempts int `yaml:"max_attempts"`

	// ExpectStatuses lists status codes accepted as healthy
	ExpectStatuses []int `yaml:"expect_statuses"`
}

// Enabled reports whether this service has a health check configured.
func (hc HealthCheckConfig) Enabled() bool {
	return hc.Path != ""
}

// LoadManifest loads and validates a manifest from a YAML file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrInvalidManifest(path, fmt.Errorf("read manifest: %w", err))
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, ErrInvalidManifest(path, fmt.Errorf("parse manifest: %w", err))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, ErrInvalidManifest(path, fmt.Errorf("resolve manifest path: %w", err))
	}
	manifest.manifestPath = absPath

	manifest.ApplyDefaults()

	if err := manifest.Validate(); err != nil {
		return nil, ErrInvalidManifest(path, err)
	}

	return &manifest, nil
}

// ApplyDefaults fills in health check defaults for services that declare a
// health path without the full polling configuration.
func (m *Manifest) ApplyDefaults() {
	for i := range m.Services {
		hc := &m.Services[i].HealthCheck
		if !hc.Enabled() {
			continue
		}
		if hc.Interval == 0 {
			hc.Interval = 2 * time.Second
		}
		if hc.Timeout == 0 {
			hc.Timeout = 5 * time.Second
		}
		if hc.MaxAttempts == 0 {
			hc.MaxAttempts = 30
		}
		if len(hc.ExpectStatuses) == 0 {
			hc.ExpectStatuses = []int{http.StatusOK}
		}
	}
}

// Validate checks manifest invariants: every service needs a name, a
// command, and a distinct valid port.
func (m *Manifest) Validate() error {
	if len(m.Services) == 0 {
		return fmt.Errorf("manifest declares no services")
	}

	names := make(map[string]bool, len(m.Services))
	ports := make(map[int]string, len(m.Services))

	for _, svc := range m.Services {
		if svc.Name == "" {
			return fmt.Errorf("service missing name")
		}
		if names[svc.Name] {
			return fmt.Errorf("duplicate service name: %s", svc.Name)
		}
		names[svc.Name] = true

		if svc.Command == "" {
			return fmt.Errorf("service %s: missing command", svc.Name)
		}

		if svc.Port < 1 || svc.Port > 65535 {
			return fmt.Errorf("service %s: invalid port %d", svc.Name, svc.Port)
		}
		if owner, dup := ports[svc.Port]; dup {
			return fmt.Errorf("service %s: port %d already used by %s", svc.Name, svc.Port, owner)
		}
		ports[svc.Port] = svc.Name

		hc := svc.HealthCheck
		if hc.Enabled() {
			if hc.Interval <= 0 {
				return fmt.Errorf("service %s: health interval must be positive", svc.Name)
			}
			if hc.MaxAttempts <= 0 {
				return fmt.Errorf("service %s: health max_attempts must be positive", svc.Name)
			}
		}
	}

	return nil
}

// Specs converts the manifest into launch specs, resolving working
// directories against the manifest location and composing health URLs.
func (m *Manifest) Specs() []launch.ServiceSpec {
	specs := make([]launch.ServiceSpec, 0, len(m.Services))

	for _, svc := range m.Services {
		dir := svc.Dir
		if dir != "" && !filepath.IsAbs(dir) && m.manifestPath != "" {
			dir = filepath.Join(filepath.Dir(m.manifestPath), dir)
		}

		healthURL := ""
		if svc.HealthCheck.Enabled() {
			healthURL = fmt.Sprintf("http://localhost:%d%s", svc.Port, svc.HealthCheck.Path)
		}

		specs = append(specs, launch.ServiceSpec{
			Name:      svc.Name,
			Command:   svc.Command,
			Args:      svc.Args,
			Dir:       dir,
			Env:       svc.Environment,
			Port:      svc.Port,
			HealthURL: healthURL,
		})
	}

	return specs
}

// Select returns a manifest restricted to the named services, preserving
// declared order. Unknown names are ignored. Used by --backend-only and
// --frontend-only style selection.
func (m *Manifest) Select(names ...string) *Manifest {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	selected := &Manifest{manifestPath: m.manifestPath}
	for _, svc := range m.Services {
		if want[svc.Name] {
			selected.Services = append(selected.Services, svc)
		}
	}
	return selected
}

// HealthCheckFor returns the health configuration for the named service.
func (m *Manifest) HealthCheckFor(name string) (HealthCheckConfig, bool) {
	for _, svc := range m.Services {
		if svc.Name == name {
			return svc.HealthCheck, svc.HealthCheck.Enabled()
		}
	}
	return HealthCheckConfig{}, false
}
