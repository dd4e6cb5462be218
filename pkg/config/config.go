// Package config handles configuration for axrunner.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/axrunner/pkg/cache"
	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/dispatch"
	"github.com/devicelab-dev/axrunner/pkg/matcher"
	"github.com/devicelab-dev/axrunner/pkg/prefetch"
	"github.com/devicelab-dev/axrunner/pkg/recovery"
	"github.com/devicelab-dev/axrunner/pkg/recovery/redisstore"
	"github.com/devicelab-dev/axrunner/pkg/walker"
)

// FileNames are the workspace config files LoadFromDir looks for, in order.
var FileNames = []string{"axrunner.yaml", "axrunner.yml"}

// Config represents the workspace configuration (axrunner.yaml).
type Config struct {
	// Flow selection
	Flows       []string `yaml:"flows"`       // Flow files or directories
	IncludeTags []string `yaml:"includeTags"` // Tags to include
	ExcludeTags []string `yaml:"excludeTags"` // Tags to exclude

	// Target
	App      string `yaml:"app"`      // Default application
	Snapshot string `yaml:"snapshot"` // Snapshot file or directory served as the accessibility tree

	// Roles maps extra native role identifiers to semantic roles.
	Roles map[string]string `yaml:"roles"`

	Matcher   matcher.Config  `yaml:"matcher"`
	Walker    walker.Config   `yaml:"walker"`
	Extractor cache.Config    `yaml:"extractor"`
	Recovery  recovery.Config `yaml:"recovery"`
	Dispatch  dispatch.Config `yaml:"dispatch"`
	Prefetch  Prefetch        `yaml:"prefetch"`
	Telemetry Telemetry       `yaml:"telemetry"`
	Redis     Redis           `yaml:"redis"`
}

// Prefetch enables background tree prefetch and command warming.
type Prefetch struct {
	Enabled         bool `yaml:"enabled"`
	prefetch.Config `yaml:",inline"`
}

// Telemetry selects telemetry sinks.
type Telemetry struct {
	Log         bool   `yaml:"log"`          // Log every record at debug level
	SQLite      string `yaml:"sqlite"`       // Database path; empty disables
	MetricsAddr string `yaml:"metrics_addr"` // Prometheus listen address; empty disables
	Buffer      int    `yaml:"buffer"`       // Async sink queue size
}

// Redis enables shared recovery history.
type Redis struct {
	Enabled           bool `yaml:"enabled"`
	redisstore.Config `yaml:",inline"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Matcher: matcher.Config{
			Threshold: matcher.DefaultThreshold,
			Timeout:   matcher.DefaultTimeout,
			Cache:     cache.DefaultConfig,
		},
		Walker: walker.Config{
			MaxDepth: walker.DefaultMaxDepth,
			Timeout:  walker.DefaultTimeout,
		},
		Extractor: cache.DefaultConfig,
		Recovery:  recovery.DefaultConfig(),
		Dispatch: dispatch.Config{
			Budget:               dispatch.DefaultBudget,
			AttemptTimeout:       dispatch.DefaultAttemptTimeout,
			AlternativeMaxDepth:  dispatch.DefaultAlternativeMaxDepth,
			AlternativeThreshold: dispatch.DefaultAlternativeThreshold,
			ActionRetries:        dispatch.DefaultActionRetries,
			ActionRetryDelay:     dispatch.DefaultActionRetryDelay,
		},
		Prefetch: Prefetch{
			Config: prefetch.Config{
				Workers: prefetch.DefaultWorkers,
				Queue:   prefetch.DefaultQueue,
				TreeTTL: prefetch.DefaultTreeTTL,
				Rate:    prefetch.DefaultRate,
				Burst:   prefetch.DefaultBurst,
				Timeout: prefetch.DefaultTimeout,
			},
		},
		Redis: Redis{
			Config: redisstore.Config{
				URL: "redis://localhost:6379/0",
				Key: redisstore.DefaultKey,
			},
		},
	}
}

// Load loads configuration from a file. ${VAR} references are expanded from
// the environment and unset fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromDir looks for axrunner.yaml or axrunner.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range FileNames {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return defaults
	return Default(), nil
}

var knownRoles = []core.Role{
	core.RoleButton, core.RoleLink, core.RoleMenuItem, core.RoleCheckbox, core.RoleRadioButton,
	core.RoleTextField, core.RoleTextArea, core.RoleOther, core.RoleUnknown,
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Matcher.Threshold < 0 || c.Matcher.Threshold > 100 {
		errs = append(errs, fmt.Errorf("matcher.threshold must be in [0, 100], got %g", c.Matcher.Threshold))
	}
	if c.Dispatch.Threshold < 0 || c.Dispatch.Threshold > 100 {
		errs = append(errs, fmt.Errorf("dispatch.threshold must be in [0, 100], got %g", c.Dispatch.Threshold))
	}
	if c.Dispatch.AlternativeThreshold < 0 || c.Dispatch.AlternativeThreshold > 100 {
		errs = append(errs, fmt.Errorf("dispatch.alternative_threshold must be in [0, 100], got %g", c.Dispatch.AlternativeThreshold))
	}
	if c.Walker.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("walker.max_depth must be >= 0, got %d", c.Walker.MaxDepth))
	}
	if c.Dispatch.Budget < 0 {
		errs = append(errs, fmt.Errorf("dispatch.budget must be >= 0, got %s", c.Dispatch.Budget))
	}
	if err := c.Recovery.Validate(); err != nil {
		errs = append(errs, err)
	}
	for native, r := range c.Roles {
		if !slices.Contains(knownRoles, core.Role(r)) {
			errs = append(errs, fmt.Errorf("roles.%s: unknown role %q", native, r))
		}
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required when redis is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RoleMapping returns Roles typed for role.WithMapping.
func (c *Config) RoleMapping() map[string]core.Role {
	if len(c.Roles) == 0 {
		return nil
	}
	m := make(map[string]core.Role, len(c.Roles))
	for native, r := range c.Roles {
		m[native] = core.Role(r)
	}
	return m
}
