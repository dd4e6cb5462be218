package recovery

import (
	"errors"
	"fmt"
	"time"
)

// Config controls retry behaviour. It is validated, never clamped.
type Config struct {
	MaxRetries             int           `yaml:"max_retries"`
	BaseDelay              time.Duration `yaml:"base_delay"`
	MaxDelay               time.Duration `yaml:"max_delay"`
	ExponentialBase        float64       `yaml:"exponential_base"`
	JitterFactor           float64       `yaml:"jitter_factor"`
	TimeoutReductionFactor float64       `yaml:"timeout_reduction_factor"`
	MinTimeout             time.Duration `yaml:"min_timeout"`
}

// DefaultConfig returns the recommended settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:             3,
		BaseDelay:              50 * time.Millisecond,
		MaxDelay:               time.Second,
		ExponentialBase:        2,
		JitterFactor:           0.1,
		TimeoutReductionFactor: 0.5,
		MinTimeout:             500 * time.Millisecond,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries))
	}
	if c.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("base_delay must be >= 0, got %s", c.BaseDelay))
	}
	if c.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("max_delay must be >= 0, got %s", c.MaxDelay))
	}
	if c.MaxDelay < c.BaseDelay {
		errs = append(errs, fmt.Errorf("max_delay (%s) must be >= base_delay (%s)", c.MaxDelay, c.BaseDelay))
	}
	if c.ExponentialBase <= 1 {
		errs = append(errs, fmt.Errorf("exponential_base must be > 1, got %g", c.ExponentialBase))
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		errs = append(errs, fmt.Errorf("jitter_factor must be in [0, 1], got %g", c.JitterFactor))
	}
	if c.TimeoutReductionFactor < 0 || c.TimeoutReductionFactor > 1 {
		errs = append(errs, fmt.Errorf("timeout_reduction_factor must be in [0, 1], got %g", c.TimeoutReductionFactor))
	}
	if c.MinTimeout < 0 {
		errs = append(errs, fmt.Errorf("min_timeout must be >= 0, got %s", c.MinTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid recovery config: %w", errors.Join(errs...))
	}
	return nil
}
