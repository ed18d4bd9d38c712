// loader.go implements the configuration loading lifecycle for the glow worker.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator.
//  6. Run the cross-field checks validator tags cannot express.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"chromasky/internal/types"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// localEnv is the APP_ENV value that reads jobs from stdin.
const localEnv = "local"

// LoadConfig loads and validates the glow worker configuration.
func LoadConfig() (*Config, error) {
	// Step 1: Enforce UTC timezone to prevent drift bugs.
	time.Local = time.UTC

	// Step 2: Load .env file (non-fatal if absent). It does NOT override
	// existing environment variables.
	_ = godotenv.Load()

	// Step 3: Process envconfig tags. The empty prefix means envconfig uses
	// the exact tag values.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 4: Populate build metadata from linker-injected variables.
	cfg.Build = NewBuildInfo()

	// Step 5: Validate the populated struct.
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	// Step 6: Cross-field rules.
	if err := cfg.validateCrossField(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validateCrossField() error {
	invalid := func(msg string, err error) error {
		return &ConfigError{Type: ErrValidation, Message: msg, Err: err}
	}

	if c.Region.North <= c.Region.South {
		return invalid(fmt.Sprintf("REGION_NORTH (%v) must be greater than REGION_SOUTH (%v)",
			c.Region.North, c.Region.South), nil)
	}
	if c.Region.East <= c.Region.West {
		return invalid(fmt.Sprintf("REGION_EAST (%v) must be greater than REGION_WEST (%v)",
			c.Region.East, c.Region.West), nil)
	}
	if c.Glow.StepKm > c.Glow.MaxDistanceKm {
		return invalid(fmt.Sprintf("GLOW_STEP_KM (%v) must not exceed GLOW_MAX_DISTANCE_KM (%v)",
			c.Glow.StepKm, c.Glow.MaxDistanceKm), nil)
	}
	if c.Glow.OptimalDistanceKm >= c.Glow.MaxDistanceKm {
		return invalid(fmt.Sprintf("GLOW_OPTIMAL_DISTANCE_KM (%v) must be less than GLOW_MAX_DISTANCE_KM (%v)",
			c.Glow.OptimalDistanceKm, c.Glow.MaxDistanceKm), nil)
	}
	if _, err := types.ParseFactors(c.Glow.Factors); err != nil {
		return invalid("GLOW_FACTORS is invalid", err)
	}
	if _, err := time.LoadLocation(c.Events.LocalTZ); err != nil {
		return invalid(fmt.Sprintf("LOCAL_TZ %q is not a known time zone", c.Events.LocalTZ), err)
	}
	return nil
}

// Location returns the zone event intentions are expanded in. LoadConfig has
// already verified that it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Events.LocalTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EventWindow returns the event mask window.
func (c *Config) EventWindow() time.Duration {
	return time.Duration(c.Events.WindowMinutes) * time.Minute
}
