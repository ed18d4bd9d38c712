// Package config defines the configuration of the glow worker. Configuration
// is loaded once at process start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> struct defaults (Lowest)
//
// Any invalid value causes startup to fail fast.
package config

// Config is the top-level configuration struct for the glow worker.
// Sub-components receive only the config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Storage       StorageConfig
	Events        EventConfig
	Region        RegionConfig
	Glow          GlowConfig
	Observability ObservabilityConfig
	AWS           AWSConfig

	WorkerCount int `envconfig:"WORKER_COUNT" default:"0" validate:"min=0"`

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// StorageConfig locates the input and output field stores.
type StorageConfig struct {
	InputDir  string `envconfig:"INPUT_DIR" default:"data/processed" validate:"required"`
	OutputDir string `envconfig:"OUTPUT_DIR" default:"data/glow" validate:"required"`
}

// EventConfig controls how event intentions become target instants.
type EventConfig struct {
	LocalTZ       string   `envconfig:"LOCAL_TZ" default:"Asia/Shanghai" validate:"required"`
	Intents       []string `envconfig:"EVENT_INTENTS" default:"today_sunset,tomorrow_sunrise"`
	SunriseTimes  []string `envconfig:"SUNRISE_TIMES" default:"05:00,06:00,07:00"`
	SunsetTimes   []string `envconfig:"SUNSET_TIMES" default:"18:00,19:00,20:00"`
	WindowMinutes int      `envconfig:"EVENT_WINDOW_MINUTES" default:"30" validate:"min=0,max=720"`
}

// RegionConfig is the calculation region in degrees.
type RegionConfig struct {
	North float64 `envconfig:"REGION_NORTH" default:"42" validate:"min=-90,max=90"`
	South float64 `envconfig:"REGION_SOUTH" default:"16" validate:"min=-90,max=90"`
	West  float64 `envconfig:"REGION_WEST" default:"104" validate:"min=-360,max=360"`
	East  float64 `envconfig:"REGION_EAST" default:"130" validate:"min=-360,max=360"`
}

// GlowConfig holds the scoring model parameters.
type GlowConfig struct {
	Factors []string `envconfig:"GLOW_FACTORS" default:"boundary,hcc,mcc,lcc,aod550"`

	WeightBoundary float64 `envconfig:"GLOW_WEIGHT_BOUNDARY" default:"0.5" validate:"min=0"`
	WeightHCC      float64 `envconfig:"GLOW_WEIGHT_HCC" default:"0.3" validate:"min=0"`
	WeightMCC      float64 `envconfig:"GLOW_WEIGHT_MCC" default:"0.2" validate:"min=0"`

	StepKm            float64 `envconfig:"GLOW_STEP_KM" default:"10" validate:"gt=0"`
	MaxDistanceKm     float64 `envconfig:"GLOW_MAX_DISTANCE_KM" default:"400" validate:"gt=0"`
	OptimalDistanceKm float64 `envconfig:"GLOW_OPTIMAL_DISTANCE_KM" default:"350" validate:"gt=0"`
	ClearThreshold    float64 `envconfig:"GLOW_CLEAR_THRESHOLD" default:"0.1" validate:"min=0,max=1"`
}

// ObservabilityConfig holds telemetry settings. Empty values disable the
// corresponding sink.
type ObservabilityConfig struct {
	MetricsAddr     string `envconfig:"METRICS_ADDR"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region         string `envconfig:"AWS_REGION" default:"us-east-1"`
	ResultQueueURL string `envconfig:"RESULT_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

// IsLocal reports whether the worker runs outside Lambda.
func (c *Config) IsLocal() bool { return c.Environment == localEnv }
