package config

import (
	"os"
	"strconv"
	"strings"

	"causalfix/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Run      RunConfig
	Fit      FitConfig
	Training TrainingConfig
	Paths    PathConfig
}

// RunConfig holds settings shared by every stage of a run
type RunConfig struct {
	Seed     int64
	Samples  int
	Target   string
	Workers  int
	LogLevel string
}

// FitConfig holds settings for learning the SEM's per-vertex networks
type FitConfig struct {
	Hidden       []int
	Activation   string
	Epochs       int
	BatchSize    int
	LearningRate float64
}

// TrainingConfig holds settings for the correction retraining
type TrainingConfig struct {
	BatchSize    int
	Epochs       int
	Biases       bool
	Axis         string
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// PathConfig holds file system paths
type PathConfig struct {
	Definition string
	Spec       string
	Data       string
	Output     string
}

// Load reads configuration from environment variables. Only malformed lists
// fail here; range checks are left to Validate so callers can apply
// overrides first.
func Load() (*Config, error) {
	hidden, err := parseIntList(getEnvOrDefault("CAUSALFIX_HIDDEN", "16"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load fit configuration")
	}

	config := &Config{
		Run: RunConfig{
			Seed:     getEnvInt64OrDefault("CAUSALFIX_SEED", 42),
			Samples:  getEnvIntOrDefault("CAUSALFIX_SAMPLES", 1000),
			Target:   getEnvOrDefault("CAUSALFIX_TARGET", "Y"),
			Workers:  getEnvIntOrDefault("CAUSALFIX_WORKERS", 4),
			LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
		},
		Fit: FitConfig{
			Hidden:       hidden,
			Activation:   getEnvOrDefault("CAUSALFIX_ACTIVATION", "relu"),
			Epochs:       getEnvIntOrDefault("CAUSALFIX_FIT_EPOCHS", 100),
			BatchSize:    getEnvIntOrDefault("CAUSALFIX_FIT_BATCH_SIZE", 64),
			LearningRate: getEnvFloatOrDefault("CAUSALFIX_FIT_LEARNING_RATE", 1e-2),
		},
		Training: TrainingConfig{
			BatchSize:    getEnvIntOrDefault("CAUSALFIX_BATCH_SIZE", 32),
			Epochs:       getEnvIntOrDefault("CAUSALFIX_EPOCHS", 50),
			Biases:       getEnvBoolOrDefault("CAUSALFIX_BIASES", false),
			Axis:         getEnvOrDefault("CAUSALFIX_VARIANCE_AXIS", "interventions"),
			LearningRate: getEnvFloatOrDefault("CAUSALFIX_LEARNING_RATE", 1e-3),
			Beta1:        getEnvFloatOrDefault("CAUSALFIX_BETA1", 0.9),
			Beta2:        getEnvFloatOrDefault("CAUSALFIX_BETA2", 0.999),
			Epsilon:      getEnvFloatOrDefault("CAUSALFIX_EPSILON", 1e-8),
			WeightDecay:  getEnvFloatOrDefault("CAUSALFIX_WEIGHT_DECAY", 0),
		},
		Paths: PathConfig{
			Definition: getEnvOrDefault("CAUSALFIX_DEFINITION", ""),
			Spec:       getEnvOrDefault("CAUSALFIX_SPEC", ""),
			Data:       getEnvOrDefault("CAUSALFIX_DATA", ""),
			Output:     getEnvOrDefault("CAUSALFIX_OUTPUT", ""),
		},
	}

	return config, nil
}

// Validate checks ranges of every numeric setting
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	return nil
}

func (c *Config) validate() error {
	if c.Run.Samples < 2 {
		return errors.ConfigInvalid("sample size must be at least 2")
	}
	if c.Run.Workers < 1 {
		return errors.ConfigInvalid("workers must be positive")
	}
	if strings.TrimSpace(c.Run.Target) == "" {
		return errors.ConfigInvalid("target vertex is required")
	}
	for _, h := range c.Fit.Hidden {
		if h < 1 {
			return errors.ConfigInvalid("hidden layer widths must be positive")
		}
	}
	if c.Fit.Epochs < 0 || c.Training.Epochs < 0 {
		return errors.ConfigInvalid("epochs cannot be negative")
	}
	if c.Fit.BatchSize < 1 || c.Training.BatchSize < 1 {
		return errors.ConfigInvalid("batch size must be positive")
	}
	if c.Fit.LearningRate <= 0 || c.Training.LearningRate <= 0 {
		return errors.ConfigInvalid("learning rate must be positive")
	}
	if c.Training.Beta1 < 0 || c.Training.Beta1 >= 1 || c.Training.Beta2 < 0 || c.Training.Beta2 >= 1 {
		return errors.ConfigInvalid("adam betas must be in [0, 1)")
	}
	if c.Training.Axis != "interventions" && c.Training.Axis != "rows" {
		return errors.ConfigInvalid("variance axis must be interventions or rows")
	}
	if c.Training.WeightDecay < 0 {
		return errors.ConfigInvalid("weight decay cannot be negative")
	}
	return nil
}

func parseIntList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.ConfigInvalid("invalid integer list: " + s)
		}
		out = append(out, v)
	}
	return out, nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
