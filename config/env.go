package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// Environment variables read at startup. Values set in the process
// environment win over values from the .env file.
const (
	EnvLogLevel   = "SED_LOG_LEVEL"
	EnvLogFormat  = "SED_LOG_FORMAT"
	EnvNumWorkers = "SED_NUM_WORKERS"
)

// Env carries the process-level overrides.
type Env struct {
	LogLevel   string
	LogFormat  string
	NumWorkers int // 0 when unset
}

// LoadEnv loads file into the process environment and reads the overrides.
// An empty file means ".env" in the working directory, which may be absent.
func LoadEnv(file string) (Env, error) {
	if file == "" {
		if _, err := os.Stat(".env"); err == nil {
			file = ".env"
		}
	}
	if file != "" {
		if err := godotenv.Load(file); err != nil {
			return Env{}, errors.Wrapf(err, "load env file %s", file)
		}
	}

	env := Env{
		LogLevel:  strings.TrimSpace(os.Getenv(EnvLogLevel)),
		LogFormat: strings.TrimSpace(os.Getenv(EnvLogFormat)),
	}
	if raw := strings.TrimSpace(os.Getenv(EnvNumWorkers)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Env{}, errors.NewValidationError(EnvNumWorkers, "must be a non-negative integer", raw)
		}
		env.NumWorkers = n
	}
	return env, nil
}

// Apply copies the overrides that belong to the experiment configuration.
func (e Env) Apply(cfg *Config) {
	if e.NumWorkers > 0 {
		cfg.Training.NumWorkers = e.NumWorkers
	}
}
