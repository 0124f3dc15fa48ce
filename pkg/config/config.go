// Package config holds the settings of the ohlcvshm producer and readers.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/yaml.v3"

	"github.com/srediag/ohlcv-shm/pkg/shm"
)

const envPrefix = "OHLCV_SHM_"

// Config is the settings of a producer and the readers it serves.
type Config struct {
	// SegmentDir is where segments are created; it must be on a tmpfs to
	// be shared memory.
	SegmentDir    string `yaml:"segment_dir"`
	SegmentPrefix string `yaml:"segment_prefix"`
	// Validate makes producers and readers check the symbol index.
	Validate    bool        `yaml:"validate"`
	LogLevel    int         `yaml:"log_level"`
	AdminAddr   string      `yaml:"admin_addr"`
	HandleFile  string      `yaml:"handle_file"`
	Readers     int         `yaml:"readers"`
	ScanWorkers int         `yaml:"scan_workers"`
	AttachRetry RetryConfig `yaml:"attach_retry"`
}

// RetryConfig bounds how long a reader waits for a handle to be published.
type RetryConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

// BackOff returns an exponential backoff with these bounds.
func (r RetryConfig) BackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Initial
	b.MaxInterval = r.Max
	b.MaxElapsedTime = r.MaxElapsed
	b.Reset()
	return b
}

// DefaultConfig returns the default config.
func DefaultConfig() *Config {
	return &Config{
		SegmentDir:    "/dev/shm",
		SegmentPrefix: shm.DefaultPrefix,
		LogLevel:      shm.LevelWarn,
		AdminAddr:     "127.0.0.1:8089",
		Readers:       0,
		ScanWorkers:   4,
		AttachRetry: RetryConfig{
			Initial:    50 * time.Millisecond,
			Max:        time.Second,
			MaxElapsed: 30 * time.Second,
		},
	}
}

// Load reads path over the defaults and applies OHLCV_SHM_* environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	str("SEGMENT_DIR", &cfg.SegmentDir)
	str("SEGMENT_PREFIX", &cfg.SegmentPrefix)
	str("ADMIN_ADDR", &cfg.AdminAddr)
	str("HANDLE_FILE", &cfg.HandleFile)
	num("LOG_LEVEL", &cfg.LogLevel)
	num("READERS", &cfg.Readers)
	num("SCAN_WORKERS", &cfg.ScanWorkers)
	if v, ok := os.LookupEnv(envPrefix + "VALIDATE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sVALIDATE: %w", envPrefix, err))
		} else {
			cfg.Validate = b
		}
	}
	return errors.Join(errs...)
}

// VerifyConfig is used to check the config.
func VerifyConfig(cfg *Config) error {
	if cfg.SegmentDir == "" {
		return errors.New("segment_dir must not be empty")
	}
	if cfg.SegmentPrefix == "" || strings.ContainsAny(cfg.SegmentPrefix, `/\`) {
		return fmt.Errorf("segment_prefix %q must be a non-empty plain name", cfg.SegmentPrefix)
	}
	if cfg.LogLevel < shm.LevelTrace || cfg.LogLevel > shm.LevelNoPrint {
		return fmt.Errorf("log_level %d out of range [%d,%d]", cfg.LogLevel, shm.LevelTrace, shm.LevelNoPrint)
	}
	if cfg.Readers < 0 {
		return fmt.Errorf("readers must be >= 0, got %d", cfg.Readers)
	}
	if cfg.ScanWorkers <= 0 {
		return fmt.Errorf("scan_workers must be > 0, got %d", cfg.ScanWorkers)
	}
	r := cfg.AttachRetry
	if r.Initial <= 0 || r.Max < r.Initial {
		return fmt.Errorf("attach_retry: need 0 < initial <= max, got %s and %s", r.Initial, r.Max)
	}
	if r.MaxElapsed < 0 {
		return fmt.Errorf("attach_retry: max_elapsed must be >= 0, got %s", r.MaxElapsed)
	}
	return nil
}
