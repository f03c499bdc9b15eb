package config

import (
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database  *dbConfig
	Service   *svcConfig
	Inference *inferenceConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"sqlite"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"data/conceptscan.db"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address        string `envconfig:"CONCEPTSCAN_ADDRESS" default:":8080"`
	MetricsAddress string `envconfig:"CONCEPTSCAN_METRICS_ADDRESS" default:":8081"`
	BaseUrl        string `envconfig:"CONCEPTSCAN_BASE_URL" default:"http://localhost:8080"`
	LogLevel       string `envconfig:"CONCEPTSCAN_LOG_LEVEL" default:"info"`
	OutputDir      string `envconfig:"CONCEPTSCAN_OUTPUT_DIR" default:"output"`
	MasksDir       string `envconfig:"CONCEPTSCAN_MASKS_DIR" default:""`
}

type inferenceConfig struct {
	WeightsDir        string `envconfig:"SAM3_WEIGHTS_DIR" default:""`
	CheckpointPath    string `envconfig:"SAM3_CHECKPOINT_PATH" default:""`
	TargetLongSide    int    `envconfig:"CONCEPTSCAN_TARGET_LONG_SIDE" default:"768"`
	MaxConcurrentJobs int    `envconfig:"CONCEPTSCAN_MAX_CONCURRENT_JOBS" default:"1"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault builds a fresh config, bypassing the singleton. The prefix keeps
// the prefixed keys out of reach but envconfig still honors the unprefixed
// tag names (DB_TYPE, ...), so callers that need a fixed value must set the
// field explicitly. Used by tests.
func NewDefault() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("conceptscan_test_unset", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveMasksDir returns the root directory for mask rasters. Region mask
// references are stored relative to this directory.
func (c *Config) ResolveMasksDir() string {
	if c.Service.MasksDir != "" {
		return c.Service.MasksDir
	}
	return filepath.Join(c.Service.OutputDir, "masks")
}

// WeightsPath resolves the configured backend weights location. An explicit
// checkpoint path wins over the weights directory. Empty means unconfigured.
func (c *Config) WeightsPath() string {
	if c.Inference.CheckpointPath != "" {
		return c.Inference.CheckpointPath
	}
	return c.Inference.WeightsDir
}
