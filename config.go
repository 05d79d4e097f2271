package babelstorage

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// FileConfig is the optional on-disk configuration
// (babelstore.yaml). Everything is optional; zero values defer to the
// built-in defaults.
type FileConfig struct {
	OracleBaseURL     string `yaml:"oracle_base_url"`
	OracleTimeoutSecs int    `yaml:"oracle_timeout_seconds"`
	OracleMaxAttempts int    `yaml:"oracle_max_attempts"`
	Concurrency       int    `yaml:"concurrency"`
	DisableReadback   bool   `yaml:"disable_upload_readback"`
	MaxInputSizeMB    int    `yaml:"max_input_size_mb"`
	DataDir           string `yaml:"data_dir"`
	MinimumFreeGB     uint   `yaml:"minimum_free_gb"`
	DashboardPort     uint16 `yaml:"dashboard_port"`
	Strict            bool   `yaml:"strict"`
}

// LoadFileConfig reads a YAML config file. A missing file is not an
// error; it yields the zero config.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("babelstorage: read config %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(raw, &fc); err != nil {
		return fc, fmt.Errorf("babelstorage: parse config %s: %w", path, err)
	}
	return fc, nil
}

// Apply folds the file configuration into a Config, leaving fields the
// file does not set untouched.
func (fc FileConfig) Apply(cfg Config) Config {
	if fc.OracleBaseURL != "" {
		cfg.OracleBaseURL = fc.OracleBaseURL
	}
	if fc.OracleTimeoutSecs > 0 {
		cfg.OracleTimeout = time.Duration(fc.OracleTimeoutSecs) * time.Second
	}
	if fc.OracleMaxAttempts > 0 {
		cfg.OracleMaxAttempts = fc.OracleMaxAttempts
	}
	if fc.Concurrency > 0 {
		cfg.Concurrency = fc.Concurrency
	}
	if fc.DisableReadback {
		cfg.DisableUploadReadback = true
	}
	if fc.MaxInputSizeMB > 0 {
		cfg.MaxInputSize = int64(fc.MaxInputSizeMB) << 20
	}
	return cfg
}
