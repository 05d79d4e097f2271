package babelstorage_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	babelstorage "github.com/Sonael/Babel-Storage"
)

func TestLoadFileConfigMissingFile(t *testing.T) {
	fc, err := babelstorage.LoadFileConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, babelstorage.FileConfig{}, fc)
}

func TestLoadFileConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "babelstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
oracle_base_url: https://babel.example
oracle_timeout_seconds: 30
oracle_max_attempts: 3
concurrency: 8
disable_upload_readback: true
max_input_size_mb: 16
data_dir: /tmp/babel
minimum_free_gb: 2
dashboard_port: 9000
strict: true
`), 0o600))

	fc, err := babelstorage.LoadFileConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://babel.example", fc.OracleBaseURL)
	assert.Equal(t, 30, fc.OracleTimeoutSecs)
	assert.Equal(t, uint16(9000), fc.DashboardPort)
	assert.True(t, fc.Strict)

	cfg := fc.Apply(babelstorage.Config{})
	assert.Equal(t, "https://babel.example", cfg.OracleBaseURL)
	assert.Equal(t, 30*time.Second, cfg.OracleTimeout)
	assert.Equal(t, 3, cfg.OracleMaxAttempts)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.True(t, cfg.DisableUploadReadback)
	assert.Equal(t, int64(16<<20), cfg.MaxInputSize)
}

func TestLoadFileConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("no_such_option: 1\n"), 0o600))

	_, err := babelstorage.LoadFileConfig(path)
	assert.Error(t, err)
}

func TestApplyLeavesUnsetFieldsAlone(t *testing.T) {
	base := babelstorage.Config{
		OracleBaseURL: "https://keep.example",
		Concurrency:   2,
	}
	cfg := babelstorage.FileConfig{}.Apply(base)
	assert.Equal(t, "https://keep.example", cfg.OracleBaseURL)
	assert.Equal(t, 2, cfg.Concurrency)
}
