package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PNACL_TOOLCHAIN_ROOT", "NACLBUILD_TEMP_DIR", "NACLBUILD_LOG_LEVEL", "NACLBUILD_LOG_FORMAT"} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "bin/pnacl-translate", cfg.Toolchain.TranslateBinary)
	assert.Equal(t, "bin/pnacl-strip", cfg.Toolchain.StripBinary)
	assert.Equal(t, "unsigned short", cfg.Keymap.DefaultKeyType)
	assert.InDelta(t, 0.00001, cfg.Existence.ErrorRate, 1e-12)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "naclbuild.yaml")
	data := []byte(`
toolchain:
  root: /opt/pnacl
  strip_binary: bin/le32-nacl-strip
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/pnacl", cfg.Toolchain.Root)
	assert.Equal(t, "bin/le32-nacl-strip", cfg.Toolchain.StripBinary)
	assert.Equal(t, "bin/pnacl-translate", cfg.Toolchain.TranslateBinary, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("toolchain: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Toolchain.StripBinary = ""
	cfg.Logging.Level = "loud"
	cfg.Existence.ErrorRate = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strip_binary")
	assert.Contains(t, err.Error(), "logging.level")
	assert.Contains(t, err.Error(), "error_rate")
}

func TestToolchainPaths(t *testing.T) {
	tc := DefaultToolchainConfig()
	assert.Equal(t, filepath.Join("/tc", "bin", "pnacl-translate"), tc.TranslatePath("/tc"))
	assert.Equal(t, filepath.Join("/tc", "bin", "pnacl-strip"), tc.StripPath("/tc"))
}
