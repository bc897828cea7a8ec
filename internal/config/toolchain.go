package config

import "path/filepath"

// ToolchainConfig locates the translate and strip binaries.
type ToolchainConfig struct {
	// Root is the toolchain installation directory. The --toolchain_root
	// flag takes precedence over this value.
	Root string `yaml:"root"`

	// TranslateBinary and StripBinary are paths relative to Root.
	TranslateBinary string `yaml:"translate_binary"`
	StripBinary     string `yaml:"strip_binary"`

	// TempDir is the parent for the intermediate directory used by Release
	// builds. Empty means os.TempDir().
	TempDir string `yaml:"temp_dir"`

	// Env holds extra variables for every toolchain child, applied over
	// the inherited process environment.
	Env map[string]string `yaml:"env,omitempty"`
}

// DefaultToolchainConfig returns the standard pnacl layout.
func DefaultToolchainConfig() ToolchainConfig {
	return ToolchainConfig{
		TranslateBinary: "bin/pnacl-translate",
		StripBinary:     "bin/pnacl-strip",
	}
}

// TranslatePath returns the translate binary under root.
func (c ToolchainConfig) TranslatePath(root string) string {
	return filepath.Join(root, c.TranslateBinary)
}

// StripPath returns the strip binary under root.
func (c ToolchainConfig) StripPath(root string) string {
	return filepath.Join(root, c.StripBinary)
}
