// Package build assembles the environment toolchain children run with.
// Children inherit the process environment; ToolEnv supplies the entries
// layered on top of it.
package build

import (
	"sort"
	"strings"

	"naclbuild/internal/config"
	"naclbuild/internal/logging"
)

// ToolEnv returns the KEY=VALUE entries to add to every toolchain child,
// sorted by key. A configured temp dir is exported as TMPDIR so the
// toolchain's own scratch files land beside the build's intermediates.
func ToolEnv(cfg config.ToolchainConfig) []string {
	var pairs []string
	if cfg.TempDir != "" {
		pairs = append(pairs, "TMPDIR="+cfg.TempDir)
	}

	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "" || strings.Contains(k, "=") {
			logging.ToolchainDebug("Skipping invalid env key %q", k)
			continue
		}
		pairs = append(pairs, k+"="+cfg.Env[k])
	}

	env := MergeEnv(nil, pairs...)
	logging.ToolchainDebug("Toolchain environment has %d extra vars", len(env))
	return env
}

// setEnvKey sets or updates an environment variable.
func setEnvKey(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = key + "=" + value
			return env
		}
	}
	return append(env, key+"="+value)
}

// MergeEnv merges additional KEY=VALUE entries into base.
// Later values override earlier ones; base is not modified.
func MergeEnv(base []string, additional ...string) []string {
	result := make([]string, len(base))
	copy(result, base)

	for _, add := range additional {
		key, value, ok := strings.Cut(add, "=")
		if !ok || key == "" {
			continue
		}
		result = setEnvKey(result, key, value)
	}
	return result
}

// Lookup returns the value of key in env. The last entry wins, as it does
// for a child process.
func Lookup(env []string, key string) (string, bool) {
	prefix := key + "="
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], prefix) {
			return env[i][len(prefix):], true
		}
	}
	return "", false
}
