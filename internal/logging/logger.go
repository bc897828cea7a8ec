// Package logging provides categorized structured logging for the naclbuild tools.
// Every category is a named child of one process-wide zap logger. Until
// Initialize or SetBase is called the base logger is a no-op, so library
// packages may log unconditionally.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Process startup, flag handling
	CategoryConfig    Category = "config"    // Config file and environment loading
	CategoryToolchain Category = "toolchain" // Translate/strip orchestration
	CategoryTactile   Category = "tactile"   // Child process execution
	CategoryKeymap    Category = "keymap"    // Key mapping table generation
	CategoryExistence Category = "existence" // Existence filter generation
)

// Options configures the base logger.
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // json, console
	Verbose bool   // forces debug level
}

// Logger writes printf-style messages to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	baseMu  sync.RWMutex
	base    = zap.NewNop()
	loggers = make(map[Category]*Logger)
)

// New builds a zap logger from options without installing it.
// Output always goes to stderr; stdout belongs to generated content.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	switch strings.ToLower(opts.Format) {
	case "", "json":
	case "console", "text":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	return cfg.Build()
}

// Initialize builds the base logger and installs it.
func Initialize(opts Options) (*zap.Logger, error) {
	l, err := New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetBase(l)
	return l, nil
}

// SetBase replaces the base logger. Passing nil restores the no-op logger.
func SetBase(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	baseMu.Lock()
	defer baseMu.Unlock()
	base = l
	loggers = make(map[Category]*Logger)
}

// Base returns the current base logger.
func Base() *zap.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// Sync flushes the base logger. Errors from syncing stderr are ignored.
func Sync() {
	_ = Base().Sync()
}

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	baseMu.RLock()
	if l, ok := loggers[category]; ok {
		baseMu.RUnlock()
		return l
	}
	baseMu.RUnlock()

	baseMu.Lock()
	defer baseMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    base.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// With returns a logger for the same category carrying key-value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

// Config logs to the config category
func Config(format string, args ...interface{}) {
	Get(CategoryConfig).Info(format, args...)
}

// ConfigDebug logs debug to the config category
func ConfigDebug(format string, args ...interface{}) {
	Get(CategoryConfig).Debug(format, args...)
}

// Toolchain logs to the toolchain category
func Toolchain(format string, args ...interface{}) {
	Get(CategoryToolchain).Info(format, args...)
}

// ToolchainDebug logs debug to the toolchain category
func ToolchainDebug(format string, args ...interface{}) {
	Get(CategoryToolchain).Debug(format, args...)
}

// ToolchainError logs errors to the toolchain category
func ToolchainError(format string, args ...interface{}) {
	Get(CategoryToolchain).Error(format, args...)
}

// Tactile logs to the tactile category
func Tactile(format string, args ...interface{}) {
	Get(CategoryTactile).Info(format, args...)
}

// TactileDebug logs debug to the tactile category
func TactileDebug(format string, args ...interface{}) {
	Get(CategoryTactile).Debug(format, args...)
}

// TactileWarn logs warnings to the tactile category
func TactileWarn(format string, args ...interface{}) {
	Get(CategoryTactile).Warn(format, args...)
}

// TactileError logs errors to the tactile category
func TactileError(format string, args ...interface{}) {
	Get(CategoryTactile).Error(format, args...)
}

// Keymap logs to the keymap category
func Keymap(format string, args ...interface{}) {
	Get(CategoryKeymap).Info(format, args...)
}

// KeymapDebug logs debug to the keymap category
func KeymapDebug(format string, args ...interface{}) {
	Get(CategoryKeymap).Debug(format, args...)
}

// KeymapWarn logs warnings to the keymap category
func KeymapWarn(format string, args ...interface{}) {
	Get(CategoryKeymap).Warn(format, args...)
}

// Existence logs to the existence category
func Existence(format string, args ...interface{}) {
	Get(CategoryExistence).Info(format, args...)
}

// ExistenceDebug logs debug to the existence category
func ExistenceDebug(format string, args ...interface{}) {
	Get(CategoryExistence).Debug(format, args...)
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}
