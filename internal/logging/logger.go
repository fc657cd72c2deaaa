// Package logging provides the categorized logger used across the
// acquisition engine. Each subsystem logs under its own category so a
// conversation trace can be filtered down to, say, extraction decisions
// without the registry noise. Backed by zap; a nop logger is installed
// until Initialize is called, so library users who never configure
// logging pay nothing.
package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // startup, config loading
	CategoryDialogue Category = "dialogue" // state machine transitions
	CategoryExtract  Category = "extract"  // engine runs, sanitizer
	CategoryRegistry Category = "registry" // extractor resolution, cache, reload
	CategoryRefine   Category = "refine"   // pattern refinement loop
	CategoryProvider Category = "provider" // LLM/NER/address backend calls
	CategoryStore    Category = "store"    // SQLite persistence
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop().Sugar()
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize installs the given zap logger as the root for all categories.
// Pass nil to build a production logger. Safe to call more than once; the
// category cache is rebuilt on each call.
func Initialize(l *zap.Logger) error {
	if l == nil {
		var err error
		l, err = zap.NewProduction()
		if err != nil {
			return err
		}
	}
	mu.Lock()
	defer mu.Unlock()
	root = l.Sugar()
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// InitializeDevelopment installs a human-readable development logger.
func InitializeDevelopment() error {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	return Initialize(l)
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := root.Named(string(category))
	loggers[category] = l
	return l
}

// Sync flushes buffered log entries. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// Convenience functions per category, info level.

func Boot(format string, args ...interface{})     { Get(CategoryBoot).Infof(format, args...) }
func Dialogue(format string, args ...interface{}) { Get(CategoryDialogue).Infof(format, args...) }
func Extract(format string, args ...interface{})  { Get(CategoryExtract).Infof(format, args...) }
func Registry(format string, args ...interface{}) { Get(CategoryRegistry).Infof(format, args...) }
func Refine(format string, args ...interface{})   { Get(CategoryRefine).Infof(format, args...) }
func Provider(format string, args ...interface{}) { Get(CategoryProvider).Infof(format, args...) }
func Store(format string, args ...interface{})    { Get(CategoryStore).Infof(format, args...) }

// Debug variants.

func DialogueDebug(format string, args ...interface{}) { Get(CategoryDialogue).Debugf(format, args...) }
func ExtractDebug(format string, args ...interface{})  { Get(CategoryExtract).Debugf(format, args...) }
func RegistryDebug(format string, args ...interface{}) { Get(CategoryRegistry).Debugf(format, args...) }
func RefineDebug(format string, args ...interface{})   { Get(CategoryRefine).Debugf(format, args...) }
func ProviderDebug(format string, args ...interface{}) { Get(CategoryProvider).Debugf(format, args...) }
func StoreDebug(format string, args ...interface{})    { Get(CategoryStore).Debugf(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer measures an operation and logs the duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debugf("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning when the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warnf("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debugf("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
