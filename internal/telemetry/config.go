package telemetry

import (
	"os"
	"sync"
)

const defaultDir = ".agent"

// Config controls event emission. The zero value disables it.
type Config struct {
	Enabled bool
	// Dir receives events.jsonl; empty means ".agent".
	Dir string
}

var (
	cfgMu   sync.RWMutex
	current = Config{Enabled: os.Getenv("AGT_OBSERVE_JSON") == "1", Dir: defaultDir}
)

// Configure replaces the emission settings, typically once at startup from
// the loaded application config.
func Configure(c Config) {
	if c.Dir == "" {
		c.Dir = defaultDir
	}
	cfgMu.Lock()
	current = c
	cfgMu.Unlock()
}

// ObserveEnabled reports whether JSONL emission is on. An explicit
// AGT_OBSERVE_JSON in the environment wins over Configure.
func ObserveEnabled() bool {
	if v, ok := os.LookupEnv("AGT_OBSERVE_JSON"); ok {
		return v == "1"
	}
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return current.Enabled
}

// ArtifactsDir returns the directory events are written to. AGT_ARTIFACTS_DIR
// overrides the configured value.
func ArtifactsDir() string {
	if v := os.Getenv("AGT_ARTIFACTS_DIR"); v != "" {
		return v
	}
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return current.Dir
}
