package telemetry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/petasbytes/go-assistant/internal/telemetry"
)

// unsetEnv removes key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatal(err)
	}
}

func TestConfigure_EnablesWithoutEnv(t *testing.T) {
	unsetEnv(t, "AGT_OBSERVE_JSON")
	unsetEnv(t, "AGT_ARTIFACTS_DIR")
	dir := t.TempDir()
	telemetry.Configure(telemetry.Config{Enabled: true, Dir: dir})
	t.Cleanup(func() { telemetry.Configure(telemetry.Config{}) })

	if !telemetry.ObserveEnabled() {
		t.Fatal("expected observe enabled via Configure")
	}
	if got := telemetry.ArtifactsDir(); got != dir {
		t.Fatalf("ArtifactsDir = %q, want %q", got, dir)
	}

	telemetry.Emit("configured", nil)
	if _, err := os.Stat(filepath.Join(dir, "events.jsonl")); err != nil {
		t.Fatalf("expected events file: %v", err)
	}
}

func TestConfigure_EnvOverrides(t *testing.T) {
	telemetry.Configure(telemetry.Config{Enabled: true, Dir: "configured"})
	t.Cleanup(func() { telemetry.Configure(telemetry.Config{}) })

	tests := []struct {
		name    string
		observe string
		dir     string
		wantOn  bool
		wantDir string
	}{
		{"env_off_wins", "0", "", false, "configured"},
		{"env_on", "1", "", true, "configured"},
		{"dir_override", "1", "elsewhere", true, "elsewhere"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AGT_OBSERVE_JSON", tt.observe)
			t.Setenv("AGT_ARTIFACTS_DIR", tt.dir)
			if got := telemetry.ObserveEnabled(); got != tt.wantOn {
				t.Errorf("ObserveEnabled = %v, want %v", got, tt.wantOn)
			}
			if got := telemetry.ArtifactsDir(); got != tt.wantDir {
				t.Errorf("ArtifactsDir = %q, want %q", got, tt.wantDir)
			}
		})
	}
}

func TestConfigure_EmptyDirDefaults(t *testing.T) {
	unsetEnv(t, "AGT_ARTIFACTS_DIR")
	telemetry.Configure(telemetry.Config{})
	if got := telemetry.ArtifactsDir(); got != ".agent" {
		t.Fatalf("ArtifactsDir = %q, want .agent", got)
	}
}
