package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"pkt.systems/pslog"
	"pkt.systems/sessiond"
	"pkt.systems/sessiond/internal/version"
)

func executeRootCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	viper.Reset()
	cmd := newRootCommand(pslog.NoopLogger())
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommandPrintsCurrentVersion(t *testing.T) {
	stdout, stderr, err := executeRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if stderr != "" {
		t.Fatalf("expected empty stderr, got %q", stderr)
	}
	want := version.Module() + " " + version.Current() + "\n"
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
}

func TestConfigGenPrintsYAML(t *testing.T) {
	stdout, _, err := executeRootCommand(t, "config", "gen", "--stdout")
	if err != nil {
		t.Fatalf("config gen failed: %v", err)
	}
	if !strings.Contains(stdout, "nodes:") {
		t.Fatalf("config output missing nodes entry:\n%s", stdout)
	}
	if !strings.Contains(stdout, "backup-mode: sync") {
		t.Fatalf("config output missing backup mode:\n%s", stdout)
	}
	if !strings.Contains(stdout, "backup-timeout: 100ms") {
		t.Fatalf("config output missing duration string:\n%s", stdout)
	}
}

// loadBoundConfig reads path through the same viper plumbing the root
// command uses and returns the resulting Config.
func loadBoundConfig(t *testing.T, path string) sessiond.Config {
	t.Helper()
	viper.Reset()
	_ = newRootCommand(pslog.NoopLogger())
	t.Setenv("SESSIOND_CONFIG", path)
	if _, err := loadConfigFile(); err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	return bindConfig()
}

func TestGeneratedConfigFileRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, _, err := executeRootCommand(t, "config", "gen", "--out", path); err != nil {
		t.Fatalf("config gen: %v", err)
	}

	cfg := loadBoundConfig(t, path)
	want := sessiond.DefaultConfig()
	want.Nodes = "n1:10.0.0.1:6379 n2:10.0.0.2:6379"
	if cfg != want {
		t.Fatalf("bound config = %+v, want %+v", cfg, want)
	}
}

func TestConfigFileOverridesBindToConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := strings.Join([]string{
		"nodes: \"n1:10.0.0.1:6379 n2:10.0.0.2:6379\"",
		"failover-nodes: n2",
		"store-backend: memory",
		"backup-mode: async",
		"backup-timeout: 250ms",
		"backup-workers: 8",
		"metrics-listen: 127.0.0.1:9200",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg := loadBoundConfig(t, path)
	if cfg.FailoverNodes != "n2" {
		t.Fatalf("failover nodes = %q, want n2", cfg.FailoverNodes)
	}
	if cfg.StoreBackend != sessiond.StoreBackendMemory {
		t.Fatalf("store backend = %q, want memory", cfg.StoreBackend)
	}
	if cfg.BackupMode != "async" {
		t.Fatalf("backup mode = %q, want async", cfg.BackupMode)
	}
	if cfg.BackupTimeout != 250*time.Millisecond {
		t.Fatalf("backup timeout = %v, want 250ms", cfg.BackupTimeout)
	}
	if cfg.BackupWorkers != 8 {
		t.Fatalf("backup workers = %d, want 8", cfg.BackupWorkers)
	}
	if cfg.MetricsListen != "127.0.0.1:9200" {
		t.Fatalf("metrics listen = %q", cfg.MetricsListen)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestRootCommandRejectsEmptyNodeList(t *testing.T) {
	t.Setenv("SESSIOND_NODES", "")
	t.Setenv("SESSIOND_NODES_FILE", "")

	_, _, err := executeRootCommand(t)
	if err == nil {
		t.Fatal("expected error without a node list")
	}
	if !strings.Contains(err.Error(), "no nodes configured") {
		t.Fatalf("unexpected error: %v", err)
	}
}
