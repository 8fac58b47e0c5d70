package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hillheadsc/racelights/internal/api"
)

const testSecret = "test-secret-for-development-only-0123456789"

// writeConfig writes content to a temp config file and points
// RACELIGHTS_CONFIG at it.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("RACELIGHTS_CONFIG", path)
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("RACELIGHTS_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidConfigValues verifies validation errors stop startup.
func TestRun_InvalidConfigValues(t *testing.T) {
	writeConfig(t, `
site:
  id: test-site
relay:
  relay_count: 8
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with relay_count 8")
	}
	if !strings.Contains(err.Error(), "relay_count") {
		t.Errorf("run() error = %v, want relay_count problem", err)
	}
}

// TestRun_BadDatabasePath verifies run fails when the database cannot be created.
func TestRun_BadDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	blocker := filepath.Join(tmpDir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatalf("failed to write blocker file: %v", err)
	}

	writeConfig(t, `
site:
  id: test-site
relay:
  port: /dev/racelights-test-missing
  auto_connect: false
database:
  path: "`+filepath.Join(blocker, "history.db")+`"
history:
  enabled: true
mqtt:
  enabled: false
api:
  enabled: false
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when the database directory cannot be created")
	}
}

// TestRun_StartupAndShutdown runs the controller without hardware or a
// broker and checks it stops cleanly when the context ends.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	writeConfig(t, `
site:
  id: test-site
relay:
  port: /dev/racelights-test-missing
  reconnect_backoff: 50ms
  auto_connect: true
sequence:
  shutdown_grace: 10ms
database:
  path: "`+dbPath+`"
history:
  enabled: true
mqtt:
  enabled: false
influxdb:
  enabled: false
api:
  enabled: false
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after the context ended")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// TestRun_MQTTUnavailable verifies an unreachable broker fails startup.
func TestRun_MQTTUnavailable(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the MQTT connect timeout")
	}
	writeConfig(t, `
site:
  id: test-site
relay:
  port: /dev/racelights-test-missing
  auto_connect: false
history:
  enabled: false
mqtt:
  enabled: true
  broker:
    host: "127.0.0.1"
    port: 19999
    client_id: "test-client"
api:
  enabled: false
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail when the broker is unreachable")
	}
	if !strings.Contains(err.Error(), "MQTT") {
		t.Errorf("run() error = %v, want MQTT connection failure", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("RACELIGHTS_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("RACELIGHTS_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// ============================================================================
// Token issuing
// ============================================================================

func TestIssueToken(t *testing.T) {
	t.Setenv("RACELIGHTS_JWT_SECRET", "")
	path := writeConfig(t, `
site:
  id: test-site
security:
  jwt:
    secret: "`+testSecret+`"
    token_lifetime: 60
`)

	var out bytes.Buffer
	if err := issueToken(&out, path, "race-officer"); err != nil {
		t.Fatalf("issueToken() error = %v", err)
	}

	subject, err := api.ParseToken(testSecret, strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if subject != "race-officer" {
		t.Errorf("subject = %q, want %q", subject, "race-officer")
	}
}

func TestIssueToken_NoSecret(t *testing.T) {
	t.Setenv("RACELIGHTS_JWT_SECRET", "")
	path := writeConfig(t, `
site:
  id: test-site
`)

	var out bytes.Buffer
	if err := issueToken(&out, path, "race-officer"); err == nil {
		t.Fatal("issueToken() should fail without a secret")
	}
	if out.Len() != 0 {
		t.Errorf("output = %q, want empty", out.String())
	}
}

// ============================================================================
// Port listing
// ============================================================================

func TestPrintPorts(t *testing.T) {
	listErr := errors.New("enumeration failed")

	tests := []struct {
		name    string
		ports   []string
		err     error
		want    string
		wantErr bool
	}{
		{"two ports", []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, nil, "/dev/ttyUSB0\n/dev/ttyUSB1\n", false},
		{"none", nil, nil, "no serial ports found\n", false},
		{"error", nil, listErr, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := printPorts(&out, func() ([]string, error) { return tt.ports, tt.err })
			if (err != nil) != tt.wantErr {
				t.Fatalf("printPorts() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, listErr) {
				t.Errorf("printPorts() error = %v, want wrapped %v", err, listErr)
			}
			if got := out.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}
