package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/journal"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
)

// writeConfig writes a config for a hub with every external service
// disabled and returns its path.
func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
site:
  id: test-site

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: warn
  format: text
  output: stdout

metrics:
  enabled: false

journal:
  enabled: true
  path: "` + filepath.Join(dir, "journal.cbor") + `"

adapters:
  virtual:
    enabled: true
    devices:
      - reference: "lamp"
        label: "Lamp"
        kind: switch
      - reference: "setpoint"
        kind: level
        settings:
          min: 5
          max: 28
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// execute runs the command tree with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "grayhub dev") {
		t.Errorf("version output = %q, want it to contain %q", out, "grayhub dev")
	}
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("run() error = %v, want database.path validation error", err)
	}
}

// TestRun_StartsAndStops runs the hub without external services until the
// context ends.
func TestRun_StartsAndStops(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	path := writeConfig(t, dbPath)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := run(ctx, path); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	db, err := database.Open(context.Background(), database.Config{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup
	status, err := db.MigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(status.Applied) == 0 || len(status.Pending) != 0 {
		t.Errorf("schema after run = %d applied, %d pending, want all applied", len(status.Applied), len(status.Pending))
	}
	var declared int
	if err := db.QueryRow("SELECT COUNT(*) FROM devices").Scan(&declared); err != nil || declared != 2 {
		t.Errorf("devices table rows = %d (err %v), want 2", declared, err)
	}
}

func TestMigrateCommands(t *testing.T) {
	path := writeConfig(t, filepath.Join(t.TempDir(), "hub.db"))

	out, err := execute(t, "--config", path, "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if !strings.Contains(out, "pending") || strings.Contains(out, "applied") {
		t.Errorf("status before up = %q, want only pending migrations", out)
	}

	out, err = execute(t, "--config", path, "migrate", "up")
	if err != nil {
		t.Fatalf("migrate up error = %v", err)
	}
	if !strings.Contains(out, "applied") || strings.Contains(out, "pending") {
		t.Errorf("status after up = %q, want only applied migrations", out)
	}
	for _, table := range []string{"devices", "device_level_history", "device_level_trends"} {
		if !strings.Contains(out, table) {
			t.Errorf("status after up = %q, want a row count for %s", out, table)
		}
	}

	out, err = execute(t, "--config", path, "migrate", "down")
	if err != nil {
		t.Fatalf("migrate down error = %v", err)
	}
	if strings.Count(out, "pending") != 1 {
		t.Errorf("status after down = %q, want exactly one pending migration", out)
	}
}

func TestJournalCommand(t *testing.T) {
	file := filepath.Join(t.TempDir(), "journal.cbor")
	j, err := journal.Open(file, journal.Options{})
	if err != nil {
		t.Fatalf("journal.Open() error = %v", err)
	}
	j.RecordDiagnostic(context.Background(), device.Diagnostic{
		At:        time.Now(),
		DeviceID:  3,
		AdapterID: "zwave",
		Reference: "node-3",
		Outcome:   device.OutcomeUnconfirmed,
		Source:    device.SourceUser,
		Value:     "On",
	})
	j.RecordDiagnostic(context.Background(), device.Diagnostic{
		At:        time.Now(),
		DeviceID:  4,
		AdapterID: "zwave",
		Reference: "node-4",
		Outcome:   device.OutcomeWrongValue,
		Source:    device.SourceHardware,
		Value:     "12",
	})
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	out, err := execute(t, "journal", "--file", file, "--outcome", "unconfirmed")
	if err != nil {
		t.Fatalf("journal error = %v", err)
	}
	if !strings.Contains(out, "node-3") || strings.Contains(out, "node-4") {
		t.Errorf("journal output = %q, want only node-3", out)
	}
	if !strings.Contains(out, "1 entries") {
		t.Errorf("journal output = %q, want %q", out, "1 entries")
	}

	out, err = execute(t, "journal", "--file", file, "--category", "update")
	if err != nil {
		t.Fatalf("journal error = %v", err)
	}
	if !strings.Contains(out, "2 entries") {
		t.Errorf("journal output = %q, want %q", out, "2 entries")
	}

	if _, err := execute(t, "journal", "--file", file, "--category", "bogus"); err == nil {
		t.Error("journal --category bogus should fail")
	}
}

func TestSinkErrorHandler(t *testing.T) {
	file := filepath.Join(t.TempDir(), "journal.cbor")
	j, err := journal.Open(file, journal.Options{})
	if err != nil {
		t.Fatalf("journal.Open() error = %v", err)
	}
	var logs bytes.Buffer
	log := logging.NewWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, "test", &logs)

	writeErr := fmt.Errorf("%w: bucket metrics: 503 service unavailable", influxdb.ErrWriteFailed)
	sinkErrorHandler("influxdb", log, j)(writeErr)
	// Without a journal the failure is only logged.
	sinkErrorHandler("influxdb", log, nil)(writeErr)
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := strings.Count(logs.String(), "telemetry write failed"); got != 2 {
		t.Errorf("log lines = %d, want 2:\n%s", got, logs.String())
	}
	out, err := execute(t, "journal", "--file", file, "--category", "sink")
	if err != nil {
		t.Fatalf("journal error = %v", err)
	}
	if !strings.Contains(out, "sink influxdb") || !strings.Contains(out, "503 service unavailable") {
		t.Errorf("journal output = %q, want the influxdb write failure", out)
	}
	if !strings.Contains(out, "1 entries") {
		t.Errorf("journal output = %q, want %q", out, "1 entries")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("GRAYLOGIC_CONFIG", "/etc/grayhub/config.yaml")
	if got := getConfigPath(); got != "/etc/grayhub/config.yaml" {
		t.Errorf("getConfigPath() = %q, want %q", got, "/etc/grayhub/config.yaml")
	}
}
