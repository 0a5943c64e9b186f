//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// binaryPath returns the path to the built CLI binary
func binaryPath(t *testing.T) string {
	t.Helper()
	// Look for the binary in common locations
	paths := []string{
		"../gtcycle",
		"./gtcycle",
		filepath.Join(os.Getenv("GOPATH"), "bin", "gtcycle"),
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs
		}
	}

	// Try to build it
	t.Log("Binary not found, building...")
	cmd := exec.Command("go", "build", "-o", "../gtcycle", "../cmd/gtcycle")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}

	abs, _ := filepath.Abs("../gtcycle")
	return abs
}

// createTestConfig writes a config pointing every path at test-owned
// directories so commands never touch the real home or town.
func createTestConfig(t *testing.T, prompt, dbPath, reportsDir, otelDir, townDir string) string {
	t.Helper()
	configPath := TempConfigPath(t)

	config := `[town]
dir = "` + townDir + `"

[workload]
prompt_file = "` + prompt + `"
expected_polecats = 3

[otel]
dir = "` + otelDir + `"
compose_project = "gastown-otel"
metrics_url = "http://localhost:8428"
logs_url = "http://localhost:9428"
grafana_url = "http://localhost:9429"
trace_port = 7428

[convoy]
timeout_seconds = 5
poll_seconds = 1

[reports]
dir = "` + reportsDir + `"

[history]
database_path = "` + dbPath + `"

[web]
host = "127.0.0.1"
port = 8430

[notifications]
desktop = false
`

	if err := os.WriteFile(configPath, []byte(config), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	return configPath
}

// TestCLI_Env tests the env command in both output forms
func TestCLI_Env(t *testing.T) {
	binary := binaryPath(t)
	prompt := WritePrompt(t, "Build the crypto pipeline.\n")
	tmp := t.TempDir()
	configPath := createTestConfig(t, prompt, TempDBPath(t),
		filepath.Join(tmp, "reports"), tmp, tmp)

	cmd := exec.Command(binary, "env", "--config", configPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("env command failed: %v\n%s", err, out)
	}

	output := string(out)
	if !strings.Contains(output, `export GT_OTEL_METRICS_URL="http://localhost:8428/opentelemetry/api/v1/push"`) {
		t.Errorf("Expected metrics export line, got: %s", output)
	}
	if !strings.Contains(output, `export CLAUDE_CODE_ENABLE_TELEMETRY="1"`) {
		t.Errorf("Expected telemetry toggle, got: %s", output)
	}

	// Plain form drops the export prefix and the quoting
	cmd = exec.Command(binary, "env", "--export=false", "--config", configPath)
	out, err = cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("env command failed: %v\n%s", err, out)
	}

	output = string(out)
	if !strings.Contains(output, "OTEL_LOGS_EXPORTER=otlp\n") {
		t.Errorf("Expected plain line, got: %s", output)
	}
	if strings.Contains(output, "export ") {
		t.Errorf("Did not expect export prefix, got: %s", output)
	}
}

// TestCLI_HistoryEmpty tests the history command against a fresh database
func TestCLI_HistoryEmpty(t *testing.T) {
	binary := binaryPath(t)
	prompt := WritePrompt(t, "Build the crypto pipeline.\n")
	tmp := t.TempDir()
	configPath := createTestConfig(t, prompt, TempDBPath(t),
		filepath.Join(tmp, "reports"), tmp, tmp)

	cmd := exec.Command(binary, "history", "--config", configPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("history command failed: %v\n%s", err, out)
	}

	output := string(out)
	for _, col := range []string{"ID", "WORKLOAD", "LANDED", "POLECATS"} {
		if !strings.Contains(output, col) {
			t.Errorf("Expected column %s in output, got: %s", col, output)
		}
	}

	// JSON form of an empty history is an empty array
	cmd = exec.Command(binary, "history", "--json", "--config", configPath)
	out, err = cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("history --json failed: %v\n%s", err, out)
	}

	if got := strings.TrimSpace(string(out)); got != "[]" {
		t.Errorf("history --json = %q, want []", got)
	}
}

// TestCLI_RunPreflightFailure tests that run refuses to start without the
// trace binary and leaves no report directory behind
func TestCLI_RunPreflightFailure(t *testing.T) {
	binary := binaryPath(t)
	prompt := WritePrompt(t, "Build the crypto pipeline.\n")
	tmp := t.TempDir()
	reportsDir := filepath.Join(tmp, "reports")
	configPath := createTestConfig(t, prompt, TempDBPath(t), reportsDir, tmp, tmp)

	cmd := exec.Command(binary, "run", "--config", configPath)
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("Expected run to fail preflight, got:\n%s", out)
	}

	output := string(out)
	if !strings.Contains(output, "preflight") {
		t.Errorf("Expected preflight error, got: %s", output)
	}
	if !strings.Contains(output, "gastown-trace binary not found") {
		t.Errorf("Expected missing trace binary report, got: %s", output)
	}

	if _, err := os.Stat(reportsDir); !os.IsNotExist(err) {
		t.Errorf("Expected no reports directory after preflight failure")
	}
}

// TestCLI_ScheduleBadCron tests cron expression validation
func TestCLI_ScheduleBadCron(t *testing.T) {
	binary := binaryPath(t)
	prompt := WritePrompt(t, "Build the crypto pipeline.\n")
	tmp := t.TempDir()
	configPath := createTestConfig(t, prompt, TempDBPath(t),
		filepath.Join(tmp, "reports"), tmp, tmp)

	cmd := exec.Command(binary, "schedule", "--cron", "not a cron", "--config", configPath)
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatal("Expected error for invalid cron expression")
	}

	if !strings.Contains(string(out), "parse schedule") {
		t.Errorf("Expected parse error, got: %s", out)
	}
}

// TestCLI_InvalidCommand tests error handling for invalid commands
func TestCLI_InvalidCommand(t *testing.T) {
	binary := binaryPath(t)

	cmd := exec.Command(binary, "invalidcommand")
	out, err := cmd.CombinedOutput()

	// Should return error
	if err == nil {
		t.Error("Expected error for invalid command")
	}

	output := string(out)

	// Should suggest valid commands or show help
	if !strings.Contains(output, "unknown command") && !strings.Contains(output, "Usage") {
		t.Errorf("Expected error message or usage info, got: %s", output)
	}
}
